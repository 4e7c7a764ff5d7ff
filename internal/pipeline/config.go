package pipeline

import (
	"github.com/podsight/backend/internal/pkg/envutil"
)

// Config carries the stage models and tuning knobs. Thresholds are
// deliberately configurable rather than constants; the defaults here are
// starting points, not tuned truths.
type Config struct {
	SkimModel     string
	MinerModel    string
	RerankModel   string
	JudgeModel    string
	RelationModel string
	EntityModel   string
	EmbedModel    string

	// Skimmer/miner windowing, in segments.
	SkimWindow int
	MineWindow int

	// Dedup: cosine similarity above SimThreshold clusters outright; within
	// SimMargin below it, token overlap >= OverlapTieBreak decides.
	SimThreshold    float64
	SimMargin       float64
	OverlapTieBreak float64

	// Rerank keep policy: cutoff = max(score percentile, largest-gap elbow).
	// Claims within BorderlineBand of the cutoff route to the judge.
	KeepPercentile float64
	BorderlineBand float64

	// Judge routing: kept claims scoring at or above HighBar skip the
	// flagship call and take tier A heuristically.
	HighBar float64

	// Relation pruning and floor.
	RelationMaxGap      float64 // seconds between first mentions
	RelationMinStrength float64
	RelationBatch       int

	RerankBatch int
}

func DefaultConfig() Config {
	return Config{
		SkimModel:     envutil.String("PODSIGHT_SKIM_MODEL", "openai/gpt-4o-mini"),
		MinerModel:    envutil.String("PODSIGHT_MINER_MODEL", "openai/gpt-4o-mini"),
		RerankModel:   envutil.String("PODSIGHT_RERANK_MODEL", "openai/gpt-4o-mini"),
		JudgeModel:    envutil.String("PODSIGHT_JUDGE_MODEL", "openai/gpt-4o"),
		RelationModel: envutil.String("PODSIGHT_RELATION_MODEL", "openai/gpt-4o-mini"),
		EntityModel:   envutil.String("PODSIGHT_ENTITY_MODEL", "openai/gpt-4o-mini"),
		EmbedModel:    envutil.String("PODSIGHT_EMBED_MODEL", "text-embedding-3-small"),

		SkimWindow: envutil.Int("PODSIGHT_SKIM_WINDOW", 40),
		MineWindow: envutil.Int("PODSIGHT_MINE_WINDOW", 4),

		SimThreshold:    envutil.Float("PODSIGHT_SIM_THRESHOLD", 0.86),
		SimMargin:       envutil.Float("PODSIGHT_SIM_MARGIN", 0.05),
		OverlapTieBreak: envutil.Float("PODSIGHT_OVERLAP_TIEBREAK", 0.6),

		KeepPercentile: envutil.Float("PODSIGHT_KEEP_PERCENTILE", 0.35),
		BorderlineBand: envutil.Float("PODSIGHT_BORDERLINE_BAND", 0.08),
		HighBar:        envutil.Float("PODSIGHT_JUDGE_HIGH_BAR", 0.85),

		RelationMaxGap:      envutil.Float("PODSIGHT_RELATION_MAX_GAP", 600),
		RelationMinStrength: envutil.Float("PODSIGHT_RELATION_MIN_STRENGTH", 0.4),
		RelationBatch:       envutil.Int("PODSIGHT_RELATION_BATCH", 12),

		RerankBatch: envutil.Int("PODSIGHT_RERANK_BATCH", 20),
	}
}
