package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ClaimType string

const (
	ClaimFactual    ClaimType = "factual"
	ClaimCausal     ClaimType = "causal"
	ClaimNormative  ClaimType = "normative"
	ClaimForecast   ClaimType = "forecast"
	ClaimDefinition ClaimType = "definition"
)

func ValidClaimType(t string) bool {
	switch ClaimType(t) {
	case ClaimFactual, ClaimCausal, ClaimNormative, ClaimForecast, ClaimDefinition:
		return true
	}
	return false
}

type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// ClaimScores is the importance/novelty/controversy triple, each in [0,1].
type ClaimScores struct {
	Importance  float64 `json:"importance"`
	Novelty     float64 `json:"novelty"`
	Controversy float64 `json:"controversy"`
}

// CategoryRef ties a claim to a topic category with per-category relevance.
type CategoryRef struct {
	Slug      string  `json:"slug"`
	Relevance float64 `json:"relevance"`
}

// Claim is a deduplicated canonical assertion. Exactly one row per cluster id
// per episode. Tier and scores are written by the judge stage and never
// mutated afterward except by explicit re-evaluation jobs.
type Claim struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID uuid.UUID `gorm:"type:uuid;not null;index:idx_claim_episode_cluster,unique,priority:1" json:"episode_id"`
	ClusterID string    `gorm:"column:cluster_id;not null;index:idx_claim_episode_cluster,unique,priority:2" json:"cluster_id"`

	Text           string    `gorm:"column:text;type:text;not null" json:"text"`
	ClaimType      ClaimType `gorm:"column:claim_type;not null;index" json:"claim_type"`
	Tier           Tier      `gorm:"column:tier;index" json:"tier,omitempty"`
	FirstMentionT0 float64   `gorm:"column:first_mention_t0;not null" json:"first_mention_t0"`

	RerankScore float64        `gorm:"column:rerank_score" json:"rerank_score"`
	Scores      datatypes.JSON `gorm:"column:scores;type:jsonb" json:"scores,omitempty"`

	Temporality           int            `gorm:"column:temporality" json:"temporality,omitempty"`
	TemporalityConfidence float64        `gorm:"column:temporality_confidence" json:"temporality_confidence,omitempty"`
	TemporalityRationale  string         `gorm:"column:temporality_rationale;type:text" json:"temporality_rationale,omitempty"`
	Categories            datatypes.JSON `gorm:"column:categories;type:jsonb" json:"categories,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Claim) TableName() string { return "claim" }

type ContextKind string

const (
	ContextExtended ContextKind = "extended"
	ContextSegment  ContextKind = "segment"
)

// EvidenceSpan links a claim to source text at two granularities: an exact
// quote with tight timestamps and a wider context window with its own.
// Seq is dense per claim (0..n-1), ordered by QuoteT0.
type EvidenceSpan struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ClaimID uuid.UUID `gorm:"type:uuid;not null;index:idx_evidence_claim_seq,unique,priority:1" json:"claim_id"`
	Seq     int       `gorm:"column:seq;not null;index:idx_evidence_claim_seq,unique,priority:2" json:"seq"`

	Quote   string  `gorm:"column:quote;type:text;not null" json:"quote"`
	QuoteT0 float64 `gorm:"column:quote_t0;not null" json:"quote_t0"`
	QuoteT1 float64 `gorm:"column:quote_t1;not null" json:"quote_t1"`

	Context     string      `gorm:"column:context;type:text" json:"context"`
	ContextT0   float64     `gorm:"column:context_t0" json:"context_t0"`
	ContextT1   float64     `gorm:"column:context_t1" json:"context_t1"`
	ContextKind ContextKind `gorm:"column:context_kind;not null;default:extended" json:"context_kind"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (EvidenceSpan) TableName() string { return "evidence_span" }

type RelationType string

const (
	RelSupports    RelationType = "supports"
	RelContradicts RelationType = "contradicts"
	RelDependsOn   RelationType = "depends_on"
	RelRefines     RelationType = "refines"
)

func ValidRelationType(t string) bool {
	switch RelationType(t) {
	case RelSupports, RelContradicts, RelDependsOn, RelRefines:
		return true
	}
	return false
}

// Relation is a directed typed edge between two claims of the same episode.
// (source, target, rel_type) is unique.
type Relation struct {
	ID            uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID     uuid.UUID    `gorm:"type:uuid;not null;index" json:"episode_id"`
	SourceClaimID uuid.UUID    `gorm:"type:uuid;not null;index:idx_relation_edge,unique,priority:1" json:"source_claim_id"`
	TargetClaimID uuid.UUID    `gorm:"type:uuid;not null;index:idx_relation_edge,unique,priority:2" json:"target_claim_id"`
	RelType       RelationType `gorm:"column:rel_type;not null;index:idx_relation_edge,unique,priority:3" json:"rel_type"`
	Strength      float64      `gorm:"column:strength;not null" json:"strength"`
	Rationale     string       `gorm:"column:rationale;type:text" json:"rationale"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Relation) TableName() string { return "relation" }
