package pipeline

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/schema"
)

// ExtractRelations asks the model which typed relations hold between claim
// pairs. Candidate pairs are pruned by milestone co-occurrence or temporal
// proximity, never the full N². Only relations at or above the strength
// floor survive, deduplicated on (source, target, type).
func ExtractRelations(ctx context.Context, env *Env, kept []*Cluster, milestones []MilestoneCand) ([]RelationCand, int, error) {
	pairs := candidatePairs(kept, milestones, env.Cfg.RelationMaxGap)
	if len(pairs) == 0 {
		return nil, 0, nil
	}

	batch := env.Cfg.RelationBatch
	if batch < 1 {
		batch = 1
	}
	var ranges [][2]int
	for start := 0; start < len(pairs); start += batch {
		end := start + batch
		if end > len(pairs) {
			end = len(pairs)
		}
		ranges = append(ranges, [2]int{start, end})
	}

	// Batches fan out up to the eval pool size; results merge in batch
	// order so the triple dedupe stays deterministic.
	results := make([][]RelationCand, len(ranges))
	errs := make([]error, len(ranges))
	var g errgroup.Group
	g.SetLimit(env.EvalLimit())
	for bi, r := range ranges {
		bi, r := bi, r
		g.Go(func() error {
			results[bi], errs[bi] = relationBatch(ctx, env, kept, pairs[r[0]:r[1]])
			env.heartbeat()
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return nil, 0, ctx.Err()
	}

	skipped := 0
	seen := map[[3]string]bool{}
	var out []RelationCand
	for bi, rels := range results {
		if errs[bi] != nil {
			skipped++
			env.Log.Warn("relation batch skipped", "from", ranges[bi][0], "error", errs[bi])
			continue
		}
		for _, r := range rels {
			if r.Strength < env.Cfg.RelationMinStrength {
				continue
			}
			key := [3]string{r.SourceCluster, r.TargetCluster, r.RelType}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, r)
		}
	}
	return out, skipped, nil
}

func relationBatch(ctx context.Context, env *Env, kept []*Cluster, pairs [][2]int) ([]RelationCand, error) {
	resp, err := env.Invoker.Invoke(ctx, llm.Request{
		Pool:      llm.PoolEval,
		Stage:     "relations",
		Model:     env.Cfg.RelationModel,
		System:    relationSystem,
		Prompt:    relationPrompt(kept, pairs),
		Schema:    &llm.SchemaSpec{Name: schema.RelationOutput, Example: relationOut{}},
		JobID:     env.JobID,
		EpisodeID: env.EpisodeID,
		Validate:  validateHook(schema.RelationOutput, env),
	})
	if err != nil {
		return nil, err
	}
	payload, _, err := schema.Process(schema.RelationOutput, resp.Text, env.Log)
	if err != nil {
		return nil, err
	}
	typed, err := decodeInto[relationOut](payload)
	if err != nil {
		return nil, err
	}
	var out []RelationCand
	for _, r := range typed.Relations {
		if r.SourceIdx < 0 || r.SourceIdx >= len(kept) ||
			r.TargetIdx < 0 || r.TargetIdx >= len(kept) ||
			r.SourceIdx == r.TargetIdx {
			continue
		}
		if !domain.ValidRelationType(r.RelType) {
			continue
		}
		out = append(out, RelationCand{
			SourceCluster: kept[r.SourceIdx].ClusterID,
			TargetCluster: kept[r.TargetIdx].ClusterID,
			RelType:       r.RelType,
			Strength:      clamp01(r.Strength),
			Rationale:     r.Rationale,
		})
	}
	return out, nil
}

// candidatePairs keeps (i, j) when both claims fall inside the same
// milestone or their first mentions are temporally close.
func candidatePairs(kept []*Cluster, milestones []MilestoneCand, maxGap float64) [][2]int {
	var out [][2]int
	for i := 0; i < len(kept); i++ {
		for j := i + 1; j < len(kept); j++ {
			if math.Abs(kept[i].FirstMentionT0-kept[j].FirstMentionT0) <= maxGap ||
				sharedMilestone(kept[i], kept[j], milestones) {
				out = append(out, [2]int{i, j})
			}
		}
	}
	return out
}

func sharedMilestone(a, b *Cluster, milestones []MilestoneCand) bool {
	for _, m := range milestones {
		if within(a.FirstMentionT0, m) && within(b.FirstMentionT0, m) {
			return true
		}
	}
	return false
}

func within(t float64, m MilestoneCand) bool { return t >= m.T0 && t <= m.T1 }
