package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/schema"
)

// Rerank scores every cluster's salience and applies the adaptive keep
// policy: no fixed top-K, the cutoff comes from this episode's own score
// distribution. Clusters within the borderline band of the cutoff are
// flagged for the judge. Returns the cutoff and the number of skipped
// batches.
func Rerank(ctx context.Context, env *Env, clusters []Cluster) (float64, int, error) {
	if len(clusters) == 0 {
		return 0, 0, nil
	}
	ptrs := make([]*Cluster, len(clusters))
	for i := range clusters {
		ptrs[i] = &clusters[i]
	}

	batch := env.Cfg.RerankBatch
	if batch < 1 {
		batch = 1
	}
	var ranges [][2]int
	for start := 0; start < len(ptrs); start += batch {
		end := start + batch
		if end > len(ptrs) {
			end = len(ptrs)
		}
		ranges = append(ranges, [2]int{start, end})
	}

	// Batches fan out up to the eval pool size. Each batch writes only its
	// own cluster slice, so completion order never changes the result.
	errs := make([]error, len(ranges))
	var g errgroup.Group
	g.SetLimit(env.EvalLimit())
	for bi, r := range ranges {
		bi, r := bi, r
		g.Go(func() error {
			errs[bi] = rerankBatch(ctx, env, ptrs[r[0]:r[1]])
			env.heartbeat()
			return nil
		})
	}
	_ = g.Wait()
	if ctx.Err() != nil {
		return 0, 0, ctx.Err()
	}

	skipped := 0
	scoredAny := false
	for bi, err := range errs {
		if err != nil {
			skipped++
			env.Log.Warn("rerank batch skipped", "from", ranges[bi][0], "error", err)
			continue
		}
		scoredAny = true
	}
	if !scoredAny {
		return 0, skipped, fmt.Errorf("%w: rerank scored nothing", apperr.ErrFatal)
	}

	scores := make([]float64, 0, len(ptrs))
	for _, c := range ptrs {
		scores = append(scores, c.RerankScore)
	}
	cutoff := AdaptiveCutoff(scores, env.Cfg.KeepPercentile)
	band := env.Cfg.BorderlineBand
	for _, c := range ptrs {
		c.Borderline = math.Abs(c.RerankScore-cutoff) <= band
		// Borderline misses stay in play; the judge gets the final word.
		c.Kept = c.RerankScore >= cutoff || c.Borderline
	}
	return cutoff, skipped, nil
}

func rerankBatch(ctx context.Context, env *Env, batch []*Cluster) error {
	resp, err := env.Invoker.Invoke(ctx, llm.Request{
		Pool:      llm.PoolEval,
		Stage:     "rerank",
		Model:     env.Cfg.RerankModel,
		System:    rerankSystem,
		Prompt:    rerankPrompt(batch),
		Schema:    &llm.SchemaSpec{Name: schema.RerankOutput, Example: rerankOut{}},
		JobID:     env.JobID,
		EpisodeID: env.EpisodeID,
		Validate:  validateHook(schema.RerankOutput, env),
	})
	if err != nil {
		return err
	}
	payload, _, err := schema.Process(schema.RerankOutput, resp.Text, env.Log)
	if err != nil {
		return err
	}
	typed, err := decodeInto[rerankOut](payload)
	if err != nil {
		return err
	}
	for _, s := range typed.Scores {
		if s.Idx < 0 || s.Idx >= len(batch) {
			continue
		}
		batch[s.Idx].RerankScore = clamp01(s.Score)
	}
	return nil
}

// AdaptiveCutoff is max(percentile of the distribution, largest-gap elbow).
// Sparse episodes keep proportionally more, dense ones fewer.
func AdaptiveCutoff(scores []float64, percentile float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	idx := int(percentile * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	pcut := sorted[idx]

	// Elbow: midpoint of the largest gap between consecutive scores.
	ecut := 0.0
	maxGap := 0.0
	for i := 1; i < len(sorted); i++ {
		if gap := sorted[i] - sorted[i-1]; gap > maxGap {
			maxGap = gap
			ecut = (sorted[i] + sorted[i-1]) / 2
		}
	}
	if ecut > pcut {
		return ecut
	}
	return pcut
}
