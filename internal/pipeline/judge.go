package pipeline

import (
	"context"

	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/schema"
)

// JudgeClusters finalizes kept claims. Routing controls flagship cost: only
// borderline claims get the expensive call; unambiguous ones take a
// heuristic judgement derived from their rerank score. A failed judge call
// degrades to the heuristic and counts as a skipped unit.
func JudgeClusters(ctx context.Context, env *Env, clusters []Cluster) (int, error) {
	skipped := 0
	for i := range clusters {
		c := &clusters[i]
		if !c.Kept {
			continue
		}
		if !c.Borderline {
			c.Judgement = heuristicJudgement(c, env.Cfg.HighBar)
			continue
		}
		j, keep, err := judgeOne(ctx, env, c)
		if err != nil {
			if ctx.Err() != nil {
				return skipped, err
			}
			skipped++
			env.Log.Warn("judge call skipped", "cluster", c.ClusterID, "error", err)
			c.Judgement = heuristicJudgement(c, env.Cfg.HighBar)
			env.heartbeat()
			continue
		}
		if !keep {
			// Explicit reject: the borderline claim leaves the kept set.
			c.Kept = false
			c.Judgement = nil
			env.heartbeat()
			continue
		}
		c.Judgement = j
		env.heartbeat()
	}
	return skipped, nil
}

func judgeOne(ctx context.Context, env *Env, c *Cluster) (*Judgement, bool, error) {
	resp, err := env.Invoker.Invoke(ctx, llm.Request{
		Pool:      llm.PoolEval,
		Stage:     "judge",
		Model:     env.Cfg.JudgeModel,
		System:    judgeSystem,
		Prompt:    judgePrompt(c),
		Schema:    &llm.SchemaSpec{Name: schema.JudgeOutput, Example: judgeOut{}},
		JobID:     env.JobID,
		EpisodeID: env.EpisodeID,
		Validate:  validateHook(schema.JudgeOutput, env),
	})
	if err != nil {
		return nil, false, err
	}
	payload, _, err := schema.Process(schema.JudgeOutput, resp.Text, env.Log)
	if err != nil {
		return nil, false, err
	}
	typed, err := decodeInto[judgeOut](payload)
	if err != nil {
		return nil, false, err
	}
	if !typed.Keep {
		return nil, false, nil
	}
	return &Judgement{
		Tier:                  typed.Tier,
		Importance:            clamp01(typed.Importance),
		Novelty:               clamp01(typed.Novelty),
		Controversy:           clamp01(typed.Controversy),
		Temporality:           typed.Temporality,
		TemporalityConfidence: clamp01(typed.TemporalityConfidence),
		TemporalityRationale:  typed.TemporalityRationale,
	}, true, nil
}

// heuristicJudgement stands in when routing skips the flagship call. The low
// temporality confidence marks it as unevaluated rather than neutral.
func heuristicJudgement(c *Cluster, highBar float64) *Judgement {
	tier := "B"
	if c.RerankScore >= highBar {
		tier = "A"
	}
	return &Judgement{
		Tier:                  tier,
		Importance:            c.RerankScore,
		Novelty:               0.5,
		Controversy:           0,
		Temporality:           3,
		TemporalityConfidence: 0.2,
		TemporalityRationale:  "routed past flagship evaluation on rerank score",
		Heuristic:             true,
	}
}
