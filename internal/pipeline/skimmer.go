package pipeline

import (
	"context"
	"fmt"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/schema"
)

// Skim makes one cheap pass over the transcript in coarse windows and emits
// chapter milestones. A failed window is skipped; the stage is fatal only
// when every window fails.
func Skim(ctx context.Context, env *Env, segments []*domain.Segment) ([]MilestoneCand, int, error) {
	windows := Windows(segments, env.Cfg.SkimWindow)
	var out []MilestoneCand
	skipped := 0
	for _, win := range windows {
		ms, err := skimWindow(ctx, env, win)
		if err != nil {
			if ctx.Err() != nil {
				return nil, skipped, err
			}
			skipped++
			env.Log.Warn("skim window skipped", "from", win[0].Idx, "error", err)
			continue
		}
		out = append(out, ms...)
	}
	if len(windows) > 0 && len(out) == 0 {
		return nil, skipped, fmt.Errorf("%w: skim produced no milestones", apperr.ErrFatal)
	}
	for i := range out {
		out[i].Idx = i
	}
	return out, skipped, nil
}

func skimWindow(ctx context.Context, env *Env, win []*domain.Segment) ([]MilestoneCand, error) {
	resp, err := env.Invoker.Invoke(ctx, llm.Request{
		Pool:      llm.PoolMining,
		Stage:     "skim",
		Model:     env.Cfg.SkimModel,
		System:    skimSystem,
		Prompt:    skimPrompt(win),
		Schema:    &llm.SchemaSpec{Name: schema.SkimOutput, Example: skimOut{}},
		JobID:     env.JobID,
		EpisodeID: env.EpisodeID,
		Validate:  validateHook(schema.SkimOutput, env),
	})
	if err != nil {
		return nil, err
	}
	payload, _, err := schema.Process(schema.SkimOutput, resp.Text, env.Log)
	if err != nil {
		return nil, err
	}
	typed, err := decodeInto[skimOut](payload)
	if err != nil {
		return nil, err
	}
	var out []MilestoneCand
	for _, m := range typed.Milestones {
		if m.Title == "" || m.T1 < m.T0 {
			continue
		}
		from, to := segmentRange(win, m.T0, m.T1)
		out = append(out, MilestoneCand{
			Title:       m.Title,
			T0:          m.T0,
			T1:          m.T1,
			SegmentFrom: from,
			SegmentTo:   to,
		})
	}
	return out, nil
}

// segmentRange maps a time span back onto segment indexes.
func segmentRange(segments []*domain.Segment, t0, t1 float64) (int, int) {
	from, to := -1, -1
	for _, s := range segments {
		if s.T1 < t0 || s.T0 > t1 {
			continue
		}
		if from == -1 {
			from = s.Idx
		}
		to = s.Idx
	}
	if from == -1 && len(segments) > 0 {
		from, to = segments[0].Idx, segments[0].Idx
	}
	return from, to
}

// Windows splits segments into consecutive windows of at most size.
func Windows(segments []*domain.Segment, size int) [][]*domain.Segment {
	if size < 1 {
		size = 1
	}
	var out [][]*domain.Segment
	for i := 0; i < len(segments); i += size {
		end := i + size
		if end > len(segments) {
			end = len(segments)
		}
		out = append(out, segments[i:end])
	}
	return out
}

// validateHook labels the raw response for the call audit row.
func validateHook(name string, env *Env) func(string) string {
	return func(raw string) string {
		_, outcome, _ := schema.Process(name, raw, env.Log)
		return string(outcome)
	}
}
