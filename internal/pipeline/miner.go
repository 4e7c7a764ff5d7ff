package pipeline

import (
	"context"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/schema"
)

// MineResult is one window's worth of raw candidates.
type MineResult struct {
	Candidates []Candidate
	People     []PersonMention
	Concepts   []TermMention
	Jargon     []TermMention
}

// MineWindow extracts candidate claims and entity mentions from one segment
// window. The caller isolates failures per window and checkpoints completed
// windows, so a crash mid-stage never re-mines finished work.
func MineWindow(ctx context.Context, env *Env, win []*domain.Segment) (MineResult, error) {
	var res MineResult
	resp, err := env.Invoker.Invoke(ctx, llm.Request{
		Pool:      llm.PoolMining,
		Stage:     "mine",
		Model:     env.Cfg.MinerModel,
		System:    minerSystem,
		Prompt:    minePrompt(win),
		Schema:    &llm.SchemaSpec{Name: schema.MinerOutput, Example: minerOut{}},
		JobID:     env.JobID,
		EpisodeID: env.EpisodeID,
		Validate:  validateHook(schema.MinerOutput, env),
	})
	if err != nil {
		return res, err
	}
	payload, _, err := schema.Process(schema.MinerOutput, resp.Text, env.Log)
	if err != nil {
		return res, err
	}
	typed, err := decodeInto[minerOut](payload)
	if err != nil {
		return res, err
	}

	segIdx := win[0].Idx
	for _, c := range typed.Claims {
		if c.Text == "" {
			continue
		}
		cand := Candidate{Text: c.Text, ClaimType: c.ClaimType, SegmentIdx: segIdx}
		for _, ev := range c.Evidence {
			if sp, ok := toSpan(ev, win); ok {
				cand.Evidence = append(cand.Evidence, sp)
			}
		}
		if len(cand.Evidence) == 0 {
			// A claim without grounding is noise, not data.
			continue
		}
		res.Candidates = append(res.Candidates, cand)
	}
	for _, p := range typed.People {
		if p.Surface != "" {
			res.People = append(res.People, PersonMention{Surface: p.Surface, EntityType: p.EntityType})
		}
	}
	for _, c := range typed.Concepts {
		if c.Surface != "" {
			res.Concepts = append(res.Concepts, toTerm(c.Surface, c.Aliases, c.Evidence, win))
		}
	}
	for _, j := range typed.Jargon {
		if j.Surface != "" {
			res.Jargon = append(res.Jargon, toTerm(j.Surface, j.Aliases, j.Evidence, win))
		}
	}
	return res, nil
}

func toTerm(surface string, aliases []string, evidence []spanOut, win []*domain.Segment) TermMention {
	t := TermMention{Surface: surface, Aliases: aliases}
	for _, ev := range evidence {
		if sp, ok := toSpan(ev, win); ok {
			t.Evidence = append(t.Evidence, sp)
		}
	}
	return t
}

// toSpan sanity-checks model timestamps against the window and fills in the
// segment context where the model returned none.
func toSpan(ev spanOut, win []*domain.Segment) (Span, bool) {
	if ev.Quote == "" || ev.QuoteT1 < ev.QuoteT0 {
		return Span{}, false
	}
	sp := Span{
		Quote:       ev.Quote,
		QuoteT0:     ev.QuoteT0,
		QuoteT1:     ev.QuoteT1,
		Context:     ev.Context,
		ContextT0:   ev.ContextT0,
		ContextT1:   ev.ContextT1,
		ContextKind: ev.ContextKind,
	}
	if sp.ContextKind == "" {
		sp.ContextKind = string(domain.ContextExtended)
	}
	if sp.Context == "" {
		for _, s := range win {
			if sp.QuoteT0 >= s.T0 && sp.QuoteT0 <= s.T1 {
				sp.Context = s.Text
				sp.ContextT0 = s.T0
				sp.ContextT1 = s.T1
				sp.ContextKind = string(domain.ContextSegment)
				break
			}
		}
	}
	return sp, true
}
