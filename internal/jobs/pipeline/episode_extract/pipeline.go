package episodeextract

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/podsight/backend/internal/data/repos/claims"
	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/jobs/orchestrator"
	"github.com/podsight/backend/internal/jobs/runtime"
	"github.com/podsight/backend/internal/pipeline"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/dbctx"
)

func (h *Handler) Run(jc *runtime.Context) error {
	episodeID, ok := jc.PayloadUUID("episode_id")
	if !ok {
		jc.Fail("init", fmt.Errorf("%w: payload missing episode_id", apperr.ErrInvalidInput))
		return nil
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}
	segments, err := h.d.Episodes.ListSegments(dbc, episodeID)
	if err != nil {
		jc.Fail("init", err)
		return nil
	}
	if len(segments) == 0 {
		jc.Fail("init", fmt.Errorf("%w: episode has no segments", apperr.ErrInvalidInput))
		return nil
	}

	st := orchestrator.LoadState(jc.Job)
	env := &pipeline.Env{
		Log:         h.d.Log.With("job_id", jc.Job.ID.String()),
		Invoker:     h.d.Invoker,
		Embedder:    h.d.Embedder,
		Cfg:         h.d.Cfg,
		JobID:       &jc.Job.ID,
		EpisodeID:   &episodeID,
		MineWorkers: h.d.HW.MiningWorkers,
		EvalWorkers: h.d.HW.EvalWorkers,
		Heartbeat:   jc.Touch,
	}

	engine := orchestrator.NewEngine([]orchestrator.Stage{
		{Name: "skim", Run: h.skim(env, episodeID, segments)},
		{Name: "mine", Run: h.mine(env, segments)},
		{Name: "dedup", Run: h.dedup(env, episodeID)},
		{Name: "rerank", Run: h.rerank(env)},
		{Name: "judge", Run: h.judge(env, episodeID)},
		{Name: "relations", Run: h.relations(env, episodeID)},
		{Name: "entities", Run: h.entities(env, episodeID)},
		{Name: "finalize", Run: h.finalize(episodeID)},
	}, h.d.Log)

	if err := engine.Run(jc, st); err != nil {
		if errors.Is(err, orchestrator.ErrCanceled) {
			// Cooperative cancel: the status row already says canceled.
			return nil
		}
		jc.Fail(jc.Job.Stage, err)
		return nil
	}

	jc.Succeed("finalize", map[string]any{
		"episode_id":    episodeID,
		"claims":        len(st.Pipeline.KeptClusters()),
		"milestones":    len(st.Pipeline.Milestones),
		"relations":     len(st.Pipeline.Relations),
		"skipped_units": jc.Job.SkippedUnits,
		"skipped":       st.Pipeline.Skipped,
	})
	return nil
}

func (h *Handler) skim(env *pipeline.Env, episodeID uuid.UUID, segments []*domain.Segment) func(*runtime.Context, *orchestrator.State) error {
	return func(jc *runtime.Context, st *orchestrator.State) error {
		ms, skipped, err := pipeline.Skim(jc.Ctx, env, segments)
		if err != nil {
			return err
		}
		recordSkips(jc, st, "skim", skipped)
		rows := make([]*domain.Milestone, 0, len(ms))
		for _, m := range ms {
			rows = append(rows, &domain.Milestone{
				ID:          uuid.New(),
				EpisodeID:   episodeID,
				Idx:         m.Idx,
				Title:       m.Title,
				T0:          m.T0,
				T1:          m.T1,
				SegmentFrom: m.SegmentFrom,
				SegmentTo:   m.SegmentTo,
			})
		}
		if err := h.d.Episodes.UpsertMilestones(dbctx.Context{Ctx: jc.Ctx}, rows); err != nil {
			return err
		}
		st.Pipeline.Milestones = ms
		return nil
	}
}

// mine runs the per-window extraction loop with a mid-stage checkpoint per
// window: a crash never re-mines completed windows. A malformed window is
// skipped and marked done; the stage is fatal only when nothing succeeded.
func (h *Handler) mine(env *pipeline.Env, segments []*domain.Segment) func(*runtime.Context, *orchestrator.State) error {
	return func(jc *runtime.Context, st *orchestrator.State) error {
		windows := pipeline.Windows(segments, env.Cfg.MineWindow)
		done := 0
		for _, win := range windows {
			if st.Pipeline.DoneWindows[win[0].Idx] {
				done++
			}
		}
		jc.SetUnits(len(windows), done)

		succeeded := done > 0
		var pending []int
		for i, win := range windows {
			if !st.Pipeline.DoneWindows[win[0].Idx] {
				pending = append(pending, i)
			}
		}

		// Windows mine in waves sized to the hardware tier's mining pool.
		// Units may finish out of order inside a wave; the commit below runs
		// in window order, so output is deterministic either way, and the
		// checkpoint lands at every wave boundary.
		wave := env.MineLimit()
		for off := 0; off < len(pending); off += wave {
			if jc.Canceled() {
				return orchestrator.ErrCanceled
			}
			limit := off + wave
			if limit > len(pending) {
				limit = len(pending)
			}
			batch := pending[off:limit]
			results := make([]*pipeline.MineResult, len(batch))
			werrs := make([]error, len(batch))
			var g errgroup.Group
			for wi, idx := range batch {
				wi, win := wi, windows[idx]
				g.Go(func() error {
					res, err := pipeline.MineWindow(jc.Ctx, env, win)
					if err != nil {
						werrs[wi] = err
						return nil
					}
					results[wi] = &res
					return nil
				})
			}
			_ = g.Wait()
			if jc.Ctx.Err() != nil {
				return jc.Ctx.Err()
			}

			for wi, idx := range batch {
				key := windows[idx][0].Idx
				if werrs[wi] != nil {
					jc.SkipUnit("mine", fmt.Sprintf("window %d", key), werrs[wi])
					st.Pipeline.Skip("mine")
					st.Pipeline.DoneWindows[key] = true
					continue
				}
				succeeded = true
				res := results[wi]
				st.Pipeline.Candidates = append(st.Pipeline.Candidates, res.Candidates...)
				st.Pipeline.People = append(st.Pipeline.People, res.People...)
				st.Pipeline.Concepts = append(st.Pipeline.Concepts, res.Concepts...)
				st.Pipeline.Jargon = append(st.Pipeline.Jargon, res.Jargon...)
				st.Pipeline.DoneWindows[key] = true
				jc.UnitDone()
			}
			if err := jc.Checkpoint(st); err != nil {
				return err
			}
			jc.Progress("mine", 10+(limit*30)/len(pending), fmt.Sprintf("window %d/%d", done+limit, len(windows)))
		}
		if !succeeded {
			return fmt.Errorf("%w: every mining window failed", apperr.ErrFatal)
		}
		return nil
	}
}

func (h *Handler) dedup(env *pipeline.Env, episodeID uuid.UUID) func(*runtime.Context, *orchestrator.State) error {
	return func(jc *runtime.Context, st *orchestrator.State) error {
		clusters, err := pipeline.Dedup(jc.Ctx, env, episodeID, st.Pipeline.Candidates)
		if err != nil {
			return err
		}
		st.Pipeline.Clusters = clusters
		return nil
	}
}

func (h *Handler) rerank(env *pipeline.Env) func(*runtime.Context, *orchestrator.State) error {
	return func(jc *runtime.Context, st *orchestrator.State) error {
		cutoff, skipped, err := pipeline.Rerank(jc.Ctx, env, st.Pipeline.Clusters)
		if err != nil {
			return err
		}
		recordSkips(jc, st, "rerank", skipped)
		st.Pipeline.Cutoff = cutoff
		return nil
	}
}

// judge finalizes kept clusters and commits them as claim rows with their
// evidence. Writing here, before relations, gives the later stages stable
// claim ids to reference.
func (h *Handler) judge(env *pipeline.Env, episodeID uuid.UUID) func(*runtime.Context, *orchestrator.State) error {
	return func(jc *runtime.Context, st *orchestrator.State) error {
		skipped, err := pipeline.JudgeClusters(jc.Ctx, env, st.Pipeline.Clusters)
		if err != nil {
			return err
		}
		recordSkips(jc, st, "judge", skipped)

		dbc := dbctx.Context{Ctx: jc.Ctx}
		kept := st.Pipeline.KeptClusters()
		rows := make([]*domain.Claim, 0, len(kept))
		for _, c := range kept {
			ct := c.ClaimType
			if !domain.ValidClaimType(ct) {
				ct = string(domain.ClaimFactual)
			}
			rows = append(rows, &domain.Claim{
				ID:             uuid.New(),
				EpisodeID:      episodeID,
				ClusterID:      c.ClusterID,
				Text:           c.Text,
				ClaimType:      domain.ClaimType(ct),
				FirstMentionT0: c.FirstMentionT0,
				RerankScore:    c.RerankScore,
			})
		}
		if err := h.d.Claims.Upsert(dbc, rows); err != nil {
			return err
		}

		byCluster, err := h.claimsByCluster(dbc, episodeID)
		if err != nil {
			return err
		}
		for _, c := range kept {
			row, ok := byCluster[c.ClusterID]
			if !ok {
				continue
			}
			spans := make([]*domain.EvidenceSpan, 0, len(c.Evidence))
			for _, sp := range c.Evidence {
				spans = append(spans, &domain.EvidenceSpan{
					Quote:       sp.Quote,
					QuoteT0:     sp.QuoteT0,
					QuoteT1:     sp.QuoteT1,
					Context:     sp.Context,
					ContextT0:   sp.ContextT0,
					ContextT1:   sp.ContextT1,
					ContextKind: domain.ContextKind(sp.ContextKind),
				})
			}
			if err := h.d.Claims.ReplaceEvidence(dbc, row.ID, spans); err != nil {
				return err
			}
			if j := c.Judgement; j != nil {
				err := h.d.Claims.UpdateJudgement(dbc, row.ID, map[string]interface{}{
					"tier": j.Tier,
					"scores": claims.EncodeScores(domain.ClaimScores{
						Importance:  j.Importance,
						Novelty:     j.Novelty,
						Controversy: j.Controversy,
					}),
					"temporality":            j.Temporality,
					"temporality_confidence": j.TemporalityConfidence,
					"temporality_rationale":  j.TemporalityRationale,
				})
				if err != nil {
					return err
				}
			}
		}
		return nil
	}
}

func (h *Handler) relations(env *pipeline.Env, episodeID uuid.UUID) func(*runtime.Context, *orchestrator.State) error {
	return func(jc *runtime.Context, st *orchestrator.State) error {
		kept := st.Pipeline.KeptClusters()
		rels, skipped, err := pipeline.ExtractRelations(jc.Ctx, env, kept, st.Pipeline.Milestones)
		if err != nil {
			return err
		}
		recordSkips(jc, st, "relations", skipped)

		dbc := dbctx.Context{Ctx: jc.Ctx}
		byCluster, err := h.claimsByCluster(dbc, episodeID)
		if err != nil {
			return err
		}
		rows := make([]*domain.Relation, 0, len(rels))
		for _, r := range rels {
			src, okSrc := byCluster[r.SourceCluster]
			dst, okDst := byCluster[r.TargetCluster]
			if !okSrc || !okDst {
				continue
			}
			rows = append(rows, &domain.Relation{
				ID:            uuid.New(),
				EpisodeID:     episodeID,
				SourceClaimID: src.ID,
				TargetClaimID: dst.ID,
				RelType:       domain.RelationType(r.RelType),
				Strength:      r.Strength,
				Rationale:     r.Rationale,
			})
		}
		if err := h.d.Relations.Upsert(dbc, rows); err != nil {
			return err
		}
		st.Pipeline.Relations = rels
		return nil
	}
}

// entities resolves people, concepts and jargon with pure string work, then
// makes one eval call for category assignment. A failed category call skips
// that unit; the resolved entities stay.
func (h *Handler) entities(env *pipeline.Env, episodeID uuid.UUID) func(*runtime.Context, *orchestrator.State) error {
	return func(jc *runtime.Context, st *orchestrator.State) error {
		dbc := dbctx.Context{Ctx: jc.Ctx}
		people := pipeline.ResolvePeople(episodeID, st.Pipeline.People)
		if err := h.d.Entities.UpsertPeople(dbc, people); err != nil {
			return err
		}
		concepts := pipeline.ResolveTerms(st.Pipeline.Concepts)
		if err := h.d.Entities.UpsertConcepts(dbc, pipeline.ConceptRows(episodeID, concepts)); err != nil {
			return err
		}
		jargon := pipeline.ResolveTerms(st.Pipeline.Jargon)
		if err := h.d.Entities.UpsertJargon(dbc, pipeline.JargonRows(episodeID, jargon)); err != nil {
			return err
		}

		kept := st.Pipeline.KeptClusters()
		assigns, err := pipeline.AssignCategories(jc.Ctx, env, kept)
		if err != nil {
			if jc.Ctx.Err() != nil {
				return err
			}
			jc.SkipUnit("entities", "categories", err)
			st.Pipeline.Skip("entities")
			return nil
		}
		if err := h.d.Entities.UpsertCategories(dbc, pipeline.CategoryRows(episodeID, assigns, len(kept))); err != nil {
			return err
		}

		// Mirror the assignments onto each claim's category refs.
		refsByCluster := map[string][]domain.CategoryRef{}
		for _, a := range assigns {
			for _, cid := range a.ClusterIDs {
				refsByCluster[cid] = append(refsByCluster[cid], domain.CategoryRef{Slug: a.Slug, Relevance: a.Relevance})
			}
		}
		byCluster, err := h.claimsByCluster(dbc, episodeID)
		if err != nil {
			return err
		}
		for cid, refs := range refsByCluster {
			row, ok := byCluster[cid]
			if !ok {
				continue
			}
			err := h.d.Claims.UpdateJudgement(dbc, row.ID, map[string]interface{}{
				"categories": claims.EncodeCategoryRefs(refs),
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
}

// finalize drops claims whose clusters vanished on a re-run, so repeated
// extraction over the same input converges.
func (h *Handler) finalize(episodeID uuid.UUID) func(*runtime.Context, *orchestrator.State) error {
	return func(jc *runtime.Context, st *orchestrator.State) error {
		keep := make([]string, 0, len(st.Pipeline.Clusters))
		for _, c := range st.Pipeline.KeptClusters() {
			keep = append(keep, c.ClusterID)
		}
		removed, err := h.d.Claims.DeleteByEpisodeExcept(dbctx.Context{Ctx: jc.Ctx}, episodeID, keep)
		if err != nil {
			return err
		}
		if removed > 0 {
			h.d.Log.Info("stale claims removed", "episode_id", episodeID, "count", removed)
		}
		return nil
	}
}

func (h *Handler) claimsByCluster(dbc dbctx.Context, episodeID uuid.UUID) (map[string]*domain.Claim, error) {
	rows, err := h.d.Claims.ListByEpisode(dbc, episodeID, claims.ListFilter{})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*domain.Claim, len(rows))
	for _, r := range rows {
		out[r.ClusterID] = r
	}
	return out, nil
}

func recordSkips(jc *runtime.Context, st *orchestrator.State, stage string, n int) {
	for i := 0; i < n; i++ {
		jc.SkipUnit(stage, "", nil)
		st.Pipeline.Skip(stage)
	}
}
