// Package orchestrator drives the ordered stage list for one job run and
// owns checkpoint durability: stage output and checkpoint commit together,
// so resume never re-runs a completed stage.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/podsight/backend/internal/jobs/runtime"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/logger"
)

// Stage is one named step. Run receives the job context and the shared
// checkpoint state; it may checkpoint mid-stage for long unit loops.
type Stage struct {
	Name string
	Run  func(jc *runtime.Context, st *State) error
}

// ErrCanceled aborts the engine loop when a cooperative cancel lands.
var ErrCanceled = errors.New("job canceled")

type Engine struct {
	log    *logger.Logger
	stages []Stage
}

func NewEngine(stages []Stage, baseLog *logger.Logger) *Engine {
	return &Engine{log: baseLog.With("component", "Orchestrator"), stages: stages}
}

// Run executes the pending stages in order. Every completed stage is marked
// in the checkpoint and committed before the next starts. A stage error
// fails the run but leaves the last good checkpoint intact; the cancel flag
// is honored at stage boundaries.
func (e *Engine) Run(jc *runtime.Context, st *State) error {
	total := len(e.stages)
	for i, stage := range e.stages {
		if st.Done(stage.Name) {
			continue
		}
		if jc.Canceled() {
			return ErrCanceled
		}
		if err := jc.Ctx.Err(); err != nil {
			return err
		}

		pct := (i * 100) / total
		jc.Progress(stage.Name, pct, "stage started")
		e.log.Info("stage start", "job_id", jc.Job.ID, "stage", stage.Name)

		if err := stage.Run(jc, st); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled) {
				return ErrCanceled
			}
			return fmt.Errorf("stage %s: %w", stage.Name, err)
		}

		st.MarkDone(stage.Name)
		if err := jc.Checkpoint(st); err != nil {
			return fmt.Errorf("%w: checkpoint after %s: %v", apperr.ErrPersistenceConflict, stage.Name, err)
		}
		e.log.Info("stage done", "job_id", jc.Job.ID, "stage", stage.Name,
			"done_units", jc.Job.DoneUnits, "skipped_units", jc.Job.SkippedUnits)
	}
	return nil
}
