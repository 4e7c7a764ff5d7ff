// Package worker claims runnable job runs and dispatches them to registered
// handlers. Claiming uses SKIP LOCKED with stale-heartbeat reclaim, so a
// crashed worker's jobs are picked up and resumed from their checkpoints.
package worker

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/podsight/backend/internal/clients/redis"
	"github.com/podsight/backend/internal/data/repos/jobs"
	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/jobs/runtime"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/envutil"
	"github.com/podsight/backend/internal/pkg/logger"
)

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	runs     jobs.JobRunRepo
	events   jobs.JobEventRepo
	registry *runtime.Registry
	notify   runtime.Notifier
	bus      redis.JobBus
	wake     chan struct{}
}

// NewWorker builds the claim loop. bus is optional; when set, "created" job
// events wake a loop immediately instead of waiting for the next poll tick.
func NewWorker(db *gorm.DB, baseLog *logger.Logger, runs jobs.JobRunRepo, events jobs.JobEventRepo, registry *runtime.Registry, notify runtime.Notifier, bus redis.JobBus) *Worker {
	return &Worker{
		db:       db,
		log:      baseLog.With("component", "JobWorker"),
		runs:     runs,
		events:   events,
		registry: registry,
		notify:   notify,
		bus:      bus,
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the loop goroutines. WORKER_CONCURRENCY caps how many jobs
// run at once in this process.
func (w *Worker) Start(ctx context.Context) {
	concurrency := envutil.Int("WORKER_CONCURRENCY", 2)
	if concurrency < 1 {
		concurrency = 1
	}
	w.log.Info("starting job worker pool", "concurrency", concurrency)
	if w.bus != nil {
		if err := w.bus.Subscribe(ctx, w.onBusEvent); err != nil {
			w.log.Warn("job bus subscribe failed, polling only", "error", err)
		}
	}
	for i := 0; i < concurrency; i++ {
		go w.runLoop(ctx, i+1)
	}
}

func (w *Worker) onBusEvent(ev redis.JobEvent) {
	if ev.Kind != "created" {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(envutil.Duration("WORKER_POLL_INTERVAL", time.Second))
	defer ticker.Stop()

	maxAttempts := envutil.Int("WORKER_MAX_ATTEMPTS", 5)
	retryDelay := envutil.Duration("WORKER_RETRY_DELAY", 30*time.Second)
	staleRunning := envutil.Duration("WORKER_STALE_RUNNING", 30*time.Minute)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
		case <-w.wake:
		}
		job, err := w.runs.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, maxAttempts, retryDelay, staleRunning)
		if err != nil {
			w.log.Warn("claim failed", "worker_id", workerID, "error", err)
			continue
		}
		if job == nil {
			continue
		}
		w.dispatch(ctx, workerID, job)
	}
}

func (w *Worker) dispatch(ctx context.Context, workerID int, job *domain.JobRun) {
	jc := runtime.NewContext(ctx, w.db, job, w.runs, w.events, w.notify)
	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("no handler registered", "worker_id", workerID, "job_type", job.JobType, "job_id", job.ID)
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job handler panic",
				"worker_id", workerID, "job_id", job.ID, "job_type", job.JobType, "panic", r)
			jc.Fail("panic", fmt.Errorf("panic: %v", r))
		}
	}()

	if runErr := h.Run(jc); runErr != nil {
		// Handlers normally call jc.Fail themselves; this is a safety net.
		jc.Fail("run", runErr)
	}
}
