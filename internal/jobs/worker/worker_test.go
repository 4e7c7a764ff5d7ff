package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/podsight/backend/internal/clients/redis"
	"github.com/podsight/backend/internal/data/db"
	"github.com/podsight/backend/internal/data/repos/jobs"
	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/jobs/runtime"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

// memoryBus stands in for the redis side channel.
type memoryBus struct {
	mu      sync.Mutex
	onEvent func(ev redis.JobEvent)
}

func (b *memoryBus) Publish(_ context.Context, ev redis.JobEvent) error {
	b.mu.Lock()
	fn := b.onEvent
	b.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, onEvent func(ev redis.JobEvent)) error {
	b.mu.Lock()
	b.onEvent = onEvent
	b.mu.Unlock()
	return nil
}

func (b *memoryBus) Close() error { return nil }

type succeedHandler struct{}

func (succeedHandler) Type() string { return "noop_extract" }

func (succeedHandler) Run(jc *runtime.Context) error {
	jc.Succeed("done", nil)
	return nil
}

func TestBusEventWakesClaimLoop(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", t.TempDir()+"/worker.db")
	// Polling alone would take a minute; only the wake-up can claim in time.
	t.Setenv("WORKER_POLL_INTERVAL", "1m")
	t.Setenv("WORKER_CONCURRENCY", "1")

	svc, err := db.New(logger.NewNop())
	if err != nil {
		t.Fatalf("db init: %v", err)
	}
	if err := svc.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	log := logger.NewNop()
	runs := jobs.NewJobRunRepo(svc.DB(), log)
	events := jobs.NewJobEventRepo(svc.DB(), log)

	registry := runtime.NewRegistry()
	if err := registry.Register(succeedHandler{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	bus := &memoryBus{}
	w := NewWorker(svc.DB(), log, runs, events, registry, nil, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	dbc := dbctx.Background()
	job := &domain.JobRun{
		ID:      uuid.New(),
		JobType: "noop_extract",
		Status:  domain.JobQueued,
		Stage:   "queued",
		Payload: datatypes.JSON([]byte(`{}`)),
		Result:  datatypes.JSON([]byte(`{}`)),
	}
	if err := runs.Create(dbc, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := bus.Publish(context.Background(), redis.JobEvent{JobID: job.ID.String(), Kind: "created"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		got, err := runs.GetByID(dbc, job.ID)
		if err != nil {
			t.Fatalf("reload job: %v", err)
		}
		if got.Status == domain.JobSucceeded {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("job was not claimed off the bus wake-up")
}
