package services

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/podsight/backend/internal/data/db"
	"github.com/podsight/backend/internal/data/repos/episodes"
	"github.com/podsight/backend/internal/data/repos/jobs"
	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

func testJobService(t *testing.T) (JobService, jobs.JobRunRepo, *gorm.DB) {
	t.Helper()
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", t.TempDir()+"/svc.db")
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
	eps := episodes.NewEpisodeRepo(svc.DB(), log)
	return NewJobService(svc.DB(), log, runs, events, eps, nil), runs, svc.DB()
}

func validBundle() Bundle {
	return Bundle{
		Title: "Episode 42: Rates and Funding",
		Segments: []SegmentInput{
			{Speaker: "Host", T0: 0, T1: 8, Text: "Welcome back to the show."},
			{Speaker: "Guest", T0: 8, T1: 20, Text: "Rates drive funding cycles."},
		},
	}
}

func TestSubmitCreatesEpisodeAndQueuedJob(t *testing.T) {
	svc, runs, gdb := testJobService(t)
	dbc := dbctx.Background()

	job, err := svc.Submit(dbc, validBundle())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != domain.JobQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if job.EpisodeID == nil || *job.EpisodeID == uuid.Nil {
		t.Fatal("job must reference the created episode")
	}

	stored, err := runs.GetByID(dbc, job.ID)
	if err != nil || stored == nil {
		t.Fatalf("job row missing: %v", err)
	}

	var segCount int64
	if err := gdb.Model(&domain.Segment{}).Where("episode_id = ?", *job.EpisodeID).Count(&segCount).Error; err != nil {
		t.Fatalf("count segments: %v", err)
	}
	if segCount != 2 {
		t.Fatalf("expected 2 segments, got %d", segCount)
	}
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := testJobService(t)
	dbc := dbctx.Background()

	cases := []struct {
		name   string
		mutate func(*Bundle)
	}{
		{"missing title", func(b *Bundle) { b.Title = "" }},
		{"no segments", func(b *Bundle) { b.Segments = nil }},
		{"empty text", func(b *Bundle) { b.Segments[1].Text = "" }},
		{"negative t0", func(b *Bundle) { b.Segments[0].T0 = -1 }},
		{"t1 before t0", func(b *Bundle) { b.Segments[1].T1 = 3 }},
		{"non-monotonic", func(b *Bundle) {
			b.Segments[0].T0 = 50
			b.Segments[0].T1 = 60
		}},
	}
	for _, tc := range cases {
		b := validBundle()
		tc.mutate(&b)
		_, err := svc.Submit(dbc, b)
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestResumeIdempotent(t *testing.T) {
	svc, runs, _ := testJobService(t)
	dbc := dbctx.Background()

	job, err := svc.Submit(dbc, validBundle())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Queued run: resume is a no-op.
	got, err := svc.Resume(dbc, job.ID)
	if err != nil || got.Status != domain.JobQueued {
		t.Fatalf("resume on queued should no-op: %v %s", err, got.Status)
	}

	// Succeeded run: resume must not requeue.
	if err := runs.UpdateFields(dbc, job.ID, map[string]any{"status": domain.JobSucceeded}); err != nil {
		t.Fatalf("force succeed: %v", err)
	}
	got, err = svc.Resume(dbc, job.ID)
	if err != nil || got.Status != domain.JobSucceeded {
		t.Fatalf("resume on succeeded should no-op: %v %s", err, got.Status)
	}

	// Retriably failed run: resume requeues and clears the error.
	if err := runs.UpdateFields(dbc, job.ID, map[string]any{
		"status": domain.JobFailed, "error": "provider down", "retriable": true,
	}); err != nil {
		t.Fatalf("force fail: %v", err)
	}
	got, err = svc.Resume(dbc, job.ID)
	if err != nil {
		t.Fatalf("resume on failed: %v", err)
	}
	if got.Status != domain.JobQueued || got.Error != "" {
		t.Fatalf("expected requeued clean job, got %s %q", got.Status, got.Error)
	}

	if _, err := svc.Resume(dbc, uuid.New()); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("unknown job should be invalid input, got %v", err)
	}
}

func TestResumeRefusesNonRetriableFailure(t *testing.T) {
	svc, runs, _ := testJobService(t)
	dbc := dbctx.Background()

	job, err := svc.Submit(dbc, validBundle())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := runs.UpdateFields(dbc, job.ID, map[string]any{
		"status": domain.JobFailed, "error": "payload missing episode_id", "retriable": false,
	}); err != nil {
		t.Fatalf("force fail: %v", err)
	}

	if _, err := svc.Resume(dbc, job.ID); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("non-retriable failure should refuse resume, got %v", err)
	}
	got, err := runs.GetByID(dbc, job.ID)
	if err != nil || got.Status != domain.JobFailed {
		t.Fatalf("job must stay failed: %v %s", err, got.Status)
	}
}

func TestCancelCooperative(t *testing.T) {
	svc, runs, _ := testJobService(t)
	dbc := dbctx.Background()

	job, err := svc.Submit(dbc, validBundle())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	got, err := svc.Cancel(dbc, job.ID)
	if err != nil || got.Status != domain.JobCanceled {
		t.Fatalf("cancel queued job: %v %s", err, got.Status)
	}

	// Canceling a terminal run is a no-op, not an error.
	if err := runs.UpdateFields(dbc, job.ID, map[string]any{"status": domain.JobSucceeded}); err != nil {
		t.Fatalf("force succeed: %v", err)
	}
	got, err = svc.Cancel(dbc, job.ID)
	if err != nil || got.Status != domain.JobSucceeded {
		t.Fatalf("cancel on succeeded should no-op: %v %s", err, got.Status)
	}
}

func TestStatusDecodesCheckpoint(t *testing.T) {
	svc, runs, _ := testJobService(t)
	dbc := dbctx.Background()

	job, err := svc.Submit(dbc, validBundle())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	blob := `{"completed":["skim","mine"],"pipeline":{"skipped":{"mine":2}}}`
	if err := runs.UpdateFields(dbc, job.ID, map[string]any{"result": blob}); err != nil {
		t.Fatalf("write checkpoint: %v", err)
	}

	st, err := svc.Status(dbc, job.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st.CompletedStages) != 2 || st.CompletedStages[0] != "skim" {
		t.Fatalf("completed stages not decoded: %v", st.CompletedStages)
	}
	if st.Skipped["mine"] != 2 {
		t.Fatalf("skip counters not decoded: %v", st.Skipped)
	}
	if len(st.Events) == 0 {
		t.Fatal("expected at least the created event")
	}
}
