package services

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/podsight/backend/internal/data/repos/episodes"
	"github.com/podsight/backend/internal/data/repos/jobs"
	"github.com/podsight/backend/internal/domain"
	episodeextract "github.com/podsight/backend/internal/jobs/pipeline/episode_extract"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

// SegmentInput is one transcript segment as submitted by the transcription
// collaborator.
type SegmentInput struct {
	Speaker string  `json:"speaker"`
	T0      float64 `json:"t0"`
	T1      float64 `json:"t1"`
	Text    string  `json:"text"`
}

// Bundle is a complete episode submission.
type Bundle struct {
	Title      string         `json:"title"`
	RecordedAt *time.Time     `json:"recorded_at,omitempty"`
	Segments   []SegmentInput `json:"segments"`
}

// JobStatus is the read model for one job run: lifecycle state plus the
// unit counters that make skipped work observable.
type JobStatus struct {
	Job             *domain.JobRun        `json:"job"`
	CompletedStages []string              `json:"completed_stages"`
	Skipped         map[string]int        `json:"skipped_by_stage,omitempty"`
	Events          []*domain.JobRunEvent `json:"events,omitempty"`
}

// JobService is the only mutation surface for job state besides the worker.
type JobService interface {
	Submit(dbc dbctx.Context, bundle Bundle) (*domain.JobRun, error)
	Resume(dbc dbctx.Context, jobID uuid.UUID) (*domain.JobRun, error)
	Cancel(dbc dbctx.Context, jobID uuid.UUID) (*domain.JobRun, error)
	Status(dbc dbctx.Context, jobID uuid.UUID) (*JobStatus, error)
}

type jobService struct {
	db       *gorm.DB
	log      *logger.Logger
	runs     jobs.JobRunRepo
	events   jobs.JobEventRepo
	episodes episodes.EpisodeRepo
	notify   JobNotifier
}

func NewJobService(db *gorm.DB, baseLog *logger.Logger, runs jobs.JobRunRepo, events jobs.JobEventRepo, eps episodes.EpisodeRepo, notify JobNotifier) JobService {
	return &jobService{
		db:       db,
		log:      baseLog.With("service", "JobService"),
		runs:     runs,
		events:   events,
		episodes: eps,
		notify:   notify,
	}
}

// Submit validates the bundle and creates episode, segments and job run in
// one transaction: a rejected bundle creates nothing at all.
func (s *jobService) Submit(dbc dbctx.Context, bundle Bundle) (*domain.JobRun, error) {
	if err := validateBundle(bundle); err != nil {
		return nil, err
	}
	now := time.Now()
	ep := &domain.Episode{
		ID:         uuid.New(),
		Title:      bundle.Title,
		RecordedAt: bundle.RecordedAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	segs := make([]*domain.Segment, 0, len(bundle.Segments))
	for i, in := range bundle.Segments {
		segs = append(segs, &domain.Segment{
			ID:        uuid.New(),
			EpisodeID: ep.ID,
			Idx:       i,
			Speaker:   in.Speaker,
			T0:        in.T0,
			T1:        in.T1,
			Text:      in.Text,
			CreatedAt: now,
		})
	}
	payload, _ := json.Marshal(map[string]any{"episode_id": ep.ID.String()})
	job := &domain.JobRun{
		ID:        uuid.New(),
		JobType:   episodeextract.JobType,
		EpisodeID: &ep.ID,
		Status:    domain.JobQueued,
		Stage:     "queued",
		Payload:   datatypes.JSON(payload),
		Result:    datatypes.JSON([]byte(`{}`)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.db.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		tdbc := dbctx.Context{Ctx: dbc.Ctx, Tx: txx}
		if err := s.episodes.CreateWithSegments(tdbc, ep, segs); err != nil {
			return err
		}
		return s.runs.Create(tdbc, job)
	})
	if err != nil {
		return nil, fmt.Errorf("submit bundle: %w", err)
	}

	_ = s.events.Append(dbc, job.ID, domain.JobEventCreated, "queued", 0, "", map[string]any{"episode_id": ep.ID.String()})
	if s.notify != nil {
		s.notify.JobCreated(job)
	}
	s.log.Info("episode submitted", "episode_id", ep.ID, "job_id", job.ID, "segments", len(segs))
	return job, nil
}

// Resume is idempotent: succeeded and still-running runs are left alone; a
// canceled run, or a failed run whose error was retriable, goes back to
// queued and the worker picks it up at its last checkpoint. A run that
// failed on invalid input stays failed.
func (s *jobService) Resume(dbc dbctx.Context, jobID uuid.UUID) (*domain.JobRun, error) {
	job, err := s.runs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s not found", apperr.ErrInvalidInput, jobID)
	}
	switch job.Status {
	case domain.JobSucceeded, domain.JobQueued, domain.JobRunning:
		return job, nil
	}
	if job.Status == domain.JobFailed && !job.Retriable {
		return nil, fmt.Errorf("%w: job %s failed with a non-retriable error: %s", apperr.ErrInvalidInput, jobID, job.Error)
	}
	err = s.runs.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":    domain.JobQueued,
		"error":     "",
		"locked_at": nil,
	})
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobQueued
	job.Error = ""
	job.LockedAt = nil
	_ = s.events.Append(dbc, job.ID, domain.JobEventProgress, job.Stage, job.Progress, "resumed", nil)
	s.log.Info("job resumed", "job_id", job.ID, "stage", job.Stage)
	return job, nil
}

// Cancel is cooperative: the status flips now, the worker notices at its
// next unit boundary. In-flight LLM calls finish and are audited normally.
func (s *jobService) Cancel(dbc dbctx.Context, jobID uuid.UUID) (*domain.JobRun, error) {
	job, err := s.runs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s not found", apperr.ErrInvalidInput, jobID)
	}
	if job.Terminal() {
		return job, nil
	}
	err = s.runs.UpdateFields(dbc, job.ID, map[string]interface{}{
		"status":    domain.JobCanceled,
		"locked_at": nil,
	})
	if err != nil {
		return nil, err
	}
	job.Status = domain.JobCanceled
	job.LockedAt = nil
	_ = s.events.Append(dbc, job.ID, domain.JobEventFailed, job.Stage, job.Progress, "canceled", nil)
	s.log.Info("job canceled", "job_id", job.ID, "stage", job.Stage)
	return job, nil
}

func (s *jobService) Status(dbc dbctx.Context, jobID uuid.UUID) (*JobStatus, error) {
	job, err := s.runs.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: job %s not found", apperr.ErrInvalidInput, jobID)
	}
	st := &JobStatus{Job: job}
	if len(job.Result) > 0 {
		var checkpoint struct {
			Completed []string `json:"completed"`
			Pipeline  struct {
				Skipped map[string]int `json:"skipped"`
			} `json:"pipeline"`
		}
		if err := json.Unmarshal(job.Result, &checkpoint); err == nil {
			st.CompletedStages = checkpoint.Completed
			st.Skipped = checkpoint.Pipeline.Skipped
		}
	}
	if events, err := s.events.ListByJob(dbc, jobID); err == nil {
		st.Events = events
	}
	return st, nil
}

func validateBundle(b Bundle) error {
	if b.Title == "" {
		return fmt.Errorf("%w: missing title", apperr.ErrInvalidInput)
	}
	if len(b.Segments) == 0 {
		return fmt.Errorf("%w: bundle has no segments", apperr.ErrInvalidInput)
	}
	prev := -1.0
	for i, seg := range b.Segments {
		if seg.Text == "" {
			return fmt.Errorf("%w: segment %d has empty text", apperr.ErrInvalidInput, i)
		}
		if seg.T0 < 0 || seg.T1 < seg.T0 {
			return fmt.Errorf("%w: segment %d has bad timestamps [%v, %v]", apperr.ErrInvalidInput, i, seg.T0, seg.T1)
		}
		if seg.T0 < prev {
			return fmt.Errorf("%w: segment %d starts before segment %d", apperr.ErrInvalidInput, i, i-1)
		}
		prev = seg.T0
	}
	return nil
}
