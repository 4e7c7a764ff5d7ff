// Package runtime is the execution contract between the job system and all
// pipeline code. Context is a capability-scoped handle for a single claimed
// job run: the job row, the sanctioned ways to report progress or terminate,
// and the event ledger. Pipelines never touch job_run directly.
package runtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/podsight/backend/internal/data/repos/jobs"
	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/dbctx"
)

// Notifier publishes job lifecycle events to whoever listens. A nil
// Notifier is valid and means no side channel.
type Notifier interface {
	JobProgress(job *domain.JobRun, stage string, progress int, message string)
	JobFailed(job *domain.JobRun, stage string, errorMessage string)
	JobDone(job *domain.JobRun)
}

type Context struct {
	Ctx    context.Context
	DB     *gorm.DB
	Job    *domain.JobRun
	Runs   jobs.JobRunRepo
	Events jobs.JobEventRepo
	Notify Notifier

	payload map[string]any
}

func NewContext(ctx context.Context, db *gorm.DB, job *domain.JobRun, runs jobs.JobRunRepo, events jobs.JobEventRepo, notify Notifier) *Context {
	c := &Context{Ctx: ctx, DB: db, Job: job, Runs: runs, Events: events, Notify: notify}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return uuid.Nil, false
	}
	s, ok := v.(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Canceled checks the stored status. Pipelines call this between units so a
// cancel lands at the next unit boundary; in-flight LLM calls finish.
func (c *Context) Canceled() bool {
	if c.Job == nil || c.Job.ID == uuid.Nil || c.Runs == nil {
		return false
	}
	job, err := c.Runs.GetByID(dbctx.Context{Ctx: c.Ctx}, c.Job.ID)
	if err != nil || job == nil {
		return false
	}
	return job.Status == domain.JobCanceled
}

// Update applies raw field updates guarded so canceled jobs are never
// overwritten. Prefer Progress/Fail/Succeed for lifecycle transitions.
func (c *Context) Update(updates map[string]any) (bool, error) {
	if c.Job == nil || c.Job.ID == uuid.Nil {
		return false, nil
	}
	return c.Runs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, []string{domain.JobCanceled}, updates)
}

// Checkpoint serializes state into job_run.result. Every durable transition
// commits before the orchestrator moves on; resume re-reads this blob.
func (c *Context) Checkpoint(state any) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}
	ok, err := c.Update(map[string]any{"result": datatypes.JSON(b)})
	if err == nil && ok && c.Job != nil {
		c.Job.Result = datatypes.JSON(b)
	}
	return err
}

// Progress publishes a non-terminal update: stage, percent, unit counters,
// heartbeat. Rejected writes (canceled job) suppress the notification.
func (c *Context) Progress(stage string, pct int, msg string) {
	now := time.Now()
	ok, _ := c.Update(map[string]any{
		"stage":         stage,
		"progress":      pct,
		"total_units":   c.Job.TotalUnits,
		"done_units":    c.Job.DoneUnits,
		"skipped_units": c.Job.SkippedUnits,
		"heartbeat_at":  now,
	})
	if !ok {
		return
	}
	c.Job.Stage = stage
	c.Job.Progress = pct
	c.Job.HeartbeatAt = &now
	c.appendEvent(domain.JobEventProgress, stage, pct, msg, nil)
	if c.Notify != nil {
		c.Notify.JobProgress(c.Job, stage, pct, msg)
	}
}

// Touch refreshes only the heartbeat, so a long stage between checkpoints
// is not reclaimed as stale. Safe to call from stage fan-out goroutines.
func (c *Context) Touch() {
	_, _ = c.Update(map[string]any{"heartbeat_at": time.Now()})
}

// SkipUnit records one unit-scoped failure: counter plus ledger row, so
// silent data loss stays observable in job status.
func (c *Context) SkipUnit(stage, unit string, cause error) {
	c.Job.SkippedUnits++
	data := map[string]any{"unit": unit}
	msg := ""
	if cause != nil {
		msg = (&apperr.UnitError{Stage: stage, Unit: unit, Err: cause}).Error()
	}
	_, _ = c.Update(map[string]any{"skipped_units": c.Job.SkippedUnits})
	c.appendEvent(domain.JobEventSkipped, stage, c.Job.Progress, msg, data)
}

func (c *Context) SetUnits(total, done int) {
	c.Job.TotalUnits = total
	c.Job.DoneUnits = done
}

func (c *Context) UnitDone() {
	c.Job.DoneUnits++
}

// Fail marks the run terminally failed, clearing the lock but leaving the
// last good checkpoint in result for a later resume.
func (c *Context) Fail(stage string, cause error) {
	now := time.Now()
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	retriable := apperr.Retriable(cause)
	ok, _ := c.Update(map[string]any{
		"status":        domain.JobFailed,
		"stage":         stage,
		"error":         msg,
		"retriable":     retriable,
		"last_error_at": now,
		"locked_at":     nil,
	})
	if !ok {
		return
	}
	c.Job.Status = domain.JobFailed
	c.Job.Stage = stage
	c.Job.Error = msg
	c.Job.Retriable = retriable
	c.Job.LastErrorAt = &now
	c.Job.LockedAt = nil
	c.appendEvent(domain.JobEventFailed, stage, c.Job.Progress, msg, nil)
	if c.Notify != nil {
		c.Notify.JobFailed(c.Job, stage, msg)
	}
}

// Succeed marks the run terminally succeeded and stores the final result.
func (c *Context) Succeed(finalStage string, result any) {
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	ok, _ := c.Update(map[string]any{
		"status":        domain.JobSucceeded,
		"stage":         finalStage,
		"progress":      100,
		"error":         "",
		"result":        res,
		"total_units":   c.Job.TotalUnits,
		"done_units":    c.Job.DoneUnits,
		"skipped_units": c.Job.SkippedUnits,
		"locked_at":     nil,
		"heartbeat_at":  now,
	})
	if !ok {
		return
	}
	c.Job.Status = domain.JobSucceeded
	c.Job.Stage = finalStage
	c.Job.Progress = 100
	c.Job.Error = ""
	c.Job.Result = res
	c.Job.LockedAt = nil
	c.Job.HeartbeatAt = &now
	c.appendEvent(domain.JobEventSucceeded, finalStage, 100, "", nil)
	if c.Notify != nil {
		c.Notify.JobDone(c.Job)
	}
}

func (c *Context) appendEvent(kind domain.JobEventKind, stage string, pct int, msg string, data map[string]any) {
	if c.Events == nil || c.Job == nil {
		return
	}
	_ = c.Events.Append(dbctx.Context{Ctx: c.Ctx}, c.Job.ID, kind, stage, pct, msg, data)
}
