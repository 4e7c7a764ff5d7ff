package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job statuses. "queued" doubles as the checkpointed state: a job that
// yielded between stages goes back to queued with its checkpoint in Result.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobCanceled  = "canceled"
)

// JobRun is one execution attempt of "process episode E through the
// pipeline". Result carries the orchestrator checkpoint blob; a crash or
// restart resumes from it rather than restarting.
type JobRun struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobType   string     `gorm:"column:job_type;not null;index" json:"job_type"`
	EpisodeID *uuid.UUID `gorm:"type:uuid;column:episode_id;index" json:"episode_id,omitempty"`

	Status   string `gorm:"column:status;not null;index" json:"status"`
	Stage    string `gorm:"column:stage;not null;index" json:"stage"`
	Progress int    `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts int    `gorm:"column:attempts;not null;default:0" json:"attempts"`

	TotalUnits   int `gorm:"column:total_units;not null;default:0" json:"total_units"`
	DoneUnits    int `gorm:"column:done_units;not null;default:0" json:"done_units"`
	SkippedUnits int `gorm:"column:skipped_units;not null;default:0" json:"skipped_units"`

	Error     string `gorm:"column:error" json:"error,omitempty"`
	Retriable bool   `gorm:"column:retriable;not null;default:true" json:"retriable"`

	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`

	Payload datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Result  datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_run" }

// Terminal reports whether the status admits no further transitions.
func (j *JobRun) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobCanceled
}

type JobEventKind string

const (
	JobEventCreated   JobEventKind = "created"
	JobEventProgress  JobEventKind = "progress"
	JobEventSkipped   JobEventKind = "skipped"
	JobEventFailed    JobEventKind = "failed"
	JobEventSucceeded JobEventKind = "succeeded"
)

// JobRunEvent is an append-only ledger of job status and skipped-unit
// messages. Skipped units surface here so silent data loss is observable.
type JobRunEvent struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"job_id"`
	Kind      JobEventKind   `gorm:"column:kind;not null;index" json:"kind"`
	Stage     string         `gorm:"column:stage;not null" json:"stage"`
	Progress  int            `gorm:"column:progress;not null" json:"progress"`
	Message   string         `gorm:"column:message;type:text" json:"message,omitempty"`
	Data      datatypes.JSON `gorm:"column:data;type:jsonb" json:"data,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (JobRunEvent) TableName() string { return "job_run_event" }
