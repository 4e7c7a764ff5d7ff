package domain

import (
	"time"

	"github.com/google/uuid"
)

// LLMCall is the append-only audit row written for every model invocation,
// success or failure. Used for cost accounting and debugging, never for
// control flow.
type LLMCall struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	JobID     *uuid.UUID `gorm:"type:uuid;column:job_id;index" json:"job_id,omitempty"`
	EpisodeID *uuid.UUID `gorm:"type:uuid;column:episode_id;index" json:"episode_id,omitempty"`

	Stage    string `gorm:"column:stage;index" json:"stage"`
	Pool     string `gorm:"column:pool;not null" json:"pool"` // mining|eval
	Provider string `gorm:"column:provider;not null" json:"provider"`
	Model    string `gorm:"column:model;not null;index" json:"model"`

	System string `gorm:"column:system;type:text" json:"system,omitempty"`
	Prompt string `gorm:"column:prompt;type:text;not null" json:"prompt"`

	RawResponse       string `gorm:"column:raw_response;type:text" json:"raw_response,omitempty"`
	PromptTokens      int    `gorm:"column:prompt_tokens" json:"prompt_tokens"`
	CompletionTokens  int    `gorm:"column:completion_tokens" json:"completion_tokens"`
	ValidationOutcome string `gorm:"column:validation_outcome" json:"validation_outcome,omitempty"` // valid|repaired|rejected
	Err               string `gorm:"column:error" json:"error,omitempty"`
	LatencyMS         int64  `gorm:"column:latency_ms;not null" json:"latency_ms"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}

func (LLMCall) TableName() string { return "llm_call" }
