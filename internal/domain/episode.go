package domain

import (
	"time"

	"github.com/google/uuid"
)

// Episode is one processed transcript. Immutable once created except for
// derived fields written by pipeline stages.
type Episode struct {
	ID         uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Title      string     `gorm:"column:title;not null" json:"title"`
	RecordedAt *time.Time `gorm:"column:recorded_at" json:"recorded_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Episode) TableName() string { return "episode" }

// Segment is a speaker-attributed span of transcript text. Produced by the
// external transcription collaborator; read-only for every stage.
type Segment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID uuid.UUID `gorm:"type:uuid;not null;index:idx_segment_episode_idx,unique,priority:1" json:"episode_id"`
	Idx       int       `gorm:"column:idx;not null;index:idx_segment_episode_idx,unique,priority:2" json:"idx"`
	Speaker   string    `gorm:"column:speaker" json:"speaker"`
	T0        float64   `gorm:"column:t0;not null" json:"t0"`
	T1        float64   `gorm:"column:t1;not null" json:"t1"`
	Text      string    `gorm:"column:text;type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Segment) TableName() string { return "segment" }

// Milestone is a coarse chapter boundary emitted by the skimmer stage.
type Milestone struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID   uuid.UUID `gorm:"type:uuid;not null;index:idx_milestone_episode_idx,unique,priority:1" json:"episode_id"`
	Idx         int       `gorm:"column:idx;not null;index:idx_milestone_episode_idx,unique,priority:2" json:"idx"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	T0          float64   `gorm:"column:t0;not null" json:"t0"`
	T1          float64   `gorm:"column:t1;not null" json:"t1"`
	SegmentFrom int       `gorm:"column:segment_from;not null" json:"segment_from"`
	SegmentTo   int       `gorm:"column:segment_to;not null" json:"segment_to"`
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Milestone) TableName() string { return "milestone" }
