package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Person is a person-or-organization mention normalized to a canonical form.
type Person struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID   uuid.UUID      `gorm:"type:uuid;not null;index:idx_person_episode_canon,unique,priority:1" json:"episode_id"`
	Canonical   string         `gorm:"column:canonical;not null;index:idx_person_episode_canon,unique,priority:2" json:"canonical"`
	Surface     string         `gorm:"column:surface;not null" json:"surface"`
	EntityType  string         `gorm:"column:entity_type;not null;default:person" json:"entity_type"` // person|organization
	ExternalIDs datatypes.JSON `gorm:"column:external_ids;type:jsonb" json:"external_ids,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Person) TableName() string { return "person" }

// Concept is a mental-model mention with aliases and its own evidence spans
// (same dual-granularity shape as claim evidence, stored denormalized).
type Concept struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID uuid.UUID      `gorm:"type:uuid;not null;index:idx_concept_episode_canon,unique,priority:1" json:"episode_id"`
	Canonical string         `gorm:"column:canonical;not null;index:idx_concept_episode_canon,unique,priority:2" json:"canonical"`
	Surface   string         `gorm:"column:surface;not null" json:"surface"`
	Aliases   datatypes.JSON `gorm:"column:aliases;type:jsonb" json:"aliases,omitempty"`
	Evidence  datatypes.JSON `gorm:"column:evidence;type:jsonb" json:"evidence,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Concept) TableName() string { return "concept" }

// Jargon is a domain term with aliases and evidence, resolved like concepts.
type Jargon struct {
	ID        uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID uuid.UUID      `gorm:"type:uuid;not null;index:idx_jargon_episode_canon,unique,priority:1" json:"episode_id"`
	Canonical string         `gorm:"column:canonical;not null;index:idx_jargon_episode_canon,unique,priority:2" json:"canonical"`
	Surface   string         `gorm:"column:surface;not null" json:"surface"`
	Aliases   datatypes.JSON `gorm:"column:aliases;type:jsonb" json:"aliases,omitempty"`
	Evidence  datatypes.JSON `gorm:"column:evidence;type:jsonb" json:"evidence,omitempty"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Jargon) TableName() string { return "jargon" }

// Category is a controlled-vocabulary topic label with coverage confidence
// derived from the claims supporting it.
type Category struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EpisodeID          uuid.UUID      `gorm:"type:uuid;not null;index:idx_category_episode_slug,unique,priority:1" json:"episode_id"`
	Slug               string         `gorm:"column:slug;not null;index:idx_category_episode_slug,unique,priority:2" json:"slug"`
	OntologyID         string         `gorm:"column:ontology_id" json:"ontology_id,omitempty"`
	CoverageConfidence float64        `gorm:"column:coverage_confidence;not null" json:"coverage_confidence"`
	Frequency          float64        `gorm:"column:frequency;not null" json:"frequency"`
	ClaimIDs           datatypes.JSON `gorm:"column:claim_ids;type:jsonb" json:"claim_ids,omitempty"`
	CreatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Category) TableName() string { return "category" }
