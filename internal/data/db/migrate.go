package db

import (
	"gorm.io/gorm"

	"github.com/podsight/backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Transcript input
		&domain.Episode{},
		&domain.Segment{},

		// Pipeline artifacts
		&domain.Milestone{},
		&domain.Claim{},
		&domain.EvidenceSpan{},
		&domain.Relation{},
		&domain.Person{},
		&domain.Concept{},
		&domain.Jargon{},
		&domain.Category{},

		// Job system
		&domain.JobRun{},
		&domain.JobRunEvent{},

		// Audit
		&domain.LLMCall{},
	)
}
