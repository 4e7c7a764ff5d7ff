package db

import (
	"gorm.io/gorm"
)

// Full-text search structures are a derived, rebuildable projection over
// claim text and evidence quotes; never the source of truth. Generated
// tsvector columns keep them in sync with every upsert, so rebuilding is
// just re-running this DDL.
var searchDDL = []string{
	`ALTER TABLE claim
	   ADD COLUMN IF NOT EXISTS text_tsv tsvector
	   GENERATED ALWAYS AS (to_tsvector('english', coalesce(text, ''))) STORED`,
	`CREATE INDEX IF NOT EXISTS idx_claim_text_tsv ON claim USING GIN (text_tsv)`,
	`ALTER TABLE evidence_span
	   ADD COLUMN IF NOT EXISTS quote_tsv tsvector
	   GENERATED ALWAYS AS (to_tsvector('english', coalesce(quote, ''))) STORED`,
	`CREATE INDEX IF NOT EXISTS idx_evidence_quote_tsv ON evidence_span USING GIN (quote_tsv)`,
}

func EnsureSearchIndexes(db *gorm.DB) error {
	for _, stmt := range searchDDL {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// RebuildSearchIndexes drops and recreates the projection. Used by the
// reindex command when the projection is suspected stale or corrupt.
func RebuildSearchIndexes(db *gorm.DB) error {
	drops := []string{
		`DROP INDEX IF EXISTS idx_claim_text_tsv`,
		`DROP INDEX IF EXISTS idx_evidence_quote_tsv`,
		`ALTER TABLE claim DROP COLUMN IF EXISTS text_tsv`,
		`ALTER TABLE evidence_span DROP COLUMN IF EXISTS quote_tsv`,
	}
	for _, stmt := range drops {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return EnsureSearchIndexes(db)
}
