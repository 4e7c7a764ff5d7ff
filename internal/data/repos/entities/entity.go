package entities

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

// EntityRepo persists the resolver outputs: people, concepts, jargon and
// topic categories. All writes are upserts keyed by (episode_id, canonical
// form or slug).
type EntityRepo interface {
	UpsertPeople(dbc dbctx.Context, rows []*domain.Person) error
	UpsertConcepts(dbc dbctx.Context, rows []*domain.Concept) error
	UpsertJargon(dbc dbctx.Context, rows []*domain.Jargon) error
	UpsertCategories(dbc dbctx.Context, rows []*domain.Category) error

	ListPeople(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Person, error)
	ListConcepts(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Concept, error)
	ListJargon(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Jargon, error)
	ListCategories(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Category, error)
}

type entityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEntityRepo(db *gorm.DB, baseLog *logger.Logger) EntityRepo {
	return &entityRepo{db: db, log: baseLog.With("repo", "EntityRepo")}
}

func (r *entityRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func canonicalConflict() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "episode_id"}, {Name: "canonical"}},
		DoUpdates: clause.AssignmentColumns([]string{"surface", "updated_at"}),
	}
}

func (r *entityRepo) UpsertPeople(dbc dbctx.Context, rows []*domain.Person) error {
	if len(rows) == 0 {
		return nil
	}
	oc := canonicalConflict()
	oc.DoUpdates = clause.AssignmentColumns([]string{"surface", "entity_type", "external_ids", "updated_at"})
	return r.tx(dbc).WithContext(dbc.Ctx).Clauses(oc).Create(&rows).Error
}

func (r *entityRepo) UpsertConcepts(dbc dbctx.Context, rows []*domain.Concept) error {
	if len(rows) == 0 {
		return nil
	}
	oc := canonicalConflict()
	oc.DoUpdates = clause.AssignmentColumns([]string{"surface", "aliases", "evidence", "updated_at"})
	return r.tx(dbc).WithContext(dbc.Ctx).Clauses(oc).Create(&rows).Error
}

func (r *entityRepo) UpsertJargon(dbc dbctx.Context, rows []*domain.Jargon) error {
	if len(rows) == 0 {
		return nil
	}
	oc := canonicalConflict()
	oc.DoUpdates = clause.AssignmentColumns([]string{"surface", "aliases", "evidence", "updated_at"})
	return r.tx(dbc).WithContext(dbc.Ctx).Clauses(oc).Create(&rows).Error
}

func (r *entityRepo) UpsertCategories(dbc dbctx.Context, rows []*domain.Category) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "episode_id"}, {Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"ontology_id", "coverage_confidence", "frequency", "claim_ids", "updated_at"}),
	}).Create(&rows).Error
}

func (r *entityRepo) ListPeople(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Person, error) {
	var out []*domain.Person
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("episode_id = ?", episodeID).Order("canonical ASC").Find(&out).Error
	return out, err
}

func (r *entityRepo) ListConcepts(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Concept, error) {
	var out []*domain.Concept
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("episode_id = ?", episodeID).Order("canonical ASC").Find(&out).Error
	return out, err
}

func (r *entityRepo) ListJargon(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Jargon, error) {
	var out []*domain.Jargon
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("episode_id = ?", episodeID).Order("canonical ASC").Find(&out).Error
	return out, err
}

func (r *entityRepo) ListCategories(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Category, error) {
	var out []*domain.Category
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("episode_id = ?", episodeID).Order("coverage_confidence DESC").Find(&out).Error
	return out, err
}
