package claims

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

type RelationRepo interface {
	Upsert(dbc dbctx.Context, rows []*domain.Relation) error
	ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Relation, error)
}

type relationRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRelationRepo(db *gorm.DB, baseLog *logger.Logger) RelationRepo {
	return &relationRepo{db: db, log: baseLog.With("repo", "RelationRepo")}
}

func (r *relationRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// Upsert keyed by the (source, target, rel_type) triple; a re-extracted edge
// refreshes strength and rationale instead of duplicating.
func (r *relationRepo) Upsert(dbc dbctx.Context, rows []*domain.Relation) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_claim_id"}, {Name: "target_claim_id"}, {Name: "rel_type"}},
		DoUpdates: clause.AssignmentColumns([]string{"strength", "rationale"}),
	}).Create(&rows).Error
}

func (r *relationRepo) ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Relation, error) {
	var out []*domain.Relation
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("episode_id = ?", episodeID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}
