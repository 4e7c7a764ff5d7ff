package episodes

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

type EpisodeRepo interface {
	CreateWithSegments(dbc dbctx.Context, ep *domain.Episode, segs []*domain.Segment) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Episode, error)
	ListSegments(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Segment, error)
	UpsertMilestones(dbc dbctx.Context, rows []*domain.Milestone) error
	ListMilestones(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Milestone, error)
}

type episodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEpisodeRepo(db *gorm.DB, baseLog *logger.Logger) EpisodeRepo {
	return &episodeRepo{db: db, log: baseLog.With("repo", "EpisodeRepo")}
}

func (r *episodeRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// CreateWithSegments writes the episode and its segments in one transaction
// so a job never sees a half-created bundle.
func (r *episodeRepo) CreateWithSegments(dbc dbctx.Context, ep *domain.Episode, segs []*domain.Segment) error {
	return r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Create(ep).Error; err != nil {
			return err
		}
		if len(segs) == 0 {
			return nil
		}
		return txx.CreateInBatches(segs, 200).Error
	})
}

func (r *episodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.Episode, error) {
	var ep domain.Episode
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&ep).Error
	if err != nil {
		return nil, err
	}
	if ep.ID == uuid.Nil {
		return nil, nil
	}
	return &ep, nil
}

func (r *episodeRepo) ListSegments(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Segment, error) {
	var out []*domain.Segment
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("episode_id = ?", episodeID).
		Order("idx ASC").
		Find(&out).Error
	return out, err
}

func (r *episodeRepo) UpsertMilestones(dbc dbctx.Context, rows []*domain.Milestone) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "episode_id"}, {Name: "idx"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "t0", "t1", "segment_from", "segment_to"}),
	}).Create(&rows).Error
}

func (r *episodeRepo) ListMilestones(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Milestone, error) {
	var out []*domain.Milestone
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("episode_id = ?", episodeID).
		Order("idx ASC").
		Find(&out).Error
	return out, err
}
