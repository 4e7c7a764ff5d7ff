package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

type JobEventRepo interface {
	Append(dbc dbctx.Context, jobID uuid.UUID, kind domain.JobEventKind, stage string, progress int, message string, data map[string]any) error
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*domain.JobRunEvent, error)
	CountByKind(dbc dbctx.Context, jobID uuid.UUID, kind domain.JobEventKind) (int64, error)
}

type jobEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobEventRepo(db *gorm.DB, baseLog *logger.Logger) JobEventRepo {
	return &jobEventRepo{db: db, log: baseLog.With("repo", "JobEventRepo")}
}

func (r *jobEventRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobEventRepo) Append(dbc dbctx.Context, jobID uuid.UUID, kind domain.JobEventKind, stage string, progress int, message string, data map[string]any) error {
	if jobID == uuid.Nil {
		return nil
	}
	var blob datatypes.JSON
	if len(data) > 0 {
		b, _ := json.Marshal(data)
		blob = datatypes.JSON(b)
	}
	row := &domain.JobRunEvent{
		ID:        uuid.New(),
		JobID:     jobID,
		Kind:      kind,
		Stage:     stage,
		Progress:  progress,
		Message:   message,
		Data:      blob,
		CreatedAt: time.Now(),
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *jobEventRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*domain.JobRunEvent, error) {
	var out []*domain.JobRunEvent
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *jobEventRepo) CountByKind(dbc dbctx.Context, jobID uuid.UUID, kind domain.JobEventKind) (int64, error) {
	var n int64
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.JobRunEvent{}).
		Where("job_id = ? AND kind = ?", jobID, kind).
		Count(&n).Error
	return n, err
}
