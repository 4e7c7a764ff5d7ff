package llm

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

// CallRepo is the append-only audit trail of model invocations.
type CallRepo interface {
	Append(dbc dbctx.Context, row *domain.LLMCall) error
	ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*domain.LLMCall, error)
	TokenTotalsForEpisode(dbc dbctx.Context, episodeID uuid.UUID) (prompt int64, completion int64, err error)
}

type callRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCallRepo(db *gorm.DB, baseLog *logger.Logger) CallRepo {
	return &callRepo{db: db, log: baseLog.With("repo", "LLMCallRepo")}
}

func (r *callRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *callRepo) Append(dbc dbctx.Context, row *domain.LLMCall) error {
	if row == nil {
		return nil
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *callRepo) ListByJob(dbc dbctx.Context, jobID uuid.UUID) ([]*domain.LLMCall, error) {
	var out []*domain.LLMCall
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *callRepo) TokenTotalsForEpisode(dbc dbctx.Context, episodeID uuid.UUID) (int64, int64, error) {
	type agg struct {
		Prompt     int64
		Completion int64
	}
	var a agg
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.LLMCall{}).
		Select("COALESCE(SUM(prompt_tokens),0) AS prompt, COALESCE(SUM(completion_tokens),0) AS completion").
		Where("episode_id = ?", episodeID).
		Scan(&a).Error
	return a.Prompt, a.Completion, err
}
