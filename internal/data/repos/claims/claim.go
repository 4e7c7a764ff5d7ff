package claims

import (
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

type ListFilter struct {
	Tier     string
	Category string
	Type     string
}

type ClaimRepo interface {
	Upsert(dbc dbctx.Context, rows []*domain.Claim) error
	// UpdateJudgement writes tier/scores/temporality for one claim. Only the
	// judge stage (or an explicit re-evaluation job) calls this.
	UpdateJudgement(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ReplaceEvidence(dbc dbctx.Context, claimID uuid.UUID, spans []*domain.EvidenceSpan) error
	ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID, f ListFilter) ([]*domain.Claim, error)
	ListEvidence(dbc dbctx.Context, claimID uuid.UUID) ([]*domain.EvidenceSpan, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.Claim, error)
	DeleteByEpisodeExcept(dbc dbctx.Context, episodeID uuid.UUID, keepClusterIDs []string) (int64, error)
}

type claimRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewClaimRepo(db *gorm.DB, baseLog *logger.Logger) ClaimRepo {
	return &claimRepo{db: db, log: baseLog.With("repo", "ClaimRepo")}
}

func (r *claimRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

// Upsert is keyed by (episode_id, cluster_id): re-running a stage over
// already-processed data converges instead of duplicating.
func (r *claimRepo) Upsert(dbc dbctx.Context, rows []*domain.Claim) error {
	if len(rows) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "episode_id"}, {Name: "cluster_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"text", "claim_type", "first_mention_t0", "rerank_score", "updated_at",
		}),
	}).Create(&rows).Error
}

func (r *claimRepo) UpdateJudgement(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.tx(dbc).WithContext(dbc.Ctx).
		Model(&domain.Claim{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ReplaceEvidence rewrites a claim's evidence as one atomic unit. Spans are
// re-sequenced 0..n-1 in chronological order of quote t0 before writing.
func (r *claimRepo) ReplaceEvidence(dbc dbctx.Context, claimID uuid.UUID, spans []*domain.EvidenceSpan) error {
	if claimID == uuid.Nil {
		return nil
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].QuoteT0 < spans[j].QuoteT0 })
	for i := range spans {
		spans[i].ClaimID = claimID
		spans[i].Seq = i
		if spans[i].ID == uuid.Nil {
			spans[i].ID = uuid.New()
		}
	}
	return r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Where("claim_id = ?", claimID).Delete(&domain.EvidenceSpan{}).Error; err != nil {
			return err
		}
		if len(spans) == 0 {
			return nil
		}
		return txx.Create(&spans).Error
	})
}

func (r *claimRepo) ListByEpisode(dbc dbctx.Context, episodeID uuid.UUID, f ListFilter) ([]*domain.Claim, error) {
	q := r.tx(dbc).WithContext(dbc.Ctx).Where("episode_id = ?", episodeID)
	if f.Tier != "" {
		q = q.Where("tier = ?", f.Tier)
	}
	if f.Type != "" {
		q = q.Where("claim_type = ?", f.Type)
	}
	var out []*domain.Claim
	if err := q.Order("first_mention_t0 ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	if f.Category == "" {
		return out, nil
	}
	// Category refs live in a JSONB array; filter in-process to stay
	// portable across the sqlite dev driver.
	filtered := out[:0]
	for _, c := range out {
		for _, ref := range DecodeCategoryRefs(c) {
			if ref.Slug == f.Category {
				filtered = append(filtered, c)
				break
			}
		}
	}
	return filtered, nil
}

func (r *claimRepo) ListEvidence(dbc dbctx.Context, claimID uuid.UUID) ([]*domain.EvidenceSpan, error) {
	var out []*domain.EvidenceSpan
	err := r.tx(dbc).WithContext(dbc.Ctx).
		Where("claim_id = ?", claimID).
		Order("seq ASC").
		Find(&out).Error
	return out, err
}

func (r *claimRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*domain.Claim, error) {
	var out []*domain.Claim
	if len(ids) == 0 {
		return out, nil
	}
	err := r.tx(dbc).WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// DeleteByEpisodeExcept removes claims whose clusters vanished on a re-run.
// Evidence rows go with them (cascade is owned here, not by the database,
// because FK constraints are disabled during migration).
func (r *claimRepo) DeleteByEpisodeExcept(dbc dbctx.Context, episodeID uuid.UUID, keepClusterIDs []string) (int64, error) {
	var removed int64
	err := r.tx(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var stale []*domain.Claim
		q := txx.Where("episode_id = ?", episodeID)
		if len(keepClusterIDs) > 0 {
			q = q.Where("cluster_id NOT IN ?", keepClusterIDs)
		}
		if err := q.Find(&stale).Error; err != nil {
			return err
		}
		if len(stale) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(stale))
		for _, c := range stale {
			ids = append(ids, c.ID)
		}
		if err := txx.Where("claim_id IN ?", ids).Delete(&domain.EvidenceSpan{}).Error; err != nil {
			return err
		}
		if err := txx.Where("source_claim_id IN ? OR target_claim_id IN ?", ids, ids).Delete(&domain.Relation{}).Error; err != nil {
			return err
		}
		res := txx.Where("id IN ?", ids).Delete(&domain.Claim{})
		removed = res.RowsAffected
		return res.Error
	})
	return removed, err
}
