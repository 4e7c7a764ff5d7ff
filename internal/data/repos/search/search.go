// Package search ranks claims by full-text relevance over claim text and
// evidence quotes. Read-only; the tsvector projection it queries is derived
// and rebuildable, never the source of truth.
package search

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

type Filters struct {
	EpisodeID uuid.UUID
	Tier      string
	Type      string
}

type RankedClaim struct {
	ClaimID uuid.UUID `json:"claim_id"`
	Rank    float64   `json:"rank"`
}

type SearchRepo interface {
	Search(dbc dbctx.Context, query string, f Filters, limit int) ([]RankedClaim, error)
}

func NewSearchRepo(db *gorm.DB, baseLog *logger.Logger, postgres bool) SearchRepo {
	log := baseLog.With("repo", "SearchRepo")
	if postgres {
		return &pgSearchRepo{db: db, log: log}
	}
	return &likeSearchRepo{db: db, log: log}
}

type pgSearchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func (r *pgSearchRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *pgSearchRepo) Search(dbc dbctx.Context, query string, f Filters, limit int) ([]RankedClaim, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []RankedClaim{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	// Claim-text rank weighted over best evidence-quote rank; one read-only
	// statement so writers are never held beyond their own transaction.
	sql := `
    SELECT c.id AS claim_id,
           ts_rank(c.text_tsv, q) +
             0.5 * COALESCE((
               SELECT MAX(ts_rank(e.quote_tsv, q))
               FROM evidence_span e
               WHERE e.claim_id = c.id
             ), 0) AS rank
    FROM claim c, websearch_to_tsquery('english', @query) q
    WHERE (c.text_tsv @@ q
           OR EXISTS (
             SELECT 1 FROM evidence_span e
             WHERE e.claim_id = c.id AND e.quote_tsv @@ q
           ))`
	args := map[string]interface{}{"query": query, "limit": limit}
	if f.EpisodeID != uuid.Nil {
		sql += ` AND c.episode_id = @episode`
		args["episode"] = f.EpisodeID
	}
	if f.Tier != "" {
		sql += ` AND c.tier = @tier`
		args["tier"] = f.Tier
	}
	if f.Type != "" {
		sql += ` AND c.claim_type = @type`
		args["type"] = f.Type
	}
	sql += ` ORDER BY rank DESC LIMIT @limit`

	var out []RankedClaim
	err := r.tx(dbc).WithContext(dbc.Ctx).Raw(sql, args).Scan(&out).Error
	return out, err
}

// likeSearchRepo is the degraded dev-mode fallback for the sqlite driver.
type likeSearchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func (r *likeSearchRepo) tx(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *likeSearchRepo) Search(dbc dbctx.Context, query string, f Filters, limit int) ([]RankedClaim, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []RankedClaim{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	pat := "%" + strings.ToLower(query) + "%"
	sql := `
    SELECT c.id AS claim_id, 1.0 AS rank
    FROM claim c
    WHERE (LOWER(c.text) LIKE @pat
           OR EXISTS (
             SELECT 1 FROM evidence_span e
             WHERE e.claim_id = c.id AND LOWER(e.quote) LIKE @pat
           ))`
	args := map[string]interface{}{"pat": pat, "limit": limit}
	if f.EpisodeID != uuid.Nil {
		sql += ` AND c.episode_id = @episode`
		args["episode"] = f.EpisodeID
	}
	if f.Tier != "" {
		sql += ` AND c.tier = @tier`
		args["tier"] = f.Tier
	}
	if f.Type != "" {
		sql += ` AND c.claim_type = @type`
		args["type"] = f.Type
	}
	sql += ` ORDER BY c.first_mention_t0 ASC LIMIT @limit`

	var out []RankedClaim
	err := r.tx(dbc).WithContext(dbc.Ctx).Raw(sql, args).Scan(&out).Error
	return out, err
}
