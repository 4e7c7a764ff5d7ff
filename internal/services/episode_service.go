package services

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/podsight/backend/internal/data/repos/claims"
	"github.com/podsight/backend/internal/data/repos/entities"
	"github.com/podsight/backend/internal/data/repos/episodes"
	"github.com/podsight/backend/internal/data/repos/search"
	"github.com/podsight/backend/internal/domain"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
)

// ClaimView is a claim with its decoded score blob and ordered evidence,
// the stable read shape for export. No formatting beyond this.
type ClaimView struct {
	Claim    *domain.Claim          `json:"claim"`
	Scores   domain.ClaimScores     `json:"scores"`
	Evidence []*domain.EvidenceSpan `json:"evidence"`
}

type EntityView struct {
	People     []*domain.Person   `json:"people"`
	Concepts   []*domain.Concept  `json:"concepts"`
	Jargon     []*domain.Jargon   `json:"jargon"`
	Categories []*domain.Category `json:"categories"`
}

type SearchHit struct {
	Claim *domain.Claim `json:"claim"`
	Rank  float64       `json:"rank"`
}

// EpisodeService is the read surface over pipeline artifacts.
type EpisodeService interface {
	Get(dbc dbctx.Context, id uuid.UUID) (*domain.Episode, error)
	Claims(dbc dbctx.Context, episodeID uuid.UUID, f claims.ListFilter) ([]ClaimView, error)
	Milestones(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Milestone, error)
	Relations(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Relation, error)
	Entities(dbc dbctx.Context, episodeID uuid.UUID) (*EntityView, error)
	Search(dbc dbctx.Context, query string, f search.Filters, limit int) ([]SearchHit, error)
}

type episodeService struct {
	db       *gorm.DB
	log      *logger.Logger
	episodes episodes.EpisodeRepo
	claims   claims.ClaimRepo
	rels     claims.RelationRepo
	entities entities.EntityRepo
	search   search.SearchRepo
}

func NewEpisodeService(db *gorm.DB, baseLog *logger.Logger, eps episodes.EpisodeRepo, cl claims.ClaimRepo, rl claims.RelationRepo, en entities.EntityRepo, sr search.SearchRepo) EpisodeService {
	return &episodeService{
		db:       db,
		log:      baseLog.With("service", "EpisodeService"),
		episodes: eps,
		claims:   cl,
		rels:     rl,
		entities: en,
		search:   sr,
	}
}

func (s *episodeService) Get(dbc dbctx.Context, id uuid.UUID) (*domain.Episode, error) {
	ep, err := s.episodes.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, fmt.Errorf("%w: episode %s not found", apperr.ErrInvalidInput, id)
	}
	return ep, nil
}

func (s *episodeService) Claims(dbc dbctx.Context, episodeID uuid.UUID, f claims.ListFilter) ([]ClaimView, error) {
	rows, err := s.claims.ListByEpisode(dbc, episodeID, f)
	if err != nil {
		return nil, err
	}
	out := make([]ClaimView, 0, len(rows))
	for _, c := range rows {
		ev, err := s.claims.ListEvidence(dbc, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ClaimView{Claim: c, Scores: claims.DecodeScores(c), Evidence: ev})
	}
	return out, nil
}

func (s *episodeService) Milestones(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Milestone, error) {
	return s.episodes.ListMilestones(dbc, episodeID)
}

func (s *episodeService) Relations(dbc dbctx.Context, episodeID uuid.UUID) ([]*domain.Relation, error) {
	return s.rels.ListByEpisode(dbc, episodeID)
}

func (s *episodeService) Entities(dbc dbctx.Context, episodeID uuid.UUID) (*EntityView, error) {
	people, err := s.entities.ListPeople(dbc, episodeID)
	if err != nil {
		return nil, err
	}
	concepts, err := s.entities.ListConcepts(dbc, episodeID)
	if err != nil {
		return nil, err
	}
	jargon, err := s.entities.ListJargon(dbc, episodeID)
	if err != nil {
		return nil, err
	}
	categories, err := s.entities.ListCategories(dbc, episodeID)
	if err != nil {
		return nil, err
	}
	return &EntityView{People: people, Concepts: concepts, Jargon: jargon, Categories: categories}, nil
}

func (s *episodeService) Search(dbc dbctx.Context, query string, f search.Filters, limit int) ([]SearchHit, error) {
	ranked, err := s.search.Search(dbc, query, f, limit)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return []SearchHit{}, nil
	}
	ids := make([]uuid.UUID, 0, len(ranked))
	for _, r := range ranked {
		ids = append(ids, r.ClaimID)
	}
	rows, err := s.claims.GetByIDs(dbc, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*domain.Claim, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}
	out := make([]SearchHit, 0, len(ranked))
	for _, r := range ranked {
		if c, ok := byID[r.ClaimID]; ok {
			out = append(out, SearchHit{Claim: c, Rank: r.Rank})
		}
	}
	return out, nil
}
