// Package episodeextract is the job handler for "process episode E through
// the pipeline": skim, mine, dedup, rerank, judge, relations, entities,
// finalize, with a durable checkpoint after every stage.
package episodeextract

import (
	"github.com/podsight/backend/internal/data/repos/claims"
	"github.com/podsight/backend/internal/data/repos/entities"
	"github.com/podsight/backend/internal/data/repos/episodes"
	"github.com/podsight/backend/internal/llm"
	"github.com/podsight/backend/internal/pipeline"
	"github.com/podsight/backend/internal/pkg/logger"
)

const JobType = "episode_extract"

type Deps struct {
	Log      *logger.Logger
	Cfg      pipeline.Config
	HW       llm.HardwareProfile
	Invoker  pipeline.Caller
	Embedder llm.Embedder

	Episodes  episodes.EpisodeRepo
	Claims    claims.ClaimRepo
	Relations claims.RelationRepo
	Entities  entities.EntityRepo
}

type Handler struct {
	d Deps
}

func New(d Deps) *Handler {
	return &Handler{d: d}
}

func (h *Handler) Type() string { return JobType }
