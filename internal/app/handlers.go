package app

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/podsight/backend/internal/data/repos/claims"
	"github.com/podsight/backend/internal/data/repos/search"
	"github.com/podsight/backend/internal/pkg/apperr"
	"github.com/podsight/backend/internal/pkg/dbctx"
	"github.com/podsight/backend/internal/pkg/logger"
	"github.com/podsight/backend/internal/services"
)

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: msg, Code: code}})
}

func respondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

// statusFor maps service errors onto HTTP codes. Bad input is the caller's
// problem, everything else is ours.
func statusFor(err error) int {
	if errors.Is(err, apperr.ErrInvalidInput) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

type handlers struct {
	log      *logger.Logger
	jobs     services.JobService
	episodes services.EpisodeService
}

func newHandlers(log *logger.Logger, svc Services) *handlers {
	return &handlers{
		log:      log.With("component", "handlers"),
		jobs:     svc.Jobs,
		episodes: svc.Episodes,
	}
}

func healthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func reqCtx(c *gin.Context) dbctx.Context {
	return dbctx.Context{Ctx: c.Request.Context()}
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_id", err)
		return uuid.Nil, false
	}
	return id, true
}

// POST /v1/episodes
func (h *handlers) SubmitEpisode(c *gin.Context) {
	var bundle services.Bundle
	if err := c.ShouldBindJSON(&bundle); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	job, err := h.jobs.Submit(reqCtx(c), bundle)
	if err != nil {
		respondError(c, statusFor(err), "submit_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

// GET /v1/jobs/:id
func (h *handlers) GetJob(c *gin.Context) {
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	st, err := h.jobs.Status(reqCtx(c), jobID)
	if err != nil {
		respondError(c, statusFor(err), "job_not_found", err)
		return
	}
	respondOK(c, st)
}

// POST /v1/jobs/:id/resume
func (h *handlers) ResumeJob(c *gin.Context) {
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Resume(reqCtx(c), jobID)
	if err != nil {
		respondError(c, statusFor(err), "resume_failed", err)
		return
	}
	respondOK(c, gin.H{"job": job})
}

// POST /v1/jobs/:id/cancel
func (h *handlers) CancelJob(c *gin.Context) {
	jobID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.Cancel(reqCtx(c), jobID)
	if err != nil {
		respondError(c, statusFor(err), "cancel_failed", err)
		return
	}
	respondOK(c, gin.H{"job": job})
}

// GET /v1/episodes/:id
func (h *handlers) GetEpisode(c *gin.Context) {
	epID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	ep, err := h.episodes.Get(reqCtx(c), epID)
	if err != nil {
		respondError(c, statusFor(err), "episode_not_found", err)
		return
	}
	respondOK(c, gin.H{"episode": ep})
}

// GET /v1/episodes/:id/claims?tier=&category=&type=
func (h *handlers) ListClaims(c *gin.Context) {
	epID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	f := claims.ListFilter{
		Tier:     c.Query("tier"),
		Category: c.Query("category"),
		Type:     c.Query("type"),
	}
	rows, err := h.episodes.Claims(reqCtx(c), epID, f)
	if err != nil {
		respondError(c, statusFor(err), "list_claims_failed", err)
		return
	}
	respondOK(c, gin.H{"claims": rows})
}

// GET /v1/episodes/:id/milestones
func (h *handlers) ListMilestones(c *gin.Context) {
	epID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	rows, err := h.episodes.Milestones(reqCtx(c), epID)
	if err != nil {
		respondError(c, statusFor(err), "list_milestones_failed", err)
		return
	}
	respondOK(c, gin.H{"milestones": rows})
}

// GET /v1/episodes/:id/relations
func (h *handlers) ListRelations(c *gin.Context) {
	epID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	rows, err := h.episodes.Relations(reqCtx(c), epID)
	if err != nil {
		respondError(c, statusFor(err), "list_relations_failed", err)
		return
	}
	respondOK(c, gin.H{"relations": rows})
}

// GET /v1/episodes/:id/entities
func (h *handlers) ListEntities(c *gin.Context) {
	epID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	view, err := h.episodes.Entities(reqCtx(c), epID)
	if err != nil {
		respondError(c, statusFor(err), "list_entities_failed", err)
		return
	}
	respondOK(c, view)
}

// GET /v1/search?q=&episode_id=&tier=&type=&limit=
func (h *handlers) SearchClaims(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		respondError(c, http.StatusBadRequest, "missing_query", errors.New("q is required"))
		return
	}
	f := search.Filters{
		Tier: c.Query("tier"),
		Type: c.Query("type"),
	}
	if raw := c.Query("episode_id"); raw != "" {
		epID, err := uuid.Parse(raw)
		if err != nil {
			respondError(c, http.StatusBadRequest, "invalid_episode_id", err)
			return
		}
		f.EpisodeID = epID
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(c, http.StatusBadRequest, "invalid_limit", errors.New("limit must be 1..500"))
			return
		}
		limit = n
	}
	hits, err := h.episodes.Search(reqCtx(c), q, f, limit)
	if err != nil {
		respondError(c, statusFor(err), "search_failed", err)
		return
	}
	respondOK(c, gin.H{"hits": hits})
}
