package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func wireRouter(cfg Config, h *handlers) *gin.Engine {
	router := gin.Default()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
	}))

	router.GET("/healthcheck", healthCheck)

	v1 := router.Group("/v1")
	{
		v1.POST("/episodes", h.SubmitEpisode)
		v1.GET("/episodes/:id", h.GetEpisode)
		v1.GET("/episodes/:id/claims", h.ListClaims)
		v1.GET("/episodes/:id/milestones", h.ListMilestones)
		v1.GET("/episodes/:id/relations", h.ListRelations)
		v1.GET("/episodes/:id/entities", h.ListEntities)

		v1.GET("/jobs/:id", h.GetJob)
		v1.POST("/jobs/:id/resume", h.ResumeJob)
		v1.POST("/jobs/:id/cancel", h.CancelJob)

		v1.GET("/search", h.SearchClaims)
	}

	return router
}
