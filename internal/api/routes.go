package api

import (
	"swipestats-go/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, handler *Handler, cfg *config.Config) {
	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// System endpoints
		v1.GET("/health", handler.HealthCheck)
		v1.GET("/ready", handler.ReadyCheck)

		// Ingestion endpoint
		v1.POST("/ingest", handler.IngestExport)

		// Profile read endpoints
		profiles := v1.Group("/profiles")
		{
			profiles.GET("/:externalId", handler.GetProfile)
			profiles.GET("/:externalId/snapshot", handler.GetSnapshot)
			profiles.GET("/:externalId/matches", handler.ListMatches)
			profiles.GET("/:externalId/usage", handler.ListUsage)
		}
	}
}

// SetupMiddleware configures all middleware
func SetupMiddleware(router *gin.Engine, cfg *config.Config) {
	// Request ID middleware
	router.Use(RequestIDMiddleware())

	// CORS middleware
	allowedOrigins := []string{"http://localhost:3000", "http://localhost:8080"}
	router.Use(CORSMiddleware(allowedOrigins))

	// Rate limiting
	limiter := rate.NewLimiter(rate.Limit(float64(cfg.RateLimit.RequestsPerMinute)/60.0), cfg.RateLimit.BurstSize)
	router.Use(RateLimitMiddleware(limiter))
}
