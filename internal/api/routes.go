package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantforge/analysis-engine/internal/database"
	"github.com/quantforge/analysis-engine/internal/handlers"
	"github.com/quantforge/analysis-engine/internal/middleware"
)

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Services  Services  `json:"services"`
}

type Services struct {
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

// SetupRoutes wires the HTTP surface. Analysis endpoints use optional
// auth: authenticated callers get their tier's quota, anonymous callers
// fall back to free-tier limits keyed by client IP.
func SetupRoutes(
	router *gin.Engine,
	db *database.PostgresDB,
	redis *database.RedisClient,
	auth *middleware.AuthMiddleware,
	analysis *handlers.AnalysisHandler,
	version string,
) {
	router.GET("/health", healthCheck(db, redis, version))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/analysis", auth.OptionalAuth(), analysis.Analyze)
		v1.GET("/providers", analysis.Providers)
	}
}

func healthCheck(db *database.PostgresDB, redis *database.RedisClient, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		response := HealthResponse{
			Status:    "ok",
			Timestamp: time.Now(),
			Version:   version,
			Services: Services{
				Database: "ok",
				Redis:    "ok",
			},
		}

		if err := db.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Database = "error"
			response.Status = "degraded"
		}

		if err := redis.HealthCheck(c.Request.Context()); err != nil {
			response.Services.Redis = "error"
			response.Status = "degraded"
		}

		statusCode := http.StatusOK
		if response.Status == "degraded" {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, response)
	}
}
