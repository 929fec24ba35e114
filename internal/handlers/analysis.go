package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantforge/analysis-engine/internal/middleware"
	"github.com/quantforge/analysis-engine/internal/models"
	"github.com/quantforge/analysis-engine/internal/observability"
	"github.com/quantforge/analysis-engine/internal/providers"
	"github.com/quantforge/analysis-engine/internal/services"
)

const defaultDaysBefore = 7

// AnalysisHandler exposes the analysis pipeline over HTTP. It owns the
// mapping from pipeline outcomes to status codes; nothing below it
// knows about HTTP.
type AnalysisHandler struct {
	engine      *services.AnalysisEngine
	limiter     *services.RateLimiter
	descriptors []providers.Descriptor
	logger      *logrus.Logger
}

func NewAnalysisHandler(engine *services.AnalysisEngine, limiter *services.RateLimiter, descriptors []providers.Descriptor, logger *logrus.Logger) *AnalysisHandler {
	return &AnalysisHandler{
		engine:      engine,
		limiter:     limiter,
		descriptors: descriptors,
		logger:      logger,
	}
}

type analyzeRequest struct {
	Ticker       string `json:"ticker"`
	AnalysisType string `json:"analysis_type"`
	DaysBefore   *int   `json:"days_before"`
	Timezone     string `json:"timezone"`
}

// Analyze handles POST /api/v1/analysis.
func (h *AnalysisHandler) Analyze(c *gin.Context) {
	var body analyzeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: "Request body must be valid JSON",
		})
		return
	}

	analysisType, err := models.ParseAnalysisType(body.AnalysisType)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	daysBefore := defaultDaysBefore
	if body.DaysBefore != nil {
		daysBefore = *body.DaysBefore
	}
	timezone := body.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	userID, tier := callerIdentity(c)

	req := &models.AnalysisRequest{
		RequestID:    uuid.New().String(),
		Ticker:       body.Ticker,
		AnalysisType: analysisType,
		DaysBefore:   daysBefore,
		Timezone:     timezone,
		UserID:       userID,
		Tier:         tier,
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
		return
	}

	resp, err := h.engine.Analyze(c.Request.Context(), req)
	h.setRateLimitHeaders(c, userID, tier)

	if err != nil {
		h.writeError(c, req, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Providers handles GET /api/v1/providers, listing the configured
// fallback chain in priority order.
func (h *AnalysisHandler) Providers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"providers": h.descriptors,
	})
}

func (h *AnalysisHandler) writeError(c *gin.Context, req *models.AnalysisRequest, err error) {
	if rle, ok := services.AsRateLimitError(err); ok {
		info := rle.Info
		c.JSON(http.StatusTooManyRequests, models.ErrorResponse{
			Error:     "rate_limit_exceeded",
			Message:   fmt.Sprintf("Rate limit exceeded. Try again after %s or upgrade your tier.", info.ResetAt.Format("15:04:05 MST")),
			LimitInfo: &info,
		})
		return
	}

	if errors.Is(err, services.ErrAllProvidersFailed) {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "all_providers_failed",
			Message: "Analysis could not be completed. Automatic fallback across all configured providers was attempted and exhausted.",
		})
		return
	}

	h.logger.WithError(err).WithFields(logrus.Fields{
		"request_id": req.RequestID,
		"ticker":     req.Ticker,
	}).Error("Analysis request failed with internal fault")
	observability.CaptureExceptionWithTags(c.Request.Context(), err, map[string]string{
		"ticker":        req.Ticker,
		"analysis_type": string(req.AnalysisType),
	})

	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred while processing the analysis",
	})
}

func (h *AnalysisHandler) setRateLimitHeaders(c *gin.Context, userID string, tier models.Tier) {
	usage := h.limiter.Usage(userID, tier)
	if usage.HourlyLimit < 0 {
		return
	}
	remaining := usage.HourlyLimit - usage.HourlyUsed
	if remaining < 0 {
		remaining = 0
	}
	c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", usage.HourlyLimit))
	c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
}

// callerIdentity resolves the user and tier set by the auth middleware.
// Anonymous callers are keyed by client IP on the free tier so they
// still get a stable rate-limit bucket.
func callerIdentity(c *gin.Context) (string, models.Tier) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		return "anon:" + c.ClientIP(), models.TierFree
	}
	return userID, models.ParseTier(c.GetString(middleware.ContextUserTier))
}
