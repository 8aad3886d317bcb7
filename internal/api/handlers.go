package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"swipestats-go/internal/database"
	"swipestats-go/internal/models"
	"swipestats-go/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler holds all handlers and dependencies
type Handler struct {
	ingestService  *services.IngestService
	metricsService *services.MetricsService
	log            *zap.Logger
}

// NewHandler creates a new handler instance
func NewHandler(ingestService *services.IngestService, metricsService *services.MetricsService, log *zap.Logger) *Handler {
	return &Handler{
		ingestService:  ingestService,
		metricsService: metricsService,
		log:            log,
	}
}

// IngestRequest is the body of POST /ingest
type IngestRequest struct {
	DataURL          string  `json:"dataUrl" binding:"required,url"`
	ExternalID       string  `json:"externalId" binding:"required"`
	UserID           string  `json:"userId" binding:"required"`
	Platform         string  `json:"platform" binding:"required,oneof=tinder hinge"`
	Timezone         *string `json:"timezone,omitempty"`
	Country          *string `json:"country,omitempty"`
	AbsorbExternalID *string `json:"absorbExternalId,omitempty"`
}

// HealthCheck handles health check endpoint
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// ReadyCheck handles readiness check endpoint
func (h *Handler) ReadyCheck(c *gin.Context) {
	// Check database connection
	sqlDB, err := database.DB.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "database_connection_failed",
		})
		return
	}

	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"reason": "database_ping_failed",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// IngestExport handles one synchronous whole-file ingestion
func (h *Handler) IngestExport(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid ingest request body", err)
		return
	}

	result, err := h.ingestService.Ingest(c.Request.Context(), services.IngestParams{
		DataURL:          req.DataURL,
		ExternalID:       req.ExternalID,
		UserID:           req.UserID,
		Platform:         req.Platform,
		Timezone:         req.Timezone,
		Country:          req.Country,
		AbsorbExternalID: req.AbsorbExternalID,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrActiveWindowOverlap):
			h.errorResponse(c, http.StatusConflict, "WINDOW_OVERLAP", "Old and new active windows overlap", err)
		case errors.Is(err, services.ErrProfileNotFound):
			h.errorResponse(c, http.StatusNotFound, "PROFILE_NOT_FOUND", "Profile to absorb not found", err)
		case errors.Is(err, services.ErrMissingIdentity):
			h.errorResponse(c, http.StatusUnprocessableEntity, "MISSING_IDENTITY", "Export is missing required identity fields", err)
		case errors.Is(err, services.ErrUnsupportedPlatform):
			h.errorResponse(c, http.StatusBadRequest, "UNSUPPORTED_PLATFORM", "Unsupported platform", err)
		default:
			h.errorResponse(c, http.StatusInternalServerError, "INGEST_ERROR", "Failed to ingest export", err)
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"profile": result.Profile,
		"summary": result.Summary,
	})
}

// GetProfile gets a profile by external id
func (h *Handler) GetProfile(c *gin.Context) {
	profile, ok := h.findProfile(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"profile": profile,
	})
}

// GetSnapshot returns the derived statistics snapshot. The persisted
// all-time snapshot is served directly; windowed periods are recomputed on
// demand from the same engine so they can never drift.
func (h *Handler) GetSnapshot(c *gin.Context) {
	profile, ok := h.findProfile(c)
	if !ok {
		return
	}

	period, err := services.ParsePeriod(c.Query("period"), time.Now().UTC())
	if err != nil {
		h.errorResponse(c, http.StatusBadRequest, "INVALID_PERIOD", "Invalid period filter", err)
		return
	}

	if period.All {
		var snapshot models.MetaSnapshot
		err := database.DB.Where("profile_id = ? AND period_key = ?", profile.ID, services.PeriodKeyAllTime).
			First(&snapshot).Error
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"snapshot": snapshot})
			return
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			h.errorResponse(c, http.StatusInternalServerError, "GET_ERROR", "Failed to get snapshot", err)
			return
		}
	}

	var full models.Profile
	if err := database.DB.Preload("UsageRecords").Preload("Matches").Preload("IdentityEvents").
		First(&full, profile.ID).Error; err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "GET_ERROR", "Failed to load profile graph", err)
		return
	}

	snapshot := h.metricsService.Compute(&full, period)
	c.JSON(http.StatusOK, gin.H{"snapshot": snapshot})
}

// ListMatches lists a profile's matches with pagination
func (h *Handler) ListMatches(c *gin.Context) {
	profile, ok := h.findProfile(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if limit > 500 {
		limit = 500
	}
	if page < 1 {
		page = 1
	}

	var matches []models.Match
	var total int64

	query := database.DB.Model(&models.Match{}).Where("profile_id = ?", profile.ID)

	if err := query.Count(&total).Error; err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "COUNT_ERROR", "Failed to count matches", err)
		return
	}

	offset := (page - 1) * limit
	if err := query.Order("match_index ASC").Offset(offset).Limit(limit).Find(&matches).Error; err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "LIST_ERROR", "Failed to list matches", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"matches": matches,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// ListUsage lists a profile's daily usage rows, optionally bounded by
// from/to dates (YYYY-MM-DD)
func (h *Handler) ListUsage(c *gin.Context) {
	profile, ok := h.findProfile(c)
	if !ok {
		return
	}

	query := database.DB.Where("profile_id = ?", profile.ID)
	if from := c.Query("from"); from != "" {
		query = query.Where("date >= ?", from)
	}
	if to := c.Query("to"); to != "" {
		query = query.Where("date <= ?", to)
	}

	var records []models.UsageRecord
	if err := query.Order("date ASC").Find(&records).Error; err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "LIST_ERROR", "Failed to list usage", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"usage": records,
	})
}

// findProfile resolves the :externalId route param plus optional platform
// query into a profile row, writing the error response itself on failure
func (h *Handler) findProfile(c *gin.Context) (*models.Profile, bool) {
	externalID := c.Param("externalId")
	platform := c.DefaultQuery("platform", services.PlatformTinder)

	var profile models.Profile
	err := database.DB.Where("external_id = ? AND platform = ?", externalID, platform).
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		h.errorResponse(c, http.StatusNotFound, "NOT_FOUND", "Profile not found", err)
		return nil, false
	}
	if err != nil {
		h.errorResponse(c, http.StatusInternalServerError, "GET_ERROR", "Failed to get profile", err)
		return nil, false
	}

	return &profile, true
}

// errorResponse sends a standardized error response
func (h *Handler) errorResponse(c *gin.Context, status int, code, message string, err error) {
	requestID := c.GetString("request_id")

	response := gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
		"request_id": requestID,
	}

	if err != nil {
		h.log.Error("Request error",
			zap.String("code", code),
			zap.String("message", message),
			zap.Error(err),
			zap.String("request_id", requestID),
		)
	}

	c.JSON(status, response)
}
