package reputation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/consultcredit/internal/logging"
)

// Handler provides HTTP endpoints for expert pricing and rankings.
type Handler struct {
	service *Service
}

// NewHandler creates a new reputation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public read endpoints.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/tiers", h.ListTiers)
	r.GET("/rankings", h.ListRankings)
	r.GET("/experts/:expertId/level", h.GetExpertLevel)
	r.GET("/experts/:expertId/quote", h.QuoteSession)
}

// RegisterAdminRoutes sets up admin-only endpoints. Counter writes move an
// expert's price, so they are reported by the booking backend with the admin
// secret rather than by end users.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/experts/:expertId/sessions", h.RecordSession)
	r.POST("/experts/:expertId/reviews", h.RecordReview)
	r.POST("/experts/:expertId/likes", h.RecordLike)
	r.GET("/experts/:expertId/stats", h.GetStats)
	r.PUT("/experts/:expertId/stats", h.OverrideStats)
	r.DELETE("/experts/:expertId/stats", h.DeleteStats)
	r.POST("/rankings/recompute", h.Recompute)
}

// GetExpertLevel handles GET /v1/experts/:expertId/level
func (h *Handler) GetExpertLevel(c *gin.Context) {
	lvl, err := h.service.GetExpertLevel(c.Request.Context(), c.Param("expertId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expert": lvl})
}

// QuoteSession handles GET /v1/experts/:expertId/quote?minutes=N
func (h *Handler) QuoteSession(c *gin.Context) {
	minutes, err := strconv.ParseInt(c.Query("minutes"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "minutes must be a positive integer",
		})
		return
	}
	q, err := h.service.QuoteSession(c.Request.Context(), c.Param("expertId"), minutes)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": q})
}

// ListTiers handles GET /v1/tiers
func (h *Handler) ListTiers(c *gin.Context) {
	tiers := h.service.ListTiers()
	c.JSON(http.StatusOK, gin.H{"tiers": tiers, "count": len(tiers)})
}

// ListRankings handles GET /v1/rankings?limit=N
func (h *Handler) ListRankings(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 1000 {
				limit = 1000
			}
		}
	}
	entries, err := h.service.Rankings(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rankings": entries, "count": len(entries)})
}

type recordSessionRequest struct {
	RepeatClient bool `json:"repeatClient"`
}

// RecordSession handles POST /v1/admin/experts/:expertId/sessions
func (h *Handler) RecordSession(c *gin.Context) {
	var req recordSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
	}
	st, err := h.service.RecordSession(c.Request.Context(), c.Param("expertId"), req.RepeatClient)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": st})
}

type recordReviewRequest struct {
	Rating *float64 `json:"rating" binding:"required"`
}

// RecordReview handles POST /v1/admin/experts/:expertId/reviews
func (h *Handler) RecordReview(c *gin.Context) {
	var req recordReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "rating is required"})
		return
	}
	st, err := h.service.RecordReview(c.Request.Context(), c.Param("expertId"), *req.Rating)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": st})
}

// RecordLike handles POST /v1/admin/experts/:expertId/likes
func (h *Handler) RecordLike(c *gin.Context) {
	st, err := h.service.RecordLike(c.Request.Context(), c.Param("expertId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": st})
}

// GetStats handles GET /v1/admin/experts/:expertId/stats
func (h *Handler) GetStats(c *gin.Context) {
	st, err := h.service.GetStats(c.Request.Context(), c.Param("expertId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": st})
}

// OverrideStats handles PUT /v1/admin/experts/:expertId/stats
func (h *Handler) OverrideStats(c *gin.Context) {
	var req Counters
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	st, err := h.service.OverrideStats(c.Request.Context(), c.Param("expertId"), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": st})
}

// DeleteStats handles DELETE /v1/admin/experts/:expertId/stats
func (h *Handler) DeleteStats(c *gin.Context) {
	if err := h.service.DeleteStats(c.Request.Context(), c.Param("expertId")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Recompute handles POST /v1/admin/rankings/recompute
func (h *Handler) Recompute(c *gin.Context) {
	entries, err := h.service.RecomputeAllRankings(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rankings": entries, "count": len(entries)})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Expert has no statistics"})
	default:
		logging.L(c.Request.Context()).Error("reputation request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Request failed"})
	}
}
