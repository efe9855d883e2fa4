package usage

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/consultcredit/internal/auth"
	"github.com/mbd888/consultcredit/internal/logging"
)

// Handler provides HTTP endpoints for the usage ledger.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new usage handler.
func NewHandler(l *Ledger) *Handler {
	return &Handler{ledger: l}
}

// RegisterProtectedRoutes sets up endpoints acting on the caller's own account.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/usage", h.GetUsage)
	r.POST("/usage/consume", h.Consume)
	r.GET("/usage/history", h.History)
}

// RegisterAdminRoutes sets up endpoints acting on any user's account.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/users/:userId/usage", h.AdminGetUsage)
	r.GET("/users/:userId/usage/history", h.AdminHistory)
	r.POST("/users/:userId/usage/topups", h.TopUp)
	r.POST("/users/:userId/usage/reset", h.Reset)
	r.DELETE("/users/:userId/usage", h.Delete)
}

// GetUsage handles GET /v1/usage?display=purchased_first
func (h *Handler) GetUsage(c *gin.Context) {
	h.writeUsage(c, auth.UserID(c))
}

// AdminGetUsage handles GET /v1/admin/users/:userId/usage
func (h *Handler) AdminGetUsage(c *gin.Context) {
	h.writeUsage(c, c.Param("userId"))
}

func (h *Handler) writeUsage(c *gin.Context, userID string) {
	u, err := h.ledger.GetUsage(c.Request.Context(), userID, c.Query("display") == PurchasedFirst)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": u})
}

// ConsumeRequest is the body of POST /v1/usage/consume.
type ConsumeRequest struct {
	Tokens  int64 `json:"tokens"`
	Precise bool  `json:"precise"`
}

// Consume handles POST /v1/usage/consume
func (h *Handler) Consume(c *gin.Context) {
	var req ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	res, err := h.ledger.Consume(c.Request.Context(), auth.UserID(c), req.Tokens, req.Precise)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": res})
}

// TopUpRequest is the body of a top-up. Exactly one of Tokens or Credits is set.
type TopUpRequest struct {
	Tokens  int64 `json:"tokens"`
	Credits int64 `json:"credits"`
}

// TopUp handles POST /v1/admin/users/:userId/usage/topups
func (h *Handler) TopUp(c *gin.Context) {
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if (req.Tokens != 0) == (req.Credits != 0) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Provide exactly one of tokens or credits",
		})
		return
	}

	var acct *Account
	var err error
	if req.Credits != 0 {
		acct, err = h.ledger.AddPurchasedCredits(c.Request.Context(), c.Param("userId"), req.Credits)
	} else {
		acct, err = h.ledger.AddPurchasedTokens(c.Request.Context(), c.Param("userId"), req.Tokens)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "summary": Summarize(acct, false)})
}

// Reset handles POST /v1/admin/users/:userId/usage/reset
func (h *Handler) Reset(c *gin.Context) {
	acct, err := h.ledger.ResetMonthly(c.Request.Context(), c.Param("userId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct, "summary": Summarize(acct, false)})
}

// Delete handles DELETE /v1/admin/users/:userId/usage
func (h *Handler) Delete(c *gin.Context) {
	if err := h.ledger.DeleteAccount(c.Request.Context(), c.Param("userId")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// History handles GET /v1/usage/history?limit=N
func (h *Handler) History(c *gin.Context) {
	h.writeHistory(c, auth.UserID(c))
}

// AdminHistory handles GET /v1/admin/users/:userId/usage/history
func (h *Handler) AdminHistory(c *gin.Context) {
	h.writeHistory(c, c.Param("userId"))
}

func (h *Handler) writeHistory(c *gin.Context, userID string) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries, err := h.ledger.History(c.Request.Context(), userID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Usage account not found"})
	default:
		logging.L(c.Request.Context()).Error("usage request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Request failed"})
	}
}
