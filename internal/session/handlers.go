package session

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/celf-labs/celfd/internal/accrual"
)

// Handler provides HTTP endpoints for the mining session lifecycle.
type Handler struct {
	controller  *Controller
	defaultRate accrual.RateConfig
}

// NewHandler creates a new session handler. The default rate config is
// snapshotted into every started session; clients may only adjust the
// multiplier fields, never the base rate.
func NewHandler(controller *Controller, defaultRate accrual.RateConfig) *Handler {
	return &Handler{controller: controller, defaultRate: defaultRate}
}

// RegisterRoutes sets up mining session routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/mining/:accountId/start", h.StartSession)
	r.GET("/mining/:accountId/session", h.GetSession)
	r.GET("/mining/:accountId/history", h.ListHistory)
	r.POST("/mining/sessions/:sessionId/pause", h.PauseSession)
	r.POST("/mining/sessions/:sessionId/resume", h.ResumeSession)
	r.POST("/mining/sessions/:sessionId/stop", h.StopSession)
}

type startSessionRequest struct {
	BoostBps    int64 `json:"boostBps"`
	ReferralBps int64 `json:"referralBps"`
}

// StartSession handles POST /api/v1/mining/:accountId/start
func (h *Handler) StartSession(c *gin.Context) {
	accountID := c.Param("accountId")

	var req startSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
	}

	// The base rate is server-owned; only the multipliers come from the
	// request.
	rc := h.defaultRate
	if req.BoostBps > 0 {
		rc.BoostBps = req.BoostBps
	}
	if req.ReferralBps > 0 {
		rc.ReferralBps = req.ReferralBps
	}

	s, err := h.controller.Start(c.Request.Context(), accountID, rc)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionAlreadyActive):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "session_already_active",
				"message": "Account already has an open mining session",
			})
		case errors.Is(err, accrual.ErrInvalidRate):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_rate",
				"message": err.Error(),
			})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusCreated, s)
}

// GetSession handles GET /api/v1/mining/:accountId/session
func (h *Handler) GetSession(c *gin.Context) {
	accountID := c.Param("accountId")

	snap, err := h.controller.Snapshot(c.Request.Context(), accountID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_open_session",
			"message": "Account has no open mining session",
		})
		return
	}

	c.JSON(http.StatusOK, snap)
}

// ListHistory handles GET /api/v1/mining/:accountId/history
func (h *Handler) ListHistory(c *gin.Context) {
	accountID := c.Param("accountId")

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	sessions, err := h.controller.History(c.Request.Context(), accountID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	if sessions == nil {
		sessions = []*Session{}
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// PauseSession handles POST /api/v1/mining/sessions/:sessionId/pause
func (h *Handler) PauseSession(c *gin.Context) {
	s, err := h.controller.Pause(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.transitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ResumeSession handles POST /api/v1/mining/sessions/:sessionId/resume
func (h *Handler) ResumeSession(c *gin.Context) {
	s, err := h.controller.Resume(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.transitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// StopSession handles POST /api/v1/mining/sessions/:sessionId/stop
func (h *Handler) StopSession(c *gin.Context) {
	rec, err := h.controller.Stop(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.transitionError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *Handler) transitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "session_not_found",
			"message": "Mining session not found",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
	}
}
