package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/consultcredit/internal/health"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Checks    []health.Status `json:"checks"`
	Timestamp time.Time       `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())

	resp := HealthResponse{
		Status:    "healthy",
		Checks:    statuses,
		Timestamp: time.Now().UTC(),
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// livenessHandler reports whether the process is up. Dependencies are not
// consulted.
func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessHandler reports whether the server should receive traffic.
func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if healthy, statuses := s.checks.CheckAll(c.Request.Context()); !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// statusHandler reports background workers for operators.
func (s *Server) statusHandler(c *gin.Context) {
	scheduler := gin.H{
		"running":  s.scheduler.Running(),
		"schedule": s.cfg.RankingSchedule,
	}
	if next := s.scheduler.NextRun(); next != nil {
		scheduler["nextRun"] = next.UTC()
	}
	c.JSON(http.StatusOK, gin.H{
		"rankingScheduler": scheduler,
		"rateLimiter":      gin.H{"trackedCallers": s.rateLimiter.Tracked()},
		"realtime":         s.realtimeHub.Stats(),
		"ready":            s.ready.Load(),
	})
}
