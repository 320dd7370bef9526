package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker ジオデータのバックエンドへの疎通確認
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler GET /api/health
type HealthHandler struct {
	checker  HealthChecker
	backend  string
	registry *SessionRegistry
}

func NewHealthHandler(checker HealthChecker, backend string, registry *SessionRegistry) *HealthHandler {
	return &HealthHandler{
		checker:  checker,
		backend:  backend,
		registry: registry,
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	if err := h.checker.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unhealthy",
			"service": "MachineMap-App",
			"backend": h.backend,
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"service":  "MachineMap-App",
		"backend":  h.backend,
		"sessions": h.registry.Count(),
	})
}
