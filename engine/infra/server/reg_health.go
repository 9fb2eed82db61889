package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compozy/policyrag/engine/infra/monitoring"
	"github.com/compozy/policyrag/pkg/logger"
)

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
	healthTimeout   = 2 * time.Second
)

// HealthChecker is implemented by every backing store the server depends on.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Health endpoint
//
//	@Summary      Get server health
//	@Description  Returns overall service health and the status of each backing store
//	@Tags         health
//	@Produce      json
//	@Success      200 {object} map[string]interface{} "Service is healthy"
//	@Failure      503 {object} map[string]interface{} "A dependency is unhealthy"
//	@Router       /api/v0/health [get]
func CreateHealthHandler(checkers map[string]HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		components := gin.H{}
		healthy := true
		for name, checker := range checkers {
			if checker == nil {
				continue
			}
			if err := checker.HealthCheck(ctx); err != nil {
				logger.FromContext(ctx).Warn("Health check failed", "component", name, "error", err)
				components[name] = gin.H{"status": statusUnhealthy, "error": err.Error()}
				healthy = false
				continue
			}
			components[name] = gin.H{"status": statusHealthy}
		}
		status := statusHealthy
		code := http.StatusOK
		if !healthy {
			status = statusUnhealthy
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":     status,
			"version":    monitoring.CurrentBuild().Version,
			"components": components,
		})
	}
}
