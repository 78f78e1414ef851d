package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/prometheus"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checks  map[string]HealthCheck
	logger  logging.Logger
	metrics *prometheus.AppMetrics
}

// NewHealthHandler creates a HealthHandler with named dependency checks.
func NewHealthHandler(checks map[string]HealthCheck, log logging.Logger, metrics *prometheus.AppMetrics) *HealthHandler {
	return &HealthHandler{checks: checks, logger: log, metrics: metrics}
}

// Liveness reports that the process is up.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness probes every dependency and reports 503 when any is down.
func (h *HealthHandler) Readiness(c *gin.Context) {
	components := make(map[string]string, len(h.checks))
	healthy := true

	for name, check := range h.checks {
		status := "up"
		value := 1.0
		if err := check(c.Request.Context()); err != nil {
			status = "down"
			value = 0
			healthy = false
			h.logger.Warn("readiness check failed",
				logging.String("component", name), logging.Err(err))
		}
		components[name] = status
		if h.metrics != nil {
			h.metrics.HealthCheckStatus.WithLabelValues(name).Set(value)
		}
	}

	status := http.StatusOK
	overall := "ready"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "not_ready"
	}
	c.JSON(status, gin.H{"status": overall, "components": components})
}
