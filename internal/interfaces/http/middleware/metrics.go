package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/prometheus"
)

// Metrics records request counts, latencies, and in-flight requests. The
// route template is used as the path label so run IDs do not explode the
// cardinality.
func Metrics(m *prometheus.AppMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		start := time.Now()
		m.HTTPActiveRequests.WithLabelValues(c.Request.Method, path).Inc()

		c.Next()

		m.HTTPActiveRequests.WithLabelValues(c.Request.Method, path).Dec()
		prometheus.RecordHTTPRequest(m, c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
