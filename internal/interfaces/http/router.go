// Package http wires the gin route tree and the HTTP server of the
// demand-analysis API.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/prometheus"
	"github.com/urbanpulse/demandmap/internal/interfaces/http/handlers"
	"github.com/urbanpulse/demandmap/internal/interfaces/http/middleware"
)

// RouterConfig aggregates the handler and middleware dependencies of the
// route tree.
type RouterConfig struct {
	AnalysisHandler *handlers.AnalysisHandler
	HealthHandler   *handlers.HealthHandler

	Logger    logging.Logger
	Metrics   *prometheus.AppMetrics
	Collector prometheus.MetricsCollector

	Mode string
}

// NewRouter builds the complete route tree.
func NewRouter(cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogger(cfg.Logger))
	}
	if cfg.Metrics != nil {
		r.Use(middleware.Metrics(cfg.Metrics))
	}

	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.Liveness)
		r.GET("/readyz", cfg.HealthHandler.Readiness)
	}
	if cfg.Collector != nil {
		r.GET("/metrics", gin.WrapH(cfg.Collector.Handler()))
	}

	if cfg.AnalysisHandler != nil {
		api := r.Group("/api/v1")
		api.POST("/observations", cfg.AnalysisHandler.Ingest)
		api.POST("/analyses", cfg.AnalysisHandler.RunAnalysis)
		api.GET("/fits", cfg.AnalysisHandler.ListFits)
		api.GET("/fits/:runID", cfg.AnalysisHandler.GetFit)
		api.GET("/fits/:runID/residuals", cfg.AnalysisHandler.GetResiduals)
	}

	return r
}
