package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	appdemand "github.com/urbanpulse/demandmap/internal/application/demand"
	"github.com/urbanpulse/demandmap/internal/infrastructure/monitoring/logging"
	"github.com/urbanpulse/demandmap/pkg/errors"
	"github.com/urbanpulse/demandmap/pkg/types/demand"
)

// AnalysisHandler exposes observation ingestion, fit runs, and residual
// diagnostics over HTTP.
type AnalysisHandler struct {
	service appdemand.Service
	logger  logging.Logger
}

// NewAnalysisHandler creates an AnalysisHandler.
func NewAnalysisHandler(service appdemand.Service, log logging.Logger) *AnalysisHandler {
	return &AnalysisHandler{service: service, logger: log}
}

// IngestRequest is the body of POST /observations.
type IngestRequest struct {
	Observations []demand.Observation `json:"observations" binding:"required"`
	Source       string               `json:"source"`
}

// IngestResponse acknowledges a stored observation set.
type IngestResponse struct {
	Units int `json:"units"`
}

// Ingest replaces the stored observation set.
func (h *AnalysisHandler) Ingest(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, errors.Wrap(err, errors.ErrCodeBadRequest, "invalid request body"))
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	ds := &demand.Dataset{Observations: req.Observations}
	if err := h.service.IngestObservations(c.Request.Context(), ds, req.Source); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, IngestResponse{Units: ds.Len()})
}

// RunAnalysis fits the model against the stored observations and returns the
// full analysis result.
func (h *AnalysisHandler) RunAnalysis(c *gin.Context) {
	result, err := h.service.RunAnalysis(c.Request.Context(), "api")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// ListFits returns recent fit runs, newest first. The limit query parameter
// caps the page size.
func (h *AnalysisHandler) ListFits(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(c, errors.New(errors.ErrCodeBadRequest, "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	fits, err := h.service.ListFits(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fits": fits})
}

// GetFit returns one fit run. The literal run ID "latest" resolves to the
// most recent run.
func (h *AnalysisHandler) GetFit(c *gin.Context) {
	runID := c.Param("runID")

	var (
		fit *demand.FitResult
		err error
	)
	if runID == "latest" {
		fit, err = h.service.LatestFit(c.Request.Context())
	} else {
		fit, err = h.service.GetFit(c.Request.Context(), runID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, fit)
}

// GetResiduals returns the residual diagnostics of one fit run.
func (h *AnalysisHandler) GetResiduals(c *gin.Context) {
	records, err := h.service.GetResiduals(c.Request.Context(), c.Param("runID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"residuals": records})
}
