package analytics

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	httperr "github.com/aevon-lab/fuel-ledger/internal/core/errors"
	"github.com/aevon-lab/fuel-ledger/internal/observability/metrics"
	"github.com/gin-gonic/gin"
)

const (
	formatXLSX   = "xlsx"
	contentXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	msgBadQuery  = "Invalid stats query"
	msgQueryFail = "Failed to compute stats"
)

// RegisterRoutes registers the analytics routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/stats", s.HandleStats)
	r.GET("/v1/stats/export.xlsx", s.HandleExportXLSX)
	r.GET("/v1/vehicles/:vehicle_ref/fuel-events", s.HandleVehicleSeries)
}

// HandleStats handles GET /v1/stats
// Query parameters: period, compare, group_by, top, evolution
func (s *Service) HandleStats(c *gin.Context) {
	stats, ok := s.queryFromRequest(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleExportXLSX handles GET /v1/stats/export.xlsx with the same parameters as HandleStats.
func (s *Service) HandleExportXLSX(c *gin.Context) {
	stats, ok := s.queryFromRequest(c)
	if !ok {
		metrics.IncExport(formatXLSX, metrics.ResultError)
		return
	}

	body, err := BuildStatsXLSX(stats)
	if err != nil {
		metrics.IncExport(formatXLSX, metrics.ResultError)
		slog.Error("[Analytics] Export failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to render export",
		})
		return
	}

	metrics.IncExport(formatXLSX, metrics.ResultSuccess)
	filename := fmt.Sprintf("fuel-stats-%s.xlsx", stats.Window.Label())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentXLSX, body)
}

// HandleVehicleSeries handles GET /v1/vehicles/:vehicle_ref/fuel-events
func (s *Service) HandleVehicleSeries(c *gin.Context) {
	history, err := s.VehicleSeries(c.Request.Context(), c.Param("vehicle_ref"))
	if err != nil {
		s.writeQueryError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (s *Service) queryFromRequest(c *gin.Context) (PeriodStats, bool) {
	var q StatsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return PeriodStats{}, false
	}

	stats, err := s.Query(c.Request.Context(), q)
	if err != nil {
		s.writeQueryError(c, err)
		return PeriodStats{}, false
	}
	return stats, true
}

func (s *Service) writeQueryError(c *gin.Context, err error) {
	if errors.Is(err, ErrInvalidQuery) {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidQueryError,
			Message:   msgBadQuery,
			Details:   err.Error(),
		})
		return
	}

	slog.Error("[Analytics] Query failed", "error", err)
	c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
		ErrorType: httperr.HttpInternalError,
		Message:   msgQueryFail,
	})
}
