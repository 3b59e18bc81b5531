package pricing

import (
	"errors"
	"log/slog"
	"net/http"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	httperr "github.com/aevon-lab/fuel-ledger/internal/core/errors"
	"github.com/aevon-lab/fuel-ledger/internal/core/numeric"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Service exposes the price tables over HTTP.
type Service struct {
	cache *Cache
}

func NewService(cache *Cache) *Service {
	if cache == nil {
		panic("pricing: cache must not be nil")
	}
	return &Service{cache: cache}
}

// RegisterRoutes registers the price routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/prices", s.ListPricesHandler)
	r.GET("/v1/prices/quote", s.QuoteHandler)
	r.PUT("/v1/prices/global/:fuel_type", s.SetGlobalPriceHandler)
	r.PUT("/v1/prices/stations/:station_ref/:fuel_type", s.SetStationPriceHandler)
}

type setPriceRequest struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (s *Service) ListPricesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Snapshot())
}

func (s *Service) SetGlobalPriceHandler(c *gin.Context) {
	s.setPrice(c, "")
}

func (s *Service) SetStationPriceHandler(c *gin.Context) {
	s.setPrice(c, c.Param("station_ref"))
}

func (s *Service) setPrice(c *gin.Context, stationRef string) {
	ft, err := v1.ParseFuelType(c.Param("fuel_type"))
	if err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpValidationError, err.Error())
		return
	}

	var req setPriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, "Invalid JSON body")
		return
	}

	book, err := s.cache.SetPrice(c.Request.Context(), storage.PriceEntry{
		StationRef: stationRef,
		FuelType:   ft,
		UnitPrice:  req.UnitPrice,
	})
	if errors.Is(err, ErrInvalidPrice) {
		writeError(c, http.StatusBadRequest, httperr.HttpValidationError, err.Error())
		return
	}
	if err != nil {
		slog.Error("[Pricing] Failed to set price", "station_ref", stationRef, "fuel_type", ft, "error", err)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, "Failed to store price")
		return
	}

	slog.Info("[Pricing] Price updated", "station_ref", stationRef, "fuel_type", ft, "unit_price", req.UnitPrice.StringFixed(3))
	c.JSON(http.StatusOK, book)
}

// QuoteHandler prices a prospective supply so the quoted cost can be shown before saving.
func (s *Service) QuoteHandler(c *gin.Context) {
	ft, err := v1.ParseFuelType(c.Query("fuel_type"))
	if err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpValidationError, err.Error())
		return
	}

	liters := decimal.Zero
	if raw := c.Query("liters"); raw != "" {
		liters, err = numeric.Parse(raw)
		if err != nil || liters.IsNegative() {
			writeError(c, http.StatusBadRequest, httperr.HttpValidationError, "liters must be a non-negative number")
			return
		}
	}

	c.JSON(http.StatusOK, s.cache.Quote(ft, c.Query("station_ref"), liters))
}

func writeError(c *gin.Context, status int, errorType, message string) {
	c.JSON(status, httperr.ErrorResponse{
		ErrorType: errorType,
		Message:   message,
	})
}
