package ledger

import (
	"errors"
	"log/slog"
	"net/http"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	httperr "github.com/aevon-lab/fuel-ledger/internal/core/errors"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/gin-gonic/gin"
)

const (
	msgInvalidJSON    = "Invalid JSON body"
	msgBodyTooLarge   = "Request body exceeds maximum allowed size"
	msgDuplicateEvent = "Fuel event already exists with different content"
	msgNotFound       = "Fuel event not found"
	msgPersistFailed  = "Failed to persist fuel event"
	msgReadFailed     = "Failed to read fuel events"
)

// ledgerError carries the structured HTTP error shape back to the handler.
type ledgerError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ledgerError) Error() string {
	return e.message
}

// CreateHandler handles POST /v1/fuel-events.
func (s *Service) CreateHandler(c *gin.Context) {
	evt, lerr := s.parseEvent(c)
	if lerr != nil {
		writeError(c, lerr)
		return
	}

	saved, err := s.Submit(c.Request.Context(), evt, false)
	if err != nil {
		writeError(c, toLedgerError(err, msgPersistFailed))
		return
	}
	c.JSON(http.StatusCreated, saved)
}

// EditHandler handles PUT /v1/fuel-events/:id. The path id wins over any id in the body.
func (s *Service) EditHandler(c *gin.Context) {
	evt, lerr := s.parseEvent(c)
	if lerr != nil {
		writeError(c, lerr)
		return
	}
	evt.ID = c.Param("id")

	saved, err := s.Submit(c.Request.Context(), evt, true)
	if err != nil {
		writeError(c, toLedgerError(err, msgPersistFailed))
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (s *Service) GetHandler(c *gin.Context) {
	evt, err := s.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, toLedgerError(err, msgReadFailed))
		return
	}
	c.JSON(http.StatusOK, evt)
}

func (s *Service) DeleteHandler(c *gin.Context) {
	if err := s.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, toLedgerError(err, msgPersistFailed))
		return
	}
	c.Status(http.StatusNoContent)
}

// LatestOdometerHandler serves the reading a new submission must exceed.
func (s *Service) LatestOdometerHandler(c *gin.Context) {
	vehicleRef := c.Param("vehicle_ref")
	latest, err := s.LatestOdometer(c.Request.Context(), vehicleRef)
	if err != nil {
		writeError(c, toLedgerError(err, msgReadFailed))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"vehicle_ref":     vehicleRef,
		"latest_odometer": latest,
	})
}

// parseEvent binds the body into a FuelEvent, canonicalizing fuel type aliases.
func (s *Service) parseEvent(c *gin.Context) (*v1.FuelEvent, *ledgerError) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBodySizeBytes)

	var evt v1.FuelEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("[Ledger] Request body exceeds maximum size", "max", s.maxBodySizeBytes)
			return nil, &ledgerError{
				statusCode: http.StatusRequestEntityTooLarge,
				errorType:  httperr.HttpInvalidJsonError,
				message:    msgBodyTooLarge,
			}
		}
		slog.Warn("[Ledger] Invalid JSON body received", "error", err)
		return nil, &ledgerError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if ft, err := v1.ParseFuelType(string(evt.FuelType)); err == nil {
		evt.FuelType = ft
	}
	return &evt, nil
}

// toLedgerError maps service errors onto HTTP responses.
func toLedgerError(err error, internalMsg string) *ledgerError {
	var rej *RejectionError
	switch {
	case errors.As(err, &rej):
		details := map[string]interface{}{}
		if rej.LatestOdometer.Valid {
			details["latest_odometer"] = rej.LatestOdometer.Decimal.String()
		}
		if rej.ConflictingEventID != "" {
			details["conflicting_event_id"] = rej.ConflictingEventID
		}
		return &ledgerError{
			statusCode: http.StatusUnprocessableEntity,
			errorType:  string(rej.Reason),
			message:    rej.Message,
			details:    details,
		}
	case errors.Is(err, ErrInvalidEvent):
		return &ledgerError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    err.Error(),
		}
	case errors.Is(err, storage.ErrDuplicate):
		return &ledgerError{
			statusCode: http.StatusConflict,
			errorType:  httperr.HttpDuplicateEventError,
			message:    msgDuplicateEvent,
		}
	case errors.Is(err, storage.ErrNotFound):
		return &ledgerError{
			statusCode: http.StatusNotFound,
			errorType:  httperr.HttpNotFoundError,
			message:    msgNotFound,
		}
	}

	slog.Error("[Ledger] Request failed", "error", err)
	return &ledgerError{
		statusCode: http.StatusInternalServerError,
		errorType:  httperr.HttpInternalError,
		message:    internalMsg,
	}
}

// writeError serializes a ledgerError as the JSON HTTP response.
func writeError(c *gin.Context, err *ledgerError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
