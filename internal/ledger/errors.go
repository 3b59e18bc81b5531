package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrRejected is wrapped by every business-rule rejection. Infrastructure
	// failures never satisfy errors.Is(err, ErrRejected).
	ErrRejected = errors.New("submission rejected")

	ErrInvalidVolume        = fmt.Errorf("%w: invalid volume", ErrRejected)
	ErrInvalidOdometer      = fmt.Errorf("%w: invalid odometer", ErrRejected)
	ErrOdometerNotMonotonic = fmt.Errorf("%w: odometer not monotonic", ErrRejected)
	ErrDuplicateInvoice     = fmt.Errorf("%w: duplicate invoice", ErrRejected)

	// ErrInvalidEvent is returned when the event envelope is incomplete.
	ErrInvalidEvent = errors.New("invalid fuel event")
)

// Reason identifies which invariant a rejected submission violated.
type Reason string

const (
	ReasonInvalidVolume        Reason = "invalid_volume"
	ReasonInvalidOdometer      Reason = "invalid_odometer"
	ReasonOdometerNotMonotonic Reason = "odometer_not_monotonic"
	ReasonDuplicateInvoice     Reason = "duplicate_invoice"
)

// RejectionError is a user-correctable refusal to persist a submission.
type RejectionError struct {
	Reason  Reason
	Message string

	// LatestOdometer is the vehicle's latest recorded reading (OdometerNotMonotonic).
	LatestOdometer decimal.NullDecimal

	// ConflictingEventID is the event that blocked the submission, when there is one.
	ConflictingEventID string
}

func (e *RejectionError) Error() string {
	return e.Message
}

func (e *RejectionError) Unwrap() error {
	switch e.Reason {
	case ReasonInvalidVolume:
		return ErrInvalidVolume
	case ReasonInvalidOdometer:
		return ErrInvalidOdometer
	case ReasonOdometerNotMonotonic:
		return ErrOdometerNotMonotonic
	case ReasonDuplicateInvoice:
		return ErrDuplicateInvoice
	}
	return ErrRejected
}

func invalidVolume() *RejectionError {
	return &RejectionError{
		Reason:  ReasonInvalidVolume,
		Message: "liters must be greater than zero",
	}
}

func invalidOdometer() *RejectionError {
	return &RejectionError{
		Reason:  ReasonInvalidOdometer,
		Message: "odometer must be greater than zero",
	}
}

func odometerNotMonotonic(latest decimal.Decimal, latestID string) *RejectionError {
	return &RejectionError{
		Reason:             ReasonOdometerNotMonotonic,
		Message:            fmt.Sprintf("new reading must exceed the last recorded value of %s", latest.String()),
		LatestOdometer:     decimal.NullDecimal{Decimal: latest, Valid: true},
		ConflictingEventID: latestID,
	}
}

func duplicateInvoice(stationRef, invoiceNumber, conflictingID string) *RejectionError {
	return &RejectionError{
		Reason:             ReasonDuplicateInvoice,
		Message:            fmt.Sprintf("invoice %s from station %s is already registered", invoiceNumber, stationRef),
		ConflictingEventID: conflictingID,
	}
}
