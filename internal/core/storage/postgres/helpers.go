package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/numeric"
	"github.com/lib/pq"
)

const (
	pqUniqueViolation = "23505"
	invoiceIndexName  = "fuel_events_invoice_uidx"
)

// errMalformedRow marks a row whose stored values cannot be read back.
// List queries skip such rows; single-row reads surface the error.
var errMalformedRow = errors.New("malformed fuel event row")

type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEventRow scans a row selected with eventColumns into a FuelEvent.
// Numeric columns are read as text so a corrupt value is reported instead of
// silently becoming zero.
func scanEventRow(row scanner) (*v1.FuelEvent, error) {
	var evt v1.FuelEvent
	var fuelType string
	var liters, odometer, cost sql.NullString

	err := row.Scan(
		&evt.ID,
		&evt.Protocol,
		&evt.VehicleRef,
		&evt.DriverName,
		&evt.FiscalName,
		&evt.OccurredAt,
		&fuelType,
		&evt.UnitPriceLabel,
		&liters,
		&odometer,
		&cost,
		&evt.StationRef,
		&evt.InvoiceNumber,
		&evt.SectorRef,
		&evt.Notes,
		&evt.CreatedAt,
		&evt.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan fuel event row: %w", err)
	}

	ft, err := v1.ParseFuelType(fuelType)
	if err != nil {
		return &evt, fmt.Errorf("%w: event %s: %v", errMalformedRow, evt.ID, err)
	}
	evt.FuelType = ft

	if evt.Liters, err = numeric.Parse(liters.String); err != nil {
		return &evt, fmt.Errorf("%w: event %s liters: %v", errMalformedRow, evt.ID, err)
	}
	if evt.Odometer, err = numeric.Parse(odometer.String); err != nil {
		return &evt, fmt.Errorf("%w: event %s odometer: %v", errMalformedRow, evt.ID, err)
	}
	if evt.Cost, err = numeric.Parse(cost.String); err != nil {
		return &evt, fmt.Errorf("%w: event %s cost: %v", errMalformedRow, evt.ID, err)
	}

	return &evt, nil
}

// eventArgs returns the positional arguments for querySaveEvent.
func eventArgs(evt *v1.FuelEvent) []interface{} {
	return []interface{}{
		evt.ID,
		evt.Protocol,
		evt.VehicleRef,
		evt.DriverName,
		evt.FiscalName,
		evt.OccurredAt,
		string(evt.FuelType),
		evt.UnitPriceLabel,
		evt.Liters.String(),
		evt.Odometer.String(),
		evt.Cost.String(),
		evt.StationRef,
		evt.InvoiceNumber,
		evt.SectorRef,
		evt.Notes,
		evt.CreatedAt,
		evt.UpdatedAt,
	}
}

// uniqueViolation returns the violated constraint name when err is a postgres
// unique_violation.
func uniqueViolation(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}
