package v1

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FuelType identifies the fluid delivered by a supply event.
type FuelType string

const (
	FuelDiesel    FuelType = "diesel"
	FuelDieselS10 FuelType = "diesel_s10"
	FuelGasoline  FuelType = "gasoline"
	FuelEthanol   FuelType = "ethanol"

	// FuelARLA is diesel exhaust fluid (DEF/ARLA 32). It is billed like any other
	// supply but does not propel the vehicle, so it never marks a full-tank checkpoint.
	FuelARLA FuelType = "arla"
)

// FuelTypes lists every supported fuel type in display order.
var FuelTypes = []FuelType{FuelDiesel, FuelDieselS10, FuelGasoline, FuelEthanol, FuelARLA}

var fuelTypeAliases = map[string]FuelType{
	"diesel":     FuelDiesel,
	"diesel_s10": FuelDieselS10,
	"s10":        FuelDieselS10,
	"gasoline":   FuelGasoline,
	"ethanol":    FuelEthanol,
	"arla":       FuelARLA,
	"arla32":     FuelARLA,
	"def":        FuelARLA,
}

// ParseFuelType resolves a case-insensitive fuel type key or alias.
func ParseFuelType(s string) (FuelType, error) {
	ft, ok := fuelTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown fuel type %q", s)
	}
	return ft, nil
}

// Valid reports whether ft is one of the supported fuel types.
func (ft FuelType) Valid() bool {
	for _, known := range FuelTypes {
		if ft == known {
			return true
		}
	}
	return false
}

// IsPropulsion reports whether the fluid is burned to move the vehicle.
func (ft FuelType) IsPropulsion() bool {
	return ft != FuelARLA
}

// FuelEvent is one refueling transaction, the atomic unit of the ledger.
//
// Driver, fiscal and sector fields are snapshots taken at write time, not foreign
// keys: historical records must stay readable after the referenced person leaves
// or the vehicle moves to another sector.
type FuelEvent struct {
	// ID is the opaque unique identifier. Assigned by the ledger when empty.
	ID string `json:"id"`

	// Protocol is the human-facing sequential reference, generated at creation and never reused.
	Protocol string `json:"protocol"`

	// VehicleRef is the stable vehicle key (plate), independent of the display label.
	VehicleRef string `json:"vehicle_ref"`

	DriverName string `json:"driver_name,omitempty"`
	FiscalName string `json:"fiscal_name,omitempty"`

	// OccurredAt is when the supply happened (date + time).
	OccurredAt time.Time `json:"occurred_at"`

	FuelType FuelType `json:"fuel_type"`

	// UnitPriceLabel is the unit price in effect at the time, kept as text for audit.
	UnitPriceLabel string `json:"unit_price_label,omitempty"`

	// Liters supplied, 3-decimal precision.
	Liters decimal.Decimal `json:"liters"`

	// Odometer is the cumulative distance or engine-hours reading. The unit is
	// vehicle-dependent; only monotonic increase over time is assumed.
	Odometer decimal.Decimal `json:"odometer"`

	// Cost is the total amount. Quoted as liters × unit price when not supplied,
	// operator-overridable afterwards.
	Cost decimal.Decimal `json:"cost"`

	StationRef    string `json:"station_ref,omitempty"`
	InvoiceNumber string `json:"invoice_number,omitempty"`

	// SectorRef is the organizational unit the vehicle belonged to at supply time.
	SectorRef string `json:"sector_ref,omitempty"`

	Notes string `json:"notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate ensures the event carries the fields every submission needs.
// Volume and odometer rules are enforced by the ledger as rejections.
func (e *FuelEvent) Validate() error {
	if strings.TrimSpace(e.VehicleRef) == "" {
		return fmt.Errorf("vehicle_ref is required")
	}

	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred_at is required")
	}

	if !e.FuelType.Valid() {
		return fmt.Errorf("fuel_type %q is not supported", e.FuelType)
	}

	return nil
}

// Normalize trims reference fields and rounds numeric fields to their stored precision.
func (e *FuelEvent) Normalize() {
	e.VehicleRef = strings.TrimSpace(e.VehicleRef)
	e.StationRef = strings.TrimSpace(e.StationRef)
	e.InvoiceNumber = strings.TrimSpace(e.InvoiceNumber)
	e.SectorRef = strings.TrimSpace(e.SectorRef)
	e.Liters = e.Liters.Round(3)
	e.Odometer = e.Odometer.Round(2)
	e.Cost = e.Cost.Round(2)
}

// HasInvoice reports whether both receipt identifiers are present.
func (e *FuelEvent) HasInvoice() bool {
	return e.InvoiceNumber != "" && e.StationRef != ""
}

// SameContent reports whether two events carry the same operator-supplied data.
// Server-assigned fields (protocol, timestamps of record) are ignored.
func (e *FuelEvent) SameContent(o *FuelEvent) bool {
	return e.ID == o.ID &&
		e.VehicleRef == o.VehicleRef &&
		e.DriverName == o.DriverName &&
		e.FiscalName == o.FiscalName &&
		e.OccurredAt.Equal(o.OccurredAt) &&
		e.FuelType == o.FuelType &&
		e.UnitPriceLabel == o.UnitPriceLabel &&
		e.Liters.Equal(o.Liters) &&
		e.Odometer.Equal(o.Odometer) &&
		e.Cost.Equal(o.Cost) &&
		e.StationRef == o.StationRef &&
		e.InvoiceNumber == o.InvoiceNumber &&
		e.SectorRef == o.SectorRef &&
		e.Notes == o.Notes
}
