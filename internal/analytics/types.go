package analytics

import (
	"fmt"
	"strings"
	"time"

	"github.com/aevon-lab/fuel-ledger/internal/core/period"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/shopspring/decimal"
)

const (
	// DefaultTopN is the ranking length when a request leaves it unset.
	DefaultTopN = 5

	// DefaultEvolutionPeriods is the trend length when a request leaves it unset.
	DefaultEvolutionPeriods = 6

	// ChartSize truncates distributions for chart consumers.
	ChartSize = 5

	// UnresolvedLabel names entries the directory could not resolve.
	UnresolvedLabel = "unresolved"
)

// AnomalyFactor flags a group whose cost exceeds this multiple of the mean cost
// per active group. It is an outlier heuristic, not a statistical test.
var AnomalyFactor = decimal.RequireFromString("1.5")

// GroupBy selects the grouping key of PeriodStats.Groups.
type GroupBy string

const (
	GroupFleet    GroupBy = "fleet"
	GroupVehicle  GroupBy = "vehicle"
	GroupSector   GroupBy = "sector"
	GroupFuelType GroupBy = "fuel_type"
	GroupDriver   GroupBy = "driver"
)

// ParseGroupBy accepts the case-insensitive grouping names; empty means fleet.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return GroupFleet, nil
	case GroupFleet, GroupVehicle, GroupSector, GroupFuelType, GroupDriver:
		return g, nil
	}
	return "", fmt.Errorf("group_by %q is not supported", s)
}

// Labels carries directory data used to name vehicles and sectors.
// Missing entries are rendered as unresolved, never as errors.
type Labels struct {
	Vehicles map[string]storage.VehicleInfo
	Sectors  map[string]storage.SectorInfo
}

// Request parameterizes Aggregate.
type Request struct {
	Window     period.Window
	Comparison period.Window
	GroupBy    GroupBy

	TopN             int
	EvolutionPeriods int

	Labels Labels
}

func (r Request) withDefaults() Request {
	if r.Comparison.IsZero() {
		r.Comparison = r.Window.Previous()
	}
	if r.GroupBy == "" {
		r.GroupBy = GroupFleet
	}
	if r.TopN <= 0 {
		r.TopN = DefaultTopN
	}
	if r.EvolutionPeriods <= 0 {
		r.EvolutionPeriods = DefaultEvolutionPeriods
	}
	return r
}

// Summary holds the core statistics for one key and window.
type Summary struct {
	Cost   decimal.Decimal `json:"cost"`
	Liters decimal.Decimal `json:"liters"`
	Count  int             `json:"count"`

	// Distance sums the forward distance of intervals that start in the window.
	Distance decimal.Decimal `json:"distance"`

	// AverageEfficiency is the mean of defined forward efficiencies whose owning
	// event falls in the window, computed from unrounded interval values and
	// rounded to 3 places. Invalid when there are none.
	AverageEfficiency decimal.NullDecimal `json:"average_efficiency"`

	// CostPerDistance is Cost / Distance, invalid without distance.
	CostPerDistance decimal.NullDecimal `json:"cost_per_distance"`
}

// Deltas are percent changes against the comparison window. A zero baseline
// reports 0.
type Deltas struct {
	Cost     decimal.Decimal `json:"cost"`
	Liters   decimal.Decimal `json:"liters"`
	Count    decimal.Decimal `json:"count"`
	Distance decimal.Decimal `json:"distance"`
}

// GroupStats is one entry of the selected grouping.
type GroupStats struct {
	Key      string  `json:"key"`
	Label    string  `json:"label"`
	Current  Summary `json:"current"`
	Previous Summary `json:"previous"`
	Deltas   Deltas  `json:"deltas"`

	// Share is the entry's percent of the fleet cost in the window.
	Share decimal.Decimal `json:"share"`
	Alert bool            `json:"alert"`
}

// RankEntry is one row of a top-N ranking.
type RankEntry struct {
	Key   string          `json:"key"`
	Label string          `json:"label"`
	Cost  decimal.Decimal `json:"cost"`
	Count int             `json:"count"`
}

// Rankings are truncated to Request.TopN.
type Rankings struct {
	VehiclesByCost  []RankEntry `json:"vehicles_by_cost"`
	SectorsByCost   []RankEntry `json:"sectors_by_cost"`
	DriversByCost   []RankEntry `json:"drivers_by_cost"`
	VehiclesByCount []RankEntry `json:"vehicles_by_count"`
	DriversByCount  []RankEntry `json:"drivers_by_count"`
}

// Slice is one share of a distribution, sorted by cost.
type Slice struct {
	Key     string          `json:"key"`
	Label   string          `json:"label"`
	Cost    decimal.Decimal `json:"cost"`
	Liters  decimal.Decimal `json:"liters"`
	Count   int             `json:"count"`
	Percent decimal.Decimal `json:"percent"`
}

// EvolutionPoint is one period of the trailing trend.
type EvolutionPoint struct {
	Label  string          `json:"label"`
	Start  time.Time       `json:"start"`
	End    time.Time       `json:"end"`
	Cost   decimal.Decimal `json:"cost"`
	Liters decimal.Decimal `json:"liters"`
	Count  int             `json:"count"`
}

// PeriodStats is the full result of one aggregation.
type PeriodStats struct {
	Window     period.Window `json:"window"`
	Comparison period.Window `json:"comparison"`
	GroupBy    GroupBy       `json:"group_by"`

	Summary  Summary `json:"summary"`
	Previous Summary `json:"previous"`
	Deltas   Deltas  `json:"deltas"`

	Groups []GroupStats `json:"groups"`
	Alerts []GroupStats `json:"alerts"`

	Rankings Rankings `json:"rankings"`

	FuelTypes     []Slice `json:"fuel_types"`
	FuelTypeChart []Slice `json:"fuel_type_chart"`
	Sectors       []Slice `json:"sectors"`
	SectorChart   []Slice `json:"sector_chart"`

	Evolution []EvolutionPoint `json:"evolution"`

	// Excluded counts malformed events left out of every sum.
	Excluded int `json:"excluded"`
}
