// Package efficiency derives per-event consumption intervals using the
// full-to-full method: the liters put in at the next fill-up are what the
// vehicle burned since this one.
//
// Every function here is pure. Undefined intervals are reported through
// decimal.NullDecimal with Valid=false and never as zero.
package efficiency

import (
	"sort"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/shopspring/decimal"
)

const (
	efficiencyPlaces      = 3
	costPerDistancePlaces = 4
)

// Cause explains why an interval has no forward metrics.
type Cause string

const (
	CauseNone                  Cause = ""
	CauseNonPropulsion         Cause = "non_propulsion"
	CauseNoNextFill            Cause = "no_next_fill"
	CauseNonPositiveDistance   Cause = "non_positive_distance"
	CauseNonPositiveNextLiters Cause = "non_positive_next_liters"
)

// IsAnomaly reports whether the cause points at bad data rather than at a
// normal gap such as the latest fill-up or a DEF top-up.
func (c Cause) IsAnomaly() bool {
	return c == CauseNonPositiveDistance || c == CauseNonPositiveNextLiters
}

// Interval is the derived view of one fuel event.
type Interval struct {
	EventID string `json:"event_id"`

	// DistanceFromPrevious is the odometer advance since the previous event of
	// any fuel type. Invalid for the vehicle's first event.
	DistanceFromPrevious decimal.NullDecimal `json:"distance_from_previous"`

	DistanceForward decimal.NullDecimal `json:"distance_forward"`
	Efficiency      decimal.NullDecimal `json:"efficiency"`
	CostPerDistance decimal.NullDecimal `json:"cost_per_distance"`

	// NextLiters is the volume of the closing fill-up. Together with
	// DistanceForward it gives the unrounded efficiency.
	NextLiters decimal.NullDecimal `json:"next_liters"`

	// NextEventID is the fill-up that closes the interval, when one was found.
	NextEventID string `json:"next_event_id,omitempty"`

	Undefined Cause `json:"undefined_cause,omitempty"`
}

// Defined reports whether the interval carries forward metrics.
func (iv Interval) Defined() bool {
	return iv.Efficiency.Valid
}

// ComputeSeries returns one Interval per event, aligned with the input order.
// The events are assumed to belong to one vehicle; they need not be sorted.
func ComputeSeries(events []v1.FuelEvent) []Interval {
	out := make([]Interval, len(events))
	if len(events) == 0 {
		return out
	}

	order := chronological(events)

	for pos, idx := range order {
		evt := events[idx]
		iv := Interval{EventID: evt.ID}

		if pos > 0 {
			prev := events[order[pos-1]]
			iv.DistanceFromPrevious = valid(evt.Odometer.Sub(prev.Odometer))
		}

		if !evt.FuelType.IsPropulsion() {
			iv.Undefined = CauseNonPropulsion
			out[idx] = iv
			continue
		}

		next, ok := nextFill(events, order, pos)
		if !ok {
			iv.Undefined = CauseNoNextFill
			out[idx] = iv
			continue
		}

		iv.NextEventID = next.ID
		distance := next.Odometer.Sub(evt.Odometer)
		switch {
		case !distance.IsPositive():
			iv.Undefined = CauseNonPositiveDistance
		case !next.Liters.IsPositive():
			iv.Undefined = CauseNonPositiveNextLiters
		default:
			iv.DistanceForward = valid(distance)
			iv.NextLiters = valid(next.Liters)
			iv.Efficiency = valid(distance.DivRound(next.Liters, efficiencyPlaces))
			iv.CostPerDistance = valid(next.Cost.DivRound(distance, costPerDistancePlaces))
		}
		out[idx] = iv
	}
	return out
}

// ComputeFleetSeries runs ComputeSeries independently per vehicle and returns
// the intervals aligned with the input order.
func ComputeFleetSeries(events []v1.FuelEvent) []Interval {
	out := make([]Interval, len(events))

	byVehicle := make(map[string][]int)
	for i, evt := range events {
		byVehicle[evt.VehicleRef] = append(byVehicle[evt.VehicleRef], i)
	}

	for _, indexes := range byVehicle {
		group := make([]v1.FuelEvent, len(indexes))
		for j, idx := range indexes {
			group[j] = events[idx]
		}
		for j, iv := range ComputeSeries(group) {
			out[indexes[j]] = iv
		}
	}
	return out
}

// chronological returns input indexes ordered by occurred_at, then odometer, then id.
func chronological(events []v1.FuelEvent) []int {
	order := make([]int, len(events))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := events[order[a]], events[order[b]]
		if !ea.OccurredAt.Equal(eb.OccurredAt) {
			return ea.OccurredAt.Before(eb.OccurredAt)
		}
		if c := ea.Odometer.Cmp(eb.Odometer); c != 0 {
			return c < 0
		}
		return ea.ID < eb.ID
	})
	return order
}

// nextFill finds the nearest later propulsion event; DEF top-ups are not
// full-tank checkpoints.
func nextFill(events []v1.FuelEvent, order []int, pos int) (v1.FuelEvent, bool) {
	for _, idx := range order[pos+1:] {
		if events[idx].FuelType.IsPropulsion() {
			return events[idx], true
		}
	}
	return v1.FuelEvent{}, false
}

func valid(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
