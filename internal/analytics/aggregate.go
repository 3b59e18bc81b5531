// Package analytics reduces fuel events and their derived intervals into
// period statistics: totals, deltas, groupings, rankings, distributions and a
// trailing trend.
package analytics

import (
	"log/slog"
	"sort"
	"strings"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/numeric"
	"github.com/aevon-lab/fuel-ledger/internal/core/period"
	"github.com/aevon-lab/fuel-ledger/internal/efficiency"
	"github.com/shopspring/decimal"
)

type row struct {
	evt      v1.FuelEvent
	interval efficiency.Interval
}

// Aggregate computes PeriodStats for req. series is matched to events by event
// id, so it may cover more history than events; events without an interval
// contribute no distance or efficiency.
//
// Malformed events are skipped and counted in PeriodStats.Excluded. Aggregate
// never fails; a window without events yields an all-zero result.
func Aggregate(events []v1.FuelEvent, series []efficiency.Interval, req Request) PeriodStats {
	req = req.withDefaults()

	intervals := make(map[string]efficiency.Interval, len(series))
	for _, iv := range series {
		intervals[iv.EventID] = iv
	}

	stats := PeriodStats{
		Window:     req.Window,
		Comparison: req.Comparison,
		GroupBy:    req.GroupBy,
	}

	rows := make([]row, 0, len(events))
	for _, evt := range events {
		if reason := malformed(evt); reason != "" {
			stats.Excluded++
			slog.Warn("[Analytics] Excluded malformed fuel event",
				"event_id", evt.ID,
				"vehicle_ref", evt.VehicleRef,
				"reason", reason)
			continue
		}
		rows = append(rows, row{evt: evt, interval: intervals[evt.ID]})
	}

	current := within(rows, req.Window)
	previous := within(rows, req.Comparison)

	stats.Summary = summarize(current)
	stats.Previous = summarize(previous)
	stats.Deltas = deltas(stats.Summary, stats.Previous)

	// Fleet mode groups by vehicle so the alert heuristic has entries to compare.
	stats.Groups = groups(current, previous, keyFunc(req.GroupBy, req.Labels), stats.Summary.Cost)
	stats.Alerts = make([]GroupStats, 0)
	for _, g := range stats.Groups {
		if g.Alert {
			stats.Alerts = append(stats.Alerts, g)
		}
	}

	vehicleKey := keyFunc(GroupVehicle, req.Labels)
	sectorKey := keyFunc(GroupSector, req.Labels)
	driverKey := keyFunc(GroupDriver, req.Labels)
	stats.Rankings = Rankings{
		VehiclesByCost:  rank(current, vehicleKey, byCost, req.TopN),
		SectorsByCost:   rank(current, sectorKey, byCost, req.TopN),
		DriversByCost:   rank(current, driverKey, byCost, req.TopN),
		VehiclesByCount: rank(current, vehicleKey, byCount, req.TopN),
		DriversByCount:  rank(current, driverKey, byCount, req.TopN),
	}

	stats.FuelTypes = distribution(current, keyFunc(GroupFuelType, req.Labels), stats.Summary.Cost)
	stats.FuelTypeChart = truncate(stats.FuelTypes, ChartSize)
	stats.Sectors = distribution(current, sectorKey, stats.Summary.Cost)
	stats.SectorChart = truncate(stats.Sectors, ChartSize)

	stats.Evolution = evolution(rows, req.Window.Trailing(req.EvolutionPeriods))

	return stats
}

// malformed returns why evt cannot be aggregated, or "" when it can.
func malformed(evt v1.FuelEvent) string {
	switch {
	case strings.TrimSpace(evt.VehicleRef) == "":
		return "missing vehicle_ref"
	case evt.OccurredAt.IsZero():
		return "missing occurred_at"
	case !evt.Liters.IsPositive():
		return "non-positive liters"
	case evt.Cost.IsNegative():
		return "negative cost"
	}
	return ""
}

func within(rows []row, w period.Window) []row {
	out := make([]row, 0)
	if w.IsZero() {
		return out
	}
	for _, r := range rows {
		if w.Contains(r.evt.OccurredAt) {
			out = append(out, r)
		}
	}
	return out
}

// accumulator folds rows into a Summary.
type accumulator struct {
	cost     decimal.Decimal
	liters   decimal.Decimal
	count    int
	distance decimal.Decimal
	effSum   decimal.Decimal
	effCount int64
}

func (a *accumulator) add(r row) {
	a.cost = a.cost.Add(r.evt.Cost)
	a.liters = a.liters.Add(r.evt.Liters)
	a.count++
	if r.interval.Defined() {
		a.effSum = a.effSum.Add(exactEfficiency(r.interval))
		a.effCount++
		a.distance = a.distance.Add(r.interval.DistanceForward.Decimal)
	}
}

func (a *accumulator) summary() Summary {
	s := Summary{
		Cost:     a.cost.Round(2),
		Liters:   a.liters.Round(3),
		Count:    a.count,
		Distance: a.distance.Round(2),
	}
	if a.effCount > 0 {
		s.AverageEfficiency = decimal.NullDecimal{Decimal: a.effSum.DivRound(decimal.NewFromInt(a.effCount), 3), Valid: true}
	}
	if a.distance.IsPositive() {
		s.CostPerDistance = decimal.NullDecimal{Decimal: a.cost.DivRound(a.distance, 4), Valid: true}
	}
	return s
}

// exactEfficiency recomputes the interval efficiency without the per-interval
// rounding so that window averages are rounded once.
func exactEfficiency(iv efficiency.Interval) decimal.Decimal {
	if !iv.NextLiters.Valid || !iv.NextLiters.Decimal.IsPositive() {
		return iv.Efficiency.Decimal
	}
	return iv.DistanceForward.Decimal.Div(iv.NextLiters.Decimal)
}

func summarize(rows []row) Summary {
	var acc accumulator
	for _, r := range rows {
		acc.add(r)
	}
	return acc.summary()
}

func deltas(cur, prev Summary) Deltas {
	return Deltas{
		Cost:     numeric.PercentChange(cur.Cost, prev.Cost),
		Liters:   numeric.PercentChange(cur.Liters, prev.Liters),
		Count:    numeric.PercentChange(decimal.NewFromInt(int64(cur.Count)), decimal.NewFromInt(int64(prev.Count))),
		Distance: numeric.PercentChange(cur.Distance, prev.Distance),
	}
}

// keyFunc returns the grouping key and display label of an event.
type keyFn func(v1.FuelEvent) (key, label string)

func keyFunc(g GroupBy, labels Labels) keyFn {
	switch g {
	case GroupSector:
		return func(evt v1.FuelEvent) (string, string) {
			ref := evt.SectorRef
			if ref == "" {
				ref = labels.Vehicles[evt.VehicleRef].SectorRef
			}
			if ref == "" {
				return "", UnresolvedLabel
			}
			if info, ok := labels.Sectors[ref]; ok && info.Label != "" {
				return ref, info.Label
			}
			return ref, ref
		}
	case GroupFuelType:
		return func(evt v1.FuelEvent) (string, string) {
			return string(evt.FuelType), string(evt.FuelType)
		}
	case GroupDriver:
		return func(evt v1.FuelEvent) (string, string) {
			name := strings.TrimSpace(evt.DriverName)
			if name == "" {
				return "", UnresolvedLabel
			}
			return name, name
		}
	default: // GroupVehicle, GroupFleet
		return func(evt v1.FuelEvent) (string, string) {
			if info, ok := labels.Vehicles[evt.VehicleRef]; ok && info.Label != "" {
				return evt.VehicleRef, info.Label
			}
			return evt.VehicleRef, evt.VehicleRef
		}
	}
}

// bucket groups rows by key, remembering first-seen labels.
type bucket struct {
	order  []string
	labels map[string]string
	accs   map[string]*accumulator
}

func newBucket(rows []row, key keyFn) *bucket {
	b := &bucket{labels: make(map[string]string), accs: make(map[string]*accumulator)}
	for _, r := range rows {
		k, label := key(r.evt)
		acc, ok := b.accs[k]
		if !ok {
			acc = &accumulator{}
			b.accs[k] = acc
			b.labels[k] = label
			b.order = append(b.order, k)
		}
		acc.add(r)
	}
	return b
}

func groups(current, previous []row, key keyFn, fleetCost decimal.Decimal) []GroupStats {
	cur := newBucket(current, key)
	prev := newBucket(previous, key)

	out := make([]GroupStats, 0, len(cur.order))
	if len(cur.order) == 0 {
		return out
	}

	threshold := fleetCost.Div(decimal.NewFromInt(int64(len(cur.order)))).Mul(AnomalyFactor)

	for _, k := range cur.order {
		g := GroupStats{
			Key:     k,
			Label:   cur.labels[k],
			Current: cur.accs[k].summary(),
		}
		if acc, ok := prev.accs[k]; ok {
			g.Previous = acc.summary()
		} else {
			g.Previous = (&accumulator{}).summary()
		}
		g.Deltas = deltas(g.Current, g.Previous)
		g.Share = numeric.Share(g.Current.Cost, fleetCost)
		g.Alert = g.Current.Cost.GreaterThan(threshold)
		out = append(out, g)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Current.Cost.Cmp(out[j].Current.Cost); c != 0 {
			return c > 0
		}
		return out[i].Key < out[j].Key
	})
	return out
}

type rankOrder int

const (
	byCost rankOrder = iota
	byCount
)

func rank(rows []row, key keyFn, order rankOrder, n int) []RankEntry {
	b := newBucket(rows, key)

	out := make([]RankEntry, 0, len(b.order))
	for _, k := range b.order {
		acc := b.accs[k]
		out = append(out, RankEntry{Key: k, Label: b.labels[k], Cost: acc.cost.Round(2), Count: acc.count})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if order == byCount && out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if c := out[i].Cost.Cmp(out[j].Cost); c != 0 {
			return c > 0
		}
		return out[i].Key < out[j].Key
	})

	if len(out) > n {
		out = out[:n]
	}
	return out
}

func distribution(rows []row, key keyFn, total decimal.Decimal) []Slice {
	b := newBucket(rows, key)

	out := make([]Slice, 0, len(b.order))
	for _, k := range b.order {
		acc := b.accs[k]
		out = append(out, Slice{
			Key:     k,
			Label:   b.labels[k],
			Cost:    acc.cost.Round(2),
			Liters:  acc.liters.Round(3),
			Count:   acc.count,
			Percent: numeric.Share(acc.cost, total),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Cost.Cmp(out[j].Cost); c != 0 {
			return c > 0
		}
		return out[i].Key < out[j].Key
	})
	return out
}

func truncate(s []Slice, n int) []Slice {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func evolution(rows []row, windows []period.Window) []EvolutionPoint {
	out := make([]EvolutionPoint, 0, len(windows))
	for _, w := range windows {
		var acc accumulator
		for _, r := range within(rows, w) {
			acc.add(r)
		}
		out = append(out, EvolutionPoint{
			Label:  w.Label(),
			Start:  w.Start,
			End:    w.End,
			Cost:   acc.cost.Round(2),
			Liters: acc.liters.Round(3),
			Count:  acc.count,
		})
	}
	return out
}
