package analytics

import (
	"fmt"
	"testing"
	"time"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/period"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/aevon-lab/fuel-ledger/internal/efficiency"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	march    = period.Month(2026, time.March, time.UTC)
	february = period.Month(2026, time.February, time.UTC)
)

func supply(id, vehicle string, at time.Time, ft v1.FuelType, odometer, liters, cost string) v1.FuelEvent {
	return v1.FuelEvent{
		ID:         id,
		VehicleRef: vehicle,
		OccurredAt: at,
		FuelType:   ft,
		Odometer:   decimal.RequireFromString(odometer),
		Liters:     decimal.RequireFromString(liters),
		Cost:       decimal.RequireFromString(cost),
	}
}

func day(month time.Month, d int) time.Time {
	return time.Date(2026, month, d, 10, 0, 0, 0, time.UTC)
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, decimal.RequireFromString(want).Equal(got), "expected %s, got %s", want, got)
}

func fleetEvents() []v1.FuelEvent {
	events := []v1.FuelEvent{
		supply("a1", "AAA", day(time.March, 1), v1.FuelDiesel, "1000", "50", "300"),
		supply("a2", "AAA", day(time.March, 10), v1.FuelDiesel, "1500", "100", "600"),
		supply("a3", "AAA", day(time.March, 12), v1.FuelARLA, "1520", "5", "20"),
		supply("b1", "BBB", day(time.March, 2), v1.FuelGasoline, "200", "40", "250.50"),
		supply("b2", "BBB", day(time.March, 20), v1.FuelGasoline, "600", "40", "260"),
		supply("c1", "CCC", day(time.February, 15), v1.FuelDieselS10, "50", "30", "180"),
	}
	events[0].SectorRef, events[1].SectorRef, events[2].SectorRef = "ops", "ops", "ops"
	events[3].SectorRef, events[4].SectorRef = "sales", "sales"
	events[0].DriverName, events[1].DriverName, events[2].DriverName = "Ana", "Ana", "Ana"
	events[3].DriverName, events[4].DriverName = "Bruno", ""
	return events
}

func TestAggregate_TotalsAreIndependentOfGrouping(t *testing.T) {
	events := fleetEvents()
	series := efficiency.ComputeFleetSeries(events)

	for _, g := range []GroupBy{GroupFleet, GroupVehicle, GroupSector, GroupFuelType, GroupDriver} {
		t.Run(string(g), func(t *testing.T) {
			stats := Aggregate(events, series, Request{Window: march, GroupBy: g})

			requireAmount(t, "1430.50", stats.Summary.Cost)
			requireAmount(t, "235", stats.Summary.Liters)
			require.Equal(t, 5, stats.Summary.Count)

			groupCost, groupLiters, groupCount := decimal.Zero, decimal.Zero, 0
			for _, grp := range stats.Groups {
				groupCost = groupCost.Add(grp.Current.Cost)
				groupLiters = groupLiters.Add(grp.Current.Liters)
				groupCount += grp.Current.Count
			}
			requireAmount(t, "1430.50", groupCost)
			requireAmount(t, "235", groupLiters)
			require.Equal(t, 5, groupCount)
		})
	}
}

func TestAggregate_EfficiencyAndDistance(t *testing.T) {
	events := fleetEvents()
	stats := Aggregate(events, efficiency.ComputeFleetSeries(events), Request{Window: march})

	// a1→a2: 500 km / 100 L = 5; b1→b2: 400 km / 40 L = 10.
	requireAmount(t, "900", stats.Summary.Distance)
	require.True(t, stats.Summary.AverageEfficiency.Valid)
	requireAmount(t, "7.5", stats.Summary.AverageEfficiency.Decimal)
	require.True(t, stats.Summary.CostPerDistance.Valid)
	requireAmount(t, "1.5894", stats.Summary.CostPerDistance.Decimal)
}

func TestAggregate_AverageEfficiencyRoundedOnce(t *testing.T) {
	events := []v1.FuelEvent{
		supply("e1", "V", day(time.March, 1), v1.FuelDiesel, "10000", "1000", "6000"),
		supply("e2", "V", day(time.March, 2), v1.FuelDiesel, "11000.40", "1000", "6000"),
		supply("e3", "V", day(time.March, 3), v1.FuelDiesel, "12000.80", "1000", "6000"),
		supply("e4", "V", day(time.March, 4), v1.FuelDiesel, "13002", "1000", "6000"),
	}
	series := efficiency.ComputeSeries(events)

	// Per-interval values 1.0004, 1.0004, 1.0012 round to 1.000, 1.000, 1.001,
	// whose mean would round to 1.000; the exact mean is 1.000667.
	stats := Aggregate(events, series, Request{Window: march})
	require.True(t, stats.Summary.AverageEfficiency.Valid)
	requireAmount(t, "1.001", stats.Summary.AverageEfficiency.Decimal)
}

func TestAggregate_DistanceAttributedToStartingWindow(t *testing.T) {
	events := []v1.FuelEvent{
		supply("e1", "V", day(time.February, 25), v1.FuelDiesel, "100", "10", "60"),
		supply("e2", "V", day(time.March, 5), v1.FuelDiesel, "300", "20", "120"),
	}
	series := efficiency.ComputeSeries(events)

	stats := Aggregate(events, series, Request{Window: march})
	requireAmount(t, "0", stats.Summary.Distance)
	require.False(t, stats.Summary.AverageEfficiency.Valid)
	requireAmount(t, "200", stats.Previous.Distance)
	requireAmount(t, "10", stats.Previous.AverageEfficiency.Decimal)
}

func TestAggregate_ZeroBaselineDelta(t *testing.T) {
	events := []v1.FuelEvent{
		supply("e1", "V", day(time.March, 5), v1.FuelDiesel, "100", "80", "500"),
	}

	stats := Aggregate(events, nil, Request{Window: march, Comparison: february})
	requireAmount(t, "500", stats.Summary.Cost)
	requireAmount(t, "0", stats.Previous.Cost)
	requireAmount(t, "0", stats.Deltas.Cost)
	requireAmount(t, "0", stats.Groups[0].Deltas.Cost)
}

func TestAggregate_Deltas(t *testing.T) {
	events := []v1.FuelEvent{
		supply("f", "V", day(time.February, 5), v1.FuelDiesel, "100", "40", "200"),
		supply("m", "V", day(time.March, 5), v1.FuelDiesel, "200", "50", "300"),
	}

	stats := Aggregate(events, nil, Request{Window: march})
	require.Equal(t, "2026-02", stats.Comparison.Label())
	requireAmount(t, "50", stats.Deltas.Cost)
	requireAmount(t, "25", stats.Deltas.Liters)
	requireAmount(t, "0", stats.Deltas.Count)
}

func TestAggregate_Alerts(t *testing.T) {
	var events []v1.FuelEvent
	for i, cost := range []string{"100", "100", "100", "700"} {
		vehicle := fmt.Sprintf("V%d", i)
		events = append(events, supply("e"+vehicle, vehicle, day(time.March, 3), v1.FuelDiesel, "100", "10", cost))
	}

	// Mean per vehicle is 250; the threshold is 375.
	stats := Aggregate(events, nil, Request{Window: march, GroupBy: GroupFleet})
	require.Len(t, stats.Groups, 4)
	require.Equal(t, "V3", stats.Groups[0].Key)
	require.True(t, stats.Groups[0].Alert)
	requireAmount(t, "70", stats.Groups[0].Share)
	require.Len(t, stats.Alerts, 1)
	require.Equal(t, "V3", stats.Alerts[0].Key)

	for _, g := range stats.Groups[1:] {
		require.False(t, g.Alert)
	}
}

func TestAggregate_SingleGroupNeverAlerts(t *testing.T) {
	events := []v1.FuelEvent{supply("e1", "V", day(time.March, 3), v1.FuelDiesel, "100", "10", "900")}

	stats := Aggregate(events, nil, Request{Window: march})
	require.Empty(t, stats.Alerts)
}

func TestAggregate_RankingsAndDistributions(t *testing.T) {
	var events []v1.FuelEvent
	for i := 0; i < 7; i++ {
		vehicle := fmt.Sprintf("V%d", i)
		cost := fmt.Sprintf("%d", (i+1)*100)
		evt := supply("e"+vehicle, vehicle, day(time.March, 3), v1.FuelTypes[i%len(v1.FuelTypes)], "100", "10", cost)
		evt.SectorRef = fmt.Sprintf("S%d", i)
		events = append(events, evt)
	}
	extra := supply("extra", "V0", day(time.March, 4), v1.FuelDiesel, "200", "1", "1")
	events = append(events, extra)

	labels := Labels{
		Vehicles: map[string]storage.VehicleInfo{"V6": {Ref: "V6", Label: "Truck 6"}},
		Sectors:  map[string]storage.SectorInfo{"S6": {Ref: "S6", Label: "Logistics"}},
	}
	stats := Aggregate(events, nil, Request{Window: march, TopN: 3, Labels: labels})

	byCost := stats.Rankings.VehiclesByCost
	require.Len(t, byCost, 3)
	require.Equal(t, "V6", byCost[0].Key)
	require.Equal(t, "Truck 6", byCost[0].Label)
	require.Equal(t, "V5", byCost[1].Key)

	require.Equal(t, "V0", stats.Rankings.VehiclesByCount[0].Key)
	require.Equal(t, 2, stats.Rankings.VehiclesByCount[0].Count)

	require.Len(t, stats.Rankings.SectorsByCost, 3)
	require.Equal(t, "Logistics", stats.Rankings.SectorsByCost[0].Label)
	require.Equal(t, "S5", stats.Rankings.SectorsByCost[1].Label, "unknown sectors show their ref")

	require.Len(t, stats.FuelTypes, len(v1.FuelTypes))
	require.Len(t, stats.Sectors, 8, "seven sectors plus the unresolved bucket")
	require.Len(t, stats.SectorChart, ChartSize)
	require.Equal(t, "S6", stats.SectorChart[0].Key)

	percent := decimal.Zero
	for _, s := range stats.Sectors {
		percent = percent.Add(s.Percent)
	}
	require.True(t, percent.Sub(decimal.NewFromInt(100)).Abs().LessThanOrEqual(decimal.RequireFromString("0.05")))

	for i := 1; i < len(stats.FuelTypes); i++ {
		require.True(t, stats.FuelTypes[i-1].Cost.GreaterThanOrEqual(stats.FuelTypes[i].Cost))
	}
}

func TestAggregate_UnresolvedBuckets(t *testing.T) {
	events := []v1.FuelEvent{
		supply("e1", "V", day(time.March, 3), v1.FuelDiesel, "100", "10", "60"),
		supply("e2", "W", day(time.March, 3), v1.FuelDiesel, "100", "10", "60"),
	}
	labels := Labels{Vehicles: map[string]storage.VehicleInfo{"W": {Ref: "W", SectorRef: "ops"}}}

	stats := Aggregate(events, nil, Request{Window: march, GroupBy: GroupSector, Labels: labels})
	require.Len(t, stats.Groups, 2)

	keys := map[string]string{}
	for _, g := range stats.Groups {
		keys[g.Key] = g.Label
	}
	require.Equal(t, UnresolvedLabel, keys[""])
	require.Equal(t, "ops", keys["ops"], "sector falls back to the vehicle's directory assignment")

	stats = Aggregate(events, nil, Request{Window: march, GroupBy: GroupDriver})
	require.Len(t, stats.Groups, 1)
	require.Equal(t, UnresolvedLabel, stats.Groups[0].Label)
}

func TestAggregate_Evolution(t *testing.T) {
	events := []v1.FuelEvent{
		supply("old", "V", time.Date(2025, time.September, 30, 10, 0, 0, 0, time.UTC), v1.FuelDiesel, "10", "10", "50"),
		supply("oct", "V", time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC), v1.FuelDiesel, "20", "10", "60"),
		supply("jan", "V", time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC), v1.FuelDiesel, "30", "10", "70"),
		supply("mar", "V", day(time.March, 31), v1.FuelDiesel, "40", "10", "80"),
		supply("apr", "V", time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), v1.FuelDiesel, "50", "10", "90"),
	}

	stats := Aggregate(events, nil, Request{Window: march})
	require.Len(t, stats.Evolution, DefaultEvolutionPeriods)

	labels := make([]string, 0, len(stats.Evolution))
	for _, p := range stats.Evolution {
		labels = append(labels, p.Label)
	}
	require.Equal(t, []string{"2025-10", "2025-11", "2025-12", "2026-01", "2026-02", "2026-03"}, labels)

	requireAmount(t, "60", stats.Evolution[0].Cost)
	require.Equal(t, 1, stats.Evolution[0].Count)
	requireAmount(t, "70", stats.Evolution[3].Cost)
	require.Zero(t, stats.Evolution[4].Count)
	requireAmount(t, "80", stats.Evolution[5].Cost)
}

func TestAggregate_MalformedEventsAreExcluded(t *testing.T) {
	noVehicle := supply("x1", "", day(time.March, 2), v1.FuelDiesel, "100", "10", "60")
	noTime := supply("x2", "V", time.Time{}, v1.FuelDiesel, "100", "10", "60")
	noVolume := supply("x3", "V", day(time.March, 2), v1.FuelDiesel, "100", "0", "60")
	negativeCost := supply("x4", "V", day(time.March, 2), v1.FuelDiesel, "100", "10", "-5")
	good := supply("ok", "V", day(time.March, 2), v1.FuelDiesel, "100", "10", "60")

	stats := Aggregate([]v1.FuelEvent{noVehicle, noTime, good, noVolume, negativeCost}, nil, Request{Window: march})
	require.Equal(t, 4, stats.Excluded)
	require.Equal(t, 1, stats.Summary.Count)
	requireAmount(t, "60", stats.Summary.Cost)
}

func TestAggregate_EmptyWindow(t *testing.T) {
	stats := Aggregate(nil, nil, Request{Window: march})

	require.True(t, stats.Summary.Cost.IsZero())
	require.Zero(t, stats.Summary.Count)
	require.False(t, stats.Summary.AverageEfficiency.Valid)
	require.NotNil(t, stats.Groups)
	require.Empty(t, stats.Groups)
	require.Empty(t, stats.Alerts)
	require.Len(t, stats.Evolution, DefaultEvolutionPeriods)
}

func TestParseGroupBy(t *testing.T) {
	g, err := ParseGroupBy(" Sector ")
	require.NoError(t, err)
	require.Equal(t, GroupSector, g)

	g, err = ParseGroupBy("")
	require.NoError(t, err)
	require.Equal(t, GroupFleet, g)

	_, err = ParseGroupBy("station")
	require.EqualError(t, err, `group_by "station" is not supported`)
}
