package analytics

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	sheetSummary   = "summary"
	sheetGroups    = "groups"
	sheetFuelTypes = "fuel_types"
	sheetSectors   = "sectors"
	sheetEvolution = "evolution"
)

// BuildStatsXLSX renders PeriodStats as a plain tabular workbook.
func BuildStatsXLSX(stats PeriodStats) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetSummary); err != nil {
		return nil, fmt.Errorf("failed to name summary sheet: %w", err)
	}
	for _, name := range []string{sheetGroups, sheetFuelTypes, sheetSectors, sheetEvolution} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	w := &sheetWriter{f: f}

	w.rows(sheetSummary,
		[]interface{}{"Fuel statistics"},
		[]interface{}{},
		[]interface{}{"Period", stats.Window.Label()},
		[]interface{}{"Comparison", stats.Comparison.Label()},
		[]interface{}{"Group by", string(stats.GroupBy)},
		[]interface{}{},
		[]interface{}{"", "Current", "Previous", "Delta %"},
		[]interface{}{"Cost", num(stats.Summary.Cost), num(stats.Previous.Cost), num(stats.Deltas.Cost)},
		[]interface{}{"Liters", num(stats.Summary.Liters), num(stats.Previous.Liters), num(stats.Deltas.Liters)},
		[]interface{}{"Supplies", stats.Summary.Count, stats.Previous.Count, num(stats.Deltas.Count)},
		[]interface{}{"Distance", num(stats.Summary.Distance), num(stats.Previous.Distance), num(stats.Deltas.Distance)},
		[]interface{}{"Average efficiency", nullNum(stats.Summary.AverageEfficiency), nullNum(stats.Previous.AverageEfficiency)},
		[]interface{}{"Cost per distance", nullNum(stats.Summary.CostPerDistance), nullNum(stats.Previous.CostPerDistance)},
		[]interface{}{"Excluded events", stats.Excluded},
	)

	groups := [][]interface{}{{"Key", "Label", "Cost", "Liters", "Supplies", "Distance", "Average efficiency", "Share %", "Cost delta %", "Alert"}}
	for _, g := range stats.Groups {
		groups = append(groups, []interface{}{
			g.Key, g.Label,
			num(g.Current.Cost), num(g.Current.Liters), g.Current.Count, num(g.Current.Distance),
			nullNum(g.Current.AverageEfficiency), num(g.Share), num(g.Deltas.Cost), g.Alert,
		})
	}
	w.rows(sheetGroups, groups...)

	w.rows(sheetFuelTypes, distributionRows(stats.FuelTypes)...)
	w.rows(sheetSectors, distributionRows(stats.Sectors)...)

	evolution := [][]interface{}{{"Period", "Cost", "Liters", "Supplies"}}
	for _, p := range stats.Evolution {
		evolution = append(evolution, []interface{}{p.Label, num(p.Cost), num(p.Liters), p.Count})
	}
	w.rows(sheetEvolution, evolution...)

	if w.err != nil {
		return nil, w.err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func distributionRows(slices []Slice) [][]interface{} {
	out := [][]interface{}{{"Key", "Label", "Cost", "Liters", "Supplies", "Percent"}}
	for _, s := range slices {
		out = append(out, []interface{}{s.Key, s.Label, num(s.Cost), num(s.Liters), s.Count, num(s.Percent)})
	}
	return out
}

// sheetWriter keeps the first cell error so rows can be written unchecked.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) rows(sheet string, rows ...[]interface{}) {
	for i, row := range rows {
		for j, value := range row {
			if w.err != nil {
				return
			}
			cell, err := excelize.CoordinatesToCellName(j+1, i+1)
			if err != nil {
				w.err = err
				return
			}
			if err := w.f.SetCellValue(sheet, cell, value); err != nil {
				w.err = fmt.Errorf("failed to write %s!%s: %w", sheet, cell, err)
			}
		}
	}
}

func num(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func nullNum(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return ""
	}
	return d.Decimal.InexactFloat64()
}
