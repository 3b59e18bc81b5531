package period

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes calendar-aligned windows from arbitrary ranges.
type Kind string

const (
	KindMonth  Kind = "month"
	KindYear   Kind = "year"
	KindCustom Kind = "custom"
)

// Window is a half-open time range [Start, End).
type Window struct {
	Kind  Kind      `json:"kind"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Month returns the calendar month window in loc.
func Month(year int, month time.Month, loc *time.Location) Window {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Window{Kind: KindMonth, Start: start, End: start.AddDate(0, 1, 0)}
}

// Year returns the calendar year window in loc.
func Year(year int, loc *time.Location) Window {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
	return Window{Kind: KindYear, Start: start, End: start.AddDate(1, 0, 0)}
}

// Custom returns an arbitrary window. End must be after start.
func Custom(start, end time.Time) (Window, error) {
	if !end.After(start) {
		return Window{}, fmt.Errorf("window end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Window{Kind: KindCustom, Start: start, End: end}, nil
}

// MonthOf returns the calendar month containing t, in t's location.
func MonthOf(t time.Time) Window {
	return Month(t.Year(), t.Month(), t.Location())
}

// Last returns the custom window of the given span ending at now.
func Last(now time.Time, span Span) Window {
	return Window{Kind: KindCustom, Start: now.Add(-span.Size), End: now}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Duration returns End - Start.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Previous returns the window immediately before w.
// Calendar windows step by calendar units so months of different lengths line up.
func (w Window) Previous() Window {
	switch w.Kind {
	case KindMonth:
		return Window{Kind: KindMonth, Start: w.Start.AddDate(0, -1, 0), End: w.Start}
	case KindYear:
		return Window{Kind: KindYear, Start: w.Start.AddDate(-1, 0, 0), End: w.Start}
	default:
		return Window{Kind: w.Kind, Start: w.Start.Add(-w.Duration()), End: w.Start}
	}
}

// Trailing returns n windows ending with w, oldest first.
func (w Window) Trailing(n int) []Window {
	if n <= 0 {
		return nil
	}
	out := make([]Window, n)
	cur := w
	for i := n - 1; i >= 0; i-- {
		out[i] = cur
		cur = cur.Previous()
	}
	return out
}

// Label renders a short human label: "2026-03", "2026" or "2026-01-01..2026-01-31".
func (w Window) Label() string {
	switch w.Kind {
	case KindMonth:
		return w.Start.Format("2006-01")
	case KindYear:
		return w.Start.Format("2006")
	default:
		return w.Start.Format("2006-01-02") + ".." + w.End.Add(-time.Nanosecond).Format("2006-01-02")
	}
}

// Parse reads a period expression in loc.
// Accepted forms: "2026-03" (month), "2026" (year), "2026-01-10..2026-02-09"
// (inclusive day range).
func Parse(s string, loc *time.Location) (Window, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Window{}, fmt.Errorf("period must not be empty")
	}
	if loc == nil {
		loc = time.UTC
	}

	if from, to, ok := strings.Cut(s, ".."); ok {
		start, err := time.ParseInLocation("2006-01-02", from, loc)
		if err != nil {
			return Window{}, fmt.Errorf("invalid period start %q: %w", from, err)
		}
		last, err := time.ParseInLocation("2006-01-02", to, loc)
		if err != nil {
			return Window{}, fmt.Errorf("invalid period end %q: %w", to, err)
		}
		return Custom(start, last.AddDate(0, 0, 1))
	}

	if t, err := time.ParseInLocation("2006-01", s, loc); err == nil {
		return Month(t.Year(), t.Month(), loc), nil
	}
	if t, err := time.ParseInLocation("2006", s, loc); err == nil {
		return Year(t.Year(), loc), nil
	}
	return Window{}, fmt.Errorf("invalid period %q: want YYYY-MM, YYYY or YYYY-MM-DD..YYYY-MM-DD", s)
}
