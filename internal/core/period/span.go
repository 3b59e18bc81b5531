package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TrailingPrefix marks a period expression relative to the current time, e.g. "last:30d".
const TrailingPrefix = "last:"

// MaxSpan bounds trailing windows.
const MaxSpan = 3 * 366 * 24 * time.Hour

var spanUnits = map[byte]time.Duration{
	'h': time.Hour,
	'd': 24 * time.Hour,
	'w': 7 * 24 * time.Hour,
}

// Span is the length of a trailing window.
type Span struct {
	Size time.Duration
}

// ParseSpan reads "<n>h", "<n>d" or "<n>w" with n a positive integer.
func ParseSpan(s string) (Span, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Span{}, fmt.Errorf("invalid span %q: want <n>h, <n>d or <n>w", s)
	}
	unit, ok := spanUnits[s[len(s)-1]]
	if !ok {
		return Span{}, fmt.Errorf("invalid span %q: want <n>h, <n>d or <n>w", s)
	}
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Span{}, fmt.Errorf("invalid span %q: count must be a positive integer", s)
	}
	if n > int(MaxSpan/unit) {
		return Span{}, fmt.Errorf("span %q exceeds %d days", s, int(MaxSpan/(24*time.Hour)))
	}
	return Span{Size: time.Duration(n) * unit}, nil
}

// ParseTrailing reads a "last:<span>" expression into the window ending at now.
// ok is false when s is not a trailing expression.
func ParseTrailing(s string, now time.Time) (w Window, ok bool, err error) {
	rest, found := strings.CutPrefix(strings.TrimSpace(s), TrailingPrefix)
	if !found {
		return Window{}, false, nil
	}
	span, err := ParseSpan(rest)
	if err != nil {
		return Window{}, true, err
	}
	return Last(now, span), true, nil
}
