package aggregate

import (
	"fmt"
	"time"
)

// Window is one age bucket. Its lower bound is the as-of date minus Days
// or minus Months; Open marks the last window, which has no lower bound.
type Window struct {
	Label  string
	Days   int
	Months int
	Open   bool
}

// AgingScheme is an ordered set of windows. A date belongs to the first
// window whose lower bound it is on or after, so the windows partition
// the whole date line: future dates land in the first window, anything
// older than every bound lands in the open one.
type AgingScheme struct {
	windows []Window
}

// NewAgingScheme validates that exactly the last window is open
func NewAgingScheme(windows ...Window) (*AgingScheme, error) {
	if len(windows) == 0 {
		return nil, fmt.Errorf("aging scheme needs at least one window")
	}

	seen := make(map[string]bool, len(windows))
	for i, w := range windows {
		if seen[w.Label] {
			return nil, fmt.Errorf("aging scheme: duplicate window %q", w.Label)
		}
		seen[w.Label] = true

		last := i == len(windows)-1
		if w.Open != last {
			return nil, fmt.Errorf("aging scheme: only the last window may be open (window %q)", w.Label)
		}
		if w.Days < 0 || w.Months < 0 || (w.Days > 0 && w.Months > 0) {
			return nil, fmt.Errorf("aging scheme: window %q must set either days or months", w.Label)
		}
	}

	return &AgingScheme{windows: windows}, nil
}

// DefaultAging is the six-window receivable aging used by the receipt and
// refund reports. Bounds are inclusive: a record exactly 15 days old is
// in 0-15 DAYS and one exactly a month old is in 16 DAYS-1 MONTH.
func DefaultAging() *AgingScheme {
	return MustAgingScheme(
		Window{Label: "0-15 DAYS", Days: 15},
		Window{Label: "16 DAYS-1 MONTH", Months: 1},
		Window{Label: "1-2 MONTHS", Months: 2},
		Window{Label: "2-3 MONTHS", Months: 3},
		Window{Label: "3-4 MONTHS", Months: 4},
		Window{Label: "OVER 4 MONTHS", Open: true},
	)
}

// MustAgingScheme is NewAgingScheme for package-level declarations
func MustAgingScheme(windows ...Window) *AgingScheme {
	s, err := NewAgingScheme(windows...)
	if err != nil {
		panic(err)
	}
	return s
}

// Labels returns the window labels in evaluation order
func (s *AgingScheme) Labels() []string {
	out := make([]string, len(s.windows))
	for i, w := range s.windows {
		out[i] = w.Label
	}
	return out
}

// Len returns the number of windows
func (s *AgingScheme) Len() int {
	return len(s.windows)
}

// Lower returns the inclusive lower bound of window i for asOf; ok is
// false for the open window.
func (s *AgingScheme) Lower(i int, asOf time.Time) (time.Time, bool) {
	w := s.windows[i]
	if w.Open {
		return time.Time{}, false
	}

	asOf = day(asOf)
	if w.Months > 0 {
		return minusMonths(asOf, w.Months), true
	}
	return asOf.AddDate(0, 0, -w.Days), true
}

// Classify returns the index of the window date falls in
func (s *AgingScheme) Classify(asOf, date time.Time) int {
	date = day(date)
	for i := range s.windows {
		lower, ok := s.Lower(i, asOf)
		if !ok || !date.Before(lower) {
			return i
		}
	}
	return len(s.windows) - 1
}

// minusMonths steps back n calendar months, clamping to the last day of
// the target month (Mar 31 minus one month is Feb 28 or 29).
func minusMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m-time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
