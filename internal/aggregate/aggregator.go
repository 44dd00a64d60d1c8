// Package aggregate walks records sorted by a hierarchical group key,
// detects control breaks and rolls counts and amounts up into
// category × age-window buckets per level and for the whole run.
package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrClosed    = errors.New("aggregator already closed")
	ErrKeyLevels = errors.New("entry key count does not match levels")
)

// State of one hierarchy level
type State int

const (
	Empty State = iota
	InGroup
)

// Entry is what the aggregator needs from one record. Keys holds the
// group key per level, outermost first.
type Entry struct {
	Keys     []string
	Category string
	Date     time.Time
	Amount   decimal.Decimal
}

// Closure is emitted when a group closes. Key is the group identity: the
// keys of every level from the outermost down to Level.
type Closure struct {
	Level  int
	Name   string
	Key    []string
	Totals Totals
}

// Identity joins the group key for use as a map key or label
func (c Closure) Identity() string {
	return strings.Join(c.Key, "/")
}

// Snapshot is the resumable state of an aggregator
type Snapshot struct {
	States  []State  `json:"states"`
	Keys    []string `json:"keys"`
	Levels  []Totals `json:"levels"`
	Grand   Totals   `json:"grand"`
	Records int64    `json:"records"`
}

// Aggregator is the control-break state machine. It is not safe for
// concurrent use; records must arrive in group-key order.
type Aggregator struct {
	names   []string
	aging   *AgingScheme
	asOf    time.Time
	states  []State
	keys    []string
	levels  []Totals
	grand   Totals
	records int64
	closed  bool
}

// New creates an aggregator for the named levels, outermost first
func New(levels []string, aging *AgingScheme, asOf time.Time) (*Aggregator, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("aggregator needs at least one level")
	}
	if aging == nil {
		aging = DefaultAging()
	}

	return &Aggregator{
		names:  append([]string(nil), levels...),
		aging:  aging,
		asOf:   day(asOf),
		states: make([]State, len(levels)),
		keys:   make([]string, len(levels)),
		levels: make([]Totals, len(levels)),
	}, nil
}

// Windows returns the aging window labels
func (a *Aggregator) Windows() []string {
	return a.aging.Labels()
}

// Levels returns the level names, outermost first
func (a *Aggregator) Levels() []string {
	return append([]string(nil), a.names...)
}

// Records returns how many entries have been accumulated
func (a *Aggregator) Records() int64 {
	return a.records
}

// Add feeds one entry. Levels whose key changed close first, innermost
// to outermost, and are returned in that order; a level adopts the new
// key only after its own closure has been produced. The entry is then
// accumulated into every level and the grand total.
func (a *Aggregator) Add(e Entry) ([]Closure, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if len(e.Keys) != len(a.names) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrKeyLevels, len(e.Keys), len(a.names))
	}

	broken := len(a.names)
	for i := range a.names {
		if a.states[i] == InGroup && a.keys[i] != e.Keys[i] {
			broken = i
			break
		}
	}

	closures := a.closeFrom(broken)

	for i := range a.names {
		if a.states[i] == Empty {
			a.keys[i] = e.Keys[i]
			a.states[i] = InGroup
		}
	}

	window := a.aging.Classify(a.asOf, e.Date)
	for i := range a.levels {
		a.levels[i].add(e.Category, window, a.aging.Len(), e.Amount)
	}
	a.grand.add(e.Category, window, a.aging.Len(), e.Amount)
	a.records++

	return closures, nil
}

// Close ends the input: every open level closes, innermost first, and the
// grand total is returned. Further Adds fail.
func (a *Aggregator) Close() ([]Closure, Totals) {
	if a.closed {
		return nil, a.grand.clone()
	}
	closures := a.closeFrom(0)
	a.closed = true
	return closures, a.grand.clone()
}

// GrandTotal returns the running grand total
func (a *Aggregator) GrandTotal() Totals {
	return a.grand.clone()
}

func (a *Aggregator) closeFrom(outer int) []Closure {
	var out []Closure
	for i := len(a.names) - 1; i >= outer; i-- {
		if a.states[i] != InGroup {
			continue
		}
		out = append(out, Closure{
			Level:  i,
			Name:   a.names[i],
			Key:    append([]string(nil), a.keys[:i+1]...),
			Totals: a.levels[i],
		})
		a.levels[i] = Totals{}
		a.keys[i] = ""
		a.states[i] = Empty
	}
	return out
}

// Snapshot captures the state needed to resume after the last entry
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		States:  append([]State(nil), a.states...),
		Keys:    append([]string(nil), a.keys...),
		Levels:  make([]Totals, len(a.levels)),
		Grand:   a.grand.clone(),
		Records: a.records,
	}
	for i, t := range a.levels {
		s.Levels[i] = t.clone()
	}
	return s
}

// Restore replaces the aggregator state with a snapshot
func (a *Aggregator) Restore(s Snapshot) error {
	n := len(a.names)
	if len(s.States) != n || len(s.Keys) != n || len(s.Levels) != n {
		return fmt.Errorf("snapshot has %d levels, aggregator has %d", len(s.States), n)
	}

	copy(a.states, s.States)
	copy(a.keys, s.Keys)
	for i, t := range s.Levels {
		a.levels[i] = t.clone()
	}
	a.grand = s.Grand.clone()
	a.records = s.Records
	a.closed = false
	return nil
}
