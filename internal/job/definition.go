// Package job sequences one batch job run: control card validation, the
// frequency decision, chunked read-aggregate-write with checkpointed
// commits, and finalization.
package job

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"cardbatch/internal/aggregate"
	"cardbatch/internal/checkpoint"
	"cardbatch/internal/fixedwidth"
	"cardbatch/internal/report"
)

var (
	ErrInvalidControlCard = errors.New("invalid control card")
	ErrUnknownFrequency   = errors.New("unknown run frequency")
	ErrOutOfOrder         = errors.New("input out of key order")
	ErrCommitFailure      = errors.New("chunk commit failed")
)

// Definition declares a job. The engine only touches records through
// the schema, the key layout and the mapping functions declared here.
type Definition struct {
	Name        string
	Description string

	Schema *fixedwidth.Schema
	Key    checkpoint.KeyLayout
	Levels []string
	Aging  *aggregate.AgingScheme

	// Entry maps a decoded record to the aggregator's view of it. Keys
	// must hold one value per level.
	Entry func(rec fixedwidth.Record) (aggregate.Entry, error)
	// Detail renders the detail line for a record; nil prints none
	Detail func(rec fixedwidth.Record, e aggregate.Entry) string

	Report   report.Layout
	Control  ControlCard
	Branches map[string]Branch
	Extract  *ExtractSpec
}

// Branch is one outcome of the frequency decision
type Branch struct {
	Name     string
	ReportID string
	Title    string
	Aging    *aggregate.AgingScheme
}

// ExtractSpec selects the level whose closures go to the extract
type ExtractSpec struct {
	Level int
}

// ControlCard describes the control record validated before any input
// is read
type ControlCard struct {
	Schema         *fixedwidth.Schema
	Required       []string
	Codes          map[string][]string
	FrequencyField string
	AsOfField      string
}

// Card is a validated control record
type Card struct {
	Record    fixedwidth.Record
	AsOf      time.Time
	Frequency string
}

// Validate checks the definition is complete
func (d *Definition) Validate() error {
	switch {
	case d.Name == "":
		return errors.New("job name is required")
	case d.Schema == nil:
		return fmt.Errorf("job %s: record schema is required", d.Name)
	case len(d.Key.Parts) == 0:
		return fmt.Errorf("job %s: key layout is required", d.Name)
	case len(d.Levels) == 0:
		return fmt.Errorf("job %s: at least one level is required", d.Name)
	case d.Entry == nil:
		return fmt.Errorf("job %s: entry mapping is required", d.Name)
	}

	for _, p := range d.Key.Parts {
		f, ok := d.Schema.Field(p.Field)
		if !ok {
			return fmt.Errorf("job %s: key field %q not in schema %s", d.Name, p.Field, d.Schema.Name())
		}
		need := f.Width()
		if p.Numeric {
			need = f.IntegerDigits()
		}
		if p.Width < need {
			return fmt.Errorf("job %s: key part %s width %d narrower than its field (%d)", d.Name, p.Field, p.Width, need)
		}
	}
	if d.Extract != nil && (d.Extract.Level < 0 || d.Extract.Level >= len(d.Levels)) {
		return fmt.Errorf("job %s: extract level %d out of range", d.Name, d.Extract.Level)
	}
	if d.Control.FrequencyField != "" && len(d.Branches) == 0 {
		return fmt.Errorf("job %s: frequency field without branches", d.Name)
	}
	return nil
}

// ValidateControlCard decodes and checks the control record. Every
// violation is fatal.
func ValidateControlCard(cc ControlCard, line string, asOf time.Time) (Card, error) {
	card := Card{AsOf: asOf}
	if cc.Schema == nil {
		if asOf.IsZero() {
			return card, fmt.Errorf("%w: no as-of date", ErrInvalidControlCard)
		}
		return card, nil
	}

	if strings.TrimSpace(line) == "" {
		return card, fmt.Errorf("%w: control record is empty", ErrInvalidControlCard)
	}

	rec, err := fixedwidth.Decode(cc.Schema, line)
	if err != nil {
		return card, fmt.Errorf("%w: %w", ErrInvalidControlCard, err)
	}
	if len(rec.Issues) > 0 {
		return card, fmt.Errorf("%w: %w", ErrInvalidControlCard, rec.Issues[0])
	}
	card.Record = rec

	for _, name := range cc.Required {
		f, ok := cc.Schema.Field(name)
		if !ok {
			return card, fmt.Errorf("%w: unknown required field %q", ErrInvalidControlCard, name)
		}
		if f.Kind == fixedwidth.Text && rec.Text(name) == "" {
			return card, fmt.Errorf("%w: field %s is blank", ErrInvalidControlCard, name)
		}
	}

	for name, allowed := range cc.Codes {
		if v := rec.Text(name); !slices.Contains(allowed, v) {
			return card, fmt.Errorf("%w: field %s value %q not in %v", ErrInvalidControlCard, name, v, allowed)
		}
	}

	if cc.AsOfField != "" {
		d, err := rec.Date(cc.AsOfField)
		if err != nil {
			return card, fmt.Errorf("%w: %w", ErrInvalidControlCard, err)
		}
		card.AsOf = d
	}
	if card.AsOf.IsZero() {
		return card, fmt.Errorf("%w: no as-of date", ErrInvalidControlCard)
	}

	if cc.FrequencyField != "" {
		card.Frequency = rec.Text(cc.FrequencyField)
	}
	return card, nil
}

// Decide routes the run to the branch for the card's frequency flag. A
// job without branches has a single unnamed path.
func Decide(branches map[string]Branch, frequency string) (Branch, error) {
	if len(branches) == 0 {
		return Branch{}, nil
	}

	b, ok := branches[frequency]
	if !ok {
		return Branch{}, fmt.Errorf("%w: %q", ErrUnknownFrequency, frequency)
	}
	if b.Name == "" {
		b.Name = frequency
	}
	return b, nil
}

func (d *Definition) layout(b Branch, asOf time.Time) report.Layout {
	l := d.Report
	if b.ReportID != "" {
		l.ReportID = b.ReportID
	}
	if b.Title != "" {
		l.Title = b.Title
	}
	if l.Context == "" {
		l.Context = "AS OF " + asOf.Format("2006-01-02")
		if b.Name != "" {
			l.Context = strings.ToUpper(b.Name) + " RUN " + l.Context
		}
	}
	return l
}

func (d *Definition) aging(b Branch) *aggregate.AgingScheme {
	if b.Aging != nil {
		return b.Aging
	}
	return d.Aging
}
