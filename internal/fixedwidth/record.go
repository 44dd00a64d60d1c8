package fixedwidth

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedRecord is wrapped by every FieldError
	ErrMalformedRecord = errors.New("malformed record")
	// ErrUnknownField is returned by accessors asked for a field the schema does not declare
	ErrUnknownField = errors.New("unknown field")
)

// FieldError describes a field that failed its declared type conversion
type FieldError struct {
	Schema string
	Field  string
	Column int
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s: field %s at column %d: %s (value %q)",
		ErrMalformedRecord, e.Schema, e.Field, e.Column, e.Reason, e.Value)
}

func (e *FieldError) Unwrap() error {
	return ErrMalformedRecord
}

// Value is one decoded field
type Value struct {
	Str string
	Num decimal.Decimal
}

// Record holds decoded values by field name. Issues lists fields that
// were zeroed under the Zero policy.
type Record struct {
	schema *Schema
	values map[string]Value
	Issues []*FieldError
}

// NewRecord returns an empty record bound to schema
func NewRecord(schema *Schema) Record {
	return Record{schema: schema, values: make(map[string]Value)}
}

// Schema returns the schema the record was decoded with
func (r Record) Schema() *Schema {
	return r.schema
}

// Has reports whether the record carries a value for name
func (r Record) Has(name string) bool {
	_, ok := r.values[name]
	return ok
}

// Text returns a text field with trailing spaces removed
func (r Record) Text(name string) string {
	return r.values[name].Str
}

// Decimal returns a numeric field at its implied scale
func (r Record) Decimal(name string) decimal.Decimal {
	return r.values[name].Num
}

// Int returns the integer part of a numeric field
func (r Record) Int(name string) int64 {
	return r.values[name].Num.IntPart()
}

// Date interprets a text or numeric field as YYYYMMDD
func (r Record) Date(name string) (time.Time, error) {
	v, ok := r.values[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownField, name)
	}

	raw := v.Str
	if f, ok := r.schema.Field(name); ok && f.Kind.numeric() {
		raw = fmt.Sprintf("%08d", v.Num.IntPart())
	}

	t, err := time.Parse("20060102", raw)
	if err != nil {
		return time.Time{}, &FieldError{
			Schema: r.schema.Name(),
			Field:  name,
			Value:  raw,
			Reason: "not a YYYYMMDD date",
		}
	}
	return t, nil
}

// SetText stores a text value
func (r *Record) SetText(name, s string) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	r.values[name] = Value{Str: s}
}

// SetDecimal stores a numeric value
func (r *Record) SetDecimal(name string, d decimal.Decimal) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	r.values[name] = Value{Num: d}
}
