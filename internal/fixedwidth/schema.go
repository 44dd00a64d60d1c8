package fixedwidth

import (
	"fmt"
)

// Kind identifies how the bytes of a field are interpreted
type Kind int

const (
	Text Kind = iota
	Zoned
	Packed
	Filler
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Zoned:
		return "zoned"
	case Packed:
		return "packed"
	case Filler:
		return "filler"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) numeric() bool {
	return k == Zoned || k == Packed
}

// Sign describes where a numeric field carries its sign
type Sign int

const (
	// SignDefault resolves to SignOverpunch for Zoned and SignTrailing for Packed
	SignDefault Sign = iota
	SignNone
	// SignTrailing and SignLeading carry a '-', '+' or space marker. Both
	// positive markers decode alike; Encode writes a space unless the
	// field sets PlusMarker.
	SignTrailing
	SignLeading
	SignOverpunch
	// SignNibble is true packed decimal (COMP-3): two BCD digits per byte,
	// the low nibble of the last byte holds the sign
	SignNibble
)

// InvalidPolicy decides what happens when a numeric field holds bytes
// outside its alphabet
type InvalidPolicy int

const (
	// PolicyDefault resolves to Zero for scaled (amount) fields and Abort otherwise
	PolicyDefault InvalidPolicy = iota
	Abort
	Zero
)

// Field maps an inclusive, 1-based column range to a typed value
type Field struct {
	Name      string
	Start     int
	End       int
	Kind      Kind
	Scale     int32
	Sign      Sign
	OnInvalid InvalidPolicy

	// PlusMarker encodes positive trailing or leading signs as '+'
	PlusMarker bool
}

// Width returns the number of columns the field occupies
func (f Field) Width() int {
	return f.End - f.Start + 1
}

func (f Field) sign() Sign {
	if f.Sign != SignDefault {
		return f.Sign
	}
	if f.Kind == Packed {
		return SignTrailing
	}
	return SignOverpunch
}

// Policy returns the effective handling of invalid numeric content
func (f Field) Policy() InvalidPolicy {
	if f.OnInvalid != PolicyDefault {
		return f.OnInvalid
	}
	if f.Kind.numeric() && f.Scale > 0 {
		return Zero
	}
	return Abort
}

// digits returns how many decimal digits a numeric field can hold
// IntegerDigits is the most integer digits the field can hold. Text and
// filler fields report their width.
func (f Field) IntegerDigits() int {
	if f.Kind != Zoned && f.Kind != Packed {
		return f.Width()
	}
	return f.digits() - int(f.Scale)
}

func (f Field) digits() int {
	switch f.sign() {
	case SignTrailing, SignLeading:
		return f.Width() - 1
	case SignNibble:
		return 2*f.Width() - 1
	default:
		return f.Width()
	}
}

// Schema is an ordered, gap-free list of fields covering exactly Width columns
type Schema struct {
	name   string
	width  int
	fields []Field
	index  map[string]int
}

// NewSchema validates the field list and fills uncovered columns with
// implicit fillers so that the field widths always add up to width.
func NewSchema(name string, width int, fields ...Field) (*Schema, error) {
	if width <= 0 {
		return nil, fmt.Errorf("schema %s: width must be positive", name)
	}

	s := &Schema{
		name:  name,
		width: width,
		index: make(map[string]int, len(fields)),
	}

	next := 1
	for i, f := range fields {
		if f.Kind != Filler && f.Name == "" {
			return nil, fmt.Errorf("schema %s: field %d has no name", name, i)
		}
		if f.Start < 1 || f.End < f.Start {
			return nil, fmt.Errorf("schema %s: field %s has invalid range %d-%d", name, f.Name, f.Start, f.End)
		}
		if f.Start < next {
			return nil, fmt.Errorf("schema %s: field %s overlaps or is out of order at column %d", name, f.Name, f.Start)
		}
		if f.End > width {
			return nil, fmt.Errorf("schema %s: field %s ends at column %d beyond width %d", name, f.Name, f.End, width)
		}
		if f.Kind.numeric() {
			if err := checkNumeric(f); err != nil {
				return nil, fmt.Errorf("schema %s: %w", name, err)
			}
		}
		if f.Kind != Filler {
			if _, dup := s.index[f.Name]; dup {
				return nil, fmt.Errorf("schema %s: duplicate field %s", name, f.Name)
			}
		}

		if f.Start > next {
			s.fields = append(s.fields, Field{Start: next, End: f.Start - 1, Kind: Filler})
		}
		if f.Kind != Filler {
			s.index[f.Name] = len(s.fields)
		}
		s.fields = append(s.fields, f)
		next = f.End + 1
	}
	if next <= width {
		s.fields = append(s.fields, Field{Start: next, End: width, Kind: Filler})
	}

	return s, nil
}

// MustSchema is NewSchema for statically declared layouts
func MustSchema(name string, width int, fields ...Field) *Schema {
	s, err := NewSchema(name, width, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func checkNumeric(f Field) error {
	sign := f.sign()
	if sign == SignNibble && f.Kind != Packed {
		return fmt.Errorf("field %s: nibble sign requires packed kind", f.Name)
	}
	if f.digits() < 1 {
		return fmt.Errorf("field %s: too narrow for its sign convention", f.Name)
	}
	if f.Scale < 0 || int(f.Scale) > f.digits() {
		return fmt.Errorf("field %s: scale %d out of range for %d digits", f.Name, f.Scale, f.digits())
	}
	return nil
}

// Name returns the schema name used in diagnostics
func (s *Schema) Name() string { return s.name }

// Width returns the total line width W
func (s *Schema) Width() int { return s.width }

// Fields returns a copy of the field list, implicit fillers included
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Field looks up a named field
func (s *Schema) Field(name string) (Field, bool) {
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}
