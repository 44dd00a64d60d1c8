package fixedwidth

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Decode splits line into the schema's fields. A short line is padded
// with spaces and a long one is cut to the schema width before any field
// is read. A numeric field that fails conversion aborts the decode or is
// zeroed and recorded in Record.Issues, per the field's policy.
func Decode(s *Schema, line string) (Record, error) {
	line = fit(line, s.width)
	rec := NewRecord(s)

	for _, f := range s.fields {
		raw := line[f.Start-1 : f.End]

		switch f.Kind {
		case Filler:
			continue
		case Text:
			rec.values[f.Name] = Value{Str: strings.TrimRight(raw, " ")}
		case Zoned, Packed:
			d, reason := decodeNumeric(f, raw)
			if reason != "" {
				ferr := &FieldError{
					Schema: s.name,
					Field:  f.Name,
					Column: f.Start,
					Value:  raw,
					Reason: reason,
				}
				if f.Policy() == Abort {
					return rec, ferr
				}
				rec.Issues = append(rec.Issues, ferr)
				d = decimal.Zero
			}
			rec.values[f.Name] = Value{Num: d}
		}
	}

	return rec, nil
}

// Encode renders the record as exactly Width bytes. Missing text values
// are blank and missing numerics are zero.
func Encode(s *Schema, r Record) string {
	var b strings.Builder
	b.Grow(s.width)

	for _, f := range s.fields {
		v := r.values[f.Name]

		switch f.Kind {
		case Filler:
			b.WriteString(strings.Repeat(" ", f.Width()))
		case Text:
			b.WriteString(fit(v.Str, f.Width()))
		case Zoned, Packed:
			b.WriteString(encodeNumeric(f, v.Num))
		}
	}

	return b.String()
}

// fit pads s with spaces or cuts it to exactly width bytes
func fit(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-len(s))
}
