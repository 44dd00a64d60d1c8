package checkpoint

import (
	"fmt"
	"strings"

	"cardbatch/internal/fixedwidth"
)

// KeyPart is one field of the composite restart key
type KeyPart struct {
	Field   string
	Width   int
	Numeric bool
}

// KeyLayout composes a record's restart key. Text parts are padded on the
// right with spaces and numeric parts on the left with zeros, so plain
// string comparison of two keys follows the input's sort order.
type KeyLayout struct {
	Name  string
	Parts []KeyPart
}

// Width returns the length of every composed key
func (l KeyLayout) Width() int {
	w := 0
	for _, p := range l.Parts {
		w += p.Width
	}
	return w
}

// Signature identifies the key ordering for mismatch detection
func (l KeyLayout) Signature() string {
	parts := make([]string, len(l.Parts))
	for i, p := range l.Parts {
		kind := "t"
		if p.Numeric {
			kind = "n"
		}
		parts[i] = fmt.Sprintf("%s/%d%s", p.Field, p.Width, kind)
	}
	return l.Name + ":" + strings.Join(parts, ",")
}

// Compose builds the key of a decoded record
func (l KeyLayout) Compose(rec fixedwidth.Record) string {
	var b strings.Builder
	b.Grow(l.Width())

	for _, p := range l.Parts {
		if p.Numeric {
			n := rec.Decimal(p.Field).Abs().IntPart()
			b.WriteString(fixedwidth.PadLeft(fmt.Sprintf("%0*d", p.Width, n), p.Width))
			continue
		}
		b.WriteString(fixedwidth.PadRight(rec.Text(p.Field), p.Width))
	}

	return b.String()
}
