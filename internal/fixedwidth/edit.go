package fixedwidth

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// EditAmount formats d for print: thousands separators, exactly scale
// decimals, a trailing minus for negatives (space otherwise), right
// justified in width columns. A value that does not fit prints as asterisks.
func EditAmount(d decimal.Decimal, width int, scale int32) string {
	r := d.Round(scale)
	neg := r.Sign() < 0

	abs := r.Abs()
	out := humanize.BigComma(abs.BigInt())
	if scale > 0 {
		_, frac, _ := strings.Cut(abs.StringFixed(scale), ".")
		out += "." + frac
	}
	if neg {
		out += "-"
	} else {
		out += " "
	}

	return justify(out, width)
}

// EditCount formats n with thousands separators, right justified
func EditCount(n int64, width int) string {
	return justify(humanize.Comma(n), width)
}

// PadRight left-justifies s in width columns, cutting it if longer
func PadRight(s string, width int) string {
	return fit(s, width)
}

// PadLeft right-justifies s in width columns, cutting it if longer
func PadLeft(s string, width int) string {
	if len(s) >= width {
		return s[len(s)-width:]
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func justify(s string, width int) string {
	if len(s) > width {
		return strings.Repeat("*", width)
	}
	return strings.Repeat(" ", width-len(s)) + s
}
