package fixedwidth

import (
	"strings"

	"github.com/shopspring/decimal"
)

const (
	overpunchPositive = "{ABCDEFGHI"
	overpunchNegative = "}JKLMNOPQR"
)

// decodeNumeric returns the value of a zoned or packed field, or a
// non-empty reason when raw is outside the field's alphabet.
func decodeNumeric(f Field, raw string) (decimal.Decimal, string) {
	var (
		digits string
		neg    bool
	)

	switch f.sign() {
	case SignNone:
		digits = raw
	case SignTrailing:
		digits = raw[:len(raw)-1]
		switch raw[len(raw)-1] {
		case '-':
			neg = true
		case '+', ' ':
		default:
			return decimal.Zero, "unrecognized trailing sign"
		}
	case SignLeading:
		digits = raw[1:]
		switch raw[0] {
		case '-':
			neg = true
		case '+', ' ':
		default:
			return decimal.Zero, "unrecognized leading sign"
		}
	case SignOverpunch:
		last := raw[len(raw)-1]
		switch {
		case last >= '0' && last <= '9':
			digits = raw
		case strings.IndexByte(overpunchPositive, last) >= 0:
			digits = raw[:len(raw)-1] + string(rune('0'+strings.IndexByte(overpunchPositive, last)))
		case strings.IndexByte(overpunchNegative, last) >= 0:
			digits = raw[:len(raw)-1] + string(rune('0'+strings.IndexByte(overpunchNegative, last)))
			neg = true
		default:
			return decimal.Zero, "unrecognized overpunch"
		}
	case SignNibble:
		var ok bool
		digits, neg, ok = unpack(raw)
		if !ok {
			return decimal.Zero, "invalid packed decimal nibble"
		}
	}

	if !allDigits(digits) {
		return decimal.Zero, "non-numeric content"
	}

	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, "non-numeric content"
	}
	d = d.Shift(-f.Scale)
	if neg {
		d = d.Neg()
	}
	return d, ""
}

// encodeNumeric renders d into exactly f.Width bytes. Fractional digits
// beyond the scale are truncated and high-order digits that do not fit
// are dropped.
func encodeNumeric(f Field, d decimal.Decimal) string {
	n := f.digits()

	unscaled := d.Abs().Shift(f.Scale).Truncate(0)
	neg := d.Sign() < 0 && !unscaled.IsZero()

	digits := unscaled.String()
	if len(digits) > n {
		digits = digits[len(digits)-n:]
	} else if len(digits) < n {
		digits = strings.Repeat("0", n-len(digits)) + digits
	}

	plus := " "
	if f.PlusMarker {
		plus = "+"
	}

	switch f.sign() {
	case SignTrailing:
		if neg {
			return digits + "-"
		}
		return digits + plus
	case SignLeading:
		if neg {
			return "-" + digits
		}
		return plus + digits
	case SignOverpunch:
		last := digits[n-1] - '0'
		if neg {
			return digits[:n-1] + string(overpunchNegative[last])
		}
		return digits[:n-1] + string(overpunchPositive[last])
	case SignNibble:
		return pack(digits, neg)
	default:
		return digits
	}
}

// unpack reads COMP-3 bytes into a digit string and sign
func unpack(raw string) (string, bool, bool) {
	var b strings.Builder
	b.Grow(2 * len(raw))

	for i := 0; i < len(raw); i++ {
		hi, lo := raw[i]>>4, raw[i]&0x0f
		if hi > 9 {
			return "", false, false
		}
		b.WriteByte('0' + hi)
		if i < len(raw)-1 {
			if lo > 9 {
				return "", false, false
			}
			b.WriteByte('0' + lo)
			continue
		}
		switch lo {
		case 0x0c, 0x0f, 0x0a, 0x0e:
			return b.String(), false, true
		case 0x0d, 0x0b:
			return b.String(), true, true
		default:
			return "", false, false
		}
	}

	return "", false, false
}

// pack writes an odd-length digit string as COMP-3 bytes
func pack(digits string, neg bool) string {
	sign := byte(0x0c)
	if neg {
		sign = 0x0d
	}

	nibbles := make([]byte, 0, len(digits)+1)
	for i := 0; i < len(digits); i++ {
		nibbles = append(nibbles, digits[i]-'0')
	}
	nibbles = append(nibbles, sign)

	out := make([]byte, len(nibbles)/2)
	for i := range out {
		out[i] = nibbles[2*i]<<4 | nibbles[2*i+1]
	}
	return string(out)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
