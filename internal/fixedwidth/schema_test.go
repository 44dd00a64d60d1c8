package fixedwidth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchema_FillsGaps(t *testing.T) {
	t.Parallel()

	s, err := NewSchema("gaps", 20,
		Field{Name: "a", Start: 3, End: 5, Kind: Text},
		Field{Name: "b", Start: 8, End: 10, Kind: Zoned},
	)
	require.NoError(t, err)

	fields := s.Fields()
	require.Len(t, fields, 5)

	total := 0
	for _, f := range fields {
		total += f.Width()
	}
	assert.Equal(t, 20, total)
	assert.Equal(t, Filler, fields[0].Kind)
	assert.Equal(t, Filler, fields[4].Kind)

	f, ok := s.Field("b")
	require.True(t, ok)
	assert.Equal(t, 8, f.Start)
}

func TestNewSchema_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		width  int
		fields []Field
	}{
		{"zero width", 0, nil},
		{"overlap", 10, []Field{{Name: "a", Start: 1, End: 5}, {Name: "b", Start: 5, End: 6}}},
		{"out of order", 10, []Field{{Name: "a", Start: 5, End: 6}, {Name: "b", Start: 1, End: 2}}},
		{"beyond width", 10, []Field{{Name: "a", Start: 8, End: 11}}},
		{"inverted", 10, []Field{{Name: "a", Start: 4, End: 3}}},
		{"duplicate", 10, []Field{{Name: "a", Start: 1, End: 2}, {Name: "a", Start: 3, End: 4}}},
		{"unnamed", 10, []Field{{Start: 1, End: 2, Kind: Text}}},
		{"sign too wide", 10, []Field{{Name: "a", Start: 1, End: 1, Kind: Packed}}},
		{"scale too big", 10, []Field{{Name: "a", Start: 1, End: 3, Kind: Zoned, Scale: 4}}},
		{"nibble on zoned", 10, []Field{{Name: "a", Start: 1, End: 3, Kind: Zoned, Sign: SignNibble}}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewSchema("bad", tt.width, tt.fields...)
			assert.Error(t, err)
		})
	}
}

func TestFieldPolicyDefaults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Zero, Field{Kind: Packed, Scale: 2}.Policy())
	assert.Equal(t, Abort, Field{Kind: Zoned}.Policy())
	assert.Equal(t, Abort, Field{Kind: Text}.Policy())
	assert.Equal(t, Abort, Field{Kind: Packed, Scale: 2, OnInvalid: Abort}.Policy())
}

func TestFieldIntegerDigits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 10, Field{Start: 1, End: 10, Kind: Zoned, Sign: SignNone}.IntegerDigits())
	assert.Equal(t, 8, Field{Start: 1, End: 12, Kind: Packed, Scale: 2, Sign: SignNibble}.IntegerDigits())
	assert.Equal(t, 6, Field{Start: 1, End: 9, Kind: Packed, Scale: 2}.IntegerDigits())
	assert.Equal(t, 3, Field{Start: 1, End: 3, Kind: Text}.IntegerDigits())
}

func TestEditAmount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "   1,234,567.89 ", EditAmount(dec("1234567.891"), 16, 2))
	assert.Equal(t, "    246.90-", EditAmount(dec("-246.9"), 11, 2))
	assert.Equal(t, "      0.00 ", EditAmount(dec("-0.001"), 11, 2))
	assert.Equal(t, "*****", EditAmount(dec("1234567"), 5, 0))
	assert.Equal(t, "  999 ", EditAmount(dec("999"), 6, 0))
	assert.Equal(t, " 12,345,678,901,234,567,890.50 ", EditAmount(dec("12345678901234567890.5"), 31, 2))
	assert.Equal(t, "  1,000-", EditAmount(dec("-999.6"), 8, 0))
}

func TestEditCount(t *testing.T) {
	t.Parallel()

	assert.Equal(t, " 1,234,567", EditCount(1234567, 10))
	assert.Equal(t, "    -1,000", EditCount(-1000, 10))
	assert.Equal(t, "  0", EditCount(0, 3))
}

func TestPad(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ab  ", PadRight("ab", 4))
	assert.Equal(t, "abc", PadRight("abcdef", 3))
	assert.Equal(t, "  ab", PadLeft("ab", 4))
	assert.Equal(t, "def", PadLeft("abcdef", 3))
}
