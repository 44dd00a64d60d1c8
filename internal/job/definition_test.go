package job

import (
	"testing"
	"time"

	"cardbatch/internal/checkpoint"
	"cardbatch/internal/fixedwidth"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var controlSchema = fixedwidth.MustSchema("control", 20,
	fixedwidth.Field{Name: "frequency", Start: 1, End: 1, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "as_of", Start: 2, End: 9, Kind: fixedwidth.Zoned, Sign: fixedwidth.SignNone},
	fixedwidth.Field{Name: "region", Start: 10, End: 12, Kind: fixedwidth.Text},
)

var controlSpec = ControlCard{
	Schema:         controlSchema,
	Required:       []string{"frequency", "as_of", "region"},
	Codes:          map[string][]string{"frequency": {"W", "M"}, "region": {"EST", "WST"}},
	FrequencyField: "frequency",
	AsOfField:      "as_of",
}

func TestValidateControlCard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{name: "valid weekly", line: "W20250131EST"},
		{name: "valid monthly", line: "M20250131WST"},
		{name: "empty", line: "   ", wantErr: true},
		{name: "non-numeric as-of", line: "W2025013XEST", wantErr: true},
		{name: "impossible date", line: "W20251332EST", wantErr: true},
		{name: "code not enumerated", line: "W20250131NTH", wantErr: true},
		{name: "blank required", line: "W20250131", wantErr: true},
		{name: "unknown frequency code", line: "D20250131EST", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			card, err := ValidateControlCard(controlSpec, tt.line, time.Time{})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidControlCard)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), card.AsOf)
			assert.Equal(t, tt.line[:1], card.Frequency)
		})
	}
}

func TestValidateControlCard_NoSchema(t *testing.T) {
	t.Parallel()

	asOf := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	card, err := ValidateControlCard(ControlCard{}, "", asOf)
	require.NoError(t, err)
	assert.Equal(t, asOf, card.AsOf)

	_, err = ValidateControlCard(ControlCard{}, "", time.Time{})
	assert.ErrorIs(t, err, ErrInvalidControlCard)
}

func TestDecide(t *testing.T) {
	t.Parallel()

	branches := map[string]Branch{
		"W": {Name: "weekly", ReportID: "RFD0100W"},
		"M": {ReportID: "RFD0100M"},
	}

	b, err := Decide(branches, "W")
	require.NoError(t, err)
	assert.Equal(t, "weekly", b.Name)

	b, err = Decide(branches, "M")
	require.NoError(t, err)
	assert.Equal(t, "M", b.Name)

	_, err = Decide(branches, "Q")
	assert.ErrorIs(t, err, ErrUnknownFrequency)

	b, err = Decide(nil, "anything")
	require.NoError(t, err)
	assert.Empty(t, b.Name)
}

func TestDefinition_ValidateKeyWidths(t *testing.T) {
	t.Parallel()

	require.NoError(t, testDefinition().Validate())

	tests := []struct {
		name  string
		parts []checkpoint.KeyPart
	}{
		{"unknown field", []checkpoint.KeyPart{{Field: "branch", Width: 3}}},
		{"text part cut", []checkpoint.KeyPart{{Field: "code", Width: 2}, {Field: "account", Width: 6, Numeric: true}}},
		{"numeric part drops digits", []checkpoint.KeyPart{{Field: "code", Width: 3}, {Field: "account", Width: 4, Numeric: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testDefinition()
			def.Key.Parts = tt.parts
			assert.Error(t, def.Validate())
		})
	}

	wider := testDefinition()
	wider.Key.Parts = []checkpoint.KeyPart{{Field: "code", Width: 5}, {Field: "account", Width: 9, Numeric: true}}
	assert.NoError(t, wider.Validate())
}
