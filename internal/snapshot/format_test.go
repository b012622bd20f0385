package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epics-modules/sdds-core/internal/channel"
)

func TestFormatValueIntegerHasNoFraction(t *testing.T) {
	s := FormatValue(channel.Value{Number: 42}, channel.FieldScalarNumeric, false)
	assert.Equal(t, "42", s)
}

func TestFormatValueDoubleUsesFifteenDigits(t *testing.T) {
	s := FormatValue(channel.Value{Number: 1.0 / 3.0}, channel.FieldScalarNumeric, false)
	assert.Equal(t, FormatNumberPrecision(1.0/3.0, 15), s)
}

func TestFormatValueEnumLabelOrOrdinal(t *testing.T) {
	v := channel.Value{Ordinal: 1, Labels: []string{"OFF", "ON"}}
	assert.Equal(t, "ON", FormatValue(v, channel.FieldEnum, false))
	assert.Equal(t, "1", FormatValue(v, channel.FieldEnum, true))
}

func TestFormatValueStringQuotesWhitespace(t *testing.T) {
	assert.Equal(t, "noSpace", FormatValue(channel.Value{String: "noSpace"}, channel.FieldScalarString, false))
	assert.Equal(t, `"has space"`, FormatValue(channel.Value{String: "has space"}, channel.FieldScalarString, false))
}

func TestParseValueRoundTripsNumeric(t *testing.T) {
	s := FormatValue(channel.Value{Number: 3.14159265358979}, channel.FieldScalarNumeric, false)
	v, err := ParseValue(s, channel.FieldScalarNumeric)
	require.NoError(t, err)
	assert.InDelta(t, 3.14159265358979, v.Number, 1e-12)
}

func TestParseValueRoundTripsQuotedString(t *testing.T) {
	s := FormatValue(channel.Value{String: "has space"}, channel.FieldScalarString, false)
	v, err := ParseValue(s, channel.FieldScalarString)
	require.NoError(t, err)
	assert.Equal(t, "has space", v.String)
}

func TestValuesEqualAtPrecisionFallsBackToPublishedPrecision(t *testing.T) {
	a := 1.0000001
	b := 1.0000002
	assert.False(t, FormatNumberPrecision(a, 15) == FormatNumberPrecision(b, 15))
	assert.True(t, ValuesEqualAtPrecision(a, b, 4))
}
