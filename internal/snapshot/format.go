// Package snapshot implements bulk save/restore of channel values (§4.8):
// formatting a scalar into its canonical ValueString, parsing it back, and
// the daemon mode that re-triggers a save cycle.
package snapshot

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/epics-modules/sdds-core/internal/channel"
)

// FormatValue renders one binding's sampled value into the ValueString
// column per §4.8's per-type formatting rules.
func FormatValue(v channel.Value, ft channel.FieldType, numerical bool) string {
	switch ft {
	case channel.FieldScalarString:
		return quoteIfNeeded(v.String)
	case channel.FieldEnum:
		if numerical {
			return strconv.Itoa(v.Ordinal)
		}
		if v.Ordinal >= 0 && v.Ordinal < len(v.Labels) {
			return quoteIfNeeded(v.Labels[v.Ordinal])
		}
		return strconv.Itoa(v.Ordinal)
	default:
		return formatNumber(v.Number)
	}
}

// formatNumber applies the integer/double/float precision rules: an
// integral value is written with no fractional part, otherwise 15
// significant digits (the double case; callers needing 6-digit float
// precision use FormatNumberPrecision directly).
func formatNumber(value float64) string {
	if value == math.Trunc(value) && !math.IsInf(value, 0) {
		return strconv.FormatFloat(value, 'f', 0, 64)
	}
	return FormatNumberPrecision(value, 15)
}

// FormatNumberPrecision renders value with the given number of significant
// digits, used both for the default double case (15) and the narrower
// float case (6) named in §4.8.
func FormatNumberPrecision(value float64, sigDigits int) string {
	return strconv.FormatFloat(value, 'g', sigDigits, 64)
}

func quoteIfNeeded(s string) string {
	if strings.ContainsAny(s, " \t\n") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// ParseValue parses a ValueString back into a channel.Value for the given
// field type, the inverse of FormatValue (§4.8 Restore).
func ParseValue(s string, ft channel.FieldType) (channel.Value, error) {
	switch ft {
	case channel.FieldScalarString:
		return channel.Value{String: unquote(s)}, nil
	case channel.FieldEnum:
		if n, err := strconv.Atoi(s); err == nil {
			return channel.Value{Ordinal: n}, nil
		}
		return channel.Value{String: unquote(s)}, nil
	default:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return channel.Value{}, fmt.Errorf("snapshot: parsing ValueString %q: %w", s, err)
		}
		return channel.Value{Number: n}, nil
	}
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
	}
	return s
}

// ValuesEqualAtPrecision compares two numeric scalars first at 15
// significant digits, then retries at the channel's published display
// precision if they differ only in trailing digits (§4.8 Restore verify).
func ValuesEqualAtPrecision(a, b float64, publishedPrecision int) bool {
	if FormatNumberPrecision(a, 15) == FormatNumberPrecision(b, 15) {
		return true
	}
	if publishedPrecision <= 0 {
		publishedPrecision = 6
	}
	return FormatNumberPrecision(a, publishedPrecision) == FormatNumberPrecision(b, publishedPrecision)
}
