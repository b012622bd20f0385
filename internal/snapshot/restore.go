package snapshot

import (
	"context"
	"fmt"

	"github.com/epics-modules/sdds-core/internal/channel"
	"github.com/epics-modules/sdds-core/pkg/log"
)

// RestoreOptions configures one restore cycle (§4.8 Restore).
type RestoreOptions struct {
	Verify bool
	// Precision gives the published display precision (significant
	// digits) per control name, consulted only when Verify is set and a
	// 15-digit comparison fails. Missing entries default to 6.
	Precision map[string]int
}

// VerifyFailure records one channel whose restored value did not compare
// equal to the snapshot's recorded value; restore reports these but never
// fails the run over them (§4.8 Restore).
type VerifyFailure struct {
	ControlName string
	Expected    string
	Got         string
}

func (f VerifyFailure) Error() string {
	return fmt.Sprintf("snapshot: verify mismatch for %q: expected %q, got %q", f.ControlName, f.Expected, f.Got)
}

// Restore parses every row's ValueString back into its binding's field
// type, issues a put, and optionally re-reads to verify. Verification
// failures are collected and returned but do not stop the restore.
func Restore(ctx context.Context, layer *channel.Layer, set *Set, opts RestoreOptions) ([]VerifyFailure, error) {
	var failures []VerifyFailure

	for _, row := range set.Rows {
		b, ok := layer.Lookup(row.ControlName)
		if !ok {
			log.Warnf("snapshot: %q from snapshot file is not in the current request", row.ControlName)
			continue
		}
		if row.CAError == "y" {
			continue
		}

		v, err := ParseValue(row.ValueString, b.FieldType)
		if err != nil {
			log.Warnf("snapshot: skipping %q: %v", row.ControlName, err)
			continue
		}

		if err := layer.Put(ctx, b, v); err != nil {
			log.Warnf("snapshot: put failed for %q: %v", row.ControlName, err)
			continue
		}

		if !opts.Verify || b.FieldType == channel.FieldWaveformNumeric || b.FieldType == channel.FieldWaveformString {
			continue
		}

		readBack, err := layer.Get(ctx, b)
		if err != nil {
			failures = append(failures, VerifyFailure{ControlName: row.ControlName, Expected: row.ValueString, Got: "<get failed>"})
			continue
		}

		if !verifyMatches(b.FieldType, row, readBack, opts.Precision[row.ControlName]) {
			failures = append(failures, VerifyFailure{
				ControlName: row.ControlName,
				Expected:    row.ValueString,
				Got:         FormatValue(readBack, b.FieldType, false),
			})
		}
	}

	return failures, nil
}

func verifyMatches(ft channel.FieldType, row Row, readBack channel.Value, precision int) bool {
	switch ft {
	case channel.FieldScalarNumeric:
		want, err := ParseValue(row.ValueString, ft)
		if err != nil {
			return false
		}
		return ValuesEqualAtPrecision(want.Number, readBack.Number, precision)
	default:
		return FormatValue(readBack, ft, false) == row.ValueString
	}
}
