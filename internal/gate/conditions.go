// Package gate implements the condition-file inhibit/pass evaluation that
// arms or suppresses the acquisition loop (§4.5).
package gate

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ConditionRow is one row of a conditions file: a channel, its acceptance
// range, and the supplemented per-row Holdoff/ScaleFactor (from
// sddsmonitor.c, not present in the distilled condition model).
type ConditionRow struct {
	ControlName  string
	MinimumValue float64
	MaximumValue float64
	Holdoff      float64
	ScaleFactor  float64 // 0 means "unset"; callers treat it as 1
}

// Scale applies the row's ScaleFactor (default 1) to a raw reading before
// the range check.
func (r ConditionRow) Scale(value float64) float64 {
	if r.ScaleFactor == 0 {
		return value
	}
	return value * r.ScaleFactor
}

// Set is the ordered collection of rows loaded from one conditions file.
type Set struct {
	Rows []ConditionRow
}

// LoadConditions reads a tabular conditions file with columns ControlName,
// MinimumValue, MaximumValue, and the optional Holdoff/ScaleFactor columns
// (§4.5).
func LoadConditions(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gate: opening conditions file %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("gate: reading conditions header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	for _, required := range []string{"ControlName", "MinimumValue", "MaximumValue"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("gate: conditions file %s missing required column %s", path, required)
		}
	}

	set := &Set{}
	for {
		rec, err := r.Read()
		if err != nil {
			break
		}
		row := ConditionRow{
			ControlName: rec[col["ControlName"]],
		}
		row.MinimumValue, err = strconv.ParseFloat(rec[col["MinimumValue"]], 64)
		if err != nil {
			return nil, fmt.Errorf("gate: conditions file %s: bad MinimumValue for %s: %w", path, row.ControlName, err)
		}
		row.MaximumValue, err = strconv.ParseFloat(rec[col["MaximumValue"]], 64)
		if err != nil {
			return nil, fmt.Errorf("gate: conditions file %s: bad MaximumValue for %s: %w", path, row.ControlName, err)
		}
		if idx, ok := col["Holdoff"]; ok && rec[idx] != "" {
			row.Holdoff, _ = strconv.ParseFloat(rec[idx], 64)
		}
		if idx, ok := col["ScaleFactor"]; ok && rec[idx] != "" {
			row.ScaleFactor, _ = strconv.ParseFloat(rec[idx], 64)
		}
		set.Rows = append(set.Rows, row)
	}
	return set, nil
}
