// Package writer implements the self-describing tabular binary Output
// Writer (§4.7): an Avro object container whose header carries the full
// column/parameter schema, so any reader can open a closed file without
// external metadata.
package writer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ColumnType is the Avro primitive used to store one output column.
type ColumnType int

const (
	ColumnLong ColumnType = iota
	ColumnDouble
	ColumnString
	ColumnBoolean
)

func (t ColumnType) avroType() string {
	switch t {
	case ColumnLong:
		return "long"
	case ColumnDouble:
		return "double"
	case ColumnBoolean:
		return "boolean"
	default:
		return "string"
	}
}

// ColumnDef names one field of the output record. Every column carries a
// zero-value default so a row that omits an optional column (§3 Output
// File Schema: "optional columns per mode") still encodes cleanly.
type ColumnDef struct {
	Name string
	Type ColumnType
}

func (t ColumnType) zeroDefault() any {
	switch t {
	case ColumnLong:
		return 0
	case ColumnDouble:
		return 0.0
	case ColumnBoolean:
		return false
	default:
		return ""
	}
}

// sanitizeName mirrors the teacher's Avro field-name sanitizer: EPICS
// control names routinely carry ':' and '.' which Avro field names forbid.
func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, ":", "___")
	name = strings.ReplaceAll(name, ".", "__")
	return name
}

// ColumnName exports sanitizeName for callers building AppendRow maps by
// hand from a ControlName, so a row's keys always match the schema field
// names ColumnDef produced from the same name.
func ColumnName(controlName string) string {
	return sanitizeName(controlName)
}

// buildAvroSchema renders the record schema for one output file: the
// always-present columns (§3) plus the caller-supplied per-channel and
// per-mode optional columns.
func buildAvroSchema(recordName string, columns []ColumnDef) (string, error) {
	fields := make([]map[string]any, 0, len(columns))
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		name := sanitizeName(c.Name)
		if seen[name] {
			return "", fmt.Errorf("writer: duplicate column %q after sanitizing", c.Name)
		}
		seen[name] = true
		fields = append(fields, map[string]any{
			"name":    name,
			"type":    c.Type.avroType(),
			"default": c.Type.zeroDefault(),
		})
	}

	schema := map[string]any{
		"type":   "record",
		"name":   recordName,
		"fields": fields,
	}
	out, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("writer: marshaling avro schema: %w", err)
	}
	return string(out), nil
}

// AlwaysPresentColumns returns the columns every output file in §3 carries
// regardless of mode.
func AlwaysPresentColumns() []ColumnDef {
	return []ColumnDef{
		{Name: "PreviousRow", Type: ColumnLong},
		{Name: "TimeOfDay", Type: ColumnDouble},
		{Name: "RowKind", Type: ColumnString}, // "row" or "param", see Writer.SetParam
		{Name: "ParamName", Type: ColumnString},
		{Name: "ParamValue", Type: ColumnString},
	}
}
