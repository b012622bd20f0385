package snapshot

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/linkedin/goavro/v2"
)

// rowSchema is the self-describing OCF schema shared by every snapshot
// file: one record shape carries both the per-run parameters (RowKind
// "param") and the per-binding rows (RowKind "row"), the same scheme
// internal/writer uses for its page parameters.
const rowSchema = `{
  "type": "record",
  "name": "SnapshotRecord",
  "fields": [
    {"name": "RowKind", "type": "string", "default": "row"},
    {"name": "ParamName", "type": "string", "default": ""},
    {"name": "ParamValue", "type": "string", "default": ""},
    {"name": "ControlName", "type": "string", "default": ""},
    {"name": "Provider", "type": "string", "default": ""},
    {"name": "ExpectFieldType", "type": "string", "default": ""},
    {"name": "ExpectNumeric", "type": "boolean", "default": false},
    {"name": "ExpectElements", "type": "long", "default": 0},
    {"name": "ValueString", "type": "string", "default": ""},
    {"name": "IndirectName", "type": "string", "default": ""},
    {"name": "CAError", "type": "string", "default": ""},
    {"name": "Count", "type": "long", "default": 0},
    {"name": "Lineage", "type": "string", "default": ""}
  ]
}`

// WriteSet writes a complete Set to path as a single self-describing OCF
// file: one parameter record per Params field followed by one record per
// Row (§4.8 Save).
func WriteSet(path string, set *Set) error {
	codec, err := goavro.NewCodec(rowSchema)
	if err != nil {
		return fmt.Errorf("snapshot: building schema: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: creating %s: %w", path, err)
	}
	defer f.Close()

	writer, err := goavro.NewOCFWriter(goavro.OCFConfig{W: f, Codec: codec})
	if err != nil {
		return fmt.Errorf("snapshot: building OCF writer: %w", err)
	}

	records := make([]map[string]any, 0, len(paramPairs(set.Params))+len(set.Rows))
	for _, p := range paramPairs(set.Params) {
		records = append(records, map[string]any{
			"RowKind": "param", "ParamName": p.name, "ParamValue": p.value,
		})
	}
	for _, r := range set.Rows {
		records = append(records, map[string]any{
			"RowKind":         "row",
			"ControlName":     r.ControlName,
			"Provider":        r.Provider,
			"ExpectFieldType": r.ExpectFieldType,
			"ExpectNumeric":   r.ExpectNumeric,
			"ExpectElements":  int64(r.ExpectElements),
			"ValueString":     r.ValueString,
			"IndirectName":    r.IndirectName,
			"CAError":         r.CAError,
			"Count":           int64(r.Count),
			"Lineage":         r.Lineage,
		})
	}

	if err := writer.Append(records); err != nil {
		return fmt.Errorf("snapshot: appending records: %w", err)
	}
	return nil
}

// ReadSet reads a snapshot file back into a Set (§4.8 Restore).
func ReadSet(path string) (*Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening %s: %w", path, err)
	}
	defer f.Close()

	reader, err := goavro.NewOCFReader(f)
	if err != nil {
		return nil, fmt.Errorf("snapshot: building OCF reader: %w", err)
	}

	set := &Set{}
	params := map[string]string{}

	for reader.Scan() {
		rec, err := reader.Read()
		if err != nil {
			return nil, fmt.Errorf("snapshot: reading record: %w", err)
		}
		m, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		if m["RowKind"] == "param" {
			params[asString(m["ParamName"])] = asString(m["ParamValue"])
			continue
		}
		set.Rows = append(set.Rows, Row{
			ControlName:     asString(m["ControlName"]),
			Provider:        asString(m["Provider"]),
			ExpectFieldType: asString(m["ExpectFieldType"]),
			ExpectNumeric:   asBool(m["ExpectNumeric"]),
			ExpectElements:  int(asLong(m["ExpectElements"])),
			ValueString:     asString(m["ValueString"]),
			IndirectName:    asString(m["IndirectName"]),
			CAError:         asString(m["CAError"]),
			Count:           int(asLong(m["Count"])),
			Lineage:         asString(m["Lineage"]),
		})
	}

	set.Params = paramsFromMap(params)
	return set, nil
}

type paramPair struct{ name, value string }

func paramPairs(p Params) []paramPair {
	const layout = time.RFC3339Nano
	return []paramPair{
		{"TimeStamp", p.TimeStamp.Format(layout)},
		{"StartTime", p.StartTime.Format(layout)},
		{"Time", p.Time.Format(layout)},
		{"LoginID", p.LoginID},
		{"EffectiveUID", strconv.Itoa(p.EffectiveUID)},
		{"GroupID", strconv.Itoa(p.GroupID)},
		{"SnapType", p.SnapType},
		{"RequestFile", p.RequestFile},
		{"SnapshotFilename", p.SnapshotFilename},
		{"SnapshotDescription", p.SnapshotDescription},
		{"ElapsedTimeToCAConnect", p.ElapsedTimeToCAConnect.String()},
		{"ElapsedTimeToSave", p.ElapsedTimeToSave.String()},
		{"PendIOTime", p.PendIOTime.String()},
	}
}

func paramsFromMap(m map[string]string) Params {
	const layout = time.RFC3339Nano
	parseTime := func(s string) time.Time {
		t, _ := time.Parse(layout, s)
		return t
	}
	parseDur := func(s string) time.Duration {
		d, _ := time.ParseDuration(s)
		return d
	}
	uid, _ := strconv.Atoi(m["EffectiveUID"])
	gid, _ := strconv.Atoi(m["GroupID"])
	return Params{
		TimeStamp:              parseTime(m["TimeStamp"]),
		StartTime:              parseTime(m["StartTime"]),
		Time:                   parseTime(m["Time"]),
		LoginID:                m["LoginID"],
		EffectiveUID:           uid,
		GroupID:                gid,
		SnapType:               m["SnapType"],
		RequestFile:            m["RequestFile"],
		SnapshotFilename:       m["SnapshotFilename"],
		SnapshotDescription:    m["SnapshotDescription"],
		ElapsedTimeToCAConnect: parseDur(m["ElapsedTimeToCAConnect"]),
		ElapsedTimeToSave:      parseDur(m["ElapsedTimeToSave"]),
		PendIOTime:             parseDur(m["PendIOTime"]),
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asLong(v any) int64 {
	n, _ := v.(int64)
	return n
}
