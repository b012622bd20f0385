// Package request loads the request table that describes which channels an
// acquisition program observes (§4.1).
package request

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/epics-modules/sdds-core/pkg/log"
)

// Row is one parsed request-table row (one channel binding configuration).
type Row struct {
	ControlName         string
	ReadbackName        string
	ReadbackUnits       string
	Description         string
	RelatedControlName  string
	Tolerance           float64
	HasTolerance        bool
	InitialValue        float64
	InitialChange       float64
	LowerLimit          float64
	UpperLimit          float64
	Disable             bool
	ExpectNumeric       bool
	HasExpectNumeric    bool
	ExpectFieldType     string
	ExpectElements      int
	BitDecoderArray     string
	Scale               float64
	Offset              float64
}

// Set is the ordered collection of rows loaded from one or more
// request-table pages; Load collapses duplicate ControlName rows only when
// its unique flag is set.
type Set struct {
	Rows []Row
}

// requiredColumn is the one column every request file must carry.
const requiredColumn = "ControlName"

// recognized lists every optional column name the loader understands; a
// column not in this list (and not ControlName) is passed through ignored,
// the way the original SDDS tools tolerate unrelated columns.
var recognized = map[string]bool{
	"ReadbackName": true, "ReadbackUnits": true, "Description": true,
	"RelatedControlName": true, "Tolerance": true, "InitialValue": true,
	"InitialChange": true, "LowerLimit": true, "UpperLimit": true,
	"Disable": true, "ExpectNumeric": true, "ExpectFieldType": true,
	"ExpectElements": true, "BitDecoderArray": true, "Scale": true, "Offset": true,
}

// SchemaError is returned for a request file missing ControlName or
// carrying a recognized column of the wrong type (§4.1, §7).
type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("request: schema error in %s: %s", e.Path, e.Reason)
}

// page is one tabular page: a header naming columns and a set of string
// cells, the generic shape a CSV-backed "table library" page takes. Real
// SDDS request files are multi-page; csv.Reader sees each as a standalone
// document, so Load accepts a list of paths to emulate pages accumulating.
type page struct {
	columns map[string]int
	rows    [][]string
}

func readPage(path string) (*page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err == io.EOF {
		return &page{columns: map[string]int{}}, nil
	}
	if err != nil {
		return nil, err
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}

	return &page{columns: cols, rows: rows}, nil
}

// Load reads one or more request-table pages (files), accumulating channels
// across pages, and returns the combined, validated Set. unique collapses
// duplicate ControlName rows to the first occurrence (the `-unique` flag).
func Load(paths []string, unique bool) (*Set, error) {
	set := &Set{}
	seen := make(map[string]bool)

	for _, p := range paths {
		pg, err := readPage(p)
		if err != nil {
			return nil, err
		}
		if len(pg.rows) == 0 && len(pg.columns) == 0 {
			log.Warnf("request: %s is empty", p)
			continue
		}
		if _, ok := pg.columns[requiredColumn]; !ok {
			return nil, &SchemaError{Path: p, Reason: "missing required column ControlName"}
		}
		if err := validateColumns(pg, p); err != nil {
			return nil, err
		}

		for _, rec := range pg.rows {
			row, err := parseRow(pg, rec)
			if err != nil {
				return nil, &SchemaError{Path: p, Reason: err.Error()}
			}
			if unique && seen[row.ControlName] {
				continue
			}
			seen[row.ControlName] = true
			set.Rows = append(set.Rows, row)
		}
	}

	return set, nil
}

// numericColumns lists recognized columns whose values must parse as
// float64; boolColumns must parse as 0/1 style booleans.
var numericColumns = []string{"Tolerance", "InitialValue", "InitialChange", "LowerLimit", "UpperLimit", "ExpectElements", "Scale", "Offset"}
var boolColumns = []string{"Disable", "ExpectNumeric"}

func validateColumns(pg *page, path string) error {
	for _, name := range numericColumns {
		idx, ok := pg.columns[name]
		if !ok {
			continue
		}
		for _, rec := range pg.rows {
			if idx >= len(rec) || strings.TrimSpace(rec[idx]) == "" {
				continue
			}
			if _, err := strconv.ParseFloat(rec[idx], 64); err != nil {
				return &SchemaError{Path: path, Reason: fmt.Sprintf("column %s is not numeric: %q", name, rec[idx])}
			}
		}
	}
	for _, name := range boolColumns {
		idx, ok := pg.columns[name]
		if !ok {
			continue
		}
		for _, rec := range pg.rows {
			if idx >= len(rec) || strings.TrimSpace(rec[idx]) == "" {
				continue
			}
			if _, err := strconv.ParseBool(rec[idx]); err != nil {
				return &SchemaError{Path: path, Reason: fmt.Sprintf("column %s is not boolean: %q", name, rec[idx])}
			}
		}
	}
	return nil
}

func cell(pg *page, rec []string, name string) (string, bool) {
	idx, ok := pg.columns[name]
	if !ok || idx >= len(rec) {
		return "", false
	}
	v := strings.TrimSpace(rec[idx])
	if v == "" {
		return "", false
	}
	return v, true
}

func parseRow(pg *page, rec []string) (Row, error) {
	row := Row{}
	idx := pg.columns[requiredColumn]
	if idx >= len(rec) {
		return row, fmt.Errorf("row too short for ControlName column")
	}
	row.ControlName = strings.TrimSpace(rec[idx])
	if row.ControlName == "" {
		return row, fmt.Errorf("empty ControlName")
	}

	if v, ok := cell(pg, rec, "ReadbackName"); ok {
		row.ReadbackName = v
	}
	if v, ok := cell(pg, rec, "ReadbackUnits"); ok {
		row.ReadbackUnits = v
	}
	if v, ok := cell(pg, rec, "Description"); ok {
		row.Description = v
	}
	if v, ok := cell(pg, rec, "RelatedControlName"); ok {
		row.RelatedControlName = v
	}
	if v, ok := cell(pg, rec, "BitDecoderArray"); ok {
		row.BitDecoderArray = v
	}
	if v, ok := cell(pg, rec, "ExpectFieldType"); ok {
		row.ExpectFieldType = v
	}
	if v, ok := cell(pg, rec, "Tolerance"); ok {
		f, _ := strconv.ParseFloat(v, 64)
		row.Tolerance, row.HasTolerance = f, true
	}
	if v, ok := cell(pg, rec, "InitialValue"); ok {
		row.InitialValue, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := cell(pg, rec, "InitialChange"); ok {
		row.InitialChange, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := cell(pg, rec, "LowerLimit"); ok {
		row.LowerLimit, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := cell(pg, rec, "UpperLimit"); ok {
		row.UpperLimit, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := cell(pg, rec, "ExpectElements"); ok {
		f, _ := strconv.ParseFloat(v, 64)
		row.ExpectElements = int(f)
	}
	if v, ok := cell(pg, rec, "Scale"); ok {
		row.Scale, _ = strconv.ParseFloat(v, 64)
	} else {
		row.Scale = 1
	}
	if v, ok := cell(pg, rec, "Offset"); ok {
		row.Offset, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := cell(pg, rec, "Disable"); ok {
		b, _ := strconv.ParseBool(v)
		row.Disable = b
	}
	if v, ok := cell(pg, rec, "ExpectNumeric"); ok {
		b, _ := strconv.ParseBool(v)
		row.ExpectNumeric, row.HasExpectNumeric = b, true
	}

	return row, nil
}

// FilterNames applies the supplemented save/restore include/exclude glob
// filter (sddspvasaverestore.cc -includeAllNames/-excludeNames) to a Set,
// returning a new Set with only the surviving rows.
func FilterNames(set *Set, include, exclude []string) (*Set, error) {
	if len(include) == 0 && len(exclude) == 0 {
		return set, nil
	}
	out := &Set{}
	for _, row := range set.Rows {
		keep := len(include) == 0
		for _, pat := range include {
			if ok, err := filepath.Match(pat, row.ControlName); err != nil {
				return nil, err
			} else if ok {
				keep = true
				break
			}
		}
		for _, pat := range exclude {
			if ok, err := filepath.Match(pat, row.ControlName); err != nil {
				return nil, err
			} else if ok {
				keep = false
				break
			}
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}
