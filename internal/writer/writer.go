package writer

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/linkedin/goavro/v2"

	"github.com/epics-modules/sdds-core/internal/trigger"
)

// rowsAllocatedDefault is the block size a fresh file preallocates before
// its first lengthen-on-demand (§4.7: "100 rows at a time for alarm logs,
// flushInterval rows for periodic logs" — callers override via
// Options.Preallocate).
const rowsAllocatedDefault = 100

// Options configures one Writer.
type Options struct {
	Columns       []ColumnDef
	BindingNames  []string // ControlName per binding index, for Sample-derived rows
	FlushInterval int      // write cycles between forced flushes; 0 disables periodic flush
	Preallocate   int      // rows to "allocate" per lengthen; 0 uses rowsAllocatedDefault
}

// Writer is the Output Writer (§4.7): append-only, schema-checked on
// reopen, periodically flushed, optionally gzip-compressed on rotation.
type Writer struct {
	path    string
	file    *os.File
	codec   *goavro.Codec
	columns []ColumnDef
	opts    Options

	params       map[string]any
	rows         []map[string]any
	rowsAllocated int
	rowsUsed      int
	cyclesSinceFlush int
	pageOpen      bool
}

// Open creates (or truncates) the output file and writes its schema
// header. Use OpenForAppend to reopen an existing file.
func Open(path string, opts Options) (*Writer, error) {
	columns := append(append([]ColumnDef{}, AlwaysPresentColumns()...), opts.Columns...)
	schema, err := buildAvroSchema("OutputRow", columns)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("writer: building codec for %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("writer: creating %s: %w", path, err)
	}

	w := &Writer{path: path, file: f, codec: codec, columns: columns, opts: opts}
	if w.opts.Preallocate <= 0 {
		w.opts.Preallocate = rowsAllocatedDefault
	}
	return w, nil
}

// OpenForAppend reopens an existing output file, verifying its schema
// matches the columns this run would otherwise create (§4.7 append
// semantics: "every request-row readback name must exist as a column").
func OpenForAppend(path string, opts Options) (*Writer, error) {
	columns := append(append([]ColumnDef{}, AlwaysPresentColumns()...), opts.Columns...)
	wantSchema, err := buildAvroSchema("OutputRow", columns)
	if err != nil {
		return nil, err
	}

	existing, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("writer: opening %s for append: %w", path, err)
	}
	reader, err := goavro.NewOCFReader(bufio.NewReader(existing))
	if err != nil {
		existing.Close()
		return nil, fmt.Errorf("writer: reading OCF header of %s: %w", path, err)
	}
	gotSchema := reader.Codec().Schema()
	existing.Close()

	wantCodec, err := goavro.NewCodec(wantSchema)
	if err != nil {
		return nil, err
	}
	if wantCodec.Schema() != gotSchema {
		return nil, &SchemaMismatchError{Path: path}
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("writer: reopening %s for append: %w", path, err)
	}

	w := &Writer{path: path, file: f, codec: wantCodec, columns: columns, opts: opts}
	if w.opts.Preallocate <= 0 {
		w.opts.Preallocate = rowsAllocatedDefault
	}
	return w, nil
}

// SchemaMismatchError is returned by OpenForAppend when an existing file's
// column set does not match the run's current request/mode (§4.7, §7).
type SchemaMismatchError struct{ Path string }

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("writer: schema mismatch reopening %s for append", e.Path)
}

// OpenPage starts a new logical page sized for preallocate rows, resetting
// per-page parameters. Implements trigger.PageWriter.
func (w *Writer) OpenPage(rows int) error {
	w.params = make(map[string]any)
	w.pageOpen = true
	w.StartPage(rows)
	return nil
}

// StartPage is the general (non-trigger) equivalent of OpenPage (§4.7
// start_page).
func (w *Writer) StartPage(preallocate int) {
	if preallocate <= 0 {
		preallocate = w.opts.Preallocate
	}
	w.rowsAllocated = preallocate
	w.rowsUsed = 0
	w.pageOpen = true
}

// LengthenPage grows the current page's row budget (§4.7 lengthen_page).
func (w *Writer) LengthenPage(additional int) {
	if additional <= 0 {
		additional = w.opts.Preallocate
	}
	w.rowsAllocated += additional
}

// SetParam records a page parameter, to be flushed as a reserved "param"
// row ahead of the page's data rows. Implements trigger.PageWriter.
func (w *Writer) SetParam(name string, value any) error {
	if w.params == nil {
		w.params = make(map[string]any)
	}
	w.params[name] = value
	return nil
}

// SetPageParameter is the general (non-trigger) name for SetParam (§4.7).
func (w *Writer) SetPageParameter(name string, value any) error { return w.SetParam(name, value) }

// WriteRow converts a trigger Sample into a row keyed by binding control
// name and appends it, lengthening the page on demand. Implements
// trigger.PageWriter.
func (w *Writer) WriteRow(s trigger.Sample, postTrigger bool) error {
	row := map[string]any{
		"TimeOfDay": s.Source.Float(),
		"RowKind":   "row",
	}
	for i, v := range s.Values {
		if i >= len(w.opts.BindingNames) {
			break
		}
		row[sanitizeName(w.opts.BindingNames[i])] = v
	}
	row["PostTrigger"] = postTrigger
	return w.AppendRow(row)
}

// AppendRow appends one already-built data row, auto-lengthening the
// current page when the row budget is exhausted (§4.7: "MUST lengthen on
// demand when rowsAllocated <= rowsUsed rather than reject the append").
func (w *Writer) AppendRow(row map[string]any) error {
	if !w.pageOpen {
		w.StartPage(w.opts.Preallocate)
	}
	if w.rowsAllocated <= w.rowsUsed {
		w.LengthenPage(w.opts.Preallocate)
	}
	if _, ok := row["RowKind"]; !ok {
		row["RowKind"] = "row"
	}
	w.rows = append(w.rows, row)
	w.rowsUsed++

	w.cyclesSinceFlush++
	if w.opts.FlushInterval > 0 && w.cyclesSinceFlush >= w.opts.FlushInterval {
		return w.Flush()
	}
	return nil
}

// ClosePage flushes any buffered rows/parameters and ends the page.
// Implements trigger.PageWriter.
func (w *Writer) ClosePage() error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.pageOpen = false
	return nil
}

// Flush synchronously persists buffered parameter and data rows to disk
// (§4.7 Flush): one reserved row per parameter, then every data row.
func (w *Writer) Flush() error {
	if len(w.params) == 0 && len(w.rows) == 0 {
		return nil
	}

	records := make([]map[string]any, 0, len(w.params)+len(w.rows))
	for name, value := range w.params {
		records = append(records, map[string]any{
			"RowKind":    "param",
			"ParamName":  name,
			"ParamValue": fmt.Sprintf("%v", value),
		})
	}
	records = append(records, w.rows...)

	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:     w.file,
		Codec: w.codec,
	})
	if err != nil {
		return fmt.Errorf("writer: creating OCF appender for %s: %w", w.path, err)
	}
	if err := ocfWriter.Append(records); err != nil {
		return fmt.Errorf("writer: appending %d records to %s: %w", len(records), w.path, err)
	}

	w.params = make(map[string]any)
	w.rows = nil
	w.cyclesSinceFlush = 0
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// CompressOnRotation gzips src into src+".gz" and removes the original,
// mirroring the teacher's post-rotation archive compression step.
func CompressOnRotation(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("writer: opening %s for compression: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(src + ".gz")
	if err != nil {
		return fmt.Errorf("writer: creating %s.gz: %w", src, err)
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return fmt.Errorf("writer: compressing %s: %w", src, err)
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

// Recover implements the one-shot corrupted-file salvage step (§4.7
// recover): it reads every record it can from path, discards a trailing
// partial page, and rewrites a clean file with the same schema.
func Recover(path string, opts Options) (recovered int, err error) {
	columns := append(append([]ColumnDef{}, AlwaysPresentColumns()...), opts.Columns...)
	schema, err := buildAvroSchema("OutputRow", columns)
	if err != nil {
		return 0, err
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return 0, err
	}

	in, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("writer: opening %s for recovery: %w", path, err)
	}
	reader, readErr := goavro.NewOCFReader(bufio.NewReader(in))
	if readErr != nil {
		in.Close()
		return 0, fmt.Errorf("writer: %s has no readable OCF header: %w", path, readErr)
	}

	var good []map[string]any
	for reader.Scan() {
		rec, err := reader.Read()
		if err != nil {
			break // stop at the first corrupt record; everything before it is salvaged
		}
		m, ok := rec.(map[string]any)
		if !ok {
			break
		}
		good = append(good, m)
	}
	in.Close()

	tmp := path + ".recovered"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return 0, err
	}
	ocfWriter, err := goavro.NewOCFWriter(goavro.OCFConfig{W: out, Codec: codec})
	if err != nil {
		out.Close()
		return 0, err
	}
	if len(good) > 0 {
		if err := ocfWriter.Append(good); err != nil {
			out.Close()
			return 0, err
		}
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, err
	}
	return len(good), nil
}
