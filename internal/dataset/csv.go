package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
)

// CSVWriter writes rows as CSV with a header line. Absent values are empty fields.
type CSVWriter struct {
	mu      sync.Mutex
	closer  io.Closer
	buf     *bufio.Writer
	csv     *csv.Writer
	schema  Schema
	started bool
	closed  bool
	rows    int
}

// NewCSVWriter creates a writer over w. The header is written before the first row.
func NewCSVWriter(w io.Writer, schema Schema) *CSVWriter {
	bw := bufio.NewWriter(w)
	cw := &CSVWriter{
		buf:    bw,
		csv:    csv.NewWriter(bw),
		schema: schema,
	}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw
}

// CreateCSVFile creates or truncates path and returns a writer over it.
func CreateCSVFile(path string, schema Schema) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create dataset file %s: %w", path, err)
	}
	return NewCSVWriter(f, schema), nil
}

// Write implements Sink.
func (w *CSVWriter) Write(_ context.Context, rows []Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrSinkClosed
	}
	if err := w.header(); err != nil {
		return err
	}

	for _, row := range rows {
		if err := w.csv.Write(encodeRow(row)); err != nil {
			return fmt.Errorf("write dataset row %s: %w", row.CellID, err)
		}
		w.rows++
	}
	w.csv.Flush()
	return w.csv.Error()
}

// Rows returns the number of rows written so far.
func (w *CSVWriter) Rows() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Close flushes buffered rows and closes the underlying writer when it is closable.
// A writer that never received rows still emits its header.
func (w *CSVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.header()
	w.csv.Flush()
	if err == nil {
		err = w.csv.Error()
	}
	if ferr := w.buf.Flush(); err == nil {
		err = ferr
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *CSVWriter) header() error {
	if w.started {
		return nil
	}
	w.started = true
	if err := w.csv.Write(w.schema.Header()); err != nil {
		return fmt.Errorf("write dataset header: %w", err)
	}
	return nil
}

func encodeRow(r Row) []string {
	label := ""
	if r.Label != nil {
		label = strconv.Itoa(*r.Label)
	}
	return []string{
		r.CellID.String(),
		formatFloat(r.NDVI),
		formatFloat(r.LST),
		formatFloat(r.SoilMoisture),
		label,
		r.StartDate,
		r.EndDate,
	}
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
