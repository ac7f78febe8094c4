// Package dataset holds the CSV snapshots a session moves through: the raw
// upload, an optionally edited copy, and the processed data rows are
// selected from.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

var (
	// ErrEmptySnapshot is returned for input without a header row.
	ErrEmptySnapshot = errors.New("csv data is empty")
	// ErrNotCSV is returned for uploads whose name does not end in .csv.
	ErrNotCSV = errors.New("only .csv files are accepted")
	// ErrCellOutOfRange is returned by WithCell for a row or column outside the snapshot.
	ErrCellOutOfRange = errors.New("cell is outside the table")
)

// Origin records how a snapshot was produced.
type Origin string

const (
	OriginUpload    Origin = "upload"
	OriginEdit      Origin = "edit"
	OriginSelection Origin = "selection"
	OriginServer    Origin = "server"
)

// Snapshot is an immutable table of string cells: one header row plus
// ordered body rows. All accessors return copies.
type Snapshot struct {
	name   string
	origin Origin
	header []string
	rows   [][]string
}

// New builds a snapshot from a header and body rows, copying both.
func New(name string, origin Origin, header []string, rows [][]string) (*Snapshot, error) {
	if len(header) == 0 {
		return nil, ErrEmptySnapshot
	}
	return &Snapshot{
		name:   name,
		origin: origin,
		header: cloneRow(header),
		rows:   cloneRows(rows),
	}, nil
}

// ValidateFilename rejects anything but .csv uploads.
func ValidateFilename(name string) error {
	if !strings.EqualFold(filepath.Ext(name), ".csv") {
		return fmt.Errorf("%w: %q", ErrNotCSV, filepath.Base(name))
	}
	return nil
}

// Parse reads CSV content. Rows with a different cell count than the header
// are kept as-is; blank lines are skipped.
func Parse(name string, origin Origin, data []byte) (*Snapshot, error) {
	return Read(name, origin, bytes.NewReader(data))
}

// Read is Parse over a reader.
func Read(name string, origin Origin, r io.Reader) (*Snapshot, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	// Strip a UTF-8 BOM written by spreadsheet exports
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	if len(records) == 0 || (len(records[0]) == 1 && strings.TrimSpace(records[0][0]) == "") {
		return nil, ErrEmptySnapshot
	}

	return &Snapshot{
		name:   name,
		origin: origin,
		header: records[0],
		rows:   records[1:],
	}, nil
}

// Name returns the file name the snapshot was loaded or will be uploaded as.
func (s *Snapshot) Name() string { return s.name }

// Origin returns how the snapshot was produced.
func (s *Snapshot) Origin() Origin { return s.origin }

// Header returns a copy of the header row.
func (s *Snapshot) Header() []string { return cloneRow(s.header) }

// Len returns the number of body rows.
func (s *Snapshot) Len() int { return len(s.rows) }

// Row returns a copy of body row i.
func (s *Snapshot) Row(i int) ([]string, bool) {
	if i < 0 || i >= len(s.rows) {
		return nil, false
	}
	return cloneRow(s.rows[i]), true
}

// Rows returns a copy of all body rows.
func (s *Snapshot) Rows() [][]string { return cloneRows(s.rows) }

// MalformedRows returns the indices of body rows whose width differs from the header.
func (s *Snapshot) MalformedRows() []int {
	var bad []int
	for i, row := range s.rows {
		if len(row) != len(s.header) {
			bad = append(bad, i)
		}
	}
	return bad
}

// WithCell returns a new snapshot with one body cell replaced.
func (s *Snapshot) WithCell(row, col int, value string) (*Snapshot, error) {
	if row < 0 || row >= len(s.rows) || col < 0 || col >= len(s.rows[row]) {
		return nil, fmt.Errorf("%w: row %d, column %d", ErrCellOutOfRange, row, col)
	}
	out := &Snapshot{
		name:   s.name,
		origin: OriginEdit,
		header: cloneRow(s.header),
		rows:   cloneRows(s.rows),
	}
	out.rows[row][col] = value
	return out, nil
}

// Subset returns a new snapshot holding the header and the given body rows,
// in the order given. Indices must be valid.
func (s *Snapshot) Subset(name string, origin Origin, indices []int) (*Snapshot, error) {
	rows := make([][]string, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(s.rows) {
			return nil, fmt.Errorf("row %d out of range [0, %d)", i, len(s.rows))
		}
		rows = append(rows, cloneRow(s.rows[i]))
	}
	return &Snapshot{name: name, origin: origin, header: cloneRow(s.header), rows: rows}, nil
}

// Bytes encodes the snapshot as CSV.
func (s *Snapshot) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.header); err != nil {
		return nil, err
	}
	if err := w.WriteAll(s.rows); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", s.name, err)
	}
	return buf.Bytes(), nil
}

func cloneRow(row []string) []string {
	if row == nil {
		return nil
	}
	out := make([]string, len(row))
	copy(out, row)
	return out
}

func cloneRows(rows [][]string) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out
}
