// Package recording loads multi-channel physiological recordings from CSV or
// FIT files and exposes their columns as sampled signals.
package recording

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
)

var (
	ErrFileFormat           = errors.New("malformed recording")
	ErrEmptyRecording       = errors.New("recording has no rows")
	ErrMissingColumn        = errors.New("column not found")
	ErrNonNumericColumn     = errors.New("column is not numeric")
	ErrMissingTimeReference = errors.New("no time column to derive sample rate from")
	ErrInvalidTimeReference = errors.New("time column does not advance")
)

// Recording is a table of equally long, named numeric columns.
type Recording struct {
	Path    string
	columns []string
	values  [][]float64
	numeric []bool
	rows    int
}

func newRecording(path string, columns []string) (*Recording, error) {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if seen[c] {
			return nil, fmt.Errorf("%w: duplicate column %q", ErrFileFormat, c)
		}
		seen[c] = true
	}
	rec := &Recording{
		Path:    path,
		columns: append([]string(nil), columns...),
		values:  make([][]float64, len(columns)),
		numeric: make([]bool, len(columns)),
	}
	for i := range rec.numeric {
		rec.numeric[i] = true
	}
	return rec, nil
}

// Name returns the file name without directory or extension.
func (r *Recording) Name() string {
	base := filepath.Base(r.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Columns returns the column names in file order.
func (r *Recording) Columns() []string {
	return append([]string(nil), r.columns...)
}

// Len returns the number of rows.
func (r *Recording) Len() int { return r.rows }

// Empty reports whether the recording has no data rows.
func (r *Recording) Empty() bool { return r.rows == 0 }

// Has reports whether a column exists.
func (r *Recording) Has(column string) bool {
	return r.index(column) >= 0
}

func (r *Recording) index(column string) int {
	for i, c := range r.columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Signal returns a copy of a numeric column.
func (r *Recording) Signal(column string) ([]float64, error) {
	i := r.index(column)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrMissingColumn, column, strings.Join(r.columns, ", "))
	}
	if !r.numeric[i] {
		return nil, fmt.Errorf("%w: %q", ErrNonNumericColumn, column)
	}
	return append([]float64(nil), r.values[i]...), nil
}

// Trim drops the first n rows of every column and returns the result as a
// new Recording. Trimming past the end leaves an empty recording.
func (r *Recording) Trim(n int) (*Recording, error) {
	if n <= 0 {
		return nil, fmt.Errorf("trim: expected a positive row count, got %d", n)
	}
	if n > r.rows {
		n = r.rows
	}
	out := &Recording{
		Path:    r.Path,
		columns: append([]string(nil), r.columns...),
		values:  make([][]float64, len(r.values)),
		numeric: append([]bool(nil), r.numeric...),
		rows:    r.rows - n,
	}
	for i, col := range r.values {
		out.values[i] = append([]float64(nil), col[n:]...)
	}
	return out, nil
}

func (r *Recording) appendRow(cells []float64) {
	for i, v := range cells {
		r.values[i] = append(r.values[i], v)
	}
	r.rows++
}

func (r *Recording) markNonNumeric(col int) {
	r.numeric[col] = false
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Load reads a recording, choosing the decoder from the file extension.
func Load(path string) (*Recording, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fit":
		return LoadFIT(path)
	default:
		return LoadCSV(path)
	}
}
