package recording

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadCSV reads a comma-separated recording whose first row names the columns.
// Blank cells read as NaN. A cell that is not a number marks its column as
// non-numeric rather than failing the load. A zero-byte file or a header with
// no rows yields an empty recording.
func LoadCSV(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	rec, err := readCSV(f, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rec, nil
}

func readCSV(r io.Reader, path string) (*Recording, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return newRecording(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrFileFormat, err)
	}
	for i, name := range header {
		name = strings.TrimSpace(name)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if name == "" {
			return nil, fmt.Errorf("%w: column %d has no name", ErrFileFormat, i+1)
		}
		header[i] = name
	}

	rec, err := newRecording(path, header)
	if err != nil {
		return nil, err
	}

	cells := make([]float64, len(header))
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrFileFormat, line, err)
		}
		for i, raw := range row {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				cells[i] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				cells[i] = math.NaN()
				rec.markNonNumeric(i)
				continue
			}
			cells[i] = v
		}
		rec.appendRow(cells)
	}
	return rec, nil
}

// WriteSignal writes samples as a two-column CSV, Time (seconds) and column,
// so the file loads back with the same sample rate.
func WriteSignal(path, column string, samples []float64, rate float64) error {
	if !(rate > 0) {
		return fmt.Errorf("write signal: sample rate must be positive, got %v", rate)
	}
	if column == "" {
		column = "Signal"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"Time", column}); err != nil {
		return err
	}
	for i, v := range samples {
		if err := w.Write([]string{
			strconv.FormatFloat(float64(i)/rate, 'g', -1, 64),
			strconv.FormatFloat(v, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write signal: %w", err)
	}
	return f.Close()
}

// WriteCSV writes named, equally long columns to path.
func WriteCSV(path string, columns []string, values [][]float64) error {
	if len(columns) != len(values) {
		return fmt.Errorf("write csv: %d names for %d columns", len(columns), len(values))
	}
	rows := 0
	for i, col := range values {
		if i == 0 {
			rows = len(col)
		} else if len(col) != rows {
			return fmt.Errorf("write csv: column %q has %d rows, want %d", columns[i], len(col), rows)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(columns); err != nil {
		return err
	}
	record := make([]string, len(columns))
	for r := 0; r < rows; r++ {
		for c := range values {
			record[c] = strconv.FormatFloat(values[c][r], 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return f.Close()
}
