package pipeline

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

// WriteTable persists rows in the given format (csv|parquet).
func WriteTable(path, format string, rows []FeatureRow) error {
	switch format {
	case "csv":
		if err := writeTableCSV(path, rows); err != nil {
			return fmt.Errorf("write feature csv: %w", err)
		}
	case "parquet":
		data, err := marshalTableParquet(rows)
		if err != nil {
			return fmt.Errorf("write feature parquet: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write feature parquet: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format %q (expected parquet|csv)", format)
	}
	return nil
}

// ReadTable loads a table written by WriteTable, choosing the decoder from
// the file extension.
func ReadTable(path string) ([]FeatureRow, error) {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return readTableParquet(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readTableCSV(f)
}

func writeTableCSV(path string, rows []FeatureRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(TableHeader); err != nil {
		return err
	}
	record := make([]string, len(TableHeader))
	for _, r := range rows {
		record[0] = r.Filename
		for i, v := range r.values() {
			record[i+1] = formatFloat(v)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func readTableCSV(r io.Reader) ([]FeatureRow, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read table header: %w", err)
	}
	if strings.Join(header, ",") != strings.Join(TableHeader, ",") {
		return nil, fmt.Errorf("unexpected table header %v", header)
	}

	var rows []FeatureRow
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		vals := make([]float64, len(rec)-1)
		for i, cell := range rec[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("row %q column %s: %w", rec[0], TableHeader[i+1], err)
			}
			vals[i] = v
		}
		rows = append(rows, FeatureRow{
			Filename: rec[0],
			SBP:      vals[0],
			DBP:      vals[1],
			HR:       vals[2],
			HRV:      vals[3],
			RR:       vals[4],
			PAT:      vals[5],
			ENT:      vals[6],
			SKEW:     vals[7],
			KURT:     vals[8],
		})
	}
	return rows, nil
}

// formatFloat writes the shortest representation that parses back to the
// same value.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatExtension(format string) string {
	if format == "csv" {
		return "csv"
	}
	return "parquet"
}
