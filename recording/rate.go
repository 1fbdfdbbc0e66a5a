package recording

import (
	"fmt"
	"strings"
)

// TimeReference says where a recording keeps its time base.
type TimeReference struct {
	// Columns are tried in order; the first present one is used.
	Columns []string `yaml:"columns" json:"columns"`
	// Unit is "s" or "ms".
	Unit string `yaml:"unit" json:"unit"`
}

// DefaultTimeReference looks for a Time or Timestamp column in seconds.
func DefaultTimeReference() TimeReference {
	return TimeReference{
		Columns: []string{"Time", "time", "Timestamp", "timestamp"},
		Unit:    "s",
	}
}

func (t TimeReference) scale() (float64, error) {
	switch strings.ToLower(strings.TrimSpace(t.Unit)) {
	case "", "s", "sec", "seconds":
		return 1, nil
	case "ms", "msec", "milliseconds":
		return 1e-3, nil
	default:
		return 0, fmt.Errorf("unsupported time unit %q", t.Unit)
	}
}

// SampleRate derives samples per second from the recording's time column as
// (rows-1) divided by the elapsed time between the first and last rows.
func SampleRate(r *Recording, ref TimeReference) (float64, error) {
	if len(ref.Columns) == 0 {
		ref = DefaultTimeReference()
	}
	scale, err := ref.scale()
	if err != nil {
		return 0, err
	}

	column := ""
	for _, c := range ref.Columns {
		if r.Has(c) {
			column = c
			break
		}
	}
	if column == "" {
		return 0, fmt.Errorf("%w: looked for %s", ErrMissingTimeReference, strings.Join(ref.Columns, ", "))
	}

	times, err := r.Signal(column)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrMissingTimeReference, err)
	}

	first, last := -1, -1
	for i, v := range times {
		if !isFinite(v) {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 || last <= first {
		return 0, fmt.Errorf("%w: %q has fewer than two timestamps", ErrInvalidTimeReference, column)
	}
	span := (times[last] - times[first]) * scale
	if !(span > 0) {
		return 0, fmt.Errorf("%w: %q spans %v", ErrInvalidTimeReference, column, span)
	}
	return float64(last-first) / span, nil
}
