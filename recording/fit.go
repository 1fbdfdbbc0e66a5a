package recording

import (
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/tormoder/fit"
)

// FIT record columns. Time is seconds since the first timestamped record.
var fitColumns = []string{"Time", "HR", "Power", "Cadence", "Speed"}

// LoadFIT decodes an activity FIT file into a recording with one row per
// record message. Invalid field values read as NaN.
func LoadFIT(path string) (*Recording, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open FIT file: %w", err)
	}
	defer f.Close()

	decoded, err := fit.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode FIT file: %v", ErrFileFormat, err)
	}
	activity, err := decoded.Activity()
	if err != nil {
		return nil, fmt.Errorf("%w: activity FIT expected: %v", ErrFileFormat, err)
	}

	rec, err := newRecording(path, fitColumns)
	if err != nil {
		return nil, err
	}

	records := make([]*fit.RecordMsg, 0, len(activity.Records))
	for _, r := range activity.Records {
		if r == nil || validTimeOrZero(r.Timestamp).IsZero() {
			continue
		}
		records = append(records, r)
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	var start time.Time
	for _, r := range records {
		if start.IsZero() {
			start = r.Timestamp
		}
		rec.appendRow([]float64{
			r.Timestamp.Sub(start).Seconds(),
			heartRate(r),
			power(r),
			cadence(r),
			speed(r),
		})
	}
	return rec, nil
}

func heartRate(r *fit.RecordMsg) float64 {
	if r.HeartRate == math.MaxUint8 {
		return math.NaN()
	}
	return float64(r.HeartRate)
}

func power(r *fit.RecordMsg) float64 {
	if r.Power == math.MaxUint16 {
		return math.NaN()
	}
	return float64(r.Power)
}

func cadence(r *fit.RecordMsg) float64 {
	if r.Cadence == math.MaxUint8 {
		return math.NaN()
	}
	return float64(r.Cadence)
}

func speed(r *fit.RecordMsg) float64 {
	v := r.GetEnhancedSpeedScaled()
	if isFinite(v) && v >= 0 {
		return v
	}
	v = r.GetSpeedScaled()
	if isFinite(v) && v >= 0 {
		return v
	}
	return math.NaN()
}

func validTimeOrZero(t time.Time) time.Time {
	if t.IsZero() || fit.IsBaseTime(t) {
		return time.Time{}
	}
	return t
}
