package vitalsig

import (
	"fmt"
	"math"
)

// Signal is an ordered run of samples taken at Rate samples per second.
// Transforms return new Signals; the samples slice is never modified in place.
type Signal struct {
	Samples []float64 `json:"samples"`
	Rate    float64   `json:"rate"`
}

// NewSignal copies samples into a new Signal.
func NewSignal(samples []float64, rate float64) Signal {
	return Signal{Samples: append([]float64(nil), samples...), Rate: rate}
}

// Len returns the number of samples.
func (s Signal) Len() int { return len(s.Samples) }

// Duration returns the signal length in seconds.
func (s Signal) Duration() float64 {
	if s.Rate <= 0 {
		return 0
	}
	return float64(len(s.Samples)) / s.Rate
}

// Validate reports whether the signal can be fed to rate-dependent transforms.
func (s Signal) Validate() error {
	if len(s.Samples) == 0 {
		return ErrEmptySignal
	}
	if !isFinite(s.Rate) || s.Rate <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidRate, s.Rate)
	}
	return nil
}

// Beat is one segmented heartbeat. Index is 1-based in segmentation order and
// Start is the offset of the first sample in the source signal.
type Beat struct {
	Index   int       `json:"index"`
	Start   int       `json:"start"`
	Samples []float64 `json:"samples"`
}

// ScoredBeat carries the two per-beat quality indices.
type ScoredBeat struct {
	Beat
	KSQI float64 `json:"ksqi"`
	PSQI float64 `json:"psqi"`
}

// BeatSet is the 1-based, randomly addressable output of the segmenter.
type BeatSet struct {
	Rate  float64
	beats []ScoredBeat
}

// NewBeatSet renumbers beats 1..N in the given order.
func NewBeatSet(rate float64, beats []ScoredBeat) *BeatSet {
	out := make([]ScoredBeat, len(beats))
	copy(out, beats)
	for i := range out {
		out[i].Index = i + 1
	}
	return &BeatSet{Rate: rate, beats: out}
}

// Len returns the number of beats.
func (s *BeatSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.beats)
}

// At returns beat i (1-based).
func (s *BeatSet) At(i int) (ScoredBeat, error) {
	if i < 1 || i > s.Len() {
		return ScoredBeat{}, fmt.Errorf("%w: %d (have %d)", ErrBeatOutOfRange, i, s.Len())
	}
	return s.beats[i-1], nil
}

// Beats returns the beats in temporal order.
func (s *BeatSet) Beats() []ScoredBeat {
	if s == nil {
		return nil
	}
	return s.beats
}

// KSQIs returns the kSQI score of every beat, index 0 holding beat 1.
func (s *BeatSet) KSQIs() []float64 {
	out := make([]float64, 0, s.Len())
	for _, b := range s.Beats() {
		out = append(out, b.KSQI)
	}
	return out
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	count := 0
	for _, v := range values {
		if !isFinite(v) {
			continue
		}
		total += v
		count++
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
