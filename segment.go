package vitalsig

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DefaultRefractory is the minimum spacing between two detected R-peaks.
const DefaultRefractory = 200 * time.Millisecond

const (
	peakThresholdFraction = 0.6
	peakReferencePct      = 99.0

	// Beat window around each R-peak, as a fraction of the mean R-R interval.
	beatPreFraction  = 0.35
	beatPostFraction = 0.5
)

// DetectRPeaks returns the sample offsets of R-peaks in an ECG signal.
func DetectRPeaks(sig Signal) ([]int, error) {
	return DetectPeaks(sig, DefaultRefractory)
}

// DetectPeaks finds upward threshold crossings and refines each to the local
// maximum inside the refractory window. The threshold sits 60% of the way from
// the median to the 99th percentile, so a single artifact spike cannot hide the
// rest of the beats.
func DetectPeaks(sig Signal, refractory time.Duration) ([]int, error) {
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	x := sig.Samples
	n := len(x)
	if n < 3 {
		return nil, nil
	}

	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	baseline := stat.Quantile(0.5, stat.LinInterp, sorted, nil)
	reference := stat.Quantile(peakReferencePct/100, stat.LinInterp, sorted, nil)
	if reference <= baseline {
		return nil, nil
	}
	threshold := baseline + peakThresholdFraction*(reference-baseline)

	window := int(math.Round(refractory.Seconds() * sig.Rate))
	if window < 1 {
		window = 1
	}

	var peaks []int
	for i := 1; i < n; i++ {
		if !(x[i-1] < threshold && x[i] >= threshold) {
			continue
		}
		end := i + window
		if end > n {
			end = n
		}
		idx := i
		for j := i + 1; j < end; j++ {
			if x[j] > x[idx] {
				idx = j
			}
		}
		if len(peaks) > 0 && idx-peaks[len(peaks)-1] <= window {
			if x[idx] > x[peaks[len(peaks)-1]] {
				peaks[len(peaks)-1] = idx
			}
			continue
		}
		peaks = append(peaks, idx)
	}
	return peaks, nil
}

// Segment splits an ECG signal into equal-length beats centred on its R-peaks
// and scores each beat with KSQI and PSQI. Beats whose window would run off
// either end of the signal are dropped. The result is numbered 1..N in
// temporal order; a signal with fewer than two peaks yields an empty set.
func Segment(sig Signal) (*BeatSet, error) {
	beats, err := beatWindows(sig, DefaultRefractory)
	if err != nil {
		return nil, err
	}
	scored := make([]ScoredBeat, 0, len(beats))
	for _, b := range beats {
		k, err := KSQI(b.Samples)
		if err != nil {
			return nil, fmt.Errorf("kSQI for beat %d: %w", b.Index, err)
		}
		p, err := PSQI(b.Samples, sig.Rate)
		if err != nil {
			return nil, fmt.Errorf("pSQI for beat %d: %w", b.Index, err)
		}
		scored = append(scored, ScoredBeat{Beat: b, KSQI: k, PSQI: p})
	}
	return NewBeatSet(sig.Rate, scored), nil
}

func beatWindows(sig Signal, refractory time.Duration) ([]Beat, error) {
	peaks, err := DetectPeaks(sig, refractory)
	if err != nil {
		return nil, err
	}
	if len(peaks) < 2 {
		return nil, nil
	}

	rr := float64(peaks[len(peaks)-1]-peaks[0]) / float64(len(peaks)-1)
	pre := int(math.Round(beatPreFraction * rr))
	post := int(math.Round(beatPostFraction * rr))
	if pre+post < 4 {
		return nil, nil
	}

	beats := make([]Beat, 0, len(peaks))
	for _, p := range peaks {
		start, end := p-pre, p+post
		if start < 0 || end > len(sig.Samples) {
			continue
		}
		beats = append(beats, Beat{
			Index:   len(beats) + 1,
			Start:   start,
			Samples: append([]float64(nil), sig.Samples[start:end]...),
		})
	}
	return beats, nil
}
