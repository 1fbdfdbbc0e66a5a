package vitalsig

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/lucasjlepore/vital-signal/preprocess"
)

// Sample entropy defaults: template length and tolerance as a fraction of SD.
const (
	DefaultEntropyM = 2
	DefaultEntropyR = 0.2
)

// pulseRefractory keeps the dicrotic notch of a PPG pulse from being picked
// up as a second peak.
const pulseRefractory = 300 * time.Millisecond

// RRInterval returns the mean R-R interval of an ECG signal in seconds.
func RRInterval(sig Signal) (float64, error) {
	peaks, err := DetectRPeaks(sig)
	if err != nil {
		return 0, err
	}
	if len(peaks) < 2 {
		return 0, fmt.Errorf("%w: found %d", ErrTooFewPeaks, len(peaks))
	}
	return float64(peaks[len(peaks)-1]-peaks[0]) / float64(len(peaks)-1) / sig.Rate, nil
}

// RRIntervals returns each successive R-R interval in seconds.
func RRIntervals(sig Signal) ([]float64, error) {
	peaks, err := DetectRPeaks(sig)
	if err != nil {
		return nil, err
	}
	if len(peaks) < 2 {
		return nil, fmt.Errorf("%w: found %d", ErrTooFewPeaks, len(peaks))
	}
	out := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		out = append(out, float64(peaks[i]-peaks[i-1])/sig.Rate)
	}
	return out, nil
}

// HeartRate converts an R-R interval in seconds to beats per minute.
func HeartRate(rr float64) (float64, error) {
	if rr == 0 {
		return 0, fmt.Errorf("heart rate: %w (rr interval is 0)", ErrDivisionByZero)
	}
	if !isFinite(rr) || rr < 0 {
		return 0, fmt.Errorf("heart rate: %w: %v", ErrInvalidInterval, rr)
	}
	return 60.0 / rr, nil
}

// RMSSD is the root mean square of successive R-R differences, in seconds.
func RMSSD(intervals []float64) (float64, error) {
	if len(intervals) < 2 {
		return 0, ErrSignalTooShort
	}
	sum := 0.0
	for i := 1; i < len(intervals); i++ {
		d := intervals[i] - intervals[i-1]
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(intervals)-1)), nil
}

// PulseArrivalTime is the mean delay in seconds from each ECG R-peak to the
// next PPG systolic peak. A pulse only pairs with an R-peak if it arrives
// before the following R-peak. Both signals must share a time base.
func PulseArrivalTime(ecg, ppg Signal) (float64, error) {
	if err := ecg.Validate(); err != nil {
		return 0, fmt.Errorf("ecg: %w", err)
	}
	if err := ppg.Validate(); err != nil {
		return 0, fmt.Errorf("ppg: %w", err)
	}
	rPeaks, err := DetectRPeaks(ecg)
	if err != nil {
		return 0, err
	}
	pulses, err := DetectPeaks(ppg, pulseRefractory)
	if err != nil {
		return 0, err
	}

	var delays []float64
	j := 0
	for i, r := range rPeaks {
		rt := float64(r) / ecg.Rate
		limit := math.Inf(1)
		if i+1 < len(rPeaks) {
			limit = float64(rPeaks[i+1]) / ecg.Rate
		}
		for j < len(pulses) && float64(pulses[j])/ppg.Rate <= rt {
			j++
		}
		if j >= len(pulses) {
			break
		}
		pt := float64(pulses[j]) / ppg.Rate
		if pt < limit {
			delays = append(delays, pt-rt)
		}
	}
	if len(delays) == 0 {
		return 0, ErrNoPulsePairs
	}
	return average(delays), nil
}

// SampleEntropyDefault computes SampEn with m=2 and r=0.2*SD.
func SampleEntropyDefault(samples []float64) (float64, error) {
	return SampleEntropyRelative(samples, DefaultEntropyM, DefaultEntropyR)
}

// SampleEntropyRelative computes SampEn with the tolerance given as a
// fraction of the sample standard deviation.
func SampleEntropyRelative(samples []float64, m int, ratio float64) (float64, error) {
	if len(samples) < 2 {
		return 0, ErrSignalTooShort
	}
	sd := stat.StdDev(samples, nil)
	return SampleEntropy(samples, m, ratio*sd)
}

// SampleEntropy returns -ln(A/B), where B counts template pairs of length m
// within Chebyshev distance r and A the pairs that still match at m+1.
// Self-matches are excluded.
func SampleEntropy(samples []float64, m int, r float64) (float64, error) {
	n := len(samples)
	if m < 1 || n <= m+1 {
		return 0, fmt.Errorf("%w: need more than %d samples, have %d", ErrSignalTooShort, m+1, n)
	}
	if !isFinite(r) || r <= 0 {
		return 0, fmt.Errorf("%w: tolerance %v", ErrUndefinedEntropy, r)
	}

	var a, b float64
	templates := n - m
	for i := 0; i < templates; i++ {
		for j := i + 1; j < templates; j++ {
			match := true
			for k := 0; k < m; k++ {
				if math.Abs(samples[i+k]-samples[j+k]) > r {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			b++
			if math.Abs(samples[i+m]-samples[j+m]) <= r {
				a++
			}
		}
	}
	if a == 0 || b == 0 {
		return 0, ErrUndefinedEntropy
	}
	return -math.Log(a / b), nil
}

// Skew returns the sample skewness.
func Skew(samples []float64) (float64, error) {
	if len(samples) < 3 {
		return 0, ErrSignalTooShort
	}
	if stat.StdDev(samples, nil) == 0 {
		return 0, ErrConstantSignal
	}
	return stat.Skew(samples, nil), nil
}

// Kurtosis returns the sample excess kurtosis.
func Kurtosis(samples []float64) (float64, error) {
	if len(samples) < 4 {
		return 0, ErrSignalTooShort
	}
	if stat.StdDev(samples, nil) == 0 {
		return 0, ErrConstantSignal
	}
	return stat.ExKurtosis(samples, nil), nil
}

// Decompose returns the morphological feature vector of a signal: the
// level-2 db4 approximation followed by the level-1 and level-2 details.
func Decompose(samples []float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, ErrEmptySignal
	}
	coeffs, err := preprocess.Wavedec(samples, preprocess.DB4, 2)
	if err != nil {
		return nil, err
	}
	// coeffs = [cA2, cD2, cD1]
	out := make([]float64, 0, len(samples))
	out = append(out, coeffs[0]...)
	out = append(out, coeffs[2]...)
	out = append(out, coeffs[1]...)
	return out, nil
}
