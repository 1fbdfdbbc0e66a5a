package vitalsig

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/stat"
)

// DefaultKSQIThreshold is the kurtosis score a beat must exceed to count as clean.
const DefaultKSQIThreshold = 6.0

// Spectral bands used by PSQI, in Hz.
const (
	psqiNumLow  = 5.0
	psqiNumHigh = 15.0
	psqiDenLow  = 5.0
	psqiDenHigh = 40.0
)

// KSQI scores a beat by the excess kurtosis of its samples. A sharp, isolated
// QRS complex gives a high score; noise and baseline wander push it down.
// A flat beat scores 0.
func KSQI(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrEmptySignal
	}
	if len(samples) < 4 {
		return 0, ErrSignalTooShort
	}
	k := stat.ExKurtosis(samples, nil)
	if !isFinite(k) {
		return 0, nil
	}
	return k, nil
}

// PSQI scores a beat by the share of its spectral power that falls in the QRS
// band (5-15 Hz) relative to the wider 5-40 Hz band.
func PSQI(samples []float64, rate float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrEmptySignal
	}
	if !isFinite(rate) || rate <= 0 {
		return 0, ErrInvalidRate
	}
	if len(samples) < 2 {
		return 0, ErrSignalTooShort
	}

	mean := stat.Mean(samples, nil)
	centered := make([]float64, len(samples))
	for i, v := range samples {
		centered[i] = v - mean
	}

	n := len(centered)
	coeffs := fourier.NewFFT(n).Coefficients(nil, centered)

	var num, den float64
	for k, c := range coeffs {
		f := float64(k) * rate / float64(n)
		p := cmplx.Abs(c)
		p *= p
		if f >= psqiNumLow && f <= psqiNumHigh {
			num += p
		}
		if f >= psqiDenLow && f <= psqiDenHigh {
			den += p
		}
	}
	if den == 0 {
		return 0, nil
	}
	return num / den, nil
}

// OverallSQI rates a whole ECG signal in [0,1] with the average-QRS method:
// every beat is correlated against the mean beat and the correlations are
// averaged. Signals with fewer than two beats score 0.
func OverallSQI(samples []float64, rate float64) (float64, error) {
	sig := Signal{Samples: samples, Rate: rate}
	if err := sig.Validate(); err != nil {
		return 0, err
	}
	beats, err := beatWindows(sig, DefaultRefractory)
	if err != nil {
		return 0, err
	}
	if len(beats) < 2 {
		return 0, nil
	}

	width := len(beats[0].Samples)
	template := make([]float64, width)
	for _, b := range beats {
		for i, v := range b.Samples {
			template[i] += v
		}
	}
	for i := range template {
		template[i] /= float64(len(beats))
	}

	total := 0.0
	for _, b := range beats {
		r := stat.Correlation(b.Samples, template, nil)
		if !isFinite(r) {
			r = 0
		}
		total += math.Max(0, math.Min(1, r))
	}
	return total / float64(len(beats)), nil
}
