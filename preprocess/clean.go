package preprocess

import (
	"fmt"
	"math"
)

// Cleaning bands, in Hz.
const (
	ECGHighpassHz = 0.5
	ECGLowpassHz  = 40.0
	ecgOrder      = 5

	PPGLowHz  = 0.5
	PPGHighHz = 8.0
	ppgOrder  = 3

	// DefaultButterOrder is used by Butter when no order is given.
	DefaultButterOrder = 4
)

// Lowpass applies a zero-phase Chebyshev type II lowpass filter.
func Lowpass(samples []float64, order int, attenuation, corner, rate float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}
	f, err := NewChebyshev2Lowpass(order, attenuation, corner, rate)
	if err != nil {
		return nil, err
	}
	return f.ApplyZeroPhase(samples, f.defaultPad()), nil
}

// Butter applies a zero-phase Butterworth lowpass filter of DefaultButterOrder.
func Butter(samples []float64, corner, rate float64) ([]float64, error) {
	return ButterLowpass(samples, DefaultButterOrder, corner, rate)
}

// ButterLowpass applies a zero-phase Butterworth lowpass filter.
func ButterLowpass(samples []float64, order int, corner, rate float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}
	f, err := NewButterworthLowpass(order, corner, rate)
	if err != nil {
		return nil, err
	}
	return f.ApplyZeroPhase(samples, padFor(f, rate, corner)), nil
}

// ButterHighpass applies a zero-phase Butterworth highpass filter.
func ButterHighpass(samples []float64, order int, corner, rate float64) ([]float64, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}
	f, err := NewButterworthHighpass(order, corner, rate)
	if err != nil {
		return nil, err
	}
	return f.ApplyZeroPhase(samples, padFor(f, rate, corner)), nil
}

// ButterBandpass cascades a highpass at low and a lowpass at high.
func ButterBandpass(samples []float64, order int, low, high, rate float64) ([]float64, error) {
	if !(low < high) {
		return nil, fmt.Errorf("%w: band %v-%v Hz", ErrInvalidCorner, low, high)
	}
	hp, err := ButterHighpass(samples, order, low, rate)
	if err != nil {
		return nil, err
	}
	return ButterLowpass(hp, order, high, rate)
}

// CleanECG removes baseline wander below 0.5 Hz and high-frequency noise above
// 40 Hz. The lowpass stage is skipped when 40 Hz is at or above Nyquist.
func CleanECG(samples []float64, rate float64) ([]float64, error) {
	out, err := ButterHighpass(samples, ecgOrder, ECGHighpassHz, rate)
	if err != nil {
		return nil, fmt.Errorf("clean ecg: %w", err)
	}
	if ECGLowpassHz >= rate/2 {
		return out, nil
	}
	out, err = ButterLowpass(out, ecgOrder, ECGLowpassHz, rate)
	if err != nil {
		return nil, fmt.Errorf("clean ecg: %w", err)
	}
	return out, nil
}

// CleanPPG band-passes a PPG signal to 0.5-8 Hz.
func CleanPPG(samples []float64, rate float64) ([]float64, error) {
	out, err := ButterBandpass(samples, ppgOrder, PPGLowHz, PPGHighHz, rate)
	if err != nil {
		return nil, fmt.Errorf("clean ppg: %w", err)
	}
	return out, nil
}

// padFor scales the reflection padding with the filter's time constant so
// low corners get enough run-up, capped at three seconds of signal.
func padFor(f *Filter, rate, corner float64) int {
	pad := f.defaultPad()
	settle := int(math.Ceil(rate / corner))
	if settle > pad {
		pad = settle
	}
	if limit := int(3 * rate); pad > limit && limit > f.defaultPad() {
		pad = limit
	}
	return pad
}
