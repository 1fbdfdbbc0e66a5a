package preprocess

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrInvalidLevel = errors.New("decomposition level must be positive")

// Wavelet is an orthonormal wavelet described by its decomposition lowpass
// filter. The highpass filter is the quadrature mirror of Lo.
type Wavelet struct {
	Name string
	Lo   []float64
}

// DB4 is the Daubechies wavelet with four vanishing moments.
var DB4 = Wavelet{
	Name: "db4",
	Lo: []float64{
		-0.010597401784997278,
		0.032883011666982945,
		0.030841381835986965,
		-0.18703481171888114,
		-0.02798376941698385,
		0.6308807679295904,
		0.7148465705525415,
		0.23037781330885523,
	},
}

// Hi returns the decomposition highpass filter.
func (w Wavelet) Hi() []float64 {
	l := len(w.Lo)
	hi := make([]float64, l)
	for k := range hi {
		hi[k] = w.Lo[l-1-k]
		if k%2 == 1 {
			hi[k] = -hi[k]
		}
	}
	return hi
}

// Wavedec performs a periodic multilevel discrete wavelet transform. The input
// is edge-padded to a multiple of 2^level. Coefficients are returned coarsest
// first: [cA_level, cD_level, ..., cD1].
func Wavedec(samples []float64, w Wavelet, level int) ([][]float64, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyInput
	}
	if level < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
	if len(w.Lo) == 0 || len(w.Lo)%2 != 0 {
		return nil, fmt.Errorf("wavelet %q has an invalid filter length %d", w.Name, len(w.Lo))
	}

	a := padToMultiple(samples, 1<<level)
	hi := w.Hi()
	details := make([][]float64, 0, level)
	for l := 0; l < level; l++ {
		var d []float64
		a, d = dwt(a, w.Lo, hi)
		details = append(details, d)
	}

	out := make([][]float64, 0, level+1)
	out = append(out, a)
	for i := len(details) - 1; i >= 0; i-- {
		out = append(out, details[i])
	}
	return out, nil
}

// Waverec inverts Wavedec. The result has the padded length.
func Waverec(coeffs [][]float64, w Wavelet) ([]float64, error) {
	if len(coeffs) < 2 {
		return nil, fmt.Errorf("%w: need approximation and at least one detail band", ErrInvalidLevel)
	}
	hi := w.Hi()
	a := append([]float64(nil), coeffs[0]...)
	for _, d := range coeffs[1:] {
		if len(d) != len(a) {
			return nil, fmt.Errorf("coefficient length mismatch: %d vs %d", len(a), len(d))
		}
		a = idwt(a, d, w.Lo, hi)
	}
	return a, nil
}

// Denoise shrinks the detail coefficients with a soft universal threshold
// estimated from the finest detail band, then reconstructs. Up to four levels
// are used, fewer for short inputs.
func Denoise(samples []float64, w Wavelet) ([]float64, error) {
	n := len(samples)
	if n == 0 {
		return nil, ErrEmptyInput
	}
	level := maxLevel(n, len(w.Lo))
	if level > 4 {
		level = 4
	}
	if level < 1 {
		return append([]float64(nil), samples...), nil
	}

	coeffs, err := Wavedec(samples, w, level)
	if err != nil {
		return nil, err
	}
	finest := coeffs[len(coeffs)-1]
	sigma := medianAbs(finest) / 0.6745
	thr := sigma * math.Sqrt(2*math.Log(float64(n)))
	for _, d := range coeffs[1:] {
		for i, v := range d {
			d[i] = softThreshold(v, thr)
		}
	}
	rec, err := Waverec(coeffs, w)
	if err != nil {
		return nil, err
	}
	return rec[:n], nil
}

func dwt(x, lo, hi []float64) (approx, detail []float64) {
	n := len(x)
	half := n / 2
	approx = make([]float64, half)
	detail = make([]float64, half)
	for i := 0; i < half; i++ {
		var a, d float64
		for k := range lo {
			v := x[(2*i+k)%n]
			a += lo[k] * v
			d += hi[k] * v
		}
		approx[i] = a
		detail[i] = d
	}
	return approx, detail
}

func idwt(approx, detail, lo, hi []float64) []float64 {
	half := len(approx)
	n := 2 * half
	out := make([]float64, n)
	for i := 0; i < half; i++ {
		for k := range lo {
			j := (2*i + k) % n
			out[j] += lo[k]*approx[i] + hi[k]*detail[i]
		}
	}
	return out
}

func padToMultiple(x []float64, m int) []float64 {
	n := len(x)
	size := ((n + m - 1) / m) * m
	out := make([]float64, size)
	copy(out, x)
	for i := n; i < size; i++ {
		out[i] = x[n-1]
	}
	return out
}

func maxLevel(n, filterLen int) int {
	if filterLen < 2 {
		return 0
	}
	return int(math.Floor(math.Log2(float64(n) / float64(filterLen-1))))
}

func medianAbs(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	abs := make([]float64, len(x))
	for i, v := range x {
		abs[i] = math.Abs(v)
	}
	sort.Float64s(abs)
	mid := len(abs) / 2
	if len(abs)%2 == 1 {
		return abs[mid]
	}
	return (abs[mid-1] + abs[mid]) / 2
}

func softThreshold(v, thr float64) float64 {
	switch {
	case v > thr:
		return v - thr
	case v < -thr:
		return v + thr
	default:
		return 0
	}
}
