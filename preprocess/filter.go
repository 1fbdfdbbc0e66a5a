package preprocess

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

var (
	ErrEmptyInput    = errors.New("input signal is empty")
	ErrInvalidRate   = errors.New("sample rate must be positive")
	ErrInvalidCorner = errors.New("corner frequency must lie between 0 and Nyquist")
	ErrInvalidOrder  = errors.New("filter order must be positive")
)

// Filter is a digital IIR filter stored as cascaded second-order sections.
// Each section is b0, b1, b2, a0, a1, a2 with a0 == 1.
type Filter struct {
	sos [][6]float64
}

// Sections returns the number of second-order sections.
func (f *Filter) Sections() int { return len(f.sos) }

// Apply runs the filter forward once from a zero initial state.
func (f *Filter) Apply(x []float64) []float64 {
	return f.run(x, false)
}

// run filters x through each section in turn. With settled set, every section
// starts in the steady state it would reach after a long run of x[0], so a
// constant input passes without a start-up transient.
func (f *Filter) run(x []float64, settled bool) []float64 {
	out := append([]float64(nil), x...)
	for _, s := range f.sos {
		var z1, z2 float64
		if settled && len(out) > 0 {
			in := out[0]
			gain := (s[0] + s[1] + s[2]) / (1 + s[4] + s[5])
			y := gain * in
			z2 = s[2]*in - s[5]*y
			z1 = s[1]*in - s[4]*y + z2
		}
		for i, v := range out {
			y := s[0]*v + z1
			z1 = s[1]*v - s[4]*y + z2
			z2 = s[2]*v - s[5]*y
			out[i] = y
		}
	}
	return out
}

// ApplyZeroPhase filters forward and backward so the output has no phase lag.
// The input is extended at both ends by odd reflection to tame edge transients.
func (f *Filter) ApplyZeroPhase(x []float64, pad int) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	if pad > n-1 {
		pad = n - 1
	}
	if pad < 0 {
		pad = 0
	}

	ext := make([]float64, 0, n+2*pad)
	for i := pad; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	for i := 1; i <= pad; i++ {
		ext = append(ext, 2*x[n-1]-x[n-1-i])
	}

	y := f.run(ext, true)
	reverse(y)
	y = f.run(y, true)
	reverse(y)
	return y[pad : pad+n]
}

func (f *Filter) defaultPad() int {
	return 3 * (2*len(f.sos) + 1)
}

// NewChebyshev2Lowpass designs a Chebyshev type II lowpass filter. corner is
// the stop-band edge in Hz and attenuation the minimum stop-band rejection in dB.
func NewChebyshev2Lowpass(order int, attenuation, corner, rate float64) (*Filter, error) {
	if err := checkDesign(order, corner, rate); err != nil {
		return nil, err
	}
	if attenuation <= 0 {
		return nil, fmt.Errorf("stop-band attenuation must be positive: %v", attenuation)
	}
	proto := cheb2Prototype(order, attenuation)
	return digitize(proto.lowpass(prewarp(corner, rate)), rate), nil
}

// NewButterworthLowpass designs a Butterworth lowpass filter.
func NewButterworthLowpass(order int, corner, rate float64) (*Filter, error) {
	if err := checkDesign(order, corner, rate); err != nil {
		return nil, err
	}
	return digitize(butterPrototype(order).lowpass(prewarp(corner, rate)), rate), nil
}

// NewButterworthHighpass designs a Butterworth highpass filter.
func NewButterworthHighpass(order int, corner, rate float64) (*Filter, error) {
	if err := checkDesign(order, corner, rate); err != nil {
		return nil, err
	}
	return digitize(butterPrototype(order).highpass(prewarp(corner, rate)), rate), nil
}

func checkDesign(order int, corner, rate float64) error {
	if order <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOrder, order)
	}
	if !(rate > 0) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}
	if !(corner > 0) || corner >= rate/2 {
		return fmt.Errorf("%w: %v Hz at %v Hz sampling", ErrInvalidCorner, corner, rate)
	}
	return nil
}

func prewarp(corner, rate float64) float64 {
	return 2 * rate * math.Tan(math.Pi*corner/rate)
}

// zpk is a filter in zero/pole/gain form, analog or digital.
type zpk struct {
	z, p []complex128
	k    float64
}

func butterPrototype(n int) zpk {
	p := make([]complex128, 0, n)
	for m := -n + 1; m < n; m += 2 {
		p = append(p, -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*n))))
	}
	return zpk{p: p, k: 1}
}

func cheb2Prototype(n int, rs float64) zpk {
	de := 1.0 / math.Sqrt(math.Pow(10, 0.1*rs)-1)
	mu := math.Asinh(1.0/de) / float64(n)

	var ms []int
	if n%2 == 1 {
		for m := -n + 1; m < 0; m += 2 {
			ms = append(ms, m)
		}
		for m := 2; m < n; m += 2 {
			ms = append(ms, m)
		}
	} else {
		for m := -n + 1; m < n; m += 2 {
			ms = append(ms, m)
		}
	}
	z := make([]complex128, 0, len(ms))
	for _, m := range ms {
		z = append(z, -cmplx.Conj(complex(0, 1)/complex(math.Sin(float64(m)*math.Pi/float64(2*n)), 0)))
	}

	p := make([]complex128, 0, n)
	for m := -n + 1; m < n; m += 2 {
		e := -cmplx.Exp(complex(0, math.Pi*float64(m)/float64(2*n)))
		e = complex(math.Sinh(mu)*real(e), math.Cosh(mu)*imag(e))
		p = append(p, 1/e)
	}

	k := real(prod(neg(p)) / prod(neg(z)))
	return zpk{z: z, p: p, k: k}
}

func (f zpk) lowpass(wo float64) zpk {
	degree := len(f.p) - len(f.z)
	out := zpk{k: f.k * math.Pow(wo, float64(degree))}
	for _, z := range f.z {
		out.z = append(out.z, z*complex(wo, 0))
	}
	for _, p := range f.p {
		out.p = append(out.p, p*complex(wo, 0))
	}
	return out
}

func (f zpk) highpass(wo float64) zpk {
	degree := len(f.p) - len(f.z)
	out := zpk{k: f.k * real(prod(neg(f.z))/prod(neg(f.p)))}
	for _, z := range f.z {
		out.z = append(out.z, complex(wo, 0)/z)
	}
	for _, p := range f.p {
		out.p = append(out.p, complex(wo, 0)/p)
	}
	for i := 0; i < degree; i++ {
		out.z = append(out.z, 0)
	}
	return out
}

func (f zpk) bilinear(rate float64) zpk {
	fs2 := complex(2*rate, 0)
	degree := len(f.p) - len(f.z)
	out := zpk{}
	num, den := complex(1, 0), complex(1, 0)
	for _, z := range f.z {
		out.z = append(out.z, (fs2+z)/(fs2-z))
		num *= fs2 - z
	}
	for _, p := range f.p {
		out.p = append(out.p, (fs2+p)/(fs2-p))
		den *= fs2 - p
	}
	for i := 0; i < degree; i++ {
		out.z = append(out.z, -1)
	}
	out.k = f.k * real(num/den)
	return out
}

func digitize(analog zpk, rate float64) *Filter {
	return zpkToSOS(analog.bilinear(rate))
}

const conjTol = 1e-9

// zpkToSOS pairs complex-conjugate roots into quadratic sections. Poles are
// ordered from the origin outward so the most resonant section runs last.
func zpkToSOS(d zpk) *Filter {
	zs := quadratics(d.z)
	ps := quadratics(d.p)
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].radius < ps[j].radius })
	for len(zs) < len(ps) {
		zs = append(zs, quad{c: [3]float64{1, 0, 0}})
	}

	f := &Filter{sos: make([][6]float64, len(ps))}
	for i := range ps {
		b := zs[i].c
		a := ps[i].c
		f.sos[i] = [6]float64{b[0], b[1], b[2], a[0], a[1], a[2]}
	}
	if len(f.sos) > 0 {
		f.sos[0][0] *= d.k
		f.sos[0][1] *= d.k
		f.sos[0][2] *= d.k
	}
	return f
}

type quad struct {
	c      [3]float64
	radius float64
}

func quadratics(roots []complex128) []quad {
	var complexRoots []complex128
	var realRoots []float64
	for _, r := range roots {
		switch {
		case imag(r) > conjTol:
			complexRoots = append(complexRoots, r)
		case imag(r) < -conjTol:
			// the conjugate with positive imaginary part carries the pair
		default:
			realRoots = append(realRoots, real(r))
		}
	}

	var out []quad
	for _, r := range complexRoots {
		out = append(out, quad{
			c:      [3]float64{1, -2 * real(r), real(r)*real(r) + imag(r)*imag(r)},
			radius: cmplx.Abs(r),
		})
	}
	for i := 0; i+1 < len(realRoots); i += 2 {
		a, b := realRoots[i], realRoots[i+1]
		out = append(out, quad{
			c:      [3]float64{1, -(a + b), a * b},
			radius: math.Max(math.Abs(a), math.Abs(b)),
		})
	}
	if len(realRoots)%2 == 1 {
		r := realRoots[len(realRoots)-1]
		out = append(out, quad{c: [3]float64{1, -r, 0}, radius: math.Abs(r)})
	}
	return out
}

func prod(v []complex128) complex128 {
	out := complex(1, 0)
	for _, x := range v {
		out *= x
	}
	return out
}

func neg(v []complex128) []complex128 {
	out := make([]complex128, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}
