package vitalsig

import "math"

// ECGSim generates an ECG-like waveform (not clinical): a slow baseline,
// Gaussian P, Q, R, S and T waves, and optional deterministic noise.
type ECGSim struct {
	Rate      float64
	HeartRate float64 // beats per minute
	Noise     float64 // peak noise amplitude, ~0.0-0.05

	phase float64
}

// NewECGSim returns a simulator at rate Hz. Typical heart rates are 60-120.
func NewECGSim(rate, heartRate, noise float64) *ECGSim {
	return &ECGSim{Rate: rate, HeartRate: heartRate, Noise: noise}
}

// rPhase is where the R wave sits inside one cycle.
const rPhase = 0.32

// Next returns the next sample and advances time by one sample period.
func (s *ECGSim) Next() float64 {
	s.advance()
	t := s.phase

	baseline := 0.05 * math.Sin(2*math.Pi*0.33*t)
	p := 0.08 * gauss(t, 0.18, 0.03)
	q := -0.12 * gauss(t, 0.30, 0.01)
	r := 1.00 * gauss(t, rPhase, 0.008)
	sw := -0.25 * gauss(t, 0.35, 0.012)
	tw := 0.25 * gauss(t, 0.60, 0.06)

	return baseline + p + q + r + sw + tw + s.noise(t)
}

// Generate returns n consecutive samples.
func (s *ECGSim) Generate(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

func (s *ECGSim) advance() {
	s.phase += s.HeartRate / 60.0 / s.Rate
	if s.phase >= 1.0 {
		s.phase -= 1.0
	}
}

func (s *ECGSim) noise(t float64) float64 {
	if s.Noise == 0 {
		return 0
	}
	return s.Noise * (2*fract(math.Sin(12345.678*t)*9876.543) - 1)
}

// PPGSim generates a fingertip pulse wave locked to an ECGSim cycle: a systolic
// peak Delay seconds after each R wave followed by a smaller dicrotic wave.
type PPGSim struct {
	ECGSim
	Delay float64 // pulse arrival time in seconds
}

// NewPPGSim returns a pulse simulator sharing the ECG's rate and heart rate.
func NewPPGSim(rate, heartRate, delay, noise float64) *PPGSim {
	return &PPGSim{ECGSim: ECGSim{Rate: rate, HeartRate: heartRate, Noise: noise}, Delay: delay}
}

// Next returns the next pulse sample.
func (s *PPGSim) Next() float64 {
	s.advance()
	t := s.phase
	systole := fract(rPhase + s.Delay*s.HeartRate/60.0)
	dicrotic := fract(systole + 0.25)
	return 1.0*circularGauss(t, systole, 0.08) + 0.3*circularGauss(t, dicrotic, 0.06) + s.noise(t)
}

// Generate returns n consecutive samples.
func (s *PPGSim) Generate(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.Next()
	}
	return out
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

// circularGauss measures distance around the unit cycle so a wave near the
// cycle boundary does not get cut in half.
func circularGauss(x, mu, sigma float64) float64 {
	d := math.Abs(x - mu)
	if d > 0.5 {
		d = 1 - d
	}
	return gauss(d, 0, sigma)
}

func fract(x float64) float64 { return x - math.Floor(x) }
