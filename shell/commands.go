package shell

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	vitalsig "github.com/lucasjlepore/vital-signal"
	"github.com/lucasjlepore/vital-signal/pipeline"
	"github.com/lucasjlepore/vital-signal/preprocess"
	"github.com/lucasjlepore/vital-signal/recording"
)

type command struct {
	usage   string
	summary string
	run     func(ctx context.Context, s *Session, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":      {"help", "list commands", cmdHelp},
		"load":      {"load PATH", "load a .csv or .fit recording", cmdLoad},
		"select":    {"select COLUMN", "copy a column into the working signal", cmdSelect},
		"trim":      {"trim N", "drop the first N rows of the recording and signal", cmdTrim},
		"showfs":    {"showfs", "print the sample rate", cmdShowFS},
		"lowpass":   {"lowpass ORDER ATTEN CORNER", "Chebyshev II lowpass", cmdLowpass},
		"butter":    {"butter CORNER", "4th order Butterworth lowpass", cmdButter},
		"cleanecg":  {"cleanecg", "ECG cleaning (0.5 Hz highpass, 40 Hz lowpass)", cmdCleanECG},
		"cleanppg":  {"cleanppg", "PPG cleaning (0.5-8 Hz bandpass)", cmdCleanPPG},
		"wavelet":   {"wavelet", "db4 wavelet denoise", cmdWavelet},
		"sqi":       {"sqi", "overall signal quality index", cmdSQI},
		"segment":   {"segment", "score beats and assemble the best run", cmdSegment},
		"write":     {"write PATH", "write the signal as a Time,<column> csv", cmdWrite},
		"dump":      {"dump", "print every sample", cmdDump},
		"decompose": {"decompose", "level 2 db4 coefficients", cmdDecompose},
		"entropy":   {"entropy", "sample entropy (m=2, r=0.2 SD)", cmdEntropy},
		"skew":      {"skew", "skewness", cmdSkew},
		"kurt":      {"kurt", "excess kurtosis", cmdKurt},
		"rr":        {"rr", "mean R-R interval in seconds", cmdRR},
		"hr":        {"hr", "heart rate in beats per minute", cmdHR},
		"rmssd":     {"rmssd", "RMSSD of the R-R intervals in seconds", cmdRMSSD},
		"pat":       {"pat [CHANNEL]", "pulse arrival time against a PPG column", cmdPAT},
		"extract":   {"extract DIR GROUNDTRUTH", "batch feature extraction", cmdExtract},
	}
}

func cmdHelp(_ context.Context, s *Session, _ []string) error {
	s.help()
	return nil
}

func cmdLoad(_ context.Context, s *Session, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	path := strings.Trim(args[0], `'"`)
	rec, err := recording.Load(path)
	if err != nil {
		return err
	}

	s.rec, s.column, s.signal, s.rate = rec, "", nil, 0
	fmt.Fprintf(s.out, "columns: %s\n", strings.Join(rec.Columns(), ", "))
	fmt.Fprintln(s.out, "Data loaded!")
	if rec.Empty() {
		fmt.Fprintln(s.out, "recording has no rows")
		return nil
	}
	rate, err := recording.SampleRate(rec, s.opts.TimeReference)
	if err != nil {
		fmt.Fprintf(s.out, "sample rate unavailable: %v\n", err)
		return nil
	}
	s.rate = rate
	return nil
}

func cmdSelect(_ context.Context, s *Session, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := s.requireData(); err != nil {
		return err
	}
	samples, err := s.rec.Signal(args[0])
	if err != nil {
		return err
	}
	s.column, s.signal = args[0], samples
	fmt.Fprintln(s.out, "Signal selected!")
	return nil
}

func cmdTrim(_ context.Context, s *Session, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return fmt.Errorf("expected a positive integer, got %q", args[0])
	}
	if err := s.requireData(); err != nil {
		return err
	}
	rec, err := s.rec.Trim(n)
	if err != nil {
		return err
	}
	s.rec = rec
	if s.signal != nil {
		if n >= len(s.signal) {
			s.signal = []float64{}
		} else {
			s.signal = append([]float64(nil), s.signal[n:]...)
		}
	}
	fmt.Fprintln(s.out, "Done.")
	return nil
}

func cmdShowFS(_ context.Context, s *Session, _ []string) error {
	if err := s.requireData(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%.6g\n", s.rate)
	return nil
}

func cmdLowpass(_ context.Context, s *Session, args []string) error {
	if len(args) != 3 {
		return errUsage
	}
	order, err := strconv.Atoi(args[0])
	if err != nil {
		return errUsage
	}
	atten, err1 := strconv.ParseFloat(args[1], 64)
	corner, err2 := strconv.ParseFloat(args[2], 64)
	if err1 != nil || err2 != nil {
		return errUsage
	}
	if err := s.requireSignal(); err != nil {
		return err
	}
	next, err := preprocess.Lowpass(s.signal, order, atten, corner, s.rate)
	if err != nil {
		return err
	}
	s.propose(next)
	return nil
}

func cmdButter(_ context.Context, s *Session, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	corner, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return errUsage
	}
	if err := s.requireSignal(); err != nil {
		return err
	}
	next, err := preprocess.Butter(s.signal, corner, s.rate)
	if err != nil {
		return err
	}
	s.propose(next)
	return nil
}

func cmdCleanECG(_ context.Context, s *Session, _ []string) error {
	return s.transform(preprocess.CleanECG)
}

func cmdCleanPPG(_ context.Context, s *Session, _ []string) error {
	return s.transform(preprocess.CleanPPG)
}

func cmdWavelet(_ context.Context, s *Session, _ []string) error {
	return s.transform(func(samples []float64, _ float64) ([]float64, error) {
		return preprocess.Denoise(samples, preprocess.DB4)
	})
}

func (s *Session) transform(fn func(samples []float64, rate float64) ([]float64, error)) error {
	if err := s.requireSignal(); err != nil {
		return err
	}
	next, err := fn(s.signal, s.rate)
	if err != nil {
		return err
	}
	s.propose(next)
	return nil
}

func cmdSQI(_ context.Context, s *Session, _ []string) error {
	return s.scalar(func(samples []float64, rate float64) (float64, error) {
		return vitalsig.OverallSQI(samples, rate)
	})
}

func cmdSegment(_ context.Context, s *Session, _ []string) error {
	if err := s.requireSignal(); err != nil {
		return err
	}
	set, err := vitalsig.Segment(vitalsig.Signal{Samples: s.signal, Rate: s.rate})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d beats\n", set.Len())
	for _, b := range set.Beats() {
		fmt.Fprintf(s.out, "  beat %3d  start %7d  kSQI %8.3f  pSQI %6.3f\n", b.Index, b.Start, b.KSQI, b.PSQI)
	}

	policy := vitalsig.DefaultRunPolicy()
	if s.opts.Batch.RunPolicy.Window > 0 {
		policy = s.opts.Batch.RunPolicy
	}
	trigger, err := vitalsig.SelectRun(set, policy)
	if err != nil {
		return err
	}
	run, err := vitalsig.Assemble(set, trigger, policy.Window)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "run starts after beat %d\n", trigger)
	s.propose(run.Samples)
	return nil
}

func cmdWrite(_ context.Context, s *Session, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := s.requireSignal(); err != nil {
		return err
	}
	column := s.column
	if column == "" {
		column = "Signal"
	}
	if err := recording.WriteSignal(args[0], column, s.signal, s.rate); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "wrote %d samples to %s\n", len(s.signal), args[0])
	return nil
}

func cmdDump(_ context.Context, s *Session, _ []string) error {
	if err := s.requireSignal(); err != nil {
		return err
	}
	for _, v := range s.signal {
		fmt.Fprintln(s.out, strconv.FormatFloat(v, 'g', -1, 64))
	}
	return nil
}

func cmdDecompose(_ context.Context, s *Session, _ []string) error {
	if err := s.requireSignal(); err != nil {
		return err
	}
	coeffs, err := vitalsig.Decompose(s.signal)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, coeffs)
	return nil
}

func cmdEntropy(_ context.Context, s *Session, _ []string) error {
	return s.scalar(func(samples []float64, _ float64) (float64, error) {
		return vitalsig.SampleEntropyDefault(samples)
	})
}

func cmdSkew(_ context.Context, s *Session, _ []string) error {
	return s.scalar(func(samples []float64, _ float64) (float64, error) {
		return vitalsig.Skew(samples)
	})
}

func cmdKurt(_ context.Context, s *Session, _ []string) error {
	return s.scalar(func(samples []float64, _ float64) (float64, error) {
		return vitalsig.Kurtosis(samples)
	})
}

func cmdRR(_ context.Context, s *Session, _ []string) error {
	return s.scalar(func(samples []float64, rate float64) (float64, error) {
		return vitalsig.RRInterval(vitalsig.Signal{Samples: samples, Rate: rate})
	})
}

func cmdHR(_ context.Context, s *Session, _ []string) error {
	return s.scalar(func(samples []float64, rate float64) (float64, error) {
		rr, err := vitalsig.RRInterval(vitalsig.Signal{Samples: samples, Rate: rate})
		if err != nil {
			return 0, err
		}
		return vitalsig.HeartRate(rr)
	})
}

func cmdRMSSD(_ context.Context, s *Session, _ []string) error {
	return s.scalar(func(samples []float64, rate float64) (float64, error) {
		intervals, err := vitalsig.RRIntervals(vitalsig.Signal{Samples: samples, Rate: rate})
		if err != nil {
			return 0, err
		}
		return vitalsig.RMSSD(intervals)
	})
}

// cmdPAT pairs the working signal, taken as cleaned ECG, with a cleaned PPG
// column of the loaded recording.
func cmdPAT(_ context.Context, s *Session, args []string) error {
	if len(args) > 1 {
		return errUsage
	}
	channel := s.opts.PATChannel
	if len(args) == 1 {
		channel = args[0]
	}
	if err := s.requireSignal(); err != nil {
		return err
	}
	raw, err := s.rec.Signal(channel)
	if err != nil {
		return err
	}
	ppg, err := preprocess.CleanPPG(raw, s.rate)
	if err != nil {
		return err
	}
	pat, err := vitalsig.PulseArrivalTime(
		vitalsig.Signal{Samples: s.signal, Rate: s.rate},
		vitalsig.Signal{Samples: ppg, Rate: s.rate},
	)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, strconv.FormatFloat(pat, 'g', -1, 64))
	return nil
}

func cmdExtract(ctx context.Context, s *Session, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	opts := s.opts.Batch
	opts.RecordingsDir = args[0]
	opts.GroundTruthPath = args[1]
	if len(opts.TimeReference.Columns) == 0 {
		opts.TimeReference = s.opts.TimeReference
	}

	res, err := pipeline.Run(ctx, opts)
	if res != nil {
		fmt.Fprint(s.out, pipeline.BuildReport(res))
	}
	return err
}

func (s *Session) scalar(fn func(samples []float64, rate float64) (float64, error)) error {
	if err := s.requireSignal(); err != nil {
		return err
	}
	v, err := fn(s.signal, s.rate)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, strconv.FormatFloat(v, 'g', -1, 64))
	return nil
}
