package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	vitalsig "github.com/lucasjlepore/vital-signal"
	"github.com/lucasjlepore/vital-signal/logging"
	"github.com/lucasjlepore/vital-signal/preprocess"
	"github.com/lucasjlepore/vital-signal/recording"
)

// Defaults applied to zero-valued Options fields.
const (
	DefaultQualityThreshold = 0.7
	DefaultPATChannel       = "Red"
	DefaultOutputName       = "ecg_features"
	DefaultEntropyWindow    = 5000
)

// DefaultStages wires the package's own loader, filters and quality index.
func DefaultStages(ref recording.TimeReference) Stages {
	return Stages{
		Load: recording.LoadCSV,
		SampleRate: func(rec *recording.Recording) (float64, error) {
			return recording.SampleRate(rec, ref)
		},
		CleanECG: preprocess.CleanECG,
		CleanPPG: preprocess.CleanPPG,
		Quality:  vitalsig.OverallSQI,
	}
}

func (o Options) normalized() (Options, error) {
	if strings.TrimSpace(o.RecordingsDir) == "" {
		return o, fmt.Errorf("recordings directory is required")
	}
	if strings.TrimSpace(o.GroundTruthPath) == "" {
		return o, fmt.Errorf("ground truth path is required")
	}
	if strings.TrimSpace(o.OutDir) == "" {
		o.OutDir = "."
	}
	if o.OutputName == "" {
		o.OutputName = DefaultOutputName
	}
	o.Format = strings.ToLower(strings.TrimSpace(o.Format))
	if o.Format == "" {
		o.Format = "csv"
	}
	if o.Format != "parquet" && o.Format != "csv" {
		return o, fmt.Errorf("unsupported format %q (expected parquet|csv)", o.Format)
	}
	if o.QualityThreshold == 0 {
		o.QualityThreshold = DefaultQualityThreshold
	}
	if o.PATChannel == "" {
		o.PATChannel = DefaultPATChannel
	}
	if o.RunPolicy.Window == 0 && o.RunPolicy.Threshold == 0 {
		o.RunPolicy = vitalsig.DefaultRunPolicy()
	}
	if o.EntropyM <= 0 {
		o.EntropyM = vitalsig.DefaultEntropyM
	}
	if o.EntropyR <= 0 {
		o.EntropyR = vitalsig.DefaultEntropyR
	}
	if len(o.TimeReference.Columns) == 0 {
		o.TimeReference = recording.DefaultTimeReference()
	}

	defaults := DefaultStages(o.TimeReference)
	if o.Stages.Load == nil {
		o.Stages.Load = defaults.Load
	}
	if o.Stages.SampleRate == nil {
		o.Stages.SampleRate = defaults.SampleRate
	}
	if o.Stages.CleanECG == nil {
		o.Stages.CleanECG = defaults.CleanECG
	}
	if o.Stages.CleanPPG == nil {
		o.Stages.CleanPPG = defaults.CleanPPG
	}
	if o.Stages.Quality == nil {
		o.Stages.Quality = defaults.Quality
	}
	if o.Logger == nil {
		l := logging.WithComponent("pipeline")
		o.Logger = &l
	}
	return o, nil
}

// Run extracts features from every CSV recording in opts.RecordingsDir,
// writes the feature table, a manifest and a text report to opts.OutDir, and
// returns the tally. Per-file faults are classified and never abort the
// batch. Only setup faults return an error: an unreadable recordings
// directory or ground-truth table, or an unusable output directory. If ctx is
// cancelled the files processed so far are still written, and the
// cancellation is returned alongside the result.
func Run(ctx context.Context, opts Options) (*Result, error) {
	opts, err := opts.normalized()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger

	truth, err := LoadGroundTruth(opts.GroundTruthPath)
	if err != nil {
		return nil, err
	}
	files, err := listRecordings(opts.RecordingsDir)
	if err != nil {
		return nil, err
	}

	if err := ensureOutputDir(opts.OutDir); err != nil {
		return nil, err
	}
	tablePath := filepath.Join(opts.OutDir, opts.OutputName+"."+formatExtension(opts.Format))
	if _, err := os.Stat(tablePath); err == nil && !opts.Overwrite {
		return nil, fmt.Errorf("output table already exists: %s (set overwrite=true to replace it)", tablePath)
	}

	res := &Result{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		OutputDir: opts.OutDir,
		TablePath: tablePath,
	}
	res.Tally.Enumerated = len(files)
	logger.Info().
		Str("run_id", res.RunID).
		Str("dir", opts.RecordingsDir).
		Int("files", len(files)).
		Int("ground_truth_rows", truth.Len()).
		Msg("starting batch extraction")

	p := &processor{opts: opts, truth: truth, logger: logger}
	var interrupted error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			interrupted = err
			res.Interrupted = true
			logger.Warn().Err(err).Int("remaining", len(files)-len(res.Outcomes)).Msg("batch interrupted")
			break
		}

		outcome := p.processFile(path)
		logOutcome(logger, outcome)
		res.Outcomes = append(res.Outcomes, outcome)
		res.Tally = res.Tally.Add(outcome)
		if outcome.Row != nil {
			res.Rows = append(res.Rows, *outcome.Row)
		}
	}

	if err := WriteTable(tablePath, opts.Format, res.Rows); err != nil {
		return nil, err
	}
	res.FinishedAt = time.Now().UTC()

	manifest, err := buildManifest(opts, res, files)
	if err != nil {
		return res, fmt.Errorf("build manifest: %w", err)
	}
	res.ManifestPath = filepath.Join(opts.OutDir, "manifest.json")
	if err := writeJSON(res.ManifestPath, manifest); err != nil {
		return res, fmt.Errorf("write manifest.json: %w", err)
	}
	res.ReportPath = filepath.Join(opts.OutDir, "report.txt")
	if err := os.WriteFile(res.ReportPath, []byte(BuildReport(res)), 0o644); err != nil {
		return res, fmt.Errorf("write report.txt: %w", err)
	}

	logger.Info().
		Int("errors", res.Tally.Errors).
		Int("missing", res.Tally.Missing).
		Int("empty", res.Tally.Empty).
		Int("ppg", res.Tally.PPG).
		Int("ecg", res.Tally.ECG).
		Str("table", tablePath).
		Msg("batch extraction finished")

	if interrupted != nil {
		return res, fmt.Errorf("batch interrupted: %w", interrupted)
	}
	return res, nil
}

func logOutcome(logger *zerolog.Logger, o FileOutcome) {
	for _, w := range o.Warnings {
		logger.Warn().Str("file", o.File).Msg(w)
	}

	var ev *zerolog.Event
	switch o.State {
	case StateError:
		ev = logger.Warn()
	case StateECG:
		ev = logger.Info()
	default:
		ev = logger.Debug()
	}
	ev = ev.Str("file", o.File).Str("state", string(o.State))
	if o.Reason != "" {
		ev = ev.Str("reason", o.Reason)
	}
	ev.Msg("classified recording")
}

// listRecordings returns the .csv files of a flat directory in name order.
func listRecordings(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read recordings directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

type processor struct {
	opts   Options
	truth  *GroundTruth
	logger *zerolog.Logger
}

// processFile walks one recording through load, validation, cleaning, quality
// gating and feature extraction, stopping at the first terminal state.
func (p *processor) processFile(path string) FileOutcome {
	name := filepath.Base(path)
	out := FileOutcome{File: name}

	rec, err := p.opts.Stages.Load(path)
	if err != nil {
		return out.finish(StateError, err)
	}
	if rec.Empty() {
		return out.finish(StateEmpty, fmt.Errorf("%w: %s", ErrEmptyRecording, name))
	}
	rate, err := p.opts.Stages.SampleRate(rec)
	if err != nil {
		return out.finish(StateError, err)
	}
	out.Rate = rate

	// Presence is settled here; a duplicate match only fails an ECG file
	// that gets as far as extraction.
	stem := strings.TrimSuffix(name, ".csv")
	if len(p.truth.Matches(stem)) == 0 {
		return out.finish(StateMissing, fmt.Errorf("%w: %q", ErrMissingGroundTruth, stem))
	}

	switch {
	case rec.Has(ECGColumn):
		return p.processECG(out, rec, rate, stem)
	case rec.Has(PPGColumn):
		return out.finish(StatePPG, nil)
	default:
		return out.finish(StateUnrecognized, fmt.Errorf("%w: columns %s", ErrUnrecognizedFormat, strings.Join(rec.Columns(), ", ")))
	}
}

func (p *processor) processECG(out FileOutcome, rec *recording.Recording, rate float64, stem string) FileOutcome {
	raw, err := finiteChannel(rec, ECGColumn)
	if err != nil {
		return out.finish(StateError, err)
	}
	cleaned, err := p.opts.Stages.CleanECG(raw, rate)
	if err != nil {
		return out.finish(StateError, err)
	}
	sqi, err := p.opts.Stages.Quality(cleaned, rate)
	if err != nil {
		return out.finish(StateError, fmt.Errorf("signal quality: %w", err))
	}
	if !math.IsNaN(sqi) && !math.IsInf(sqi, 0) {
		out.SQI = &sqi
	}
	if !(sqi >= p.opts.QualityThreshold) {
		return out.finish(StatePoorQuality, fmt.Errorf("%w: %.3f < %.2f", ErrPoorQuality, sqi, p.opts.QualityThreshold))
	}

	ecg := vitalsig.Signal{Samples: cleaned, Rate: rate}
	morphology := ecg
	if p.opts.BestRun {
		assembled, beats, err := vitalsig.SegmentAndSelectBestRun(ecg, p.opts.RunPolicy)
		out.Beats = beats
		switch {
		case errors.Is(err, vitalsig.ErrNoQualifyingRun):
			return out.finish(StatePoorQuality, err)
		case err != nil:
			return out.finish(StateError, err)
		}
		morphology = assembled
	}

	truth, err := p.truth.Match(stem)
	if err != nil {
		return out.finish(StateError, err)
	}

	row, warnings, err := p.extract(rec, ecg, morphology)
	out.Warnings = warnings
	if err != nil {
		return out.finish(StateError, err)
	}
	row.Filename = out.File
	row.SBP = truth.SBP
	row.DBP = truth.DBP
	out.Row = &row
	return out.finish(StateECG, nil)
}

// extract computes one feature row. Rhythm features come from the full
// cleaned ECG so R-R spacing is not distorted by beat concatenation;
// distribution features come from morphology. RR and HR failures fail the
// file; the remaining features fall back to NaN with a warning.
func (p *processor) extract(rec *recording.Recording, ecg, morphology vitalsig.Signal) (FeatureRow, []string, error) {
	var warnings []string
	soft := func(feature string, v float64, err error) float64 {
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s unavailable: %v", feature, err))
			return math.NaN()
		}
		return v
	}

	rr, err := vitalsig.RRInterval(ecg)
	if err != nil {
		return FeatureRow{}, warnings, fmt.Errorf("rr interval: %w", err)
	}
	hr, err := vitalsig.HeartRate(rr)
	if err != nil {
		return FeatureRow{}, warnings, err
	}

	row := FeatureRow{HR: hr, HRV: 0, RR: rr}

	pat, err := p.pulseArrivalTime(rec, ecg)
	row.PAT = soft("PAT", pat, err)

	window := morphology.Samples
	if p.opts.EntropyWindow > 0 && len(window) > p.opts.EntropyWindow {
		window = window[:p.opts.EntropyWindow]
	}
	ent, err := vitalsig.SampleEntropyRelative(window, p.opts.EntropyM, p.opts.EntropyR)
	row.ENT = soft("ENT", ent, err)

	skew, err := vitalsig.Skew(morphology.Samples)
	row.SKEW = soft("SKEW", skew, err)
	kurt, err := vitalsig.Kurtosis(morphology.Samples)
	row.KURT = soft("KURT", kurt, err)

	return row, warnings, nil
}

func (p *processor) pulseArrivalTime(rec *recording.Recording, ecg vitalsig.Signal) (float64, error) {
	raw, err := finiteChannel(rec, p.opts.PATChannel)
	if err != nil {
		return 0, err
	}
	ppg, err := p.opts.Stages.CleanPPG(raw, ecg.Rate)
	if err != nil {
		return 0, err
	}
	return vitalsig.PulseArrivalTime(ecg, vitalsig.Signal{Samples: ppg, Rate: ecg.Rate})
}

func finiteChannel(rec *recording.Recording, column string) ([]float64, error) {
	samples, err := rec.Signal(column)
	if err != nil {
		return nil, err
	}
	for i, v := range samples {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s row %d", ErrNonFiniteSamples, column, i+1)
		}
	}
	return samples, nil
}

func ensureOutputDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path is not a directory: %s", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
