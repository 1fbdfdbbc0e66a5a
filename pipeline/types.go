package pipeline

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	vitalsig "github.com/lucasjlepore/vital-signal"
	"github.com/lucasjlepore/vital-signal/recording"
)

var (
	ErrMissingGroundTruth   = errors.New("no ground-truth blood pressure for recording")
	ErrAmbiguousGroundTruth = errors.New("ground truth matches several rows with different values")
	ErrGroundTruthFormat    = errors.New("malformed ground-truth table")
	ErrEmptyRecording       = recording.ErrEmptyRecording
	ErrUnrecognizedFormat   = errors.New("recording has neither an ECG nor a Green column")
	ErrPoorQuality          = errors.New("signal quality below threshold")
	ErrNonFiniteSamples     = errors.New("channel contains missing or non-finite samples")
)

// Column names that route a recording.
const (
	ECGColumn = "ECG"
	PPGColumn = "Green"
)

// Options configures a batch feature extraction run.
type Options struct {
	RecordingsDir   string
	GroundTruthPath string
	OutDir          string
	OutputName      string // table file name without extension
	Format          string // csv|parquet
	Overwrite       bool

	QualityThreshold float64 // minimum overall SQI, default 0.7
	PATChannel       string  // PPG column paired with ECG for PAT, default "Red"
	BestRun          bool    // compute morphology features on the best 10-beat run only
	RunPolicy        vitalsig.RunPolicy
	EntropyWindow    int     // max samples fed to sample entropy; 0 means all
	EntropyM         int     // template length, default 2
	EntropyR         float64 // tolerance as a fraction of SD, default 0.2
	TimeReference    recording.TimeReference

	Stages Stages
	Logger *zerolog.Logger
}

// Stages are the per-file collaborators. Nil fields use the package defaults.
type Stages struct {
	Load       func(path string) (*recording.Recording, error)
	SampleRate func(rec *recording.Recording) (float64, error)
	CleanECG   func(samples []float64, rate float64) ([]float64, error)
	CleanPPG   func(samples []float64, rate float64) ([]float64, error)
	Quality    func(samples []float64, rate float64) (float64, error)
}

// State is the terminal classification of one recording.
type State string

const (
	StateECG          State = "ecg"
	StatePPG          State = "ppg"
	StateError        State = "error"
	StateMissing      State = "missing_ground_truth"
	StateEmpty        State = "empty"
	StatePoorQuality  State = "poor_quality"
	StateUnrecognized State = "unrecognized"
)

// FileOutcome records how one recording left the pipeline.
type FileOutcome struct {
	File     string      `json:"file"`
	State    State       `json:"state"`
	Reason   string      `json:"reason,omitempty"`
	Rate     float64     `json:"sample_rate,omitempty"`
	SQI      *float64    `json:"sqi,omitempty"`
	Beats    int         `json:"beats,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
	Row      *FeatureRow `json:"-"`
	Err      error       `json:"-"`
}

func (o FileOutcome) finish(state State, err error) FileOutcome {
	o.State = state
	o.Err = err
	if err != nil {
		o.Reason = err.Error()
	}
	return o
}

// Tally counts terminal classifications. The first five fields are the
// batch summary; PoorQuality and Unrecognized are reported but stay out of it.
type Tally struct {
	Errors       int `json:"errors"`
	Missing      int `json:"missing_ground_truth"`
	Empty        int `json:"empty"`
	PPG          int `json:"ppg"`
	ECG          int `json:"ecg"`
	PoorQuality  int `json:"poor_quality"`
	Unrecognized int `json:"unrecognized"`
	Enumerated   int `json:"enumerated"`
}

// Add returns the tally with one more outcome folded in.
func (t Tally) Add(o FileOutcome) Tally {
	switch o.State {
	case StateError:
		t.Errors++
	case StateMissing:
		t.Missing++
	case StateEmpty:
		t.Empty++
	case StatePPG:
		t.PPG++
	case StateECG:
		t.ECG++
	case StatePoorQuality:
		t.PoorQuality++
	case StateUnrecognized:
		t.Unrecognized++
	}
	return t
}

// Classified is the sum of the five summary counters.
func (t Tally) Classified() int {
	return t.Errors + t.Missing + t.Empty + t.PPG + t.ECG
}

// Consistent reports whether no more files were classified than enumerated.
func (t Tally) Consistent() bool {
	return t.Classified()+t.PoorQuality+t.Unrecognized <= t.Enumerated
}

// FeatureRow is one line of the output table.
type FeatureRow struct {
	Filename string  `json:"filename"`
	SBP      float64 `json:"sbp"`
	DBP      float64 `json:"dbp"`
	HR       float64 `json:"hr"`
	HRV      float64 `json:"hrv"`
	RR       float64 `json:"rr"`
	PAT      float64 `json:"pat"`
	ENT      float64 `json:"ent"`
	SKEW     float64 `json:"skew"`
	KURT     float64 `json:"kurt"`
}

// TableHeader is the output table header.
var TableHeader = []string{"Filename", "SBP", "DBP", "HR", "HRV", "RR", "PAT", "ENT", "SKEW", "KURT"}

func (r FeatureRow) values() []float64 {
	return []float64{r.SBP, r.DBP, r.HR, r.HRV, r.RR, r.PAT, r.ENT, r.SKEW, r.KURT}
}

// Result describes a finished batch.
type Result struct {
	RunID        string        `json:"run_id"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	OutputDir    string        `json:"output_dir"`
	TablePath    string        `json:"table_path"`
	ManifestPath string        `json:"manifest_path"`
	ReportPath   string        `json:"report_path"`
	Interrupted  bool          `json:"interrupted,omitempty"`
	Tally        Tally         `json:"tally"`
	Rows         []FeatureRow  `json:"-"`
	Outcomes     []FileOutcome `json:"outcomes"`
}
