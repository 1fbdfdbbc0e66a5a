package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	vitalsig "github.com/lucasjlepore/vital-signal"
)

// ManifestFormatVersion identifies the manifest schema.
const ManifestFormatVersion = "vitalsig_batch_v1"

// Manifest records what a batch read, how it was configured and how every
// recording was classified.
type Manifest struct {
	FormatVersion string           `json:"format_version"`
	RunID         string           `json:"run_id"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Interrupted   bool             `json:"interrupted,omitempty"`
	RecordingsDir string           `json:"recordings_dir"`
	GroundTruth   InputFile        `json:"ground_truth"`
	Inputs        []InputFile      `json:"inputs"`
	Table         string           `json:"table"`
	Format        string           `json:"format"`
	RowCount      int              `json:"row_count"`
	Settings      ManifestSettings `json:"settings"`
	Tally         Tally            `json:"tally"`
	Outcomes      []FileOutcome    `json:"outcomes"`
}

// ManifestSettings are the options that affect classification and features.
type ManifestSettings struct {
	QualityThreshold float64            `json:"quality_threshold"`
	PATChannel       string             `json:"pat_channel"`
	BestRun          bool               `json:"best_run"`
	RunPolicy        vitalsig.RunPolicy `json:"run_policy"`
	EntropyWindow    int                `json:"entropy_window"`
	EntropyM         int                `json:"entropy_m"`
	EntropyR         float64            `json:"entropy_r"`
	TimeColumns      []string           `json:"time_columns"`
	TimeUnit         string             `json:"time_unit"`
}

// InputFile identifies one input by name, size and content hash.
type InputFile struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	SHA256    string `json:"sha256"`
}

func buildManifest(opts Options, res *Result, files []string) (*Manifest, error) {
	gt, err := describeInput(opts.GroundTruthPath)
	if err != nil {
		return nil, err
	}
	inputs := make([]InputFile, 0, len(files))
	for _, path := range files {
		in, err := describeInput(path)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}

	return &Manifest{
		FormatVersion: ManifestFormatVersion,
		RunID:         res.RunID,
		StartedAt:     res.StartedAt,
		FinishedAt:    res.FinishedAt,
		Interrupted:   res.Interrupted,
		RecordingsDir: opts.RecordingsDir,
		GroundTruth:   gt,
		Inputs:        inputs,
		Table:         filepath.Base(res.TablePath),
		Format:        opts.Format,
		RowCount:      len(res.Rows),
		Settings: ManifestSettings{
			QualityThreshold: opts.QualityThreshold,
			PATChannel:       opts.PATChannel,
			BestRun:          opts.BestRun,
			RunPolicy:        opts.RunPolicy,
			EntropyWindow:    opts.EntropyWindow,
			EntropyM:         opts.EntropyM,
			EntropyR:         opts.EntropyR,
			TimeColumns:      opts.TimeReference.Columns,
			TimeUnit:         opts.TimeReference.Unit,
		},
		Tally:    res.Tally,
		Outcomes: res.Outcomes,
	}, nil
}

func describeInput(path string) (InputFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return InputFile{}, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return InputFile{}, err
	}
	return InputFile{
		Name:      filepath.Base(path),
		SizeBytes: n,
		SHA256:    hex.EncodeToString(h.Sum(nil)),
	}, nil
}
