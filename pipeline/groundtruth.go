package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// GroundTruthRecord is one measured blood pressure.
type GroundTruthRecord struct {
	Filename string  `json:"filename"`
	SBP      float64 `json:"sbp"`
	DBP      float64 `json:"dbp"`
}

// GroundTruth is the reference blood pressure table, matched against
// recordings by filename substring.
type GroundTruth struct {
	records []GroundTruthRecord
}

// LoadGroundTruth reads a CSV with Filename, SBP and DBP columns. Other
// columns are ignored.
func LoadGroundTruth(path string) (*GroundTruth, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ground truth: %w", err)
	}
	defer f.Close()
	return readGroundTruth(f)
}

func readGroundTruth(r io.Reader) (*GroundTruth, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read header: %v", ErrGroundTruthFormat, err)
	}
	idx := map[string]int{"Filename": -1, "SBP": -1, "DBP": -1}
	for i, name := range header {
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		if _, ok := idx[name]; ok && idx[name] < 0 {
			idx[name] = i
		}
	}
	for _, name := range []string{"Filename", "SBP", "DBP"} {
		if idx[name] < 0 {
			return nil, fmt.Errorf("%w: missing %s column", ErrGroundTruthFormat, name)
		}
	}

	gt := &GroundTruth{}
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrGroundTruthFormat, line, err)
		}
		sbp, err := strconv.ParseFloat(strings.TrimSpace(row[idx["SBP"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: SBP %q", ErrGroundTruthFormat, line, row[idx["SBP"]])
		}
		dbp, err := strconv.ParseFloat(strings.TrimSpace(row[idx["DBP"]]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: DBP %q", ErrGroundTruthFormat, line, row[idx["DBP"]])
		}
		gt.records = append(gt.records, GroundTruthRecord{
			Filename: strings.TrimSpace(row[idx["Filename"]]),
			SBP:      sbp,
			DBP:      dbp,
		})
	}
	return gt, nil
}

// Len returns the number of rows.
func (g *GroundTruth) Len() int { return len(g.records) }

// Matches returns every row whose Filename contains stem. A blank stem
// matches nothing.
func (g *GroundTruth) Matches(stem string) []GroundTruthRecord {
	if strings.TrimSpace(stem) == "" {
		return nil
	}
	var matches []GroundTruthRecord
	for _, rec := range g.records {
		if strings.Contains(rec.Filename, stem) {
			matches = append(matches, rec)
		}
	}
	return matches
}

// Match returns the single row whose Filename contains stem. No match is
// missing ground truth; more than one is ambiguous even when the rows agree.
func (g *GroundTruth) Match(stem string) (GroundTruthRecord, error) {
	matches := g.Matches(stem)
	switch len(matches) {
	case 0:
		return GroundTruthRecord{}, fmt.Errorf("%w: %q", ErrMissingGroundTruth, stem)
	case 1:
		return matches[0], nil
	default:
		return GroundTruthRecord{}, fmt.Errorf("value error: %w: %q matches %d rows",
			ErrAmbiguousGroundTruth, stem, len(matches))
	}
}
