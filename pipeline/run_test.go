package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	vitalsig "github.com/lucasjlepore/vital-signal"
	"github.com/lucasjlepore/vital-signal/recording"
)

const testRate = 250.0

func writeText(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", filepath.Base(path), err)
	}
}

// writeECG writes Time, ECG and optionally Red columns from the simulators.
func writeECG(t *testing.T, dir, name string, seconds, amplitude float64, withRed bool) {
	t.Helper()
	n := int(seconds * testRate)
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / testRate
	}
	ecg := vitalsig.NewECGSim(testRate, 60, 0).Generate(n)
	for i := range ecg {
		ecg[i] *= amplitude
	}
	columns := []string{"Time", "ECG"}
	values := [][]float64{times, ecg}
	if withRed {
		columns = append(columns, "Red")
		values = append(values, vitalsig.NewPPGSim(testRate, 60, 0.2, 0).Generate(n))
	}
	if err := recording.WriteCSV(filepath.Join(dir, name), columns, values); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func writeNoise(t *testing.T, dir, name string, seconds float64) {
	t.Helper()
	n := int(seconds * testRate)
	times := make([]float64, n)
	noise := make([]float64, n)
	seed := uint32(42)
	for i := range times {
		times[i] = float64(i) / testRate
		seed = seed*1664525 + 1013904223
		noise[i] = float64(seed>>8)/float64(1<<24) - 0.5
	}
	if err := recording.WriteCSV(filepath.Join(dir, name), []string{"Time", "ECG"}, [][]float64{times, noise}); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func identity(samples []float64, _ float64) ([]float64, error) { return samples, nil }

// amplitudeQuality scores full-scale signals 0.9 and half-scale ones 0.5.
func amplitudeQuality(samples []float64, _ float64) (float64, error) {
	peak := 0.0
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak > 0.8 {
		return 0.9, nil
	}
	return 0.5, nil
}

func sameFloat(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return a == b
}

func TestRunClassifiesFiveRecordings(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "recordings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	// A: no time column
	var a strings.Builder
	a.WriteString("ECG\n")
	for i := 0; i < 500; i++ {
		a.WriteString("0.1\n")
	}
	writeText(t, filepath.Join(dir, "subjA.csv"), a.String())
	// B: header only
	writeText(t, filepath.Join(dir, "subjB.csv"), "Time,ECG\n")
	// C: valid but absent from ground truth
	writeECG(t, dir, "subjC.csv", 20, 1, false)
	// D: good quality with a PPG channel
	writeECG(t, dir, "subjD.csv", 20, 1, true)
	// E: poor quality
	writeECG(t, dir, "subjE.csv", 20, 0.5, false)

	gtPath := filepath.Join(root, "bp.csv")
	writeText(t, gtPath, "Filename,SBP,DBP\nsubjA_bp,120,80\nsubjB_bp,121,81\nsubjD_bp,118,76\nsubjE_bp,130,85\n")

	outDir := filepath.Join(root, "out")
	res, err := Run(context.Background(), Options{
		RecordingsDir:   dir,
		GroundTruthPath: gtPath,
		OutDir:          outDir,
		Format:          "csv",
		Stages: Stages{
			CleanECG: identity,
			Quality:  amplitudeQuality,
		},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := Tally{Errors: 1, Missing: 1, Empty: 1, PPG: 0, ECG: 1, PoorQuality: 1, Enumerated: 5}
	if res.Tally != want {
		t.Fatalf("tally = %+v, want %+v", res.Tally, want)
	}
	if !res.Tally.Consistent() || res.Tally.Classified() != 4 {
		t.Fatalf("tally invariant broken: %+v", res.Tally)
	}

	states := map[string]State{}
	for _, o := range res.Outcomes {
		states[o.File] = o.State
	}
	wantStates := map[string]State{
		"subjA.csv": StateError,
		"subjB.csv": StateEmpty,
		"subjC.csv": StateMissing,
		"subjD.csv": StateECG,
		"subjE.csv": StatePoorQuality,
	}
	for file, state := range wantStates {
		if states[file] != state {
			t.Fatalf("%s classified %q, want %q", file, states[file], state)
		}
	}

	rows, err := ReadTable(res.TablePath)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("table rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.Filename != "subjD.csv" || row.SBP != 118 || row.DBP != 76 {
		t.Fatalf("unexpected row identity: %+v", row)
	}
	if math.Abs(row.HR-60) > 1 || math.Abs(row.RR-1) > 0.02 || row.HRV != 0 {
		t.Fatalf("unexpected rhythm features: %+v", row)
	}
	if math.IsNaN(row.PAT) || math.Abs(row.PAT-0.2) > 0.05 {
		t.Fatalf("pat = %v, want ~0.2", row.PAT)
	}
	for name, v := range map[string]float64{"ENT": row.ENT, "SKEW": row.SKEW, "KURT": row.KURT} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("%s = %v, want finite", name, v)
		}
	}

	orig := res.Rows[0]
	for i, v := range orig.values() {
		if !sameFloat(v, row.values()[i]) {
			t.Fatalf("column %s did not round trip: %v != %v", TableHeader[i+1], row.values()[i], v)
		}
	}

	header, err := os.ReadFile(res.TablePath)
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if !strings.HasPrefix(string(header), "Filename,SBP,DBP,HR,HRV,RR,PAT,ENT,SKEW,KURT\n") {
		t.Fatalf("unexpected header line: %q", strings.SplitN(string(header), "\n", 2)[0])
	}

	for _, path := range []string{res.ManifestPath, res.ReportPath} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing artifact: %v", err)
		}
	}
	report, err := os.ReadFile(res.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(report), "number of ecg files: 1") {
		t.Fatalf("report missing ecg tally:\n%s", report)
	}
}

func TestRunWithDefaultStages(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "recordings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeECG(t, dir, "clean.csv", 20, 1, false)
	writeNoise(t, dir, "noisy.csv", 20)

	gtPath := filepath.Join(root, "bp.csv")
	writeText(t, gtPath, "Filename,SBP,DBP\nclean,120,80\nnoisy,125,82\n")

	res, err := Run(context.Background(), Options{
		RecordingsDir:   dir,
		GroundTruthPath: gtPath,
		OutDir:          filepath.Join(root, "out"),
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res.Tally.ECG != 1 || res.Tally.PoorQuality != 1 {
		t.Fatalf("tally = %+v, want one ecg and one poor quality", res.Tally)
	}
	if len(res.Rows) != 1 || res.Rows[0].Filename != "clean.csv" {
		t.Fatalf("rows = %+v", res.Rows)
	}
	// no Red channel: PAT falls back to NaN with a warning
	if !math.IsNaN(res.Rows[0].PAT) {
		t.Fatalf("pat = %v, want NaN", res.Rows[0].PAT)
	}
	for _, o := range res.Outcomes {
		if o.File == "clean.csv" && len(o.Warnings) == 0 {
			t.Fatal("expected a PAT warning for clean.csv")
		}
	}

	rows, err := ReadTable(res.TablePath)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(rows) != 1 || !math.IsNaN(rows[0].PAT) {
		t.Fatalf("csv NaN round trip failed: %+v", rows)
	}
}

func TestRunRoutesAndParquet(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "recordings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeECG(t, dir, "subjF.csv", 20, 1, false)
	writeECG(t, dir, "subjG.csv", 20, 1, false)
	writeText(t, filepath.Join(dir, "subjH.csv"), "Time,Green\n0,1\n0.004,2\n0.008,3\n")
	writeText(t, filepath.Join(dir, "subjI.csv"), "Time,Foo\n0,1\n0.004,2\n")
	writeText(t, filepath.Join(dir, "notes.txt"), "not a recording")

	gtPath := filepath.Join(root, "bp.csv")
	writeText(t, gtPath, strings.Join([]string{
		"Filename,SBP,DBP",
		"subjF_1,120,80",
		"subjF_2,125,80",
		"subjG_a,110,70",
		"subjH,100,60",
		"subjI,100,60",
	}, "\n")+"\n")

	res, err := Run(context.Background(), Options{
		RecordingsDir:   dir,
		GroundTruthPath: gtPath,
		OutDir:          filepath.Join(root, "out"),
		Format:          "parquet",
		Stages:          Stages{CleanECG: identity, Quality: amplitudeQuality},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := Tally{Errors: 1, PPG: 1, ECG: 1, Unrecognized: 1, Enumerated: 4}
	if res.Tally != want {
		t.Fatalf("tally = %+v, want %+v", res.Tally, want)
	}
	for _, o := range res.Outcomes {
		if o.File == "subjF.csv" {
			if !errors.Is(o.Err, ErrAmbiguousGroundTruth) || !strings.Contains(o.Reason, "value error") {
				t.Fatalf("subjF outcome = %+v", o)
			}
		}
	}

	if filepath.Ext(res.TablePath) != ".parquet" {
		t.Fatalf("table path = %s", res.TablePath)
	}
	rows, err := ReadTable(res.TablePath)
	if err != nil {
		t.Fatalf("ReadTable parquet: %v", err)
	}
	if len(rows) != 1 || rows[0].Filename != "subjG.csv" || rows[0].SBP != 110 {
		t.Fatalf("parquet rows = %+v", rows)
	}
	for i, v := range res.Rows[0].values() {
		if !sameFloat(v, rows[0].values()[i]) {
			t.Fatalf("parquet column %s: %v != %v", TableHeader[i+1], rows[0].values()[i], v)
		}
	}
}

func TestRunDuplicateGroundTruth(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "recordings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeECG(t, dir, "subjD.csv", 20, 1, true)
	writeECG(t, dir, "subjE.csv", 20, 0.5, false)
	writeText(t, filepath.Join(dir, "subjH.csv"), "Time,Green\n0,1\n0.004,2\n0.008,3\n")
	writeECG(t, dir, ".csv", 20, 1, false)

	gtPath := filepath.Join(root, "bp.csv")
	writeText(t, gtPath, strings.Join([]string{
		"Filename,SBP,DBP",
		"subjD_a,118,76",
		"subjD_b,118,76",
		"subjE_a,130,85",
		"subjE_b,130,85",
		"subjH_a,100,60",
		"subjH_b,100,60",
	}, "\n")+"\n")

	res, err := Run(context.Background(), Options{
		RecordingsDir:   dir,
		GroundTruthPath: gtPath,
		OutDir:          filepath.Join(root, "out"),
		Stages:          Stages{CleanECG: identity, Quality: amplitudeQuality},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := Tally{Errors: 1, Missing: 1, PPG: 1, PoorQuality: 1, Enumerated: 4}
	if res.Tally != want {
		t.Fatalf("tally = %+v, want %+v", res.Tally, want)
	}
	if len(res.Rows) != 0 {
		t.Fatalf("rows = %+v, want none", res.Rows)
	}
	for _, o := range res.Outcomes {
		switch o.File {
		case "subjD.csv":
			if o.State != StateError || !errors.Is(o.Err, ErrAmbiguousGroundTruth) || !strings.Contains(o.Reason, "value error") {
				t.Fatalf("subjD outcome = %+v", o)
			}
		case "subjE.csv":
			if o.State != StatePoorQuality {
				t.Fatalf("subjE outcome = %+v", o)
			}
		case "subjH.csv":
			if o.State != StatePPG {
				t.Fatalf("subjH outcome = %+v", o)
			}
		case ".csv":
			if o.State != StateMissing || !errors.Is(o.Err, ErrMissingGroundTruth) {
				t.Fatalf("blank stem outcome = %+v", o)
			}
		}
	}
}

func TestRunNonFiniteQuality(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "recordings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeECG(t, dir, "subjN.csv", 20, 1, false)
	gtPath := filepath.Join(root, "bp.csv")
	writeText(t, gtPath, "Filename,SBP,DBP\nsubjN,120,80\n")

	nan := func([]float64, float64) (float64, error) { return math.NaN(), nil }
	res, err := Run(context.Background(), Options{
		RecordingsDir:   dir,
		GroundTruthPath: gtPath,
		OutDir:          filepath.Join(root, "out"),
		Stages:          Stages{CleanECG: identity, Quality: nan},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if res == nil {
		t.Fatal("nil result")
	}
	if len(res.Outcomes) != 1 {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	o := res.Outcomes[0]
	if o.State != StatePoorQuality || o.SQI != nil {
		t.Fatalf("outcome = %+v", o)
	}
	data, err := os.ReadFile(res.ManifestPath)
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if !strings.Contains(string(data), `"poor_quality"`) {
		t.Fatalf("manifest missing outcome:\n%s", data)
	}
}

func TestRunBestRunGate(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "recordings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeECG(t, dir, "long.csv", 20, 1, false)
	writeECG(t, dir, "short.csv", 8, 1, false)

	gtPath := filepath.Join(root, "bp.csv")
	writeText(t, gtPath, "Filename,SBP,DBP\nlong,120,80\nshort,120,80\n")

	res, err := Run(context.Background(), Options{
		RecordingsDir:   dir,
		GroundTruthPath: gtPath,
		OutDir:          filepath.Join(root, "out"),
		BestRun:         true,
		Stages:          Stages{CleanECG: identity, Quality: amplitudeQuality},
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	for _, o := range res.Outcomes {
		switch o.File {
		case "long.csv":
			if o.State != StateECG || o.Beats != 19 {
				t.Fatalf("long outcome = %+v", o)
			}
		case "short.csv":
			if o.State != StatePoorQuality || !errors.Is(o.Err, vitalsig.ErrNoQualifyingRun) {
				t.Fatalf("short outcome = %+v", o)
			}
		}
	}
}

func TestRunSetupFaults(t *testing.T) {
	root := t.TempDir()
	gtPath := filepath.Join(root, "bp.csv")
	writeText(t, gtPath, "Filename,SBP,DBP\n")

	if _, err := Run(context.Background(), Options{
		RecordingsDir:   filepath.Join(root, "missing"),
		GroundTruthPath: gtPath,
		OutDir:          filepath.Join(root, "out"),
	}); err == nil {
		t.Fatal("expected error for missing recordings directory")
	}

	badGT := filepath.Join(root, "bad.csv")
	writeText(t, badGT, "Filename,SBP\nx,120\n")
	if _, err := Run(context.Background(), Options{
		RecordingsDir:   root,
		GroundTruthPath: badGT,
		OutDir:          filepath.Join(root, "out"),
	}); !errors.Is(err, ErrGroundTruthFormat) {
		t.Fatalf("bad ground truth err = %v", err)
	}

	recDir := filepath.Join(root, "recs")
	if err := os.MkdirAll(recDir, 0o755); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(root, "out")
	opts := Options{RecordingsDir: recDir, GroundTruthPath: gtPath, OutDir: outDir}
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := Run(context.Background(), opts); err == nil {
		t.Fatal("expected error when the table exists and overwrite is off")
	}
	opts.Overwrite = true
	if _, err := Run(context.Background(), opts); err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
}

func TestRunCancelled(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "recordings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeText(t, filepath.Join(dir, "a.csv"), "Time,ECG\n")
	gtPath := filepath.Join(root, "bp.csv")
	writeText(t, gtPath, "Filename,SBP,DBP\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, Options{RecordingsDir: dir, GroundTruthPath: gtPath, OutDir: filepath.Join(root, "out")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res == nil || !res.Interrupted || len(res.Outcomes) != 0 || res.Tally.Enumerated != 1 {
		t.Fatalf("result = %+v", res)
	}
	rows, err := ReadTable(res.TablePath)
	if err != nil || len(rows) != 0 {
		t.Fatalf("table after cancel: %v rows, err %v", len(rows), err)
	}
}

func TestGroundTruthMatch(t *testing.T) {
	gt, err := readGroundTruth(strings.NewReader("Notes,Filename,DBP,SBP\nx,p01_rest,80,120\ny,p02_rest,70,110\nz,p02_rest_b,70,110\nw,p03,60,100\nv,p03_b,65,100\n"))
	if err != nil {
		t.Fatalf("readGroundTruth: %v", err)
	}
	rec, err := gt.Match("p01")
	if err != nil || rec.SBP != 120 || rec.DBP != 80 {
		t.Fatalf("p01 = %+v, %v", rec, err)
	}
	if _, err := gt.Match("p02"); !errors.Is(err, ErrAmbiguousGroundTruth) || !strings.Contains(err.Error(), "value error") {
		t.Fatalf("identical duplicates err = %v", err)
	}
	if n := len(gt.Matches("p02")); n != 2 {
		t.Fatalf("p02 matches = %d, want 2", n)
	}
	if _, err := gt.Match("p03"); !errors.Is(err, ErrAmbiguousGroundTruth) {
		t.Fatalf("p03 err = %v", err)
	}
	if _, err := gt.Match("p04"); !errors.Is(err, ErrMissingGroundTruth) {
		t.Fatalf("p04 err = %v", err)
	}
	for _, stem := range []string{"", "  "} {
		if m := gt.Matches(stem); len(m) != 0 {
			t.Fatalf("blank stem %q matched %d rows", stem, len(m))
		}
		if _, err := gt.Match(stem); !errors.Is(err, ErrMissingGroundTruth) {
			t.Fatalf("blank stem %q err = %v", stem, err)
		}
	}

	if _, err := readGroundTruth(strings.NewReader("Filename,SBP,DBP\nx,high,80\n")); !errors.Is(err, ErrGroundTruthFormat) {
		t.Fatalf("non-numeric SBP err = %v", err)
	}
}

func TestTallyAdd(t *testing.T) {
	var tally Tally
	tally.Enumerated = 7
	for _, s := range []State{StateError, StateMissing, StateEmpty, StatePPG, StateECG, StatePoorQuality, StateUnrecognized} {
		tally = tally.Add(FileOutcome{State: s})
	}
	if tally.Classified() != 5 || tally.PoorQuality != 1 || tally.Unrecognized != 1 {
		t.Fatalf("tally = %+v", tally)
	}
	if !tally.Consistent() {
		t.Fatal("expected consistent tally")
	}
	tally = tally.Add(FileOutcome{State: StateECG})
	if tally.Consistent() {
		t.Fatal("more classifications than files must be inconsistent")
	}
}
