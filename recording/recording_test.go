package recording

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tormoder/fit"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "subject01.csv", "Time, ECG, Red,Note\n0,0.1,5,a\n0.004,0.2,,b\n0.008,0.3,7,c\n")

	rec, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if rec.Len() != 3 {
		t.Fatalf("rows = %d, want 3", rec.Len())
	}
	if rec.Name() != "subject01" {
		t.Fatalf("name = %q", rec.Name())
	}
	if !rec.Has("ECG") || !rec.Has("Red") || rec.Has("Green") {
		t.Fatalf("columns = %v", rec.Columns())
	}

	ecg, err := rec.Signal("ECG")
	if err != nil {
		t.Fatalf("Signal(ECG): %v", err)
	}
	if ecg[2] != 0.3 {
		t.Fatalf("ECG[2] = %v, want 0.3", ecg[2])
	}
	red, err := rec.Signal("Red")
	if err != nil {
		t.Fatalf("Signal(Red): %v", err)
	}
	if !math.IsNaN(red[1]) {
		t.Fatalf("blank cell = %v, want NaN", red[1])
	}

	if _, err := rec.Signal("Green"); !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("missing column err = %v", err)
	}
	if _, err := rec.Signal("Note"); !errors.Is(err, ErrNonNumericColumn) {
		t.Fatalf("text column err = %v", err)
	}

	ecg[0] = 99
	again, _ := rec.Signal("ECG")
	if again[0] == 99 {
		t.Fatal("Signal returned shared storage")
	}
}

func TestLoadCSVEmptyAndMalformed(t *testing.T) {
	dir := t.TempDir()

	for name, content := range map[string]string{
		"zero.csv":   "",
		"header.csv": "Time,ECG\n",
	} {
		rec, err := LoadCSV(writeFile(t, dir, name, content))
		if err != nil {
			t.Fatalf("%s: LoadCSV: %v", name, err)
		}
		if !rec.Empty() {
			t.Fatalf("%s: rows = %d, want empty", name, rec.Len())
		}
	}

	cases := map[string]string{
		"ragged.csv":    "Time,ECG\n0,1\n0.1,2,3\n",
		"duplicate.csv": "ECG,ECG\n1,2\n",
		"unnamed.csv":   "Time,\n0,1\n",
	}
	for name, content := range cases {
		_, err := LoadCSV(writeFile(t, dir, name, content))
		if !errors.Is(err, ErrFileFormat) {
			t.Fatalf("%s: err = %v, want ErrFileFormat", name, err)
		}
	}
}

func TestSampleRate(t *testing.T) {
	dir := t.TempDir()

	rec, err := LoadCSV(writeFile(t, dir, "s.csv", "Time,ECG\n0,1\n0.004,1\n0.008,1\n0.012,1\n"))
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	rate, err := SampleRate(rec, DefaultTimeReference())
	if err != nil {
		t.Fatalf("SampleRate: %v", err)
	}
	if math.Abs(rate-250) > 1e-6 {
		t.Fatalf("rate = %v, want 250", rate)
	}

	ms, err := LoadCSV(writeFile(t, dir, "ms.csv", "timestamp,ECG\n1000,1\n1010,1\n1020,1\n"))
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	rate, err = SampleRate(ms, TimeReference{Columns: []string{"timestamp"}, Unit: "ms"})
	if err != nil {
		t.Fatalf("SampleRate ms: %v", err)
	}
	if math.Abs(rate-100) > 1e-6 {
		t.Fatalf("rate = %v, want 100", rate)
	}

	noTime, err := LoadCSV(writeFile(t, dir, "nt.csv", "ECG\n1\n2\n"))
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if _, err := SampleRate(noTime, DefaultTimeReference()); !errors.Is(err, ErrMissingTimeReference) {
		t.Fatalf("no time column err = %v", err)
	}

	flat, err := LoadCSV(writeFile(t, dir, "flat.csv", "Time,ECG\n5,1\n5,2\n"))
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	if _, err := SampleRate(flat, DefaultTimeReference()); !errors.Is(err, ErrInvalidTimeReference) {
		t.Fatalf("flat time err = %v", err)
	}
}

func TestTrim(t *testing.T) {
	dir := t.TempDir()
	rec, err := LoadCSV(writeFile(t, dir, "t.csv", "Time,ECG\n0,1\n1,2\n2,3\n3,4\n"))
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	trimmed, err := rec.Trim(2)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if trimmed.Len() != 2 || rec.Len() != 4 {
		t.Fatalf("trimmed %d rows, original %d", trimmed.Len(), rec.Len())
	}
	ecg, _ := trimmed.Signal("ECG")
	if ecg[0] != 3 {
		t.Fatalf("first ECG after trim = %v, want 3", ecg[0])
	}

	all, err := rec.Trim(10)
	if err != nil || !all.Empty() {
		t.Fatalf("trim past end: %v rows, err %v", all.Len(), err)
	}
	if _, err := rec.Trim(0); err == nil {
		t.Fatal("expected error for zero trim")
	}
}

func TestWriteSignalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "sig.csv")
	samples := []float64{0.1, -0.25, 1.0 / 3.0, 4}
	if err := WriteSignal(path, "ECG", samples, 125); err != nil {
		t.Fatalf("WriteSignal: %v", err)
	}
	rec, err := LoadCSV(path)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	got, err := rec.Signal("ECG")
	if err != nil {
		t.Fatalf("Signal: %v", err)
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Fatalf("sample %d = %v, want %v", i, got[i], samples[i])
		}
	}
	rate, err := SampleRate(rec, DefaultTimeReference())
	if err != nil {
		t.Fatalf("SampleRate: %v", err)
	}
	if math.Abs(rate-125) > 1e-9 {
		t.Fatalf("rate = %v, want 125", rate)
	}
}

func TestLoadFIT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ride.fit")
	if err := os.WriteFile(path, buildTestFIT(t), 0o644); err != nil {
		t.Fatalf("write fit: %v", err)
	}

	rec, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Len() != 3 {
		t.Fatalf("rows = %d, want 3", rec.Len())
	}
	hr, err := rec.Signal("HR")
	if err != nil {
		t.Fatalf("Signal(HR): %v", err)
	}
	if hr[0] != 120 || hr[2] != 130 || !math.IsNaN(hr[1]) {
		t.Fatalf("hr = %v", hr)
	}
	rate, err := SampleRate(rec, DefaultTimeReference())
	if err != nil {
		t.Fatalf("SampleRate: %v", err)
	}
	if math.Abs(rate-1) > 1e-9 {
		t.Fatalf("rate = %v, want 1", rate)
	}

	bad := writeFile(t, t.TempDir(), "bad.fit", "not a fit file")
	if _, err := LoadFIT(bad); !errors.Is(err, ErrFileFormat) {
		t.Fatalf("bad fit err = %v", err)
	}
}

func buildTestFIT(t *testing.T) []byte {
	t.Helper()

	header := fit.NewHeader(fit.V20, true)
	file, err := fit.NewFile(fit.FileTypeActivity, header)
	if err != nil {
		t.Fatalf("new fit file: %v", err)
	}
	activity, err := file.Activity()
	if err != nil {
		t.Fatalf("activity accessor: %v", err)
	}

	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, bpm := range []uint8{120, math.MaxUint8, 130} {
		record := fit.NewRecordMsg()
		record.Timestamp = start.Add(time.Duration(i) * time.Second)
		record.HeartRate = bpm
		activity.Records = append(activity.Records, record)
	}

	var buf bytes.Buffer
	if err := fit.Encode(&buf, file, binary.LittleEndian); err != nil {
		t.Fatalf("encode fit: %v", err)
	}
	return buf.Bytes()
}
