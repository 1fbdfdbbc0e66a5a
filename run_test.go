package vitalsig

import (
	"errors"
	"testing"
)

func beatSet(ksqi []float64, lengths ...int) *BeatSet {
	beats := make([]ScoredBeat, len(ksqi))
	for i, k := range ksqi {
		n := 100
		if i < len(lengths) {
			n = lengths[i]
		}
		samples := make([]float64, n)
		for j := range samples {
			samples[j] = float64(i + 1)
		}
		beats[i] = ScoredBeat{Beat: Beat{Samples: samples}, KSQI: k}
	}
	return NewBeatSet(250, beats)
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestSelectRunFewerThanWindowBeats(t *testing.T) {
	for n := 0; n < DefaultRunWindow; n++ {
		_, err := SelectRun(beatSet(repeat(20, n)), DefaultRunPolicy())
		if !errors.Is(err, ErrNoQualifyingRun) {
			t.Fatalf("%d beats: err = %v, want ErrNoQualifyingRun", n, err)
		}
	}
}

func TestSelectRunFindsFirstTrigger(t *testing.T) {
	cases := []struct {
		name string
		ksqi []float64
		want int
	}{
		{
			name: "beats 3 to 12 clean",
			ksqi: []float64{1, 2, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7},
			want: 3,
		},
		{
			name: "first window clean",
			ksqi: repeat(9, 10),
			want: 1,
		},
		{
			name: "dirty beat restarts window",
			ksqi: []float64{8, 8, 8, 8, 3, 8, 8, 8, 8, 8, 8, 8, 8, 8, 8},
			want: 6,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SelectRun(beatSet(tc.ksqi), DefaultRunPolicy())
			if err != nil {
				t.Fatalf("SelectRun: %v", err)
			}
			if got != tc.want {
				t.Fatalf("trigger = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestSelectRunThresholdIsStrict(t *testing.T) {
	_, err := SelectRun(beatSet(repeat(DefaultKSQIThreshold, 12)), DefaultRunPolicy())
	if !errors.Is(err, ErrNoQualifyingRun) {
		t.Fatalf("err = %v, want ErrNoQualifyingRun", err)
	}
}

func TestSelectRunLastBeatDirty(t *testing.T) {
	ksqi := repeat(9, 10)
	ksqi[9] = 1
	_, err := SelectRun(beatSet(ksqi), DefaultRunPolicy())
	if !errors.Is(err, ErrNoQualifyingRun) {
		t.Fatalf("err = %v, want ErrNoQualifyingRun", err)
	}
}

func TestSelectRunPSQIGate(t *testing.T) {
	set := beatSet(repeat(9, 11))
	beats := set.Beats()
	for i := range beats {
		beats[i].PSQI = 0.8
	}
	beats[0].PSQI = 0.1

	policy := DefaultRunPolicy()
	if got, err := SelectRun(set, policy); err != nil || got != 1 {
		t.Fatalf("kSQI-only policy: trigger %d err %v, want 1", got, err)
	}
	policy.PSQIThreshold = 0.5
	if got, err := SelectRun(set, policy); err != nil || got != 2 {
		t.Fatalf("pSQI policy: trigger %d err %v, want 2", got, err)
	}
}

func TestAssembleSumsBeatLengths(t *testing.T) {
	set := beatSet(repeat(9, 4), 50, 100, 100, 100)
	sig, err := Assemble(set, 1, 3)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if sig.Len() != 300 {
		t.Fatalf("len = %d, want 300", sig.Len())
	}
	if sig.Samples[0] != 2 || sig.Samples[299] != 4 {
		t.Fatalf("assembled from wrong beats: first %v last %v", sig.Samples[0], sig.Samples[299])
	}
	if sig.Rate != 250 {
		t.Fatalf("rate = %v, want 250", sig.Rate)
	}

	mixed := beatSet(repeat(9, 4), 10, 80, 100, 120)
	sig, err = Assemble(mixed, 1, 3)
	if err != nil {
		t.Fatalf("Assemble mixed: %v", err)
	}
	if sig.Len() != 300 {
		t.Fatalf("mixed len = %d, want 300", sig.Len())
	}
}

func TestAssembleOutOfRange(t *testing.T) {
	set := beatSet(repeat(9, 4))
	_, err := Assemble(set, 2, 3)
	if !errors.Is(err, ErrInsufficientBeats) || !errors.Is(err, ErrBeatOutOfRange) {
		t.Fatalf("err = %v, want ErrInsufficientBeats wrapping ErrBeatOutOfRange", err)
	}
	if _, err := Assemble(set, 0, 0); !errors.Is(err, ErrInsufficientBeats) {
		t.Fatalf("zero count err = %v", err)
	}
}

func TestSegmentAndSelectBestRun(t *testing.T) {
	sig := Signal{Samples: NewECGSim(250, 60, 0).Generate(250 * 20), Rate: 250}
	out, beats, err := SegmentAndSelectBestRun(sig, DefaultRunPolicy())
	if err != nil {
		t.Fatalf("SegmentAndSelectBestRun: %v", err)
	}
	if beats != 19 {
		t.Fatalf("beats = %d, want 19", beats)
	}
	set, err := Segment(sig)
	if err != nil {
		t.Fatalf("Segment: %v", err)
	}
	first, err := set.At(1)
	if err != nil {
		t.Fatalf("At(1): %v", err)
	}
	if want := DefaultRunWindow * len(first.Samples); out.Len() != want {
		t.Fatalf("assembled len = %d, want %d", out.Len(), want)
	}

	short := Signal{Samples: NewECGSim(250, 60, 0).Generate(250 * 8), Rate: 250}
	if _, _, err := SegmentAndSelectBestRun(short, DefaultRunPolicy()); !errors.Is(err, ErrNoQualifyingRun) {
		t.Fatalf("short signal err = %v, want ErrNoQualifyingRun", err)
	}
}
