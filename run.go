package vitalsig

import (
	"fmt"
)

// DefaultRunWindow is the number of consecutive clean beats a run must hold.
const DefaultRunWindow = 10

// RunPolicy controls which beats count as acceptable when selecting a run.
type RunPolicy struct {
	// Threshold is the kSQI a beat must strictly exceed.
	Threshold float64 `json:"threshold" yaml:"ksqi_threshold"`
	// Window is the run length; it is also the number of beats assembled.
	Window int `json:"window" yaml:"window"`
	// PSQIThreshold, when positive, additionally requires pSQI to strictly
	// exceed it. Zero leaves pSQI out of gating.
	PSQIThreshold float64 `json:"psqi_threshold,omitempty" yaml:"psqi_threshold"`
}

// DefaultRunPolicy gates on kSQI only.
func DefaultRunPolicy() RunPolicy {
	return RunPolicy{Threshold: DefaultKSQIThreshold, Window: DefaultRunWindow}
}

func (p RunPolicy) normalized() RunPolicy {
	if p.Window <= 0 {
		p.Window = DefaultRunWindow
	}
	return p
}

func (p RunPolicy) accepts(b ScoredBeat) bool {
	if !(b.KSQI > p.Threshold) {
		return false
	}
	if p.PSQIThreshold > 0 && !(b.PSQI > p.PSQIThreshold) {
		return false
	}
	return true
}

// SelectRun returns the smallest 1-based trigger index i such that beat i and
// the following Window-1 beats are all acceptable. The lookahead never reads
// past the last beat: when no trigger qualifies, including when the set holds
// fewer than Window beats, ErrNoQualifyingRun is returned.
func SelectRun(set *BeatSet, policy RunPolicy) (int, error) {
	policy = policy.normalized()
	n := set.Len()
	if n < policy.Window {
		return 0, fmt.Errorf("%w: %d beats, need %d", ErrNoQualifyingRun, n, policy.Window)
	}

	for i := 1; i+policy.Window-1 <= n; i++ {
		trigger, err := set.At(i)
		if err != nil {
			return 0, err
		}
		if !policy.accepts(trigger) {
			continue
		}
		ok := true
		for j := i + 1; j <= i+policy.Window-1; j++ {
			b, err := set.At(j)
			if err != nil {
				return 0, err
			}
			if !policy.accepts(b) {
				ok = false
				break
			}
		}
		if ok {
			return i, nil
		}
	}
	return 0, ErrNoQualifyingRun
}

// Assemble concatenates beats trigger+1 through trigger+count into one signal.
// The trigger beat itself is not included. Beats may differ in length; the
// output length is the sum of their sample counts.
func Assemble(set *BeatSet, trigger, count int) (Signal, error) {
	if count <= 0 {
		return Signal{}, fmt.Errorf("%w: count %d", ErrInsufficientBeats, count)
	}
	if trigger < 0 || trigger+count > set.Len() {
		return Signal{}, fmt.Errorf("%w: beats %d..%d requested, have %d: %w",
			ErrInsufficientBeats, trigger+1, trigger+count, set.Len(), ErrBeatOutOfRange)
	}

	total := 0
	for i := trigger + 1; i <= trigger+count; i++ {
		b, err := set.At(i)
		if err != nil {
			return Signal{}, err
		}
		total += len(b.Samples)
	}

	out := make([]float64, 0, total)
	for i := trigger + 1; i <= trigger+count; i++ {
		b, _ := set.At(i)
		out = append(out, b.Samples...)
	}
	return Signal{Samples: out, Rate: set.Rate}, nil
}

// SegmentAndSelectBestRun segments sig, finds the first qualifying run and
// returns the beats following its trigger as one clean signal, along with the
// number of beats detected.
func SegmentAndSelectBestRun(sig Signal, policy RunPolicy) (Signal, int, error) {
	policy = policy.normalized()
	set, err := Segment(sig)
	if err != nil {
		return Signal{}, 0, fmt.Errorf("segment: %w", err)
	}
	trigger, err := SelectRun(set, policy)
	if err != nil {
		return Signal{}, set.Len(), err
	}
	assembled, err := Assemble(set, trigger, policy.Window)
	if err != nil {
		return Signal{}, set.Len(), fmt.Errorf("%w: %w", ErrNoQualifyingRun, err)
	}
	return assembled, set.Len(), nil
}
