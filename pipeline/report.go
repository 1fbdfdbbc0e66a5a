package pipeline

import (
	"fmt"
	"strings"
)

// BuildReport renders the batch summary: the five tallies, the counts kept
// outside them, and one line per recording that did not produce a row.
func BuildReport(res *Result) string {
	if res == nil {
		return ""
	}

	var b strings.Builder
	t := res.Tally

	fmt.Fprintf(&b, "number of errors: %d\n", t.Errors)
	fmt.Fprintf(&b, "number of signals w/o blood pressure: %d\n", t.Missing)
	fmt.Fprintf(&b, "number of empty files: %d\n", t.Empty)
	fmt.Fprintf(&b, "number of ppg files: %d\n", t.PPG)
	fmt.Fprintf(&b, "number of ecg files: %d\n", t.ECG)

	if t.PoorQuality > 0 || t.Unrecognized > 0 {
		fmt.Fprintf(&b, "\nNot tallied: %d poor quality, %d unrecognized\n", t.PoorQuality, t.Unrecognized)
	}
	if res.Interrupted {
		fmt.Fprintf(&b, "Interrupted after %d of %d files\n", len(res.Outcomes), t.Enumerated)
	}
	if res.TablePath != "" {
		fmt.Fprintf(&b, "\nFeature table: %s (%d rows)\n", res.TablePath, len(res.Rows))
	}

	var skipped []FileOutcome
	var warned []FileOutcome
	for _, o := range res.Outcomes {
		if o.State != StateECG {
			skipped = append(skipped, o)
		} else if len(o.Warnings) > 0 {
			warned = append(warned, o)
		}
	}
	if len(skipped) > 0 {
		b.WriteString("\nSkipped Recordings\n")
		for _, o := range skipped {
			if o.Reason == "" {
				fmt.Fprintf(&b, "- %s: %s\n", o.File, o.State)
				continue
			}
			fmt.Fprintf(&b, "- %s: %s (%s)\n", o.File, o.State, o.Reason)
		}
	}
	if len(warned) > 0 {
		b.WriteString("\nFeature Warnings\n")
		for _, o := range warned {
			fmt.Fprintf(&b, "- %s: %s\n", o.File, strings.Join(o.Warnings, "; "))
		}
	}

	return strings.TrimSpace(b.String()) + "\n"
}
