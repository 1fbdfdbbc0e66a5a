package main

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	vitalsig "github.com/lucasjlepore/vital-signal"
	"github.com/lucasjlepore/vital-signal/recording"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [out dir]",
	Short: "Write synthetic ECG/PPG recordings and a matching ground-truth table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		seconds, _ := cmd.Flags().GetFloat64("seconds")
		rate, _ := cmd.Flags().GetFloat64("rate")
		noise, _ := cmd.Flags().GetFloat64("noise")
		if count <= 0 || seconds <= 0 || rate <= 0 {
			return fmt.Errorf("count, seconds and rate must be positive")
		}

		recDir := filepath.Join(args[0], "recordings")
		if err := os.MkdirAll(recDir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}

		truth := [][]string{{"Filename", "SBP", "DBP"}}
		for i := 0; i < count; i++ {
			subject := simulatedSubject(i)
			name := fmt.Sprintf("subject%02d", i+1)
			path := filepath.Join(recDir, name+".csv")
			if err := writeSimulated(path, subject, seconds, rate, noise); err != nil {
				return err
			}
			truth = append(truth, []string{
				name + "_rest",
				strconv.FormatFloat(subject.sbp, 'g', -1, 64),
				strconv.FormatFloat(subject.dbp, 'g', -1, 64),
			})
			log.Debug().Str("file", path).Float64("hr", subject.hr).Float64("pat", subject.pat).Msg("wrote recording")
		}

		gtPath := filepath.Join(args[0], "blood_pressure.csv")
		if err := writeRows(gtPath, truth); err != nil {
			return err
		}

		fmt.Printf("Recordings:   %s (%d files)\n", recDir, count)
		fmt.Printf("Ground truth: %s\n", gtPath)
		return nil
	},
}

type subject struct {
	hr, pat  float64
	sbp, dbp float64
}

// simulatedSubject spreads heart rate, pulse arrival time and pressure so a
// shorter PAT goes with a higher pressure.
func simulatedSubject(i int) subject {
	step := float64(i % 8)
	return subject{
		hr:  58 + 6*step,
		pat: 0.26 - 0.015*step,
		sbp: 108 + 5*step,
		dbp: 68 + 3*step,
	}
}

func writeSimulated(path string, s subject, seconds, rate, noise float64) error {
	n := int(seconds * rate)
	times := make([]float64, n)
	for i := range times {
		times[i] = float64(i) / rate
	}
	ecg := vitalsig.NewECGSim(rate, s.hr, noise).Generate(n)
	ppg := vitalsig.NewPPGSim(rate, s.hr, s.pat, noise).Generate(n)
	return recording.WriteCSV(path, []string{"Time", "ECG", "Red"}, [][]float64{times, ecg, ppg})
}

func writeRows(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func init() {
	simulateCmd.Flags().Int("count", 5, "number of recordings")
	simulateCmd.Flags().Float64("seconds", 30, "recording length in seconds")
	simulateCmd.Flags().Float64("rate", 250, "sample rate in Hz")
	simulateCmd.Flags().Float64("noise", 0.01, "peak noise amplitude")
}
