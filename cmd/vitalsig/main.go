package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	vitalsig "github.com/lucasjlepore/vital-signal"
	"github.com/lucasjlepore/vital-signal/config"
	"github.com/lucasjlepore/vital-signal/logging"
	"github.com/lucasjlepore/vital-signal/pipeline"
	"github.com/lucasjlepore/vital-signal/preprocess"
	"github.com/lucasjlepore/vital-signal/recording"
	"github.com/lucasjlepore/vital-signal/shell"
)

var (
	cfgFile string
	verbose bool

	// env carries flag and VITALSIG_* overrides on top of the config file.
	env = viper.New()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "vitalsig",
	Short:        "vitalsig - ECG/PPG cleaning, beat quality and feature extraction",
	Long:         "Loads ECG/PPG recordings, cleans and segments them into scored heartbeats, and extracts features joined with measured blood pressure.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Init(verbose)

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyOverrides(cfg)

		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	env.SetEnvPrefix("VITALSIG")
	env.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	env.AutomaticEnv()

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./vitalsig.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(segmentCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(configCmd)
}

// applyOverrides copies every key set by a flag or environment variable
// into cfg.
func applyOverrides(cfg *config.Config) {
	if env.IsSet("output.dir") {
		cfg.Output.Dir = env.GetString("output.dir")
	}
	if env.IsSet("output.format") {
		cfg.Output.Format = env.GetString("output.format")
	}
	if env.IsSet("output.name") {
		cfg.Output.Name = env.GetString("output.name")
	}
	if env.IsSet("output.overwrite") {
		cfg.Output.Overwrite = env.GetBool("output.overwrite")
	}
	if env.IsSet("quality.min_sqi") {
		cfg.Quality.MinSQI = env.GetFloat64("quality.min_sqi")
	}
	if env.IsSet("features.pat_channel") {
		cfg.Features.PATChannel = env.GetString("features.pat_channel")
	}
	if env.IsSet("pipeline.best_run") {
		cfg.Pipeline.BestRun = env.GetBool("pipeline.best_run")
	}
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := env.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive session for loading, cleaning and scoring one recording",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		yes, _ := cmd.Flags().GetBool("yes")

		s := shell.New(os.Stdin, os.Stdout, shell.Options{
			AutoConfirm:   yes,
			TimeReference: cfg.Recording.Time,
			Batch:         cfg.PipelineOptions(),
			PATChannel:    cfg.Features.PATChannel,
		})
		err := s.Run(cmd.Context())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var extractCmd = &cobra.Command{
	Use:   "extract [recordings dir] [ground truth csv]",
	Short: "Extract a feature table from a directory of recordings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		opts := cfg.PipelineOptions()
		opts.RecordingsDir = args[0]
		opts.GroundTruthPath = args[1]

		res, err := pipeline.Run(cmd.Context(), opts)
		if res != nil {
			fmt.Print(pipeline.BuildReport(res))
			fmt.Printf("Manifest: %s\n", res.ManifestPath)
		}
		if err != nil {
			log.Error().Err(err).Msg("extraction failed")
			return err
		}
		return nil
	},
}

var segmentCmd = &cobra.Command{
	Use:   "segment [recording]",
	Short: "Segment one recording into scored beats and assemble the best run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())
		column, _ := cmd.Flags().GetString("column")
		clean, _ := cmd.Flags().GetBool("clean")
		out, _ := cmd.Flags().GetString("write")

		rec, err := recording.Load(args[0])
		if err != nil {
			return err
		}
		rate, err := recording.SampleRate(rec, cfg.Recording.Time)
		if err != nil {
			return err
		}
		samples, err := rec.Signal(column)
		if err != nil {
			return err
		}
		if clean {
			if samples, err = preprocess.CleanECG(samples, rate); err != nil {
				return err
			}
		}

		sig := vitalsig.Signal{Samples: samples, Rate: rate}
		set, err := vitalsig.Segment(sig)
		if err != nil {
			return err
		}
		fmt.Printf("Beats: %d at %.6g Hz\n", set.Len(), rate)
		for _, b := range set.Beats() {
			fmt.Printf("  %3d  start=%-7d kSQI=%8.3f pSQI=%6.3f\n", b.Index, b.Start, b.KSQI, b.PSQI)
		}

		policy := runPolicy(cfg)
		trigger, err := vitalsig.SelectRun(set, policy)
		if err != nil {
			return err
		}
		run, err := vitalsig.Assemble(set, trigger, policy.Window)
		if err != nil {
			return err
		}
		fmt.Printf("Run:   beats %d-%d (%d samples)\n", trigger+1, trigger+policy.Window, run.Len())

		if out != "" {
			if err := recording.WriteSignal(out, column, run.Samples, run.Rate); err != nil {
				return err
			}
			fmt.Printf("Wrote: %s\n", out)
		}
		return nil
	},
}

// runPolicy returns the configured best-run policy, or the default one when
// the config leaves the window unset.
func runPolicy(cfg *config.Config) vitalsig.RunPolicy {
	if cfg.Quality.Run.Window > 0 {
		return cfg.Quality.Run
	}
	return vitalsig.DefaultRunPolicy()
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Config management commands",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := yaml.Marshal(config.FromContext(cmd.Context()))
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the default configuration to a file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "vitalsig.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Default().Save(path); err != nil {
			return err
		}
		log.Info().Str("path", path).Msg("wrote default config")
		return nil
	},
}

func init() {
	shellCmd.Flags().BoolP("yes", "y", false, "keep every transform without asking")

	extractCmd.Flags().String("out", "", "output directory")
	extractCmd.Flags().String("format", "", "output table format (csv|parquet)")
	extractCmd.Flags().String("name", "", "output table name without extension")
	extractCmd.Flags().Bool("overwrite", false, "replace an existing output table")
	extractCmd.Flags().Float64("min-sqi", 0, "minimum overall signal quality")
	extractCmd.Flags().String("pat-channel", "", "PPG column used for pulse arrival time")
	extractCmd.Flags().Bool("best-run", false, "compute morphology features on the best 10-beat run")
	bindFlag(extractCmd, "output.dir", "out")
	bindFlag(extractCmd, "output.format", "format")
	bindFlag(extractCmd, "output.name", "name")
	bindFlag(extractCmd, "output.overwrite", "overwrite")
	bindFlag(extractCmd, "quality.min_sqi", "min-sqi")
	bindFlag(extractCmd, "features.pat_channel", "pat-channel")
	bindFlag(extractCmd, "pipeline.best_run", "best-run")

	segmentCmd.Flags().String("column", pipeline.ECGColumn, "column to segment")
	segmentCmd.Flags().Bool("clean", true, "apply ECG cleaning before segmenting")
	segmentCmd.Flags().String("write", "", "write the assembled run to this csv")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
