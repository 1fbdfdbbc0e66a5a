package config

import (
	"context"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	vitalsig "github.com/lucasjlepore/vital-signal"
	"github.com/lucasjlepore/vital-signal/pipeline"
	"github.com/lucasjlepore/vital-signal/recording"
)

type contextKey string

const configKey contextKey = "config"

// Config holds all application configuration
type Config struct {
	Recording RecordingConfig `yaml:"recording"`
	Quality   QualityConfig   `yaml:"quality"`
	Features  FeaturesConfig  `yaml:"features"`
	Output    OutputConfig    `yaml:"output"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

type RecordingConfig struct {
	Time recording.TimeReference `yaml:"time"`
}

type QualityConfig struct {
	// Run gates the best-run search; ksqi_threshold is strict.
	Run vitalsig.RunPolicy `yaml:"run"`
	// MinSQI is the overall quality a file needs to be kept.
	MinSQI float64 `yaml:"min_sqi"`
}

type FeaturesConfig struct {
	PATChannel    string  `yaml:"pat_channel"`
	EntropyM      int     `yaml:"entropy_m"`
	EntropyR      float64 `yaml:"entropy_r"`
	EntropyWindow int     `yaml:"entropy_window"`
}

type OutputConfig struct {
	Dir       string `yaml:"dir"`
	Format    string `yaml:"format"`
	Name      string `yaml:"name"`
	Overwrite bool   `yaml:"overwrite"`
}

type PipelineConfig struct {
	BestRun bool `yaml:"best_run"`
}

// Load reads configuration from file or returns defaults
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// PipelineOptions maps the batch-related settings onto pipeline.Options.
// Directory and ground-truth paths are left for the caller.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		OutDir:           c.Output.Dir,
		OutputName:       c.Output.Name,
		Format:           c.Output.Format,
		Overwrite:        c.Output.Overwrite,
		QualityThreshold: c.Quality.MinSQI,
		PATChannel:       c.Features.PATChannel,
		BestRun:          c.Pipeline.BestRun,
		RunPolicy:        c.Quality.Run,
		EntropyWindow:    c.Features.EntropyWindow,
		EntropyM:         c.Features.EntropyM,
		EntropyR:         c.Features.EntropyR,
		TimeReference:    c.Recording.Time,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Recording: RecordingConfig{
			Time: recording.DefaultTimeReference(),
		},
		Quality: QualityConfig{
			Run:    vitalsig.DefaultRunPolicy(),
			MinSQI: pipeline.DefaultQualityThreshold,
		},
		Features: FeaturesConfig{
			PATChannel:    pipeline.DefaultPATChannel,
			EntropyM:      vitalsig.DefaultEntropyM,
			EntropyR:      vitalsig.DefaultEntropyR,
			EntropyWindow: pipeline.DefaultEntropyWindow,
		},
		Output: OutputConfig{
			Dir:    "./out",
			Format: "csv",
			Name:   pipeline.DefaultOutputName,
		},
		Pipeline: PipelineConfig{
			BestRun: false,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./vitalsig.yaml",
		"./vitalsig.yml",
		filepath.Join(os.Getenv("HOME"), ".vitalsig", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
