// Package config loads mhctl run configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultArtifactsDir = "tracemh-artifacts"
	DefaultLogLevel     = "info"
	DefaultChains       = 4
	DefaultThreshold    = 0.05
)

var validate = validator.New()

// Config is a run configuration. Flags given on the command line override the
// values loaded from file.
type Config struct {
	Model        string  `yaml:"model"`
	Iterations   int     `yaml:"iterations" validate:"gte=0"`
	BurnIn       int     `yaml:"burn_in" validate:"gte=-1"`
	Seed         uint64  `yaml:"seed"`
	Diagnostics  bool    `yaml:"diagnostics"`
	Store        string  `yaml:"store" validate:"omitempty,oneof=memory sqlite"`
	DBPath       string  `yaml:"db_path"`
	ArtifactsDir string  `yaml:"artifacts_dir"`
	LogLevel     string  `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogJSON      bool    `yaml:"log_json"`
	Chains       int     `yaml:"chains" validate:"gte=0,lte=64"`
	Threshold    float64 `yaml:"threshold" validate:"gte=0,lte=1"`
}

// Default returns the configuration used when no file is given. BurnIn -1
// selects the model default.
func Default() Config {
	return Config{
		BurnIn:       -1,
		ArtifactsDir: DefaultArtifactsDir,
		LogLevel:     DefaultLogLevel,
		Chains:       DefaultChains,
		Threshold:    DefaultThreshold,
	}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			f := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q (value %v)", f.Field(), f.Tag(), f.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML, the format Load reads.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
