// Package config loads the settings used to open a store and run searches.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nasdf/glyco/storage"
	"github.com/nasdf/glyco/structure"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the top level configuration.
type Config struct {
	// Storage selects and tunes the storage engine.
	Storage StorageConfig `yaml:"storage"`
	// Matching holds the mass tolerances.
	Matching MatchingConfig `yaml:"matching"`
	// Fragmentation controls theoretical fragment generation.
	Fragmentation FragmentationConfig `yaml:"fragmentation"`
	// Workers bounds the number of records processed in parallel.
	Workers int `yaml:"workers" validate:"gte=1,lte=1024"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

type StorageConfig struct {
	// Path is the badger directory. Records are kept in memory when it is empty.
	Path string `yaml:"path" validate:"excluded_with=InMemory"`
	// InMemory keeps records in memory. It cannot be combined with Path.
	InMemory       bool          `yaml:"in_memory"`
	SyncWrites     bool          `yaml:"sync_writes"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gte=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gte=0,lt=1"`
}

type MatchingConfig struct {
	// MS1Tolerance is the precursor matching window in ppm.
	MS1Tolerance float64 `yaml:"ms1_tolerance" validate:"gt=0"`
	// MS2Tolerance is the fragment matching window in ppm.
	MS2Tolerance float64 `yaml:"ms2_tolerance" validate:"gt=0"`
	// GroupTolerance is the relative grid fragments are grouped on.
	GroupTolerance float64 `yaml:"group_tolerance" validate:"gt=0,lt=1"`
}

type FragmentationConfig struct {
	// Kinds lists the ion types, for example "bcyz".
	Kinds        string `yaml:"kinds" validate:"required"`
	MaxCleavages int    `yaml:"max_cleavages" validate:"gte=1,lte=4"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Matching: MatchingConfig{
			MS1Tolerance:   10,
			MS2Tolerance:   20,
			GroupTolerance: 2e-8,
		},
		Fragmentation: FragmentationConfig{
			Kinds:        "bcyz",
			MaxCleavages: 2,
		},
		Workers:  4,
		LogLevel: "info",
	}
}

// Load reads the YAML file at the given path on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse reads the given YAML on top of the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns an error if the configuration is invalid.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := structure.ParseIonKinds(c.Fragmentation.Kinds); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// FragmentOptions returns the fragmentation settings.
func (c Config) FragmentOptions() (structure.FragmentOptions, error) {
	kinds, err := structure.ParseIonKinds(c.Fragmentation.Kinds)
	if err != nil {
		return structure.FragmentOptions{}, err
	}
	return structure.FragmentOptions{
		Kinds:        kinds,
		MaxCleavages: c.Fragmentation.MaxCleavages,
	}, nil
}

// Memory returns true if records are not persisted to disk.
func (s StorageConfig) Memory() bool {
	return s.InMemory || s.Path == ""
}

// BadgerConfig returns the badger settings for the storage section.
func (c Config) BadgerConfig(logger *slog.Logger) storage.BadgerConfig {
	var cfg storage.BadgerConfig
	if c.Storage.Memory() {
		cfg = storage.InMemoryBadgerConfig()
	} else {
		cfg = storage.DefaultBadgerConfig(c.Storage.Path)
	}
	cfg.SyncWrites = c.Storage.SyncWrites
	cfg.GCInterval = c.Storage.GCInterval
	cfg.GCDiscardRatio = c.Storage.GCDiscardRatio
	cfg.Logger = logger
	return cfg
}
