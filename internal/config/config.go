// Package config loads the YAML-configured runtime parameters for the
// recognition stack: server binding, logging, and the cache/recognition/sync
// tunables from SPEC_FULL.md §6, following the donor's two-pass
// default-then-validate LoadConfig structure.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Cache       CacheConfig       `yaml:"cache"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Sync        SyncConfig        `yaml:"sync"`
}

// ServerConfig contains HTTP/WS server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig carries the target cache's tunables.
type CacheConfig struct {
	SegmentGap        string `yaml:"segment_gap"`
	TargetTTL         string `yaml:"target_ttl"`
	DeltaTTL          string `yaml:"delta_ttl"`
	DeltaMaxPerTarget int    `yaml:"delta_max_per_target"`
	SocketTimeout     string `yaml:"socket_timeout"`
}

// HostilePair is a configurable pair of mutually hostile nations/alliances.
type HostilePair [2]string

// RecognitionConfig carries the rule engine's and recognition engine's
// tunables, plus the stream service's triggering thresholds.
type RecognitionConfig struct {
	RecognizeInterval    string        `yaml:"recognize_interval"`
	MinInterval          string        `yaml:"min_interval"`
	MinChangeThreshold   float64       `yaml:"min_change_threshold"`
	SamplingStep         string        `yaml:"sampling_step"`
	PersistenceThreshold float64       `yaml:"persistence_threshold"`
	MinFormationDuration string        `yaml:"min_formation_duration"`
	MinTrackPoints       int           `yaml:"min_track_points"`
	DefaultPreset        string        `yaml:"default_preset"`
	FormationTTL         string        `yaml:"formation_ttl"`
	HostilePairs         []HostilePair `yaml:"hostile_pairs"`
}

// SyncConfig carries the delta-sync session TTL.
type SyncConfig struct {
	SessionTTL string `yaml:"session_ttl"`
}

// LoadConfig loads configuration from a YAML file, applies defaults, and
// validates the result.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a Config populated entirely from defaults, for callers
// that run without a config file (tests, cmd/formationd with no -config flag).
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Cache.SegmentGap == "" {
		cfg.Cache.SegmentGap = "120s"
	}
	if cfg.Cache.TargetTTL == "" {
		cfg.Cache.TargetTTL = "86400s"
	}
	if cfg.Cache.DeltaTTL == "" {
		cfg.Cache.DeltaTTL = "604800s"
	}
	if cfg.Cache.DeltaMaxPerTarget == 0 {
		cfg.Cache.DeltaMaxPerTarget = 10000
	}
	if cfg.Cache.SocketTimeout == "" {
		cfg.Cache.SocketTimeout = "5s"
	}

	if cfg.Recognition.RecognizeInterval == "" {
		cfg.Recognition.RecognizeInterval = "5s"
	}
	if cfg.Recognition.MinInterval == "" {
		cfg.Recognition.MinInterval = "5s"
	}
	if cfg.Recognition.MinChangeThreshold == 0 {
		cfg.Recognition.MinChangeThreshold = 0.1
	}
	if cfg.Recognition.SamplingStep == "" {
		cfg.Recognition.SamplingStep = "10s"
	}
	if cfg.Recognition.PersistenceThreshold == 0 {
		cfg.Recognition.PersistenceThreshold = 0.6
	}
	if cfg.Recognition.MinFormationDuration == "" {
		cfg.Recognition.MinFormationDuration = "30s"
	}
	if cfg.Recognition.MinTrackPoints == 0 {
		cfg.Recognition.MinTrackPoints = 3
	}
	if cfg.Recognition.DefaultPreset == "" {
		cfg.Recognition.DefaultPreset = "tight_fighter"
	}
	if cfg.Recognition.FormationTTL == "" {
		cfg.Recognition.FormationTTL = "604800s"
	}
	if len(cfg.Recognition.HostilePairs) == 0 {
		cfg.Recognition.HostilePairs = []HostilePair{{"RED", "BLUE"}}
	}

	if cfg.Sync.SessionTTL == "" {
		cfg.Sync.SessionTTL = "3600s"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	durations := map[string]string{
		"cache.segment_gap":               cfg.Cache.SegmentGap,
		"cache.target_ttl":                cfg.Cache.TargetTTL,
		"cache.delta_ttl":                 cfg.Cache.DeltaTTL,
		"cache.socket_timeout":            cfg.Cache.SocketTimeout,
		"recognition.recognize_interval":  cfg.Recognition.RecognizeInterval,
		"recognition.min_interval":        cfg.Recognition.MinInterval,
		"recognition.sampling_step":       cfg.Recognition.SamplingStep,
		"recognition.min_formation_duration": cfg.Recognition.MinFormationDuration,
		"recognition.formation_ttl":       cfg.Recognition.FormationTTL,
		"sync.session_ttl":                cfg.Sync.SessionTTL,
	}
	for field, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if cfg.Cache.DeltaMaxPerTarget < 0 {
		return fmt.Errorf("cache.delta_max_per_target must be >= 0")
	}
	if cfg.Recognition.MinTrackPoints < 1 {
		return fmt.Errorf("recognition.min_track_points must be >= 1")
	}
	if cfg.Recognition.PersistenceThreshold < 0 || cfg.Recognition.PersistenceThreshold > 1 {
		return fmt.Errorf("recognition.persistence_threshold must be in [0,1]")
	}
	return nil
}

// Dur parses a config duration string, panicking only if validateConfig was
// skipped (e.g. a hand-built Config in a test); production configs always
// pass through LoadConfig/Default first.
func Dur(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: invalid duration %q: %v", s, err))
	}
	return d
}
