// Package config handles Muninn configuration via environment variables and
// an optional YAML file.
//
// Two kinds of settings live here. Config covers the process: where the
// brain file lives, how the HTTP server binds, where snapshots are archived.
// Rules covers the engine itself: the tunable scalars that are persisted
// inside every brain file so that a saved brain behaves the same wherever it
// is loaded.
//
// Configuration is loaded with LoadFromEnv(), optionally overlaid from a
// YAML file with LoadFile(), and checked with Validate() before use.
//
// Environment Variables:
//   - MUNINN_BRAIN="./muninn.brain"
//   - MUNINN_FIRE_THRESHOLD=0.3
//   - MUNINN_WAVE_STEPS=3
//   - MUNINN_MAX_OUTPUT=32
//   - MUNINN_FIRE_POLICY="once-per-episode" or "once-per-position"
//   - MUNINN_HTTP_ADDRESS="0.0.0.0"
//   - MUNINN_HTTP_PORT=7600
//   - MUNINN_AUTH_PASSWORD="secret" (empty disables auth)
//   - MUNINN_ARCHIVE_DIR="./archive"
//   - MUNINN_ARCHIVE_KEEP=10
//   - MUNINN_VERBOSE=false
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Fire policies. OncePerEpisode is the historical behavior: a pattern that
// has fired anywhere in the episode stays quiet until the next episode.
// OncePerPosition lets a pattern fire again at a different output position.
const (
	FireOncePerEpisode  = "once-per-episode"
	FireOncePerPosition = "once-per-position"
)

// EndMarkerDefault is the symbol patterns learn as the end-of-sequence
// continuation. It is a control rune so it can never collide with text the
// engine is trained on.
const EndMarkerDefault = '\x03'

// Rules are the engine knobs persisted in brain files as "rule" records.
type Rules struct {
	// PatternFireThreshold is the minimum strength a pattern needs to fire.
	PatternFireThreshold float64 `yaml:"pattern_fire_threshold"`
	// WavePropSteps is the number of propagation rounds per emitted symbol.
	WavePropSteps int `yaml:"wave_prop_steps"`
	// MaxOutputLen caps generated output length per episode.
	MaxOutputLen int `yaml:"max_output_len"`
	// EnergyRetain is the fraction of a node's energy kept each round.
	EnergyRetain float64 `yaml:"energy_retain"`
	// SpreadFactor scales energy flowing across an edge each round.
	SpreadFactor float64 `yaml:"spread_factor"`
	// BoostFactor scales the energy a firing pattern injects into its
	// predicted node.
	BoostFactor float64 `yaml:"boost_factor"`
	// PatternWeight scales the selection bonus a fired prediction gets,
	// multiplied by pattern strength and the controller's confidence.
	PatternWeight float64 `yaml:"pattern_weight"`
	// RecencyWeight scales the penalty on recently emitted symbols.
	RecencyWeight float64 `yaml:"recency_weight"`
	// HistoryWindow is how far back the recency penalty looks.
	HistoryWindow int `yaml:"history_window"`
	// RefractoryFactor attenuates a node's energy right after it is emitted.
	RefractoryFactor float64 `yaml:"refractory_factor"`
	// SeedEnergy is the energy injected into the first input symbol; later
	// input symbols receive proportionally less so ordering survives.
	SeedEnergy float64 `yaml:"seed_energy"`
	// EdgeDelta is the base reinforcement applied to sequential edges.
	EdgeDelta float64 `yaml:"edge_delta"`
	// BaseLearningRate scales learning pressure into the effective rate.
	BaseLearningRate float64 `yaml:"base_learning_rate"`
	// PruneFloor is the strength below which patterns are discarded.
	PruneFloor float64 `yaml:"prune_floor"`
	// FirePolicy is one of the Fire* constants.
	FirePolicy string `yaml:"fire_policy"`
	// EndMarker is the end-of-sequence symbol, stored as a code point.
	EndMarker rune `yaml:"end_marker"`
}

// DefaultRules returns the rule set a fresh brain starts with.
func DefaultRules() Rules {
	return Rules{
		PatternFireThreshold: 0.3,
		WavePropSteps:        3,
		MaxOutputLen:         32,
		EnergyRetain:         0.6,
		SpreadFactor:         0.5,
		BoostFactor:          0.5,
		PatternWeight:        2.0,
		RecencyWeight:        0.6,
		HistoryWindow:        8,
		RefractoryFactor:     0.3,
		SeedEnergy:           1.0,
		EdgeDelta:            0.3,
		BaseLearningRate:     0.5,
		PruneFloor:           0.05,
		FirePolicy:           FireOncePerEpisode,
		EndMarker:            EndMarkerDefault,
	}
}

// Validate checks rule ranges.
func (r Rules) Validate() error {
	if r.PatternFireThreshold < 0 || r.PatternFireThreshold > 1 {
		return fmt.Errorf("pattern_fire_threshold must be in [0,1], got %v", r.PatternFireThreshold)
	}
	if r.WavePropSteps < 1 {
		return fmt.Errorf("wave_prop_steps must be >= 1, got %d", r.WavePropSteps)
	}
	if r.MaxOutputLen < 1 {
		return fmt.Errorf("max_output_len must be >= 1, got %d", r.MaxOutputLen)
	}
	if r.EnergyRetain < 0 || r.EnergyRetain > 1 {
		return fmt.Errorf("energy_retain must be in [0,1], got %v", r.EnergyRetain)
	}
	if r.SpreadFactor < 0 || r.SpreadFactor > 1 {
		return fmt.Errorf("spread_factor must be in [0,1], got %v", r.SpreadFactor)
	}
	if r.HistoryWindow < 1 {
		return fmt.Errorf("history_window must be >= 1, got %d", r.HistoryWindow)
	}
	if r.FirePolicy != FireOncePerEpisode && r.FirePolicy != FireOncePerPosition {
		return fmt.Errorf("fire_policy must be %q or %q, got %q",
			FireOncePerEpisode, FireOncePerPosition, r.FirePolicy)
	}
	return nil
}

// Config holds process-level configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Server  ServerConfig  `yaml:"server"`
	Archive ArchiveConfig `yaml:"archive"`
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig points at the brain file and carries rule overrides.
type EngineConfig struct {
	// BrainPath is the brain file loaded at startup and written by save.
	BrainPath string `yaml:"brain_path"`
	// Rules used when BrainPath does not exist yet. A loaded brain's own
	// rule records always win.
	Rules Rules `yaml:"rules"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address      string        `yaml:"address"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// Password enables bearer-token auth when non-empty.
	Password string `yaml:"password"`
}

// ArchiveConfig holds brain snapshot archive settings.
type ArchiveConfig struct {
	// Dir is the BadgerDB directory for archived snapshots.
	Dir string `yaml:"dir"`
	// Keep is how many snapshots Prune retains per brain name.
	Keep int `yaml:"keep"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// LoadFromEnv creates a Config from environment variables with defaults for
// anything unset.
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.Engine.BrainPath = getEnv("MUNINN_BRAIN", "./muninn.brain")
	cfg.Engine.Rules = DefaultRules()
	cfg.Engine.Rules.PatternFireThreshold = getEnvFloat("MUNINN_FIRE_THRESHOLD", cfg.Engine.Rules.PatternFireThreshold)
	cfg.Engine.Rules.WavePropSteps = getEnvInt("MUNINN_WAVE_STEPS", cfg.Engine.Rules.WavePropSteps)
	cfg.Engine.Rules.MaxOutputLen = getEnvInt("MUNINN_MAX_OUTPUT", cfg.Engine.Rules.MaxOutputLen)
	cfg.Engine.Rules.FirePolicy = getEnv("MUNINN_FIRE_POLICY", cfg.Engine.Rules.FirePolicy)

	cfg.Server.Address = getEnv("MUNINN_HTTP_ADDRESS", "0.0.0.0")
	cfg.Server.Port = getEnvInt("MUNINN_HTTP_PORT", 7600)
	cfg.Server.ReadTimeout = getEnvDuration("MUNINN_HTTP_READ_TIMEOUT", 30*time.Second)
	cfg.Server.WriteTimeout = getEnvDuration("MUNINN_HTTP_WRITE_TIMEOUT", 60*time.Second)
	cfg.Server.Password = getEnv("MUNINN_AUTH_PASSWORD", "")

	cfg.Archive.Dir = getEnv("MUNINN_ARCHIVE_DIR", "./archive")
	cfg.Archive.Keep = getEnvInt("MUNINN_ARCHIVE_KEEP", 10)

	cfg.Logging.Verbose = getEnvBool("MUNINN_VERBOSE", false)

	return cfg
}

// LoadFile overlays cfg with values from a YAML file. Fields absent from
// the file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.Engine.BrainPath == "" {
		return fmt.Errorf("engine.brain_path must not be empty")
	}
	if err := c.Engine.Rules.Validate(); err != nil {
		return fmt.Errorf("engine.rules: %w", err)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in [1,65535], got %d", c.Server.Port)
	}
	if c.Archive.Keep < 1 {
		return fmt.Errorf("archive.keep must be >= 1, got %d", c.Archive.Keep)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
