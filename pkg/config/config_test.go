package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg := LoadFromEnv()

	assert.Equal(t, "./muninn.brain", cfg.Engine.BrainPath)
	assert.Equal(t, DefaultRules(), cfg.Engine.Rules)
	assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	assert.Equal(t, 7600, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "./archive", cfg.Archive.Dir)
	assert.Equal(t, 10, cfg.Archive.Keep)
	assert.False(t, cfg.Logging.Verbose)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("MUNINN_BRAIN", "/tmp/b.brain")
	t.Setenv("MUNINN_FIRE_THRESHOLD", "0.5")
	t.Setenv("MUNINN_WAVE_STEPS", "5")
	t.Setenv("MUNINN_MAX_OUTPUT", "64")
	t.Setenv("MUNINN_FIRE_POLICY", FireOncePerPosition)
	t.Setenv("MUNINN_HTTP_PORT", "8080")
	t.Setenv("MUNINN_AUTH_PASSWORD", "hunter2")
	t.Setenv("MUNINN_VERBOSE", "true")

	cfg := LoadFromEnv()

	assert.Equal(t, "/tmp/b.brain", cfg.Engine.BrainPath)
	assert.Equal(t, 0.5, cfg.Engine.Rules.PatternFireThreshold)
	assert.Equal(t, 5, cfg.Engine.Rules.WavePropSteps)
	assert.Equal(t, 64, cfg.Engine.Rules.MaxOutputLen)
	assert.Equal(t, FireOncePerPosition, cfg.Engine.Rules.FirePolicy)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "hunter2", cfg.Server.Password)
	assert.True(t, cfg.Logging.Verbose)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("MUNINN_WAVE_STEPS", "not-a-number")
	t.Setenv("MUNINN_FIRE_THRESHOLD", "abc")

	cfg := LoadFromEnv()
	assert.Equal(t, DefaultRules().WavePropSteps, cfg.Engine.Rules.WavePropSteps)
	assert.Equal(t, DefaultRules().PatternFireThreshold, cfg.Engine.Rules.PatternFireThreshold)
}

func TestConfig_LoadFile(t *testing.T) {
	t.Run("overlays_values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "muninn.yaml")
		data := []byte(`
engine:
  brain_path: /data/brains/main.brain
  rules:
    wave_prop_steps: 7
    fire_policy: once-per-position
server:
  port: 9000
  password: s3cret
archive:
  keep: 3
`)
		require.NoError(t, os.WriteFile(path, data, 0o644))

		cfg := LoadFromEnv()
		require.NoError(t, cfg.LoadFile(path))

		assert.Equal(t, "/data/brains/main.brain", cfg.Engine.BrainPath)
		assert.Equal(t, 7, cfg.Engine.Rules.WavePropSteps)
		assert.Equal(t, FireOncePerPosition, cfg.Engine.Rules.FirePolicy)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "s3cret", cfg.Server.Password)
		assert.Equal(t, 3, cfg.Archive.Keep)
		// Untouched fields keep env defaults.
		assert.Equal(t, "0.0.0.0", cfg.Server.Address)
	})

	t.Run("missing_file", func(t *testing.T) {
		cfg := LoadFromEnv()
		err := cfg.LoadFile("/nonexistent/muninn.yaml")
		assert.Error(t, err)
	})

	t.Run("malformed_yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("engine: ["), 0o644))

		cfg := LoadFromEnv()
		assert.Error(t, cfg.LoadFile(path))
	})
}

func TestRules_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Rules)
		ok     bool
	}{
		{"defaults_valid", func(r *Rules) {}, true},
		{"threshold_too_high", func(r *Rules) { r.PatternFireThreshold = 1.5 }, false},
		{"threshold_negative", func(r *Rules) { r.PatternFireThreshold = -0.1 }, false},
		{"zero_wave_steps", func(r *Rules) { r.WavePropSteps = 0 }, false},
		{"zero_max_output", func(r *Rules) { r.MaxOutputLen = 0 }, false},
		{"retain_out_of_range", func(r *Rules) { r.EnergyRetain = 2 }, false},
		{"spread_out_of_range", func(r *Rules) { r.SpreadFactor = -1 }, false},
		{"zero_history_window", func(r *Rules) { r.HistoryWindow = 0 }, false},
		{"unknown_fire_policy", func(r *Rules) { r.FirePolicy = "whenever" }, false},
		{"once_per_position_valid", func(r *Rules) { r.FirePolicy = FireOncePerPosition }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRules()
			tt.mutate(&r)
			err := r.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("empty_brain_path", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Engine.BrainPath = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad_port", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Server.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad_keep", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Archive.Keep = 0
		assert.Error(t, cfg.Validate())
	})
}
