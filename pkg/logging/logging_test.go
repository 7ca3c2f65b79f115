package logging

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture() *bytes.Buffer {
	var buf bytes.Buffer
	SetOutput(log.New(&buf, "", 0))
	return &buf
}

func TestLevels(t *testing.T) {
	t.Cleanup(func() {
		SetOutput(log.New(bytes.NewBuffer(nil), "", 0))
		SetLevel("INFO")
	})

	t.Run("debug_suppressed_by_default", func(t *testing.T) {
		buf := capture()
		SetLevel("INFO")
		Debug("hidden", nil)
		Info("shown", nil)
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "INFO: shown")
	})

	t.Run("verbose_enables_debug", func(t *testing.T) {
		buf := capture()
		SetVerbose(true)
		Debug("now visible", nil)
		assert.Contains(t, buf.String(), "DEBUG: now visible")
		SetVerbose(false)
	})

	t.Run("error_always_logged", func(t *testing.T) {
		buf := capture()
		SetLevel("ERROR")
		Warn("quiet", nil)
		Error("loud", nil)
		assert.NotContains(t, buf.String(), "quiet")
		assert.Contains(t, buf.String(), "ERROR: loud")
	})
}

func TestParamsFormatting(t *testing.T) {
	buf := capture()
	t.Cleanup(func() {
		SetOutput(log.New(bytes.NewBuffer(nil), "", 0))
	})

	SetLevel("INFO")
	Info("episode done", map[string]interface{}{"output": "cats", "error": 0.25})
	// Params are sorted by key for stable output.
	assert.Contains(t, buf.String(), "episode done error=0.25 output=cats")
}
