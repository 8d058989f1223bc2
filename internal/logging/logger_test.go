package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("snapshot published", "version", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "snapshot published", entry["msg"])
	assert.Equal(t, float64(3), entry["version"])
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "text", Output: &buf})

	logger.Info("should not appear")
	logger.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestSanitizer_RedactsGoogleKey(t *testing.T) {
	s := NewSanitizer()
	in := "calling https://generativelanguage.googleapis.com/v1?key=AIzaSyB1234567890abcdefghijklmnopqrstuvw"
	out := s.Sanitize(in)
	assert.NotContains(t, out, "AIzaSy")
	assert.Contains(t, out, "[REDACTED]")
}

func TestSanitizer_PassesPlainText(t *testing.T) {
	s := NewSanitizer()
	in := "agent a1 reported iteration 4"
	assert.Equal(t, in, s.Sanitize(in))
}

func TestLogger_SanitizesAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("request", "url", "https://example.com?key=AIzaSyB1234567890abcdefghijklmnopqrstuvw")

	assert.False(t, strings.Contains(buf.String(), "AIzaSy"), "key must be redacted: %s", buf.String())
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "info", Format: "json", Output: &buf})

	logger.WithStage("observation").WithCycle(7).Info("stage complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "observation", entry["stage"])
	assert.Equal(t, float64(7), entry["cycle"])
}
