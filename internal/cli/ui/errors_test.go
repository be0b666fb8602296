package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatMessage(t *testing.T) {
	out := FormatMessage(MessageOptions{
		Level:       LevelError,
		Context:     "port in use",
		Problem:     "Cannot listen.",
		Consequence: "Taken.",
		Hints:       []string{"try another"},
		NoColor:     true,
	})

	assert.Equal(t, "❌ PORT IN USE: Cannot listen.\n   Taken.\n\n   → try another\n", out)
}

func TestFormatMessage_Levels(t *testing.T) {
	assert.True(t, strings.HasPrefix(Warning("careful", true), "⚠️ careful"))
	assert.True(t, strings.HasPrefix(Info("note", true), "ℹ️ note"))
}

func TestPortInUseError(t *testing.T) {
	out := PortInUseError("localhost:5500", 5500, true)

	assert.Contains(t, out, "PORT IN USE")
	assert.Contains(t, out, "localhost:5500")
	assert.Contains(t, out, "--port 5501")
}

func TestConfigError(t *testing.T) {
	assert.Contains(t, ConfigError("port out of range", true), "CONFIGURATION ERROR: port out of range")
}

func TestUnknownProjectError(t *testing.T) {
	out := UnknownProjectError("/tmp/empty", true)
	assert.Contains(t, out, "/tmp/empty")
	assert.Contains(t, out, "liveserve detect")
}

func TestWriteSuccess(t *testing.T) {
	var buf bytes.Buffer
	WriteSuccess(&buf, "installed", true)
	assert.Equal(t, "✓ installed\n", buf.String())
}
