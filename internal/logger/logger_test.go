package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerboseGating(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)
	defer SetVerbose(false)

	SetVerbose(false)
	Debug("hidden %d", 1)
	Info("hidden")
	Warn("hidden")
	assert.Empty(t, buf.String())

	Error("always %s", "shown")
	assert.Contains(t, buf.String(), "[ERROR] always shown")

	buf.Reset()
	SetVerbose(true)
	assert.True(t, IsVerbose())
	Debug("d")
	Info("i")
	Warn("w")
	Section("Search")
	out := buf.String()
	assert.Contains(t, out, "[DEBUG] d")
	assert.Contains(t, out, "[INFO] i")
	assert.Contains(t, out, "[WARN] w")
	assert.Contains(t, out, "=== Search ===")
}
