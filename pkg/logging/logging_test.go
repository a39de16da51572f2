package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestInitConsoleAndFile(t *testing.T) {
	restoreDefault(t)
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "automount.log")

	_, closer, err := Init(Options{
		Level:   slog.LevelInfo,
		File:    file,
		Console: &console,
	})
	require.NoError(t, err)

	Sub("walk").Info("walked", "files", 3)
	Sub("walk").Debug("hidden")
	require.NoError(t, closer.Close())

	assert.Contains(t, console.String(), "comp=walk")
	assert.Contains(t, console.String(), "files=3")
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=walked")
}

func TestInitDebug(t *testing.T) {
	restoreDefault(t)
	var console bytes.Buffer
	_, closer, err := Init(Options{Level: slog.LevelDebug, Console: &console})
	require.NoError(t, err)
	defer closer.Close()

	slog.Debug("visible")
	assert.Contains(t, console.String(), "visible")
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}
