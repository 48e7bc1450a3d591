package log

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logFile := filepath.Join(t.TempDir(), "logs", "pshell.log")
	Setup(logFile, true)

	slog.Debug("shell process created", "pid", 42)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	require.Equal(t, "shell process created", entry["msg"])
	require.Equal(t, "DEBUG", entry["level"])
	require.EqualValues(t, 42, entry["pid"])
}

func TestRecoverPanic(t *testing.T) {
	t.Chdir(t.TempDir())

	cleaned := false
	func() {
		defer RecoverPanic("test", func() { cleaned = true })
		panic("boom")
	}()
	require.True(t, cleaned)

	matches, err := filepath.Glob("pshell-panic-test-*.log")
	require.NoError(t, err)
	require.Len(t, matches, 1)
}
