package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tujuhre12/pshell/internal/config"
	"github.com/tujuhre12/pshell/internal/shell"
	"gopkg.in/yaml.v3"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PSHELL_SHELL", "")
	t.Setenv("PSHELL_DEBUG", "")

	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	cfg, err := config.Load(dir, false)
	require.NoError(t, err)
	return cfg
}

func TestRunCommandsJSON(t *testing.T) {
	cfg := testConfig(t)
	var out, errOut bytes.Buffer

	err := runCommands(t.Context(), cfg, runOptions{format: "json"}, []string{"echo hi", "echo there >&2"}, &out, &errOut, strings.NewReader(""))
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Results, 2)
	require.Equal(t, "echo hi", report.Results[0].Command)
	require.Equal(t, "hi\n", report.Results[0].Stdout)
	require.Equal(t, "there\n", report.Results[1].Stderr)
	require.Equal(t, 0, report.Failed)
}

func TestRunCommandsStopsOnFailure(t *testing.T) {
	cfg := testConfig(t)
	var out, errOut bytes.Buffer

	err := runCommands(t.Context(), cfg, runOptions{format: "text"}, []string{"echo first", "false", "echo never"}, &out, &errOut, strings.NewReader(""))
	var failed *shell.CommandFailedError
	require.True(t, errors.As(err, &failed))
	require.Equal(t, 1, shell.ExitCode(err))
	require.Contains(t, out.String(), "$ echo first\nfirst\n")
	require.NotContains(t, out.String(), "never")
}

func TestRunCommandsAllowErrorYAML(t *testing.T) {
	cfg := testConfig(t)
	var out, errOut bytes.Buffer

	ro := runOptions{format: "yaml", allowError: true}
	err := runCommands(t.Context(), cfg, ro, []string{"(exit 3)", "echo ok"}, &out, &errOut, strings.NewReader(""))
	require.NoError(t, err)

	var report runReport
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Results, 2)
	require.Equal(t, 3, report.Results[0].Status)
	require.Equal(t, "ok\n", report.Results[1].Stdout)
	require.Equal(t, 1, report.Failed)
}

func TestRunCommandsInDir(t *testing.T) {
	cfg := testConfig(t)
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	var out, errOut bytes.Buffer

	err = runCommands(t.Context(), cfg, runOptions{format: "json", dir: dir, timed: true}, []string{"pwd"}, &out, &errOut, strings.NewReader(""))
	require.NoError(t, err)

	var report runReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Equal(t, dir+"\n", report.Results[0].Stdout)
}

func TestRunCommandsSilent(t *testing.T) {
	cfg := testConfig(t)
	var out, errOut bytes.Buffer

	err := runCommands(t.Context(), cfg, runOptions{format: "text", silent: true}, []string{"echo quiet"}, &out, &errOut, strings.NewReader(""))
	require.NoError(t, err)
	require.NotContains(t, out.String(), "quiet")
}

func TestRepl(t *testing.T) {
	cfg := testConfig(t)
	var out, errOut bytes.Buffer

	script := strings.Join([]string{
		"# comment",
		"export PSHELL_X=42",
		"echo $PSHELL_X",
		"",
		":history",
		"false",
	}, "\n") + "\n"

	err := repl(t.Context(), cfg, strings.NewReader(script), &out, &errOut, false)
	var failed *shell.CommandFailedError
	require.True(t, errors.As(err, &failed), "last command failed")
	require.Equal(t, 1, failed.Status)
	require.Contains(t, out.String(), "42\n")
	require.Contains(t, out.String(), "[0] echo $PSHELL_X")
}

func TestReplBuiltins(t *testing.T) {
	cfg := testConfig(t)
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	var out, errOut bytes.Buffer

	script := strings.Join([]string{
		":cd " + dir,
		":dirs",
		"pwd",
		":back",
		":dirs",
		":bogus",
		":quit",
		"echo never",
	}, "\n") + "\n"

	err = repl(t.Context(), cfg, strings.NewReader(script), &out, &errOut, false)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(out.String(), dir+"\n"), ":cd, :dirs and pwd")
	require.NotContains(t, out.String(), "never")
	require.Contains(t, errOut.String(), "unknown command :bogus")
}

func TestPrintReport(t *testing.T) {
	results := []*shell.Result{
		{Command: "echo a", Stdout: []string{"a\n"}},
		{Command: "printf b", Stdout: []string{"b"}, Status: 2},
	}

	var buf bytes.Buffer
	require.NoError(t, printReport(&buf, "text", results))
	require.Equal(t, "[0] echo a (0s)\n    a\n[2] printf b (0s)\n    b\n", buf.String())

	require.Error(t, printReport(&buf, "xml", results))
	require.True(t, validFormat("yaml"))
	require.False(t, validFormat("xml"))
}
