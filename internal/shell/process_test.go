package shell

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
}

func TestProcessLifecycle(t *testing.T) {
	requireBash(t)

	p := NewProcess(ProcessOptions{Path: "bash", Args: []string{"-s"}}, discardLogger())
	require.Equal(t, -1, p.PID())
	require.False(t, p.IsAlive())
	require.ErrorIs(t, p.Write([]byte("true\n")), ErrNotRunning)

	require.NoError(t, p.Start())
	require.ErrorIs(t, p.Start(), ErrAlreadyStarted)
	require.Greater(t, p.PID(), 0)
	require.True(t, p.IsAlive())
	require.Nil(t, p.ExitState())

	q := NewQueue[Line]()
	r := startReaders(p.Stdout(), p.Stderr(), q, discardLogger())
	require.NoError(t, p.Write([]byte("echo hello\n")))

	line, err := q.Consume(t.Context())
	require.NoError(t, err)
	require.Equal(t, Stdout, line.Stream)
	require.Equal(t, "hello\n", line.Text)

	require.NoError(t, p.Terminate(time.Second))
	require.False(t, p.IsAlive())
	require.NotNil(t, p.ExitState())
	require.True(t, p.Terminated())
	require.True(t, r.wait(5*time.Second))

	_, ok := p.exitedNormally()
	require.False(t, ok)
	require.NoError(t, p.Terminate(time.Second))
	require.ErrorIs(t, p.Write([]byte("true\n")), ErrNotRunning)
}

func TestProcessExitStatus(t *testing.T) {
	requireBash(t)

	p := NewProcess(ProcessOptions{Path: "bash", Args: []string{"-s"}}, discardLogger())
	require.NoError(t, p.Start())
	require.NoError(t, p.Write([]byte("exit 3\n")))

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shell did not exit")
	}
	status, ok := p.exitedNormally()
	require.True(t, ok)
	require.Equal(t, 3, status)
}

func TestProcessTerminateKillsStubbornGroup(t *testing.T) {
	requireBash(t)

	p := NewProcess(ProcessOptions{
		Path: "bash",
		Args: []string{"-c", `trap "" TERM; sleep 30`},
	}, discardLogger())
	require.NoError(t, p.Start())

	start := time.Now()
	require.NoError(t, p.Terminate(200*time.Millisecond))
	require.Less(t, time.Since(start), 10*time.Second)
	require.False(t, p.IsAlive())
}

func TestProcessEnv(t *testing.T) {
	requireBash(t)

	dir := t.TempDir()
	p := NewProcess(ProcessOptions{
		Path: "bash",
		Args: []string{"-s"},
		Env:  []string{"PSHELL_TEST_VALUE=42"},
		Dir:  dir,
	}, discardLogger())
	require.NoError(t, p.Start())
	t.Cleanup(func() { p.Terminate(time.Second) })

	q := NewQueue[Line]()
	startReaders(p.Stdout(), p.Stderr(), q, discardLogger())
	require.NoError(t, p.Write([]byte("echo $PSHELL_TEST_VALUE\n")))

	line, err := q.Consume(t.Context())
	require.NoError(t, err)
	require.Equal(t, "42\n", line.Text)
}

func TestProcessStartMissingBinary(t *testing.T) {
	p := NewProcess(ProcessOptions{Path: "pshell-no-such-shell"}, discardLogger())
	require.Error(t, p.Start())
	require.False(t, p.IsAlive())
}

func TestProcessSignal(t *testing.T) {
	requireBash(t)

	p := NewProcess(ProcessOptions{Path: "bash", Args: []string{"-s"}}, discardLogger())
	require.ErrorIs(t, p.Signal(syscall.SIGTERM), ErrNotRunning)
	require.True(t, p.StartedAt().IsZero())

	before := time.Now()
	require.NoError(t, p.Start())
	require.False(t, p.StartedAt().Before(before))

	require.NoError(t, p.Signal(syscall.SIGKILL))
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("shell did not exit")
	}

	status, ok := p.exitedNormally()
	require.False(t, ok, "got exit status %d", status)
	ws, _ := p.ExitState().Sys().(syscall.WaitStatus)
	require.Equal(t, syscall.SIGKILL, ws.Signal())
	require.NoError(t, p.Terminate(time.Second))
}
