package checker

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func startShell(t *testing.T) *shellWorker {
	t.Helper()
	sw, err := newShellWorker("__SENTRY_EOT__")
	require.NoError(t, err)
	t.Cleanup(sw.Close)
	return sw
}

func TestShellWorkerRunsCommand(t *testing.T) {
	sw := startShell(t)
	out, code, err := sw.Run("echo hello from the shell", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Equal(t, "hello from the shell", out)
}

func TestShellWorkerReportsExitCode(t *testing.T) {
	sw := startShell(t)
	_, code, err := sw.Run("exit 2", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 2, code)

	// The shell survives a failing command and keeps serving.
	out, code, err := sw.Run("echo still alive", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Equal(t, "still alive", out)
}

func TestShellWorkerMergesStderr(t *testing.T) {
	sw := startShell(t)
	out, code, err := sw.Run("echo warn >&2; echo ok", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Contains(t, out, "warn")
	require.Contains(t, out, "ok")
}

func TestShellWorkerMultilineOutput(t *testing.T) {
	sw := startShell(t)
	out, _, err := sw.Run("printf 'a\\nb\\nc\\n'", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "a\nb\nc", out)
}

func TestShellWorkerTruncatesHugeOutput(t *testing.T) {
	sw := startShell(t)
	out, code, err := sw.Run("i=0; while [ $i -lt 2000 ]; do echo 0123456789; i=$((i+1)); done", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.LessOrEqual(t, len(out), shellOutputCap)
}

func TestShellWorkerTimeoutKillsGroup(t *testing.T) {
	sw := startShell(t)
	_, _, err := sw.Run("sleep 30", 200*time.Millisecond)
	require.Error(t, err)
	require.False(t, sw.alive)

	_, _, err = sw.Run("echo nope", time.Second)
	require.ErrorIs(t, err, errShellDead)
}

func TestShellWorkerCommandsDoNotEatStdin(t *testing.T) {
	sw := startShell(t)
	// A command that reads stdin must get /dev/null, not the next queued
	// command line.
	out, _, err := sw.Run("cat; echo done", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "done", out)

	out, _, err = sw.Run("echo next", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, "next", strings.TrimSpace(out))
}
