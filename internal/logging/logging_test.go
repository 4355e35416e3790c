package logging

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func newTestLogger(t *testing.T, gs *objects.GlobalState) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.log")
	l, err := NewLogger(path, "", objects.LogRotationNone, false, gs)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l, path
}

func logContents(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

var logLinePattern = regexp.MustCompile(`(?m)^\[\d+\] `)

func TestLogLineFormat(t *testing.T) {
	l, path := newTestLogger(t, nil)
	l.Log("Sentryd %s starting", "1.0.0")

	content := logContents(t, path)
	require.Regexp(t, logLinePattern, content, "every line opens with a bracketed epoch")
	require.Contains(t, content, "Sentryd 1.0.0 starting")
}

func TestAlertLineShapes(t *testing.T) {
	l, path := newTestLogger(t, nil)
	l.LogServiceAlert("web-01", "HTTP", objects.ServiceCritical, objects.StateTypeHard, 3, "refused")
	l.LogHostAlert("web-01", objects.HostDown, objects.StateTypeSoft, 1, "no ping")

	content := logContents(t, path)
	require.Contains(t, content, "SERVICE ALERT: web-01;HTTP;CRITICAL;HARD;3;refused")
	require.Contains(t, content, "HOST ALERT: web-01;DOWN;SOFT;1;no ping")
}

func TestNotificationLinesRespectToggle(t *testing.T) {
	gs := &objects.GlobalState{LogNotifications: false}
	l, path := newTestLogger(t, gs)

	l.LogServiceNotification("oncall", "web-01", "HTTP", "PROBLEM", "notify-email", "down", "", "")
	require.NotContains(t, logContents(t, path), "SERVICE NOTIFICATION")

	gs.LogNotifications = true
	l.LogServiceNotification("oncall", "web-01", "HTTP", "PROBLEM", "notify-email", "down", "", "")
	l.LogHostNotification("oncall", "web-01", "PROBLEM", "notify-email", "down", "ack-author", "ack-text")

	content := logContents(t, path)
	require.Contains(t, content, "SERVICE NOTIFICATION: oncall;web-01;HTTP;PROBLEM;notify-email;down")
	require.Contains(t, content, "HOST NOTIFICATION: oncall;web-01;PROBLEM;notify-email;down;ack-author;ack-text")
}

func TestExternalCommandAndPassiveLines(t *testing.T) {
	gs := &objects.GlobalState{LogExternalCommands: true, LogPassiveChecks: true}
	l, path := newTestLogger(t, gs)

	l.LogExternalCommand("DISABLE_NOTIFICATIONS", nil)
	l.LogExternalCommand("ACKNOWLEDGE_HOST_PROBLEM", []string{"web-01", "1"})
	l.LogPassiveCheck(false, "web-01", "HTTP", 2, "CRITICAL")

	content := logContents(t, path)
	require.Contains(t, content, "EXTERNAL COMMAND: DISABLE_NOTIFICATIONS")
	require.Contains(t, content, "EXTERNAL COMMAND: ACKNOWLEDGE_HOST_PROBLEM;web-01;1")
	require.Contains(t, content, "PASSIVE SERVICE CHECK: web-01;HTTP;2;CRITICAL")
}

func TestVerboseLinesGatedByFlag(t *testing.T) {
	l, path := newTestLogger(t, nil)

	l.LogVerbose(VerboseChecks, "check of %s finished", "web-01")
	require.NotContains(t, logContents(t, path), "check of web-01")

	l.Verbosity = VerboseChecks
	l.LogVerbose(VerboseChecks, "check of %s finished", "web-01")
	require.Contains(t, logContents(t, path), "check of web-01")
}

func TestZeroSharesOutputFile(t *testing.T) {
	l, path := newTestLogger(t, nil)
	zl := l.Zero()
	zl.Info().Str("worker", "w1").Msg("respawned")

	content := logContents(t, path)
	require.Contains(t, content, `"worker":"w1"`)
	require.Contains(t, content, "respawned")
}

func TestRotationScheduleAdvances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l, err := NewLogger(path, t.TempDir(), objects.LogRotationDaily, false, nil)
	require.NoError(t, err)
	defer l.Close()

	from := time.Date(2026, time.March, 1, 10, 30, 0, 0, time.UTC)
	require.Equal(t, time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), l.NextRotationTime(from))

	hourly, err := NewLogger(filepath.Join(t.TempDir(), "h.log"), "", objects.LogRotationHourly, false, nil)
	require.NoError(t, err)
	defer hourly.Close()
	require.Equal(t, time.Date(2026, time.March, 1, 11, 0, 0, 0, time.UTC), hourly.NextRotationTime(from))
}
