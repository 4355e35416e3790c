// Package logging writes the engine's event log: the classic positional
// "[epoch] KIND: a;b;c" lines external tools parse, with rotation, optional
// syslog mirroring, and a zerolog side channel for structured internal
// diagnostics.
package logging

import (
	"fmt"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// Verbosity bitmask flags for selective verbose logging.
const (
	VerboseChecks = 1 << 0 // Log every check result
)

const logFileMode = os.O_APPEND | os.O_CREATE | os.O_WRONLY

// Logger owns the engine log file.
type Logger struct {
	mu             sync.Mutex
	logFile        *os.File
	logPath        string
	archivePath    string
	rotationMethod int
	useSyslog      bool
	useStdout      bool
	syslogWriter   *syslog.Writer
	global         *objects.GlobalState
	Verbosity      int
	zlog           zerolog.Logger
}

func NewLogger(logPath, archivePath string, rotationMethod int, useSyslog bool, global *objects.GlobalState) (*Logger, error) {
	l := &Logger{
		logPath:        logPath,
		archivePath:    archivePath,
		rotationMethod: rotationMethod,
		global:         global,
	}

	f, err := os.OpenFile(logPath, logFileMode, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", logPath, err)
	}
	l.logFile = f

	if useSyslog {
		// Syslog failure is non-fatal; the file log still works.
		if sw, err := syslog.New(syslog.LOG_USER|syslog.LOG_INFO, "nagios"); err == nil {
			l.syslogWriter = sw
			l.useSyslog = true
		}
	}

	// Structured diagnostics (worker respawns, config warnings, internal
	// component errors) go through zerolog rather than the classic
	// positional line format above, which external tools parse by field.
	l.zlog = zerolog.New(f).With().Timestamp().Logger()
	return l, nil
}

// Zero returns a structured zerolog.Logger sharing this Logger's output
// file, for components (like the worker pool) that want leveled, keyed
// fields instead of the classic "SERVICE ALERT:..." line format.
func (l *Logger) Zero() zerolog.Logger {
	return l.zlog
}

// Close releases the log file and syslog connection.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.logFile != nil {
		l.logFile.Close()
	}
	if l.syslogWriter != nil {
		l.syslogWriter.Close()
	}
}

// SetStdout toggles echoing every line to stdout (foreground mode).
func (l *Logger) SetStdout(enabled bool) {
	l.mu.Lock()
	l.useStdout = enabled
	l.mu.Unlock()
}

// Log writes one timestamped line.
func (l *Logger) Log(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	line := fmt.Sprintf("[%d] %s\n", time.Now().Unix(), msg)

	l.mu.Lock()
	if l.logFile != nil {
		l.logFile.WriteString(line)
	}
	if l.useStdout {
		os.Stdout.WriteString(line)
	}
	l.mu.Unlock()

	if l.useSyslog && l.syslogWriter != nil {
		l.syslogWriter.Info(msg)
	}
}

// LogVerbose writes only when the given verbosity flag is enabled.
func (l *Logger) LogVerbose(flag int, format string, args ...interface{}) {
	if l.Verbosity&flag != 0 {
		l.Log(format, args...)
	}
}

// allows consults one of the GlobalState log toggles; a nil global means
// everything is logged.
func (l *Logger) allows(toggle func(*objects.GlobalState) bool) bool {
	return l.global == nil || toggle(l.global)
}

// LogServiceAlert records a service state change.
func (l *Logger) LogServiceAlert(hostName, svcDesc string, state, stateType, attempt int, output string) {
	l.Log("SERVICE ALERT: %s;%s;%s;%s;%d;%s",
		hostName, svcDesc,
		objects.ServiceStateName(state), objects.StateTypeName(stateType),
		attempt, output)
}

// LogHostAlert records a host state change.
func (l *Logger) LogHostAlert(hostName string, state, stateType, attempt int, output string) {
	l.Log("HOST ALERT: %s;%s;%s;%d;%s",
		hostName,
		objects.HostStateName(state), objects.StateTypeName(stateType),
		attempt, output)
}

// LogServiceRetry records a soft-state retry; gated on log_service_retries.
func (l *Logger) LogServiceRetry(hostName, svcDesc string, state, stateType, attempt int, output string) {
	if l.allows(func(g *objects.GlobalState) bool { return g.LogServiceRetries }) {
		l.LogServiceAlert(hostName, svcDesc, state, stateType, attempt, output)
	}
}

// notificationSuffix renders the optional author/comment tail both
// notification line kinds share.
func notificationSuffix(author, comment string) string {
	if author == "" && comment == "" {
		return ""
	}
	return ";" + author + ";" + comment
}

// LogServiceNotification records one contact notification.
func (l *Logger) LogServiceNotification(contactName, hostName, svcDesc, notifType, cmdName, output, author, comment string) {
	if !l.allows(func(g *objects.GlobalState) bool { return g.LogNotifications }) {
		return
	}
	l.Log("SERVICE NOTIFICATION: %s;%s;%s;%s;%s;%s%s",
		contactName, hostName, svcDesc, notifType, cmdName, output,
		notificationSuffix(author, comment))
}

// LogHostNotification records one contact notification.
func (l *Logger) LogHostNotification(contactName, hostName, notifType, cmdName, output, author, comment string) {
	if !l.allows(func(g *objects.GlobalState) bool { return g.LogNotifications }) {
		return
	}
	l.Log("HOST NOTIFICATION: %s;%s;%s;%s;%s%s",
		contactName, hostName, notifType, cmdName, output,
		notificationSuffix(author, comment))
}

// LogHostDowntime records a downtime transition on a host.
func (l *Logger) LogHostDowntime(hostName, action, message string) {
	l.Log("HOST DOWNTIME ALERT: %s;%s; %s", hostName, action, message)
}

// LogServiceDowntime records a downtime transition on a service.
func (l *Logger) LogServiceDowntime(hostName, svcDesc, action, message string) {
	l.Log("SERVICE DOWNTIME ALERT: %s;%s;%s; %s", hostName, svcDesc, action, message)
}

// LogEventHandler records an event handler run; gated on log_event_handlers.
func (l *Logger) LogEventHandler(global bool, isHost bool, hostName, svcDesc string, state, stateType, attempt int, handler string) {
	if !l.allows(func(g *objects.GlobalState) bool { return g.LogEventHandlers }) {
		return
	}
	prefix := ""
	if global {
		prefix = "GLOBAL "
	}
	if isHost {
		l.Log("%sHOST EVENT HANDLER: %s;%s;%s;%d;%s",
			prefix, hostName,
			objects.HostStateName(state), objects.StateTypeName(stateType),
			attempt, handler)
		return
	}
	l.Log("%sSERVICE EVENT HANDLER: %s;%s;%s;%s;%d;%s",
		prefix, hostName, svcDesc,
		objects.ServiceStateName(state), objects.StateTypeName(stateType),
		attempt, handler)
}

// LogExternalCommand records a processed external command; gated on
// log_external_commands.
func (l *Logger) LogExternalCommand(cmdName string, args []string) {
	if !l.allows(func(g *objects.GlobalState) bool { return g.LogExternalCommands }) {
		return
	}
	if len(args) == 0 {
		l.Log("EXTERNAL COMMAND: %s", cmdName)
		return
	}
	l.Log("EXTERNAL COMMAND: %s;%s", cmdName, strings.Join(args, ";"))
}

// LogPassiveCheck records an accepted passive result; gated on
// log_passive_checks.
func (l *Logger) LogPassiveCheck(isHost bool, hostName, svcDesc string, returnCode int, output string) {
	if !l.allows(func(g *objects.GlobalState) bool { return g.LogPassiveChecks }) {
		return
	}
	if isHost {
		l.Log("PASSIVE HOST CHECK: %s;%d;%s", hostName, returnCode, output)
		return
	}
	l.Log("PASSIVE SERVICE CHECK: %s;%s;%d;%s", hostName, svcDesc, returnCode, output)
}

// LogInitialHostState records startup state; gated on log_initial_states.
func (l *Logger) LogInitialHostState(h *objects.Host) {
	if !l.allows(func(g *objects.GlobalState) bool { return g.LogInitialStates }) {
		return
	}
	l.Log("INITIAL HOST STATE: %s;%s;%s;%d;%s",
		h.Name,
		objects.HostStateName(h.CurrentState), objects.StateTypeName(h.StateType),
		h.CurrentAttempt, h.PluginOutput)
}

// LogInitialServiceState records startup state; gated on log_initial_states.
func (l *Logger) LogInitialServiceState(s *objects.Service) {
	if !l.allows(func(g *objects.GlobalState) bool { return g.LogInitialStates }) {
		return
	}
	hostName := ""
	if s.Host != nil {
		hostName = s.Host.Name
	}
	l.Log("INITIAL SERVICE STATE: %s;%s;%s;%s;%d;%s",
		hostName, s.Description,
		objects.ServiceStateName(s.CurrentState), objects.StateTypeName(s.StateType),
		s.CurrentAttempt, s.PluginOutput)
}

// Rotate archives the current log under a timestamped name and starts a
// fresh one. Rotating twice within the same hour is a no-op (the archive
// name already exists).
func (l *Logger) Rotate() error {
	now := time.Now()
	archive := filepath.Join(l.archivePath, fmt.Sprintf("nagios-%02d-%02d-%04d-%02d.log",
		now.Month(), now.Day(), now.Year(), now.Hour()))

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(archive); err == nil {
		return nil
	}

	if l.logFile != nil {
		l.logFile.Close()
	}
	if err := os.Rename(l.logPath, archive); err != nil {
		l.logFile, _ = os.OpenFile(l.logPath, logFileMode, 0644)
		return fmt.Errorf("rotate log: %w", err)
	}

	f, err := os.OpenFile(l.logPath, logFileMode, 0644)
	if err != nil {
		return fmt.Errorf("open new log: %w", err)
	}
	l.logFile = f
	fmt.Fprintf(f, "[%d] LOG ROTATION: %s\n", now.Unix(), archive)
	fmt.Fprintf(f, "[%d] LOG VERSION: 2.0\n", now.Unix())
	return nil
}

// NextRotationTime returns when the log is next due for rotation, per the
// configured method.
func (l *Logger) NextRotationTime(from time.Time) time.Time {
	y, m, d := from.Date()
	switch l.rotationMethod {
	case objects.LogRotationHourly:
		return from.Truncate(time.Hour).Add(time.Hour)
	case objects.LogRotationDaily:
		return time.Date(y, m, d+1, 0, 0, 0, 0, from.Location())
	case objects.LogRotationWeekly:
		untilSunday := (7 - int(from.Weekday())) % 7
		if untilSunday == 0 {
			untilSunday = 7
		}
		return time.Date(y, m, d+untilSunday, 0, 0, 0, 0, from.Location())
	case objects.LogRotationMonthly:
		return time.Date(y, m+1, 1, 0, 0, 0, 0, from.Location())
	}
	return time.Time{} // no rotation configured
}

// RotationMethod returns the configured rotation method.
func (l *Logger) RotationMethod() int {
	return l.rotationMethod
}
