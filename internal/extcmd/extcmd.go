// Package extcmd implements the external command pipe: a named FIFO fed
// with newline-terminated "[<epoch>] <COMMAND>;<arg>;..." lines by external
// tooling, parsed and dispatched to registered handlers.
package extcmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Command is one parsed external command line.
type Command struct {
	Timestamp int64
	Name      string
	Args      []string
	Raw       string
}

// Handler processes one external command.
type Handler func(cmd *Command)

// Processor owns the command FIFO: it (re)opens the pipe, parses each line,
// runs the matching handler on its own goroutine, and mirrors every parsed
// command onto a channel so the event loop wakes up promptly.
type Processor struct {
	pipePath string
	cmdChan  chan *Command
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu       sync.RWMutex
	handlers map[string]Handler

	logger func(string, ...interface{})
}

func NewProcessor(pipePath string, bufSize int) *Processor {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Processor{
		pipePath: pipePath,
		handlers: make(map[string]Handler),
		cmdChan:  make(chan *Command, bufSize),
		stopChan: make(chan struct{}),
	}
}

// SetLogger installs the diagnostic log sink.
func (p *Processor) SetLogger(l func(string, ...interface{})) { p.logger = l }

func (p *Processor) log(format string, args ...interface{}) {
	if p.logger != nil {
		p.logger(format, args...)
	}
}

// RegisterHandler binds one command name to a handler.
func (p *Processor) RegisterHandler(name string, h Handler) {
	p.mu.Lock()
	p.handlers[name] = h
	p.mu.Unlock()
}

// RegisterHandlers binds a batch of handlers.
func (p *Processor) RegisterHandlers(handlers map[string]Handler) {
	p.mu.Lock()
	for name, h := range handlers {
		p.handlers[name] = h
	}
	p.mu.Unlock()
}

// Dispatch invokes the handler registered for name, if any; other intake
// paths (passive-check relays) reuse the pipe's handler table this way.
func (p *Processor) Dispatch(name string, args []string) {
	p.mu.RLock()
	handler := p.handlers[name]
	p.mu.RUnlock()
	if handler != nil {
		handler(&Command{Timestamp: time.Now().Unix(), Name: name, Args: args})
	}
}

// CommandChan exposes the stream of parsed commands; the event loop drains
// it as a wakeup signal.
func (p *Processor) CommandChan() <-chan *Command { return p.cmdChan }

// Start creates the FIFO if needed and begins the read loop.
func (p *Processor) Start() error {
	if _, err := os.Stat(p.pipePath); os.IsNotExist(err) {
		if err := mkfifoImpl(p.pipePath); err != nil {
			return fmt.Errorf("failed to create command pipe %s: %w", p.pipePath, err)
		}
	}
	p.wg.Add(1)
	go p.readLoop()
	return nil
}

// Stop shuts the read loop down. Opening our own write side non-blocking
// unblocks a reader stuck in open(2) waiting for a writer to appear.
func (p *Processor) Stop() {
	close(p.stopChan)
	if fd, err := syscall.Open(p.pipePath, syscall.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
		syscall.Close(fd)
	}
	p.wg.Wait()
}

func (p *Processor) stopping() bool {
	select {
	case <-p.stopChan:
		return true
	default:
		return false
	}
}

// readLoop reopens the FIFO each time every writer has gone away (EOF on a
// FIFO means "no writers", not "no more data ever").
func (p *Processor) readLoop() {
	defer p.wg.Done()
	for !p.stopping() {
		f, err := os.Open(p.pipePath)
		if err != nil {
			continue
		}
		p.drainPipe(f)
		f.Close()
	}
}

func (p *Processor) drainPipe(f *os.File) {
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if p.stopping() {
			return
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		cmd, err := Parse(line)
		if err != nil {
			p.log("Error parsing external command: %s", err)
			continue
		}
		p.deliver(cmd)
	}
}

func (p *Processor) deliver(cmd *Command) {
	p.mu.RLock()
	handler := p.handlers[cmd.Name]
	p.mu.RUnlock()
	if handler != nil {
		handler(cmd)
	}
	select {
	case p.cmdChan <- cmd:
	default:
		p.log("External command channel full, dropping: %s", cmd.Name)
	}
}

// Parse decodes "[<epoch>] <COMMAND_NAME>;<arg1>;<arg2>;...".
func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}
	if line[0] != '[' {
		return nil, fmt.Errorf("missing timestamp bracket")
	}
	closing := strings.IndexByte(line, ']')
	if closing < 0 {
		return nil, fmt.Errorf("missing closing bracket")
	}
	ts, err := strconv.ParseInt(line[1:closing], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp: %w", err)
	}

	cmd := &Command{Timestamp: ts, Raw: line}
	body := strings.TrimSpace(line[closing+1:])
	name, argStr, hasArgs := strings.Cut(body, ";")
	cmd.Name = name
	if hasArgs {
		cmd.Args = splitArgs(name, argStr)
	}
	return cmd, nil
}

// splitArgs cuts the ;-separated argument list. The arity table below tells
// us how many arguments the command takes, so free text in the final
// argument (plugin output, comment bodies) keeps its embedded semicolons.
func splitArgs(cmdName, argStr string) []string {
	arity := commandArity[cmdName]
	if arity <= 0 {
		if argStr == "" {
			return nil
		}
		return []string{argStr}
	}
	args := make([]string, 0, arity)
	rest := argStr
	for len(args) < arity-1 {
		field, tail, cut := strings.Cut(rest, ";")
		args = append(args, field)
		if !cut {
			return args
		}
		rest = tail
	}
	return append(args, rest)
}

// commandArity maps a command name to its argument count. Commands not
// listed get their whole argument string as a single argument.
var commandArity = map[string]int{
	// acknowledgements: host[;svc];sticky;notify;persistent;author;comment
	"ACKNOWLEDGE_HOST_PROBLEM":    6,
	"ACKNOWLEDGE_SVC_PROBLEM":     7,
	"REMOVE_HOST_ACKNOWLEDGEMENT": 1,
	"REMOVE_SVC_ACKNOWLEDGEMENT":  2,

	// comments
	"ADD_HOST_COMMENT":      4, // host;persistent;author;comment
	"ADD_SVC_COMMENT":       5,
	"DEL_HOST_COMMENT":      1,
	"DEL_SVC_COMMENT":       1,
	"DEL_ALL_HOST_COMMENTS": 1,
	"DEL_ALL_SVC_COMMENTS":  2,

	// downtime: host[;svc];start;end;fixed;trigger_id;duration;author;comment
	"SCHEDULE_HOST_DOWNTIME":                          8,
	"SCHEDULE_SVC_DOWNTIME":                           9,
	"SCHEDULE_HOST_SVC_DOWNTIME":                      8,
	"SCHEDULE_HOSTGROUP_HOST_DOWNTIME":                8,
	"SCHEDULE_HOSTGROUP_SVC_DOWNTIME":                 8,
	"SCHEDULE_SERVICEGROUP_HOST_DOWNTIME":             8,
	"SCHEDULE_SERVICEGROUP_SVC_DOWNTIME":              8,
	"SCHEDULE_AND_PROPAGATE_HOST_DOWNTIME":            8,
	"SCHEDULE_AND_PROPAGATE_TRIGGERED_HOST_DOWNTIME":  8,
	"DEL_HOST_DOWNTIME":                               1,
	"DEL_SVC_DOWNTIME":                                1,
	"DEL_DOWNTIME_BY_HOST_NAME":                       4,
	"DEL_DOWNTIME_BY_HOSTGROUP_NAME":                  4,
	"DEL_DOWNTIME_BY_START_TIME_COMMENT":              2,

	// passive results: host[;svc];return_code;output
	"PROCESS_SERVICE_CHECK_RESULT": 4,
	"PROCESS_HOST_CHECK_RESULT":    3,
	"PROCESS_FILE":                 2,

	// check scheduling
	"SCHEDULE_HOST_CHECK":             2,
	"SCHEDULE_FORCED_HOST_CHECK":      2,
	"SCHEDULE_SVC_CHECK":              3,
	"SCHEDULE_FORCED_SVC_CHECK":       3,
	"SCHEDULE_HOST_SVC_CHECKS":        2,
	"SCHEDULE_FORCED_HOST_SVC_CHECKS": 2,

	// custom/delayed notifications
	"SEND_CUSTOM_HOST_NOTIFICATION": 4, // host;options;author;comment
	"SEND_CUSTOM_SVC_NOTIFICATION":  5,
	"DELAY_HOST_NOTIFICATION":       2,
	"DELAY_SVC_NOTIFICATION":        3,
	"SET_HOST_NOTIFICATION_NUMBER":  2,
	"SET_SVC_NOTIFICATION_NUMBER":   3,

	// per-entity toggles
	"ENABLE_HOST_NOTIFICATIONS":       1,
	"DISABLE_HOST_NOTIFICATIONS":      1,
	"ENABLE_SVC_NOTIFICATIONS":        2,
	"DISABLE_SVC_NOTIFICATIONS":       2,
	"ENABLE_HOST_SVC_NOTIFICATIONS":   1,
	"DISABLE_HOST_SVC_NOTIFICATIONS":  1,
	"ENABLE_HOST_CHECK":               1,
	"DISABLE_HOST_CHECK":              1,
	"ENABLE_SVC_CHECK":                2,
	"DISABLE_SVC_CHECK":               2,
	"ENABLE_PASSIVE_HOST_CHECKS":      1,
	"DISABLE_PASSIVE_HOST_CHECKS":     1,
	"ENABLE_PASSIVE_SVC_CHECKS":       2,
	"DISABLE_PASSIVE_SVC_CHECKS":      2,
	"ENABLE_HOST_EVENT_HANDLER":       1,
	"DISABLE_HOST_EVENT_HANDLER":      1,
	"ENABLE_SVC_EVENT_HANDLER":        2,
	"DISABLE_SVC_EVENT_HANDLER":       2,
	"ENABLE_HOST_FLAP_DETECTION":      1,
	"DISABLE_HOST_FLAP_DETECTION":     1,
	"ENABLE_SVC_FLAP_DETECTION":       2,
	"DISABLE_SVC_FLAP_DETECTION":      2,
	"START_OBSESSING_OVER_HOST":       1,
	"STOP_OBSESSING_OVER_HOST":        1,
	"START_OBSESSING_OVER_SVC":        2,
	"STOP_OBSESSING_OVER_SVC":         2,

	// attribute changes
	"CHANGE_NORMAL_HOST_CHECK_INTERVAL":    2,
	"CHANGE_RETRY_HOST_CHECK_INTERVAL":     2,
	"CHANGE_NORMAL_SVC_CHECK_INTERVAL":     3,
	"CHANGE_RETRY_SVC_CHECK_INTERVAL":      3,
	"CHANGE_MAX_HOST_CHECK_ATTEMPTS":       2,
	"CHANGE_MAX_SVC_CHECK_ATTEMPTS":        3,
	"CHANGE_HOST_EVENT_HANDLER":            2,
	"CHANGE_SVC_EVENT_HANDLER":             3,
	"CHANGE_HOST_CHECK_COMMAND":            2,
	"CHANGE_SVC_CHECK_COMMAND":             3,
	"CHANGE_HOST_CHECK_TIMEPERIOD":         2,
	"CHANGE_SVC_CHECK_TIMEPERIOD":          3,
	"CHANGE_HOST_NOTIFICATION_TIMEPERIOD":  2,
	"CHANGE_SVC_NOTIFICATION_TIMEPERIOD":   3,
	"CHANGE_CUSTOM_HOST_VAR":               3,
	"CHANGE_CUSTOM_SVC_VAR":                4,
	"CHANGE_CUSTOM_CONTACT_VAR":            3,
	"CHANGE_GLOBAL_HOST_EVENT_HANDLER":     1,
	"CHANGE_GLOBAL_SVC_EVENT_HANDLER":      1,
	"CHANGE_HOST_MODATTR":                  2,
	"CHANGE_SVC_MODATTR":                   3,
	"CHANGE_CONTACT_MODATTR":               2,
	"CHANGE_CONTACT_MODHATTR":              2,
	"CHANGE_CONTACT_MODSATTR":              2,

	// group-wide toggles take the group name
	"ENABLE_HOSTGROUP_HOST_NOTIFICATIONS":      1,
	"DISABLE_HOSTGROUP_HOST_NOTIFICATIONS":     1,
	"ENABLE_HOSTGROUP_SVC_NOTIFICATIONS":       1,
	"DISABLE_HOSTGROUP_SVC_NOTIFICATIONS":      1,
	"ENABLE_HOSTGROUP_HOST_CHECKS":             1,
	"DISABLE_HOSTGROUP_HOST_CHECKS":            1,
	"ENABLE_HOSTGROUP_SVC_CHECKS":              1,
	"DISABLE_HOSTGROUP_SVC_CHECKS":             1,
	"ENABLE_HOSTGROUP_PASSIVE_HOST_CHECKS":     1,
	"DISABLE_HOSTGROUP_PASSIVE_HOST_CHECKS":    1,
	"ENABLE_HOSTGROUP_PASSIVE_SVC_CHECKS":      1,
	"DISABLE_HOSTGROUP_PASSIVE_SVC_CHECKS":     1,
	"ENABLE_SERVICEGROUP_HOST_NOTIFICATIONS":   1,
	"DISABLE_SERVICEGROUP_HOST_NOTIFICATIONS":  1,
	"ENABLE_SERVICEGROUP_SVC_NOTIFICATIONS":    1,
	"DISABLE_SERVICEGROUP_SVC_NOTIFICATIONS":   1,
	"ENABLE_SERVICEGROUP_HOST_CHECKS":          1,
	"DISABLE_SERVICEGROUP_HOST_CHECKS":         1,
	"ENABLE_SERVICEGROUP_SVC_CHECKS":           1,
	"DISABLE_SERVICEGROUP_SVC_CHECKS":          1,
	"ENABLE_SERVICEGROUP_PASSIVE_HOST_CHECKS":  1,
	"DISABLE_SERVICEGROUP_PASSIVE_HOST_CHECKS": 1,
	"ENABLE_SERVICEGROUP_PASSIVE_SVC_CHECKS":   1,
	"DISABLE_SERVICEGROUP_PASSIVE_SVC_CHECKS":  1,

	// contact toggles
	"ENABLE_CONTACT_HOST_NOTIFICATIONS":            1,
	"DISABLE_CONTACT_HOST_NOTIFICATIONS":           1,
	"ENABLE_CONTACT_SVC_NOTIFICATIONS":             1,
	"DISABLE_CONTACT_SVC_NOTIFICATIONS":            1,
	"CHANGE_CONTACT_HOST_NOTIFICATION_TIMEPERIOD":  2,
	"CHANGE_CONTACT_SVC_NOTIFICATION_TIMEPERIOD":   2,
	"ENABLE_CONTACTGROUP_HOST_NOTIFICATIONS":       1,
	"DISABLE_CONTACTGROUP_HOST_NOTIFICATIONS":      1,
	"ENABLE_CONTACTGROUP_SVC_NOTIFICATIONS":        1,
	"DISABLE_CONTACTGROUP_SVC_NOTIFICATIONS":       1,

	// topology-wide toggles
	"ENABLE_HOST_AND_CHILD_NOTIFICATIONS":   1,
	"DISABLE_HOST_AND_CHILD_NOTIFICATIONS":  1,
	"ENABLE_ALL_NOTIFICATIONS_BEYOND_HOST":  1,
	"DISABLE_ALL_NOTIFICATIONS_BEYOND_HOST": 1,
}
