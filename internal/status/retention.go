package status

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/corvidwatch/sentryd/internal/downtime"
	"github.com/corvidwatch/sentryd/internal/objects"
)

// RetentionWriter writes Nagios-compatible retention.dat files.
type RetentionWriter struct {
	Path      string
	Store     *objects.ObjectStore
	Global    *objects.GlobalState
	Comments  *downtime.CommentManager
	Downtimes *downtime.DowntimeManager
	Version   string
}

// Write atomically writes the retention.dat file.
func (rw *RetentionWriter) Write() error {
	// Always create the temp file alongside the target so os.Rename
	// never crosses filesystem boundaries.
	dir := filepath.Dir(rw.Path)
	tmp, err := os.CreateTemp(dir, "retention.dat.tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	var b strings.Builder
	now := time.Now()

	// info
	b.WriteString("info {\n")
	fmt.Fprintf(&b, "created=%d\n", now.Unix())
	fmt.Fprintf(&b, "version=%s\n", rw.Version)
	b.WriteString("}\n\n")

	// program
	rw.writeProgram(&b)

	// hosts
	for _, h := range rw.Store.Hosts {
		rw.writeHost(&b, h)
	}

	// services
	for _, s := range rw.Store.Services {
		rw.writeService(&b, s)
	}

	// contacts
	for _, c := range rw.Store.Contacts {
		rw.writeContact(&b, c)
	}

	// comments
	for _, c := range rw.Comments.All() {
		if !c.Persistent {
			continue
		}
		rw.writeComment(&b, c)
	}

	// downtimes
	for _, d := range rw.Downtimes.All() {
		rw.writeDowntime(&b, d)
	}

	if _, err := tmp.WriteString(b.String()); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	tmp = nil
	return os.Rename(tmpName, rw.Path)
}

func (rw *RetentionWriter) writeProgram(b *strings.Builder) {
	g := rw.Global
	b.WriteString("program {\n")
	fmt.Fprintf(b, "modified_host_attributes=%d\n", g.ModifiedHostAttributes)
	fmt.Fprintf(b, "modified_service_attributes=%d\n", g.ModifiedServiceAttributes)
	fmt.Fprintf(b, "enable_notifications=%s\n", boolStr(g.EnableNotifications))
	fmt.Fprintf(b, "active_service_checks_enabled=%s\n", boolStr(g.ExecuteServiceChecks))
	fmt.Fprintf(b, "passive_service_checks_enabled=%s\n", boolStr(g.AcceptPassiveServiceChecks))
	fmt.Fprintf(b, "active_host_checks_enabled=%s\n", boolStr(g.ExecuteHostChecks))
	fmt.Fprintf(b, "passive_host_checks_enabled=%s\n", boolStr(g.AcceptPassiveHostChecks))
	fmt.Fprintf(b, "enable_event_handlers=%s\n", boolStr(g.EnableEventHandlers))
	fmt.Fprintf(b, "obsess_over_services=%s\n", boolStr(g.ObsessOverServices))
	fmt.Fprintf(b, "obsess_over_hosts=%s\n", boolStr(g.ObsessOverHosts))
	fmt.Fprintf(b, "check_service_freshness=%s\n", boolStr(g.CheckServiceFreshness))
	fmt.Fprintf(b, "check_host_freshness=%s\n", boolStr(g.CheckHostFreshness))
	fmt.Fprintf(b, "enable_flap_detection=%s\n", boolStr(g.EnableFlapDetection))
	fmt.Fprintf(b, "process_performance_data=%s\n", boolStr(g.ProcessPerformanceData))
	fmt.Fprintf(b, "global_host_event_handler=%s\n", g.GlobalHostEventHandler)
	fmt.Fprintf(b, "global_service_event_handler=%s\n", g.GlobalServiceEventHandler)
	fmt.Fprintf(b, "next_comment_id=%d\n", g.NextCommentID)
	fmt.Fprintf(b, "next_downtime_id=%d\n", g.NextDowntimeID)
	fmt.Fprintf(b, "next_event_id=%d\n", g.NextEventID)
	fmt.Fprintf(b, "next_problem_id=%d\n", g.NextProblemID)
	fmt.Fprintf(b, "next_notification_id=%d\n", g.NextNotificationID)
	b.WriteString("}\n\n")
}

// commonSnapshot holds the fields that mean the same thing, in the same
// format, on both a Host and a Service retention block. writeHost/writeService
// populate one of these from their domain object and hand it to writeCommon,
// then append whatever doesn't generalize (the per-state last_time_* fields,
// the notified_on_* bit layout).
type commonSnapshot struct {
	modifiedAttributes  uint64
	checkCommand        string
	checkInterval       float64
	retryInterval       float64
	hasBeenChecked      bool
	executionTime       float64
	latency             float64
	checkType           int
	currentState        int
	lastState           int
	lastHardState       int
	stateType           int
	currentAttempt      int
	pluginOutput        string
	longPluginOutput    string
	perfData            string
	lastCheck           time.Time
	nextCheck           time.Time
	lastStateChange     time.Time
	lastHardStateChange time.Time
	lastNotification    time.Time
	nextNotification    time.Time
	noMoreNotifications bool
	notifNumber         int
	notifID             uint64
	notificationsEnabled bool
	problemAcknowledged  bool
	ackType              int
	ackExpireTime        time.Time
	activeChecksEnabled  bool
	passiveChecksEnabled bool
	eventHandlerEnabled  bool
	flapDetectionEnabled bool
	processPerfData      bool
	obsessOver           bool
	isFlapping           bool
	percentStateChange   float64
	downtimeDepth        int
	pendingFlexDowntime  int
	checkFlapRecoveryNotif bool
	stateHistory         []int
	customVars           map[string]string
}

func writeCommon(b *strings.Builder, c commonSnapshot) {
	fmt.Fprintf(b, "modified_attributes=%d\n", c.modifiedAttributes)
	fmt.Fprintf(b, "check_command=%s\n", c.checkCommand)
	fmt.Fprintf(b, "check_interval=%f\n", c.checkInterval)
	fmt.Fprintf(b, "retry_interval=%f\n", c.retryInterval)
	fmt.Fprintf(b, "has_been_checked=%s\n", boolStr(c.hasBeenChecked))
	fmt.Fprintf(b, "check_execution_time=%f\n", c.executionTime)
	fmt.Fprintf(b, "check_latency=%f\n", c.latency)
	fmt.Fprintf(b, "check_type=%d\n", c.checkType)
	fmt.Fprintf(b, "current_state=%d\n", c.currentState)
	fmt.Fprintf(b, "last_state=%d\n", c.lastState)
	fmt.Fprintf(b, "last_hard_state=%d\n", c.lastHardState)
	fmt.Fprintf(b, "state_type=%d\n", c.stateType)
	fmt.Fprintf(b, "current_attempt=%d\n", c.currentAttempt)
	fmt.Fprintf(b, "plugin_output=%s\n", escapeText(c.pluginOutput))
	fmt.Fprintf(b, "long_plugin_output=%s\n", escapeText(c.longPluginOutput))
	fmt.Fprintf(b, "performance_data=%s\n", escapeText(c.perfData))
	fmt.Fprintf(b, "last_check=%d\n", timeToUnix(c.lastCheck))
	fmt.Fprintf(b, "next_check=%d\n", timeToUnix(c.nextCheck))
	fmt.Fprintf(b, "last_state_change=%d\n", timeToUnix(c.lastStateChange))
	fmt.Fprintf(b, "last_hard_state_change=%d\n", timeToUnix(c.lastHardStateChange))
}

func writeCommonTail(b *strings.Builder, c commonSnapshot) {
	fmt.Fprintf(b, "last_notification=%d\n", timeToUnix(c.lastNotification))
	fmt.Fprintf(b, "next_notification=%d\n", timeToUnix(c.nextNotification))
	fmt.Fprintf(b, "no_more_notifications=%s\n", boolStr(c.noMoreNotifications))
	fmt.Fprintf(b, "current_notification_number=%d\n", c.notifNumber)
	fmt.Fprintf(b, "current_notification_id=%d\n", c.notifID)
	fmt.Fprintf(b, "notifications_enabled=%s\n", boolStr(c.notificationsEnabled))
	fmt.Fprintf(b, "problem_has_been_acknowledged=%s\n", boolStr(c.problemAcknowledged))
	fmt.Fprintf(b, "acknowledgement_type=%d\n", c.ackType)
	fmt.Fprintf(b, "acknowledgement_end_time=%d\n", timeToUnix(c.ackExpireTime))
	fmt.Fprintf(b, "active_checks_enabled=%s\n", boolStr(c.activeChecksEnabled))
	fmt.Fprintf(b, "passive_checks_enabled=%s\n", boolStr(c.passiveChecksEnabled))
	fmt.Fprintf(b, "event_handler_enabled=%s\n", boolStr(c.eventHandlerEnabled))
	fmt.Fprintf(b, "flap_detection_enabled=%s\n", boolStr(c.flapDetectionEnabled))
	fmt.Fprintf(b, "process_performance_data=%s\n", boolStr(c.processPerfData))
	fmt.Fprintf(b, "obsess=%s\n", boolStr(c.obsessOver))
	fmt.Fprintf(b, "is_flapping=%s\n", boolStr(c.isFlapping))
	fmt.Fprintf(b, "percent_state_change=%f\n", c.percentStateChange)
	fmt.Fprintf(b, "scheduled_downtime_depth=%d\n", c.downtimeDepth)
	fmt.Fprintf(b, "pending_flex_downtime=%d\n", c.pendingFlexDowntime)
}

func writeCommonHistory(b *strings.Builder, c commonSnapshot) {
	fmt.Fprintf(b, "check_flapping_recovery_notification=%s\n", boolStr(c.checkFlapRecoveryNotif))
	histParts := make([]string, len(c.stateHistory))
	for i, v := range c.stateHistory {
		histParts[i] = strconv.Itoa(v)
	}
	fmt.Fprintf(b, "state_history=%s\n", strings.Join(histParts, ","))
	for k, v := range c.customVars {
		fmt.Fprintf(b, "_%s=%d;%s\n", k, 0, v)
	}
}

func (rw *RetentionWriter) writeHost(b *strings.Builder, h *objects.Host) {
	c := commonSnapshot{
		modifiedAttributes: h.ModifiedAttributes, checkCommand: cmdName(h.CheckCommand, h.CheckCommandArgs),
		checkInterval: h.CheckInterval, retryInterval: h.RetryInterval, hasBeenChecked: h.HasBeenChecked,
		executionTime: h.ExecutionTime, latency: h.Latency, checkType: h.CheckType,
		currentState: h.CurrentState, lastState: h.LastState, lastHardState: h.LastHardState,
		stateType: h.StateType, currentAttempt: h.CurrentAttempt, pluginOutput: h.PluginOutput,
		longPluginOutput: h.LongPluginOutput, perfData: h.PerfData, lastCheck: h.LastCheck,
		nextCheck: h.NextCheck, lastStateChange: h.LastStateChange, lastHardStateChange: h.LastHardStateChange,
		lastNotification: h.LastNotification, nextNotification: h.NextNotification,
		noMoreNotifications: h.NoMoreNotifications, notifNumber: h.CurrentNotificationNumber,
		notifID: h.CurrentNotificationID, notificationsEnabled: h.NotificationsEnabled,
		problemAcknowledged: h.ProblemAcknowledged, ackType: h.AckType, ackExpireTime: h.AckExpireTime,
		activeChecksEnabled: h.ActiveChecksEnabled, passiveChecksEnabled: h.PassiveChecksEnabled,
		eventHandlerEnabled: h.EventHandlerEnabled, flapDetectionEnabled: h.FlapDetectionEnabled,
		processPerfData: h.ProcessPerfData, obsessOver: h.ObsessOver, isFlapping: h.IsFlapping,
		percentStateChange: h.PercentStateChange, downtimeDepth: h.ScheduledDowntimeDepth,
		pendingFlexDowntime: h.PendingFlexDowntime, checkFlapRecoveryNotif: h.CheckFlapRecoveryNotif,
		stateHistory: h.StateHistory[:], customVars: h.CustomVars,
	}

	b.WriteString("host {\n")
	fmt.Fprintf(b, "host_name=%s\n", h.Name)
	writeCommon(b, c)
	fmt.Fprintf(b, "last_time_up=%d\n", timeToUnix(h.LastTimeUp))
	fmt.Fprintf(b, "last_time_down=%d\n", timeToUnix(h.LastTimeDown))
	fmt.Fprintf(b, "last_time_unreachable=%d\n", timeToUnix(h.LastTimeUnreachable))
	writeCommonTail(b, c)
	fmt.Fprintf(b, "notified_on_down=%s\n", boolStr(h.NotifiedOn&objects.OptDown != 0))
	fmt.Fprintf(b, "notified_on_unreachable=%s\n", boolStr(h.NotifiedOn&objects.OptUnreachable != 0))
	writeCommonHistory(b, c)
	b.WriteString("}\n\n")
}

func (rw *RetentionWriter) writeService(b *strings.Builder, s *objects.Service) {
	hostName := ""
	if s.Host != nil {
		hostName = s.Host.Name
	}
	c := commonSnapshot{
		modifiedAttributes: s.ModifiedAttributes, checkCommand: cmdName(s.CheckCommand, s.CheckCommandArgs),
		checkInterval: s.CheckInterval, retryInterval: s.RetryInterval, hasBeenChecked: s.HasBeenChecked,
		executionTime: s.ExecutionTime, latency: s.Latency, checkType: s.CheckType,
		currentState: s.CurrentState, lastState: s.LastState, lastHardState: s.LastHardState,
		stateType: s.StateType, currentAttempt: s.CurrentAttempt, pluginOutput: s.PluginOutput,
		longPluginOutput: s.LongPluginOutput, perfData: s.PerfData, lastCheck: s.LastCheck,
		nextCheck: s.NextCheck, lastStateChange: s.LastStateChange, lastHardStateChange: s.LastHardStateChange,
		lastNotification: s.LastNotification, nextNotification: s.NextNotification,
		noMoreNotifications: s.NoMoreNotifications, notifNumber: s.CurrentNotificationNumber,
		notifID: s.CurrentNotificationID, notificationsEnabled: s.NotificationsEnabled,
		problemAcknowledged: s.ProblemAcknowledged, ackType: s.AckType, ackExpireTime: s.AckExpireTime,
		activeChecksEnabled: s.ActiveChecksEnabled, passiveChecksEnabled: s.PassiveChecksEnabled,
		eventHandlerEnabled: s.EventHandlerEnabled, flapDetectionEnabled: s.FlapDetectionEnabled,
		processPerfData: s.ProcessPerfData, obsessOver: s.ObsessOver, isFlapping: s.IsFlapping,
		percentStateChange: s.PercentStateChange, downtimeDepth: s.ScheduledDowntimeDepth,
		pendingFlexDowntime: s.PendingFlexDowntime, checkFlapRecoveryNotif: s.CheckFlapRecoveryNotif,
		stateHistory: s.StateHistory[:], customVars: s.CustomVars,
	}

	b.WriteString("service {\n")
	fmt.Fprintf(b, "host_name=%s\n", hostName)
	fmt.Fprintf(b, "service_description=%s\n", s.Description)
	writeCommon(b, c)
	fmt.Fprintf(b, "last_time_ok=%d\n", timeToUnix(s.LastTimeOK))
	fmt.Fprintf(b, "last_time_warning=%d\n", timeToUnix(s.LastTimeWarning))
	fmt.Fprintf(b, "last_time_critical=%d\n", timeToUnix(s.LastTimeCritical))
	fmt.Fprintf(b, "last_time_unknown=%d\n", timeToUnix(s.LastTimeUnknown))
	writeCommonTail(b, c)
	fmt.Fprintf(b, "notified_on_unknown=%s\n", boolStr(s.NotifiedOn&objects.OptUnknown != 0))
	fmt.Fprintf(b, "notified_on_warning=%s\n", boolStr(s.NotifiedOn&objects.OptWarning != 0))
	fmt.Fprintf(b, "notified_on_critical=%s\n", boolStr(s.NotifiedOn&objects.OptCritical != 0))
	writeCommonHistory(b, c)
	b.WriteString("}\n\n")
}

func (rw *RetentionWriter) writeContact(b *strings.Builder, c *objects.Contact) {
	b.WriteString("contact {\n")
	fmt.Fprintf(b, "contact_name=%s\n", c.Name)
	fmt.Fprintf(b, "modified_attributes=%d\n", c.ModifiedAttributes)
	fmt.Fprintf(b, "modified_host_attributes=%d\n", c.ModifiedHostAttributes)
	fmt.Fprintf(b, "modified_service_attributes=%d\n", c.ModifiedServiceAttributes)
	tpName := ""
	if c.HostNotificationPeriod != nil {
		tpName = c.HostNotificationPeriod.Name
	}
	fmt.Fprintf(b, "host_notification_period=%s\n", tpName)
	tpName = ""
	if c.ServiceNotificationPeriod != nil {
		tpName = c.ServiceNotificationPeriod.Name
	}
	fmt.Fprintf(b, "service_notification_period=%s\n", tpName)
	fmt.Fprintf(b, "host_notifications_enabled=%s\n", boolStr(c.HostNotificationsEnabled))
	fmt.Fprintf(b, "service_notifications_enabled=%s\n", boolStr(c.ServiceNotificationsEnabled))
	fmt.Fprintf(b, "last_host_notification=%d\n", timeToUnix(c.LastHostNotification))
	fmt.Fprintf(b, "last_service_notification=%d\n", timeToUnix(c.LastServiceNotification))
	for k, v := range c.CustomVars {
		fmt.Fprintf(b, "_%s=%d;%s\n", k, 0, v)
	}
	b.WriteString("}\n\n")
}

func (rw *RetentionWriter) writeComment(b *strings.Builder, c *downtime.Comment) {
	blockName := "hostcomment"
	if c.CommentType == objects.ServiceCommentType {
		blockName = "servicecomment"
	}
	fmt.Fprintf(b, "%s {\n", blockName)
	fmt.Fprintf(b, "host_name=%s\n", c.HostName)
	if c.CommentType == objects.ServiceCommentType {
		fmt.Fprintf(b, "service_description=%s\n", c.ServiceDescription)
	}
	fmt.Fprintf(b, "entry_type=%d\n", c.EntryType)
	fmt.Fprintf(b, "comment_id=%d\n", c.CommentID)
	fmt.Fprintf(b, "source=%d\n", c.Source)
	fmt.Fprintf(b, "persistent=%s\n", boolStr(c.Persistent))
	fmt.Fprintf(b, "entry_time=%d\n", c.EntryTime.Unix())
	fmt.Fprintf(b, "expires=%s\n", boolStr(c.Expires))
	fmt.Fprintf(b, "expire_time=%d\n", timeToUnix(c.ExpireTime))
	fmt.Fprintf(b, "author=%s\n", escapeText(c.Author))
	fmt.Fprintf(b, "comment_data=%s\n", escapeText(c.Data))
	b.WriteString("}\n\n")
}

func (rw *RetentionWriter) writeDowntime(b *strings.Builder, d *downtime.Downtime) {
	blockName := "hostdowntime"
	if d.Type == objects.ServiceDowntimeType {
		blockName = "servicedowntime"
	}
	fmt.Fprintf(b, "%s {\n", blockName)
	fmt.Fprintf(b, "host_name=%s\n", d.HostName)
	if d.Type == objects.ServiceDowntimeType {
		fmt.Fprintf(b, "service_description=%s\n", d.ServiceDescription)
	}
	fmt.Fprintf(b, "downtime_id=%d\n", d.DowntimeID)
	fmt.Fprintf(b, "entry_time=%d\n", d.EntryTime.Unix())
	fmt.Fprintf(b, "start_time=%d\n", d.StartTime.Unix())
	fmt.Fprintf(b, "flex_downtime_start=%d\n", timeToUnix(d.FlexDowntimeStart))
	fmt.Fprintf(b, "end_time=%d\n", d.EndTime.Unix())
	fmt.Fprintf(b, "triggered_by=%d\n", d.TriggeredBy)
	fmt.Fprintf(b, "fixed=%s\n", boolStr(d.Fixed))
	fmt.Fprintf(b, "duration=%d\n", int64(d.Duration.Seconds()))
	fmt.Fprintf(b, "is_in_effect=%s\n", boolStr(d.IsInEffect))
	fmt.Fprintf(b, "author=%s\n", escapeText(d.Author))
	fmt.Fprintf(b, "comment=%s\n", escapeText(d.Comment))
	b.WriteString("}\n\n")
}

// escapeText guards free-text values so an embedded newline can never
// terminate its key=value line early: LF becomes \n, a literal backslash
// becomes \\. unescapeText is the inverse, applied on read.
func escapeText(s string) string {
	if !strings.ContainsAny(s, "\\\n") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\n':
			b.WriteString(`\n`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func unescapeText(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case '\\':
				b.WriteByte('\\')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func cmdName(cmd *objects.Command, args string) string {
	if cmd == nil {
		return ""
	}
	if args != "" {
		return cmd.Name + "!" + args
	}
	return cmd.Name
}

// RetentionReader reads a retention.dat file and applies state to objects.
type RetentionReader struct {
	Store     *objects.ObjectStore
	Global    *objects.GlobalState
	Comments  *downtime.CommentManager
	Downtimes *downtime.DowntimeManager
}

// Read reads and applies the retention.dat file.
func (rr *RetentionReader) Read(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No retention data is fine
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var blockType string
	var fields map[string]string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasSuffix(line, "{") {
			blockType = strings.TrimSpace(strings.TrimSuffix(line, "{"))
			fields = make(map[string]string)
			continue
		}

		if line == "}" {
			if fields != nil {
				rr.applyBlock(blockType, fields)
			}
			blockType = ""
			fields = nil
			continue
		}

		if fields != nil {
			idx := strings.IndexByte(line, '=')
			if idx > 0 {
				fields[line[:idx]] = line[idx+1:]
			}
		}
	}
	return scanner.Err()
}

func (rr *RetentionReader) applyBlock(blockType string, fields map[string]string) {
	switch blockType {
	case "program":
		rr.applyProgram(fields)
	case "host":
		rr.applyHost(fields)
	case "service":
		rr.applyService(fields)
	case "contact":
		rr.applyContact(fields)
	case "hostcomment", "servicecomment":
		rr.applyComment(fields, blockType)
	case "hostdowntime", "servicedowntime":
		rr.applyDowntimeBlock(fields, blockType)
	}
}

func (rr *RetentionReader) applyProgram(f map[string]string) {
	g := rr.Global
	if v, ok := f["enable_notifications"]; ok {
		g.EnableNotifications = v == "1"
	}
	if v, ok := f["active_service_checks_enabled"]; ok {
		g.ExecuteServiceChecks = v == "1"
	}
	if v, ok := f["passive_service_checks_enabled"]; ok {
		g.AcceptPassiveServiceChecks = v == "1"
	}
	if v, ok := f["active_host_checks_enabled"]; ok {
		g.ExecuteHostChecks = v == "1"
	}
	if v, ok := f["passive_host_checks_enabled"]; ok {
		g.AcceptPassiveHostChecks = v == "1"
	}
	if v, ok := f["enable_event_handlers"]; ok {
		g.EnableEventHandlers = v == "1"
	}
	if v, ok := f["enable_flap_detection"]; ok {
		g.EnableFlapDetection = v == "1"
	}
	if v, ok := f["process_performance_data"]; ok {
		g.ProcessPerformanceData = v == "1"
	}
	if v, ok := f["next_comment_id"]; ok {
		g.NextCommentID = parseUint64(v)
	}
	if v, ok := f["next_downtime_id"]; ok {
		g.NextDowntimeID = parseUint64(v)
	}
	if v, ok := f["next_event_id"]; ok {
		g.NextEventID = parseUint64(v)
	}
	if v, ok := f["next_problem_id"]; ok {
		g.NextProblemID = parseUint64(v)
	}
	if v, ok := f["next_notification_id"]; ok {
		g.NextNotificationID = parseUint64(v)
	}
}

// commonSetters wires the shared retention-block parsing logic in
// applyCommon to whichever concrete Host or Service field each value
// belongs on, so the ~25 identical "if v, ok := f[...]; ok { x.Y = ... }"
// assignments aren't written out twice.
type commonSetters struct {
	currentState, lastState, lastHardState, stateType, currentAttempt func(int)
	hasBeenChecked                                                    func(bool)
	pluginOutput, longPluginOutput, perfData                          func(string)
	lastCheck, nextCheck, lastStateChange, lastHardStateChange        func(time.Time)
	lastNotification, nextNotification, ackExpireTime                 func(time.Time)
	notifNumber                                                       func(int)
	notifID                                                           func(uint64)
	notificationsEnabled, activeChecksEnabled, passiveChecksEnabled   func(bool)
	problemAcknowledged                                               func(bool)
	ackType                                                           func(int)
	isFlapping, checkFlapRecoveryNotif                                func(bool)
	percentStateChange                                                func(float64)
	downtimeDepth, pendingFlexDowntime                                func(int)
	stateHistory                                                      func(string)
}

func (rr *RetentionReader) applyCommon(f map[string]string, modAttrs uint64, s commonSetters) {
	if v, ok := f["current_state"]; ok {
		s.currentState(parseInt(v))
	}
	if v, ok := f["last_state"]; ok {
		s.lastState(parseInt(v))
	}
	if v, ok := f["last_hard_state"]; ok {
		s.lastHardState(parseInt(v))
	}
	if v, ok := f["state_type"]; ok {
		s.stateType(parseInt(v))
	}
	if v, ok := f["current_attempt"]; ok {
		s.currentAttempt(parseInt(v))
	}
	if v, ok := f["has_been_checked"]; ok {
		s.hasBeenChecked(v == "1")
	}
	if v, ok := f["plugin_output"]; ok {
		s.pluginOutput(unescapeText(v))
	}
	if v, ok := f["long_plugin_output"]; ok {
		s.longPluginOutput(unescapeText(v))
	}
	if v, ok := f["performance_data"]; ok {
		s.perfData(unescapeText(v))
	}
	if v, ok := f["last_check"]; ok {
		s.lastCheck(unixToTime(v))
	}
	if v, ok := f["next_check"]; ok {
		s.nextCheck(unixToTime(v))
	}
	if v, ok := f["last_state_change"]; ok {
		s.lastStateChange(unixToTime(v))
	}
	if v, ok := f["last_hard_state_change"]; ok {
		s.lastHardStateChange(unixToTime(v))
	}
	if v, ok := f["last_notification"]; ok {
		s.lastNotification(unixToTime(v))
	}
	if v, ok := f["next_notification"]; ok {
		s.nextNotification(unixToTime(v))
	}
	if v, ok := f["current_notification_number"]; ok {
		s.notifNumber(parseInt(v))
	}
	if v, ok := f["current_notification_id"]; ok {
		s.notifID(parseUint64(v))
	}
	// Only override config-level toggles (notifications, active/passive
	// checks) if an admin explicitly changed them (modified_attributes != 0).
	if modAttrs != 0 {
		if v, ok := f["notifications_enabled"]; ok {
			s.notificationsEnabled(v == "1")
		}
		if v, ok := f["active_checks_enabled"]; ok {
			s.activeChecksEnabled(v == "1")
		}
		if v, ok := f["passive_checks_enabled"]; ok {
			s.passiveChecksEnabled(v == "1")
		}
	}
	if v, ok := f["problem_has_been_acknowledged"]; ok {
		s.problemAcknowledged(v == "1")
	}
	if v, ok := f["acknowledgement_type"]; ok {
		s.ackType(parseInt(v))
	}
	if v, ok := f["acknowledgement_end_time"]; ok {
		s.ackExpireTime(unixToTime(v))
	}
	if v, ok := f["is_flapping"]; ok {
		s.isFlapping(v == "1")
	}
	if v, ok := f["percent_state_change"]; ok {
		s.percentStateChange(parseFloat(v))
	}
	if v, ok := f["scheduled_downtime_depth"]; ok {
		s.downtimeDepth(parseInt(v))
	}
	if v, ok := f["pending_flex_downtime"]; ok {
		s.pendingFlexDowntime(parseInt(v))
	}
	if v, ok := f["check_flapping_recovery_notification"]; ok {
		s.checkFlapRecoveryNotif(v == "1")
	}
	if v, ok := f["state_history"]; ok {
		s.stateHistory(v)
	}
}

func (rr *RetentionReader) applyHost(f map[string]string) {
	h := rr.Store.GetHost(f["host_name"])
	if h == nil {
		return
	}
	modAttrs := parseUint64(f["modified_attributes"])
	rr.applyCommon(f, modAttrs, commonSetters{
		currentState: func(v int) { h.CurrentState = v }, lastState: func(v int) { h.LastState = v },
		lastHardState: func(v int) { h.LastHardState = v }, stateType: func(v int) { h.StateType = v },
		currentAttempt: func(v int) { h.CurrentAttempt = v }, hasBeenChecked: func(v bool) { h.HasBeenChecked = v },
		pluginOutput: func(v string) { h.PluginOutput = v }, longPluginOutput: func(v string) { h.LongPluginOutput = v },
		perfData: func(v string) { h.PerfData = v }, lastCheck: func(v time.Time) { h.LastCheck = v },
		nextCheck: func(v time.Time) { h.NextCheck = v }, lastStateChange: func(v time.Time) { h.LastStateChange = v },
		lastHardStateChange: func(v time.Time) { h.LastHardStateChange = v },
		lastNotification:    func(v time.Time) { h.LastNotification = v },
		nextNotification:    func(v time.Time) { h.NextNotification = v },
		notifNumber:         func(v int) { h.CurrentNotificationNumber = v },
		notifID:             func(v uint64) { h.CurrentNotificationID = v },
		notificationsEnabled: func(v bool) { h.NotificationsEnabled = v },
		activeChecksEnabled:  func(v bool) { h.ActiveChecksEnabled = v },
		passiveChecksEnabled: func(v bool) { h.PassiveChecksEnabled = v },
		problemAcknowledged:  func(v bool) { h.ProblemAcknowledged = v },
		ackType:              func(v int) { h.AckType = v },
		ackExpireTime:        func(v time.Time) { h.AckExpireTime = v },
		isFlapping:           func(v bool) { h.IsFlapping = v },
		percentStateChange:   func(v float64) { h.PercentStateChange = v },
		downtimeDepth:        func(v int) { h.ScheduledDowntimeDepth = v },
		pendingFlexDowntime:  func(v int) { h.PendingFlexDowntime = v },
		checkFlapRecoveryNotif: func(v bool) { h.CheckFlapRecoveryNotif = v },
		stateHistory:         func(v string) { rr.parseStateHistory(v, h.StateHistory[:]) },
	})

	var notified uint32
	if f["notified_on_down"] == "1" {
		notified |= objects.OptDown
	}
	if f["notified_on_unreachable"] == "1" {
		notified |= objects.OptUnreachable
	}
	h.NotifiedOn = notified
}

func (rr *RetentionReader) applyService(f map[string]string) {
	s := rr.Store.GetService(f["host_name"], f["service_description"])
	if s == nil {
		return
	}
	modAttrs := parseUint64(f["modified_attributes"])
	rr.applyCommon(f, modAttrs, commonSetters{
		currentState: func(v int) { s.CurrentState = v }, lastState: func(v int) { s.LastState = v },
		lastHardState: func(v int) { s.LastHardState = v }, stateType: func(v int) { s.StateType = v },
		currentAttempt: func(v int) { s.CurrentAttempt = v }, hasBeenChecked: func(v bool) { s.HasBeenChecked = v },
		pluginOutput: func(v string) { s.PluginOutput = v }, longPluginOutput: func(v string) { s.LongPluginOutput = v },
		perfData: func(v string) { s.PerfData = v }, lastCheck: func(v time.Time) { s.LastCheck = v },
		nextCheck: func(v time.Time) { s.NextCheck = v }, lastStateChange: func(v time.Time) { s.LastStateChange = v },
		lastHardStateChange: func(v time.Time) { s.LastHardStateChange = v },
		lastNotification:    func(v time.Time) { s.LastNotification = v },
		nextNotification:    func(v time.Time) { s.NextNotification = v },
		notifNumber:         func(v int) { s.CurrentNotificationNumber = v },
		notifID:             func(v uint64) { s.CurrentNotificationID = v },
		notificationsEnabled: func(v bool) { s.NotificationsEnabled = v },
		activeChecksEnabled:  func(v bool) { s.ActiveChecksEnabled = v },
		passiveChecksEnabled: func(v bool) { s.PassiveChecksEnabled = v },
		problemAcknowledged:  func(v bool) { s.ProblemAcknowledged = v },
		ackType:              func(v int) { s.AckType = v },
		ackExpireTime:        func(v time.Time) { s.AckExpireTime = v },
		isFlapping:           func(v bool) { s.IsFlapping = v },
		percentStateChange:   func(v float64) { s.PercentStateChange = v },
		downtimeDepth:        func(v int) { s.ScheduledDowntimeDepth = v },
		pendingFlexDowntime:  func(v int) { s.PendingFlexDowntime = v },
		checkFlapRecoveryNotif: func(v bool) { s.CheckFlapRecoveryNotif = v },
		stateHistory:         func(v string) { rr.parseStateHistory(v, s.StateHistory[:]) },
	})

	var notified uint32
	if f["notified_on_unknown"] == "1" {
		notified |= objects.OptUnknown
	}
	if f["notified_on_warning"] == "1" {
		notified |= objects.OptWarning
	}
	if f["notified_on_critical"] == "1" {
		notified |= objects.OptCritical
	}
	s.NotifiedOn = notified
}

func (rr *RetentionReader) applyContact(f map[string]string) {
	name := f["contact_name"]
	c := rr.Store.GetContact(name)
	if c == nil {
		return
	}
	if v, ok := f["host_notifications_enabled"]; ok {
		c.HostNotificationsEnabled = v == "1"
	}
	if v, ok := f["service_notifications_enabled"]; ok {
		c.ServiceNotificationsEnabled = v == "1"
	}
	if v, ok := f["last_host_notification"]; ok {
		c.LastHostNotification = unixToTime(v)
	}
	if v, ok := f["last_service_notification"]; ok {
		c.LastServiceNotification = unixToTime(v)
	}
	if v, ok := f["modified_attributes"]; ok {
		c.ModifiedAttributes = parseUint64(v)
	}
}

func (rr *RetentionReader) applyComment(f map[string]string, blockType string) {
	c := &downtime.Comment{
		HostName:           f["host_name"],
		ServiceDescription: f["service_description"],
		CommentType:        objects.HostCommentType,
		EntryType:          parseInt(f["entry_type"]),
		CommentID:          parseUint64(f["comment_id"]),
		Source:             parseInt(f["source"]),
		Persistent:         f["persistent"] == "1",
		EntryTime:          unixToTime(f["entry_time"]),
		Expires:            f["expires"] == "1",
		ExpireTime:         unixToTime(f["expire_time"]),
		Author:             unescapeText(f["author"]),
		Data:               unescapeText(f["comment_data"]),
	}
	if blockType == "servicecomment" {
		c.CommentType = objects.ServiceCommentType
	}
	rr.Comments.AddWithID(c)
}

func (rr *RetentionReader) applyDowntimeBlock(f map[string]string, blockType string) {
	dtype := objects.HostDowntimeType
	if blockType == "servicedowntime" {
		dtype = objects.ServiceDowntimeType
	}
	d := &downtime.Downtime{
		Type:               dtype,
		HostName:           f["host_name"],
		ServiceDescription: f["service_description"],
		DowntimeID:         parseUint64(f["downtime_id"]),
		EntryTime:          unixToTime(f["entry_time"]),
		StartTime:          unixToTime(f["start_time"]),
		FlexDowntimeStart:  unixToTime(f["flex_downtime_start"]),
		EndTime:            unixToTime(f["end_time"]),
		TriggeredBy:        parseUint64(f["triggered_by"]),
		Fixed:              f["fixed"] == "1",
		Duration:           time.Duration(parseInt(f["duration"])) * time.Second,
		IsInEffect:         f["is_in_effect"] == "1",
		Author:             unescapeText(f["author"]),
		Comment:            unescapeText(f["comment"]),
	}
	rr.Downtimes.ScheduleWithID(d)
}

func (rr *RetentionReader) parseStateHistory(s string, hist []int) {
	parts := strings.Split(s, ",")
	for i := 0; i < len(parts) && i < len(hist); i++ {
		hist[i] = parseInt(strings.TrimSpace(parts[i]))
	}
}

func parseInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}

func parseUint64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func unixToTime(s string) time.Time {
	v := parseInt(s)
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(int64(v), 0)
}
