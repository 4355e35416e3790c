// Package status implements status.dat and retention.dat file I/O.
package status

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corvidwatch/sentryd/internal/downtime"
	"github.com/corvidwatch/sentryd/internal/objects"
)

// StatusWriter writes Nagios-compatible status.dat files.
type StatusWriter struct {
	Path      string
	Store     *objects.ObjectStore
	Global    *objects.GlobalState
	Comments  *downtime.CommentManager
	Downtimes *downtime.DowntimeManager
	Version   string
}

// Write atomically writes the status.dat file.
func (sw *StatusWriter) Write() error {
	// Always create the temp file alongside the target so os.Rename
	// never crosses filesystem boundaries.
	dir := filepath.Dir(sw.Path)
	tmp, err := os.CreateTemp(dir, "status.dat.tmp.*")
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

	// info block
	b.WriteString("info {\n")
	fmt.Fprintf(&b, "\tcreated=%d\n", now.Unix())
	fmt.Fprintf(&b, "\tversion=%s\n", sw.Version)
	b.WriteString("\t}\n\n")

	// programstatus block
	sw.writeProgramStatus(&b)

	// hosts
	for _, h := range sw.Store.Hosts {
		sw.writeHostStatus(&b, h)
	}

	// services
	for _, s := range sw.Store.Services {
		sw.writeServiceStatus(&b, s)
	}

	// comments
	for _, c := range sw.Comments.All() {
		sw.writeComment(&b, c)
	}

	// downtimes
	for _, d := range sw.Downtimes.All() {
		sw.writeDowntime(&b, d)
	}

	if _, err := tmp.WriteString(b.String()); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmp = nil

	if err := os.Rename(tmpName, sw.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (sw *StatusWriter) writeProgramStatus(b *strings.Builder) {
	g := sw.Global
	b.WriteString("programstatus {\n")
	fmt.Fprintf(b, "\tnagios_pid=%d\n", g.PID)
	fmt.Fprintf(b, "\tdaemon_mode=%s\n", boolStr(g.DaemonMode))
	fmt.Fprintf(b, "\tprogram_start=%d\n", g.ProgramStart.Unix())
	fmt.Fprintf(b, "\tenable_notifications=%s\n", boolStr(g.EnableNotifications))
	fmt.Fprintf(b, "\tactive_service_checks_enabled=%s\n", boolStr(g.ExecuteServiceChecks))
	fmt.Fprintf(b, "\tpassive_service_checks_enabled=%s\n", boolStr(g.AcceptPassiveServiceChecks))
	fmt.Fprintf(b, "\tactive_host_checks_enabled=%s\n", boolStr(g.ExecuteHostChecks))
	fmt.Fprintf(b, "\tpassive_host_checks_enabled=%s\n", boolStr(g.AcceptPassiveHostChecks))
	fmt.Fprintf(b, "\tenable_event_handlers=%s\n", boolStr(g.EnableEventHandlers))
	fmt.Fprintf(b, "\tobsess_over_services=%s\n", boolStr(g.ObsessOverServices))
	fmt.Fprintf(b, "\tobsess_over_hosts=%s\n", boolStr(g.ObsessOverHosts))
	fmt.Fprintf(b, "\tcheck_service_freshness=%s\n", boolStr(g.CheckServiceFreshness))
	fmt.Fprintf(b, "\tcheck_host_freshness=%s\n", boolStr(g.CheckHostFreshness))
	fmt.Fprintf(b, "\tenable_flap_detection=%s\n", boolStr(g.EnableFlapDetection))
	fmt.Fprintf(b, "\tprocess_performance_data=%s\n", boolStr(g.ProcessPerformanceData))
	fmt.Fprintf(b, "\tglobal_host_event_handler=%s\n", g.GlobalHostEventHandler)
	fmt.Fprintf(b, "\tglobal_service_event_handler=%s\n", g.GlobalServiceEventHandler)
	fmt.Fprintf(b, "\tnext_comment_id=%d\n", g.NextCommentID)
	fmt.Fprintf(b, "\tnext_downtime_id=%d\n", g.NextDowntimeID)
	fmt.Fprintf(b, "\tnext_event_id=%d\n", g.NextEventID)
	fmt.Fprintf(b, "\tnext_problem_id=%d\n", g.NextProblemID)
	fmt.Fprintf(b, "\tnext_notification_id=%d\n", g.NextNotificationID)
	b.WriteString("\t}\n\n")
}

// statusCommon holds the hoststatus/servicestatus fields that share both
// name and meaning, letting writeHostStatus/writeServiceStatus each build
// one of these and hand off the shared bulk to writeStatusBody instead of
// repeating the same ~30 Fprintf calls twice.
type statusCommon struct {
	modifiedAttributes                                  uint64
	checkCommand                                         *objects.Command
	checkCommandArgs                                     string
	checkPeriod, notificationPeriod                      *objects.Timeperiod
	checkInterval, retryInterval                         float64
	eventHandler                                         *objects.Command
	hasBeenChecked, shouldBeScheduled                    bool
	executionTime, latency                               float64
	checkType, currentState, lastHardState               int
	pluginOutput, longPluginOutput, perfData             string
	lastCheck, nextCheck                                 time.Time
	currentAttempt, maxCheckAttempts, stateType           int
	lastStateChange, lastHardStateChange                 time.Time
	lastNotification, nextNotification                   time.Time
	noMoreNotifications                                  bool
	notifNumber                                          int
	notifID                                              uint64
	notificationsEnabled, problemAcknowledged            bool
	ackType                                              int
	activeChecksEnabled, passiveChecksEnabled            bool
	eventHandlerEnabled, flapDetectionEnabled            bool
	processPerfData, obsessOver, isFlapping              bool
	percentStateChange                                   float64
	downtimeDepth                                        int
	customVars                                           map[string]string
}

func writeStatusBody(b *strings.Builder, c statusCommon) {
	fmt.Fprintf(b, "\tmodified_attributes=%d\n", c.modifiedAttributes)
	writeCheckCommand(b, c.checkCommand, c.checkCommandArgs)
	writeTimeperiodName(b, "check_period", c.checkPeriod)
	writeTimeperiodName(b, "notification_period", c.notificationPeriod)
	fmt.Fprintf(b, "\tcheck_interval=%f\n", c.checkInterval)
	fmt.Fprintf(b, "\tretry_interval=%f\n", c.retryInterval)
	writeCommandName(b, "event_handler", c.eventHandler)
	fmt.Fprintf(b, "\thas_been_checked=%s\n", boolStr(c.hasBeenChecked))
	fmt.Fprintf(b, "\tshould_be_scheduled=%s\n", boolStr(c.shouldBeScheduled))
	fmt.Fprintf(b, "\tcheck_execution_time=%f\n", c.executionTime)
	fmt.Fprintf(b, "\tcheck_latency=%f\n", c.latency)
	fmt.Fprintf(b, "\tcheck_type=%d\n", c.checkType)
	fmt.Fprintf(b, "\tcurrent_state=%d\n", c.currentState)
	fmt.Fprintf(b, "\tlast_hard_state=%d\n", c.lastHardState)
	fmt.Fprintf(b, "\tplugin_output=%s\n", c.pluginOutput)
	fmt.Fprintf(b, "\tlong_plugin_output=%s\n", c.longPluginOutput)
	fmt.Fprintf(b, "\tperformance_data=%s\n", c.perfData)
	fmt.Fprintf(b, "\tlast_check=%d\n", timeToUnix(c.lastCheck))
	fmt.Fprintf(b, "\tnext_check=%d\n", timeToUnix(c.nextCheck))
	fmt.Fprintf(b, "\tcurrent_attempt=%d\n", c.currentAttempt)
	fmt.Fprintf(b, "\tmax_attempts=%d\n", c.maxCheckAttempts)
	fmt.Fprintf(b, "\tstate_type=%d\n", c.stateType)
	fmt.Fprintf(b, "\tlast_state_change=%d\n", timeToUnix(c.lastStateChange))
	fmt.Fprintf(b, "\tlast_hard_state_change=%d\n", timeToUnix(c.lastHardStateChange))
}

func writeStatusTail(b *strings.Builder, c statusCommon) {
	fmt.Fprintf(b, "\tlast_notification=%d\n", timeToUnix(c.lastNotification))
	fmt.Fprintf(b, "\tnext_notification=%d\n", timeToUnix(c.nextNotification))
	fmt.Fprintf(b, "\tno_more_notifications=%s\n", boolStr(c.noMoreNotifications))
	fmt.Fprintf(b, "\tcurrent_notification_number=%d\n", c.notifNumber)
	fmt.Fprintf(b, "\tcurrent_notification_id=%d\n", c.notifID)
	fmt.Fprintf(b, "\tnotifications_enabled=%s\n", boolStr(c.notificationsEnabled))
	fmt.Fprintf(b, "\tproblem_has_been_acknowledged=%s\n", boolStr(c.problemAcknowledged))
	fmt.Fprintf(b, "\tacknowledgement_type=%d\n", c.ackType)
	fmt.Fprintf(b, "\tactive_checks_enabled=%s\n", boolStr(c.activeChecksEnabled))
	fmt.Fprintf(b, "\tpassive_checks_enabled=%s\n", boolStr(c.passiveChecksEnabled))
	fmt.Fprintf(b, "\tevent_handler_enabled=%s\n", boolStr(c.eventHandlerEnabled))
	fmt.Fprintf(b, "\tflap_detection_enabled=%s\n", boolStr(c.flapDetectionEnabled))
	fmt.Fprintf(b, "\tprocess_performance_data=%s\n", boolStr(c.processPerfData))
	fmt.Fprintf(b, "\tobsess=%s\n", boolStr(c.obsessOver))
	fmt.Fprintf(b, "\tis_flapping=%s\n", boolStr(c.isFlapping))
	fmt.Fprintf(b, "\tpercent_state_change=%f\n", c.percentStateChange)
	fmt.Fprintf(b, "\tscheduled_downtime_depth=%d\n", c.downtimeDepth)
	for k, v := range c.customVars {
		fmt.Fprintf(b, "\t_%s=%d;%s\n", k, 0, v)
	}
}

func (sw *StatusWriter) writeHostStatus(b *strings.Builder, h *objects.Host) {
	c := statusCommon{
		modifiedAttributes: h.ModifiedAttributes, checkCommand: h.CheckCommand, checkCommandArgs: h.CheckCommandArgs,
		checkPeriod: h.CheckPeriod, notificationPeriod: h.NotificationPeriod,
		checkInterval: h.CheckInterval, retryInterval: h.RetryInterval, eventHandler: h.EventHandler,
		hasBeenChecked: h.HasBeenChecked, shouldBeScheduled: h.ShouldBeScheduled,
		executionTime: h.ExecutionTime, latency: h.Latency, checkType: h.CheckType,
		currentState: h.CurrentState, lastHardState: h.LastHardState, pluginOutput: h.PluginOutput,
		longPluginOutput: h.LongPluginOutput, perfData: h.PerfData, lastCheck: h.LastCheck, nextCheck: h.NextCheck,
		currentAttempt: h.CurrentAttempt, maxCheckAttempts: h.MaxCheckAttempts, stateType: h.StateType,
		lastStateChange: h.LastStateChange, lastHardStateChange: h.LastHardStateChange,
		lastNotification: h.LastNotification, nextNotification: h.NextNotification,
		noMoreNotifications: h.NoMoreNotifications, notifNumber: h.CurrentNotificationNumber,
		notifID: h.CurrentNotificationID, notificationsEnabled: h.NotificationsEnabled,
		problemAcknowledged: h.ProblemAcknowledged, ackType: h.AckType,
		activeChecksEnabled: h.ActiveChecksEnabled, passiveChecksEnabled: h.PassiveChecksEnabled,
		eventHandlerEnabled: h.EventHandlerEnabled, flapDetectionEnabled: h.FlapDetectionEnabled,
		processPerfData: h.ProcessPerfData, obsessOver: h.ObsessOver, isFlapping: h.IsFlapping,
		percentStateChange: h.PercentStateChange, downtimeDepth: h.ScheduledDowntimeDepth, customVars: h.CustomVars,
	}
	b.WriteString("hoststatus {\n")
	fmt.Fprintf(b, "\thost_name=%s\n", h.Name)
	writeStatusBody(b, c)
	fmt.Fprintf(b, "\tlast_time_up=%d\n", timeToUnix(h.LastTimeUp))
	fmt.Fprintf(b, "\tlast_time_down=%d\n", timeToUnix(h.LastTimeDown))
	fmt.Fprintf(b, "\tlast_time_unreachable=%d\n", timeToUnix(h.LastTimeUnreachable))
	writeStatusTail(b, c)
	b.WriteString("\t}\n\n")
}

func (sw *StatusWriter) writeServiceStatus(b *strings.Builder, s *objects.Service) {
	hostName := ""
	if s.Host != nil {
		hostName = s.Host.Name
	}
	c := statusCommon{
		modifiedAttributes: s.ModifiedAttributes, checkCommand: s.CheckCommand, checkCommandArgs: s.CheckCommandArgs,
		checkPeriod: s.CheckPeriod, notificationPeriod: s.NotificationPeriod,
		checkInterval: s.CheckInterval, retryInterval: s.RetryInterval, eventHandler: s.EventHandler,
		hasBeenChecked: s.HasBeenChecked, shouldBeScheduled: s.ShouldBeScheduled,
		executionTime: s.ExecutionTime, latency: s.Latency, checkType: s.CheckType,
		currentState: s.CurrentState, lastHardState: s.LastHardState, pluginOutput: s.PluginOutput,
		longPluginOutput: s.LongPluginOutput, perfData: s.PerfData, lastCheck: s.LastCheck, nextCheck: s.NextCheck,
		currentAttempt: s.CurrentAttempt, maxCheckAttempts: s.MaxCheckAttempts, stateType: s.StateType,
		lastStateChange: s.LastStateChange, lastHardStateChange: s.LastHardStateChange,
		lastNotification: s.LastNotification, nextNotification: s.NextNotification,
		noMoreNotifications: s.NoMoreNotifications, notifNumber: s.CurrentNotificationNumber,
		notifID: s.CurrentNotificationID, notificationsEnabled: s.NotificationsEnabled,
		problemAcknowledged: s.ProblemAcknowledged, ackType: s.AckType,
		activeChecksEnabled: s.ActiveChecksEnabled, passiveChecksEnabled: s.PassiveChecksEnabled,
		eventHandlerEnabled: s.EventHandlerEnabled, flapDetectionEnabled: s.FlapDetectionEnabled,
		processPerfData: s.ProcessPerfData, obsessOver: s.ObsessOver, isFlapping: s.IsFlapping,
		percentStateChange: s.PercentStateChange, downtimeDepth: s.ScheduledDowntimeDepth, customVars: s.CustomVars,
	}
	b.WriteString("servicestatus {\n")
	fmt.Fprintf(b, "\thost_name=%s\n", hostName)
	fmt.Fprintf(b, "\tservice_description=%s\n", s.Description)
	writeStatusBody(b, c)
	fmt.Fprintf(b, "\tlast_time_ok=%d\n", timeToUnix(s.LastTimeOK))
	fmt.Fprintf(b, "\tlast_time_warning=%d\n", timeToUnix(s.LastTimeWarning))
	fmt.Fprintf(b, "\tlast_time_critical=%d\n", timeToUnix(s.LastTimeCritical))
	fmt.Fprintf(b, "\tlast_time_unknown=%d\n", timeToUnix(s.LastTimeUnknown))
	writeStatusTail(b, c)
	b.WriteString("\t}\n\n")
}

func (sw *StatusWriter) writeComment(b *strings.Builder, c *downtime.Comment) {
	blockName := "hostcomment"
	if c.CommentType == objects.ServiceCommentType {
		blockName = "servicecomment"
	}
	fmt.Fprintf(b, "%s {\n", blockName)
	fmt.Fprintf(b, "\thost_name=%s\n", c.HostName)
	if c.CommentType == objects.ServiceCommentType {
		fmt.Fprintf(b, "\tservice_description=%s\n", c.ServiceDescription)
	}
	fmt.Fprintf(b, "\tentry_type=%d\n", c.EntryType)
	fmt.Fprintf(b, "\tcomment_id=%d\n", c.CommentID)
	fmt.Fprintf(b, "\tsource=%d\n", c.Source)
	fmt.Fprintf(b, "\tpersistent=%s\n", boolStr(c.Persistent))
	fmt.Fprintf(b, "\tentry_time=%d\n", c.EntryTime.Unix())
	fmt.Fprintf(b, "\texpires=%s\n", boolStr(c.Expires))
	fmt.Fprintf(b, "\texpire_time=%d\n", timeToUnix(c.ExpireTime))
	fmt.Fprintf(b, "\tauthor=%s\n", c.Author)
	fmt.Fprintf(b, "\tcomment_data=%s\n", c.Data)
	b.WriteString("\t}\n\n")
}

func (sw *StatusWriter) writeDowntime(b *strings.Builder, d *downtime.Downtime) {
	blockName := "hostdowntime"
	if d.Type == objects.ServiceDowntimeType {
		blockName = "servicedowntime"
	}
	fmt.Fprintf(b, "%s {\n", blockName)
	fmt.Fprintf(b, "\thost_name=%s\n", d.HostName)
	if d.Type == objects.ServiceDowntimeType {
		fmt.Fprintf(b, "\tservice_description=%s\n", d.ServiceDescription)
	}
	fmt.Fprintf(b, "\tdowntime_id=%d\n", d.DowntimeID)
	fmt.Fprintf(b, "\tentry_time=%d\n", d.EntryTime.Unix())
	fmt.Fprintf(b, "\tstart_time=%d\n", d.StartTime.Unix())
	fmt.Fprintf(b, "\tend_time=%d\n", d.EndTime.Unix())
	fmt.Fprintf(b, "\ttriggered_by=%d\n", d.TriggeredBy)
	fmt.Fprintf(b, "\tfixed=%s\n", boolStr(d.Fixed))
	fmt.Fprintf(b, "\tduration=%d\n", int64(d.Duration.Seconds()))
	fmt.Fprintf(b, "\tis_in_effect=%s\n", boolStr(d.IsInEffect))
	fmt.Fprintf(b, "\tauthor=%s\n", d.Author)
	fmt.Fprintf(b, "\tcomment=%s\n", d.Comment)
	b.WriteString("\t}\n\n")
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func timeToUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func writeCheckCommand(b *strings.Builder, cmd *objects.Command, args string) {
	name := ""
	if cmd != nil {
		name = cmd.Name
	}
	if args != "" {
		name += "!" + args
	}
	fmt.Fprintf(b, "\tcheck_command=%s\n", name)
}

func writeTimeperiodName(b *strings.Builder, field string, tp *objects.Timeperiod) {
	name := ""
	if tp != nil {
		name = tp.Name
	}
	fmt.Fprintf(b, "\t%s=%s\n", field, name)
}

func writeCommandName(b *strings.Builder, field string, cmd *objects.Command) {
	name := ""
	if cmd != nil {
		name = cmd.Name
	}
	fmt.Fprintf(b, "\t%s=%s\n", field, name)
}
