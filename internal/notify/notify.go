package notify

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/corvidwatch/sentryd/internal/dependency"
	"github.com/corvidwatch/sentryd/internal/objects"
	"github.com/corvidwatch/sentryd/internal/timeperiod"
)

// Logger interface for notification logging.
type Logger interface {
	Log(format string, args ...interface{})
}

// NotificationEngine handles all notification logic.
type NotificationEngine struct {
	GlobalState *objects.GlobalState
	Store       *objects.ObjectStore
	Logger      Logger
	CmdExecutor *CommandExecutor
	nextNotifID atomic.Uint64
}

// NewNotificationEngine creates a new notification engine.
func NewNotificationEngine(gs *objects.GlobalState, store *objects.ObjectStore, logger Logger) *NotificationEngine {
	return &NotificationEngine{
		GlobalState: gs,
		Store:       store,
		Logger:      logger,
		CmdExecutor: NewCommandExecutor(30 * time.Second),
	}
}

// SetNextNotificationID sets the next notification ID (from retention).
func (ne *NotificationEngine) SetNextNotificationID(id uint64) {
	ne.nextNotifID.Store(id)
}

// NextNotificationID returns the current next notification ID.
func (ne *NotificationEngine) NextNotificationID() uint64 {
	return ne.nextNotifID.Load()
}

func (ne *NotificationEngine) log(format string, args ...interface{}) {
	if ne.Logger != nil {
		ne.Logger.Log(format, args...)
	}
}

func (ne *NotificationEngine) intervalLength() int {
	if ne.GlobalState != nil && ne.GlobalState.IntervalLength > 0 {
		return ne.GlobalState.IntervalLength
	}
	return 60
}

func (ne *NotificationEngine) softStateDeps() bool {
	if ne.GlobalState != nil {
		return ne.GlobalState.SoftStateDependencies
	}
	return false
}

// ServiceNotification is the main entry point for sending service notifications.
func (ne *NotificationEngine) ServiceNotification(svc *objects.Service, ntype int, author, data string, options int) int {
	if ne.checkServiceNotificationViability(svc, ntype, options) != 0 {
		return 1
	}

	if ntype == objects.NotificationNormal || options&objects.NotificationOptionIncrement != 0 {
		svc.CurrentNotificationNumber++
	}
	svc.CurrentNotificationID = ne.nextNotifID.Add(1) - 1

	contacts := ne.createServiceNotificationList(svc, options)

	contactsNotified := 0
	now := time.Now()
	typeName := objects.NotificationTypeName(ntype, svc.CurrentState, false)

	for _, contact := range contacts {
		if ne.checkContactServiceViability(contact, svc, ntype, options) != 0 {
			continue
		}
		ne.notifyContactOfService(contact, svc, ntype, typeName, author, data)
		contactsNotified++
	}

	if ntype == objects.NotificationNormal && contactsNotified > 0 {
		svc.NextNotification = GetNextServiceNotificationTime(svc, now, ne.intervalLength())
		svc.LastNotification = now
		switch svc.CurrentState {
		case objects.ServiceWarning:
			svc.NotifiedOn |= objects.OptWarning
		case objects.ServiceCritical:
			svc.NotifiedOn |= objects.OptCritical
		case objects.ServiceUnknown:
			svc.NotifiedOn |= objects.OptUnknown
		case objects.ServiceOK:
			svc.NotifiedOn = 0
			svc.CurrentNotificationNumber = 0
			svc.NoMoreNotifications = false
		}
	}

	if contactsNotified == 0 && (ntype == objects.NotificationNormal || options&objects.NotificationOptionIncrement != 0) {
		svc.CurrentNotificationNumber--
		if svc.CurrentNotificationNumber < 0 {
			svc.CurrentNotificationNumber = 0
		}
	}

	return 0
}

// HostNotification is the main entry point for sending host notifications.
func (ne *NotificationEngine) HostNotification(hst *objects.Host, ntype int, author, data string, options int) int {
	if ne.checkHostNotificationViability(hst, ntype, options) != 0 {
		return 1
	}

	if ntype == objects.NotificationNormal || options&objects.NotificationOptionIncrement != 0 {
		hst.CurrentNotificationNumber++
	}
	hst.CurrentNotificationID = ne.nextNotifID.Add(1) - 1

	contacts := ne.createHostNotificationList(hst, options)

	contactsNotified := 0
	now := time.Now()
	typeName := objects.NotificationTypeName(ntype, hst.CurrentState, true)

	for _, contact := range contacts {
		if ne.checkContactHostViability(contact, hst, ntype, options) != 0 {
			continue
		}
		ne.notifyContactOfHost(contact, hst, ntype, typeName, author, data)
		contactsNotified++
	}

	if ntype == objects.NotificationNormal && contactsNotified > 0 {
		hst.NextNotification = GetNextHostNotificationTime(hst, now, ne.intervalLength())
		hst.LastNotification = now
		switch hst.CurrentState {
		case objects.HostDown:
			hst.NotifiedOn |= objects.OptDown
		case objects.HostUnreachable:
			hst.NotifiedOn |= objects.OptUnreachable
		case objects.HostUp:
			hst.NotifiedOn = 0
			hst.CurrentNotificationNumber = 0
			hst.NoMoreNotifications = false
		}
	}

	if contactsNotified == 0 && (ntype == objects.NotificationNormal || options&objects.NotificationOptionIncrement != 0) {
		hst.CurrentNotificationNumber--
		if hst.CurrentNotificationNumber < 0 {
			hst.CurrentNotificationNumber = 0
		}
	}

	return 0
}

// notificationTypeOverride handles the ntype dispatch shared by the service
// and host notification-viability ladders: custom/acknowledgement/flapping/
// downtime notifications all short-circuit before the NORMAL-type checks
// that follow in the caller. handled is false for NORMAL, meaning the
// caller should keep evaluating its own remaining filters.
func notificationTypeOverride(ntype int, notifyOpts uint32, currentStateOK, customBlocked, ownDowntimeActive bool) (result int, handled bool) {
	switch ntype {
	case objects.NotificationCustom:
		if customBlocked {
			return 1, true
		}
		return 0, true
	case objects.NotificationAcknowledgement:
		if currentStateOK {
			return 1, true
		}
		return 0, true
	case objects.NotificationFlappingStart, objects.NotificationFlappingStop, objects.NotificationFlappingDisabled:
		if notifyOpts&objects.OptFlapping == 0 || ownDowntimeActive {
			return 1, true
		}
		return 0, true
	case objects.NotificationDowntimeStart, objects.NotificationDowntimeEnd, objects.NotificationDowntimeCancelled:
		if notifyOpts&objects.OptDowntime == 0 || ownDowntimeActive {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// checkServiceNotificationViability implements the exact filter order from Nagios.
func (ne *NotificationEngine) checkServiceNotificationViability(svc *objects.Service, ntype int, options int) int {
	if options&objects.NotificationOptionForced != 0 {
		return 0
	}
	if ne.GlobalState != nil && !ne.GlobalState.EnableNotifications {
		return 1
	}
	if svc.Host == nil {
		return 1
	}

	if len(svc.ServiceParents) > 0 {
		allBad := true
		for _, parent := range svc.ServiceParents {
			if parent.CurrentState == objects.ServiceOK {
				allBad = false
				break
			}
		}
		if allBad {
			return 1
		}
	}

	if svc.NotificationPeriod != nil && !timeperiod.Contains(svc.NotificationPeriod, time.Now()) {
		return 1
	}
	if !svc.NotificationsEnabled {
		return 1
	}

	customBlocked := svc.ScheduledDowntimeDepth > 0 || svc.Host.ScheduledDowntimeDepth > 0
	if result, handled := notificationTypeOverride(ntype, svc.NotificationOptions, svc.CurrentState == objects.ServiceOK, customBlocked, svc.ScheduledDowntimeDepth > 0); handled {
		return result
	}

	// NORMAL notifications: must be HARD state.
	if svc.StateType != objects.StateTypeHard {
		return 1
	}
	if svc.ProblemAcknowledged {
		return 1
	}
	if dependency.CheckServiceDependencies(svc, objects.NotificationDependency, ne.softStateDeps()) != dependency.DependenciesOK {
		return 1
	}
	if !objects.StateMatchesSvcOptions(svc.CurrentState, svc.NotificationOptions) {
		return 1
	}
	if svc.CurrentState == objects.ServiceOK && svc.NotifiedOn == 0 {
		return 1
	}

	if svc.CurrentNotificationNumber == 0 && svc.CurrentState != objects.ServiceOK {
		if svc.FirstNotificationDelay > 0 && !svc.FirstProblemTime.IsZero() {
			delaySeconds := svc.FirstNotificationDelay * float64(ne.intervalLength())
			if time.Since(svc.FirstProblemTime).Seconds() < delaySeconds {
				return 1
			}
		}
	}

	if svc.IsFlapping {
		return 1
	}
	if svc.CurrentState == objects.ServiceOK {
		return 0 // recovery passes at this point
	}

	if svc.NotificationInterval == 0 && svc.NoMoreNotifications {
		return 1
	}
	if svc.Host.CurrentState != objects.HostUp {
		return 1
	}

	now := time.Now()
	if !svc.IsVolatile && !svc.NextNotification.IsZero() && now.Before(svc.NextNotification) {
		return 1
	}
	if svc.ScheduledDowntimeDepth > 0 {
		return 1
	}
	if svc.Host.ScheduledDowntimeDepth > 0 {
		return 1
	}

	return 0
}

// checkHostNotificationViability implements host notification filters.
func (ne *NotificationEngine) checkHostNotificationViability(hst *objects.Host, ntype int, options int) int {
	if options&objects.NotificationOptionForced != 0 {
		return 0
	}
	if ne.GlobalState != nil && !ne.GlobalState.EnableNotifications {
		return 1
	}
	if hst.NotificationPeriod != nil && !timeperiod.Contains(hst.NotificationPeriod, time.Now()) {
		return 1
	}
	if !hst.NotificationsEnabled {
		return 1
	}

	if result, handled := notificationTypeOverride(ntype, hst.NotificationOptions, hst.CurrentState == objects.HostUp, hst.ScheduledDowntimeDepth > 0, hst.ScheduledDowntimeDepth > 0); handled {
		return result
	}

	if hst.StateType != objects.StateTypeHard {
		return 1
	}
	if hst.ProblemAcknowledged {
		return 1
	}
	if dependency.CheckHostDependencies(hst, objects.NotificationDependency, ne.softStateDeps()) != dependency.DependenciesOK {
		return 1
	}
	if !objects.StateMatchesHostOptions(hst.CurrentState, hst.NotificationOptions) {
		return 1
	}
	if hst.CurrentState == objects.HostUp && hst.NotifiedOn == 0 {
		return 1
	}

	if hst.CurrentNotificationNumber == 0 && hst.CurrentState != objects.HostUp {
		if hst.FirstNotificationDelay > 0 && !hst.FirstProblemTime.IsZero() {
			delaySeconds := hst.FirstNotificationDelay * float64(ne.intervalLength())
			if time.Since(hst.FirstProblemTime).Seconds() < delaySeconds {
				return 1
			}
		}
	}

	if hst.IsFlapping {
		return 1
	}
	if hst.CurrentState == objects.HostUp {
		return 0 // recovery passes
	}

	if hst.ScheduledDowntimeDepth > 0 {
		return 1
	}
	if hst.NotificationInterval == 0 && hst.NoMoreNotifications {
		return 1
	}

	now := time.Now()
	if !hst.NextNotification.IsZero() && now.Before(hst.NextNotification) {
		return 1
	}

	return 0
}

// contactTypeOverride mirrors notificationTypeOverride at the per-contact
// level: custom notifications always pass, flapping/downtime are gated
// solely by the contact's own option bitmask (no downtime-depth check).
func contactTypeOverride(ntype int, contactOpts uint32) (result int, handled bool) {
	switch ntype {
	case objects.NotificationCustom:
		return 0, true
	case objects.NotificationFlappingStart, objects.NotificationFlappingStop, objects.NotificationFlappingDisabled:
		if contactOpts&objects.OptFlapping == 0 {
			return 1, true
		}
		return 0, true
	case objects.NotificationDowntimeStart, objects.NotificationDowntimeEnd, objects.NotificationDowntimeCancelled:
		if contactOpts&objects.OptDowntime == 0 {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// checkContactServiceViability checks per-contact filters.
func (ne *NotificationEngine) checkContactServiceViability(contact *objects.Contact, svc *objects.Service, ntype int, options int) int {
	if options&objects.NotificationOptionForced != 0 {
		return 0
	}
	if contact.MinimumImportance > 0 && svc.HourlyValue < contact.MinimumImportance {
		return 1
	}
	if !contact.ServiceNotificationsEnabled {
		return 1
	}
	if contact.ServiceNotificationPeriod != nil && !timeperiod.Contains(contact.ServiceNotificationPeriod, time.Now()) {
		return 1
	}

	if result, handled := contactTypeOverride(ntype, contact.ServiceNotificationOptions); handled {
		return result
	}

	if !objects.StateMatchesSvcOptions(svc.CurrentState, contact.ServiceNotificationOptions) {
		return 1
	}
	if svc.CurrentState == objects.ServiceOK && contact.ServiceNotificationOptions&objects.OptRecovery == 0 {
		return 1
	}
	return 0
}

// checkContactHostViability checks per-contact host notification filters.
func (ne *NotificationEngine) checkContactHostViability(contact *objects.Contact, hst *objects.Host, ntype int, options int) int {
	if options&objects.NotificationOptionForced != 0 {
		return 0
	}
	if contact.MinimumImportance > 0 && hst.HourlyValue < contact.MinimumImportance {
		return 1
	}
	if !contact.HostNotificationsEnabled {
		return 1
	}
	if contact.HostNotificationPeriod != nil && !timeperiod.Contains(contact.HostNotificationPeriod, time.Now()) {
		return 1
	}

	if result, handled := contactTypeOverride(ntype, contact.HostNotificationOptions); handled {
		return result
	}

	if !objects.StateMatchesHostOptions(hst.CurrentState, contact.HostNotificationOptions) {
		return 1
	}
	if hst.CurrentState == objects.HostUp && contact.HostNotificationOptions&objects.OptRecovery == 0 {
		return 1
	}
	return 0
}

// addContacts appends the deduplicated union of contacts and the members of
// contactGroups onto *out, shared by the escalation and direct-assignment
// branches of both createServiceNotificationList and
// createHostNotificationList.
func addContacts(seen map[string]bool, out *[]*objects.Contact, contacts []*objects.Contact, groups []*objects.ContactGroup) {
	add := func(c *objects.Contact) {
		if !seen[c.Name] {
			seen[c.Name] = true
			*out = append(*out, c)
		}
	}
	for _, c := range contacts {
		add(c)
	}
	for _, cg := range groups {
		for _, c := range cg.Members {
			add(c)
		}
	}
}

// createServiceNotificationList builds the deduplicated contact list.
func (ne *NotificationEngine) createServiceNotificationList(svc *objects.Service, options int) []*objects.Contact {
	seen := make(map[string]bool)
	var contacts []*objects.Contact

	escalated := ShouldServiceNotificationBeEscalated(svc, options)
	broadcast := options&objects.NotificationOptionBroadcast != 0

	if escalated || broadcast {
		for _, esc := range svc.Escalations {
			if !IsValidServiceEscalation(svc, esc, svc.CurrentNotificationNumber, options) {
				continue
			}
			addContacts(seen, &contacts, esc.Contacts, esc.ContactGroups)
		}
	}
	if !escalated || broadcast {
		addContacts(seen, &contacts, svc.Contacts, svc.ContactGroups)
	}

	return contacts
}

// createHostNotificationList builds the deduplicated host contact list.
func (ne *NotificationEngine) createHostNotificationList(hst *objects.Host, options int) []*objects.Contact {
	seen := make(map[string]bool)
	var contacts []*objects.Contact

	escalated := ShouldHostNotificationBeEscalated(hst, options)
	broadcast := options&objects.NotificationOptionBroadcast != 0

	if escalated || broadcast {
		for _, esc := range hst.Escalations {
			if !IsValidHostEscalation(hst, esc, hst.CurrentNotificationNumber, options) {
				continue
			}
			addContacts(seen, &contacts, esc.Contacts, esc.ContactGroups)
		}
	}
	if !escalated || broadcast {
		addContacts(seen, &contacts, hst.Contacts, hst.ContactGroups)
	}

	return contacts
}

func baseNotifyMacros(contact *objects.Contact, typeName, author, data string) map[string]string {
	return map[string]string{
		"NOTIFICATIONTYPE":    typeName,
		"CONTACTNAME":         contact.Name,
		"CONTACTEMAIL":        contact.Email,
		"CONTACTPAGER":        contact.Pager,
		"NOTIFICATIONAUTHOR":  author,
		"NOTIFICATIONCOMMENT": data,
	}
}

// notifyLogSuffix appends the author/comment fields to the log line, which
// Nagios-style logging only does for custom and acknowledgement notifications.
func notifyLogSuffix(ntype int, author, data string) string {
	if ntype == objects.NotificationCustom || ntype == objects.NotificationAcknowledgement {
		return ";" + author + ";" + data
	}
	return ""
}

func (ne *NotificationEngine) notifyContactOfService(contact *objects.Contact, svc *objects.Service, ntype int, typeName, author, data string) {
	for _, cmd := range contact.ServiceNotificationCommands {
		macros := baseNotifyMacros(contact, typeName, author, data)
		macros["HOSTNAME"] = svc.Host.Name
		macros["HOSTALIAS"] = svc.Host.Alias
		macros["HOSTADDRESS"] = svc.Host.Address
		macros["SERVICEDESC"] = svc.Description
		macros["SERVICESTATE"] = objects.ServiceStateName(svc.CurrentState)
		macros["SERVICESTATETYPE"] = objects.StateTypeName(svc.StateType)
		macros["SERVICEATTEMPT"] = strconv.Itoa(svc.CurrentAttempt)
		macros["MAXSERVICEATTEMPTS"] = strconv.Itoa(svc.MaxCheckAttempts)
		macros["SERVICEOUTPUT"] = svc.PluginOutput
		macros["LONGSERVICEOUTPUT"] = svc.LongPluginOutput

		cmdLine := ExpandMacros(cmd.CommandLine, macros)
		logMsg := "SERVICE NOTIFICATION: " + contact.Name + ";" + svc.Host.Name + ";" + svc.Description + ";" +
			typeName + ";" + cmd.Name + ";" + svc.PluginOutput + notifyLogSuffix(ntype, author, data)
		ne.log(logMsg)
		ne.CmdExecutor.Execute(cmdLine)
	}
	contact.LastServiceNotification = time.Now()
}

func (ne *NotificationEngine) notifyContactOfHost(contact *objects.Contact, hst *objects.Host, ntype int, typeName, author, data string) {
	for _, cmd := range contact.HostNotificationCommands {
		macros := baseNotifyMacros(contact, typeName, author, data)
		macros["HOSTNAME"] = hst.Name
		macros["HOSTALIAS"] = hst.Alias
		macros["HOSTADDRESS"] = hst.Address
		macros["HOSTSTATE"] = objects.HostStateName(hst.CurrentState)
		macros["HOSTSTATETYPE"] = objects.StateTypeName(hst.StateType)
		macros["HOSTATTEMPT"] = strconv.Itoa(hst.CurrentAttempt)
		macros["MAXHOSTATTEMPTS"] = strconv.Itoa(hst.MaxCheckAttempts)
		macros["HOSTOUTPUT"] = hst.PluginOutput
		macros["LONGHOSTOUTPUT"] = hst.LongPluginOutput

		cmdLine := ExpandMacros(cmd.CommandLine, macros)
		logMsg := "HOST NOTIFICATION: " + contact.Name + ";" + hst.Name + ";" +
			typeName + ";" + cmd.Name + ";" + hst.PluginOutput + notifyLogSuffix(ntype, author, data)
		ne.log(logMsg)
		ne.CmdExecutor.Execute(cmdLine)
	}
	contact.LastHostNotification = time.Now()
}
