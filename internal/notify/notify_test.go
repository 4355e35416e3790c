package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func testEngine() (*NotificationEngine, *objects.GlobalState) {
	gs := &objects.GlobalState{EnableNotifications: true, IntervalLength: 60}
	return NewNotificationEngine(gs, objects.NewObjectStore(), nil), gs
}

// problemService returns a HARD CRITICAL service with one notifiable
// contact, ready to pass the viability ladder.
func problemService() *objects.Service {
	contact := &objects.Contact{
		Name:                        "oncall",
		ServiceNotificationsEnabled: true,
		ServiceNotificationOptions:  objects.OptAll,
		HostNotificationsEnabled:    true,
		HostNotificationOptions:     objects.OptAll,
	}
	host := &objects.Host{Name: "web-01", CurrentState: objects.HostUp}
	return &objects.Service{
		Host:                 host,
		Description:          "HTTP",
		CurrentState:         objects.ServiceCritical,
		StateType:            objects.StateTypeHard,
		NotificationsEnabled: true,
		NotificationOptions:  objects.OptAll,
		NotificationInterval: 30,
		Contacts:             []*objects.Contact{contact},
	}
}

func TestServiceNotificationDelivers(t *testing.T) {
	ne, _ := testEngine()
	svc := problemService()

	require.Equal(t, 0, ne.ServiceNotification(svc, objects.NotificationNormal, "", "", 0))
	require.Equal(t, 1, svc.CurrentNotificationNumber)
	require.False(t, svc.LastNotification.IsZero())
	require.False(t, svc.NextNotification.IsZero())
	require.NotZero(t, svc.NotifiedOn&objects.OptCritical)
}

func TestServiceNotificationViabilityGates(t *testing.T) {
	cases := []struct {
		name string
		prep func(*objects.Service, *objects.GlobalState)
	}{
		{"globally disabled", func(s *objects.Service, gs *objects.GlobalState) { gs.EnableNotifications = false }},
		{"entity disabled", func(s *objects.Service, _ *objects.GlobalState) { s.NotificationsEnabled = false }},
		{"soft state", func(s *objects.Service, _ *objects.GlobalState) { s.StateType = objects.StateTypeSoft }},
		{"acknowledged", func(s *objects.Service, _ *objects.GlobalState) { s.ProblemAcknowledged = true }},
		{"flapping", func(s *objects.Service, _ *objects.GlobalState) { s.IsFlapping = true }},
		{"state filtered out", func(s *objects.Service, _ *objects.GlobalState) { s.NotificationOptions = objects.OptWarning }},
		{"host down", func(s *objects.Service, _ *objects.GlobalState) { s.Host.CurrentState = objects.HostDown }},
		{"in downtime", func(s *objects.Service, _ *objects.GlobalState) { s.ScheduledDowntimeDepth = 1 }},
		{"interval not elapsed", func(s *objects.Service, _ *objects.GlobalState) { s.NextNotification = time.Now().Add(time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ne, gs := testEngine()
			svc := problemService()
			tc.prep(svc, gs)
			require.Equal(t, 1, ne.ServiceNotification(svc, objects.NotificationNormal, "", "", 0))
			require.Equal(t, 0, svc.CurrentNotificationNumber)
		})
	}
}

func TestServiceNotificationForcedBypassesGates(t *testing.T) {
	ne, gs := testEngine()
	gs.EnableNotifications = false
	svc := problemService()
	svc.IsFlapping = true

	require.Equal(t, 0, ne.ServiceNotification(svc, objects.NotificationNormal, "", "",
		objects.NotificationOptionForced))
	require.Equal(t, 1, svc.CurrentNotificationNumber)
}

func TestHostNotificationDeliversAndTracksState(t *testing.T) {
	ne, _ := testEngine()
	contact := &objects.Contact{
		Name:                     "oncall",
		HostNotificationsEnabled: true,
		HostNotificationOptions:  objects.OptAll,
	}
	hst := &objects.Host{
		Name:                 "web-01",
		CurrentState:         objects.HostDown,
		StateType:            objects.StateTypeHard,
		NotificationsEnabled: true,
		NotificationOptions:  objects.OptAll,
		NotificationInterval: 30,
		Contacts:             []*objects.Contact{contact},
	}

	require.Equal(t, 0, ne.HostNotification(hst, objects.NotificationNormal, "", "", 0))
	require.Equal(t, 1, hst.CurrentNotificationNumber)
	require.NotZero(t, hst.NotifiedOn&objects.OptDown)
}

func TestContactFilterByStateOptions(t *testing.T) {
	ne, _ := testEngine()
	svc := problemService()
	// The contact only wants WARNING; the CRITICAL problem must not reach
	// it, and with nobody left the notification number rolls back.
	svc.Contacts[0].ServiceNotificationOptions = objects.OptWarning

	require.Equal(t, 0, ne.ServiceNotification(svc, objects.NotificationNormal, "", "", 0))
	require.Equal(t, 0, svc.CurrentNotificationNumber)
	require.True(t, svc.LastNotification.IsZero(), "no contact notified, no interval bookkeeping")
}

func TestContactListDeduplicatesAcrossGroups(t *testing.T) {
	ne, _ := testEngine()
	svc := problemService()
	dup := svc.Contacts[0]
	group := &objects.ContactGroup{Name: "ops", Members: []*objects.Contact{dup}}
	svc.ContactGroups = []*objects.ContactGroup{group}

	contacts := ne.createServiceNotificationList(svc, 0)
	require.Len(t, contacts, 1, "same contact via direct list and group counts once")
}

func TestEscalationReplacesDefaultContacts(t *testing.T) {
	ne, _ := testEngine()
	svc := problemService()
	escContact := &objects.Contact{
		Name:                        "manager",
		ServiceNotificationsEnabled: true,
		ServiceNotificationOptions:  objects.OptAll,
	}
	svc.Escalations = []*objects.ServiceEscalation{{
		FirstNotification: 2,
		Contacts:          []*objects.Contact{escContact},
	}}

	// First notification: tier not active yet, default contacts used.
	svc.CurrentNotificationNumber = 0
	list := ne.createServiceNotificationList(svc, 0)
	require.Len(t, list, 1)
	require.Equal(t, "oncall", list[0].Name)

	// Second and later: the escalation tier takes over.
	svc.CurrentNotificationNumber = 2
	list = ne.createServiceNotificationList(svc, 0)
	require.Len(t, list, 1)
	require.Equal(t, "manager", list[0].Name)
}

func TestEscalationWindowBounds(t *testing.T) {
	svc := problemService()
	esc := &objects.ServiceEscalation{FirstNotification: 2, LastNotification: 4}

	require.False(t, IsValidServiceEscalation(svc, esc, 1, 0))
	require.True(t, IsValidServiceEscalation(svc, esc, 2, 0))
	require.True(t, IsValidServiceEscalation(svc, esc, 4, 0))
	require.False(t, IsValidServiceEscalation(svc, esc, 5, 0))

	// Broadcast ignores the window entirely.
	require.True(t, IsValidServiceEscalation(svc, esc, 9, objects.NotificationOptionBroadcast))
}

func TestEscalationRecoveryUsesPriorNumber(t *testing.T) {
	svc := problemService()
	svc.CurrentState = objects.ServiceOK
	esc := &objects.ServiceEscalation{FirstNotification: 2, LastNotification: 2}

	// A recovery closing problem number 2 arrives as notification 3.
	require.True(t, IsValidServiceEscalation(svc, esc, 3, 0))
	require.False(t, IsValidServiceEscalation(svc, esc, 2, 0))
}

func TestEscalationStateOptionGate(t *testing.T) {
	hst := &objects.Host{Name: "h", CurrentState: objects.HostUnreachable}
	esc := &objects.HostEscalation{EscalationOptions: objects.OptDown}
	require.False(t, IsValidHostEscalation(hst, esc, 1, 0))

	esc.EscalationOptions = objects.OptDown | objects.OptUnreachable
	require.True(t, IsValidHostEscalation(hst, esc, 1, 0))
}

func TestNextNotificationTimeHonorsEscalationOverride(t *testing.T) {
	svc := problemService()
	svc.NotificationInterval = 30
	svc.CurrentNotificationNumber = 3
	svc.Escalations = []*objects.ServiceEscalation{
		{FirstNotification: 2, NotificationInterval: 10},
		{FirstNotification: 2, NotificationInterval: -1}, // declines to override
	}

	at := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	next := GetNextServiceNotificationTime(svc, at, 60)
	require.Equal(t, at.Add(10*time.Minute), next, "shortest active override wins")
	require.False(t, svc.NoMoreNotifications)
}

func TestNextNotificationTimeZeroMeansOnce(t *testing.T) {
	hst := &objects.Host{Name: "h", CurrentState: objects.HostDown, NotificationInterval: 0}
	GetNextHostNotificationTime(hst, time.Now(), 60)
	require.True(t, hst.NoMoreNotifications)
}

func TestExpandMacrosSinglePass(t *testing.T) {
	out := ExpandMacros("notify -h $HOSTNAME$ -s '$SERVICEDESC$'", map[string]string{
		"HOSTNAME":    "web-01",
		"SERVICEDESC": "HTTP",
	})
	require.Equal(t, "notify -h web-01 -s 'HTTP'", out)

	require.Equal(t, "no tokens", ExpandMacros("no tokens", map[string]string{"X": "y"}))
	require.Equal(t, "$UNKNOWN$", ExpandMacros("$UNKNOWN$", map[string]string{"X": "y"}))
}
