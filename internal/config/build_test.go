package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// buildFixture lexes and builds a small universe: two web hosts behind a
// gateway, a hostgroup-fanned service, contacts, and a timeperiod with an
// exclusion.
func buildFixture(t *testing.T) *objects.ObjectStore {
	t.Helper()
	dir := t.TempDir()
	path := writeCfg(t, dir, "objects.cfg", `
define command {
	command_name  check-alive
	command_line  $USER1$/check_ping -H $HOSTADDRESS$
}
define command {
	command_name  check-http
	command_line  $USER1$/check_http -H $HOSTADDRESS$ -w $ARG1$
}
define command {
	command_name  notify-email
	command_line  /usr/bin/mail $CONTACTEMAIL$
}

define timeperiod {
	timeperiod_name  always
	alias            Around the clock
	sunday    00:00-24:00
	monday    00:00-24:00
	tuesday   00:00-24:00
	wednesday 00:00-24:00
	thursday  00:00-24:00
	friday    00:00-24:00
	saturday  00:00-24:00
}
define timeperiod {
	timeperiod_name  maintenance
	alias            Weekly window
	saturday  02:00-04:00
}
define timeperiod {
	timeperiod_name  always-sans-maint
	alias            Always minus maintenance
	sunday    00:00-24:00
	exclude   maintenance
}

define contact {
	contact_name                   oncall
	email                          oncall@example.net
	host_notification_period       always
	service_notification_period    always
	host_notification_commands     notify-email
	service_notification_commands  notify-email
	host_notification_options      d,u,r
	service_notification_options   w,c,r
}
define contactgroup {
	contactgroup_name  ops
	members            oncall
}

define host {
	host_name       gw-01
	alias           Gateway
	address         192.0.2.1
	check_command   check-alive
	max_check_attempts 3
	contact_groups  ops
}
define host {
	host_name       web-01
	alias           Web 1
	address         192.0.2.10
	parents         gw-01
	check_command   check-alive
	max_check_attempts 3
	contact_groups  ops
	hostgroups      webfarm
	notification_options d,r
}
define host {
	host_name       web-02
	alias           Web 2
	address         192.0.2.11
	parents         gw-01
	check_command   check-alive
	max_check_attempts 3
	contact_groups  ops
}
define hostgroup {
	hostgroup_name  webfarm
	alias           Web farm
	members         web-02
}

define service {
	hostgroup_name       webfarm
	service_description  HTTP
	check_command        check-http!5
	max_check_attempts   4
	check_period         always-sans-maint
}

define hostdependency {
	host_name                  gw-01
	dependent_host_name        web-01,web-02
	execution_failure_options  d,u
}
define serviceescalation {
	host_name            web-01
	service_description  HTTP
	first_notification   3
	last_notification    5
	contact_groups       ops
	escalation_options   c,r
}
`)
	set := NewDefinitionSet()
	require.NoError(t, set.LoadFile(path))
	require.NoError(t, set.ResolveInheritance())
	store := objects.NewObjectStore()
	require.NoError(t, BuildStore(set, store))
	return store
}

func TestBuildStoreCounts(t *testing.T) {
	store := buildFixture(t)
	require.Len(t, store.Commands, 3)
	require.Len(t, store.Timeperiods, 3)
	require.Len(t, store.Contacts, 1)
	require.Len(t, store.ContactGroups, 1)
	require.Len(t, store.Hosts, 3)
	require.Len(t, store.HostGroups, 1)
	require.Len(t, store.Services, 2, "hostgroup fan-out makes one service per member")
	require.Len(t, store.HostDependencies, 2)
	require.Len(t, store.ServiceEscalations, 1)
}

func TestBuildStoreWiresHostTopology(t *testing.T) {
	store := buildFixture(t)
	gw := store.GetHost("gw-01")
	web1 := store.GetHost("web-01")
	web2 := store.GetHost("web-02")

	require.Len(t, web1.Parents, 1)
	require.Same(t, gw, web1.Parents[0])
	require.Len(t, gw.Children, 2)
	require.Contains(t, gw.Children, web1)
	require.Contains(t, gw.Children, web2)
}

func TestBuildStoreResolvesReferences(t *testing.T) {
	store := buildFixture(t)

	web1 := store.GetHost("web-01")
	require.NotNil(t, web1.CheckCommand)
	require.Equal(t, "check-alive", web1.CheckCommand.Name)

	svc := store.GetService("web-01", "HTTP")
	require.NotNil(t, svc)
	require.Equal(t, "check-http", svc.CheckCommand.Name)
	require.Equal(t, "5", svc.CheckCommandArgs)
	require.Equal(t, "always-sans-maint", svc.CheckPeriod.Name)
	require.Equal(t, 4, svc.MaxCheckAttempts)

	sans := store.GetTimeperiod("always-sans-maint")
	require.Len(t, sans.Exclusions, 1)
	require.Equal(t, "maintenance", sans.Exclusions[0].Name)
}

func TestBuildStoreGroupBacklinksAndFanout(t *testing.T) {
	store := buildFixture(t)

	// web-01 joined via its own hostgroups directive, web-02 via members=.
	farm := store.GetHostGroup("webfarm")
	require.Len(t, farm.Members, 2)
	web1 := store.GetHost("web-01")
	require.Len(t, web1.HostGroups, 1)

	// Both farm members got the HTTP service.
	require.NotNil(t, store.GetService("web-01", "HTTP"))
	require.NotNil(t, store.GetService("web-02", "HTTP"))
}

func TestBuildStoreServiceInheritsHostContacts(t *testing.T) {
	store := buildFixture(t)
	svc := store.GetService("web-02", "HTTP")
	require.NotEmpty(t, svc.ContactGroups, "service without contacts inherits the host's")
	require.Equal(t, "ops", svc.ContactGroups[0].Name)
}

func TestBuildStoreOptionMasks(t *testing.T) {
	store := buildFixture(t)

	oncall := store.GetContact("oncall")
	require.Equal(t, objects.OptDown|objects.OptUnreachable|objects.OptRecovery, oncall.HostNotificationOptions)
	require.Equal(t, objects.OptWarning|objects.OptCritical|objects.OptRecovery, oncall.ServiceNotificationOptions)

	web1 := store.GetHost("web-01")
	require.Equal(t, objects.OptDown|objects.OptRecovery, web1.NotificationOptions)
	// Unset notification_options default to everything.
	gw := store.GetHost("gw-01")
	require.Equal(t, objects.OptAll, gw.NotificationOptions)

	dep := store.HostDependencies[0]
	require.Equal(t, objects.OptDown|objects.OptUnreachable, dep.ExecutionFailureOptions)

	esc := store.ServiceEscalations[0]
	require.Equal(t, 3, esc.FirstNotification)
	require.Equal(t, 5, esc.LastNotification)
	require.Equal(t, objects.OptCritical|objects.OptRecovery, esc.EscalationOptions)
}

func TestValidateCleanFixture(t *testing.T) {
	store := buildFixture(t)
	require.Empty(t, Validate(store))
}

func TestValidateFlagsParentCycle(t *testing.T) {
	store := buildFixture(t)
	gw := store.GetHost("gw-01")
	web1 := store.GetHost("web-01")
	gw.Parents = append(gw.Parents, web1) // gw-01 -> web-01 -> gw-01

	errs := Validate(store)
	require.NotEmpty(t, errs)
	found := false
	for _, err := range errs {
		if strings.Contains(err.Error(), "circular") {
			found = true
		}
	}
	require.True(t, found, "expected a circular-reference error, got %v", errs)
}
