package objects

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateNamesCoverEveryState(t *testing.T) {
	require.Equal(t, "UP", HostStateName(HostUp))
	require.Equal(t, "DOWN", HostStateName(HostDown))
	require.Equal(t, "UNREACHABLE", HostStateName(HostUnreachable))
	require.Equal(t, "UNKNOWN", HostStateName(-1), "out-of-range states render as UNKNOWN")

	require.Equal(t, "OK", ServiceStateName(ServiceOK))
	require.Equal(t, "WARNING", ServiceStateName(ServiceWarning))
	require.Equal(t, "CRITICAL", ServiceStateName(ServiceCritical))
	require.Equal(t, "UNKNOWN", ServiceStateName(ServiceUnknown))
	require.Equal(t, "UNKNOWN", ServiceStateName(42))

	require.Equal(t, "HARD", StateTypeName(StateTypeHard))
	require.Equal(t, "SOFT", StateTypeName(StateTypeSoft))
}

func TestNotificationTypeNameResolvesProblemVsRecovery(t *testing.T) {
	// NORMAL notifications split on whether the entity is back to its good
	// state; every other type has a fixed name.
	require.Equal(t, "RECOVERY", NotificationTypeName(NotificationNormal, HostUp, true))
	require.Equal(t, "PROBLEM", NotificationTypeName(NotificationNormal, HostDown, true))
	require.Equal(t, "PROBLEM", NotificationTypeName(NotificationNormal, HostUnreachable, true))
	require.Equal(t, "RECOVERY", NotificationTypeName(NotificationNormal, ServiceOK, false))
	require.Equal(t, "PROBLEM", NotificationTypeName(NotificationNormal, ServiceWarning, false))

	fixed := map[int]string{
		NotificationAcknowledgement:  "ACKNOWLEDGEMENT",
		NotificationFlappingStart:    "FLAPPINGSTART",
		NotificationFlappingStop:     "FLAPPINGSTOP",
		NotificationFlappingDisabled: "FLAPPINGDISABLED",
		NotificationDowntimeStart:    "DOWNTIMESTART",
		NotificationDowntimeEnd:      "DOWNTIMEEND",
		NotificationDowntimeCancelled: "DOWNTIMECANCELLED",
		NotificationCustom:            "CUSTOM",
	}
	for ntype, want := range fixed {
		require.Equal(t, want, NotificationTypeName(ntype, ServiceCritical, false))
	}
}

func TestStateOptionMatching(t *testing.T) {
	// Host side: each adverse state matches only its own bit; UP matches the
	// recovery bit.
	require.True(t, StateMatchesHostOptions(HostDown, OptDown))
	require.False(t, StateMatchesHostOptions(HostDown, OptUnreachable))
	require.True(t, StateMatchesHostOptions(HostUnreachable, OptUnreachable))
	require.True(t, StateMatchesHostOptions(HostUp, OptRecovery))
	require.False(t, StateMatchesHostOptions(HostUp, OptDown))

	require.True(t, StateMatchesSvcOptions(ServiceWarning, OptWarning))
	require.True(t, StateMatchesSvcOptions(ServiceCritical, OptCritical|OptWarning))
	require.True(t, StateMatchesSvcOptions(ServiceUnknown, OptUnknown))
	require.True(t, StateMatchesSvcOptions(ServiceOK, OptRecovery))
	require.False(t, StateMatchesSvcOptions(ServiceOK, OptWarning))
	require.False(t, StateMatchesSvcOptions(ServiceWarning, OptCritical))
}

func TestDefaultConfigBaselines(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 60, cfg.IntervalLength)
	require.Equal(t, 60, cfg.ServiceCheckTimeout)
	require.Equal(t, 30, cfg.HostCheckTimeout)
	require.Equal(t, 30, cfg.MaxServiceCheckSpread)
	require.Equal(t, ServiceCritical, cfg.ServiceCheckTimeoutState)
	require.True(t, cfg.ExecuteServiceChecks)
	require.True(t, cfg.ExecuteHostChecks)
}
