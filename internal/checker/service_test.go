package checker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func okService() *objects.Service {
	host := &objects.Host{
		Name:                "app-01",
		CurrentState:        objects.HostUp,
		ActiveChecksEnabled: true,
	}
	return &objects.Service{
		Host:                host,
		Description:         "Queue Depth",
		CheckInterval:       5,
		RetryInterval:       1,
		MaxCheckAttempts:    3,
		ActiveChecksEnabled: true,
		CurrentState:        objects.ServiceOK,
		StateType:           objects.StateTypeHard,
		CurrentAttempt:      1,
	}
}

func serviceResult(code int, output string) *objects.CheckResult {
	now := time.Now()
	return &objects.CheckResult{ReturnCode: code, ExitedOK: true, Output: output, StartTime: now, FinishTime: now}
}

func TestServiceStaysHardOKOnRepeatedOK(t *testing.T) {
	h := &ServiceResultHandler{Cfg: objects.DefaultConfig()}
	svc := okService()

	require.False(t, h.HandleResult(svc, serviceResult(0, "OK - 12 msgs")))
	require.Equal(t, objects.ServiceOK, svc.CurrentState)
	require.Equal(t, objects.StateTypeHard, svc.StateType)
	require.Equal(t, 1, svc.CurrentAttempt)
	require.Equal(t, "OK - 12 msgs", svc.PluginOutput)
	require.True(t, svc.HasBeenChecked)
}

// The core retry ladder: OK -> SOFT/1 -> SOFT/2 -> HARD/3 with exactly one
// notification at the promotion.
func TestServiceRetryLadderToHard(t *testing.T) {
	h := &ServiceResultHandler{Cfg: objects.DefaultConfig()}
	svc := okService()

	notifications := 0
	h.OnNotification = func(*objects.Service, int) { notifications++ }

	require.False(t, h.HandleResult(svc, serviceResult(2, "CRITICAL")))
	require.Equal(t, objects.StateTypeSoft, svc.StateType)
	require.Equal(t, 1, svc.CurrentAttempt)

	require.False(t, h.HandleResult(svc, serviceResult(2, "CRITICAL")))
	require.Equal(t, objects.StateTypeSoft, svc.StateType)
	require.Equal(t, 2, svc.CurrentAttempt)

	require.True(t, h.HandleResult(svc, serviceResult(2, "CRITICAL")))
	require.Equal(t, objects.StateTypeHard, svc.StateType)
	require.Equal(t, 3, svc.CurrentAttempt)
	require.Equal(t, 1, notifications)
}

func TestServiceSingleAttemptGoesHardImmediately(t *testing.T) {
	h := &ServiceResultHandler{Cfg: objects.DefaultConfig()}
	svc := okService()
	svc.MaxCheckAttempts = 1

	require.True(t, h.HandleResult(svc, serviceResult(2, "CRITICAL")))
	require.Equal(t, objects.StateTypeHard, svc.StateType)
	require.Equal(t, 1, svc.CurrentAttempt)
}

func TestServiceHardRecoveryNotifiesAndResets(t *testing.T) {
	h := &ServiceResultHandler{Cfg: objects.DefaultConfig()}
	svc := okService()
	svc.CurrentState = objects.ServiceCritical
	svc.StateType = objects.StateTypeHard
	svc.CurrentAttempt = 3
	svc.LastHardState = objects.ServiceCritical
	svc.ProblemAcknowledged = true
	svc.AckType = objects.AckNormal

	notified := false
	h.OnNotification = func(*objects.Service, int) { notified = true }

	require.True(t, h.HandleResult(svc, serviceResult(0, "OK again")))
	require.Equal(t, objects.ServiceOK, svc.CurrentState)
	require.Equal(t, objects.StateTypeHard, svc.StateType)
	require.Equal(t, 1, svc.CurrentAttempt)
	require.True(t, notified)
	require.False(t, svc.ProblemAcknowledged, "recovery clears the acknowledgement")
	require.Zero(t, svc.CurrentNotificationNumber)
}

func TestServiceSoftRecoveryStaysQuiet(t *testing.T) {
	h := &ServiceResultHandler{Cfg: objects.DefaultConfig()}
	svc := okService()
	svc.CurrentState = objects.ServiceWarning
	svc.StateType = objects.StateTypeSoft
	svc.CurrentAttempt = 2

	notified := false
	h.OnNotification = func(*objects.Service, int) { notified = true }

	require.False(t, h.HandleResult(svc, serviceResult(0, "OK")))
	require.Equal(t, objects.StateTypeHard, svc.StateType)
	require.Equal(t, 1, svc.CurrentAttempt)
	require.False(t, notified, "a problem that never went HARD recovers silently")
}

func TestServiceForcedHardWhileHostDown(t *testing.T) {
	h := &ServiceResultHandler{Cfg: objects.DefaultConfig()}
	svc := okService()
	svc.Host.CurrentState = objects.HostDown

	notified := false
	h.OnNotification = func(*objects.Service, int) { notified = true }

	h.HandleResult(svc, serviceResult(2, "CRITICAL"))
	require.Equal(t, objects.StateTypeHard, svc.StateType)
	require.Equal(t, svc.MaxCheckAttempts, svc.CurrentAttempt)
	require.True(t, svc.HostProblemAtLastCheck)
	require.False(t, notified, "the host problem owns the notification, not the service")
}

func TestServiceStateChangeBetweenProblemsIncrementsAttempt(t *testing.T) {
	h := &ServiceResultHandler{Cfg: objects.DefaultConfig()}
	svc := okService()

	h.HandleResult(svc, serviceResult(1, "WARNING"))
	require.Equal(t, objects.StateTypeSoft, svc.StateType)
	require.Equal(t, 1, svc.CurrentAttempt)

	// WARNING -> CRITICAL while SOFT keeps climbing the same ladder.
	h.HandleResult(svc, serviceResult(2, "CRITICAL"))
	require.Equal(t, 2, svc.CurrentAttempt)
	require.Equal(t, objects.ServiceCritical, svc.CurrentState)
	require.Equal(t, objects.ServiceWarning, svc.LastState)
}

func TestServiceNextCheckUsesRetryIntervalWhileSoft(t *testing.T) {
	cfg := objects.DefaultConfig()
	cfg.IntervalLength = 60
	h := &ServiceResultHandler{Cfg: cfg}
	svc := okService()

	h.HandleResult(svc, serviceResult(2, "CRITICAL"))
	retryGap := svc.NextCheck.Sub(svc.LastCheck)
	require.InDelta(t, (1 * time.Minute).Seconds(), retryGap.Seconds(), 2)

	// Promote to HARD, then the normal interval applies again.
	h.HandleResult(svc, serviceResult(2, "CRITICAL"))
	h.HandleResult(svc, serviceResult(2, "CRITICAL"))
	normalGap := svc.NextCheck.Sub(svc.LastCheck)
	require.InDelta(t, (5 * time.Minute).Seconds(), normalGap.Seconds(), 2)
}

func TestServiceLastTimeStampsAlwaysUpdate(t *testing.T) {
	h := &ServiceResultHandler{Cfg: objects.DefaultConfig()}
	svc := okService()

	h.HandleResult(svc, serviceResult(2, "CRITICAL"))
	require.False(t, svc.LastTimeCritical.IsZero())
	h.HandleResult(svc, serviceResult(0, "OK"))
	require.False(t, svc.LastTimeOK.IsZero())
}
