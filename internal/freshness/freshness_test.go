package freshness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func freshnessChecker() (*Checker, *[]string) {
	var forced []string
	c := &Checker{
		Cfg:        objects.DefaultConfig(),
		EventStart: time.Now().Add(-time.Hour),
		ScheduleServiceCheck: func(svc *objects.Service, _ time.Time, options int) {
			forced = append(forced, "svc:"+svc.Description)
		},
		ScheduleHostCheck: func(h *objects.Host, _ time.Time, options int) {
			forced = append(forced, "host:"+h.Name)
		},
	}
	return c, &forced
}

func freshService(threshold int) *objects.Service {
	return &objects.Service{
		Host:                 &objects.Host{Name: "app-01"},
		Description:          "Heartbeat",
		CheckFreshness:       true,
		PassiveChecksEnabled: true,
		FreshnessThreshold:   threshold,
		CheckInterval:        5,
		LastCheck:            time.Now(),
	}
}

func TestFreshServiceIsLeftAlone(t *testing.T) {
	c, forced := freshnessChecker()
	svc := freshService(300)

	stale := c.CheckServiceFreshness([]*objects.Service{svc}, time.Now())
	require.Zero(t, stale)
	require.Empty(t, *forced)
	require.False(t, svc.IsBeingFreshened)
}

func TestStaleServiceTriggersForcedCheck(t *testing.T) {
	c, forced := freshnessChecker()
	svc := freshService(300)
	svc.LastCheck = time.Now().Add(-10 * time.Minute)

	stale := c.CheckServiceFreshness([]*objects.Service{svc}, time.Now())
	require.Equal(t, 1, stale)
	require.Equal(t, []string{"svc:Heartbeat"}, *forced)
	require.True(t, svc.IsBeingFreshened)

	// A second sweep must not pile on while the forced check is pending.
	stale = c.CheckServiceFreshness([]*objects.Service{svc}, time.Now())
	require.Zero(t, stale)
	require.Len(t, *forced, 1)
}

func TestFreshnessSkipConditions(t *testing.T) {
	c, forced := freshnessChecker()
	base := func() *objects.Service {
		svc := freshService(300)
		svc.LastCheck = time.Now().Add(-10 * time.Minute)
		return svc
	}

	notWatched := base()
	notWatched.CheckFreshness = false

	executing := base()
	executing.IsExecuting = true

	disabled := base()
	disabled.ActiveChecksEnabled = false
	disabled.PassiveChecksEnabled = false

	stale := c.CheckServiceFreshness([]*objects.Service{notWatched, executing, disabled}, time.Now())
	require.Zero(t, stale)
	require.Empty(t, *forced)
}

func TestImplicitThresholdFromInterval(t *testing.T) {
	c, forced := freshnessChecker()
	// No explicit threshold: interval (5 * 60s) + latency + slack decides.
	svc := freshService(0)
	svc.LastCheck = time.Now().Add(-4 * time.Minute)

	require.Zero(t, c.CheckServiceFreshness([]*objects.Service{svc}, time.Now()))
	require.Empty(t, *forced)

	svc.LastCheck = time.Now().Add(-30 * time.Minute)
	require.Equal(t, 1, c.CheckServiceFreshness([]*objects.Service{svc}, time.Now()))
}

func TestNeverCheckedCountsFromEngineStart(t *testing.T) {
	c, _ := freshnessChecker()
	svc := freshService(300)
	svc.LastCheck = time.Time{}

	// Engine started an hour ago; a 5-minute threshold is long gone.
	require.Equal(t, 1, c.CheckServiceFreshness([]*objects.Service{svc}, time.Now()))

	// With a recent start the grace period still runs.
	c2, _ := freshnessChecker()
	c2.EventStart = time.Now()
	svc2 := freshService(300)
	svc2.LastCheck = time.Time{}
	require.Zero(t, c2.CheckServiceFreshness([]*objects.Service{svc2}, time.Now()))
}

func TestHostFreshness(t *testing.T) {
	c, forced := freshnessChecker()
	h := &objects.Host{
		Name:                 "edge-01",
		CheckFreshness:       true,
		PassiveChecksEnabled: true,
		FreshnessThreshold:   60,
		LastCheck:            time.Now().Add(-5 * time.Minute),
	}
	require.Equal(t, 1, c.CheckHostFreshness([]*objects.Host{h}, time.Now()))
	require.Equal(t, []string{"host:edge-01"}, *forced)
	require.True(t, h.IsBeingFreshened)
}
