package nrdp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func newTracker(t *testing.T, ttl time.Duration) (*DynamicTracker, *objects.ObjectStore) {
	t.Helper()
	store := objects.NewObjectStore()
	tr := NewDynamicTracker(store, ttl, time.Hour)
	tr.SetLogger(func(string, ...interface{}) {})
	return tr, store
}

func TestEnsureHostCreatesPassiveHost(t *testing.T) {
	tr, store := newTracker(t, time.Hour)

	store.Mu.Lock()
	tr.EnsureHost("edge-07")
	store.Mu.Unlock()

	h := store.GetHost("edge-07")
	require.NotNil(t, h)
	require.True(t, h.Dynamic)
	require.True(t, h.PassiveChecksEnabled)
	require.False(t, h.ActiveChecksEnabled, "no check command configured, passive only")
	require.False(t, h.ShouldBeScheduled)
}

func TestEnsureHostIsIdempotentAndKeepsStaticHosts(t *testing.T) {
	tr, store := newTracker(t, time.Hour)
	static := &objects.Host{Name: "managed-01"}
	require.NoError(t, store.AddHost(static))

	store.Mu.Lock()
	tr.EnsureHost("managed-01")
	tr.EnsureHost("edge-07")
	tr.EnsureHost("edge-07")
	store.Mu.Unlock()

	require.Len(t, store.Hosts, 2)
	require.Same(t, static, store.GetHost("managed-01"))
	require.False(t, static.Dynamic)
}

func TestEnsureHostWithCheckCommandSchedules(t *testing.T) {
	tr, store := newTracker(t, time.Hour)
	require.NoError(t, store.AddCommand(&objects.Command{Name: "check-host-alive"}))
	tr.SetHostCheckCommand("check-host-alive")

	var scheduled []*objects.Host
	tr.OnScheduleHost = func(h *objects.Host) { scheduled = append(scheduled, h) }

	store.Mu.Lock()
	tr.EnsureHost("edge-07")
	store.Mu.Unlock()

	h := store.GetHost("edge-07")
	require.True(t, h.ActiveChecksEnabled)
	require.True(t, h.ShouldBeScheduled)
	require.Equal(t, "check-host-alive", h.CheckCommand.Name)
	require.Len(t, scheduled, 1)
}

func TestEnsureServiceCreatesHostAndService(t *testing.T) {
	tr, store := newTracker(t, time.Hour)

	store.Mu.Lock()
	tr.EnsureService("edge-07", "Disk")
	store.Mu.Unlock()

	h := store.GetHost("edge-07")
	require.NotNil(t, h)
	svc := store.GetService("edge-07", "Disk")
	require.NotNil(t, svc)
	require.True(t, svc.Dynamic)
	require.Same(t, h, svc.Host)
	require.Len(t, h.Services, 1)
}

func TestPruneRemovesOnlyExpiredDynamicEntries(t *testing.T) {
	tr, store := newTracker(t, 50*time.Millisecond)

	store.Mu.Lock()
	tr.EnsureService("stale-host", "Load")
	tr.EnsureHost("fresh-host")
	store.Mu.Unlock()

	time.Sleep(80 * time.Millisecond)
	tr.Touch("fresh-host", "") // keep fresh-host alive past the cutoff
	tr.Prune()

	require.Nil(t, store.GetHost("stale-host"))
	require.Nil(t, store.GetService("stale-host", "Load"))
	require.NotNil(t, store.GetHost("fresh-host"))
}

func TestPruneNeverTouchesStaticObjects(t *testing.T) {
	tr, store := newTracker(t, time.Nanosecond)
	static := &objects.Host{Name: "managed-01"}
	require.NoError(t, store.AddHost(static))

	// EnsureHost on an existing static host records a timestamp but must not
	// let pruning remove the host itself.
	store.Mu.Lock()
	tr.EnsureHost("managed-01")
	store.Mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	tr.Prune()
	require.NotNil(t, store.GetHost("managed-01"))
}

func TestTouchUpdatesLastSeen(t *testing.T) {
	tr, store := newTracker(t, time.Hour)

	store.Mu.Lock()
	tr.EnsureService("edge-07", "Disk")
	store.Mu.Unlock()

	before := store.GetHost("edge-07").LastSeen
	time.Sleep(5 * time.Millisecond)
	tr.Touch("edge-07", "Disk")

	require.True(t, store.GetHost("edge-07").LastSeen.After(before))
	require.False(t, store.GetService("edge-07", "Disk").LastSeen.IsZero())
}
