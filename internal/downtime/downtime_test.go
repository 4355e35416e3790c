package downtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

type notifyRecord struct {
	host, svc string
	ntype     int
}

type fakeNotifier struct{ sent []notifyRecord }

func (f *fakeNotifier) SendHostNotification(hostName string, ntype int, author, data string, options int) {
	f.sent = append(f.sent, notifyRecord{host: hostName, ntype: ntype})
}

func (f *fakeNotifier) SendServiceNotification(hostName, svcDesc string, ntype int, author, data string, options int) {
	f.sent = append(f.sent, notifyRecord{host: hostName, svc: svcDesc, ntype: ntype})
}

func downtimeFixture(t *testing.T) (*DowntimeManager, *CommentManager, *objects.Host, *objects.Service, *fakeNotifier) {
	t.Helper()
	store := objects.NewObjectStore()
	h := &objects.Host{Name: "db-01"}
	require.NoError(t, store.AddHost(h))
	svc := &objects.Service{Host: h, Description: "PGSQL"}
	require.NoError(t, store.AddService(svc))

	cm := NewCommentManager(1)
	dm := NewDowntimeManager(1, cm, store)
	fn := &fakeNotifier{}
	dm.SetNotifier(fn)
	return dm, cm, h, svc, fn
}

func fixedWindow(hostName string, from, until time.Time) *Downtime {
	return &Downtime{
		Type:      objects.HostDowntimeType,
		HostName:  hostName,
		StartTime: from,
		EndTime:   until,
		Fixed:     true,
		Author:    "noc",
		Comment:   "planned maintenance",
	}
}

func TestScheduleAttachesComment(t *testing.T) {
	dm, cm, _, _, _ := downtimeFixture(t)
	id := dm.Schedule(fixedWindow("db-01", time.Now(), time.Now().Add(time.Hour)))

	d := dm.get(id)
	require.NotNil(t, d)
	require.NotZero(t, d.CommentID)
	require.NotNil(t, cm.Get(d.CommentID))
	require.Len(t, cm.ForHost("db-01"), 1)
}

func TestStartAndEndDriveDowntimeDepth(t *testing.T) {
	dm, cm, h, _, fn := downtimeFixture(t)
	id := dm.Schedule(fixedWindow("db-01", time.Now(), time.Now().Add(time.Hour)))

	dm.HandleStart(id)
	require.Equal(t, 1, h.ScheduledDowntimeDepth)
	require.Len(t, fn.sent, 1)
	require.Equal(t, objects.NotificationDowntimeStart, fn.sent[0].ntype)

	// Starting again is a no-op.
	dm.HandleStart(id)
	require.Equal(t, 1, h.ScheduledDowntimeDepth)

	dm.HandleEnd(id)
	require.Equal(t, 0, h.ScheduledDowntimeDepth)
	require.Equal(t, objects.NotificationDowntimeEnd, fn.sent[len(fn.sent)-1].ntype)
	require.Nil(t, dm.get(id), "finished downtimes are discarded")
	require.Empty(t, cm.ForHost("db-01"), "the bookkeeping comment goes with it")
}

func TestUnscheduleCancelsActiveDowntime(t *testing.T) {
	dm, _, h, _, fn := downtimeFixture(t)
	id := dm.Schedule(fixedWindow("db-01", time.Now(), time.Now().Add(time.Hour)))
	dm.HandleStart(id)

	dm.Unschedule(id)
	require.Equal(t, 0, h.ScheduledDowntimeDepth)
	require.Equal(t, objects.NotificationDowntimeCancelled, fn.sent[len(fn.sent)-1].ntype)
	require.Nil(t, dm.get(id))
}

func TestTriggeredDowntimesFollowTheirTrigger(t *testing.T) {
	dm, _, h, svc, _ := downtimeFixture(t)
	parent := dm.Schedule(fixedWindow("db-01", time.Now(), time.Now().Add(time.Hour)))
	childDT := &Downtime{
		Type:               objects.ServiceDowntimeType,
		HostName:           "db-01",
		ServiceDescription: "PGSQL",
		StartTime:          time.Now(),
		EndTime:            time.Now().Add(time.Hour),
		Fixed:              true,
		TriggeredBy:        parent,
	}
	child := dm.Schedule(childDT)

	dm.HandleStart(parent)
	require.Equal(t, 1, h.ScheduledDowntimeDepth)
	require.Equal(t, 1, svc.ScheduledDowntimeDepth, "triggered downtime starts with its trigger")

	dm.HandleEnd(parent)
	require.Equal(t, 0, svc.ScheduledDowntimeDepth)
	require.Nil(t, dm.get(child))
}

func TestFlexDowntimeStartsOnlyOnProblem(t *testing.T) {
	dm, _, h, _, _ := downtimeFixture(t)
	flex := &Downtime{
		Type:      objects.HostDowntimeType,
		HostName:  "db-01",
		StartTime: time.Now().Add(-time.Minute),
		EndTime:   time.Now().Add(time.Hour),
		Fixed:     false,
		Duration:  30 * time.Minute,
	}
	id := dm.Schedule(flex)
	require.Equal(t, 1, h.PendingFlexDowntime, "flexible downtime counts as pending until triggered")

	// An UP result inside the window does not start it.
	dm.CheckPendingFlexHostDowntime("db-01", objects.HostUp)
	require.False(t, dm.get(id).IsInEffect)

	// The first problem state inside the window does.
	dm.CheckPendingFlexHostDowntime("db-01", objects.HostDown)
	d := dm.get(id)
	require.True(t, d.IsInEffect)
	require.False(t, d.FlexDowntimeStart.IsZero())
	require.Equal(t, 1, h.ScheduledDowntimeDepth)
	require.Equal(t, d.FlexDowntimeStart.Add(30*time.Minute), d.FlexEndTime(),
		"a flexible downtime runs for its duration from the moment it triggers")
}

func TestCheckExpiredDropsUntriggeredPastWindows(t *testing.T) {
	dm, cm, _, _, _ := downtimeFixture(t)
	past := dm.Schedule(fixedWindow("db-01", time.Now().Add(-2*time.Hour), time.Now().Add(-time.Hour)))
	future := dm.Schedule(fixedWindow("db-01", time.Now(), time.Now().Add(time.Hour)))

	dm.CheckExpired()
	require.Nil(t, dm.get(past))
	require.NotNil(t, dm.get(future))
	require.Len(t, cm.ForHost("db-01"), 1, "only the live downtime keeps its comment")
}
