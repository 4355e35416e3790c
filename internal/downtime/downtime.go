package downtime

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// Downtime represents a scheduled downtime entry.
type Downtime struct {
	Type                       int // HostDowntimeType or ServiceDowntimeType
	HostName                   string
	ServiceDescription         string
	EntryTime                  time.Time
	StartTime                  time.Time
	FlexDowntimeStart          time.Time
	EndTime                    time.Time
	Fixed                      bool
	TriggeredBy                uint64 // ID of triggering downtime, 0=none
	Duration                   time.Duration
	DowntimeID                 uint64
	IsInEffect                 bool
	StartNotificationSent      bool
	Author                     string
	Comment                    string
	CommentID                  uint64
	IncrementedPendingDowntime bool
}

// Logger is the interface for downtime log events.
type Logger interface {
	Log(format string, args ...interface{})
}

// Notifier is the interface for sending downtime notifications.
type Notifier interface {
	SendHostNotification(hostName string, ntype int, author, data string, options int)
	SendServiceNotification(hostName, svcDesc string, ntype int, author, data string, options int)
}

// DowntimeManager manages all scheduled downtimes.
type DowntimeManager struct {
	mu        sync.RWMutex
	downtimes map[uint64]*Downtime
	nextID    atomic.Uint64
	comments  *CommentManager
	store     *objects.ObjectStore
	logger    Logger
	notifier  Notifier
}

// NewDowntimeManager creates a new downtime manager.
func NewDowntimeManager(startID uint64, comments *CommentManager, store *objects.ObjectStore) *DowntimeManager {
	dm := &DowntimeManager{
		downtimes: make(map[uint64]*Downtime),
		comments:  comments,
		store:     store,
	}
	dm.nextID.Store(startID)
	return dm
}

// SetLogger sets the logger.
func (dm *DowntimeManager) SetLogger(l Logger) { dm.logger = l }

// SetNotifier sets the notifier.
func (dm *DowntimeManager) SetNotifier(n Notifier) { dm.notifier = n }

func (dm *DowntimeManager) log(format string, args ...interface{}) {
	if dm.logger != nil {
		dm.logger.Log(format, args...)
	}
}

// depthCounter is satisfied by *objects.Host and *objects.Service. Routing
// the downtime depth/pending-flex bookkeeping through this interface means
// HandleStart/stopDowntime/incrementPending/decrementPending need exactly
// one code path instead of a host/service branch apiece.
type depthCounter interface {
	BumpScheduledDowntimeDepth(delta int) int
	BumpPendingFlexDowntime(delta int)
}

// resolveTarget looks up the host or service a downtime entry applies to.
// It returns a nil interface (not a typed nil) when the object is unknown,
// so callers can do a plain `!= nil` check.
func (dm *DowntimeManager) resolveTarget(d *Downtime) depthCounter {
	if d.Type == objects.HostDowntimeType {
		if hst := dm.store.GetHost(d.HostName); hst != nil {
			return hst
		}
		return nil
	}
	if svc := dm.store.GetService(d.HostName, d.ServiceDescription); svc != nil {
		return svc
	}
	return nil
}

func (dm *DowntimeManager) notify(d *Downtime, ntype int) {
	if dm.notifier == nil {
		return
	}
	if d.Type == objects.HostDowntimeType {
		dm.notifier.SendHostNotification(d.HostName, ntype, d.Author, d.Comment, 0)
		return
	}
	dm.notifier.SendServiceNotification(d.HostName, d.ServiceDescription, ntype, d.Author, d.Comment, 0)
}

func (dm *DowntimeManager) alertLine(d *Downtime, action string) string {
	if d.Type == objects.HostDowntimeType {
		return fmt.Sprintf("HOST DOWNTIME ALERT: %s;%s; %s has %s a period of scheduled downtime",
			d.HostName, action, d.HostName, downtimeVerb(action))
	}
	return fmt.Sprintf("SERVICE DOWNTIME ALERT: %s;%s;%s; %s on %s has %s a period of scheduled downtime",
		d.HostName, d.ServiceDescription, action, d.ServiceDescription, d.HostName, downtimeVerb(action))
}

func downtimeVerb(action string) string {
	if action == "STARTED" {
		return "entered"
	}
	return "exited from"
}

// Schedule adds a new downtime entry and returns its ID.
func (dm *DowntimeManager) Schedule(d *Downtime) uint64 {
	id := dm.nextID.Add(1) - 1
	d.DowntimeID = id
	if d.EntryTime.IsZero() {
		d.EntryTime = time.Now()
	}

	commentType := objects.HostCommentType
	if d.Type == objects.ServiceDowntimeType {
		commentType = objects.ServiceCommentType
	}
	commentText := fmt.Sprintf("This %s has been scheduled for fixed downtime from %s to %s.",
		downtimeTypeName(d.Type), d.StartTime.Format(time.RFC3339), d.EndTime.Format(time.RFC3339))
	if !d.Fixed {
		commentText = fmt.Sprintf("This %s has been scheduled for flexible downtime starting between %s and %s and lasting for %s.",
			downtimeTypeName(d.Type), d.StartTime.Format(time.RFC3339), d.EndTime.Format(time.RFC3339), d.Duration)
	}
	c := &Comment{
		CommentType:        commentType,
		EntryType:          objects.DowntimeCommentEntry,
		Source:             0,
		Persistent:         false,
		HostName:           d.HostName,
		ServiceDescription: d.ServiceDescription,
		Author:             d.Author,
		Data:               commentText,
	}
	d.CommentID = dm.comments.Add(c)

	dm.mu.Lock()
	dm.downtimes[id] = d
	dm.mu.Unlock()

	if !d.Fixed && d.TriggeredBy == 0 {
		dm.incrementPending(d)
	}

	return id
}

// ScheduleWithID adds a downtime with a specific ID (for retention restore).
func (dm *DowntimeManager) ScheduleWithID(d *Downtime) {
	dm.mu.Lock()
	dm.downtimes[d.DowntimeID] = d
	dm.mu.Unlock()
	for {
		cur := dm.nextID.Load()
		if d.DowntimeID < cur {
			break
		}
		if dm.nextID.CompareAndSwap(cur, d.DowntimeID+1) {
			break
		}
	}
}

// Unschedule cancels a downtime.
func (dm *DowntimeManager) Unschedule(id uint64) {
	dm.mu.Lock()
	d, ok := dm.downtimes[id]
	dm.mu.Unlock()
	if !ok {
		return
	}

	if d.IncrementedPendingDowntime {
		dm.decrementPending(d)
	}
	if d.IsInEffect {
		dm.stopDowntime(d, true)
	}
	if d.CommentID > 0 {
		dm.comments.Delete(d.CommentID)
	}

	dm.mu.Lock()
	delete(dm.downtimes, id)
	dm.mu.Unlock()

	dm.unscheduleTriggered(id)
}

func (dm *DowntimeManager) unscheduleTriggered(triggerID uint64) {
	for _, id := range dm.idsWhere(func(d *Downtime) bool { return d.TriggeredBy == triggerID }) {
		dm.Unschedule(id)
	}
}

// idsWhere snapshots the IDs of downtimes matching pred under a read lock,
// so the caller can act on each one without holding the lock (several of
// the walks below recurse back into methods that take it themselves).
func (dm *DowntimeManager) idsWhere(pred func(*Downtime) bool) []uint64 {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	var ids []uint64
	for id, d := range dm.downtimes {
		if pred(d) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (dm *DowntimeManager) get(id uint64) *Downtime {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.downtimes[id]
}

// HandleStart processes a downtime start event.
func (dm *DowntimeManager) HandleStart(id uint64) {
	d := dm.get(id)
	if d == nil || d.IsInEffect {
		return
	}
	d.IsInEffect = true

	if t := dm.resolveTarget(d); t != nil {
		if depth := t.BumpScheduledDowntimeDepth(1); depth == 1 {
			dm.log(dm.alertLine(d, "STARTED"))
			if !d.StartNotificationSent {
				dm.notify(d, objects.NotificationDowntimeStart)
				d.StartNotificationSent = true
			}
		}
	}

	for _, tid := range dm.idsWhere(func(td *Downtime) bool { return td.TriggeredBy == id && !td.IsInEffect }) {
		dm.HandleStart(tid)
	}
}

// HandleEnd processes a downtime end event.
func (dm *DowntimeManager) HandleEnd(id uint64) {
	d := dm.get(id)
	if d == nil || !d.IsInEffect {
		return
	}

	dm.stopDowntime(d, false)
	if d.CommentID > 0 {
		dm.comments.Delete(d.CommentID)
	}

	for _, tid := range dm.idsWhere(func(td *Downtime) bool { return td.TriggeredBy == id && td.IsInEffect }) {
		dm.HandleEnd(tid)
	}

	dm.mu.Lock()
	delete(dm.downtimes, id)
	dm.mu.Unlock()
}

func (dm *DowntimeManager) stopDowntime(d *Downtime, cancelled bool) {
	d.IsInEffect = false
	action, notifType := "STOPPED", objects.NotificationDowntimeEnd
	if cancelled {
		action, notifType = "CANCELLED", objects.NotificationDowntimeCancelled
	}

	if t := dm.resolveTarget(d); t != nil {
		if depth := t.BumpScheduledDowntimeDepth(-1); depth == 0 {
			dm.log(dm.alertLine(d, action))
			dm.notify(d, notifType)
		}
	}

	if d.IncrementedPendingDowntime {
		dm.decrementPending(d)
	}
}

// checkPendingFlex scans for non-fixed, not-yet-triggered downtimes matching
// pred whose window contains now, and starts each one.
func (dm *DowntimeManager) checkPendingFlex(pred func(*Downtime) bool) {
	now := time.Now()
	ids := dm.idsWhere(func(d *Downtime) bool {
		if !pred(d) || d.Fixed || d.IsInEffect || d.TriggeredBy != 0 {
			return false
		}
		return !now.Before(d.StartTime) && !now.After(d.EndTime)
	})
	for _, id := range ids {
		if d := dm.get(id); d != nil {
			d.FlexDowntimeStart = now
			dm.HandleStart(id)
		}
	}
}

// CheckPendingFlexHostDowntime checks if a flexible downtime should start for a host.
func (dm *DowntimeManager) CheckPendingFlexHostDowntime(hostName string, currentState int) {
	if currentState == objects.HostUp {
		return
	}
	dm.checkPendingFlex(func(d *Downtime) bool {
		return d.Type == objects.HostDowntimeType && d.HostName == hostName
	})
}

// CheckPendingFlexServiceDowntime checks if a flexible downtime should start for a service.
func (dm *DowntimeManager) CheckPendingFlexServiceDowntime(hostName, svcDesc string, currentState int) {
	if currentState == objects.ServiceOK {
		return
	}
	dm.checkPendingFlex(func(d *Downtime) bool {
		return d.Type == objects.ServiceDowntimeType && d.HostName == hostName && d.ServiceDescription == svcDesc
	})
}

// CheckExpired removes expired downtimes that never triggered.
func (dm *DowntimeManager) CheckExpired() {
	now := time.Now()
	ids := dm.idsWhere(func(d *Downtime) bool {
		return !d.IsInEffect && !d.EndTime.IsZero() && d.EndTime.Before(now)
	})

	for _, id := range ids {
		d := dm.get(id)
		if d == nil {
			continue
		}
		dm.notify(d, objects.NotificationDowntimeEnd)
		if d.CommentID > 0 {
			dm.comments.Delete(d.CommentID)
		}
		if d.IncrementedPendingDowntime {
			dm.decrementPending(d)
		}
		dm.mu.Lock()
		delete(dm.downtimes, id)
		dm.mu.Unlock()
	}
}

// FlexEndTime returns the actual end time for a flexible downtime.
func (d *Downtime) FlexEndTime() time.Time {
	if !d.Fixed && !d.FlexDowntimeStart.IsZero() {
		return d.FlexDowntimeStart.Add(d.Duration)
	}
	return d.EndTime
}

func (dm *DowntimeManager) incrementPending(d *Downtime) {
	if d.IncrementedPendingDowntime {
		return
	}
	d.IncrementedPendingDowntime = true
	if t := dm.resolveTarget(d); t != nil {
		t.BumpPendingFlexDowntime(1)
	}
}

func (dm *DowntimeManager) decrementPending(d *Downtime) {
	if !d.IncrementedPendingDowntime {
		return
	}
	d.IncrementedPendingDowntime = false
	if t := dm.resolveTarget(d); t != nil {
		t.BumpPendingFlexDowntime(-1)
	}
}

// Get returns a downtime by ID.
func (dm *DowntimeManager) Get(id uint64) *Downtime {
	return dm.get(id)
}

// All returns all downtimes sorted by start time.
func (dm *DowntimeManager) All() []*Downtime {
	dm.mu.RLock()
	result := make([]*Downtime, 0, len(dm.downtimes))
	for _, d := range dm.downtimes {
		result = append(result, d)
	}
	dm.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartTime.Equal(result[j].StartTime) {
			return result[i].TriggeredBy == 0 && result[j].TriggeredBy != 0
		}
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result
}

// NextID returns the next downtime ID value.
func (dm *DowntimeManager) NextID() uint64 {
	return dm.nextID.Load()
}

// DeleteByHost removes all downtimes for a host.
func (dm *DowntimeManager) DeleteByHost(hostName string) {
	for _, id := range dm.idsWhere(func(d *Downtime) bool { return d.HostName == hostName }) {
		dm.Unschedule(id)
	}
}

func downtimeTypeName(t int) string {
	if t == objects.HostDowntimeType {
		return "host"
	}
	return "service"
}
