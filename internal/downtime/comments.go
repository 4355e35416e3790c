// Package downtime implements scheduled downtime and comment management.
package downtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/corvidwatch/sentryd/internal/objects"
)

// Comment is a host or service annotation: user notes, acknowledgement
// text, and the bookkeeping comments downtimes attach to their targets.
type Comment struct {
	CommentType        int // HostCommentType or ServiceCommentType
	EntryType          int // UserCommentEntry, DowntimeCommentEntry, ...
	CommentID          uint64
	Source             int // 0=internal, 1=external
	Persistent         bool
	EntryTime          time.Time
	Expires            bool
	ExpireTime         time.Time
	HostName           string
	ServiceDescription string
	Author             string
	Data               string
}

// isFor reports whether the comment belongs to the given target; an empty
// svcDesc selects host comments.
func (c *Comment) isFor(hostName, svcDesc string) bool {
	if c.HostName != hostName {
		return false
	}
	if svcDesc == "" {
		return c.CommentType == objects.HostCommentType
	}
	return c.CommentType == objects.ServiceCommentType && c.ServiceDescription == svcDesc
}

// CommentManager owns every live comment, keyed by id.
type CommentManager struct {
	mu       sync.RWMutex
	byID     map[uint64]*Comment
	idSource atomic.Uint64
}

func NewCommentManager(startID uint64) *CommentManager {
	cm := &CommentManager{byID: make(map[uint64]*Comment)}
	cm.idSource.Store(startID)
	return cm
}

// Add assigns the next id, stamps the entry time if absent, and stores c.
func (cm *CommentManager) Add(c *Comment) uint64 {
	c.CommentID = cm.idSource.Add(1) - 1
	if c.EntryTime.IsZero() {
		c.EntryTime = time.Now()
	}
	cm.mu.Lock()
	cm.byID[c.CommentID] = c
	cm.mu.Unlock()
	return c.CommentID
}

// AddWithID stores a comment under its pre-assigned id (retention restore)
// and keeps the id source ahead of it.
func (cm *CommentManager) AddWithID(c *Comment) {
	cm.mu.Lock()
	cm.byID[c.CommentID] = c
	cm.mu.Unlock()
	for {
		cur := cm.idSource.Load()
		if c.CommentID < cur || cm.idSource.CompareAndSwap(cur, c.CommentID+1) {
			return
		}
	}
}

func (cm *CommentManager) Get(id uint64) *Comment {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.byID[id]
}

func (cm *CommentManager) Delete(id uint64) {
	cm.mu.Lock()
	delete(cm.byID, id)
	cm.mu.Unlock()
}

// deleteWhere removes every comment the predicate selects.
func (cm *CommentManager) deleteWhere(match func(*Comment) bool) {
	cm.mu.Lock()
	for id, c := range cm.byID {
		if match(c) {
			delete(cm.byID, id)
		}
	}
	cm.mu.Unlock()
}

// selectWhere snapshots every comment the predicate selects.
func (cm *CommentManager) selectWhere(match func(*Comment) bool) []*Comment {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	var out []*Comment
	for _, c := range cm.byID {
		if match(c) {
			out = append(out, c)
		}
	}
	return out
}

// DeleteAllForHost drops every host comment on hostName.
func (cm *CommentManager) DeleteAllForHost(hostName string) {
	cm.deleteWhere(func(c *Comment) bool { return c.isFor(hostName, "") })
}

// DeleteAllForService drops every comment on one service.
func (cm *CommentManager) DeleteAllForService(hostName, svcDesc string) {
	cm.deleteWhere(func(c *Comment) bool { return c.isFor(hostName, svcDesc) })
}

// DeleteHostAckComments drops non-persistent acknowledgement comments on a
// host, which happens when the acknowledgement itself clears.
func (cm *CommentManager) DeleteHostAckComments(hostName string) {
	cm.deleteWhere(func(c *Comment) bool {
		return c.isFor(hostName, "") && c.EntryType == objects.AcknowledgementCommentEntry && !c.Persistent
	})
}

// DeleteServiceAckComments is the service-side twin of DeleteHostAckComments.
func (cm *CommentManager) DeleteServiceAckComments(hostName, svcDesc string) {
	cm.deleteWhere(func(c *Comment) bool {
		return c.isFor(hostName, svcDesc) && c.EntryType == objects.AcknowledgementCommentEntry && !c.Persistent
	})
}

// ExpireComments sweeps out comments whose expiry has passed.
func (cm *CommentManager) ExpireComments() {
	now := time.Now()
	cm.deleteWhere(func(c *Comment) bool {
		return c.Expires && !c.ExpireTime.IsZero() && c.ExpireTime.Before(now)
	})
}

// All snapshots every live comment.
func (cm *CommentManager) All() []*Comment {
	return cm.selectWhere(func(*Comment) bool { return true })
}

// ForHost snapshots the host comments on hostName.
func (cm *CommentManager) ForHost(hostName string) []*Comment {
	return cm.selectWhere(func(c *Comment) bool { return c.isFor(hostName, "") })
}

// ForService snapshots the comments on one service.
func (cm *CommentManager) ForService(hostName, svcDesc string) []*Comment {
	return cm.selectWhere(func(c *Comment) bool { return c.isFor(hostName, svcDesc) })
}

// NextID exposes the id source's current value for retention snapshots.
func (cm *CommentManager) NextID() uint64 {
	return cm.idSource.Load()
}
