package downtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/objects"
)

func TestCommentAddAssignsSequentialIDs(t *testing.T) {
	cm := NewCommentManager(100)

	first := cm.Add(&Comment{HostName: "h1", CommentType: objects.HostCommentType, Data: "one"})
	second := cm.Add(&Comment{HostName: "h1", CommentType: objects.HostCommentType, Data: "two"})

	require.Equal(t, uint64(100), first)
	require.Equal(t, uint64(101), second)
	require.Equal(t, uint64(102), cm.NextID())
	require.False(t, cm.Get(first).EntryTime.IsZero(), "entry time stamped on add")
}

func TestCommentAddWithIDKeepsSourceAhead(t *testing.T) {
	cm := NewCommentManager(1)
	cm.AddWithID(&Comment{CommentID: 500, HostName: "h1", CommentType: objects.HostCommentType})

	require.NotNil(t, cm.Get(500))
	next := cm.Add(&Comment{HostName: "h1", CommentType: objects.HostCommentType})
	require.Equal(t, uint64(501), next, "fresh ids must not collide with restored ones")
}

func TestCommentTargetSelection(t *testing.T) {
	cm := NewCommentManager(1)
	cm.Add(&Comment{HostName: "h1", CommentType: objects.HostCommentType, Data: "host note"})
	cm.Add(&Comment{HostName: "h1", ServiceDescription: "HTTP", CommentType: objects.ServiceCommentType, Data: "svc note"})
	cm.Add(&Comment{HostName: "h2", CommentType: objects.HostCommentType, Data: "other host"})

	require.Len(t, cm.ForHost("h1"), 1)
	require.Len(t, cm.ForService("h1", "HTTP"), 1)
	require.Empty(t, cm.ForService("h1", "SSH"))
	require.Len(t, cm.All(), 3)
}

func TestCommentDeleteVariants(t *testing.T) {
	cm := NewCommentManager(1)
	id := cm.Add(&Comment{HostName: "h1", CommentType: objects.HostCommentType})
	cm.Add(&Comment{HostName: "h1", ServiceDescription: "HTTP", CommentType: objects.ServiceCommentType})
	cm.Add(&Comment{HostName: "h1", ServiceDescription: "SSH", CommentType: objects.ServiceCommentType})

	cm.Delete(id)
	require.Nil(t, cm.Get(id))

	cm.DeleteAllForService("h1", "HTTP")
	require.Empty(t, cm.ForService("h1", "HTTP"))
	require.Len(t, cm.ForService("h1", "SSH"), 1)

	cm.DeleteAllForHost("h1")
	require.Empty(t, cm.ForHost("h1"))
	require.Len(t, cm.ForService("h1", "SSH"), 1, "host delete leaves service comments alone")
}

func TestCommentAckCleanupSkipsPersistent(t *testing.T) {
	cm := NewCommentManager(1)
	cm.Add(&Comment{
		HostName: "h1", CommentType: objects.HostCommentType,
		EntryType: objects.AcknowledgementCommentEntry,
	})
	keep := cm.Add(&Comment{
		HostName: "h1", CommentType: objects.HostCommentType,
		EntryType: objects.AcknowledgementCommentEntry, Persistent: true,
	})

	cm.DeleteHostAckComments("h1")
	require.Nil(t, cm.Get(1))
	require.NotNil(t, cm.Get(keep), "persistent ack comments survive the sweep")
}

func TestCommentExpiry(t *testing.T) {
	cm := NewCommentManager(1)
	stale := cm.Add(&Comment{
		HostName: "h1", CommentType: objects.HostCommentType,
		Expires: true, ExpireTime: time.Now().Add(-time.Minute),
	})
	fresh := cm.Add(&Comment{
		HostName: "h1", CommentType: objects.HostCommentType,
		Expires: true, ExpireTime: time.Now().Add(time.Hour),
	})
	forever := cm.Add(&Comment{HostName: "h1", CommentType: objects.HostCommentType})

	cm.ExpireComments()
	require.Nil(t, cm.Get(stale))
	require.NotNil(t, cm.Get(fresh))
	require.NotNil(t, cm.Get(forever))
}
