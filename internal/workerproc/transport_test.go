package workerproc

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvidwatch/sentryd/internal/kvcodec"
)

func TestConnSendReceiveFramed(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca := newConn(a)
	cb := newConn(b)
	defer ca.close()
	defer cb.close()

	job := encodeJob(Job{ID: 1, Command: "check_load", Timeout: 5})
	require.NoError(t, ca.send(job))

	select {
	case got := <-cb.msgCh:
		gotJob, err := decodeJob(got)
		require.NoError(t, err)
		require.Equal(t, uint64(1), gotJob.ID)
		require.Equal(t, "check_load", gotJob.Command)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for framed message")
	}
}

func TestConnMultipleMessagesInSequence(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca := newConn(a)
	cb := newConn(b)
	defer ca.close()
	defer cb.close()

	for i := 0; i < 5; i++ {
		require.NoError(t, ca.send(kvcodec.Vec{{Key: "n", Value: string(rune('0' + i))}}))
	}

	for i := 0; i < 5; i++ {
		select {
		case v := <-cb.msgCh:
			n, _ := v.Get("n")
			require.Equal(t, string(rune('0'+i)), n)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
}
