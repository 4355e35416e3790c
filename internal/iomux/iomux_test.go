package iomux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func pipePair(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollInvokesReadyHandlerOnce(t *testing.T) {
	r, w := pipePair(t)
	m := New(4)

	var calls int
	require.NoError(t, m.RegisterIn(r, func(fd int, arg interface{}) {
		calls++
		buf := make([]byte, 16)
		unix.Read(fd, buf)
	}, nil))

	_, err := unix.Write(w, []byte("ping"))
	require.NoError(t, err)

	n, err := m.Poll(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, calls)
}

func TestPollTimesOutWithZero(t *testing.T) {
	r, _ := pipePair(t)
	m := New(4)
	require.NoError(t, m.RegisterIn(r, func(int, interface{}) {}, nil))

	start := time.Now()
	n, err := m.Poll(50)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestReRegisterSameFDFails(t *testing.T) {
	r, _ := pipePair(t)
	m := New(4)
	require.NoError(t, m.RegisterIn(r, func(int, interface{}) {}, nil))
	require.ErrorIs(t, m.RegisterIn(r, func(int, interface{}) {}, nil), ErrRegistered)
	require.ErrorIs(t, m.RegisterOut(r, func(int, interface{}) {}, nil), ErrRegistered)
}

func TestCapacityEnforced(t *testing.T) {
	r, w := pipePair(t)
	m := New(1)
	require.NoError(t, m.RegisterIn(r, func(int, interface{}) {}, nil))
	require.ErrorIs(t, m.RegisterOut(w, func(int, interface{}) {}, nil), ErrFull)
}

func TestUnregisterStopsDelivery(t *testing.T) {
	r, w := pipePair(t)
	m := New(4)
	require.NoError(t, m.RegisterIn(r, func(int, interface{}) {}, nil))
	require.NoError(t, m.Unregister(r))
	require.ErrorIs(t, m.Unregister(r), ErrNotRegistered)

	unix.Write(w, []byte("x"))
	n, err := m.Poll(0)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestWritePacketDeliversImmediately(t *testing.T) {
	r, w := pipePair(t)
	m := New(4)
	require.NoError(t, m.RegisterOut(w, func(int, interface{}) {}, nil))

	require.NoError(t, m.WritePacket(w, []byte("hello")))
	require.False(t, m.PendingOutput())

	buf := make([]byte, 16)
	n, err := unix.Read(r, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestWritePacketResidueFlushedByPoll(t *testing.T) {
	r, w := pipePair(t)
	m := New(4)
	require.NoError(t, m.RegisterOut(w, func(int, interface{}) {}, nil))

	// Fill the pipe until the kernel buffer is exhausted, so the next
	// WritePacket leaves residue in the deferred queue.
	junk := make([]byte, 4096)
	for {
		if _, err := unix.Write(w, junk); err != nil {
			break
		}
	}
	require.NoError(t, m.WritePacket(w, []byte("tail")))
	require.True(t, m.PendingOutput())

	// Drain the reader, then a Poll pass should flush the residue. Poll must
	// not block while output is pending.
	buf := make([]byte, 65536)
	for {
		if _, err := unix.Read(r, buf); err != nil {
			break
		}
	}
	for i := 0; i < 10 && m.PendingOutput(); i++ {
		_, err := m.Poll(1000)
		require.NoError(t, err)
	}
	require.False(t, m.PendingOutput())

	var tail []byte
	for {
		n, err := unix.Read(r, buf)
		if err != nil || n == 0 {
			break
		}
		tail = append(tail, buf[:n]...)
	}
	require.Contains(t, string(tail), "tail")
}

func TestWritePacketUnknownFD(t *testing.T) {
	m := New(4)
	require.ErrorIs(t, m.WritePacket(99, []byte("x")), ErrNotRegistered)
}
