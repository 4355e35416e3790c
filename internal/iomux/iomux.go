// Package iomux is a level-triggered readiness multiplexer over poll(2): a
// fixed-capacity set of (fd, handler, arg) registrations, a Poll call that
// blocks until one is ready or a timeout lapses, and a per-fd deferred write
// queue flushed ahead of every poll so a slow peer never blocks the caller.
// The worker child's event loop (internal/workerproc) runs entirely on one
// Mux; see RunWorker.
package iomux

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/corvidwatch/sentryd/internal/bufferqueue"
)

var (
	// ErrRegistered is returned when registering an fd that already has a
	// handler; one handler per fd.
	ErrRegistered = errors.New("iomux: fd already registered")
	// ErrNotRegistered is returned by Unregister/Close/WritePacket for an fd
	// the mux does not know.
	ErrNotRegistered = errors.New("iomux: fd not registered")
	// ErrFull is returned when the registration set is at capacity.
	ErrFull = errors.New("iomux: registration set full")
)

// Handler is invoked from Poll, at most once per Poll call, when its fd is
// ready. Handlers run on the polling goroutine and must not block; they may
// freely call back into the Mux (Register*/Unregister/WritePacket).
type Handler func(fd int, arg interface{})

type entry struct {
	interest int16 // unix.POLLIN or unix.POLLOUT
	handler  Handler
	arg      interface{}
}

// Mux is safe for concurrent use: WritePacket may be called from any
// goroutine while another sits in Poll.
type Mux struct {
	mu      sync.Mutex
	cap     int
	entries map[int]*entry
	pending map[int]*bufferqueue.Queue
}

// New returns a Mux that accepts at most capacity registrations. A zero or
// negative capacity falls back to a small default; production callers size
// this from RLIMIT_NOFILE.
func New(capacity int) *Mux {
	if capacity <= 0 {
		capacity = 16
	}
	return &Mux{
		cap:     capacity,
		entries: make(map[int]*entry),
		pending: make(map[int]*bufferqueue.Queue),
	}
}

// RegisterIn registers h to be invoked when fd becomes readable.
func (m *Mux) RegisterIn(fd int, h Handler, arg interface{}) error {
	return m.register(fd, unix.POLLIN, h, arg)
}

// RegisterOut registers h to be invoked when fd becomes writable.
func (m *Mux) RegisterOut(fd int, h Handler, arg interface{}) error {
	return m.register(fd, unix.POLLOUT, h, arg)
}

func (m *Mux) register(fd int, interest int16, h Handler, arg interface{}) error {
	if fd < 0 {
		return unix.EBADF
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.entries[fd]; dup {
		return ErrRegistered
	}
	if len(m.entries) >= m.cap {
		return ErrFull
	}
	m.entries[fd] = &entry{interest: interest, handler: h, arg: arg}
	return nil
}

// Unregister removes fd from the set. Any undelivered deferred output for fd
// is discarded.
func (m *Mux) Unregister(fd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[fd]; !ok {
		return ErrNotRegistered
	}
	delete(m.entries, fd)
	delete(m.pending, fd)
	return nil
}

// Close unregisters fd and closes it.
func (m *Mux) Close(fd int) error {
	if err := m.Unregister(fd); err != nil {
		return err
	}
	return unix.Close(fd)
}

// Registered returns the number of fds currently in the set.
func (m *Mux) Registered() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// WritePacket queues p for delivery on fd and attempts an immediate
// non-blocking flush. Any residue is retried by subsequent Poll calls.
func (m *Mux) WritePacket(fd int, p []byte) error {
	m.mu.Lock()
	if _, ok := m.entries[fd]; !ok {
		m.mu.Unlock()
		return ErrNotRegistered
	}
	q := m.pending[fd]
	if q == nil {
		q = bufferqueue.New()
		m.pending[fd] = q
	}
	q.PushCopy(p)
	err := flushQueue(fd, q)
	if q.Available() == 0 {
		delete(m.pending, fd)
	}
	m.mu.Unlock()
	return err
}

// PendingOutput reports whether any fd still has deferred bytes queued.
func (m *Mux) PendingOutput() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending) > 0
}

// Poll flushes deferred output, then waits at most timeoutMS (negative =
// indefinite) for readiness and invokes each ready fd's handler exactly
// once. It returns the number of handlers invoked; 0 on timeout. While any
// fd still has deferred output Poll does not block, so the flush pass runs
// again promptly.
func (m *Mux) Poll(timeoutMS int) (int, error) {
	m.mu.Lock()
	for fd, q := range m.pending {
		flushQueue(fd, q)
		if q.Available() == 0 {
			delete(m.pending, fd)
		}
	}
	if len(m.pending) > 0 {
		timeoutMS = 0
	}
	pfds := make([]unix.PollFd, 0, len(m.entries))
	for fd, e := range m.entries {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: e.interest})
	}
	m.mu.Unlock()

	if len(pfds) == 0 {
		return 0, nil
	}

	var n int
	var err error
	for {
		n, err = unix.Poll(pfds, timeoutMS)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return -1, err
	}
	if n == 0 {
		return 0, nil
	}

	invoked := 0
	for _, p := range pfds {
		if p.Revents == 0 {
			continue
		}
		m.mu.Lock()
		e := m.entries[int(p.Fd)]
		m.mu.Unlock()
		if e == nil {
			continue // unregistered by an earlier handler this pass
		}
		e.handler(int(p.Fd), e.arg)
		invoked++
	}
	return invoked, nil
}

// flushQueue writes q's head blocks to fd until drained or the fd would
// block. Caller holds m.mu.
func flushQueue(fd int, q *bufferqueue.Queue) error {
	_, err := q.WriteTo(fdWriter(fd))
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return nil // residue stays queued for the next flush pass
	}
	return err
}

// fdWriter adapts a raw fd to io.Writer for bufferqueue.WriteTo. EINTR is
// retried here; EAGAIN is surfaced so WriteTo stops.
type fdWriter int

func (w fdWriter) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(int(w), p)
		if err == unix.EINTR {
			continue
		}
		if n < 0 {
			n = 0
		}
		return n, err
	}
}
