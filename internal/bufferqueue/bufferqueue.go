// Package bufferqueue implements an append-only FIFO of byte blocks used by
// the worker-pool transport (internal/workerproc) to buffer partially-read
// or partially-written framed messages across non-blocking socket I/O.
package bufferqueue

import (
	"errors"
	"io"
)

// ErrShortQueue is returned when a caller asks for more bytes than are
// currently available.
var ErrShortQueue = errors.New("bufferqueue: not enough data available")

// ErrNoDelim is returned by UnshiftToDelim when the delimiter has not yet
// appeared in the queued data.
var ErrNoDelim = errors.New("bufferqueue: delimiter not found")

type block struct {
	data   []byte
	offset int
	next   *block
}

func (b *block) remaining() int { return len(b.data) - b.offset }

// Queue is an ordered list of owned byte blocks plus a read-offset into the
// head block. It is not safe for concurrent use; callers serialize access
// per connection (see internal/workerproc).
type Queue struct {
	head, tail *block
	available  int
}

// New returns an empty Queue.
func New() *Queue { return &Queue{} }

// Available returns the total number of readable bytes across all blocks.
func (q *Queue) Available() int { return q.available }

// PushCopy appends a copy of b to the queue.
func (q *Queue) PushCopy(b []byte) {
	if len(b) == 0 {
		return
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	q.PushOwned(cp)
}

// PushOwned appends b to the queue without copying; the queue takes
// ownership and the caller must not mutate b afterwards.
func (q *Queue) PushOwned(b []byte) {
	if len(b) == 0 {
		return
	}
	blk := &block{data: b}
	if q.tail == nil {
		q.head, q.tail = blk, blk
	} else {
		q.tail.next = blk
		q.tail = blk
	}
	q.available += len(b)
}

// Peek copies the first n bytes into out without consuming them. out must
// have length >= n. Fails with ErrShortQueue if fewer than n bytes are
// available.
func (q *Queue) Peek(n int, out []byte) error {
	if n == 0 {
		return nil
	}
	if n > q.available {
		return ErrShortQueue
	}
	written := 0
	for b := q.head; b != nil && written < n; b = b.next {
		avail := b.remaining()
		want := n - written
		if want > avail {
			want = avail
		}
		copy(out[written:written+want], b.data[b.offset:b.offset+want])
		written += want
	}
	return nil
}

// Drop discards the first n bytes. Fails with ErrShortQueue if fewer than n
// bytes are available. Blocks are released as their data is fully consumed.
func (q *Queue) Drop(n int) error {
	if n == 0 {
		return nil
	}
	if n > q.available {
		return ErrShortQueue
	}
	remaining := n
	for remaining > 0 {
		b := q.head
		avail := b.remaining()
		if avail > remaining {
			b.offset += remaining
			remaining = 0
			break
		}
		remaining -= avail
		q.head = b.next
		if q.head == nil {
			q.tail = nil
		}
	}
	q.available -= n
	return nil
}

// Unshift is an atomic peek-then-drop. out may be nil to discard the bytes.
func (q *Queue) Unshift(n int, out []byte) error {
	if out != nil {
		if err := q.Peek(n, out); err != nil {
			return err
		}
	} else if n > q.available {
		return ErrShortQueue
	}
	return q.Drop(n)
}

// UnshiftToDelim scans for the first occurrence of delim, spanning block
// boundaries and tolerating embedded zero bytes in delim. On match it
// unshifts everything up to and including the delimiter and returns it. If
// the delimiter is not present in the currently queued content, the queue is
// left unchanged and ErrNoDelim is returned.
func (q *Queue) UnshiftToDelim(delim []byte) ([]byte, error) {
	if len(delim) == 0 {
		return nil, ErrNoDelim
	}
	idx := q.indexDelim(delim)
	if idx < 0 {
		return nil, ErrNoDelim
	}
	n := idx + len(delim)
	out := make([]byte, n)
	if err := q.Unshift(n, out); err != nil {
		return nil, err
	}
	return out, nil
}

// indexDelim returns the byte offset of the first occurrence of delim within
// the queued content (treating all blocks as one logical byte stream), or -1
// if not present.
func (q *Queue) indexDelim(delim []byte) int {
	// Linear scan candidate start positions; compares byte-by-byte across
	// block boundaries. available is bounded by what's been read off the
	// worker socket between polls, so this is cheap in practice.
	dl := len(delim)
	for start := 0; start <= q.available-dl; start++ {
		if q.matchAt(start, delim) {
			return start
		}
	}
	return -1
}

func (q *Queue) matchAt(start int, delim []byte) bool {
	pos := 0
	b := q.head
	// advance to the block containing `start`
	for b != nil && pos+b.remaining() <= start {
		pos += b.remaining()
		b = b.next
	}
	if b == nil {
		return false
	}
	off := b.offset + (start - pos)
	di := 0
	for di < len(delim) {
		if b == nil {
			return false
		}
		if off >= len(b.data) {
			b = b.next
			if b == nil {
				return false
			}
			off = b.offset
			continue
		}
		if b.data[off] != delim[di] {
			return false
		}
		off++
		di++
	}
	return true
}

// ReadFrom reads whatever is available on r (a non-blocking-friendly
// io.Reader, typically backed by an *os.File in non-blocking mode) and
// pushes it as an owned block. It returns the number of bytes read, 0 on
// EOF, or a negative count is never returned — I/O errors are surfaced via
// err instead (the synchronous equivalent of the C API's negative-errno
// convention).
func (q *Queue) ReadFrom(r io.Reader) (int, error) {
	buf := make([]byte, 65536)
	n, err := r.Read(buf)
	if n > 0 {
		q.PushOwned(buf[:n])
	}
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

// WriteTo writes head blocks to w until the queue is empty or w signals it
// cannot accept more (returning the underlying error so callers can detect
// would-block/interrupt conditions and retry later via their own poll loop).
func (q *Queue) WriteTo(w io.Writer) (int, error) {
	total := 0
	for q.head != nil {
		b := q.head
		n, err := w.Write(b.data[b.offset:])
		if n > 0 {
			b.offset += n
			q.available -= n
			total += n
		}
		if b.remaining() == 0 {
			q.head = b.next
			if q.head == nil {
				q.tail = nil
			}
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
