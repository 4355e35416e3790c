package workerproc

import (
	"fmt"
	"net"
	"sync"

	"github.com/corvidwatch/sentryd/internal/bufferqueue"
	"github.com/corvidwatch/sentryd/internal/kvcodec"
)

// conn wraps one end of a worker socketpair with a read-side bufferqueue for
// delimiter-scanning framed messages, and a deferred write queue so a slow
// or momentarily-full socket never blocks the caller. It realizes C3's
// "register fd with handler, flush pending output on poll" contract with a
// goroutine pair instead of a poll loop: one goroutine blocks in Read and
// feeds framed messages to msgCh, another drains writeCh onto the socket.
type conn struct {
	nc net.Conn

	readQ  *bufferqueue.Queue
	msgCh  chan kvcodec.Vec
	errCh  chan error
	closed chan struct{}

	writeMu sync.Mutex
	writeQ  *bufferqueue.Queue
	wakeup  chan struct{}
}

func newConn(nc net.Conn) *conn {
	c := &conn{
		nc:     nc,
		readQ:  bufferqueue.New(),
		msgCh:  make(chan kvcodec.Vec, 64),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
		writeQ: bufferqueue.New(),
		wakeup: make(chan struct{}, 1),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// readLoop blocks on the socket and pushes complete decoded messages onto
// msgCh. It is the single reader goroutine for this connection.
func (c *conn) readLoop() {
	for {
		n, err := c.readQ.ReadFrom(c.nc)
		if n > 0 {
			for {
				msg, derr := c.readQ.UnshiftToDelim(kvcodec.FrameDelimiter)
				if derr != nil {
					break
				}
				v, decErr := kvcodec.DecodeFramed(msg)
				if decErr != nil {
					select {
					case c.errCh <- fmt.Errorf("workerproc: decode framed message: %w", decErr):
					default:
					}
					continue
				}
				select {
				case c.msgCh <- v:
				case <-c.closed:
					return
				}
			}
		}
		if err != nil {
			select {
			case c.errCh <- err:
			default:
			}
			close(c.msgCh)
			return
		}
		if n == 0 {
			close(c.msgCh)
			return
		}
	}
}

// writeLoop drains the deferred write queue onto the socket whenever woken,
// the goroutine-based equivalent of a poll-time flush pass.
func (c *conn) writeLoop() {
	for {
		select {
		case <-c.wakeup:
		case <-c.closed:
			return
		}
		c.writeMu.Lock()
		_, err := c.writeQ.WriteTo(c.nc)
		c.writeMu.Unlock()
		if err != nil {
			select {
			case c.errCh <- err:
			default:
			}
			return
		}
	}
}

// send enqueues a kvvec-encoded message for delivery and kicks the writer.
func (c *conn) send(v kvcodec.Vec) error {
	framed, err := kvcodec.EncodeFramed(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	c.writeQ.PushOwned(framed)
	c.writeMu.Unlock()
	select {
	case c.wakeup <- struct{}{}:
	default:
	}
	return nil
}

func (c *conn) close() {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	c.nc.Close()
}
