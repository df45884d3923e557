// Package transport implements the connection layer both sides of
// mini-session-rpc sit on.
//
// A Conn owns one TCP connection. A background goroutine (recvLoop)
// continuously reads frames and hands each one to the Handler; writers share
// the connection through a write lock so frames never interleave.
//
//	goroutine-1 ──Send(req 1)──┐
//	goroutine-2 ──Send(req 2)──┼──→ single TCP conn ──→ peer
//	goroutine-3 ──Send(req 3)──┘
//
//	recvLoop:  ←── frame ──→ Handler.OnMessage
//	           ←── EOF   ──→ Handler.OnClose
package transport

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mini-session-rpc/protocol"
	"mini-session-rpc/rpcerr"
)

const readBufferSize = 32 * 1024

// Handler receives the events of a Conn. Both methods run on the Conn's read
// goroutine; OnMessage must not block for long or it stalls every other frame
// on the connection.
type Handler interface {
	OnMessage(c *Conn, t protocol.MsgType, body []byte)
	OnClose(c *Conn, err error)
}

// Conn is a framed, full-duplex connection.
type Conn struct {
	id      string
	conn    net.Conn
	handler Handler
	sending sync.Mutex // Serializes whole frames on the wire
	closed  atomic.Bool
	once    sync.Once
	started sync.Once
	done    chan struct{}
	err     error // Why the read loop ended; valid once done is closed
}

// NewConn wraps conn. No handler is called before Start, so the owner can
// record the connection first.
func NewConn(conn net.Conn, handler Handler) *Conn {
	return &Conn{
		id:      uuid.NewString(),
		conn:    conn,
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Start launches the read loop. Calls after the first are no-ops.
func (c *Conn) Start() {
	c.started.Do(func() { go c.recvLoop() })
}

// Dial connects to addr and wraps the connection.
func Dial(ctx context.Context, network, addr string, timeout time.Duration, handler Handler) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, rpcerr.Connect(err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	c := NewConn(conn, handler)
	c.Start()
	return c, nil
}

// ID is a random identifier used in logs.
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Send writes one frame. The whole frame is written under the write lock so
// concurrent senders cannot corrupt the stream.
func (c *Conn) Send(t protocol.MsgType, body []byte) error {
	return c.SendWithin(t, body, 0)
}

// SendWithin is Send bounded by timeout (0 means unbounded), counted from
// the call and so including the wait for the write lock's previous holder.
// A frame that misses the deadline may be half written, so the connection
// is shut down; the error then matches os.ErrDeadlineExceeded.
func (c *Conn) SendWithin(t protocol.MsgType, body []byte, timeout time.Duration) error {
	if c.closed.Load() {
		return rpcerr.Connect(rpcerr.ErrNotConnected)
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	c.sending.Lock()
	err := c.conn.SetWriteDeadline(deadline)
	if err == nil {
		err = protocol.Encode(c.conn, t, body)
	}
	c.sending.Unlock()
	if err != nil {
		c.shutdown(err)
		return rpcerr.Connect(err)
	}
	return nil
}

// IsConnected reports whether the connection is still usable.
func (c *Conn) IsConnected() bool {
	return !c.closed.Load()
}

// Done is closed when the read loop has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, nil while it is open.
func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close closes the connection; the read loop then reports OnClose.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Conn) shutdown(err error) {
	c.once.Do(func() {
		c.closed.Store(true)
		c.conn.Close()
		c.err = err
	})
}

// recvLoop is the only reader of the connection: a byte stream has to be
// read sequentially to find frame boundaries.
func (c *Conn) recvLoop() {
	r := bufio.NewReaderSize(c.conn, readBufferSize)
	var err error
	for {
		var t protocol.MsgType
		var body []byte
		t, body, err = protocol.Decode(r)
		if err != nil {
			break
		}
		c.handler.OnMessage(c, t, body)
	}
	if errors.Is(err, net.ErrClosed) {
		err = rpcerr.ErrClosed
	}
	c.shutdown(err)
	close(c.done)
	c.handler.OnClose(c, c.err)
}
