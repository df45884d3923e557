// Package client implements the calling side: a pool of parallel connections
// to one fixed peer, the correlator that matches responses to blocked
// callers, typed stubs, and the heartbeat supervisor.
//
//	caller ──Call──→ Correlator: id++, waiter registered, Send ──→ peer
//	                    │ spin, then block until response or timeout
//	recvLoop ←── Response(id) ──→ pending[id] → waiter wakes the caller
package client

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mini-session-rpc/codec"
	"mini-session-rpc/contract"
	"mini-session-rpc/logger"
	"mini-session-rpc/message"
	"mini-session-rpc/metrics"
	"mini-session-rpc/protocol"
	"mini-session-rpc/rpcerr"
	"mini-session-rpc/transport"
)

const (
	DefaultSpinCount   = 100
	DefaultDialTimeout = 3 * time.Second
)

// Client calls services on one peer over 1..N parallel connections. It is
// safe for concurrent use.
type Client struct {
	id             string
	corr           *Correlator
	pool           *transport.Pool
	codec          codec.Codec
	defaultTimeout time.Duration
	log            *zap.Logger
	metrics        *metrics.Metrics
	closed         atomic.Bool
}

type options struct {
	connections    int
	spins          int
	dialTimeout    time.Duration
	defaultTimeout time.Duration
	codec          codec.Codec
	log            *zap.Logger
	metrics        *metrics.Metrics
}

type Option func(*options)

// WithConnections sets how many parallel connections the client keeps.
func WithConnections(n int) Option {
	return func(o *options) { o.connections = n }
}

// WithSpinCount sets how many times a caller polls for its response before
// blocking. 0 blocks immediately.
func WithSpinCount(n int) Option {
	return func(o *options) { o.spins = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

// WithDefaultTimeout bounds calls made without an explicit timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(o *options) { o.defaultTimeout = d }
}

func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Dial creates a client for addr and opens its connections. It fails only
// when no connection at all could be established.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := options{
		connections:    1,
		spins:          DefaultSpinCount,
		dialTimeout:    DefaultDialTimeout,
		defaultTimeout: contract.DefaultTimeout,
		codec:          codec.Default,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.spins < 0 {
		o.spins = 0
	}

	c := &Client{
		id:             uuid.NewString(),
		codec:          o.codec,
		defaultTimeout: o.defaultTimeout,
		log:            logger.OrNop(o.log),
		metrics:        o.metrics,
	}
	c.log = c.log.With(zap.String("client", c.id), zap.String("addr", addr))
	c.corr = newCorrelator(o.codec, o.spins, c.log, o.metrics)
	c.pool = transport.NewPool("tcp", addr, o.connections, o.dialTimeout, (*connHandler)(c), c.log)

	if err := c.pool.Connect(ctx); err != nil {
		if c.pool.Live() == 0 {
			c.pool.Close()
			return nil, err
		}
		c.log.Warn("some connections failed", zap.Error(err), zap.Int("live", c.pool.Live()))
	}
	return c, nil
}

// ID identifies this client instance in logs.
func (c *Client) ID() string {
	return c.id
}

// Addr is the fixed peer address.
func (c *Client) Addr() string {
	return c.pool.Addr()
}

// Call invokes service.method with args and waits up to timeout for the
// result. timeout <= 0 uses the client default. The result is the decoded
// value, or the raw []byte when the server returned bytes.
func (c *Client) Call(service, method string, timeout time.Duration, args ...any) (any, error) {
	resp, err := c.roundTrip(service, method, timeout, args)
	if err != nil {
		return nil, err
	}
	v, err := c.corr.decode(resp)
	if err != nil {
		c.metrics.Failed()
		return nil, err
	}
	c.metrics.Succeeded()
	return v, nil
}

// CallRaw is Call without result decoding: it returns the payload bytes as
// they arrived, codec-encoded or not.
func (c *Client) CallRaw(service, method string, timeout time.Duration, args ...any) ([]byte, error) {
	resp, err := c.roundTrip(service, method, timeout, args)
	if err != nil {
		return nil, err
	}
	if resp.Status.IsError() {
		c.metrics.Failed()
		return nil, &rpcerr.RemoteError{Status: resp.Status, Message: resp.Message}
	}
	c.metrics.Succeeded()
	return resp.Payload, nil
}

func (c *Client) roundTrip(service, method string, timeout time.Duration, args []any) (*message.Response, error) {
	if c.closed.Load() {
		return nil, rpcerr.Connect(rpcerr.ErrClosed)
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	// No request id is used when there is nothing to send on.
	conn, err := c.pool.Get()
	if err != nil {
		c.metrics.Failed()
		return nil, err
	}

	c.metrics.Invoked()
	resp, err := c.corr.roundTrip(conn, service, method, timeout, args)
	if err != nil {
		if rpcerr.IsTimeout(err) {
			c.metrics.TimedOut()
		} else {
			c.metrics.Failed()
		}
		return nil, err
	}
	return resp, nil
}

// IsConnected reports whether at least one connection is usable.
func (c *Client) IsConnected() bool {
	return !c.closed.Load() && c.pool.Live() > 0
}

// Reconnect drops every connection and dials them again. It succeeds when at
// least one connection is back.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.closed.Load() {
		return rpcerr.Connect(rpcerr.ErrClosed)
	}
	c.pool.CloseConns()
	err := c.pool.Connect(ctx)
	if c.pool.Live() == 0 {
		if err == nil {
			err = rpcerr.Connect(rpcerr.ErrNotConnected)
		}
		return err
	}
	if err != nil {
		c.log.Warn("partial reconnect", zap.Error(err), zap.Int("live", c.pool.Live()))
	}
	return nil
}

// Pending is the number of calls waiting for a response.
func (c *Client) Pending() int {
	return c.corr.pending.len()
}

// Close closes every connection. Calls still waiting fail with a ConnectError.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.pool.Close()
}

// connHandler adapts Client to transport.Handler.
type connHandler Client

func (h *connHandler) OnMessage(conn *transport.Conn, t protocol.MsgType, body []byte) {
	c := (*Client)(h)
	if t != protocol.MsgTypeResponse {
		c.log.Warn("unexpected frame type", zap.String("conn", conn.ID()), zap.Uint8("type", uint8(t)))
		return
	}
	resp := &message.Response{}
	if err := resp.Unmarshal(body); err != nil {
		c.log.Error("malformed response dropped", zap.String("conn", conn.ID()), zap.Error(err))
		return
	}
	c.corr.deliver(resp)
}

func (h *connHandler) OnClose(conn *transport.Conn, err error) {
	c := (*Client)(h)
	if err == nil {
		err = rpcerr.ErrClosed
	}
	n := c.corr.pending.failConn(conn, rpcerr.Connect(fmt.Errorf("connection lost: %w", err)))
	c.log.Info("connection closed", zap.String("conn", conn.ID()), zap.Int("failed_calls", n), zap.Error(err))
}
