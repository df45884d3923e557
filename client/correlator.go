package client

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mini-session-rpc/codec"
	"mini-session-rpc/message"
	"mini-session-rpc/metrics"
	"mini-session-rpc/protocol"
	"mini-session-rpc/rpcerr"
)

// sender is the part of a connection the correlator writes to.
type sender interface {
	SendWithin(t protocol.MsgType, body []byte, timeout time.Duration) error
}

// waiter is the per-call record a caller blocks on. Whoever removes it from
// the pending table completes it; nobody else touches resp or err.
type waiter struct {
	created time.Time
	conn    sender // Connection the request went out on
	fired   atomic.Bool
	done    chan struct{}
	resp    *message.Response
	err     error
}

func newWaiter(conn sender) *waiter {
	return &waiter{created: time.Now(), conn: conn, done: make(chan struct{})}
}

func (w *waiter) complete(resp *message.Response, err error) {
	w.resp, w.err = resp, err
	w.fired.Store(true)
	close(w.done)
}

// wait polls the waiter spins times before blocking on it, which saves the
// park/wake cost for calls answered within microseconds. It reports whether
// the waiter was completed before timeout.
func (w *waiter) wait(spins int, timeout time.Duration) bool {
	for i := 0; i < spins; i++ {
		if w.fired.Load() {
			return true
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}

// pendingTable maps request ids to waiters. Removal is LoadAndDelete, so of
// the response path and the timeout path exactly one wins.
type pendingTable struct {
	m sync.Map // uint64 → *waiter
}

func (p *pendingTable) add(id uint64, w *waiter) {
	p.m.Store(id, w)
}

func (p *pendingTable) remove(id uint64) *waiter {
	v, ok := p.m.LoadAndDelete(id)
	if !ok {
		return nil
	}
	return v.(*waiter)
}

// failConn completes every waiter whose request went out on conn.
func (p *pendingTable) failConn(conn sender, err error) int {
	n := 0
	p.m.Range(func(key, value any) bool {
		if value.(*waiter).conn != conn {
			return true
		}
		if w := p.remove(key.(uint64)); w != nil {
			w.complete(nil, err)
			n++
		}
		return true
	})
	return n
}

func (p *pendingTable) len() int {
	n := 0
	p.m.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}

// Correlator matches asynchronous responses to blocked callers.
type Correlator struct {
	nextID  atomic.Uint64
	pending pendingTable
	codec   codec.Codec
	spins   int
	log     *zap.Logger
	metrics *metrics.Metrics
}

func newCorrelator(c codec.Codec, spins int, log *zap.Logger, m *metrics.Metrics) *Correlator {
	return &Correlator{codec: c, spins: spins, log: log, metrics: m}
}

// roundTrip sends one request on conn and waits for its response.
func (c *Correlator) roundTrip(conn sender, service, method string, timeout time.Duration, args []any) (*message.Response, error) {
	id := c.nextID.Add(1)

	payload, err := c.codec.EncodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("encode args for %s.%s: %w", service, method, err)
	}
	req := message.Request{RequestID: id, ServiceName: service, MethodName: method, Payload: payload}

	// The waiter must exist before the request leaves: a fast peer can
	// answer before Send even returns.
	w := newWaiter(conn)
	c.pending.add(id, w)

	// A peer that stops reading must not hold the caller past its timeout.
	if err := conn.SendWithin(protocol.MsgTypeRequest, req.Marshal(), timeout); err != nil {
		c.pending.remove(id)
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, &rpcerr.TimeoutError{Service: service, Method: method, Timeout: timeout}
		}
		return nil, err
	}

	if !w.wait(c.spins, timeout-time.Since(w.created)) {
		if c.pending.remove(id) != nil {
			return nil, &rpcerr.TimeoutError{Service: service, Method: method, Timeout: timeout}
		}
		// The response path removed the waiter first and is completing it.
		<-w.done
	} else {
		c.pending.remove(id)
	}
	return w.resp, w.err
}

// deliver hands a response to its waiter. Responses whose waiter is gone
// (the call timed out) are dropped.
func (c *Correlator) deliver(resp *message.Response) {
	w := c.pending.remove(resp.RequestID)
	if w == nil {
		c.metrics.Late()
		c.log.Debug("late response discarded", zap.Uint64("request_id", resp.RequestID))
		return
	}
	w.complete(resp, nil)
}

// decode turns a successful response into the call's result.
func (c *Correlator) decode(resp *message.Response) (any, error) {
	if resp.Status.IsError() {
		return nil, &rpcerr.RemoteError{Status: resp.Status, Message: resp.Message}
	}
	if !resp.Encoded {
		return resp.Payload, nil
	}
	v, err := c.codec.DecodeResult(resp.Payload)
	if err != nil {
		return nil, rpcerr.Decode(err)
	}
	return v, nil
}
