// Package transport also provides Pool, the fixed set of parallel connections
// a client keeps to its one peer.
//
// Pool design: a slice of slots, one per connection. A slot whose connection
// died stays in place until Connect re-dials it, so the number of connections
// never exceeds the configured size.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-session-rpc/loadbalance"
	"mini-session-rpc/logger"
	"mini-session-rpc/rpcerr"
)

// Pool manages size parallel connections to a single address.
type Pool struct {
	mu          sync.RWMutex
	slots       []*Conn // len == size, nil for never-dialed slots
	network     string
	addr        string
	dialTimeout time.Duration
	handler     Handler
	balancer    loadbalance.Balancer[*Conn]
	closed      bool
	log         *zap.Logger
}

// NewPool creates a pool with size slots. No connection is made until Connect.
func NewPool(network, addr string, size int, dialTimeout time.Duration, handler Handler, log *zap.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		slots:       make([]*Conn, size),
		network:     network,
		addr:        addr,
		dialTimeout: dialTimeout,
		handler:     handler,
		balancer:    &loadbalance.RoundRobin[*Conn]{},
		log:         logger.OrNop(log),
	}
}

// Addr is the fixed peer address.
func (p *Pool) Addr() string {
	return p.addr
}

// Connect dials every slot without a live connection. It returns the
// combined dial errors; a partially connected pool is still usable.
func (p *Pool) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return rpcerr.Connect(rpcerr.ErrClosed)
	}

	var errs error
	for i, c := range p.slots {
		if c != nil && c.IsConnected() {
			continue
		}
		conn, err := Dial(ctx, p.network, p.addr, p.dialTimeout, p.handler)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		p.slots[i] = conn
		p.log.Debug("connection established", zap.String("addr", p.addr), zap.String("conn", conn.ID()), zap.Int("slot", i))
	}
	return errs
}

// Get picks one live connection.
func (p *Pool) Get() (*Conn, error) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, rpcerr.Connect(rpcerr.ErrClosed)
	}
	live := make([]*Conn, 0, len(p.slots))
	for _, c := range p.slots {
		if c != nil && c.IsConnected() {
			live = append(live, c)
		}
	}
	p.mu.RUnlock()

	c, err := p.balancer.Pick(live)
	if errors.Is(err, loadbalance.ErrNoCandidates) {
		return nil, rpcerr.Connect(rpcerr.ErrNotConnected)
	}
	return c, err
}

// Live counts the connections that are currently usable.
func (p *Pool) Live() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, c := range p.slots {
		if c != nil && c.IsConnected() {
			n++
		}
	}
	return n
}

// Size is the configured number of connections.
func (p *Pool) Size() int {
	return len(p.slots)
}

// CloseConns closes every connection but keeps the pool reusable, so a
// following Connect starts from scratch.
func (p *Pool) CloseConns() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeSlots()
}

// Close shuts down the pool and closes all connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.closeSlots()
}

func (p *Pool) closeSlots() error {
	var errs error
	for i, c := range p.slots {
		if c != nil {
			errs = multierr.Append(errs, c.Close())
			p.slots[i] = nil
		}
	}
	return errs
}
