package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mini-session-rpc/contract"
	"mini-session-rpc/rpcerr"
)

// State is the supervisor's view of the peer.
type State int32

const (
	StateUp State = iota
	StateDown
)

func (s State) String() string {
	if s == StateUp {
		return "UP"
	}
	return "DOWN"
}

const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatRetries  = 3
)

// Supervisor pings the peer's heartbeat service on every tick and
// reconnects when the connection is gone.
//
//   - ping ok:                   stay (or become) UP, redial dead connections
//   - ping timeout:              retry up to `retries` times within the tick
//   - connect error / retries spent: DOWN, reconnect once; UP + onReconnect on success
//
// Reconnects are paced by the interval, never retried in a tight loop.
type Supervisor struct {
	client      *Client
	heartbeat   *Stub
	interval    time.Duration
	retries     int
	onReconnect func()
	state       atomic.Int32
	failures    atomic.Int64 // Consecutive failed ticks, reset by a reconnect
	tickMu      sync.Mutex   // One tick at a time
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	log         *zap.Logger
}

// NewSupervisor creates a stopped supervisor for c. onReconnect may be nil.
func NewSupervisor(c *Client, interval time.Duration, retries int, onReconnect func()) *Supervisor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if retries < 0 {
		retries = 0
	}
	hb, err := NewStub[contract.Heartbeat](c)
	if err != nil {
		// contract declares Heartbeat in its own package init
		panic(err)
	}
	s := &Supervisor{
		client:      c,
		heartbeat:   hb,
		interval:    interval,
		retries:     retries,
		onReconnect: onReconnect,
		stop:        make(chan struct{}),
		log:         c.log.Named("heartbeat"),
	}
	if !c.IsConnected() {
		s.state.Store(int32(StateDown))
	}
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Failures is the number of consecutive failed ticks.
func (s *Supervisor) Failures() int64 {
	return s.failures.Load()
}

// Start runs ticks in the background until Stop.
func (s *Supervisor) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(context.Background())
			}
		}
	}()
}

// Stop ends the background loop and waits for a running tick to finish.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Tick runs one heartbeat round and returns the resulting state.
func (s *Supervisor) Tick(ctx context.Context) State {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	err := s.ping()
	for attempt := 0; err != nil && rpcerr.IsTimeout(err) && attempt < s.retries; attempt++ {
		s.log.Debug("heartbeat timed out, retrying", zap.Int("attempt", attempt+1))
		err = s.ping()
	}

	var remote *rpcerr.RemoteError
	if err == nil || errors.As(err, &remote) {
		// Any answer proves the connection carries traffic.
		if remote != nil {
			s.log.Warn("heartbeat answered with error", zap.Error(err))
		}
		if s.setState(StateUp) {
			s.log.Info("peer is up")
		}
		s.refill(ctx)
		return StateUp
	}

	s.failures.Add(1)
	if s.setState(StateDown) {
		s.log.Warn("peer is down", zap.Error(err))
	}

	if rerr := s.client.Reconnect(ctx); rerr != nil {
		s.log.Info("reconnect failed", zap.Error(rerr), zap.Int64("failures", s.failures.Load()))
		return StateDown
	}

	s.failures.Store(0)
	s.setState(StateUp)
	s.log.Info("reconnected")
	if s.onReconnect != nil {
		s.onReconnect()
	}
	return StateUp
}

// refill redials connections that died while the peer stayed reachable.
// It is not a reconnect: the peer never went DOWN.
func (s *Supervisor) refill(ctx context.Context) {
	pool := s.client.pool
	if pool.Live() >= pool.Size() {
		return
	}
	if err := pool.Connect(ctx); err != nil {
		s.log.Warn("redial of dead connections failed", zap.Error(err), zap.Int("live", pool.Live()), zap.Int("size", pool.Size()))
		return
	}
	s.log.Info("dead connections redialed", zap.Int("live", pool.Live()))
}

func (s *Supervisor) ping() error {
	_, err := Invoke[[]byte](s.heartbeat, "Ping")
	return err
}

// setState reports whether the state changed.
func (s *Supervisor) setState(st State) bool {
	return State(s.state.Swap(int32(st))) != st
}
