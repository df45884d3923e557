// Package metrics counts call outcomes. One Metrics value is created per
// process (or per test) and handed to the client and server that should
// report into it.
package metrics

import "sync/atomic"

// Metrics is safe for concurrent use. A nil *Metrics discards everything.
type Metrics struct {
	invoked   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	timedOut  atomic.Uint64
	late      atomic.Uint64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Invoked   uint64 // calls started (client) or requests dispatched (server)
	Succeeded uint64
	Failed    uint64 // error status, connect or decode failure
	TimedOut  uint64
	Late      uint64 // responses that arrived after their caller gave up
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Invoked() {
	if m != nil {
		m.invoked.Add(1)
	}
}

func (m *Metrics) Succeeded() {
	if m != nil {
		m.succeeded.Add(1)
	}
}

func (m *Metrics) Failed() {
	if m != nil {
		m.failed.Add(1)
	}
}

func (m *Metrics) TimedOut() {
	if m != nil {
		m.timedOut.Add(1)
	}
}

func (m *Metrics) Late() {
	if m != nil {
		m.late.Add(1)
	}
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Invoked:   m.invoked.Load(),
		Succeeded: m.succeeded.Load(),
		Failed:    m.failed.Load(),
		TimedOut:  m.timedOut.Load(),
		Late:      m.late.Load(),
	}
}
