// Package loadbalance spreads calls over the client's parallel connections
// to its single peer.
package loadbalance

import "errors"

var ErrNoCandidates = errors.New("no candidates available")

// Balancer is the interface for balancing strategies.
// The client calls Pick() before each RPC to select a connection.
type Balancer[T any] interface {
	// Pick selects one item from the available list.
	// Called on every RPC call, must be goroutine-safe.
	Pick(items []T) (T, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
