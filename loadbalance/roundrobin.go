package loadbalance

import (
	"sync/atomic"
)

// RoundRobin distributes calls evenly across all items in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobin[T any] struct {
	counter atomic.Uint64 // Incremented on each Pick()
}

// Pick selects the next item in round-robin order.
func (b *RoundRobin[T]) Pick(items []T) (T, error) {
	if len(items) == 0 {
		var zero T
		return zero, ErrNoCandidates
	}
	index := (b.counter.Add(1) - 1) % uint64(len(items))
	return items[index], nil
}

func (b *RoundRobin[T]) Name() string {
	return "RoundRobin"
}
