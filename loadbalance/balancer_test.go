package loadbalance

import (
	"errors"
	"sync"
	"testing"
)

func TestRoundRobin(t *testing.T) {
	b := &RoundRobin[string]{}
	items := []string{":8001", ":8002", ":8003"}

	// Pick 3 times, should cycle through all items
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		item, err := b.Pick(items)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = item
	}
	if results[0] != ":8001" || results[1] != ":8002" || results[2] != ":8003" {
		t.Fatalf("unexpected order %v", results)
	}

	// Pick again, should wrap around to first
	item, _ := b.Pick(items)
	if item != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], item)
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobin[int]{}
	_, err := b.Pick(nil)
	if !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expect ErrNoCandidates, got %v", err)
	}
}

func TestRoundRobinConcurrentIsEven(t *testing.T) {
	b := &RoundRobin[int]{}
	items := []int{0, 1, 2, 3}

	var mu sync.Mutex
	counts := make([]int, len(items))
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				v, err := b.Pick(items)
				if err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				counts[v]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for i, c := range counts {
		if c != 200 {
			t.Fatalf("item %d picked %d times, expect 200", i, c)
		}
	}
}
