// Package session is the session store served over mini-session-rpc: the
// web tier keeps no state and moves opaque session blobs to and from here.
package session

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"mini-session-rpc/contract"
	"mini-session-rpc/logger"
	"mini-session-rpc/rpcerr"
)

// ServiceName is the wire name of Store.
const ServiceName = "/inner/session"

// Store keeps session blobs by id. Get of an unknown id returns an empty
// slice, not an error.
type Store interface {
	Get(id string) ([]byte, error)
	Put(id string, data []byte) error
	Remove(id string) (bool, error)
	Len() (int, error)
}

var errEmptyID = errors.New("session: empty session id")

var _ = contract.MustDeclare[Store](contract.Metadata{Name: ServiceName})

// LRUStore is an in-memory Store holding at most capacity sessions. The least
// recently used session is evicted to make room.
type LRUStore struct {
	mu    sync.Mutex // Makes Remove's check-and-delete atomic
	cache *lru.Cache
	log   *zap.Logger
}

func NewLRUStore(capacity int, log *zap.Logger) (*LRUStore, error) {
	s := &LRUStore{log: logger.OrNop(log)}
	cache, err := lru.NewWithEvict(capacity, s.onEvict)
	if err != nil {
		return nil, rpcerr.Configf("session: capacity %d: %w", capacity, err)
	}
	s.cache = cache
	return s, nil
}

func (s *LRUStore) onEvict(key, value interface{}) {
	s.log.Debug("session evicted", zap.Any("id", key))
}

func (s *LRUStore) Get(id string) ([]byte, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return []byte{}, nil
	}
	return append([]byte{}, v.([]byte)...), nil
}

func (s *LRUStore) Put(id string, data []byte) error {
	if id == "" {
		return errEmptyID
	}
	// Keep our own copy; callers in the same process may reuse data.
	s.cache.Add(id, append([]byte{}, data...))
	return nil
}

func (s *LRUStore) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cache.Contains(id) {
		return false, nil
	}
	s.cache.Remove(id)
	return true, nil
}

func (s *LRUStore) Len() (int, error) {
	return s.cache.Len(), nil
}
