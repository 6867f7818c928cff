package report

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// LRUStore keeps the most recently used run records in memory and
// delegates to a backing Store for persistence and on cache misses.
type LRUStore struct {
	mu    sync.Mutex // lru.Cache is not safe for concurrent use
	cache *lru.Cache
	back  Store
}

// NewLRUStore creates an LRU cache holding up to cap runs in front of
// back. A cap below 1 is raised to 1.
func NewLRUStore(cap int, back Store) *LRUStore {
	if cap < 1 {
		cap = 1
	}
	return &LRUStore{
		cache: lru.New(cap),
		back:  back,
	}
}

// Save caches the run and writes it through to the backing store.
func (s *LRUStore) Save(result *RunResult) error {
	s.mu.Lock()
	s.cache.Add(result.ID, result)
	s.mu.Unlock()

	return s.back.Save(result)
}

// Load returns a cached run, or loads it from the backing store and
// caches it.
func (s *LRUStore) Load(runID string) (*RunResult, error) {
	s.mu.Lock()
	v, ok := s.cache.Get(runID)
	s.mu.Unlock()
	if ok {
		return v.(*RunResult), nil
	}

	result, err := s.back.Load(runID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache.Add(runID, result)
	s.mu.Unlock()
	return result, nil
}

// List delegates to the backing store, which sees every saved run.
func (s *LRUStore) List() ([]string, error) {
	return s.back.List()
}

// Len returns the number of cached runs.
func (s *LRUStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}
