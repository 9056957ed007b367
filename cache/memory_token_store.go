package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryTokenStore keeps access tokens in a process-local ttlcache. Entries
// nobody ever looks up again are still dropped once their lifetime passes.
type MemoryTokenStore struct {
	cache *ttlcache.Cache[string, Entry]
}

// NewMemoryTokenStore creates an in-memory store whose entries are dropped
// ttl after insertion.
func NewMemoryTokenStore(ttl time.Duration) *MemoryTokenStore {
	c := ttlcache.New(
		ttlcache.WithTTL[string, Entry](ttl),
		ttlcache.WithDisableTouchOnHit[string, Entry](),
	)
	go c.Start()

	return &MemoryTokenStore{cache: c}
}

// Put stores the entry under the hashed token.
func (s *MemoryTokenStore) Put(_ context.Context, token string, e Entry) error {
	s.cache.Set(HashToken(token), e, ttlcache.DefaultTTL)
	return nil
}

// Get returns the entry for token, reporting whether one is present.
func (s *MemoryTokenStore) Get(_ context.Context, token string) (Entry, bool, error) {
	item := s.cache.Get(HashToken(token))
	if item == nil {
		return Entry{}, false, nil
	}
	return item.Value(), true, nil
}

// Delete removes the entry for token.
func (s *MemoryTokenStore) Delete(_ context.Context, token string) error {
	s.cache.Delete(HashToken(token))
	return nil
}

// Count reports how many entries are held.
func (s *MemoryTokenStore) Count(_ context.Context) (int, error) {
	return s.cache.Len(), nil
}

// Close stops the expiry loop.
func (s *MemoryTokenStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ TokenStore = (*MemoryTokenStore)(nil)
