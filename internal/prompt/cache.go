package prompt

import (
	"sync"

	"github.com/google/uuid"
)

// historyCache is a keyed read-through cache for per-user history listings.
// The lock is held across compute so an invalidation cannot interleave with
// a fill and leave a stale entry behind: a write that commits and then calls
// Invalidate is guaranteed to be visible to the next GetOrCompute.
type historyCache struct {
	lock    sync.Mutex
	entries map[uuid.UUID][]historyEntry
}

func newHistoryCache() *historyCache {
	return &historyCache{entries: make(map[uuid.UUID][]historyEntry)}
}

func (c *historyCache) GetOrCompute(userId uuid.UUID, compute func() ([]historyEntry, error)) ([]historyEntry, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if cached, ok := c.entries[userId]; ok {
		return cached, nil
	}

	entries, err := compute()
	if err != nil {
		return nil, err
	}

	c.entries[userId] = entries
	return entries, nil
}

func (c *historyCache) Invalidate(userId uuid.UUID) {
	c.lock.Lock()
	defer c.lock.Unlock()
	delete(c.entries, userId)
}
