package api

import (
	"container/ring"
	"sync"
)

// recentHashCache is a fixed-capacity, thread-safe recently-seen-hash
// set, grounded on the original node's `transactions_cache = deque(maxlen=100)`
// (spec.md §5): push_tx consults it before admitting a transaction so a
// gossip loop (a peer echoing back a transaction this node just
// propagated) doesn't repeatedly hit the store.
type recentHashCache struct {
	mu   sync.Mutex
	r    *ring.Ring
	seen map[string]bool
}

func newRecentHashCache(capacity int) *recentHashCache {
	return &recentHashCache{r: ring.New(capacity), seen: make(map[string]bool, capacity)}
}

// Contains reports whether hash was added within the last capacity calls
// to Add.
func (c *recentHashCache) Contains(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[hash]
}

// Add records hash, evicting the oldest entry once capacity is reached.
func (c *recentHashCache) Add(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if evicted, ok := c.r.Value.(string); ok {
		delete(c.seen, evicted)
	}
	c.r.Value = hash
	c.r = c.r.Next()
	c.seen[hash] = true
}
