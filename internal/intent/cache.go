package intent

import "sync"

// intentCache is a bounded text-to-intent map. Insertion order is kept so
// the oldest entry is evicted on overflow; repeated identical messages in
// a session resolve without another remote call.
type intentCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]Intent
	order   []string
}

func newIntentCache(max int) *intentCache {
	if max <= 0 {
		max = 1
	}
	return &intentCache{
		max:     max,
		entries: make(map[string]Intent, max),
	}
}

func (c *intentCache) get(key string) (Intent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	in, ok := c.entries[key]
	return in, ok
}

func (c *intentCache) put(key string, in Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = in
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = in
	c.order = append(c.order, key)
}

func (c *intentCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
