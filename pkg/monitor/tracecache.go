package monitor

// traceCache is a bounded FIFO set of recently seen gift trace ids. When the
// set exceeds capacity it is trimmed to the target size, evicting oldest
// entries first. Owned by a single goroutine, no locking.
type traceCache struct {
	capacity int
	trimTo   int
	order    []string
	seen     map[string]struct{}
}

func newTraceCache(capacity, trimTo int) *traceCache {
	if trimTo >= capacity {
		trimTo = capacity / 2
	}
	return &traceCache{
		capacity: capacity,
		trimTo:   trimTo,
		seen:     make(map[string]struct{}, capacity),
	}
}

// Remember records id and reports whether it was new. A false return means
// the id was already present and the event should be dropped.
func (c *traceCache) Remember(id string) bool {
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	if len(c.order) > c.capacity {
		cut := len(c.order) - c.trimTo
		for _, old := range c.order[:cut] {
			delete(c.seen, old)
		}
		c.order = append(c.order[:0], c.order[cut:]...)
	}
	return true
}

func (c *traceCache) Len() int {
	return len(c.order)
}
