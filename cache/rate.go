package cache

import "time"

// CheckPublishRate reports whether clientID may publish now, and if so
// stamps lastPublish[clientID] to the current time. A client may publish
// again once at least publishRateLimit has elapsed since its last accepted
// publish; a client with no recorded publish is always allowed.
func (c *Cache) CheckPublishRate(clientID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	last, ok := c.lastPublish[clientID]
	if ok && now.Sub(last) < c.publishRateLimit {
		return false
	}
	c.lastPublish[clientID] = now
	return true
}
