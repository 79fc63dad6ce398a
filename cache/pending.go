package cache

import "time"

// AddPendingMessage appends msg to clientID's pending queue, stamped with
// the current time.
func (c *Cache) AddPendingMessage(clientID string, msg ForwardMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[clientID] = append(c.pending[clientID], pendingEntry{msg: msg, enqueued: time.Now()})
}

// GetPendingMessages atomically filters out entries older than the
// configured pending expiry, clears clientID's queue, and returns the
// remaining messages in enqueue order. A subsequent call with nothing
// newly enqueued returns nil.
func (c *Cache) GetPendingMessages(clientID string) []ForwardMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.pending[clientID]
	delete(c.pending, clientID)
	if len(entries) == 0 {
		return nil
	}

	cutoff := time.Now().Add(-c.pendingExpiry)
	out := make([]ForwardMessage, 0, len(entries))
	for _, e := range entries {
		if e.enqueued.Before(cutoff) {
			continue
		}
		out = append(out, e.msg)
	}
	return out
}

// CleanExpiredMessages purges entries older than the pending expiry from
// every queue, removing keys that become empty. Invoked on a fixed timer
// (see Cache.RunSweep) so queues for HTTP devices that never poll don't
// grow unbounded.
func (c *Cache) CleanExpiredMessages() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := time.Now().Add(-c.pendingExpiry)
	for clientID, entries := range c.pending {
		kept := entries[:0:0]
		for _, e := range entries {
			if !e.enqueued.Before(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(c.pending, clientID)
		} else {
			c.pending[clientID] = kept
		}
	}
}

// PendingCount returns the number of queued messages for clientID,
// without consuming them. Used by management/diagnostics.
func (c *Cache) PendingCount(clientID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending[clientID])
}
