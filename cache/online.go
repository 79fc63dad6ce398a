package cache

// SetClientOnline records an active session handle for clientID.
func (c *Cache) SetClientOnline(clientID string, handle SessionHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[clientID] = handle
}

// SetClientOffline drops the session handle for clientID, if any.
func (c *Cache) SetClientOffline(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.online, clientID)
}

// GetOnlineHandle returns the session handle for clientID, if connected.
func (c *Cache) GetOnlineHandle(clientID string) (SessionHandle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.online[clientID]
	return h, ok
}

// CloseSession closes clientID's session, if one is tracked, and drops it
// from the online map. Used by the ACL/rate/size violation policy.
func (c *Cache) CloseSession(clientID string) error {
	c.mu.Lock()
	h, ok := c.online[clientID]
	delete(c.online, clientID)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return h.Close()
}
