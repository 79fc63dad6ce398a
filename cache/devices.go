package cache

import "time"

// SetDeviceByClientID overwrites the clientId-keyed projection of d.
func (c *Cache) SetDeviceByClientID(clientID string, d DeviceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byClientID[clientID] = d
}

// SetDeviceByAuthKey overwrites the authKey-keyed projection of d.
func (c *Cache) SetDeviceByAuthKey(authKey string, d DeviceSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byAuthKey[authKey] = d
}

// GetDeviceByClientID returns the cached snapshot for clientID, if present.
func (c *Cache) GetDeviceByClientID(clientID string) (DeviceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byClientID[clientID]
	return d, ok
}

// GetDeviceByAuthKey returns the cached snapshot for authKey, if present.
func (c *Cache) GetDeviceByAuthKey(authKey string) (DeviceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.byAuthKey[authKey]
	return d, ok
}

// RemoveDevice deletes every cache entry belonging to the identity behind
// clientID/authKey: both index entries, online handle, mode, group
// memberships (and their reverse-index entries), rate and activity
// timestamps, and its pending queue. Either key may be empty if unknown.
func (c *Cache) RemoveDevice(clientID, authKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if clientID != "" {
		delete(c.byClientID, clientID)
		delete(c.online, clientID)
		delete(c.mode, clientID)
		delete(c.lastPublish, clientID)
		delete(c.httpActive, clientID)
		delete(c.pending, clientID)

		if groups, ok := c.deviceGroups[clientID]; ok {
			for g := range groups {
				c.removeFromGroupLocked(clientID, g)
			}
			delete(c.deviceGroups, clientID)
		}
	}
	if authKey != "" {
		delete(c.byAuthKey, authKey)
	}
}

// SetDeviceMode sets the transport mode for clientID.
func (c *Cache) SetDeviceMode(clientID, mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode[clientID] = mode
}

// IsHTTPMode reports whether clientID is registered as an HTTP-mode
// device. Unknown clients default to mqtt.
func (c *Cache) IsHTTPMode(clientID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode[clientID] == "http"
}

// SetHTTPLastActive stamps the most recent HTTP poll/activity time for
// clientID, used for the 10-minute HTTP-inactivity demotion sweep.
func (c *Cache) SetHTTPLastActive(clientID string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpActive[clientID] = t
}

// HTTPLastActive returns the last recorded HTTP activity time for
// clientID, if any.
func (c *Cache) HTTPLastActive(clientID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.httpActive[clientID]
	return t, ok
}
