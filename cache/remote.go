package cache

import "time"

// SetRemoteSharedDevices replaces the full set of devices that
// peerBrokerID shares with this broker, as reported by that peer's
// share-sync message.
func (c *Cache) SetRemoteSharedDevices(peerBrokerID string, devices []RemoteSharedDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remoteShared[peerBrokerID] = devices
}

// RemoteSharedDevices returns a snapshot of the devices peerBrokerID
// shares with this broker.
func (c *Cache) RemoteSharedDevices(peerBrokerID string) []RemoteSharedDevice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RemoteSharedDevice, len(c.remoteShared[peerBrokerID]))
	copy(out, c.remoteShared[peerBrokerID])
	return out
}

// RemoveRemoteSharedDevices drops all cached shared-device state for
// peerBrokerID, e.g. when that peer is removed or disconnects.
func (c *Cache) RemoveRemoteSharedDevices(peerBrokerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.remoteShared, peerBrokerID)
}

// UpdateRemoteSharedDeviceData stamps the most recently relayed data for
// clientID within peerBrokerID's shared-device list, if it's present.
func (c *Cache) UpdateRemoteSharedDeviceData(peerBrokerID, clientID string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	devices := c.remoteShared[peerBrokerID]
	for i := range devices {
		if devices[i].ClientID == clientID {
			devices[i].LastData = data
			devices[i].LastDataAt = time.Now()
			return
		}
	}
}
