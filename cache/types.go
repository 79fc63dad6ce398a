// Package cache implements the Device Cache: the sole in-memory projection
// that fuses connection state, group membership, publish-rate accounting,
// and pending-message queues for HTTP-mode devices. It is derived from the
// Identity Store and rebuilt on demand; it owns no durable state.
package cache

import "time"

// DeviceSnapshot is the cached projection of an identity.Device, kept close
// at hand so the publish/ACL hot path never has to hit the Identity Store.
type DeviceSnapshot struct {
	ID       int64
	UUID     string
	AuthKey  string
	ClientID string
	Username string
	Password string
}

// SessionHandle is the minimal capability the Device Cache needs from an
// online MQTT session: the ability to close it. The Broker Engine supplies
// the concrete implementation; the cache never reaches into session
// internals.
type SessionHandle interface {
	Close() error
}

// ForwardMessage is the payload handed to HTTP-mode pending queues and to
// MQTT /r topics alike.
type ForwardMessage struct {
	FromDevice string `json:"fromDevice"`
	FromGroup  string `json:"fromGroup,omitempty"`
	Data       any    `json:"data"`
}

// pendingEntry pairs a ForwardMessage with the time it was enqueued, so
// GetPendingMessages and CleanExpiredMessages can filter by age.
type pendingEntry struct {
	msg      ForwardMessage
	enqueued time.Time
}

// RemoteSharedDevice is one entry of remoteSharedDevices: a device that a
// peer broker shares with this broker, with the most recently relayed data cached for
// quick inspection by the management surface.
type RemoteSharedDevice struct {
	UUID        string
	ClientID    string
	Permissions string
	LastData    any
	LastDataAt  time.Time
}
