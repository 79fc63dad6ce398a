package identity

import "time"

// Device is a provisioned IoT device identity.
type Device struct {
	ID        int64
	UUID      string
	AuthKey   string
	ClientID  string
	Username  string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Group is a named collection of devices.
type Group struct {
	ID   int64
	Name string
}

// Online/offline status values for DeviceStatus.Status.
const (
	StatusOffline = 0
	StatusOnline  = 1
)

// DeviceStatus tracks connectivity and transport mode for one device.
type DeviceStatus struct {
	DeviceID     int64
	Status       int
	Mode         string // "mqtt" or "http"
	LastActiveAt time.Time
}

// PeerBroker is a configured bridge remote: another broker this node
// federates with.
type PeerBroker struct {
	BrokerID string
	URL      string
	Token    string
	Enabled  bool
}

// BridgeSharedDevice records that a local device's messages are shared with
// a specific peer broker, and under what permissions.
type BridgeSharedDevice struct {
	BrokerID    string
	DeviceID    int64
	Permissions string // "all", "readwrite", "read", or "none"
}

// LocalIdentity is this node's own bridge identity, persisted so it
// survives restarts.
type LocalIdentity struct {
	BrokerID    string
	BridgeToken string
}
