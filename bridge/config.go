// Package bridge implements broker federation: one outbound MQTT client
// per configured peer, the peer connection state machine, cross-broker
// addressing, and the device-share ACL and sync/push protocol described in
// SPEC_FULL.md §4.7. It satisfies broker.BridgeSender so the Broker Engine
// depends only on that narrow interface, never on this package directly.
package bridge

import (
	"log/slog"
	"time"
)

// DefaultReconnectInterval is bridgeReconnectMs.
const DefaultReconnectInterval = 5 * time.Second

// DefaultConnectTimeout bounds how long a peer CONNECT may take before the
// attempt is treated as failed and a reconnect is scheduled.
const DefaultConnectTimeout = 10 * time.Second

// DefaultKeepAlive is the keepalive interval advertised on every peer CONNECT.
const DefaultKeepAlive = 60 * time.Second

// BridgeClientPrefix is this node's MQTT clientId prefix when connecting to
// a peer as a bridge client: "__bridge_" + localBrokerId.
const BridgeClientPrefix = "__bridge_"

// Config bundles the dependencies and tunables a Manager needs.
type Config struct {
	LocalBrokerID     string
	LocalBridgeToken  string // this node's own token, handed to peers that dial in; unused dialing out
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	Logger            *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
