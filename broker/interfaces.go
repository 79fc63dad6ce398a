// Package broker implements the Broker Engine: the MQTT session/auth
// state machine, the fixed topic ACL, the publish pipeline, and the
// plain-TCP server loop that drives them. It is polymorphic over the
// capabilities it needs from federation and timeseries by depending only
// on the small interfaces below, never on their concrete packages.
package broker

import "github.com/meshgate/iotbroker/cache"

// BridgeSender is the subset of the Bridge the engine needs to dispatch
// outbound cross-broker traffic and enforce the share ACL. Implemented by
// *bridge.Manager; wired into the Engine by the application root so this
// package never imports bridge.
type BridgeSender interface {
	// SendToRemoteDevice publishes to a peer's /bridge/device/{target}.
	// Returns false if the peer isn't currently connected.
	SendToRemoteDevice(peerBrokerID, fromClientID, targetClientID string, data any) bool
	// SendToRemoteGroup publishes to a peer's /bridge/group/{target}.
	SendToRemoteGroup(peerBrokerID, fromClientID, targetGroup string, data any) bool
	// BroadcastToRemoteGroup invokes SendToRemoteGroup on every connected peer.
	BroadcastToRemoteGroup(fromClientID, targetGroup string, data any)
	// PushShareDataIfNeeded relays sender's published data to any peer it
	// is shared with, per the share-data-push contract.
	PushShareDataIfNeeded(senderClientID string, data any)
	// CheckBridgeDeviceAccess returns the effective permission a peer has
	// over a local target device: "all", "readwrite", "read", or "none".
	CheckBridgeDeviceAccess(targetClientID, fromBrokerID string) string
	// Enabled reports whether federation is turned on for this node.
	Enabled() bool
	// SharePayloadForPeer builds the {fromBroker, devices} payload
	// describing which local devices are shared with peerBrokerID, for
	// the engine to push immediately after that peer's bridge session
	// subscribes to its /bridge/share/sync/{peerBrokerId} topic.
	SharePayloadForPeer(peerBrokerID string) any
}

// TimeseriesSink receives numeric datapoints tapped off the publish
// pipeline. Implemented by *timeseries.Sink.
type TimeseriesSink interface {
	WritePoint(deviceUUID, dataKey string, value float64, timestampMS int64)
}

// Delivery is the narrow capability the Scheduler needs to hand a
// synthetic publish back into the engine's local delivery path, without
// depending on the rest of the Engine's surface.
type Delivery interface {
	DeliverLocal(targetClientID string, fm cache.ForwardMessage)
}
