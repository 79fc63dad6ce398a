package bridge

import (
	"context"
	"encoding/json"

	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/topics"
)

type shareSyncMsg struct {
	FromBroker string              `json:"fromBroker"`
	Devices    []sharedDeviceEntry `json:"devices"`
}

// onMessage classifies an inbound message from peerBrokerID's broker and
// re-dispatches it locally, per SPEC_FULL.md §4.7's inbound message table.
// Invoked on the paho library's own callback goroutine for that peer.
func (m *Manager) onMessage(peerBrokerID, topic string, payload []byte) {
	parsed := topics.Parse(topic)
	switch parsed.Kind {
	case topics.KindBridgeDevice:
		m.handleInboundDevice(parsed.ClientID, payload)
	case topics.KindBridgeGroup:
		m.handleInboundGroup(parsed.GroupName, payload)
	case topics.KindBridgeShareSync:
		m.handleInboundShareSync(peerBrokerID, payload)
	case topics.KindBridgeShareData:
		m.handleInboundShareData(peerBrokerID, parsed.ClientID, payload)
	default:
		m.log.Debug("unrecognized inbound bridge topic, dropping", "peer", peerBrokerID, "topic", topic)
	}
}

func (m *Manager) handleInboundDevice(targetClientID string, payload []byte) {
	var body bridgeDeviceMsg
	if err := json.Unmarshal(payload, &body); err != nil {
		m.log.Debug("malformed inbound bridge device message, dropping", "err", err)
		return
	}
	m.deliverer.DeliverFromRemote(context.Background(), body.FromBroker, body.FromDevice, targetClientID, body.Data)
}

func (m *Manager) handleInboundGroup(groupName string, payload []byte) {
	var body bridgeDeviceMsg
	if err := json.Unmarshal(payload, &body); err != nil {
		m.log.Debug("malformed inbound bridge group message, dropping", "err", err)
		return
	}
	m.deliverer.DeliverGroupFromRemote(context.Background(), body.FromBroker, body.FromDevice, groupName, body.Data)
}

func (m *Manager) handleInboundShareSync(peerBrokerID string, payload []byte) {
	var body shareSyncMsg
	if err := json.Unmarshal(payload, &body); err != nil {
		m.log.Debug("malformed inbound share sync, dropping", "peer", peerBrokerID, "err", err)
		return
	}
	devices := make([]cache.RemoteSharedDevice, len(body.Devices))
	for i, d := range body.Devices {
		devices[i] = cache.RemoteSharedDevice{UUID: d.UUID, ClientID: d.ClientID, Permissions: d.Permissions}
	}
	m.cache.SetRemoteSharedDevices(peerBrokerID, devices)
}

func (m *Manager) handleInboundShareData(peerBrokerID, clientID string, payload []byte) {
	var body shareDataMsg
	if err := json.Unmarshal(payload, &body); err != nil {
		m.log.Debug("malformed inbound share data, dropping", "peer", peerBrokerID, "err", err)
		return
	}
	m.cache.UpdateRemoteSharedDeviceData(peerBrokerID, clientID, body.Data)
}
