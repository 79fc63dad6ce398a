package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/meshgate/iotbroker/identity"
	"github.com/meshgate/iotbroker/topics"
)

type bridgeDeviceMsg struct {
	FromBroker string `json:"fromBroker"`
	FromDevice string `json:"fromDevice"`
	ToDevice   string `json:"toDevice,omitempty"`
	ToGroup    string `json:"toGroup,omitempty"`
	Data       any    `json:"data"`
}

// SendToRemoteDevice implements broker.BridgeSender.
func (m *Manager) SendToRemoteDevice(peerBrokerID, fromClientID, targetClientID string, data any) bool {
	p, ok := m.peer(peerBrokerID)
	if !ok {
		return false
	}
	payload, err := json.Marshal(bridgeDeviceMsg{
		FromBroker: m.cfg.LocalBrokerID, FromDevice: fromClientID, ToDevice: targetClientID, Data: data,
	})
	if err != nil {
		m.log.Warn("marshaling bridge device message", "peer", peerBrokerID, "err", err)
		return false
	}
	return p.publish(topics.BridgeDevice(targetClientID), payload)
}

// SendToRemoteGroup implements broker.BridgeSender.
func (m *Manager) SendToRemoteGroup(peerBrokerID, fromClientID, targetGroup string, data any) bool {
	p, ok := m.peer(peerBrokerID)
	if !ok {
		return false
	}
	payload, err := json.Marshal(bridgeDeviceMsg{
		FromBroker: m.cfg.LocalBrokerID, FromDevice: fromClientID, ToGroup: targetGroup, Data: data,
	})
	if err != nil {
		m.log.Warn("marshaling bridge group message", "peer", peerBrokerID, "err", err)
		return false
	}
	return p.publish(topics.BridgeGroup(targetGroup), payload)
}

// BroadcastToRemoteGroup implements broker.BridgeSender.
func (m *Manager) BroadcastToRemoteGroup(fromClientID, targetGroup string, data any) {
	for _, p := range m.connectedPeers() {
		m.SendToRemoteGroup(p.peer.BrokerID, fromClientID, targetGroup, data)
	}
}

type shareDataMsg struct {
	FromBroker string `json:"fromBroker"`
	FromDevice string `json:"fromDevice"`
	DeviceUUID string `json:"deviceUuid"`
	Data       any    `json:"data"`
}

// PushShareDataIfNeeded implements broker.BridgeSender: relays senderClientID's
// just-dispatched data to every peer it is shared with.
func (m *Manager) PushShareDataIfNeeded(senderClientID string, data any) {
	ctx := context.Background()
	device, err := m.store.GetDeviceByClientID(ctx, senderClientID)
	if err != nil {
		return
	}
	for _, p := range m.connectedPeers() {
		if _, err := m.store.GetBridgeSharedDevice(ctx, p.peer.BrokerID, device.ID); err != nil {
			if !errors.Is(err, identity.ErrNotFound) {
				m.log.Warn("checking share list", "peer", p.peer.BrokerID, "err", err)
			}
			continue
		}
		payload, err := json.Marshal(shareDataMsg{
			FromBroker: m.cfg.LocalBrokerID, FromDevice: senderClientID, DeviceUUID: device.UUID, Data: data,
		})
		if err != nil {
			continue
		}
		p.publish(topics.BridgeShareData(p.peer.BrokerID, senderClientID), payload)
	}
}

// CheckBridgeDeviceAccess implements broker.BridgeSender per SPEC_FULL.md
// §4.7: zero share rows for fromBrokerID means open access ("all"); a
// specific row governs; no row for this device means "none".
func (m *Manager) CheckBridgeDeviceAccess(targetClientID, fromBrokerID string) string {
	ctx := context.Background()
	device, err := m.store.GetDeviceByClientID(ctx, targetClientID)
	if err != nil {
		return "none"
	}
	rows, err := m.store.ListBridgeSharedDevices(ctx, fromBrokerID)
	if err != nil || len(rows) == 0 {
		return "all"
	}
	for _, r := range rows {
		if r.DeviceID == device.ID {
			return r.Permissions
		}
	}
	return "none"
}

type sharedDeviceEntry struct {
	UUID        string `json:"uuid"`
	ClientID    string `json:"clientId"`
	Permissions string `json:"permissions"`
}

// SharePayloadForPeer implements broker.BridgeSender.
func (m *Manager) SharePayloadForPeer(peerBrokerID string) any {
	ctx := context.Background()
	rows, err := m.store.ListBridgeSharedDevices(ctx, peerBrokerID)
	if err != nil {
		m.log.Warn("listing shared devices for sync", "peer", peerBrokerID, "err", err)
		rows = nil
	}
	devices := make([]sharedDeviceEntry, 0, len(rows))
	for _, r := range rows {
		d, err := m.store.GetDeviceByID(ctx, r.DeviceID)
		if err != nil {
			continue
		}
		devices = append(devices, sharedDeviceEntry{UUID: d.UUID, ClientID: d.ClientID, Permissions: r.Permissions})
	}
	return map[string]any{"fromBroker": m.cfg.LocalBrokerID, "devices": devices}
}
