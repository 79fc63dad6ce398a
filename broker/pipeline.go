package broker

import (
	"context"
	"encoding/json"

	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/topics"
)

// DispatchDevice routes a device-to-device publish per SPEC_FULL.md §4.5.
func (e *Engine) DispatchDevice(ctx context.Context, sender, target string, data any) {
	if e.bridge != nil && e.bridge.Enabled() {
		e.bridge.PushShareDataIfNeeded(sender, data)
	}

	if addr, ok := topics.ParseAddress(target); ok && addr.IsRemote {
		if e.bridge == nil || !e.bridge.SendToRemoteDevice(addr.BrokerID, sender, addr.Local, data) {
			e.log.Debug("remote device target unreachable, dropping", "target", target)
		}
		return
	}

	e.DeliverLocal(target, cache.ForwardMessage{FromDevice: sender, Data: data})
}

// DispatchGroup routes a device-to-group publish per SPEC_FULL.md §4.5.
func (e *Engine) DispatchGroup(ctx context.Context, sender, groupName string, data any) {
	if addr, ok := topics.ParseAddress(groupName); ok && addr.IsRemote {
		if e.bridge == nil || !e.bridge.SendToRemoteGroup(addr.BrokerID, sender, addr.Local, data) {
			e.log.Debug("remote group target unreachable, dropping", "group", groupName)
		}
		return
	}

	if !e.cache.IsDeviceInGroup(sender, groupName) {
		e.log.Debug("sender not a member of target group, dropping", "sender", sender, "group", groupName)
		return
	}

	fm := cache.ForwardMessage{FromGroup: groupName, FromDevice: sender, Data: data}
	for _, member := range e.cache.GroupMembers(groupName) {
		if member == sender {
			continue
		}
		if e.cache.IsHTTPMode(member) {
			e.cache.AddPendingMessage(member, fm)
		}
	}
	e.emitGroupRecv(groupName, fm, sender)

	if e.bridge != nil && e.bridge.Enabled() {
		e.bridge.BroadcastToRemoteGroup(sender, groupName, data)
	}
}

// DeliverLocal is the local half of DispatchDevice: append to the
// target's pending queue if it's HTTP-mode, else emit on its /r topic.
// Also implements the broker.Delivery interface consumed by the
// Scheduler.
func (e *Engine) DeliverLocal(target string, fm cache.ForwardMessage) {
	e.deliverToTarget(target, fm)
}

func (e *Engine) deliverToTarget(target string, fm cache.ForwardMessage) {
	if e.cache.IsHTTPMode(target) {
		e.cache.AddPendingMessage(target, fm)
		return
	}
	e.emitDeviceRecv(target, fm)
}

func (e *Engine) emitDeviceRecv(target string, fm cache.ForwardMessage) {
	s, ok := e.lookupSession(target)
	if !ok {
		return
	}
	payload, err := json.Marshal(fm)
	if err != nil {
		e.log.Warn("marshaling forward message", "target", target, "err", err)
		return
	}
	if err := s.publishTo(topics.DeviceRecv(target), payload); err != nil {
		e.log.Debug("writing device recv, dropping session", "target", target, "err", err)
	}
}

// emitGroupRecv writes fm to every online MQTT session among group's
// members, except exclude (the publishing sender, if any — a session
// never needs its own publish echoed back to it).
func (e *Engine) emitGroupRecv(group string, fm cache.ForwardMessage, exclude string) {
	payload, err := json.Marshal(fm)
	if err != nil {
		e.log.Warn("marshaling group forward message", "group", group, "err", err)
		return
	}
	topic := topics.GroupRecv(group)
	for _, member := range e.cache.GroupMembers(group) {
		if member == exclude {
			continue
		}
		s, ok := e.lookupSession(member)
		if !ok || s.IsBridge() {
			continue
		}
		if err := s.publishTo(topic, payload); err != nil {
			e.log.Debug("writing group recv", "member", member, "err", err)
		}
	}
}

// handleBridgeDeviceMessage processes an inbound /bridge/device/{cid}
// publish from a peer bridge client.
func (e *Engine) handleBridgeDeviceMessage(ctx context.Context, targetClientID string, body map[string]any) {
	fromBroker := stringField(body, "fromBroker")
	fromDevice := stringField(body, "fromDevice")
	if fromBroker == "" || fromDevice == "" {
		e.log.Debug("malformed bridge device message, dropping")
		return
	}
	e.DeliverFromRemote(ctx, fromBroker, fromDevice, targetClientID, body["data"])
}

// handleBridgeGroupMessage processes an inbound /bridge/group/{name}
// publish from a peer bridge client.
func (e *Engine) handleBridgeGroupMessage(ctx context.Context, groupName string, body map[string]any) {
	fromBroker := stringField(body, "fromBroker")
	fromDevice := stringField(body, "fromDevice")
	if fromBroker == "" || fromDevice == "" {
		e.log.Debug("malformed bridge group message, dropping")
		return
	}
	e.DeliverGroupFromRemote(ctx, fromBroker, fromDevice, groupName, body["data"])
}

// DeliverFromRemote implements the share-ACL-gated inbound device
// delivery path from SPEC_FULL.md §4.5/§4.7.
func (e *Engine) DeliverFromRemote(ctx context.Context, fromBroker, fromDevice, targetClientID string, data any) {
	if e.bridge != nil {
		switch e.bridge.CheckBridgeDeviceAccess(targetClientID, fromBroker) {
		case "none", "read":
			e.log.Debug("bridge share ACL denies inbound delivery", "target", targetClientID, "from_broker", fromBroker)
			return
		}
	}
	fm := cache.ForwardMessage{FromDevice: fromBroker + ":" + fromDevice, Data: data}
	e.deliverToTarget(targetClientID, fm)
}

// DeliverGroupFromRemote fans an inbound bridge group message out to every
// cached HTTP-mode member and emits it on the local /group/{name}/r topic.
func (e *Engine) DeliverGroupFromRemote(ctx context.Context, fromBroker, fromDevice, groupName string, data any) {
	fm := cache.ForwardMessage{FromGroup: groupName, FromDevice: fromBroker + ":" + fromDevice, Data: data}
	for _, member := range e.cache.GroupMembers(groupName) {
		if e.cache.IsHTTPMode(member) {
			e.cache.AddPendingMessage(member, fm)
		}
	}
	e.emitGroupRecv(groupName, fm, "")
}

