// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package topics implements the broker's fixed topic grammar
// (/device/{cid}/{s|r}, /group/{name}/{s|r}, /bridge/...), a generic MQTT
// wildcard matcher, and
// cross-broker address parsing ("brokerId:clientId").
package topics

import "strings"

// Kind identifies which grammar shape a local topic matched.
type Kind int

const (
	KindUnknown Kind = iota
	KindDeviceSend
	KindDeviceRecv
	KindGroupSend
	KindGroupRecv
	KindBridgeDevice
	KindBridgeGroup
	KindBridgeShareSync
	KindBridgeShareData
)

// Parsed is the result of classifying a topic against the fixed grammar.
type Parsed struct {
	Kind       Kind
	ClientID   string // device or bridge-device topics
	GroupName  string // group topics
	BrokerID   string // bridge share topics
}

// Parse classifies topic against the fixed local grammar from spec.md §4.4
// and §6. Anything that doesn't match one of the literal shapes yields
// KindUnknown, which the broker engine treats as "denied" for both publish
// and subscribe.
func Parse(topic string) Parsed {
	if topic == "" {
		return Parsed{}
	}
	segs := strings.Split(strings.TrimPrefix(topic, "/"), "/")

	switch {
	case len(segs) == 3 && segs[0] == "device" && segs[2] == "s":
		return Parsed{Kind: KindDeviceSend, ClientID: segs[1]}
	case len(segs) == 3 && segs[0] == "device" && segs[2] == "r":
		return Parsed{Kind: KindDeviceRecv, ClientID: segs[1]}
	case len(segs) == 3 && segs[0] == "group" && segs[2] == "s":
		return Parsed{Kind: KindGroupSend, GroupName: segs[1]}
	case len(segs) == 3 && segs[0] == "group" && segs[2] == "r":
		return Parsed{Kind: KindGroupRecv, GroupName: segs[1]}
	case len(segs) == 3 && segs[0] == "bridge" && segs[1] == "device":
		return Parsed{Kind: KindBridgeDevice, ClientID: segs[2]}
	case len(segs) == 3 && segs[0] == "bridge" && segs[1] == "group":
		return Parsed{Kind: KindBridgeGroup, GroupName: segs[2]}
	case len(segs) == 4 && segs[0] == "bridge" && segs[1] == "share" && segs[2] == "sync":
		return Parsed{Kind: KindBridgeShareSync, BrokerID: segs[3]}
	case len(segs) == 5 && segs[0] == "bridge" && segs[1] == "share" && segs[2] == "data":
		return Parsed{Kind: KindBridgeShareData, BrokerID: segs[3], ClientID: segs[4]}
	default:
		return Parsed{Kind: KindUnknown}
	}
}

// DeviceSend builds the canonical /device/{cid}/s topic.
func DeviceSend(clientID string) string { return "/device/" + clientID + "/s" }

// DeviceRecv builds the canonical /device/{cid}/r topic.
func DeviceRecv(clientID string) string { return "/device/" + clientID + "/r" }

// GroupSend builds the canonical /group/{name}/s topic.
func GroupSend(name string) string { return "/group/" + name + "/s" }

// GroupRecv builds the canonical /group/{name}/r topic.
func GroupRecv(name string) string { return "/group/" + name + "/r" }

// BridgeDevice builds /bridge/device/{cid}.
func BridgeDevice(clientID string) string { return "/bridge/device/" + clientID }

// BridgeGroup builds /bridge/group/{name}.
func BridgeGroup(name string) string { return "/bridge/group/" + name }

// BridgeShareSync builds /bridge/share/sync/{brokerId}.
func BridgeShareSync(brokerID string) string { return "/bridge/share/sync/" + brokerID }

// BridgeShareData builds /bridge/share/data/{brokerId}/{clientId}.
func BridgeShareData(brokerID, clientID string) string {
	return "/bridge/share/data/" + brokerID + "/" + clientID
}

// Match reports whether topic matches filter under MQTT wildcard rules
// ('+' matches exactly one level, '#' matches the rest, anchored at the
// last level). No package of the broker calls it — the local fixed grammar
// never needs wildcards.
func Match(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	if filter == topic {
		return true
	}

	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	if strings.HasPrefix(topic, "$") {
		if filterLevels[0] == "" || filterLevels[0][0] != '$' {
			return false
		}
	}

	for i, f := range filterLevels {
		if f == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if f == "+" {
			continue
		}
		if f != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
