package broker_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshgate/iotbroker/broker"
	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/identity"
	"github.com/meshgate/iotbroker/packets"
)

type testRig struct {
	engine *broker.Engine
	store  *identity.Store
	cache  *cache.Cache
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	ctx := context.Background()
	store, err := identity.Open(ctx, identity.Config{Path: filepath.Join(t.TempDir(), "identity.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := cache.New(cache.Options{PublishRateLimit: 50 * time.Millisecond})
	e := broker.New(broker.Config{Store: store, Cache: c, Limits: broker.Limits{MaxMessageBytes: 1024}})
	return &testRig{engine: e, store: store, cache: c}
}

// createDevice provisions a device with fixed credentials and puts it in
// group, returning the device.
func (r *testRig) createDevice(t *testing.T, clientID, group string) identity.Device {
	t.Helper()
	ctx := context.Background()
	d, err := r.store.CreateDevice(ctx, identity.Device{
		UUID: clientID + "-uuid", AuthKey: clientID + "-key",
	})
	require.NoError(t, err)
	require.NoError(t, r.store.UpdateDeviceConnection(ctx, d.ID, clientID, "user_"+clientID, "pass_"+clientID))
	d, err = r.store.GetDeviceByID(ctx, d.ID)
	require.NoError(t, err)

	if group != "" {
		g, err := r.store.GetGroupByName(ctx, group)
		if errors.Is(err, identity.ErrNotFound) {
			g, err = r.store.CreateGroup(ctx, group)
		}
		require.NoError(t, err)
		require.NoError(t, r.store.AddDeviceToGroup(ctx, d.ID, g.ID))
	}
	return d
}

// connectClient drives a CONNECT handshake over an in-memory pipe and
// returns the client side, with the engine running HandleConnection on
// the server side.
func (r *testRig) connectClient(t *testing.T, d identity.Device) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	go r.engine.HandleConnection(context.Background(), server)

	_, err := client.Write((&packets.Connect{
		FixedHeader:  packets.FixedHeader{PacketType: packets.ConnectType},
		ClientID:     d.ClientID,
		Username:     d.Username,
		Password:     d.Password,
		CleanSession: true,
	}).Encode())
	require.NoError(t, err)

	ack, err := packets.ReadPacket(client)
	require.NoError(t, err)
	connack, ok := ack.(*packets.ConnAck)
	require.True(t, ok)
	require.Equal(t, packets.ConnAckAccepted, connack.ReturnCode)

	return client
}

func mustPublish(t *testing.T, conn net.Conn, topic string, body map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	_, err = conn.Write(packets.NewPublish(topic, payload).Encode())
	require.NoError(t, err)
}

func mustSubscribe(t *testing.T, conn net.Conn, topic string) {
	t.Helper()
	sub := &packets.Subscribe{
		FixedHeader: packets.FixedHeader{PacketType: packets.SubscribeType},
		PacketID:    1,
		Filters:     []packets.SubscribeFilter{{Topic: topic, QoS: 0}},
	}
	_, err := conn.Write(sub.Encode())
	require.NoError(t, err)
}

func TestDeviceToDeviceHTTPModeDelivery(t *testing.T) {
	r := newTestRig(t)
	a := r.createDevice(t, "cid_a", "")
	b := r.createDevice(t, "cid_b", "")
	r.cache.SetDeviceMode(b.ClientID, "http")

	clientA := r.connectClient(t, a)
	defer clientA.Close()

	mustPublish(t, clientA, "/device/cid_a/s", map[string]any{
		"toDevice": "cid_b",
		"data":     map[string]any{"x": 1.0},
	})

	require.Eventually(t, func() bool {
		return r.cache.PendingCount("cid_b") == 1
	}, time.Second, 5*time.Millisecond)

	msgs := r.cache.GetPendingMessages("cid_b")
	require.Len(t, msgs, 1)
	require.Equal(t, "cid_a", msgs[0].FromDevice)
}

func TestACLViolationClosesSession(t *testing.T) {
	r := newTestRig(t)
	a := r.createDevice(t, "cid_a", "")
	clientA := r.connectClient(t, a)
	defer clientA.Close()

	mustPublish(t, clientA, "/device/cid_other/s", map[string]any{"toDevice": "cid_b", "data": map[string]any{}})

	buf := make([]byte, 1)
	clientA.SetReadDeadline(time.Now().Add(time.Second))
	_, err := clientA.Read(buf)
	require.Error(t, err, "session must be closed after an ACL violation")
}

func TestSubscribeToOwnSendTopicClosesSession(t *testing.T) {
	r := newTestRig(t)
	a := r.createDevice(t, "cid_a", "")
	clientA := r.connectClient(t, a)
	defer clientA.Close()

	// /device/cid_a/s is pub-only; subscribing to it, even as cid_a
	// itself, must be denied per SPEC_FULL.md §4.4.
	mustSubscribe(t, clientA, "/device/cid_a/s")

	buf := make([]byte, 1)
	clientA.SetReadDeadline(time.Now().Add(time.Second))
	_, err := clientA.Read(buf)
	require.Error(t, err, "subscribing to one's own /s topic must close the session")
}

func TestPublishToOwnRecvTopicClosesSession(t *testing.T) {
	r := newTestRig(t)
	a := r.createDevice(t, "cid_a", "")
	clientA := r.connectClient(t, a)
	defer clientA.Close()

	// /device/cid_a/r is sub-only; publishing to it, even as cid_a
	// itself, must be denied per SPEC_FULL.md §4.4.
	mustPublish(t, clientA, "/device/cid_a/r", map[string]any{"fromDevice": "cid_a", "data": map[string]any{}})

	buf := make([]byte, 1)
	clientA.SetReadDeadline(time.Now().Add(time.Second))
	_, err := clientA.Read(buf)
	require.Error(t, err, "publishing to one's own /r topic must close the session")
}

func TestSizeViolationClosesSession(t *testing.T) {
	r := newTestRig(t)
	a := r.createDevice(t, "cid_a", "")
	clientA := r.connectClient(t, a)
	defer clientA.Close()

	big := make([]byte, 2048)
	_, err := clientA.Write(packets.NewPublish("/device/cid_a/s", big).Encode())
	require.NoError(t, err)

	buf := make([]byte, 1)
	clientA.SetReadDeadline(time.Now().Add(time.Second))
	_, err = clientA.Read(buf)
	require.Error(t, err, "session must be closed after a size violation")
}

func TestRateLimitViolationClosesSession(t *testing.T) {
	r := newTestRig(t)
	a := r.createDevice(t, "cid_a", "")
	b := r.createDevice(t, "cid_b", "")
	r.cache.SetDeviceMode(b.ClientID, "http")
	clientA := r.connectClient(t, a)
	defer clientA.Close()

	body := map[string]any{"toDevice": "cid_b", "data": map[string]any{}}
	mustPublish(t, clientA, "/device/cid_a/s", body)
	mustPublish(t, clientA, "/device/cid_a/s", body)

	buf := make([]byte, 1)
	clientA.SetReadDeadline(time.Now().Add(time.Second))
	_, err := clientA.Read(buf)
	require.Error(t, err, "second publish inside the rate window must close the session")
}

func TestGroupDispatchDeliversToOnlineMember(t *testing.T) {
	r := newTestRig(t)
	a := r.createDevice(t, "cid_a", "floor-1")
	b := r.createDevice(t, "cid_b", "floor-1")

	clientA := r.connectClient(t, a)
	defer clientA.Close()
	clientB := r.connectClient(t, b)
	defer clientB.Close()

	_, err := clientB.Write((&packets.Subscribe{
		FixedHeader: packets.FixedHeader{PacketType: packets.SubscribeType},
		PacketID:    1,
		Filters:     []packets.SubscribeFilter{{Topic: "/group/floor-1/r"}},
	}).Encode())
	require.NoError(t, err)
	_, err = packets.ReadPacket(clientB) // SUBACK
	require.NoError(t, err)

	mustPublish(t, clientA, "/group/floor-1/s", map[string]any{
		"toGroup": "floor-1",
		"data":    map[string]any{"v": 1.0},
	})

	clientB.SetReadDeadline(time.Now().Add(time.Second))
	pkt, err := packets.ReadPacket(clientB)
	require.NoError(t, err)
	pub, ok := pkt.(*packets.Publish)
	require.True(t, ok)
	require.Equal(t, "/group/floor-1/r", pub.TopicName)

	var fm cache.ForwardMessage
	require.NoError(t, json.Unmarshal(pub.Payload, &fm))
	require.Equal(t, "floor-1", fm.FromGroup)
	require.Equal(t, "cid_a", fm.FromDevice)
}

type fakeBridge struct {
	enabled     bool
	sentDevice  []string
	sentGroup   []string
	access      string
	pushedShare []string
}

func (f *fakeBridge) SendToRemoteDevice(peerBrokerID, fromClientID, targetClientID string, data any) bool {
	f.sentDevice = append(f.sentDevice, peerBrokerID+":"+targetClientID)
	return true
}
func (f *fakeBridge) SendToRemoteGroup(peerBrokerID, fromClientID, targetGroup string, data any) bool {
	f.sentGroup = append(f.sentGroup, peerBrokerID+":"+targetGroup)
	return true
}
func (f *fakeBridge) BroadcastToRemoteGroup(fromClientID, targetGroup string, data any) {}
func (f *fakeBridge) PushShareDataIfNeeded(senderClientID string, data any) {
	f.pushedShare = append(f.pushedShare, senderClientID)
}
func (f *fakeBridge) CheckBridgeDeviceAccess(targetClientID, fromBrokerID string) string { return f.access }
func (f *fakeBridge) Enabled() bool                                                      { return f.enabled }
func (f *fakeBridge) SharePayloadForPeer(peerBrokerID string) any                        { return nil }

func TestDispatchDeviceToRemoteAddressUsesBridge(t *testing.T) {
	r := newTestRig(t)
	a := r.createDevice(t, "cid_a", "")
	fb := &fakeBridge{enabled: true}
	r.engine.SetBridge(fb)

	clientA := r.connectClient(t, a)
	defer clientA.Close()

	mustPublish(t, clientA, "/device/cid_a/s", map[string]any{
		"toDevice": "b2:cid_x",
		"data":     map[string]any{"v": 9.0},
	})

	require.Eventually(t, func() bool { return len(fb.sentDevice) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, "b2:cid_x", fb.sentDevice[0])
}

func TestDeliverFromRemoteHonorsShareACL(t *testing.T) {
	r := newTestRig(t)
	b := r.createDevice(t, "cid_b", "")
	r.cache.SetDeviceMode(b.ClientID, "http")
	fb := &fakeBridge{access: "read"}
	r.engine.SetBridge(fb)

	r.engine.DeliverFromRemote(context.Background(), "peer-1", "cid_origin", "cid_b", map[string]any{"v": 1.0})
	require.Equal(t, 0, r.cache.PendingCount("cid_b"), "read permission must deny delivery")

	fb.access = "readwrite"
	r.engine.DeliverFromRemote(context.Background(), "peer-1", "cid_origin", "cid_b", map[string]any{"v": 1.0})
	require.Equal(t, 1, r.cache.PendingCount("cid_b"))

	msgs := r.cache.GetPendingMessages("cid_b")
	require.Equal(t, "peer-1:cid_origin", msgs[0].FromDevice)
}
