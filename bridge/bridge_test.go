package bridge

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/identity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeToken is a pahomqtt.Token that resolves immediately.
type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                       { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool    { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type publishedMsg struct {
	topic   string
	payload []byte
}

// fakeClient is a pahoClient whose behavior is driven entirely by the test.
type fakeClient struct {
	mu          sync.Mutex
	connectErr  error
	connected   bool
	connectN    int
	published   []publishedMsg
	subscribed  []string
}

func (c *fakeClient) Connect() pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectN++
	if c.connectErr == nil {
		c.connected = true
	}
	return &fakeToken{err: c.connectErr}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, _ := payload.([]byte)
	c.published = append(c.published, publishedMsg{topic: topic, payload: b})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, topic)
	return &fakeToken{}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *fakeClient) lastPublish() publishedMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.published[len(c.published)-1]
}

// fakeDial always returns the same fakeClient and records every dial call,
// so a test can assert a reconnect attempt happened.
func fakeDial(client *fakeClient, calls *int, mu *sync.Mutex) dialFunc {
	return func(cfg Config, peer peerConfig, onLost func(error)) pahoClient {
		mu.Lock()
		*calls++
		mu.Unlock()
		return client
	}
}

func newTestStore(t *testing.T) *identity.Store {
	t.Helper()
	store, err := identity.Open(context.Background(), identity.Config{Path: filepath.Join(t.TempDir(), "identity.db")})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testConfig() Config {
	cfg := Config{LocalBrokerID: "broker-a", ReconnectInterval: 15 * time.Millisecond, ConnectTimeout: time.Second, Logger: testLogger()}
	return cfg.withDefaults()
}

func TestPeerConnectSuccessSubscribesAndMarksConnected(t *testing.T) {
	client := &fakeClient{}
	var calls int
	var mu sync.Mutex
	pc := newPeerClient(testConfig(), peerConfig{BrokerID: "broker-b", URL: "tcp://peer:1883"}, fakeDial(client, &calls, &mu), func(string, string, []byte) {})

	pc.start()

	require.True(t, pc.isConnected())
	require.ElementsMatch(t, []string{
		"/bridge/device/+",
		"/bridge/group/+",
		"/bridge/share/sync/broker-a",
		"/bridge/share/data/broker-a/+",
	}, client.subscribed)
}

func TestPeerConnectFailureSchedulesReconnect(t *testing.T) {
	client := &fakeClient{connectErr: errConnRefused}
	var calls int
	var mu sync.Mutex
	pc := newPeerClient(testConfig(), peerConfig{BrokerID: "broker-b", URL: "tcp://peer:1883"}, fakeDial(client, &calls, &mu), func(string, string, []byte) {})

	pc.start()
	require.False(t, pc.isConnected())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestPeerStopCancelsPendingReconnect(t *testing.T) {
	client := &fakeClient{connectErr: errConnRefused}
	var calls int
	var mu sync.Mutex
	pc := newPeerClient(testConfig(), peerConfig{BrokerID: "broker-b", URL: "tcp://peer:1883"}, fakeDial(client, &calls, &mu), func(string, string, []byte) {})

	pc.start()
	pc.stop()

	mu.Lock()
	callsAtStop := calls
	mu.Unlock()

	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, callsAtStop, calls, "stop must cancel the pending reconnect timer")
}

func TestPeerPublishFailsWhenNotConnected(t *testing.T) {
	client := &fakeClient{}
	pc := newPeerClient(testConfig(), peerConfig{BrokerID: "broker-b"}, func(Config, peerConfig, func(error)) pahoClient { return client }, func(string, string, []byte) {})

	ok := pc.publish("/bridge/device/foo", []byte("{}"))
	require.False(t, ok)
}

// errConnRefused is a stand-in connect error; its text is irrelevant to the
// assertions above.
var errConnRefused = &dialError{"connection refused"}

type dialError struct{ msg string }

func (e *dialError) Error() string { return e.msg }

// --- Manager-level tests ---

type fakeCache struct {
	mu      sync.Mutex
	synced  map[string][]cache.RemoteSharedDevice
	updated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{synced: make(map[string][]cache.RemoteSharedDevice)}
}

func (c *fakeCache) SetRemoteSharedDevices(peerBrokerID string, devices []cache.RemoteSharedDevice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synced[peerBrokerID] = devices
}

func (c *fakeCache) UpdateRemoteSharedDeviceData(peerBrokerID, clientID string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updated = append(c.updated, peerBrokerID+":"+clientID)
}

type fakeDeliverer struct {
	mu           sync.Mutex
	deviceCalls  []string
	groupCalls   []string
}

func (d *fakeDeliverer) DeliverFromRemote(ctx context.Context, fromBroker, fromDevice, targetClientID string, data any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deviceCalls = append(d.deviceCalls, fromBroker+">"+targetClientID)
}

func (d *fakeDeliverer) DeliverGroupFromRemote(ctx context.Context, fromBroker, fromDevice, groupName string, data any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groupCalls = append(d.groupCalls, fromBroker+">"+groupName)
}

func newTestManager(t *testing.T, store *identity.Store, c *fakeCache, d *fakeDeliverer) *Manager {
	t.Helper()
	return New(testConfig(), store, c, d)
}

func TestCheckBridgeDeviceAccessDefaultsToAllWithNoShareRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dev, err := store.CreateDevice(ctx, identity.Device{UUID: "u1", AuthKey: "k1", ClientID: "cid1"})
	require.NoError(t, err)

	m := newTestManager(t, store, newFakeCache(), &fakeDeliverer{})
	require.Equal(t, "all", m.CheckBridgeDeviceAccess(dev.ClientID, "broker-b"))
}

func TestCheckBridgeDeviceAccessHonorsSpecificRow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	shared, err := store.CreateDevice(ctx, identity.Device{UUID: "u1", AuthKey: "k1", ClientID: "shared"})
	require.NoError(t, err)
	other, err := store.CreateDevice(ctx, identity.Device{UUID: "u2", AuthKey: "k2", ClientID: "other"})
	require.NoError(t, err)
	require.NoError(t, store.UpsertBridgeSharedDevice(ctx, identity.BridgeSharedDevice{
		BrokerID: "broker-b", DeviceID: shared.ID, Permissions: "read",
	}))

	m := newTestManager(t, store, newFakeCache(), &fakeDeliverer{})
	require.Equal(t, "read", m.CheckBridgeDeviceAccess(shared.ClientID, "broker-b"))
	require.Equal(t, "none", m.CheckBridgeDeviceAccess(other.ClientID, "broker-b"))
}

func TestSharePayloadForPeerListsConfiguredDevices(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	dev, err := store.CreateDevice(ctx, identity.Device{UUID: "u1", AuthKey: "k1", ClientID: "cid1"})
	require.NoError(t, err)
	require.NoError(t, store.UpsertBridgeSharedDevice(ctx, identity.BridgeSharedDevice{
		BrokerID: "broker-b", DeviceID: dev.ID, Permissions: "readwrite",
	}))

	m := newTestManager(t, store, newFakeCache(), &fakeDeliverer{})
	payload := m.SharePayloadForPeer("broker-b")

	body, ok := payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "broker-a", body["fromBroker"])
	devices, ok := body["devices"].([]sharedDeviceEntry)
	require.True(t, ok)
	require.Len(t, devices, 1)
	require.Equal(t, dev.UUID, devices[0].UUID)
	require.Equal(t, "readwrite", devices[0].Permissions)
}

func TestOnMessageDispatchesInboundDeviceMessage(t *testing.T) {
	store := newTestStore(t)
	d := &fakeDeliverer{}
	m := newTestManager(t, store, newFakeCache(), d)

	m.onMessage("broker-b", "/bridge/device/cid1", []byte(`{"fromBroker":"broker-b","fromDevice":"remote1","data":{"x":1}}`))

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Equal(t, []string{"broker-b>cid1"}, d.deviceCalls)
}

func TestOnMessageDispatchesInboundGroupMessage(t *testing.T) {
	store := newTestStore(t)
	d := &fakeDeliverer{}
	m := newTestManager(t, store, newFakeCache(), d)

	m.onMessage("broker-b", "/bridge/group/lobby", []byte(`{"fromBroker":"broker-b","fromDevice":"remote1","data":{}}`))

	d.mu.Lock()
	defer d.mu.Unlock()
	require.Equal(t, []string{"broker-b>lobby"}, d.groupCalls)
}

func TestOnMessageDispatchesShareSyncToCache(t *testing.T) {
	store := newTestStore(t)
	c := newFakeCache()
	m := newTestManager(t, store, c, &fakeDeliverer{})

	m.onMessage("broker-b", "/bridge/share/sync/broker-a", []byte(`{"fromBroker":"broker-b","devices":[{"uuid":"u1","clientId":"cid1","permissions":"read"}]}`))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.synced["broker-b"], 1)
	require.Equal(t, "cid1", c.synced["broker-b"][0].ClientID)
}

func TestOnMessageDispatchesShareDataToCache(t *testing.T) {
	store := newTestStore(t)
	c := newFakeCache()
	m := newTestManager(t, store, c, &fakeDeliverer{})

	m.onMessage("broker-b", "/bridge/share/data/broker-a/cid1", []byte(`{"fromBroker":"broker-b","fromDevice":"cid1","deviceUuid":"u1","data":{"temp":21}}`))

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Equal(t, []string{"broker-b:cid1"}, c.updated)
}

func TestSendToRemoteDevicePublishesWhenPeerConnected(t *testing.T) {
	store := newTestStore(t)
	m := newTestManager(t, store, newFakeCache(), &fakeDeliverer{})

	client := &fakeClient{}
	var calls int
	var mu sync.Mutex
	m.dial = fakeDial(client, &calls, &mu)
	m.AddRemote(identity.PeerBroker{BrokerID: "broker-b", URL: "tcp://peer:1883", Enabled: true})

	require.Eventually(t, func() bool {
		p, ok := m.peer("broker-b")
		return ok && p.isConnected()
	}, time.Second, 5*time.Millisecond)

	ok := m.SendToRemoteDevice("broker-b", "cid1", "cid2", map[string]any{"x": 1})
	require.True(t, ok)
	require.Equal(t, 1, client.publishedCount())
	require.Equal(t, "/bridge/device/cid2", client.lastPublish().topic)
}

func TestSendToRemoteDeviceFailsWhenPeerUnknown(t *testing.T) {
	store := newTestStore(t)
	m := newTestManager(t, store, newFakeCache(), &fakeDeliverer{})
	require.False(t, m.SendToRemoteDevice("no-such-peer", "cid1", "cid2", nil))
}

func TestRemoveRemoteStopsPeer(t *testing.T) {
	store := newTestStore(t)
	m := newTestManager(t, store, newFakeCache(), &fakeDeliverer{})

	client := &fakeClient{}
	var calls int
	var mu sync.Mutex
	m.dial = fakeDial(client, &calls, &mu)
	m.AddRemote(identity.PeerBroker{BrokerID: "broker-b", URL: "tcp://peer:1883", Enabled: true})

	require.Eventually(t, func() bool {
		_, ok := m.peer("broker-b")
		return ok
	}, time.Second, 5*time.Millisecond)

	m.RemoveRemote("broker-b")
	_, ok := m.peer("broker-b")
	require.False(t, ok)
}

func TestEnabledReflectsLocalBrokerID(t *testing.T) {
	m := &Manager{cfg: Config{LocalBrokerID: "broker-a"}}
	require.True(t, m.Enabled())
	m2 := &Manager{cfg: Config{}}
	require.False(t, m2.Enabled())
}
