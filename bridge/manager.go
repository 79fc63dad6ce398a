package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/identity"
)

// Manager owns one peerClient per configured federation peer and
// implements broker.BridgeSender against them. It holds no knowledge of
// MQTT sessions on the server side; DeliverFromRemote/DeliverGroupFromRemote
// on the Broker Engine are reached through the deliverer field.
type Manager struct {
	cfg      Config
	store    *identity.Store
	cache    remoteDeviceCache
	deliverer deliverer
	dial     dialFunc
	log      *slog.Logger

	mu    sync.Mutex
	peers map[string]*peerClient
}

// remoteDeviceCache is the narrow slice of cache.Cache the Bridge needs:
// recording inbound share sync/data so httpapi/management can read it back.
type remoteDeviceCache interface {
	SetRemoteSharedDevices(peerBrokerID string, devices []cache.RemoteSharedDevice)
	UpdateRemoteSharedDeviceData(peerBrokerID, clientID string, data any)
}

// deliverer is the slice of *broker.Engine the Bridge needs for inbound
// re-dispatch. Declared locally (rather than depending on the broker
// package's exported type) to keep this file self-contained; Manager is
// still constructed with a *broker.Engine in practice, which satisfies it.
type deliverer interface {
	DeliverFromRemote(ctx context.Context, fromBroker, fromDevice, targetClientID string, data any)
	DeliverGroupFromRemote(ctx context.Context, fromBroker, fromDevice, groupName string, data any)
}

// New constructs a Manager. Call ReloadRemotes to load configured peers
// from the Identity Store and start connecting.
func New(cfg Config, store *identity.Store, cache remoteDeviceCache, deliverer deliverer) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:       cfg,
		store:     store,
		cache:     cache,
		deliverer: deliverer,
		dial:      defaultDial,
		log:       cfg.Logger,
		peers:     make(map[string]*peerClient),
	}
}

// Enabled implements broker.BridgeSender.
func (m *Manager) Enabled() bool { return m.cfg.LocalBrokerID != "" }

// ReloadRemotes replaces the live peer set with whatever is currently
// configured in the Identity Store: peers no longer present are stopped,
// new peers are started, and unchanged peers are left alone.
func (m *Manager) ReloadRemotes(ctx context.Context) error {
	configured, err := m.store.ListPeerBrokers(ctx)
	if err != nil {
		return fmt.Errorf("bridge: listing peers: %w", err)
	}

	want := make(map[string]identity.PeerBroker, len(configured))
	for _, p := range configured {
		if p.Enabled {
			want[p.BrokerID] = p
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for brokerID, existing := range m.peers {
		if _, stillWanted := want[brokerID]; !stillWanted {
			existing.stop()
			delete(m.peers, brokerID)
		}
	}
	for brokerID, p := range want {
		if _, ok := m.peers[brokerID]; ok {
			continue
		}
		m.startPeerLocked(p)
	}
	return nil
}

func (m *Manager) startPeerLocked(p identity.PeerBroker) {
	pc := newPeerClient(m.cfg, peerConfig{BrokerID: p.BrokerID, URL: p.URL, Token: p.Token}, m.dial, m.onMessage)
	m.peers[p.BrokerID] = pc
	go pc.start()
}

// AddRemote configures and connects to a new peer. The caller is
// responsible for persisting it via identity.Store beforehand.
func (m *Manager) AddRemote(p identity.PeerBroker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.peers[p.BrokerID]; ok {
		existing.stop()
	}
	m.startPeerLocked(p)
}

// RemoveRemote cancels any pending reconnect and closes the peer's client.
func (m *Manager) RemoveRemote(brokerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.peers[brokerID]; ok {
		p.stop()
		delete(m.peers, brokerID)
	}
}

// UpdateRemote fully replaces a peer's connection (stop then reconnect),
// per SPEC_FULL.md §4.7's "must cancel pending reconnect timer and fully
// close the MQTT client before starting anew".
func (m *Manager) UpdateRemote(p identity.PeerBroker) {
	m.AddRemote(p)
}

// StopAll tears every peer down. Called during graceful shutdown, before
// the Broker Engine drains sessions.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for brokerID, p := range m.peers {
		p.stop()
		delete(m.peers, brokerID)
	}
}

// PeerStatus reports each configured peer's live connection state, for the
// Management Adapter's health/list endpoints.
func (m *Manager) PeerStatus() map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.peers))
	for brokerID, p := range m.peers {
		out[brokerID] = p.isConnected()
	}
	return out
}

func (m *Manager) connectedPeers() []*peerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*peerClient, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

func (m *Manager) peer(brokerID string) (*peerClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[brokerID]
	return p, ok
}
