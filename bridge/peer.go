package bridge

import (
	"log/slog"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/meshgate/iotbroker/topics"
)

// peerClient owns one outbound connection to a federation peer: its paho
// client, its position in the connection state machine, and its reconnect
// timer. Per SPEC_FULL.md §5, this state is owned exclusively by the
// peer's own goroutine/timer callbacks; the Manager only ever reaches it
// through peerClient's methods, each of which takes the peer's own mutex.
type peerClient struct {
	cfg    Config
	peer   peerConfig
	dial   dialFunc
	onMsg  func(peerBrokerID, topic string, payload []byte)
	log    *slog.Logger

	mu            sync.Mutex
	state         PeerState
	client        pahoClient
	reconnectTmr  *time.Timer
	stopping      bool
}

func newPeerClient(cfg Config, peer peerConfig, dial dialFunc, onMsg func(string, string, []byte)) *peerClient {
	return &peerClient{
		cfg:   cfg,
		peer:  peer,
		dial:  dial,
		onMsg: onMsg,
		log:   cfg.Logger,
		state: StateDisconnected,
	}
}

// start kicks off the first connection attempt.
func (p *peerClient) start() {
	p.connect()
}

// stop forcibly tears down the client and cancels any pending reconnect.
func (p *peerClient) stop() {
	p.mu.Lock()
	p.stopping = true
	if p.reconnectTmr != nil {
		p.reconnectTmr.Stop()
		p.reconnectTmr = nil
	}
	client := p.client
	p.state = StateDisconnected
	p.mu.Unlock()

	if client != nil {
		client.Disconnect(0) // force: no quiesce wait
	}
}

func (p *peerClient) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateConnected
}

// connect attempts one CONNECT; on failure it schedules a reconnect.
func (p *peerClient) connect() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.state = StateConnecting
	client := p.dial(p.cfg, p.peer, func(err error) {
		p.log.Warn("bridge peer connection lost", "peer", p.peer.BrokerID, "err", err)
		p.onDisconnected()
	})
	p.client = client
	p.mu.Unlock()

	tok := client.Connect()
	if err := waitToken(tok, p.cfg.ConnectTimeout); err != nil {
		p.log.Warn("bridge peer connect failed", "peer", p.peer.BrokerID, "err", err)
		p.onDisconnected()
		return
	}

	p.mu.Lock()
	p.state = StateConnected
	p.mu.Unlock()
	p.log.Info("bridge peer connected", "peer", p.peer.BrokerID)
	p.subscribe(client)
}

// subscribe installs the fixed set of inbound subscriptions from
// SPEC_FULL.md §4.7: device/group traffic addressed to us, our own share
// sync topic, and our own share data topic.
func (p *peerClient) subscribe(client pahoClient) {
	handler := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		p.onMsg(p.peer.BrokerID, msg.Topic(), msg.Payload())
	}
	filters := []string{
		"/bridge/device/+",
		"/bridge/group/+",
		topics.BridgeShareSync(p.cfg.LocalBrokerID),
		topics.BridgeShareData(p.cfg.LocalBrokerID, "+"),
	}
	for _, f := range filters {
		if err := waitToken(client.Subscribe(f, 0, handler), p.cfg.ConnectTimeout); err != nil {
			p.log.Warn("bridge peer subscribe failed", "peer", p.peer.BrokerID, "filter", f, "err", err)
		}
	}
}

// onDisconnected transitions to DISCONNECTED and schedules a reconnect
// unless the peer is being torn down.
func (p *peerClient) onDisconnected() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateDisconnected
	if p.stopping {
		return
	}
	if p.reconnectTmr != nil {
		p.reconnectTmr.Stop()
	}
	p.reconnectTmr = time.AfterFunc(p.cfg.ReconnectInterval, p.connect)
}

// publish writes payload to topic on this peer at QoS 0, fire-and-forget.
// Returns false if the peer isn't currently connected.
func (p *peerClient) publish(topic string, payload []byte) bool {
	p.mu.Lock()
	client := p.client
	connected := p.state == StateConnected
	p.mu.Unlock()
	if !connected || client == nil || !client.IsConnected() {
		return false
	}
	client.Publish(topic, 0, false, payload)
	return true
}
