package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/identity"
	"github.com/meshgate/iotbroker/packets"
	"github.com/meshgate/iotbroker/topics"
)

// Limits are the engine's configurable admission thresholds.
type Limits struct {
	MaxMessageBytes int // default 1024
}

// Engine is the Broker Engine: session/auth state machine, topic ACL,
// and the publish-dispatch pipeline described in SPEC_FULL.md §4.3–§4.5.
// It is the process's single point of contact between MQTT sessions, the
// Identity Store, the Device Cache, the Bridge, and the timeseries tap.
type Engine struct {
	log    *slog.Logger
	store  *identity.Store
	cache  *cache.Cache
	policy SessionPolicy
	limits Limits

	bridge     BridgeSender // nil until wired; nil means federation disabled
	timeseries TimeseriesSink

	sessMu   sync.RWMutex
	sessions map[string]*Session
}

// Config bundles the dependencies the application root wires into a new
// Engine.
type Config struct {
	Store            *identity.Store
	Cache            *cache.Cache
	Logger           *slog.Logger
	Limits           Limits
	LocalBridgeToken string
	FederationOn     bool
}

// New constructs an Engine with its default SessionPolicy.
func New(cfg Config) *Engine {
	if cfg.Limits.MaxMessageBytes <= 0 {
		cfg.Limits.MaxMessageBytes = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		log:      logger,
		store:    cfg.Store,
		cache:    cfg.Cache,
		limits:   cfg.Limits,
		sessions: make(map[string]*Session),
	}
	e.policy = newDefaultPolicy(cfg.Store, cfg.Cache, cfg.LocalBridgeToken, cfg.FederationOn)
	return e
}

// SetBridge wires the federation component into the engine. Must be
// called before the engine starts accepting connections if federation is
// to be exercised.
func (e *Engine) SetBridge(b BridgeSender) { e.bridge = b }

// SetTimeseriesSink wires the timeseries tap into the engine.
func (e *Engine) SetTimeseriesSink(t TimeseriesSink) { e.timeseries = t }

// Drain closes every live MQTT session, so a graceful shutdown stops
// serving traffic deterministically rather than racing the process exit
// against in-flight connections. Each Close runs its own DISCONNECT
// cleanup via unregisterSession, exactly as a client-initiated disconnect
// would.
func (e *Engine) Drain() {
	e.sessMu.RLock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.sessMu.RUnlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}

func (e *Engine) registerSession(s *Session) {
	e.sessMu.Lock()
	e.sessions[s.clientID] = s
	e.sessMu.Unlock()
	e.cache.SetClientOnline(s.clientID, s)
}

func (e *Engine) unregisterSession(s *Session) {
	e.sessMu.Lock()
	if cur, ok := e.sessions[s.clientID]; ok && cur == s {
		delete(e.sessions, s.clientID)
	}
	e.sessMu.Unlock()
	e.cache.SetClientOffline(s.clientID)
}

func (e *Engine) lookupSession(clientID string) (*Session, bool) {
	e.sessMu.RLock()
	defer e.sessMu.RUnlock()
	s, ok := e.sessions[clientID]
	return s, ok
}

// HandleConnection drives one accepted TCP connection through the full
// MQTT lifecycle: CONNECT, a PUBLISH/SUBSCRIBE/UNSUBSCRIBE/PINGREQ loop,
// and cleanup on DISCONNECT or socket loss. It blocks until the
// connection ends.
func (e *Engine) HandleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	s := newSession(conn)
	if err := e.handshake(ctx, s); err != nil {
		e.log.Debug("connect handshake failed", "remote", connAddr(conn), "err", err)
		return
	}
	defer e.onSessionClosed(ctx, s)

	for {
		pkt, err := packets.ReadPacket(conn)
		if err != nil {
			return
		}
		switch p := pkt.(type) {
		case *packets.Publish:
			if !e.handlePublishPacket(ctx, s, p) {
				return
			}
		case *packets.Subscribe:
			if !e.handleSubscribe(ctx, s, p) {
				return
			}
		case *packets.Unsubscribe:
			if err := s.writePacket(&packets.UnsubAck{FixedHeader: packets.FixedHeader{PacketType: packets.UnsubAckType}, PacketID: p.PacketID}); err != nil {
				return
			}
		case *packets.PingReq:
			if err := s.writePacket(packets.NewPingResp()); err != nil {
				return
			}
		case *packets.Disconnect:
			return
		default:
			return
		}
	}
}

// handshake reads the initial CONNECT, authenticates it, and writes the
// CONNACK. Returns an error if the connection should be dropped without
// further processing.
func (e *Engine) handshake(ctx context.Context, s *Session) error {
	pkt, err := packets.ReadPacket(s.conn)
	if err != nil {
		return fmt.Errorf("reading connect: %w", err)
	}
	connect, ok := pkt.(*packets.Connect)
	if !ok {
		return errors.New("first packet was not CONNECT")
	}

	decision, err := e.policy.Authenticate(ctx, connect.ClientID, connect.Username, connect.Password)
	if err != nil {
		_ = s.writePacket(&packets.ConnAck{FixedHeader: packets.FixedHeader{PacketType: packets.ConnAckType}, ReturnCode: packets.ConnAckServerUnavailable})
		return err
	}
	if !decision.Allowed {
		_ = s.writePacket(&packets.ConnAck{FixedHeader: packets.FixedHeader{PacketType: packets.ConnAckType}, ReturnCode: packets.ConnAckBadUsernameOrPassword})
		return errors.New("authentication rejected")
	}

	s.clientID = connect.ClientID
	s.isBridge = decision.IsBridge
	if !decision.IsBridge {
		s.deviceID = decision.Device.ID
		s.deviceUUID = decision.Device.UUID
	}

	if err := s.writePacket(&packets.ConnAck{FixedHeader: packets.FixedHeader{PacketType: packets.ConnAckType}, ReturnCode: packets.ConnAckAccepted}); err != nil {
		return fmt.Errorf("writing connack: %w", err)
	}
	s.setState(StateAuthenticated)
	e.onSessionOpened(ctx, s)
	return nil
}

func (e *Engine) onSessionOpened(ctx context.Context, s *Session) {
	e.registerSession(s)
	if s.isBridge {
		e.log.Info("bridge session connected", "client_id", s.clientID)
		return
	}
	e.cache.SetDeviceByClientID(s.clientID, cache.DeviceSnapshot{
		ID: s.deviceID, UUID: s.deviceUUID, ClientID: s.clientID,
	})
	if groups, err := e.store.GetDeviceGroups(ctx, s.deviceID); err == nil {
		names := make([]string, len(groups))
		for i, g := range groups {
			names[i] = g.Name
		}
		e.cache.SetDeviceGroups(s.clientID, names)
	}
	e.cache.SetDeviceMode(s.clientID, "mqtt")
	if err := e.store.UpdateDeviceOnlineStatus(ctx, s.deviceID, identity.StatusOnline, "mqtt"); err != nil {
		e.log.Warn("updating online status", "client_id", s.clientID, "err", err)
	}
	e.log.Info("device session connected", "client_id", s.clientID)
}

func (e *Engine) onSessionClosed(ctx context.Context, s *Session) {
	e.unregisterSession(s)
	if s.isBridge {
		e.log.Info("bridge session closed", "client_id", s.clientID)
		return
	}
	if err := e.store.MarkDeviceOffline(ctx, s.deviceID); err != nil {
		e.log.Warn("marking device offline", "client_id", s.clientID, "err", err)
	}
	e.log.Info("device session closed", "client_id", s.clientID)
}

// handleSubscribe authorizes every filter in p and replies with a SUBACK.
// A single denied filter closes the session per the violation policy.
func (e *Engine) handleSubscribe(ctx context.Context, s *Session, p *packets.Subscribe) bool {
	codes := make([]byte, len(p.Filters))
	for i, f := range p.Filters {
		if !e.policy.AuthorizeSubscribe(ctx, s, f.Topic) {
			e.log.Warn("subscribe ACL violation, closing session", "client_id", s.clientID, "topic", f.Topic)
			return false
		}
		codes[i] = 0 // QoS 0 granted
	}
	if err := s.writePacket(&packets.SubAck{FixedHeader: packets.FixedHeader{PacketType: packets.SubAckType}, PacketID: p.PacketID, ReturnCodes: codes}); err != nil {
		return false
	}
	if s.isBridge && e.bridge != nil {
		e.pushShareSyncOnSubscribe(s, p.Filters)
	}
	return true
}

// pushShareSyncOnSubscribe implements SPEC_FULL.md §4.7's "share sync
// (outbound)": the instant a bridge session subscribes to its own
// /bridge/share/sync/{peerBrokerId} topic, the engine writes the current
// share payload straight back to that session.
func (e *Engine) pushShareSyncOnSubscribe(s *Session, filters []packets.SubscribeFilter) {
	for _, f := range filters {
		parsed := topics.Parse(f.Topic)
		if parsed.Kind != topics.KindBridgeShareSync {
			continue
		}
		payload, err := json.Marshal(e.bridge.SharePayloadForPeer(parsed.BrokerID))
		if err != nil {
			e.log.Warn("marshaling share sync payload", "peer", parsed.BrokerID, "err", err)
			continue
		}
		if err := s.publishTo(f.Topic, payload); err != nil {
			e.log.Debug("pushing share sync", "peer", parsed.BrokerID, "err", err)
		}
	}
}

// handlePublishPacket runs the full admission pipeline (size, rate, ACL,
// parse, classify-and-dispatch) for one inbound PUBLISH. Returns false if
// the session must be closed.
func (e *Engine) handlePublishPacket(ctx context.Context, s *Session, p *packets.Publish) bool {
	if len(p.Payload) > e.limits.MaxMessageBytes {
		e.log.Warn("publish size violation, closing session", "client_id", s.clientID, "bytes", len(p.Payload))
		return false
	}
	if !s.isBridge && !e.cache.CheckPublishRate(s.clientID) {
		e.log.Warn("publish rate violation, closing session", "client_id", s.clientID)
		return false
	}
	if !e.policy.AuthorizePublish(ctx, s, p.TopicName) {
		e.log.Warn("publish ACL violation, closing session", "client_id", s.clientID, "topic", p.TopicName)
		return false
	}

	var body map[string]any
	if err := json.Unmarshal(p.Payload, &body); err != nil {
		e.log.Debug("dropping unparsable publish", "client_id", s.clientID, "topic", p.TopicName, "err", err)
		return true
	}

	parsed := topics.Parse(p.TopicName)
	switch parsed.Kind {
	case topics.KindDeviceSend:
		e.handleDeviceSend(ctx, s, body)
	case topics.KindGroupSend:
		e.handleGroupSend(ctx, s, body)
	case topics.KindBridgeDevice:
		if s.isBridge {
			e.handleBridgeDeviceMessage(ctx, parsed.ClientID, body)
		}
	case topics.KindBridgeGroup:
		if s.isBridge {
			e.handleBridgeGroupMessage(ctx, parsed.GroupName, body)
		}
	}
	return true
}

func stringField(body map[string]any, key string) string {
	v, _ := body[key].(string)
	return v
}

func (e *Engine) handleDeviceSend(ctx context.Context, s *Session, body map[string]any) {
	data := body["data"]

	if ts, _ := body["ts"].(bool); ts {
		e.tapTimeseries(s.deviceUUID, data)
	}

	if target := stringField(body, "toDevice"); target != "" {
		e.DispatchDevice(ctx, s.clientID, target, data)
		return
	}
	if group := stringField(body, "toGroup"); group != "" {
		e.DispatchGroup(ctx, s.clientID, group, data)
		return
	}
	e.log.Debug("device publish with no toDevice/toGroup, dropping", "client_id", s.clientID)
}

func (e *Engine) handleGroupSend(ctx context.Context, s *Session, body map[string]any) {
	group := stringField(body, "toGroup")
	if group == "" {
		e.log.Debug("group publish missing toGroup, dropping", "client_id", s.clientID)
		return
	}
	e.DispatchGroup(ctx, s.clientID, group, body["data"])
}

// TapTimeseries exposes the timeseries tap to callers outside the MQTT
// publish pipeline (the HTTP Adapter's own admission path) so a `ts: true`
// device-send carries the same timeseries side effect regardless of
// transport.
func (e *Engine) TapTimeseries(deviceUUID string, data any) {
	e.tapTimeseries(deviceUUID, data)
}

// tapTimeseries extracts every finite-numeric entry of data and forwards
// it to the timeseries sink, per SPEC_FULL.md §4.5.
func (e *Engine) tapTimeseries(deviceUUID string, data any) {
	if e.timeseries == nil {
		return
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return
	}
	now := time.Now().UnixMilli()
	for key, v := range obj {
		num, ok := toFiniteFloat(v)
		if !ok {
			continue
		}
		e.timeseries.WritePoint(deviceUUID, key, num, now)
	}
}

func toFiniteFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	if !ok {
		return 0, false
	}
	if f != f || f > 1e308 || f < -1e308 { // NaN / overflow guard
		return 0, false
	}
	return f, true
}
