package broker

import (
	"fmt"
	"net"
	"sync"

	"github.com/meshgate/iotbroker/packets"
)

// State is a session's position in the authentication state machine
// described in SPEC_FULL.md §4.3.
type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

// BridgePrefix marks a clientId as a peer-bridge client rather than a
// device client.
const BridgePrefix = "__bridge_"

// Session is one live MQTT connection. It satisfies cache.SessionHandle
// so the Device Cache can request closure without depending on this
// package.
type Session struct {
	conn     net.Conn
	clientID string
	isBridge bool

	// deviceID/deviceUUID are populated on successful device auth; zero
	// value for bridge clients.
	deviceID   int64
	deviceUUID string

	remoteBrokerID string // not assigned by the engine; always empty

	mu    sync.Mutex
	state State
}

func newSession(conn net.Conn) *Session {
	return &Session{conn: conn, state: StateConnecting}
}

// ClientID returns the session's MQTT client identifier.
func (s *Session) ClientID() string { return s.clientID }

// IsBridge reports whether this session belongs to a federated peer
// rather than a device.
func (s *Session) IsBridge() bool { return s.isBridge }

// DeviceID returns the identity-store primary key bound to this session.
// Zero for bridge sessions.
func (s *Session) DeviceID() int64 { return s.deviceID }

// DeviceUUID returns the stable device handle bound to this session.
func (s *Session) DeviceUUID() string { return s.deviceUUID }

// State returns the session's current authentication state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Close closes the underlying connection. Safe to call more than once and
// from any goroutine; satisfies cache.SessionHandle.
func (s *Session) Close() error {
	s.setState(StateClosed)
	return s.conn.Close()
}

// writePacket serializes and writes pkt to the connection. Besides the
// session's own read loop, other goroutines (other sessions' dispatch, the
// scheduler, the HTTP Adapter) write to it through publishTo; each packet
// goes out in a single Write call, and net.Conn serializes concurrent
// Writes, so packets do not interleave.
func (s *Session) writePacket(pkt packets.ControlPacket) error {
	_, err := s.conn.Write(pkt.Encode())
	return err
}

// publishTo writes a QoS 0 PUBLISH carrying payload on topic to this
// session's connection.
func (s *Session) publishTo(topic string, payload []byte) error {
	return s.writePacket(packets.NewPublish(topic, payload))
}

func connAddr(conn net.Conn) string {
	if conn == nil || conn.RemoteAddr() == nil {
		return "unknown"
	}
	return fmt.Sprintf("%s", conn.RemoteAddr())
}
