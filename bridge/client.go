package bridge

import (
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// pahoClient is the narrow subset of pahomqtt.Client a peer connection
// actually drives. Declaring it ourselves (rather than depending on the
// library's full Client interface) keeps peerClient testable with a fake.
type pahoClient interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	IsConnected() bool
}

// dialFunc builds an unconnected client for one peer; onLost is invoked on
// the paho library's own goroutine whenever an established connection
// drops. Swapped out in tests.
type dialFunc func(cfg Config, peer peerConfig, onLost func(error)) pahoClient

func defaultDial(cfg Config, peer peerConfig, onLost func(error)) pahoClient {
	opts := pahomqtt.NewClientOptions().
		AddBroker(peer.URL).
		SetClientID(BridgeClientPrefix + cfg.LocalBrokerID).
		SetUsername(BridgeClientPrefix).
		SetPassword(peer.Token).
		SetCleanSession(true).
		SetKeepAlive(DefaultKeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(false). // reconnection is fully managed by peerClient
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			onLost(err)
		})
	return pahomqtt.NewClient(opts)
}

// peerConfig is the subset of identity.PeerBroker a dial needs; kept
// separate from identity.PeerBroker so this package doesn't need to import
// identity just to describe a connection target.
type peerConfig struct {
	BrokerID string
	URL      string
	Token    string
}

func waitToken(tok pahomqtt.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return fmt.Errorf("bridge: operation timed out after %v", timeout)
	}
	return tok.Error()
}
