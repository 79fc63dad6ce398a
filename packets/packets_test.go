package packets_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/iotbroker/packets"
)

func TestConnectRoundTrip(t *testing.T) {
	in := &packets.Connect{
		FixedHeader:     packets.FixedHeader{PacketType: packets.ConnectType},
		ProtocolName:    "MQTT",
		ProtocolVersion: 4,
		UsernameFlag:    true,
		PasswordFlag:    true,
		CleanSession:    true,
		KeepAlive:       60,
		ClientID:        "dev-A",
		Username:        "user_abcdef12",
		Password:        "secret",
	}
	encoded := in.Encode()

	pkt, err := packets.ReadPacket(bytes.NewReader(encoded))
	require.NoError(t, err)

	out, ok := pkt.(*packets.Connect)
	require.True(t, ok)
	assert.Equal(t, in.ClientID, out.ClientID)
	assert.Equal(t, in.Username, out.Username)
	assert.Equal(t, in.Password, out.Password)
	assert.True(t, out.CleanSession)
	assert.Equal(t, uint16(60), out.KeepAlive)
}

func TestPublishRoundTrip(t *testing.T) {
	in := packets.NewPublish("/device/dev-A/s", []byte(`{"data":{"x":1}}`))
	encoded := in.Encode()

	pkt, err := packets.ReadPacket(bytes.NewReader(encoded))
	require.NoError(t, err)

	out, ok := pkt.(*packets.Publish)
	require.True(t, ok)
	assert.Equal(t, in.TopicName, out.TopicName)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestSubscribeRoundTrip(t *testing.T) {
	in := &packets.Subscribe{
		FixedHeader: packets.FixedHeader{PacketType: packets.SubscribeType},
		PacketID:    7,
		Filters: []packets.SubscribeFilter{
			{Topic: "/device/dev-A/r", QoS: 0},
		},
	}
	encoded := in.Encode()

	pkt, err := packets.ReadPacket(bytes.NewReader(encoded))
	require.NoError(t, err)

	out, ok := pkt.(*packets.Subscribe)
	require.True(t, ok)
	assert.Equal(t, uint16(7), out.PacketID)
	require.Len(t, out.Filters, 1)
	assert.Equal(t, "/device/dev-A/r", out.Filters[0].Topic)
}

func TestFixedHeaderRemainingLengthVBI(t *testing.T) {
	fh := packets.FixedHeader{PacketType: packets.PublishType, RemainingLength: 321}
	encoded := fh.Encode()
	require.Len(t, encoded, 3) // type byte + 2-byte VBI for 321

	var out packets.FixedHeader
	err := out.Decode(encoded[0], bytes.NewReader(encoded[1:]))
	require.NoError(t, err)
	assert.Equal(t, 321, out.RemainingLength)
}
