package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/iotbroker/codec"
)

func TestEncodeDecodeString(t *testing.T) {
	cases := []string{"", "hello", "/device/abc123/s", "utf8-世界"}
	for _, in := range cases {
		encoded := codec.EncodeString(in)
		out, err := codec.DecodeString(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestEncodeDecodeUint16(t *testing.T) {
	cases := []uint16{0, 1, 255, 256, 65535}
	for _, in := range cases {
		out, err := codec.DecodeUint16(bytes.NewReader(codec.EncodeUint16(in)))
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestEncodeDecodeVBI(t *testing.T) {
	cases := []int{0, 1, 127, 128, 16383, 16384, 2097151, 268435455}
	for _, in := range cases {
		encoded := codec.EncodeVBI(in)
		out, err := codec.DecodeVBI(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestDecodeVBIMaxLengthExceeded(t *testing.T) {
	// Five continuation bytes is one too many for MQTT's four-byte VBI.
	bad := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	_, err := codec.DecodeVBI(bytes.NewReader(bad))
	require.Error(t, err)
}
