package timeseries

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenDisabledReturnsErrDisabled(t *testing.T) {
	_, err := Open(Config{Enabled: false})
	require.ErrorIs(t, err, ErrDisabled)
}

func TestIsConnectedFalseOnZeroValue(t *testing.T) {
	var s Sink
	require.False(t, s.IsConnected())
}

func TestWritePointNoopsWhenNotConnected(t *testing.T) {
	var s Sink
	// Must not panic even though writeAPI is nil: IsConnected short-circuits.
	s.WritePoint("device-1", "temp", 21.5, 1000)
}

func TestFluxFilterIncludesDataKeyOnlyWhenSet(t *testing.T) {
	s := &Sink{cfg: Config{Bucket: "iot"}}

	withoutKey := s.fluxFilter(QueryOptions{DeviceUUID: "dev-1"})
	require.NotContains(t, withoutKey, tagKey)

	withKey := s.fluxFilter(QueryOptions{DeviceUUID: "dev-1", DataKey: "temp"})
	require.Contains(t, withKey, tagKey)
	require.Contains(t, withKey, "temp")
}
