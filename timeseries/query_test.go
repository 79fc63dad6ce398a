package timeseries

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeTotalPages(t *testing.T) {
	require.Equal(t, 0, computeTotalPages(0, 50))
	require.Equal(t, 1, computeTotalPages(1, 50))
	require.Equal(t, 1, computeTotalPages(50, 50))
	require.Equal(t, 2, computeTotalPages(51, 50))
	require.Equal(t, 3, computeTotalPages(150, 50))
}

func TestQueryReturnsErrNotConnected(t *testing.T) {
	var s Sink
	_, err := s.Query(nil, QueryOptions{DeviceUUID: "dev-1"}) //nolint:staticcheck // nil ctx fine, short-circuits before use
	require.ErrorIs(t, err, ErrNotConnected)
}
