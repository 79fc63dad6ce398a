package topics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meshgate/iotbroker/topics"
)

func TestParseDeviceSend(t *testing.T) {
	p := topics.Parse("/device/cid_A/s")
	assert.Equal(t, topics.KindDeviceSend, p.Kind)
	assert.Equal(t, "cid_A", p.ClientID)
}

func TestParseUnknown(t *testing.T) {
	assert.Equal(t, topics.KindUnknown, topics.Parse("/nonsense/path").Kind)
	assert.Equal(t, topics.KindUnknown, topics.Parse("").Kind)
}

func TestParseBridgeShareData(t *testing.T) {
	p := topics.Parse("/bridge/share/data/b1/cid_X")
	assert.Equal(t, topics.KindBridgeShareData, p.Kind)
	assert.Equal(t, "b1", p.BrokerID)
	assert.Equal(t, "cid_X", p.ClientID)
}

func TestMatchWildcards(t *testing.T) {
	assert.True(t, topics.Match("/bridge/device/+", "/bridge/device/cid_X"))
	assert.True(t, topics.Match("/bridge/#", "/bridge/share/sync/b1"))
	assert.False(t, topics.Match("/bridge/device/+", "/bridge/device/cid_X/extra"))
}

func TestParseAddress(t *testing.T) {
	addr, ok := topics.ParseAddress("b2:cid_X")
	assert.True(t, ok)
	assert.True(t, addr.IsRemote)
	assert.Equal(t, "b2", addr.BrokerID)
	assert.Equal(t, "cid_X", addr.Local)

	local, ok := topics.ParseAddress("cid_X")
	assert.True(t, ok)
	assert.False(t, local.IsRemote)
	assert.Equal(t, "cid_X", local.Local)

	_, ok = topics.ParseAddress(":cid_X")
	assert.False(t, ok)

	_, ok = topics.ParseAddress("b2:")
	assert.False(t, ok)
}
