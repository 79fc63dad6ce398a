package cache_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshgate/iotbroker/cache"
)

func TestSetDeviceGroupsRebuildsReverseIndex(t *testing.T) {
	c := cache.New(cache.Options{})

	c.SetDeviceGroups("cid-1", []string{"a", "b"})
	assert.ElementsMatch(t, []string{"a", "b"}, c.DeviceGroups("cid-1"))
	assert.ElementsMatch(t, []string{"cid-1"}, c.GroupMembers("a"))
	assert.ElementsMatch(t, []string{"cid-1"}, c.GroupMembers("b"))

	c.SetDeviceGroups("cid-1", []string{"b", "c"})
	assert.ElementsMatch(t, []string{"b", "c"}, c.DeviceGroups("cid-1"))
	assert.Empty(t, c.GroupMembers("a"), "group with no members must be fully removed")
	assert.ElementsMatch(t, []string{"cid-1"}, c.GroupMembers("b"))
	assert.ElementsMatch(t, []string{"cid-1"}, c.GroupMembers("c"))

	c.SetDeviceGroups("cid-1", nil)
	assert.Empty(t, c.DeviceGroups("cid-1"))
	assert.Empty(t, c.GroupMembers("b"))
	assert.Empty(t, c.GroupMembers("c"))
}

func TestGroupReverseIndexCoherenceUnderConcurrency(t *testing.T) {
	c := cache.New(cache.Options{})
	var wg sync.WaitGroup
	groupSets := [][]string{{"a"}, {"a", "b"}, {"b", "c"}, {}, {"c"}}

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.SetDeviceGroups("cid-1", groupSets[i%len(groupSets)])
		}(i)
	}
	wg.Wait()

	for _, g := range []string{"a", "b", "c"} {
		inGroup := c.IsDeviceInGroup("cid-1", g)
		members := c.GroupMembers(g)
		isMember := false
		for _, m := range members {
			if m == "cid-1" {
				isMember = true
			}
		}
		assert.Equal(t, inGroup, isMember, "forward and reverse index must agree for group %s", g)
	}
}

func TestRemoveDeviceClearsAllIndexes(t *testing.T) {
	c := cache.New(cache.Options{})
	d := cache.DeviceSnapshot{ID: 1, ClientID: "cid-1", AuthKey: "key-1"}
	c.SetDeviceByClientID("cid-1", d)
	c.SetDeviceByAuthKey("key-1", d)
	c.SetDeviceGroups("cid-1", []string{"a"})
	c.AddPendingMessage("cid-1", cache.ForwardMessage{FromDevice: "x", Data: 1})

	c.RemoveDevice("cid-1", "key-1")

	_, ok := c.GetDeviceByClientID("cid-1")
	assert.False(t, ok)
	_, ok = c.GetDeviceByAuthKey("key-1")
	assert.False(t, ok)
	assert.Empty(t, c.DeviceGroups("cid-1"))
	assert.Empty(t, c.GroupMembers("a"))
	assert.Empty(t, c.GetPendingMessages("cid-1"))
}

func TestCheckPublishRate(t *testing.T) {
	c := cache.New(cache.Options{PublishRateLimit: 50 * time.Millisecond})

	require.True(t, c.CheckPublishRate("cid-1"), "first publish is always allowed")
	assert.False(t, c.CheckPublishRate("cid-1"), "immediate second publish must be rate limited")

	time.Sleep(60 * time.Millisecond)
	assert.True(t, c.CheckPublishRate("cid-1"), "publish after the limit window must be allowed")
}

func TestPendingMessagesExpireAndClearOnRead(t *testing.T) {
	c := cache.New(cache.Options{PendingExpiry: 30 * time.Millisecond})

	c.AddPendingMessage("cid-1", cache.ForwardMessage{FromDevice: "a", Data: 1})
	time.Sleep(40 * time.Millisecond)
	c.AddPendingMessage("cid-1", cache.ForwardMessage{FromDevice: "b", Data: 2})

	msgs := c.GetPendingMessages("cid-1")
	require.Len(t, msgs, 1, "expired entry must be filtered out")
	assert.Equal(t, "b", msgs[0].FromDevice)

	assert.Nil(t, c.GetPendingMessages("cid-1"), "queue must be cleared by the prior read")
}

func TestCleanExpiredMessagesRemovesEmptyQueues(t *testing.T) {
	c := cache.New(cache.Options{PendingExpiry: 20 * time.Millisecond})
	c.AddPendingMessage("cid-1", cache.ForwardMessage{FromDevice: "a", Data: 1})
	assert.Equal(t, 1, c.PendingCount("cid-1"))

	time.Sleep(30 * time.Millisecond)
	c.CleanExpiredMessages()
	assert.Equal(t, 0, c.PendingCount("cid-1"))
}

func TestIsHTTPModeDefaultsToMQTT(t *testing.T) {
	c := cache.New(cache.Options{})
	assert.False(t, c.IsHTTPMode("unknown-client"))
	c.SetDeviceMode("cid-1", "http")
	assert.True(t, c.IsHTTPMode("cid-1"))
}

type fakeHandle struct{ closed bool }

func (f *fakeHandle) Close() error { f.closed = true; return nil }

func TestCloseSessionClosesAndForgetsHandle(t *testing.T) {
	c := cache.New(cache.Options{})
	h := &fakeHandle{}
	c.SetClientOnline("cid-1", h)

	require.NoError(t, c.CloseSession("cid-1"))
	assert.True(t, h.closed)

	_, ok := c.GetOnlineHandle("cid-1")
	assert.False(t, ok)
}
