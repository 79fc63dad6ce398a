package broker

import (
	"context"
	"strings"

	"github.com/meshgate/iotbroker/cache"
	"github.com/meshgate/iotbroker/identity"
	"github.com/meshgate/iotbroker/topics"
)

// direction distinguishes a publish admission check from a subscribe
// admission check, since the device-topic grammar in SPEC_FULL.md §4.4
// is direction-restricted: `/device/{cid}/s` is pub-only and
// `/device/{cid}/r` is sub-only, never both.
type direction int

const (
	directionPublish direction = iota
	directionSubscribe
)

// checkACL implements the fixed topic grammar table from SPEC_FULL.md
// §4.4. Group topics allow the same membership check in both directions;
// device topics do not, so dir picks which Kind is compatible with the
// call.
func checkACL(ctx context.Context, store *identity.Store, c *cache.Cache, s *Session, topic string, dir direction) bool {
	if s.IsBridge() {
		return strings.HasPrefix(topic, "/bridge/")
	}

	p := topics.Parse(topic)
	switch p.Kind {
	case topics.KindDeviceSend:
		return dir == directionPublish && p.ClientID == s.ClientID()
	case topics.KindDeviceRecv:
		return dir == directionSubscribe && p.ClientID == s.ClientID()
	case topics.KindGroupSend, topics.KindGroupRecv:
		return isMemberOfGroup(ctx, store, c, s, p.GroupName)
	default:
		return false
	}
}

// isMemberOfGroup consults the Device Cache first and falls back to the
// Identity Store on a cache miss, per SPEC_FULL.md §4.4.
func isMemberOfGroup(ctx context.Context, store *identity.Store, c *cache.Cache, s *Session, group string) bool {
	if c.IsDeviceInGroup(s.ClientID(), group) {
		return true
	}
	g, err := store.GetGroupByName(ctx, group)
	if err != nil {
		return false
	}
	ok, err := store.IsDeviceInGroup(ctx, s.DeviceID(), g.ID)
	if err != nil {
		return false
	}
	return ok
}
