package topics

import "strings"

// Address is a cross-broker target, either local ("clientId") or remote
// ("brokerId:clientId"). See spec.md §4.7 and Testable Property 7.
type Address struct {
	BrokerID string // empty if Local
	Local    string // the clientId or group name on that broker
	IsRemote bool
}

// ParseAddress splits s on the first ':'. No colon means a local address.
// A colon with either half empty is invalid (IsRemote false, BrokerID and
// Local both empty) so callers can distinguish "local" from "malformed".
func ParseAddress(s string) (Address, bool) {
	idx := strings.IndexByte(s, ':')
	if idx < 0 {
		return Address{Local: s}, true
	}
	broker, local := s[:idx], s[idx+1:]
	if broker == "" || local == "" {
		return Address{}, false
	}
	return Address{BrokerID: broker, Local: local, IsRemote: true}, true
}

// String renders the address back to its wire form.
func (a Address) String() string {
	if !a.IsRemote {
		return a.Local
	}
	return a.BrokerID + ":" + a.Local
}
