package bridge

// PeerState is a peer bridge client's position in the connection state
// machine from SPEC_FULL.md §4.7.
type PeerState int

const (
	StateDisconnected PeerState = iota
	StateConnecting
	StateConnected
)

func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}
