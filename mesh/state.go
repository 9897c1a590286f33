package mesh

// ConnState tracks a connection record through its lifecycle:
// New -> Connecting -> Connected -> Disconnected | Failed. The two terminal
// states only ever lead to removal from the registry. A record may jump
// straight to Connected when the channel is already open at registration.
type ConnState uint8

const (
	StateNew ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is valid from s.
func (s ConnState) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}
