// Package transport abstracts the point-to-point connection primitive the
// connection manager runs on. The production implementation wraps pion
// WebRTC; MemNetwork provides an in-process implementation with the same
// offer/answer flow for tests and loopback demos.
package transport

import "errors"

var (
	// ErrTransportUnavailable is returned when a connection handle cannot
	// be constructed at all (capability missing or denied).
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrConnClosed is returned from operations on a closed handle.
	ErrConnClosed = errors.New("transport connection closed")
)

// RelayServer is a rendezvous-assist server (STUN/TURN) the transport may
// use while gathering reachable paths.
type RelayServer struct {
	URLs       []string
	Username   string
	Credential string
}

// Config carries per-connection transport settings.
type Config struct {
	Relays []RelayServer
}

// State mirrors the underlying connection's lifecycle.
type State uint8

const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateFailed
	StateClosed
)

func (s State) String() string {
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
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Dialer constructs connection handles.
type Dialer interface {
	Dial(cfg Config) (Conn, error)
}

// Conn is a single point-to-point connection handle.
//
// The offerer side calls OpenChannel before CreateOffer (the channel must be
// negotiated into the offer), then AcceptAnswer once the remote answer
// arrives. The answerer side registers OnChannel, then calls CreateAnswer
// with the remote offer. Both sides should wait on GatheringComplete before
// reading LocalDescription so it includes discovered candidates.
type Conn interface {
	// CreateOffer produces and applies the local offer description.
	CreateOffer() (string, error)
	// CreateAnswer applies the remote offer and produces and applies the
	// local answer description.
	CreateAnswer(remoteOffer string) (string, error)
	// AcceptAnswer applies the remote answer on the offering side.
	AcceptAnswer(remoteAnswer string) error
	// LocalDescription returns the current local description, including
	// any candidates gathered so far.
	LocalDescription() string
	// GatheringComplete is closed once candidate gathering finishes.
	GatheringComplete() <-chan struct{}
	// OpenChannel opens an outbound data channel.
	OpenChannel(label string) (Channel, error)
	// OnChannel registers the callback for inbound data channels.
	OnChannel(fn func(Channel))
	// OnStateChange registers the callback for connection state changes.
	OnStateChange(fn func(State))
	Close() error
}

// Channel is an ordered, reliable data channel on top of a Conn.
// If the channel is already open when OnOpen is registered, the callback
// fires immediately.
type Channel interface {
	Label() string
	Open() bool
	Send(payload []byte) error
	OnOpen(fn func())
	OnMessage(fn func(data []byte))
	OnClose(fn func())
	Close() error
}
