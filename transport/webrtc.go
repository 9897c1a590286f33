package transport

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// WebRTCDialer builds connection handles backed by pion WebRTC.
type WebRTCDialer struct{}

// NewWebRTCDialer returns a dialer using the default pion engine.
func NewWebRTCDialer() *WebRTCDialer {
	return &WebRTCDialer{}
}

func (d *WebRTCDialer) Dial(cfg Config) (Conn, error) {
	servers := make([]webrtc.ICEServer, 0, len(cfg.Relays))
	for _, r := range cfg.Relays {
		servers = append(servers, webrtc.ICEServer{
			URLs:       r.URLs,
			Username:   r.Username,
			Credential: r.Credential,
		})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	return &webrtcConn{
		pc:       pc,
		gathered: webrtc.GatheringCompletePromise(pc),
	}, nil
}

type webrtcConn struct {
	pc       *webrtc.PeerConnection
	gathered <-chan struct{}
}

func (c *webrtcConn) CreateOffer() (string, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (c *webrtcConn) CreateAnswer(remoteOffer string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: remoteOffer}
	if err := c.pc.SetRemoteDescription(remote); err != nil {
		return "", err
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (c *webrtcConn) AcceptAnswer(remoteAnswer string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: remoteAnswer}
	return c.pc.SetRemoteDescription(remote)
}

func (c *webrtcConn) LocalDescription() string {
	if desc := c.pc.LocalDescription(); desc != nil {
		return desc.SDP
	}
	return ""
}

func (c *webrtcConn) GatheringComplete() <-chan struct{} {
	return c.gathered
}

func (c *webrtcConn) OpenChannel(label string) (Channel, error) {
	dc, err := c.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return &webrtcChannel{dc: dc}, nil
}

func (c *webrtcConn) OnChannel(fn func(Channel)) {
	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		fn(&webrtcChannel{dc: dc})
	})
}

func (c *webrtcConn) OnStateChange(fn func(State)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(mapState(s))
	})
}

func (c *webrtcConn) Close() error {
	return c.pc.Close()
}

func mapState(s webrtc.PeerConnectionState) State {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return StateNew
	case webrtc.PeerConnectionStateConnecting:
		return StateConnecting
	case webrtc.PeerConnectionStateConnected:
		return StateConnected
	case webrtc.PeerConnectionStateDisconnected:
		return StateDisconnected
	case webrtc.PeerConnectionStateFailed:
		return StateFailed
	default:
		return StateClosed
	}
}

type webrtcChannel struct {
	dc *webrtc.DataChannel

	mu sync.Mutex
}

func (ch *webrtcChannel) Label() string { return ch.dc.Label() }

func (ch *webrtcChannel) Open() bool {
	return ch.dc.ReadyState() == webrtc.DataChannelStateOpen
}

func (ch *webrtcChannel) Send(payload []byte) error {
	if !ch.Open() {
		return ErrConnClosed
	}
	return ch.dc.Send(payload)
}

// OnOpen fires fn immediately when the channel is already open, which pion
// does not do for handlers registered after the open event.
func (ch *webrtcChannel) OnOpen(fn func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.Open() {
		go fn()
		return
	}
	ch.dc.OnOpen(fn)
}

func (ch *webrtcChannel) OnMessage(fn func(data []byte)) {
	ch.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		fn(msg.Data)
	})
}

func (ch *webrtcChannel) OnClose(fn func()) {
	ch.dc.OnClose(fn)
}

func (ch *webrtcChannel) Close() error {
	return ch.dc.Close()
}
