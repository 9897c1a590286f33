// Package mesh implements the direct connection manager: offer/answer
// exchange over an out-of-band channel, per-peer connection lifecycle,
// message transport and fan-out, and the mesh/hub-spoke topology policy.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"meshlink/handshake"
	"meshlink/transport"
)

// ProtocolVersion is stamped into every offer this node creates.
const ProtocolVersion = "1.0"

const (
	// DefaultGatherTimeout bounds the wait for candidate gathering before
	// a handshake is handed to the caller with whatever paths were found.
	DefaultGatherTimeout = 5 * time.Second

	// DefaultChannelLabel names the data channel opened on every link.
	DefaultChannelLabel = "mesh-data"

	// DefaultPeerThreshold is the auto-mode peer count above which the
	// topology policy recommends hub-spoke.
	DefaultPeerThreshold = 10
)

// Config configures a Manager. Dialer is required; everything else has a
// usable default.
type Config struct {
	Dialer        transport.Dialer
	Relays        []transport.RelayServer
	GatherTimeout time.Duration
	ChannelLabel  string
	TopologyMode  TopologyMode
	PeerThreshold int
	Logger        *zap.Logger
}

// Manager owns the connection registry and exposes the public operations.
// Construct one per node; after Shutdown it cannot be reused.
type Manager struct {
	cfg    Config
	peerID string
	log    *zap.Logger
	reg    *registry

	onMessage    handlerSet[MessageHandler]
	onConnect    handlerSet[ConnectHandler]
	onDisconnect handlerSet[DisconnectHandler]

	done     chan struct{}
	doneOnce sync.Once
}

// NewManager builds a manager with a fresh peer identity.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dialer == nil {
		return nil, fmt.Errorf("%w: no dialer configured", transport.ErrTransportUnavailable)
	}
	if cfg.GatherTimeout <= 0 {
		cfg.GatherTimeout = DefaultGatherTimeout
	}
	if cfg.ChannelLabel == "" {
		cfg.ChannelLabel = DefaultChannelLabel
	}
	if cfg.TopologyMode == "" {
		cfg.TopologyMode = ModeAuto
	}
	if cfg.PeerThreshold <= 0 {
		cfg.PeerThreshold = DefaultPeerThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	m := &Manager{
		cfg:    cfg,
		peerID: uuid.NewString(),
		reg:    newRegistry(),
		done:   make(chan struct{}),
	}
	m.log = cfg.Logger.With(zap.String("self", m.peerID))
	return m, nil
}

// PeerID returns this node's identity, generated at construction.
func (m *Manager) PeerID() string { return m.peerID }

// CreateOffer starts an outbound handshake. The data channel is opened
// before the offer is produced (the transport requires the channel to be
// negotiated into it), then the call waits for candidate gathering or the
// configured timeout. At most one offer may be in flight.
func (m *Manager) CreateOffer(ctx context.Context) (handshake.Handshake, string, error) {
	if m.isClosed() {
		return handshake.Handshake{}, "", ErrManagerClosed
	}
	rec, err := m.reg.reservePending()
	if err != nil {
		return handshake.Handshake{}, "", err
	}

	conn, err := m.cfg.Dialer.Dial(transport.Config{Relays: m.cfg.Relays})
	if err != nil {
		m.teardown(rec, StateFailed)
		return handshake.Handshake{}, "", fmt.Errorf("dial: %w", err)
	}
	m.reg.attach(rec, conn, nil)
	m.monitorConn(rec, conn)

	ch, err := conn.OpenChannel(m.cfg.ChannelLabel)
	if err != nil {
		m.teardown(rec, StateFailed)
		return handshake.Handshake{}, "", fmt.Errorf("open channel: %w", err)
	}
	m.reg.attach(rec, nil, ch)
	m.watchChannel(rec, ch)

	if _, err := conn.CreateOffer(); err != nil {
		m.teardown(rec, StateFailed)
		return handshake.Handshake{}, "", fmt.Errorf("create offer: %w", err)
	}
	m.waitForGathering(ctx, conn)

	h := handshake.NewOffer(conn.LocalDescription(), m.peerID, ProtocolVersion)
	text, err := handshake.Encode(h)
	if err != nil {
		m.teardown(rec, StateFailed)
		return handshake.Handshake{}, "", err
	}
	m.log.Info("offer created")
	return h, text, nil
}

// AcceptOffer takes a remote peer's encoded offer and produces the local
// answer. The record is stored under the offer's peer identity.
func (m *Manager) AcceptOffer(ctx context.Context, encoded string) (handshake.Handshake, string, error) {
	if m.isClosed() {
		return handshake.Handshake{}, "", ErrManagerClosed
	}
	offer, err := handshake.DecodeOffer(encoded)
	if err != nil {
		return handshake.Handshake{}, "", errors.Join(ErrInvalidOffer, err)
	}
	if offer.PeerID == m.peerID {
		return handshake.Handshake{}, "", fmt.Errorf("%w: offer from self", ErrInvalidOffer)
	}

	conn, err := m.cfg.Dialer.Dial(transport.Config{Relays: m.cfg.Relays})
	if err != nil {
		return handshake.Handshake{}, "", fmt.Errorf("dial: %w", err)
	}
	rec, err := m.reg.add(offer.PeerID, conn)
	if err != nil {
		_ = conn.Close()
		return handshake.Handshake{}, "", err
	}
	m.monitorConn(rec, conn)

	// The offer's creator opens the channel; pick it up when it arrives.
	conn.OnChannel(func(ch transport.Channel) {
		m.reg.attach(rec, nil, ch)
		m.watchChannel(rec, ch)
	})

	if _, err := conn.CreateAnswer(offer.SDP); err != nil {
		m.teardown(rec, StateFailed)
		return handshake.Handshake{}, "", errors.Join(ErrInvalidOffer, err)
	}
	m.waitForGathering(ctx, conn)

	answer := handshake.NewAnswer(conn.LocalDescription(), m.peerID)
	text, err := handshake.Encode(answer)
	if err != nil {
		m.teardown(rec, StateFailed)
		return handshake.Handshake{}, "", err
	}
	m.log.Info("offer accepted", zap.String("peer", offer.PeerID))
	return answer, text, nil
}

// AcceptAnswer resolves the pending offer with a remote peer's encoded
// answer, re-keying the record to that peer's identity.
func (m *Manager) AcceptAnswer(encoded string) error {
	if m.isClosed() {
		return ErrManagerClosed
	}
	answer, err := handshake.DecodeAnswer(encoded)
	if err != nil {
		return errors.Join(ErrInvalidAnswer, err)
	}
	rec, err := m.reg.resolvePending(answer.PeerID)
	if err != nil {
		return err
	}
	conn, _ := m.reg.handles(rec)
	if conn == nil {
		m.teardown(rec, StateFailed)
		return fmt.Errorf("%w: offer has no transport handle", ErrNoPendingOffer)
	}
	if err := conn.AcceptAnswer(answer.SDP); err != nil {
		m.teardown(rec, StateFailed)
		return errors.Join(ErrInvalidAnswer, err)
	}
	m.log.Info("answer accepted", zap.String("peer", answer.PeerID))
	return nil
}

// Send delivers payload to one peer. Returns false when the peer is
// unknown or its channel is not open; connection loss is an expected
// condition, never an error.
func (m *Manager) Send(peerID string, payload []byte) bool {
	if m.isClosed() {
		return false
	}
	ch := m.reg.sendHandles(peerID)
	if ch == nil || !ch.Open() {
		return false
	}
	frame, err := encodeEnvelope(m.peerID, payload)
	if err != nil {
		return false
	}
	if err := ch.Send(frame); err != nil {
		m.log.Debug("send failed", zap.String("peer", peerID), zap.Error(err))
		return false
	}
	return true
}

// Broadcast sends payload to every resolved peer and returns how many
// sends succeeded. The pending slot is never included.
func (m *Manager) Broadcast(payload []byte) int {
	sent := 0
	for _, peerID := range m.reg.peers() {
		if m.Send(peerID, payload) {
			sent++
		}
	}
	return sent
}

// CloseConnection tears down the link to peerID: channel first, then the
// transport handle, then the disconnection handlers. Closing an unknown
// peer is a no-op.
func (m *Manager) CloseConnection(peerID string) {
	rec := m.reg.get(peerID)
	if rec == nil {
		return
	}
	m.teardown(rec, StateDisconnected)
}

// CancelPendingOffer discards the in-flight offer, if any. No
// disconnection handlers fire; the slot never had a resolved identity.
func (m *Manager) CancelPendingOffer() {
	rec := m.reg.pendingRecord()
	if rec == nil {
		return
	}
	m.teardown(rec, StateDisconnected)
	m.log.Debug("pending offer cancelled")
}

// CloseAll tears down every tracked connection including the pending slot.
func (m *Manager) CloseAll() {
	for _, rec := range m.reg.drain() {
		m.teardown(rec, StateDisconnected)
	}
}

// IsConnectedTo reports whether peerID has an open data channel.
func (m *Manager) IsConnectedTo(peerID string) bool {
	rec := m.reg.get(peerID)
	return rec != nil && m.reg.info(rec).State == StateConnected
}

// GetConnection returns a snapshot of the record for peerID.
func (m *Manager) GetConnection(peerID string) (ConnectionInfo, bool) {
	rec := m.reg.get(peerID)
	if rec == nil {
		return ConnectionInfo{}, false
	}
	return m.reg.info(rec), true
}

// ConnectedPeers lists peers whose data channels are open.
func (m *Manager) ConnectedPeers() []string {
	return m.reg.connectedPeers()
}

// ConnectionCount is the number of resolved connection records.
func (m *Manager) ConnectionCount() int {
	return m.reg.count()
}

// Topology recomputes the topology recommendation for the current peer
// count under the configured mode and threshold.
func (m *Manager) Topology() TopologyDecision {
	return DecideTopology(m.cfg.TopologyMode, m.reg.count(), m.cfg.PeerThreshold)
}

// OnMessage subscribes to payloads from all peers. The returned func
// removes the handler.
func (m *Manager) OnMessage(h MessageHandler) func() {
	return m.onMessage.add(h)
}

// OnConnect subscribes to data-channel-open events, fired once per peer.
func (m *Manager) OnConnect(h ConnectHandler) func() {
	return m.onConnect.add(h)
}

// OnDisconnect subscribes to terminal-state and explicit-close events,
// fired once per peer.
func (m *Manager) OnDisconnect(h DisconnectHandler) func() {
	return m.onDisconnect.add(h)
}

// Shutdown closes every connection and clears all handler sets. It never
// fails; individual teardown errors are logged and skipped. The manager
// must be re-constructed before reuse.
func (m *Manager) Shutdown() {
	m.doneOnce.Do(func() {
		close(m.done)
		m.CloseAll()
		m.onMessage.clear()
		m.onConnect.clear()
		m.onDisconnect.clear()
		m.log.Info("manager shut down")
	})
}

func (m *Manager) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// waitForGathering blocks until the transport finishes gathering, the
// configured timeout elapses, or ctx is cancelled. Timing out is not an
// error: the local description is used with the candidates found so far.
func (m *Manager) waitForGathering(ctx context.Context, conn transport.Conn) {
	timer := time.NewTimer(m.cfg.GatherTimeout)
	defer timer.Stop()
	select {
	case <-conn.GatheringComplete():
	case <-timer.C:
		m.log.Debug("gathering timed out, proceeding with partial candidates",
			zap.Duration("timeout", m.cfg.GatherTimeout))
	case <-ctx.Done():
	}
}

// monitorConn routes transport state changes into record lifecycle. The
// Connected state is driven by channel open, not the transport signal.
func (m *Manager) monitorConn(rec *Connection, conn transport.Conn) {
	conn.OnStateChange(func(s transport.State) {
		switch s {
		case transport.StateDisconnected, transport.StateClosed:
			m.teardown(rec, StateDisconnected)
		case transport.StateFailed:
			m.teardown(rec, StateFailed)
		}
	})
}

// watchChannel wires a data channel into the record. OnOpen is registered
// last: it may fire immediately for an already-open channel and the other
// callbacks must be in place by then.
func (m *Manager) watchChannel(rec *Connection, ch transport.Channel) {
	ch.OnMessage(func(data []byte) {
		env, err := decodeEnvelope(data)
		if err != nil {
			m.log.Debug("dropping undecodable frame", zap.Error(err))
			return
		}
		for _, h := range m.onMessage.snapshot() {
			h(env.Body, env.From)
		}
	})
	ch.OnClose(func() {
		m.teardown(rec, StateDisconnected)
	})
	ch.OnOpen(func() {
		info, fire := m.reg.markConnected(rec)
		if !fire {
			return
		}
		m.log.Info("peer connected", zap.String("peer", info.PeerID))
		for _, h := range m.onConnect.snapshot() {
			h(info.PeerID, info)
		}
	})
}

// teardown drives rec to a terminal state exactly once: unregister, release
// the channel then the transport handle, then notify. Safe to call from
// event handlers for the same peer; repeat calls are no-ops.
func (m *Manager) teardown(rec *Connection, state ConnState) {
	peerID, first, fire := m.reg.terminate(rec, state)
	if !first {
		return
	}
	conn, ch := m.reg.handles(rec)
	var errs error
	if ch != nil {
		errs = multierr.Append(errs, ch.Close())
	}
	if conn != nil {
		errs = multierr.Append(errs, conn.Close())
	}
	if errs != nil {
		m.log.Warn("teardown errors", zap.String("peer", peerID), zap.Error(errs))
	}
	if fire {
		m.log.Info("peer disconnected", zap.String("peer", peerID), zap.String("state", state.String()))
		for _, h := range m.onDisconnect.snapshot() {
			h(peerID)
		}
	}
}
