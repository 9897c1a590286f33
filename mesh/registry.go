package mesh

import (
	"fmt"
	"sync"
	"time"

	"meshlink/transport"
)

// Connection is the tracked record for one peer link. All fields are owned
// by the registry; other components read them through ConnectionInfo
// snapshots.
type Connection struct {
	peerID      string // empty while the record sits in the pending slot
	conn        transport.Conn
	channel     transport.Channel
	state       ConnState
	createdAt   time.Time
	connectedAt time.Time

	connectFired bool
	notified     bool
}

// ConnectionInfo is a read-only snapshot of a Connection.
type ConnectionInfo struct {
	PeerID      string
	State       ConnState
	CreatedAt   time.Time
	ConnectedAt time.Time
}

// registry holds at most one pending record (a locally created offer whose
// remote identity is not yet known) plus the map of resolved connections.
// Keeping the pending slot out of the map removes any chance of key
// collisions with real peer identities.
type registry struct {
	mu      sync.RWMutex
	pending *Connection
	conns   map[string]*Connection
}

func newRegistry() *registry {
	return &registry{conns: make(map[string]*Connection)}
}

// reservePending claims the pending slot. Fails while another offer is in
// flight.
func (r *registry) reservePending() (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil {
		return nil, ErrAlreadyPending
	}
	rec := &Connection{state: StateNew, createdAt: time.Now()}
	r.pending = rec
	return rec, nil
}

// pendingRecord returns the pending record without clearing it, or nil.
func (r *registry) pendingRecord() *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending
}

// resolvePending re-keys the pending record to peerID and moves it into the
// resolved map.
func (r *registry) resolvePending(peerID string) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return nil, ErrNoPendingOffer
	}
	if _, exists := r.conns[peerID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePeer, peerID)
	}
	rec := r.pending
	r.pending = nil
	rec.peerID = peerID
	rec.state = StateConnecting
	r.conns[peerID] = rec
	return rec, nil
}

// add registers a resolved record directly (the answering side, where the
// remote identity is known from the offer).
func (r *registry) add(peerID string, conn transport.Conn) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[peerID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePeer, peerID)
	}
	rec := &Connection{
		peerID:    peerID,
		conn:      conn,
		state:     StateConnecting,
		createdAt: time.Now(),
	}
	r.conns[peerID] = rec
	return rec, nil
}

// attach sets the owned transport handles on a record.
func (r *registry) attach(rec *Connection, conn transport.Conn, ch transport.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn != nil {
		rec.conn = conn
	}
	if ch != nil {
		rec.channel = ch
	}
}

func (r *registry) get(peerID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[peerID]
}

// remove drops the record for peerID, returning it for teardown.
func (r *registry) remove(peerID string) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.conns[peerID]
	delete(r.conns, peerID)
	return rec
}

// markConnected transitions rec to Connected. The second return reports
// whether connection handlers should fire; true at most once per record and
// only once the identity is resolved.
func (r *registry) markConnected(rec *Connection) (ConnectionInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.state.Terminal() || rec.notified {
		return infoLocked(rec), false
	}
	rec.state = StateConnected
	if rec.connectedAt.IsZero() {
		rec.connectedAt = time.Now()
	}
	if rec.peerID == "" || rec.connectFired {
		return infoLocked(rec), false
	}
	rec.connectFired = true
	return infoLocked(rec), true
}

// terminate moves rec into a terminal state and unregisters it. first is
// true only for the call that wins the transition (teardown must run
// once); fire reports whether disconnection handlers should run, which
// excludes records that never resolved an identity.
func (r *registry) terminate(rec *Connection, state ConnState) (peerID string, first, fire bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.notified {
		return rec.peerID, false, false
	}
	rec.notified = true
	rec.state = state
	if r.pending == rec {
		r.pending = nil
	}
	if rec.peerID != "" {
		if cur, ok := r.conns[rec.peerID]; ok && cur == rec {
			delete(r.conns, rec.peerID)
		}
	}
	return rec.peerID, true, rec.peerID != ""
}

// handles returns the owned transport handles for teardown.
func (r *registry) handles(rec *Connection) (transport.Conn, transport.Channel) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return rec.conn, rec.channel
}

func (r *registry) info(rec *Connection) ConnectionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return infoLocked(rec)
}

func infoLocked(rec *Connection) ConnectionInfo {
	return ConnectionInfo{
		PeerID:      rec.peerID,
		State:       rec.state,
		CreatedAt:   rec.createdAt,
		ConnectedAt: rec.connectedAt,
	}
}

// sendHandles returns the channel for peerID if it exists and is open.
func (r *registry) sendHandles(peerID string) transport.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec := r.conns[peerID]
	if rec == nil || rec.channel == nil {
		return nil
	}
	return rec.channel
}

// peers lists all resolved peer identities.
func (r *registry) peers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// connectedPeers lists resolved peers whose records are Connected.
func (r *registry) connectedPeers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.conns))
	for id, rec := range r.conns {
		if rec.state == StateConnected {
			out = append(out, id)
		}
	}
	return out
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// drain empties the registry, returning every record including the pending
// one for teardown.
func (r *registry) drain() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, 0, len(r.conns)+1)
	for id, rec := range r.conns {
		out = append(out, rec)
		delete(r.conns, id)
	}
	if r.pending != nil {
		out = append(out, r.pending)
		r.pending = nil
	}
	return out
}
