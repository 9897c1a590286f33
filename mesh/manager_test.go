package mesh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"meshlink/handshake"
	"meshlink/transport"
)

func newTestManager(t *testing.T, net *transport.MemNetwork) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		Dialer: net.Dialer(),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

// link runs the full out-of-band exchange: a offers, b answers, a accepts.
func link(t *testing.T, a, b *Manager) {
	t.Helper()
	ctx := context.Background()
	_, offerText, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	_, answerText, err := b.AcceptOffer(ctx, offerText)
	require.NoError(t, err)
	require.NoError(t, a.AcceptAnswer(answerText))
}

func TestNewManagerRequiresDialer(t *testing.T) {
	_, err := NewManager(Config{})
	assert.ErrorIs(t, err, transport.ErrTransportUnavailable)
}

func TestOfferAnswerScenario(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestManager(t, net)
	b := newTestManager(t, net)

	var aSaw, bSaw []string
	a.OnConnect(func(peerID string, info ConnectionInfo) {
		aSaw = append(aSaw, peerID)
		assert.Equal(t, StateConnected, info.State)
		assert.False(t, info.ConnectedAt.IsZero())
	})
	b.OnConnect(func(peerID string, _ ConnectionInfo) { bSaw = append(bSaw, peerID) })

	link(t, a, b)

	assert.True(t, a.IsConnectedTo(b.PeerID()))
	assert.True(t, b.IsConnectedTo(a.PeerID()))
	assert.Equal(t, []string{b.PeerID()}, aSaw)
	assert.Equal(t, []string{a.PeerID()}, bSaw)
	assert.Equal(t, []string{b.PeerID()}, a.ConnectedPeers())
	assert.Equal(t, 1, a.ConnectionCount())

	info, ok := a.GetConnection(b.PeerID())
	require.True(t, ok)
	assert.Equal(t, b.PeerID(), info.PeerID)
	assert.Equal(t, StateConnected, info.State)
}

func TestCreateOfferAlreadyPending(t *testing.T) {
	a := newTestManager(t, transport.NewMemNetwork())
	ctx := context.Background()

	_, _, err := a.CreateOffer(ctx)
	require.NoError(t, err)

	_, _, err = a.CreateOffer(ctx)
	assert.ErrorIs(t, err, ErrAlreadyPending)
}

func TestCancelPendingOffer(t *testing.T) {
	a := newTestManager(t, transport.NewMemNetwork())
	ctx := context.Background()

	a.CancelPendingOffer() // nothing pending: no-op

	_, _, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	a.CancelPendingOffer()

	_, _, err = a.CreateOffer(ctx)
	assert.NoError(t, err)
}

func TestAcceptAnswerWithoutOffer(t *testing.T) {
	a := newTestManager(t, transport.NewMemNetwork())

	text, err := handshake.Encode(handshake.NewAnswer("some-sdp", "peer-x"))
	require.NoError(t, err)

	assert.ErrorIs(t, a.AcceptAnswer(text), ErrNoPendingOffer)
}

func TestAcceptOfferRejectsBadInput(t *testing.T) {
	a := newTestManager(t, transport.NewMemNetwork())
	ctx := context.Background()

	_, _, err := a.AcceptOffer(ctx, "scanned garbage")
	assert.ErrorIs(t, err, ErrInvalidOffer)
	assert.ErrorIs(t, err, handshake.ErrMalformedPayload)

	answerText, err := handshake.Encode(handshake.NewAnswer("sdp", "peer-x"))
	require.NoError(t, err)
	_, _, err = a.AcceptOffer(ctx, answerText)
	assert.ErrorIs(t, err, ErrInvalidOffer)
	assert.ErrorIs(t, err, handshake.ErrWrongHandshakeType)

	// A node must not answer its own offer.
	_, offerText, err := a.CreateOffer(ctx)
	require.NoError(t, err)
	_, _, err = a.AcceptOffer(ctx, offerText)
	assert.ErrorIs(t, err, ErrInvalidOffer)
}

func TestAcceptAnswerRejectsBadInput(t *testing.T) {
	a := newTestManager(t, transport.NewMemNetwork())

	err := a.AcceptAnswer("not an answer")
	assert.ErrorIs(t, err, ErrInvalidAnswer)
	assert.ErrorIs(t, err, handshake.ErrMalformedPayload)
}

func TestDuplicatePeerRejected(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestManager(t, net)
	b := newTestManager(t, net)
	link(t, a, b)

	// A second offer from a peer b already tracks must not clobber the
	// existing record.
	_, offerText, err := a.CreateOffer(context.Background())
	require.NoError(t, err)
	_, _, err = b.AcceptOffer(context.Background(), offerText)
	assert.ErrorIs(t, err, ErrDuplicatePeer)
	assert.True(t, b.IsConnectedTo(a.PeerID()))
}

func TestSendAndReceive(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestManager(t, net)
	b := newTestManager(t, net)

	type recv struct {
		payload string
		from    string
	}
	var aGot, bGot []recv
	a.OnMessage(func(payload []byte, from string) { aGot = append(aGot, recv{string(payload), from}) })
	b.OnMessage(func(payload []byte, from string) { bGot = append(bGot, recv{string(payload), from}) })

	link(t, a, b)

	assert.True(t, a.Send(b.PeerID(), []byte("hello")))
	assert.True(t, b.Send(a.PeerID(), []byte("hi back")))

	require.Len(t, bGot, 1)
	assert.Equal(t, recv{"hello", a.PeerID()}, bGot[0])
	require.Len(t, aGot, 1)
	assert.Equal(t, recv{"hi back", b.PeerID()}, aGot[0])
}

func TestSendToUnknownOrUnreadyPeer(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestManager(t, net)
	b := newTestManager(t, net)

	assert.False(t, a.Send("nobody", []byte("x")))

	// b has answered but a has not applied it yet: the record exists in
	// Connecting with no open channel.
	_, offerText, err := a.CreateOffer(context.Background())
	require.NoError(t, err)
	_, _, err = b.AcceptOffer(context.Background(), offerText)
	require.NoError(t, err)

	assert.False(t, b.Send(a.PeerID(), []byte("too early")))
}

func TestBroadcastSkipsLostPeers(t *testing.T) {
	net := transport.NewMemNetwork()
	hub := newTestManager(t, net)
	peers := make([]*Manager, 4)
	for i := range peers {
		peers[i] = newTestManager(t, net)
		link(t, hub, peers[i])
	}

	var dropped []string
	hub.OnDisconnect(func(peerID string) { dropped = append(dropped, peerID) })

	peers[3].Shutdown()

	assert.Equal(t, 3, hub.Broadcast([]byte("fan out")))
	assert.Equal(t, []string{peers[3].PeerID()}, dropped)
	assert.Equal(t, 3, hub.ConnectionCount())
}

func TestCloseConnection(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestManager(t, net)
	b := newTestManager(t, net)
	link(t, a, b)

	var aFired, bFired int
	a.OnDisconnect(func(string) { aFired++ })
	b.OnDisconnect(func(string) { bFired++ })

	a.CloseConnection(b.PeerID())
	a.CloseConnection(b.PeerID()) // second close is a no-op

	assert.Equal(t, 1, aFired)
	assert.Equal(t, 1, bFired)
	assert.False(t, a.IsConnectedTo(b.PeerID()))
	assert.False(t, b.IsConnectedTo(a.PeerID()))
	assert.Empty(t, a.ConnectedPeers())

	_, ok := a.GetConnection(b.PeerID())
	assert.False(t, ok)
}

func TestCloseFromWithinDisconnectHandler(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestManager(t, net)
	b := newTestManager(t, net)
	link(t, a, b)

	fired := 0
	a.OnDisconnect(func(peerID string) {
		fired++
		a.CloseConnection(peerID) // re-entrant close must be safe
	})

	a.CloseConnection(b.PeerID())
	assert.Equal(t, 1, fired)
}

func TestUnsubscribe(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestManager(t, net)
	b := newTestManager(t, net)

	calls := 0
	cancel := a.OnMessage(func([]byte, string) { calls++ })

	link(t, a, b)
	require.True(t, b.Send(a.PeerID(), []byte("one")))
	cancel()
	require.True(t, b.Send(a.PeerID(), []byte("two")))

	assert.Equal(t, 1, calls)
}

func TestShutdown(t *testing.T) {
	net := transport.NewMemNetwork()
	a := newTestManager(t, net)
	b := newTestManager(t, net)
	link(t, a, b)

	bSawDrop := 0
	b.OnDisconnect(func(string) { bSawDrop++ })

	a.Shutdown()
	a.Shutdown() // idempotent

	assert.Equal(t, 1, bSawDrop)
	assert.Empty(t, a.ConnectedPeers())
	assert.False(t, b.IsConnectedTo(a.PeerID()))

	_, _, err := a.CreateOffer(context.Background())
	assert.ErrorIs(t, err, ErrManagerClosed)
	_, _, err = a.AcceptOffer(context.Background(), "whatever")
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.ErrorIs(t, a.AcceptAnswer("whatever"), ErrManagerClosed)
	assert.False(t, a.Send(b.PeerID(), []byte("x")))
	assert.Zero(t, a.Broadcast([]byte("x")))
}

func TestManagerTopology(t *testing.T) {
	net := transport.NewMemNetwork()
	m, err := NewManager(Config{
		Dialer:        net.Dialer(),
		TopologyMode:  ModeAuto,
		PeerThreshold: 2,
		Logger:        zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)

	d := m.Topology()
	assert.False(t, d.UsesHubSpoke)
	assert.Zero(t, d.ConnectionCount)

	for i := 0; i < 3; i++ {
		peer := newTestManager(t, net)
		link(t, m, peer)
	}
	d = m.Topology()
	assert.True(t, d.UsesHubSpoke)
	assert.Equal(t, 3, d.ConnectionCount)
}
