package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialPair(t *testing.T) (Conn, Conn) {
	t.Helper()
	net := NewMemNetwork()
	a, err := net.Dialer().Dial(Config{})
	require.NoError(t, err)
	b, err := net.Dialer().Dial(Config{})
	require.NoError(t, err)
	return a, b
}

func TestMemOfferAnswerFlow(t *testing.T) {
	a, b := dialPair(t)

	outbound, err := a.OpenChannel("data")
	require.NoError(t, err)
	assert.False(t, outbound.Open())

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	<-a.GatheringComplete()
	assert.Equal(t, offer, a.LocalDescription())

	var inbound Channel
	b.OnChannel(func(ch Channel) { inbound = ch })

	answer, err := b.CreateAnswer(offer)
	require.NoError(t, err)
	<-b.GatheringComplete()

	var aStates, bStates []State
	a.OnStateChange(func(s State) { aStates = append(aStates, s) })
	b.OnStateChange(func(s State) { bStates = append(bStates, s) })

	require.NoError(t, a.AcceptAnswer(answer))

	require.NotNil(t, inbound)
	assert.Equal(t, "data", inbound.Label())
	assert.True(t, outbound.Open())
	assert.True(t, inbound.Open())
	assert.Contains(t, aStates, StateConnected)
	assert.Contains(t, bStates, StateConnected)
}

func TestMemSendBothDirections(t *testing.T) {
	a, b := dialPair(t)

	out, err := a.OpenChannel("data")
	require.NoError(t, err)
	offer, err := a.CreateOffer()
	require.NoError(t, err)

	var in Channel
	b.OnChannel(func(ch Channel) { in = ch })
	answer, err := b.CreateAnswer(offer)
	require.NoError(t, err)

	var got []string
	require.NoError(t, a.AcceptAnswer(answer))
	in.OnMessage(func(data []byte) { got = append(got, "b:"+string(data)) })
	out.OnMessage(func(data []byte) { got = append(got, "a:"+string(data)) })

	require.NoError(t, out.Send([]byte("ping")))
	require.NoError(t, in.Send([]byte("pong")))
	assert.Equal(t, []string{"b:ping", "a:pong"}, got)
}

func TestMemSendBeforeLinkFails(t *testing.T) {
	a, _ := dialPair(t)
	ch, err := a.OpenChannel("data")
	require.NoError(t, err)
	_, err = a.CreateOffer()
	require.NoError(t, err)

	assert.ErrorIs(t, ch.Send([]byte("x")), ErrConnClosed)
}

func TestMemAnswerValidation(t *testing.T) {
	a, b := dialPair(t)

	_, err := b.CreateAnswer("no-such-offer")
	assert.Error(t, err)

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	_, err = b.CreateAnswer(offer)
	require.NoError(t, err)

	assert.Error(t, a.AcceptAnswer("no-such-answer"))
	assert.Error(t, a.AcceptAnswer(offer)) // an offer token is not an answer
}

func TestMemCloseNotifiesRemote(t *testing.T) {
	a, b := dialPair(t)

	out, err := a.OpenChannel("data")
	require.NoError(t, err)
	offer, err := a.CreateOffer()
	require.NoError(t, err)
	var in Channel
	b.OnChannel(func(ch Channel) { in = ch })
	answer, err := b.CreateAnswer(offer)
	require.NoError(t, err)
	require.NoError(t, a.AcceptAnswer(answer))

	var bStates []State
	b.OnStateChange(func(s State) { bStates = append(bStates, s) })
	closed := false
	in.OnClose(func() { closed = true })

	require.NoError(t, a.Close())

	assert.True(t, closed)
	assert.False(t, out.Open())
	assert.False(t, in.Open())
	assert.Contains(t, bStates, StateDisconnected)

	// Idempotent.
	require.NoError(t, a.Close())
}
