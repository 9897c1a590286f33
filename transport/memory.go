package transport

import (
	"fmt"
	"sync"
)

// MemNetwork links connection handles in-process through the same
// offer/answer text flow as the WebRTC implementation. Descriptions are
// opaque tokens registered on the network; applying a remote answer pairs
// the two handles and opens the offerer's channels on both sides.
// Delivery is synchronous and ordered.
type MemNetwork struct {
	mu    sync.Mutex
	seq   int
	conns map[string]*memConn
}

func NewMemNetwork() *MemNetwork {
	return &MemNetwork{conns: make(map[string]*memConn)}
}

// Dialer returns a Dialer producing handles on this network.
func (n *MemNetwork) Dialer() Dialer {
	return memDialer{n: n}
}

type memDialer struct {
	n *MemNetwork
}

func (d memDialer) Dial(Config) (Conn, error) {
	return &memConn{
		n:        d.n,
		state:    StateNew,
		gathered: make(chan struct{}),
	}, nil
}

type memConn struct {
	n *MemNetwork

	mu        sync.Mutex
	state     State
	localDesc string
	remote    *memConn // offerer this conn answered, set on CreateAnswer
	peer      *memConn // set once linked
	channels  []*memChannel
	stateFn   func(State)
	chanFn    func(Channel)
	closed    bool

	gathered     chan struct{}
	gatheredOnce sync.Once
}

func (c *memConn) register(kind string) string {
	c.n.mu.Lock()
	defer c.n.mu.Unlock()
	c.n.seq++
	token := fmt.Sprintf("mem-%s-%d", kind, c.n.seq)
	c.n.conns[token] = c
	return token
}

func (c *memConn) CreateOffer() (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrConnClosed
	}
	c.mu.Unlock()

	token := c.register("offer")
	c.mu.Lock()
	c.localDesc = token
	c.mu.Unlock()
	c.gatheredOnce.Do(func() { close(c.gathered) })
	return token, nil
}

func (c *memConn) CreateAnswer(remoteOffer string) (string, error) {
	c.n.mu.Lock()
	offerer, ok := c.n.conns[remoteOffer]
	c.n.mu.Unlock()
	if !ok || offerer == c {
		return "", fmt.Errorf("unknown offer description %q", remoteOffer)
	}

	token := c.register("answer")
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrConnClosed
	}
	c.localDesc = token
	c.remote = offerer
	c.mu.Unlock()
	c.gatheredOnce.Do(func() { close(c.gathered) })
	c.setState(StateConnecting)
	return token, nil
}

func (c *memConn) AcceptAnswer(remoteAnswer string) error {
	c.n.mu.Lock()
	answerer, ok := c.n.conns[remoteAnswer]
	c.n.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown answer description %q", remoteAnswer)
	}
	answerer.mu.Lock()
	matched := answerer.remote == c && !answerer.closed
	answerer.mu.Unlock()
	if !matched {
		return fmt.Errorf("answer %q does not match this offer", remoteAnswer)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrConnClosed
	}
	c.peer = answerer
	chans := append([]*memChannel(nil), c.channels...)
	c.mu.Unlock()

	// Mirror each channel the offerer opened before the offer, hand it to
	// the answerer, then open both ends.
	mirrors := make([]*memChannel, len(chans))
	answerer.mu.Lock()
	answerer.peer = c
	deliver := answerer.chanFn
	for i, ch := range chans {
		mirrors[i] = &memChannel{conn: answerer, label: ch.label}
		answerer.channels = append(answerer.channels, mirrors[i])
	}
	answerer.mu.Unlock()

	c.setState(StateConnecting)

	for i, ch := range chans {
		mirror := mirrors[i]
		ch.mu.Lock()
		ch.peer = mirror
		ch.mu.Unlock()
		mirror.mu.Lock()
		mirror.peer = ch
		mirror.mu.Unlock()
		if deliver != nil {
			deliver(mirror)
		}
		ch.setOpen()
		mirror.setOpen()
	}

	c.setState(StateConnected)
	answerer.setState(StateConnected)
	return nil
}

func (c *memConn) LocalDescription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localDesc
}

func (c *memConn) GatheringComplete() <-chan struct{} {
	return c.gathered
}

func (c *memConn) OpenChannel(label string) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrConnClosed
	}
	ch := &memChannel{conn: c, label: label}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *memConn) OnChannel(fn func(Channel)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chanFn = fn
}

func (c *memConn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateFn = fn
}

func (c *memConn) setState(s State) {
	c.mu.Lock()
	if c.closed && s != StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.stateFn
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *memConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	peer := c.peer
	c.peer = nil
	chans := append([]*memChannel(nil), c.channels...)
	c.mu.Unlock()

	for _, ch := range chans {
		ch.Close()
	}
	c.setState(StateClosed)
	if peer != nil {
		// The remote side observes a clean disconnect.
		peer.setState(StateDisconnected)
	}
	return nil
}

type memChannel struct {
	conn  *memConn
	label string

	mu        sync.Mutex
	open      bool
	peer      *memChannel
	onOpen    func()
	onMessage func([]byte)
	onClose   func()
}

func (ch *memChannel) Label() string { return ch.label }

func (ch *memChannel) Open() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.open
}

func (ch *memChannel) setOpen() {
	ch.mu.Lock()
	if ch.open {
		ch.mu.Unlock()
		return
	}
	ch.open = true
	fn := ch.onOpen
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (ch *memChannel) Send(payload []byte) error {
	ch.mu.Lock()
	open := ch.open
	peer := ch.peer
	ch.mu.Unlock()
	if !open || peer == nil {
		return ErrConnClosed
	}
	peer.mu.Lock()
	deliver := peer.onMessage
	peer.mu.Unlock()
	if deliver != nil {
		buf := make([]byte, len(payload))
		copy(buf, payload)
		deliver(buf)
	}
	return nil
}

func (ch *memChannel) OnOpen(fn func()) {
	ch.mu.Lock()
	open := ch.open
	if !open {
		ch.onOpen = fn
	}
	ch.mu.Unlock()
	if open {
		fn()
	}
}

func (ch *memChannel) OnMessage(fn func(data []byte)) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onMessage = fn
}

func (ch *memChannel) OnClose(fn func()) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.onClose = fn
}

func (ch *memChannel) Close() error {
	ch.mu.Lock()
	if !ch.open {
		ch.mu.Unlock()
		return nil
	}
	ch.open = false
	peer := ch.peer
	fn := ch.onClose
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
	if peer != nil {
		peer.closeFromPeer()
	}
	return nil
}

func (ch *memChannel) closeFromPeer() {
	ch.mu.Lock()
	if !ch.open {
		ch.mu.Unlock()
		return
	}
	ch.open = false
	fn := ch.onClose
	ch.mu.Unlock()
	if fn != nil {
		fn()
	}
}
