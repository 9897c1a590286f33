package mesh

import "sync"

// MessageHandler receives a payload delivered by a peer.
type MessageHandler func(payload []byte, fromPeerID string)

// ConnectHandler fires once when a peer's data channel opens.
type ConnectHandler func(peerID string, info ConnectionInfo)

// DisconnectHandler fires once when a peer's record reaches a terminal
// state or is explicitly closed.
type DisconnectHandler func(peerID string)

type handlerEntry[T any] struct {
	id uint64
	fn T
}

// handlerSet is an ordered set of event handlers. Registration returns an
// unsubscribe func that removes exactly that handler. Invocation goes
// through a snapshot so handlers may re-enter the manager.
type handlerSet[T any] struct {
	mu      sync.Mutex
	seq     uint64
	entries []handlerEntry[T]
}

func (s *handlerSet[T]) add(fn T) func() {
	s.mu.Lock()
	s.seq++
	id := s.seq
	s.entries = append(s.entries, handlerEntry[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, e := range s.entries {
			if e.id == id {
				s.entries = append(s.entries[:i], s.entries[i+1:]...)
				return
			}
		}
	}
}

// snapshot returns the handlers in registration order.
func (s *handlerSet[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]T, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.fn
	}
	return out
}

func (s *handlerSet[T]) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
