package streaming

import (
	"context"
	"sync"
)

// MemoryBroker is the default Publisher+Subscriber backend: an in-process
// fan-out keyed by session ID. It does not survive a process restart; use
// NewPulseBroker for that (spec §5 "no ambient singletons" — a session
// holds a handle to whichever broker it was constructed with).
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string][]*memorySubscription
	closed bool
}

// NewMemoryBroker returns an empty MemoryBroker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*memorySubscription)}
}

// Publish fans chunk out to every live subscription for sessionID. A
// subscriber that is not keeping up has its channel write bounded by the
// subscription's buffer; Publish never blocks indefinitely on a slow
// reader, it drops the chunk for that one subscriber instead (spec leaves
// slow-consumer backpressure to the transport, which in-memory has none).
func (b *MemoryBroker) Publish(_ context.Context, sessionID string, chunk Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return chunkErrorf(sessionID, ErrPublisherClosed)
	}
	for _, sub := range b.subs[sessionID] {
		select {
		case sub.ch <- chunk:
		default:
		}
	}
	return nil
}

// Close closes every live subscription and marks the broker closed.
func (b *MemoryBroker) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.ch)
		}
	}
	b.subs = nil
	return nil
}

// Subscribe opens a buffered subscription for sessionID.
func (b *MemoryBroker) Subscribe(_ context.Context, sessionID string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, chunkErrorf(sessionID, ErrPublisherClosed)
	}
	const bufferSize = 64
	sub := &memorySubscription{broker: b, sessionID: sessionID, ch: make(chan Chunk, bufferSize)}
	b.subs[sessionID] = append(b.subs[sessionID], sub)
	return sub, nil
}

type memorySubscription struct {
	broker    *MemoryBroker
	sessionID string
	ch        chan Chunk
	closeOnce sync.Once
}

func (s *memorySubscription) Chunks() <-chan Chunk { return s.ch }

func (s *memorySubscription) Close() error {
	s.closeOnce.Do(func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()
		if s.broker.closed {
			return
		}
		subs := s.broker.subs[s.sessionID]
		for i, sub := range subs {
			if sub == s {
				s.broker.subs[s.sessionID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	})
	return nil
}
