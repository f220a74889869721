package bus

import (
	"context"
	"strings"
	"sync"
)

// MemoryBroker fans published frames out to every subscribed transport
// in-process. It backs the "memory" bus driver for tests and single-node
// dev runs; delivery is best-effort (full subscriber buffers drop).
type MemoryBroker struct {
	mu   sync.Mutex
	subs []*memorySub
}

type memorySub struct {
	topics map[string]struct{}
	ch     chan Message
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

// Transport returns a new connection to the broker; each Bus instance
// gets its own so peers see each other's publishes.
func (mb *MemoryBroker) Transport() Transport {
	return &memoryTransport{broker: mb}
}

func (mb *MemoryBroker) publish(topic string, data []byte) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for _, s := range mb.subs {
		if s.closed {
			continue
		}
		if _, ok := s.topics[topic]; !ok {
			continue
		}
		frame := Message{Topic: topic, Data: append([]byte(nil), data...)}
		select {
		case s.ch <- frame:
		default: // subscriber wedged; drop rather than block publishers
		}
	}
}

func (mb *MemoryBroker) subscribe(topics []string) *memorySub {
	s := &memorySub{
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan Message, 64),
	}
	for _, t := range topics {
		s.topics[strings.TrimSpace(t)] = struct{}{}
	}
	mb.mu.Lock()
	mb.subs = append(mb.subs, s)
	mb.mu.Unlock()
	return s
}

func (mb *MemoryBroker) drop(sub *memorySub) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	for i, s := range mb.subs {
		if s == sub {
			mb.subs = append(mb.subs[:i], mb.subs[i+1:]...)
			break
		}
	}
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

type memoryTransport struct {
	broker *MemoryBroker

	mu   sync.Mutex
	subs []*memorySub
}

func (t *memoryTransport) Connect(ctx context.Context) error { return nil }

func (t *memoryTransport) Publish(ctx context.Context, topic string, data []byte) error {
	t.broker.publish(topic, data)
	return nil
}

func (t *memoryTransport) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	sub := t.broker.subscribe(topics)
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
		t.broker.drop(sub)
	}()
	return sub.ch, nil
}

func (t *memoryTransport) Close() error {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, s := range subs {
		t.broker.drop(s)
	}
	return nil
}
