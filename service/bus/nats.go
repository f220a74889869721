package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

// NatsTransport uses core NATS subjects. Core NATS delivers to every
// plain subscriber, so invalidation broadcasts reach all instances
// without queue groups.
type NatsTransport struct {
	servers []string
	name    string

	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
}

func NewNats(servers []string, name string) *NatsTransport {
	return &NatsTransport{servers: servers, name: name}
}

func (t *NatsTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	conn, err := nats.Connect(strings.Join(t.servers, ","), nats.Name(t.name))
	if err != nil {
		return err
	}
	t.conn = conn
	return nil
}

func (t *NatsTransport) Publish(ctx context.Context, topic string, data []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nats.ErrConnectionClosed
	}
	return conn.Publish(topic, data)
}

func (t *NatsTransport) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, nats.ErrConnectionClosed
	}
	out := make(chan Message, 256)
	subs := make([]*nats.Subscription, 0, len(topics))
	for _, topic := range topics {
		sub, err := conn.Subscribe(topic, func(m *nats.Msg) {
			select {
			case out <- Message{Topic: m.Subject, Data: m.Data}:
			default: // best-effort; never block the nats callback
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, err
		}
		subs = append(subs, sub)
	}
	t.mu.Lock()
	t.subs = append(t.subs, subs...)
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		close(out)
	}()
	return out, nil
}

func (t *NatsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.subs {
		_ = s.Unsubscribe()
	}
	t.subs = nil
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	return nil
}
