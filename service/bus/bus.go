package bus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"TMProject/logger"
	"TMProject/tools/safe"

	"go.uber.org/zap"
)

// Event is the envelope payload carried on every bus topic. Fields are
// explicit rather than an open map so the keys that drive invalidation
// correctness (Type, Pattern, GroupID, MessageID) are checked at
// compile time.
type Event struct {
	Type      string `json:"type"`
	Pattern   string `json:"pattern,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Username  string `json:"username,omitempty"`
	Text      string `json:"text,omitempty"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

// Message is a raw frame as received from a transport.
type Message struct {
	Topic string
	Data  []byte
}

type Handler func(topic string, ev Event)

// Transport is the pluggable broker contract. Delivery is at-least-once
// or best-effort; implementations must fan broadcast topics out to every
// subscriber, including the publisher's own peers.
type Transport interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topics []string) (<-chan Message, error)
	Close() error
}

type Config struct {
	Enabled     bool
	TopicPrefix string
	Topics      []string // unprefixed topics the consumer listens on

	// HandlerTimeout bounds one handler invocation; a wedged handler is
	// logged and the loop moves on.
	HandlerTimeout time.Duration

	// Reconnect resubscribes with backoff when the transport stream
	// drops. Off by default: a dead consumer degrades the cache to
	// TTL-only staleness, which is an accepted mode.
	Reconnect     bool
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// Bus is the process-wide publish/subscribe endpoint. Publish is
// fire-and-forget and never surfaces transport errors to the caller;
// StartConsumer is idempotent; Stop is safe even if nothing started.
type Bus struct {
	cfg       Config
	transport Transport

	mu        sync.Mutex
	connected bool
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func New(cfg Config, t Transport) *Bus {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 5 * time.Second
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	return &Bus{cfg: cfg, transport: t}
}

func (b *Bus) topic(name string) string {
	if b.cfg.TopicPrefix == "" {
		return name
	}
	return b.cfg.TopicPrefix + "." + name
}

func (b *Bus) ensureConnected(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return true
	}
	if err := b.transport.Connect(ctx); err != nil {
		logger.Warn("bus connect failed", zap.Error(err))
		return false
	}
	b.connected = true
	return true
}

// Publish serializes ev and hands it to the transport under the
// prefixed topic. Failures are swallowed; a disabled or unreachable bus
// is a silent no-op.
func (b *Bus) Publish(ctx context.Context, topic string, ev Event) {
	if !b.cfg.Enabled || b.transport == nil {
		return
	}
	if !b.ensureConnected(ctx) {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	full := b.topic(topic)
	// handoff only; never block the request path on broker acks
	safe.Go(func() {
		if err := b.transport.Publish(context.Background(), full, data); err != nil {
			logger.Debug("bus publish dropped", zap.String("topic", full), zap.Error(err))
		}
	})
}

// StartConsumer spawns the background subscription loop. Calling it
// while the loop is already running is a no-op. A subscribe failure
// leaves the consumer not-running: the process keeps serving with
// TTL-only cache staleness.
func (b *Bus) StartConsumer(handler Handler) {
	if !b.cfg.Enabled || b.transport == nil {
		return
	}
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	if !b.ensureConnected(ctx) {
		cancel()
		return
	}
	topics := make([]string, 0, len(b.cfg.Topics))
	for _, t := range b.cfg.Topics {
		topics = append(topics, b.topic(t))
	}
	ch, err := b.transport.Subscribe(ctx, topics)
	if err != nil {
		logger.Warn("bus subscribe failed, consumer not started", zap.Error(err))
		cancel()
		return
	}

	b.mu.Lock()
	b.running = true
	b.cancel = cancel
	b.done = make(chan struct{})
	done := b.done
	b.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			b.mu.Lock()
			b.running = false
			b.mu.Unlock()
		}()
		b.consumeLoop(ctx, topics, ch, handler)
	}()
}

func (b *Bus) consumeLoop(ctx context.Context, topics []string, ch <-chan Message, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				if !b.cfg.Reconnect {
					logger.Warn("bus stream closed, consumer stopping")
					return
				}
				ch = b.resubscribe(ctx, topics)
				if ch == nil {
					return
				}
				continue
			}
			b.dispatch(handler, m)
		}
	}
}

func (b *Bus) resubscribe(ctx context.Context, topics []string) <-chan Message {
	backoff := b.cfg.ReconnectBase
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		ch, err := b.transport.Subscribe(ctx, topics)
		if err == nil {
			logger.Info("bus consumer resubscribed")
			return ch
		}
		logger.Warn("bus resubscribe failed", zap.Error(err))
		backoff *= 2
		if backoff > b.cfg.ReconnectMax {
			backoff = b.cfg.ReconnectMax
		}
	}
}

// dispatch decodes one frame and runs the handler with a bound on its
// execution. Malformed payloads, handler panics and handler timeouts
// are logged and skipped; none of them may kill the loop.
func (b *Bus) dispatch(handler Handler, m Message) {
	var ev Event
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		logger.Debug("bus frame dropped: bad payload", zap.String("topic", m.Topic))
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logger.Error("bus handler panic", zap.String("topic", m.Topic), zap.Any("panic", r))
			}
		}()
		handler(m.Topic, ev)
	}()
	select {
	case <-done:
	case <-time.After(b.cfg.HandlerTimeout):
		logger.Warn("bus handler timed out, skipping", zap.String("topic", m.Topic))
	}
}

// Stop cancels the subscription loop and releases the transport.
func (b *Bus) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	connected := b.connected
	b.running = false
	b.cancel = nil
	b.done = nil
	b.connected = false
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
	if connected && b.transport != nil {
		_ = b.transport.Close()
	}
}

// Running reports whether the consumer loop is live.
func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
