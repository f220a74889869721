package bus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTransport rides Redis pub/sub. Fan-out to every subscriber is
// Redis's native behavior, which is exactly what invalidation needs.
type RedisTransport struct {
	addr     string
	password string
	db       int

	mu     sync.Mutex
	client *redis.Client
	pubsub *redis.PubSub
}

func NewRedis(addr, password string, db int) *RedisTransport {
	return &RedisTransport{addr: addr, password: password, db: db}
}

func (t *RedisTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     t.addr,
		Password: t.password,
		DB:       t.db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return err
	}
	t.client = client
	return nil
}

func (t *RedisTransport) Publish(ctx context.Context, topic string, data []byte) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return redis.ErrClosed
	}
	return client.Publish(ctx, topic, data).Err()
}

func (t *RedisTransport) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return nil, redis.ErrClosed
	}
	pubsub := client.Subscribe(ctx, topics...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}
	t.mu.Lock()
	t.pubsub = pubsub
	t.mu.Unlock()

	out := make(chan Message, 256)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				out <- Message{Topic: m.Channel, Data: []byte(m.Payload)}
			}
		}
	}()
	return out, nil
}

func (t *RedisTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pubsub != nil {
		_ = t.pubsub.Close()
		t.pubsub = nil
	}
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}
