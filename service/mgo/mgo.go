package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config represents the MongoDB configuration.
type Config struct {
	URI         string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
}

type MongoManager struct {
	mu        sync.RWMutex
	client    *mongo.Client
	db        *mongo.Database
	readyCh   chan struct{} // closed exactly once on first successful connect
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr = MongoManager{readyCh: make(chan struct{})}

func buildOptions(cfg *Config) *options.ClientOptions {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	}
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}
	return opts
}

func connect(ctx context.Context, cfg *Config) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	cli, err := mongo.Connect(ctx, buildOptions(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(context.Background())
		return nil, errors.Wrap(err, "mongo ping")
	}
	return cli, nil
}

// StartAsync runs until ctx is done: connect with exponential backoff,
// close readyCh on the first success, then keep the connection healthy
// and reconnect when the ping fails repeatedly.
func StartAsync(ctx context.Context, cfg *Config) {
	go func() {
		const (
			baseBackoff = 200 * time.Millisecond
			maxBackoff  = 5 * time.Second
			healthEvery = 10 * time.Second
			failThresh  = 3
		)

		for {
			if !connectLoop(ctx, cfg, baseBackoff, maxBackoff) {
				return
			}
			if !healthLoop(ctx, healthEvery, failThresh) {
				return
			}
			// health loop dropped the client; fall through and reconnect
		}
	}()
}

func connectLoop(ctx context.Context, cfg *Config, base, max time.Duration) bool {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		cli, err := connect(ctx, cfg)
		if err == nil {
			globalMgr.mu.Lock()
			globalMgr.client = cli
			globalMgr.db = cli.Database(cfg.Database)
			globalMgr.mu.Unlock()
			globalMgr.readyOnce.Do(func() { close(globalMgr.readyCh) })
			return true
		}
		globalMgr.lastErr.Store(err)

		backoff := base << attempt
		if backoff > max {
			backoff = max
		}
		// jitter keeps a fleet of instances from reconnecting in step
		sleep := backoff - time.Duration(rand.Int63n(int64(backoff/5)+1))/2

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if attempt < 6 {
			attempt++
		}
	}
}

func healthLoop(ctx context.Context, every time.Duration, failThresh int) bool {
	fail := 0
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			disconnect()
			return false
		case <-ticker.C:
			globalMgr.mu.RLock()
			cli := globalMgr.client
			globalMgr.mu.RUnlock()
			if cli == nil {
				return true
			}
			if err := cli.Ping(ctx, nil); err != nil {
				fail++
				globalMgr.lastErr.Store(err)
				if fail >= failThresh {
					disconnect()
					return true
				}
			} else {
				fail = 0
			}
		}
	}
}

func disconnect() {
	globalMgr.mu.Lock()
	defer globalMgr.mu.Unlock()
	if globalMgr.client != nil {
		_ = globalMgr.client.Disconnect(context.Background())
		globalMgr.client = nil
		globalMgr.db = nil
	}
}

// Ready is closed on the first successful connect.
func Ready() <-chan struct{} {
	return globalMgr.readyCh
}

func WaitReady(ctx context.Context) error {
	globalMgr.mu.RLock()
	connected := globalMgr.client != nil
	globalMgr.mu.RUnlock()
	if connected {
		return nil
	}
	select {
	case <-globalMgr.readyCh:
		return nil
	case <-ctx.Done():
		if err := Err(); err != nil {
			return errors.Wrap(err, "mongo not ready")
		}
		return ctx.Err()
	}
}

// Err returns the most recent connection error.
func Err() error {
	if v := globalMgr.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func GetDB() *mongo.Database {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		panic("Mongo not ready: wait Ready() or use TryGetDB()")
	}
	return globalMgr.db
}

func TryGetDB() (*mongo.Database, bool) {
	globalMgr.mu.RLock()
	defer globalMgr.mu.RUnlock()
	if globalMgr.db == nil {
		return nil, false
	}
	return globalMgr.db, true
}
