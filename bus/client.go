package bus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrBusUnavailable means the initial handshake with the bus failed.
// It is the only fatal bus error; everything else is transient.
var ErrBusUnavailable = errors.New("bus unavailable")

const connectTimeout = 5 * time.Second

// Bus is the capability set the terminal needs from the message bus:
// a pub/sub channel for live ticks and a key/value store for
// last-known prices.
type Bus interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, channel string) error
	// PollMessage returns the next payload on the subscribed channel,
	// or ok=false if none arrived within timeout. It never blocks
	// longer than timeout.
	PollMessage(ctx context.Context, timeout time.Duration) (payload string, ok bool, err error)
	// GetKey looks up a key in the store; ok=false when absent.
	GetKey(ctx context.Context, key string) (value string, ok bool, err error)
	Close() error
}

// RedisBus implements Bus over a single Redis connection pair: one
// client for key lookups, one pub/sub subscription for ticks.
type RedisBus struct {
	addr string
	db   int

	mu      sync.Mutex
	client  *redis.Client
	pubsub  *redis.PubSub
	channel string
}

func NewRedisBus(addr string, db int) *RedisBus {
	return &RedisBus{addr: addr, db: db}
}

func (b *RedisBus) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr: b.addr,
		DB:   b.db,
	})

	// Verify connection before declaring the terminal live.
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("%w: ping %s db %d: %v", ErrBusUnavailable, b.addr, b.db, err)
	}

	b.client = client
	return nil
}

// Subscribe is idempotent: resubscribing to the current channel is a
// no-op, a different channel replaces the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return fmt.Errorf("subscribe %q: not connected", channel)
	}
	if b.pubsub != nil {
		if b.channel == channel {
			return nil
		}
		b.pubsub.Close()
	}
	b.pubsub = b.client.Subscribe(ctx, channel)
	b.channel = channel
	return nil
}

func (b *RedisBus) PollMessage(ctx context.Context, timeout time.Duration) (string, bool, error) {
	b.mu.Lock()
	pubsub := b.pubsub
	b.mu.Unlock()

	if pubsub == nil {
		return "", false, fmt.Errorf("poll: not subscribed")
	}

	msg, err := pubsub.ReceiveTimeout(ctx, timeout)
	if err != nil {
		// A receive timeout is the idle case, not a failure.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", false, nil
		}
		return "", false, fmt.Errorf("poll %q: %w", b.channel, err)
	}

	switch m := msg.(type) {
	case *redis.Message:
		return m.Payload, true, nil
	default:
		// Subscription confirmations and pongs are not ticks.
		return "", false, nil
	}
}

func (b *RedisBus) GetKey(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	if client == nil {
		return "", false, fmt.Errorf("get %q: not connected", key)
	}

	val, err := client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return val, true, nil
}

// Ping reports current bus reachability, used by the health endpoint.
func (b *RedisBus) Ping(ctx context.Context) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()

	if client == nil {
		return fmt.Errorf("not connected")
	}
	return client.Ping(ctx).Err()
}

// Close releases the subscription and the connection. Safe to call
// more than once.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.pubsub != nil {
		err = b.pubsub.Close()
		b.pubsub = nil
	}
	if b.client != nil {
		if cerr := b.client.Close(); err == nil {
			err = cerr
		}
		b.client = nil
	}
	return err
}
