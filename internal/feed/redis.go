package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// channelPrefix namespaces the pub/sub channel derived from a path so feed
// traffic cannot collide with other users of the same Redis instance.
const channelPrefix = "feed:"

// RedisFeed implements Feed on a Redis instance: one key per path, one pub/sub
// channel per path for change notification. Writes are write-through: Set
// stores the value and publishes it on the path's channel.
type RedisFeed struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFeed connects to Redis and verifies the connection.
func NewRedisFeed(addr, password string, db int, ttl time.Duration) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisFeed{client: client, ttl: ttl}, nil
}

// Close releases the underlying client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}

func (f *RedisFeed) Get(ctx context.Context, path string) ([]byte, bool, error) {
	data, err := f.client.Get(ctx, path).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("feed get %q: %w", path, err)
	}
	return data, true, nil
}

func (f *RedisFeed) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("feed marshal for %q: %w", path, err)
	}
	if err := f.client.Set(ctx, path, data, f.ttl).Err(); err != nil {
		return fmt.Errorf("feed set %q: %w", path, err)
	}
	if err := f.client.Publish(ctx, channelPrefix+path, data).Err(); err != nil {
		return fmt.Errorf("feed publish %q: %w", path, err)
	}
	return nil
}

// Update is a read-modify-write merge. Redis has no partial JSON update for
// plain string values, so the merge happens client side; callers that need
// stronger guarantees should Set a full record instead.
func (f *RedisFeed) Update(ctx context.Context, path string, fields map[string]any) error {
	current := make(map[string]any)
	data, found, err := f.Get(ctx, path)
	if err != nil {
		return err
	}
	if found {
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("feed update %q: existing value is not an object: %w", path, err)
		}
	}
	for k, v := range fields {
		current[k] = v
	}
	return f.Set(ctx, path, current)
}

func (f *RedisFeed) Delete(ctx context.Context, path string) error {
	if err := f.client.Del(ctx, path).Err(); err != nil {
		return fmt.Errorf("feed delete %q: %w", path, err)
	}
	return nil
}

// Subscribe listens on the path's channel. The returned CancelFunc closes the
// pub/sub connection, which synchronously ends delivery.
func (f *RedisFeed) Subscribe(ctx context.Context, path string, fn Handler) (CancelFunc, error) {
	pubsub := f.client.Subscribe(ctx, channelPrefix+path)
	// Force the subscription to be established before returning so callers
	// cannot miss a write that happens right after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("feed subscribe %q: %w", path, err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			safeInvoke(path, fn, []byte(msg.Payload))
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				log.Printf("feed: error closing subscription for %q: %v", path, err)
			}
		})
	}
	return cancel, nil
}

// safeInvoke keeps a panicking handler from killing the delivery loop. A bad
// upstream record is logged and dropped, never propagated.
func safeInvoke(path string, fn Handler, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("feed: handler for %q panicked: %v", path, r)
		}
	}()
	fn(data)
}
