package persist

import (
	"context"
	"errors"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// RedisStorage stores records in Redis. Writes are announced on a pub/sub
// channel so cells in other processes see them through Watch.
type RedisStorage struct {
	client  redis.UniversalClient
	prefix  string
	channel string

	mu     sync.RWMutex
	closed bool
}

// RedisOption configures RedisStorage behavior.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix  string
	channel string
}

// WithRedisPrefix sets the key prefix for records.
// Default: "sharedstate:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		c.prefix = prefix
	}
}

// WithRedisChannel sets the pub/sub channel used for change events.
// Default: "<prefix>events".
func WithRedisChannel(channel string) RedisOption {
	return func(c *redisConfig) {
		c.channel = channel
	}
}

// NewRedisStorage creates a Redis-backed storage.
func NewRedisStorage(client redis.UniversalClient, opts ...RedisOption) *RedisStorage {
	cfg := &redisConfig{
		prefix: "sharedstate:",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.channel == "" {
		cfg.channel = cfg.prefix + "events"
	}

	return &RedisStorage{
		client:  client,
		prefix:  cfg.prefix,
		channel: cfg.channel,
	}
}

// redisEvent is the pub/sub payload announcing a change.
type redisEvent struct {
	Key    string  `json:"key"`
	Record *Record `json:"record"`
}

func (r *RedisStorage) key(key string) string {
	return r.prefix + key
}

func (r *RedisStorage) isClosed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Get returns the record under key.
func (r *RedisStorage) Get(ctx context.Context, key string) (*Record, error) {
	if r.isClosed() {
		return nil, ErrStoreClosed{}
	}

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return DecodeRecord(data)
}

// Set stores rec and publishes a change event.
func (r *RedisStorage) Set(ctx context.Context, key string, rec Record) error {
	if r.isClosed() {
		return ErrStoreClosed{}
	}

	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(key), data, 0).Err(); err != nil {
		return err
	}
	return r.publish(ctx, redisEvent{Key: key, Record: &rec})
}

// Delete removes key and publishes a change event.
func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if r.isClosed() {
		return ErrStoreClosed{}
	}

	n, err := r.client.Del(ctx, r.key(key)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return r.publish(ctx, redisEvent{Key: key})
}

func (r *RedisStorage) publish(ctx context.Context, ev redisEvent) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// Watch subscribes to the change channel and calls fn for each event.
func (r *RedisStorage) Watch(ctx context.Context, fn WatchFunc) (func(), error) {
	if r.isClosed() {
		return nil, ErrStoreClosed{}
	}

	sub := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription to be confirmed so no event is missed.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev redisEvent
				if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil || ev.Key == "" {
					continue
				}
				fn(ev.Key, ev.Record)
			}
		}
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			sub.Close()
		})
	}
	return stop, nil
}

// Close marks the storage as closed.
// Note: This does not close the underlying Redis client,
// as it may be shared with other components.
func (r *RedisStorage) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Prefix returns the current key prefix.
func (r *RedisStorage) Prefix() string {
	return r.prefix
}

var (
	_ Storage = (*RedisStorage)(nil)
	_ Watcher = (*RedisStorage)(nil)
)
