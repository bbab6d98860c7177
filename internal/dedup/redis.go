// Package dedup records transport message ids in Redis so that webhook
// retries landing on different instances produce a single reply.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/StudyPipe/internal/store"
	"github.com/go-redis/redis/v8"
)

const (
	// DefaultTTL is how long a message id is remembered.
	DefaultTTL = 24 * time.Hour
	// DefaultPrefix namespaces dedup keys.
	DefaultPrefix = "studypipe:inbound:"

	processedValue = "processed"
)

var _ store.DedupRepo = (*RedisDeduper)(nil)

// Opts holds configuration for a RedisDeduper.
type Opts struct {
	TTL    time.Duration
	Prefix string
}

// Option configures a RedisDeduper.
type Option func(*Opts)

// WithTTL sets how long message ids are remembered.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		if ttl > 0 {
			o.TTL = ttl
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(o *Opts) {
		if prefix != "" {
			o.Prefix = prefix
		}
	}
}

// RedisDeduper implements store.DedupRepo on SETNX with expiry.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewClient parses a redis:// URL into a client.
func NewClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// NewRedisDeduper wraps an existing client.
func NewRedisDeduper(client *redis.Client, opts ...Option) *RedisDeduper {
	cfg := Opts{TTL: DefaultTTL, Prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisDeduper{client: client, ttl: cfg.TTL, prefix: cfg.Prefix}
}

// Ping checks the connection.
func (d *RedisDeduper) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (d *RedisDeduper) Close() error {
	return d.client.Close()
}

func (d *RedisDeduper) key(messageID string) string {
	return d.prefix + messageID
}

// IsDuplicate reports whether messageID was already recorded.
func (d *RedisDeduper) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return n > 0, nil
}

// RecordInbound stores messageID if absent. It returns false when it was already present.
func (d *RedisDeduper) RecordInbound(ctx context.Context, messageID, phoneTail string) (bool, error) {
	value := phoneTail
	if value == "" {
		value = "-"
	}
	ok, err := d.client.SetNX(ctx, d.key(messageID), value, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	if !ok {
		slog.Debug("RedisDeduper.RecordInbound: duplicate message", "messageID", messageID)
	}
	return ok, nil
}

// MarkProcessed flags a recorded message, keeping its expiry.
func (d *RedisDeduper) MarkProcessed(ctx context.Context, messageID string) error {
	if err := d.client.SetXX(ctx, d.key(messageID), processedValue, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
