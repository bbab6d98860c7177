package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T, opts ...Option) (*miniredis.Miniredis, *RedisDeduper) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisDeduper(client, opts...)
}

func TestRedisDeduper_RecordInbound(t *testing.T) {
	mr, d := setupTestRedis(t)
	ctx := context.Background()

	first, err := d.RecordInbound(ctx, "SM1", "3331234567")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := d.RecordInbound(ctx, "SM1", "3331234567")
	require.NoError(t, err)
	assert.False(t, second)

	got, err := mr.Get(DefaultPrefix + "SM1")
	require.NoError(t, err)
	assert.Equal(t, "3331234567", got)
	assert.Equal(t, DefaultTTL, mr.TTL(DefaultPrefix+"SM1"))
}

func TestRedisDeduper_IsDuplicate(t *testing.T) {
	_, d := setupTestRedis(t)
	ctx := context.Background()

	dup, err := d.IsDuplicate(ctx, "SM2")
	require.NoError(t, err)
	assert.False(t, dup)

	_, err = d.RecordInbound(ctx, "SM2", "")
	require.NoError(t, err)

	dup, err = d.IsDuplicate(ctx, "SM2")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestRedisDeduper_MarkProcessedKeepsTTL(t *testing.T) {
	mr, d := setupTestRedis(t, WithTTL(time.Hour), WithPrefix("test:"))
	ctx := context.Background()

	_, err := d.RecordInbound(ctx, "SM3", "3331234567")
	require.NoError(t, err)
	require.NoError(t, d.MarkProcessed(ctx, "SM3"))

	got, err := mr.Get("test:SM3")
	require.NoError(t, err)
	assert.Equal(t, processedValue, got)
	assert.Equal(t, time.Hour, mr.TTL("test:SM3"))
}

func TestRedisDeduper_Expiry(t *testing.T) {
	mr, d := setupTestRedis(t, WithTTL(time.Minute))
	ctx := context.Background()

	_, err := d.RecordInbound(ctx, "SM4", "")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	again, err := d.RecordInbound(ctx, "SM4", "")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestRedisDeduper_ConnectionError(t *testing.T) {
	mr, d := setupTestRedis(t)
	mr.Close()

	_, err := d.RecordInbound(context.Background(), "SM5", "")
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Options().DB)
	c.Close()

	_, err = NewClient("http://nope")
	assert.Error(t, err)
}
