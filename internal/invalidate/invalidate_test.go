package invalidate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*RedisInvalidator, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	inv, err := NewRedisInvalidator("redis://"+s.Addr(), "", "", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { inv.Close() })
	return inv, s
}

func TestNewRedisInvalidator(t *testing.T) {
	inv, _ := setupTestRedis(t)
	assert.NoError(t, inv.Ping(context.Background()))
}

func TestNewRedisInvalidator_BadURL(t *testing.T) {
	_, err := NewRedisInvalidator("not-a-url", "", "", zap.NewNop())
	assert.Error(t, err)
}

func TestRedisInvalidator_DropsCollectionKeys(t *testing.T) {
	inv, s := setupTestRedis(t)

	s.Set("cache:documents:list:root", "x")
	s.Set("cache:documents:list:f1", "x")
	s.Set("cache:folders:tree", "x")
	s.Set("cache:dashboard:stats", "x")
	s.Set("cache:users:me", "x")
	s.Set("session:abc", "x")

	err := inv.Invalidate(context.Background(), Documents, Folders)
	require.NoError(t, err)

	assert.False(t, s.Exists("cache:documents:list:root"))
	assert.False(t, s.Exists("cache:documents:list:f1"))
	assert.False(t, s.Exists("cache:folders:tree"))
	assert.True(t, s.Exists("cache:dashboard:stats"))
	assert.True(t, s.Exists("cache:users:me"))
	assert.True(t, s.Exists("session:abc"))
}

func TestRedisInvalidator_Publishes(t *testing.T) {
	inv, s := setupTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, DefaultChannel)
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, inv.Invalidate(ctx, AfterUpload...))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got Message
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, AfterUpload, got.Collections)
	assert.False(t, got.At.IsZero())
}

func TestRedisInvalidator_NoCollections(t *testing.T) {
	inv, s := setupTestRedis(t)
	s.Set("cache:documents:x", "1")

	require.NoError(t, inv.Invalidate(context.Background()))
	assert.True(t, s.Exists("cache:documents:x"))
}

func TestRedisInvalidator_ServerDown(t *testing.T) {
	inv, s := setupTestRedis(t)
	s.Close()

	err := inv.Invalidate(context.Background(), Documents)
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	var got []Collection
	f := Func(func(_ context.Context, cs ...Collection) error {
		got = cs
		return errors.New("boom")
	})

	err := f.Invalidate(context.Background(), Dashboard)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, []Collection{Dashboard}, got)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Invalidate(context.Background(), AfterUpload...))
}
