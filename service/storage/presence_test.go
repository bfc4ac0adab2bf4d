package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"PChat/module/chat/presence"
	rdsx "PChat/service/storage/redis"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreachableRedisDoesNotBreakPresence(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	p := NewRedisPresence(rdb, PresenceConfig{Timeout: 200 * time.Millisecond})
	ctx := context.Background()

	e := presence.Entry{ConnID: "c1", Username: "alice"}
	p.OnBind(ctx, e)
	_, _, err := p.lookup(ctx, "alice")
	assert.Error(t, err)
	_, err = p.Refresh(ctx)
	assert.Error(t, err)
	p.OnUnbind(ctx, e)

	n, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	_ = p.Close(ctx)
}

func TestNewClientRejectsEmptyAddr(t *testing.T) {
	_, err := rdsx.NewClient(context.Background(), rdsx.Config{})
	assert.Error(t, err)
}

func TestRedisPresenceLive(t *testing.T) {
	addr := os.Getenv("CHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skipf("CHAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	rdb, err := rdsx.NewClient(ctx, rdsx.Config{Addr: addr})
	require.NoError(t, err)

	prefix := "test:presence:" + time.Now().Format("150405.000") + ":"
	p := NewRedisPresence(rdb, PresenceConfig{KeyPrefix: prefix, TTL: time.Minute})
	t.Cleanup(func() { _ = p.Close(ctx) })

	old := presence.Entry{ConnID: "c1", Username: "alice"}
	p.OnBind(ctx, old)
	got, online, err := p.lookup(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, "c1", got)

	// 新连接顶掉旧连接后，旧连接的解绑不能删掉新值
	p.OnBind(ctx, presence.Entry{ConnID: "c2", Username: "alice"})
	p.OnUnbind(ctx, old)
	got, online, err = p.lookup(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, "c2", got)

	n, err := p.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	ttl, err := rdb.TTL(ctx, prefix+"alice").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 30*time.Second)

	p.OnUnbind(ctx, presence.Entry{ConnID: "c2", Username: "alice"})
	_, online, err = p.lookup(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)
}
