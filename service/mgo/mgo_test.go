package mgo

import (
	"context"
	"os"
	"testing"
	"time"

	mgo "PChat/data/database/mgo/mongoutil"
	"PChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestNotReadyFailsFast(t *testing.T) {
	// 不可达地址：管理器一直在退避重连，调用方不应被阻塞
	m := NewManager(&mgo.Config{Uri: "mongodb://127.0.0.1:1", Database: "chat", ConnectTimeout: 50 * time.Millisecond})
	m.StartAsync(context.Background())
	defer func() { _ = m.Close(context.Background()) }()

	start := time.Now()
	_, err := m.TryGetDB()
	assert.True(t, errs.ErrStoreUnavailable.Is(err))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.False(t, m.Connected())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, m.WaitReady(ctx), context.DeadlineExceeded)

	// 连接失败的原因留在 Err 里
	assert.Eventually(t, func() bool { return m.Err() != nil }, 2*time.Second, 20*time.Millisecond)
}

func TestCloseBeforeStart(t *testing.T) {
	m := NewManager(&mgo.Config{Uri: "mongodb://127.0.0.1:1", Database: "chat"})
	assert.NoError(t, m.Close(context.Background()))
}

func TestConnectsAndRunsHooks(t *testing.T) {
	uri := os.Getenv("CHAT_TEST_MONGO_URI")
	if uri == "" {
		t.Skipf("CHAT_TEST_MONGO_URI not set")
	}
	called := make(chan struct{}, 1)
	m := NewManager(&mgo.Config{Uri: uri, Database: "pchat_mgo_test"},
		WithOnConnect(func(ctx context.Context, db *mongo.Database) error {
			called <- struct{}{}
			return nil
		}))
	m.StartAsync(context.Background())
	defer func() { _ = m.Close(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.WaitReady(ctx))
	<-called
	db, err := m.TryGetDB()
	require.NoError(t, err)
	assert.Equal(t, "pchat_mgo_test", db.Name())
}
