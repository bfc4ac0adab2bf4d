package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PChat/data/store/memstore"
	"PChat/module/chat/model"
	"PChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingUsers struct{ *memstore.Store }

func (failingUsers) FindOrCreateUser(context.Context, string) (*model.User, error) {
	return nil, errors.New("connection refused")
}

type recordingObserver struct {
	mu      sync.Mutex
	bound   []Entry
	unbound []Entry
}

func (o *recordingObserver) OnBind(_ context.Context, e Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bound = append(o.bound, e)
}

func (o *recordingObserver) OnUnbind(_ context.Context, e Entry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unbound = append(o.unbound, e)
}

func TestBindResolveUnbind(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	r := New(st)

	for i, name := range []string{"alice", "bob", "张三", "a_b"} {
		conn := fmt.Sprintf("c-%d", i)
		u, evicted, err := r.Bind(ctx, conn, name)
		require.NoError(t, err)
		assert.Empty(t, evicted)
		assert.Equal(t, name, u.Username)
		assert.True(t, u.IsOnline)

		got, ok := r.Resolve(conn)
		require.True(t, ok)
		assert.Equal(t, name, got)

		freed, ok := r.Unbind(ctx, conn)
		require.True(t, ok)
		assert.Equal(t, name, freed)

		_, ok = r.Resolve(conn)
		assert.False(t, ok)
		_, ok = r.ResolveConnection(name)
		assert.False(t, ok)

		stored, err := st.FindUser(ctx, name)
		require.NoError(t, err)
		assert.False(t, stored.IsOnline)
	}
}

func TestUnbindNeverBound(t *testing.T) {
	r := New(memstore.New())
	name, ok := r.Unbind(context.Background(), "ghost")
	assert.False(t, ok)
	assert.Empty(t, name)
}

func TestLastBindWins(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	r := New(st)

	first, _, err := r.Bind(ctx, "c-1", "alice")
	require.NoError(t, err)
	second, evicted, err := r.Bind(ctx, "c-2", "alice")
	require.NoError(t, err)

	assert.Equal(t, "c-1", evicted)
	assert.Equal(t, first.ID, second.ID, "reconnect reuses the persisted user")

	conn, ok := r.ResolveConnection("alice")
	require.True(t, ok)
	assert.Equal(t, "c-2", conn)
	_, ok = r.Resolve("c-1")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())

	// 旧连接随后断开：不再影响新连接
	_, ok = r.Unbind(ctx, "c-1")
	assert.False(t, ok)
	u, _ := st.FindUser(ctx, "alice")
	assert.True(t, u.IsOnline)
}

func TestBindStoreFailureLeavesNoTrace(t *testing.T) {
	r := New(failingUsers{memstore.New()})
	_, _, err := r.Bind(context.Background(), "c-1", "alice")
	require.Error(t, err)
	assert.True(t, errs.ErrStoreUnavailable.Is(err))
	assert.Zero(t, r.Count())
	_, ok := r.Resolve("c-1")
	assert.False(t, ok)
}

func TestBindRejectsEmpty(t *testing.T) {
	r := New(memstore.New())
	_, _, err := r.Bind(context.Background(), "", "alice")
	assert.True(t, errs.ErrArgs.Is(err))
}

func TestListOnlineSortedSnapshot(t *testing.T) {
	ctx := context.Background()
	r := New(memstore.New())
	for conn, name := range map[string]string{"c-3": "carol", "c-1": "alice", "c-2": "bob"} {
		_, _, err := r.Bind(ctx, conn, name)
		require.NoError(t, err)
	}
	list := r.ListOnline()
	require.Len(t, list, 3)
	assert.Equal(t, []model.OnlineUser{
		{ConnectionID: "c-1", Username: "alice"},
		{ConnectionID: "c-2", Username: "bob"},
		{ConnectionID: "c-3", Username: "carol"},
	}, []model.OnlineUser{list[0].OnlineUser(), list[1].OnlineUser(), list[2].OnlineUser()})
	assert.ElementsMatch(t, []string{"c-1", "c-2", "c-3"}, r.ConnIDs())
}

func TestObserverNotified(t *testing.T) {
	ctx := context.Background()
	obs := &recordingObserver{}
	r := New(memstore.New(), WithObserver(obs))

	_, _, err := r.Bind(ctx, "c-1", "alice")
	require.NoError(t, err)
	r.Unbind(ctx, "c-1")
	r.Unbind(ctx, "c-1")

	require.Len(t, obs.bound, 1)
	require.Len(t, obs.unbound, 1)
	assert.Equal(t, "alice", obs.unbound[0].Username)
	assert.NotZero(t, obs.bound[0].UserID)
}

func TestConcurrentBindUnbind(t *testing.T) {
	ctx := context.Background()
	r := New(memstore.New())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := fmt.Sprintf("c-%d", i)
			name := fmt.Sprintf("user-%d", i%10)
			if _, _, err := r.Bind(ctx, conn, name); err != nil {
				t.Error(err)
				return
			}
			_ = r.ListOnline()
			r.Unbind(ctx, conn)
		}(i)
	}
	wg.Wait()
	assert.Zero(t, r.Count())
	assert.Empty(t, r.ListOnline())
}

// gatedUsers 在线标记写完后卡住一次，停在「已落库、未进注册表」这一刻
type gatedUsers struct {
	*memstore.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedUsers) SetUserOnline(ctx context.Context, username string) error {
	err := g.Store.SetUserOnline(ctx, username)
	if g.armed.CompareAndSwap(true, false) {
		close(g.entered)
		<-g.release
	}
	return err
}

func TestUnbindWaitsForInFlightBind(t *testing.T) {
	ctx := context.Background()
	st := &gatedUsers{Store: memstore.New(), entered: make(chan struct{}), release: make(chan struct{})}
	r := New(st)
	_, _, err := r.Bind(ctx, "c-1", "alice")
	require.NoError(t, err)

	st.armed.Store(true)
	bound := make(chan string, 1)
	go func() {
		_, evicted, err := r.Bind(ctx, "c-2", "alice")
		assert.NoError(t, err)
		bound <- evicted
	}()
	<-st.entered

	unbound := make(chan bool, 1)
	go func() {
		_, ok := r.Unbind(ctx, "c-1")
		unbound <- ok
	}()
	select {
	case <-unbound:
		t.Fatal("old connection was unbound while a bind for the same user was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(st.release)
	assert.Equal(t, "c-1", <-bound)
	assert.False(t, <-unbound) // 已被新连接挤掉，不再写离线

	conn, ok := r.ResolveConnection("alice")
	require.True(t, ok)
	assert.Equal(t, "c-2", conn)
	u, err := st.FindUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
}
