package session

import (
	"context"
	"testing"

	"PChat/data/store/memstore"
	"PChat/module/chat/model"
	"PChat/module/chat/presence"
	"PChat/module/chat/service"
	"PChat/module/chat/service/servicetest"
	"PChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type world struct {
	store *servicetest.FlakyStore
	sink  *servicetest.Sink
	deps  Deps
}

func newWorld(t *testing.T) *world {
	t.Helper()
	st := servicetest.NewFlakyStore(memstore.New())
	reg := presence.New(st)
	sink := servicetest.NewSink()
	r := service.NewRouter(st, reg, sink)
	t.Cleanup(r.Close)
	return &world{
		store: st,
		sink:  sink,
		deps: Deps{
			Registry: reg,
			Router:   r,
			Reads:    service.NewReadState(st),
			Sink:     sink,
		},
	}
}

func (w *world) connect(t *testing.T, conn, name string) *Session {
	t.Helper()
	s := New(conn, w.deps)
	_, err := s.Login(context.Background(), name)
	require.NoError(t, err)
	return s
}

func onlineNames(t *testing.T, ev model.Event) []string {
	t.Helper()
	users, ok := ev.Data.([]model.OnlineUser)
	require.True(t, ok)
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out
}

func TestEndToEnd(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	alice := w.connect(t, "c-alice", "alice")
	assert.Equal(t, Authenticated, alice.State())
	hist, ok := w.sink.Last("c-alice", model.EventHistory)
	require.True(t, ok)
	assert.Empty(t, hist.Data)
	assert.Equal(t, model.EventHistory, w.sink.Types("c-alice")[0], "history comes first")

	bob := w.connect(t, "c-bob", "bob")
	up, ok := w.sink.Last("c-alice", model.EventUsersUpdate)
	require.True(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, onlineNames(t, up))

	_, err := alice.SendPublic(ctx, "hello room")
	require.NoError(t, err)
	for _, conn := range []string{"c-alice", "c-bob"} {
		ev, ok := w.sink.Last(conn, model.EventNew)
		require.True(t, ok)
		msg := ev.Data.(*model.Message)
		assert.Equal(t, "hello room", msg.Content)
		assert.Equal(t, model.MessageTypeUser, msg.Type)
		assert.Equal(t, "alice", msg.Username)
	}

	_, err = bob.SendPrivate(ctx, "c-alice", "hi alice")
	require.NoError(t, err)
	ev, ok := w.sink.Last("c-alice", model.EventPrivate)
	require.True(t, ok)
	pm := ev.Data.(*model.PrivateMessage)
	assert.Equal(t, "bob", pm.FromUsername)
	assert.Equal(t, "alice", pm.ToUsername)
	assert.False(t, pm.IsRead)

	n, err := alice.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, alice.PrivateHistory(ctx, "c-bob"))
	ev, ok = w.sink.Last("c-alice", model.EventPrivateHistory)
	require.True(t, ok)
	h := ev.Data.(*model.PrivateHistory)
	assert.Equal(t, "c-bob", h.TargetConnectionID)
	require.Len(t, h.Messages, 1)
	assert.Equal(t, "hi alice", h.Messages[0].Content)
	assert.True(t, h.Messages[0].IsRead)

	n, err = alice.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	ev, _ = w.sink.Last("c-alice", model.EventUnread)
	assert.Equal(t, model.UnreadCount{Count: 0}, ev.Data)
}

func TestLoginJoinOrder(t *testing.T) {
	w := newWorld(t)
	w.connect(t, "c-alice", "alice")

	assert.Equal(t, []string{model.EventHistory, model.EventUsersUpdate, model.EventNew}, w.sink.Types("c-alice"))
	ev, _ := w.sink.Last("c-alice", model.EventNew)
	msg := ev.Data.(*model.Message)
	assert.Equal(t, "alice joined", msg.Content)
	assert.True(t, msg.IsSystem())
}

func TestDisconnect(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	alice := w.connect(t, "c-alice", "alice")
	bob := w.connect(t, "c-bob", "bob")
	w.connect(t, "c-carol", "carol")

	_, err := bob.SendPrivate(ctx, "c-alice", "hi alice")
	require.NoError(t, err)
	w.sink.Reset()

	alice.Close(ctx)
	assert.Equal(t, Closed, alice.State())

	for _, conn := range []string{"c-bob", "c-carol"} {
		assert.Equal(t, []string{model.EventUsersUpdate, model.EventNew}, w.sink.Types(conn))
		up, _ := w.sink.Last(conn, model.EventUsersUpdate)
		assert.Equal(t, []string{"bob", "carol"}, onlineNames(t, up))
		ev, _ := w.sink.Last(conn, model.EventNew)
		msg := ev.Data.(*model.Message)
		assert.Equal(t, "alice left", msg.Content)
		assert.Equal(t, model.MessageTypeSystem, msg.Type)
	}
	assert.Empty(t, w.sink.Types("c-alice"))

	// 断线后未读和会话历史仍然可查
	n, err := w.deps.Reads.UnreadCount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	u, err := w.store.FindUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, u.IsOnline)

	// 第二次 Close 无副作用
	w.sink.Reset()
	alice.Close(ctx)
	assert.Zero(t, w.sink.Count())
}

func TestAnonymousSession(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	w.connect(t, "c-bob", "bob")
	w.sink.Reset()

	s := New("c-anon", w.deps)
	_, err := s.SendPublic(ctx, "hello")
	assert.True(t, errs.ErrNotAuthenticated.Is(err))
	_, err = s.SendPrivate(ctx, "c-bob", "hello")
	assert.True(t, errs.ErrNotAuthenticated.Is(err))
	assert.True(t, errs.ErrNotAuthenticated.Is(s.PrivateHistory(ctx, "c-bob")))
	_, err = s.UnreadCount(ctx)
	assert.True(t, errs.ErrNotAuthenticated.Is(err))
	assert.Equal(t, Anonymous, s.State())

	s.Close(ctx)
	assert.Equal(t, Closed, s.State())
	assert.Zero(t, w.sink.Count(), "anonymous disconnect has no side effects")
}

func TestLoginTransitions(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	s := New("c-1", w.deps)
	_, err := s.Login(ctx, "a")
	assert.True(t, errs.ErrInvalidUsername.Is(err))
	assert.Equal(t, Anonymous, s.State())

	u, err := s.Login(ctx, "  alice  ")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, "alice", s.Username())

	_, err = s.Login(ctx, "bob")
	assert.True(t, errs.ErrAlreadyAuthenticated.Is(err))

	s.Close(ctx)
	_, err = s.Login(ctx, "alice")
	assert.Error(t, err, "no transition out of closed")
	assert.Equal(t, Closed, s.State())
}

func TestLoginStoreFailure(t *testing.T) {
	w := newWorld(t)
	w.store.FailUsers.Store(true)

	s := New("c-1", w.deps)
	_, err := s.Login(context.Background(), "alice")
	assert.True(t, errs.ErrStoreUnavailable.Is(err))
	assert.Equal(t, Anonymous, s.State())
	assert.Zero(t, w.sink.Count())
}

func TestReusedUsernameKeepsIdentity(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()

	first := New("c-1", w.deps)
	u1, err := first.Login(ctx, "alice")
	require.NoError(t, err)
	first.Close(ctx)

	second := New("c-2", w.deps)
	u2, err := second.Login(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, u1.ID, u2.ID)
}

func TestDuplicateLoginEvictsPrevious(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	old := w.connect(t, "c-old", "alice")
	w.connect(t, "c-bob", "bob")

	w.connect(t, "c-new", "alice")
	assert.True(t, w.sink.IsClosed("c-old"))
	ev, ok := w.sink.Last("c-old", model.EventError)
	require.True(t, ok)
	assert.Equal(t, EvictedReason, ev.Data)

	up, _ := w.sink.Last("c-bob", model.EventUsersUpdate)
	assert.Equal(t, []string{"alice", "bob"}, onlineNames(t, up))

	// 被挤掉的旧连接随后断开：不广播 left，alice 仍在线
	w.sink.Reset()
	old.Close(ctx)
	assert.Empty(t, w.sink.Types("c-bob"))
	conn, ok := w.deps.Registry.ResolveConnection("alice")
	require.True(t, ok)
	assert.Equal(t, "c-new", conn)

	_, err := old.SendPublic(ctx, "ghost")
	assert.True(t, errs.ErrNotAuthenticated.Is(err))
}

func TestMarkRead(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	alice := w.connect(t, "c-alice", "alice")
	bob := w.connect(t, "c-bob", "bob")

	for _, c := range []string{"one", "two"} {
		_, err := bob.SendPrivate(ctx, "c-alice", c)
		require.NoError(t, err)
	}
	n, err := alice.MarkRead(ctx, "c-bob")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = alice.MarkRead(ctx, "c-bob")
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = alice.MarkRead(ctx, "c-ghost")
	assert.True(t, errs.ErrRecipientOffline.Is(err))
}
