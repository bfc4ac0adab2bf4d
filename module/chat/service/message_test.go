package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"PChat/data/store/memstore"
	"PChat/module/chat/conversation"
	"PChat/module/chat/model"
	"PChat/module/chat/presence"
	"PChat/module/chat/service/servicetest"
	"PChat/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store  *servicetest.FlakyStore
	reg    *presence.Registry
	sink   *servicetest.Sink
	router *Router
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st := servicetest.NewFlakyStore(memstore.New())
	reg := presence.New(st)
	sink := servicetest.NewSink()
	r := NewRouter(st, reg, sink, opts...)
	t.Cleanup(r.Close)
	return &fixture{store: st, reg: reg, sink: sink, router: r}
}

func (f *fixture) login(t *testing.T, conn, name string) *model.User {
	t.Helper()
	u, _, err := f.reg.Bind(context.Background(), conn, name)
	require.NoError(t, err)
	return u
}

func TestSendPublicFansOutToAllBound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "c-alice", "alice")
	f.login(t, "c-bob", "bob")

	msg, err := f.router.SendPublic(ctx, "c-alice", "  hello room  ")
	require.NoError(t, err)
	assert.Equal(t, "hello room", msg.Content)
	assert.Equal(t, model.MessageTypeUser, msg.Type)
	assert.Equal(t, "alice", msg.Username)

	for _, conn := range []string{"c-alice", "c-bob"} {
		ev, ok := f.sink.Last(conn, model.EventNew)
		require.True(t, ok, conn)
		assert.Same(t, msg, ev.Data)
	}

	logged, err := f.router.RecentPublic(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, msg.ID, logged[0].ID)
}

func TestSendPublicUnauthenticated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "c-bob", "bob")

	_, err := f.router.SendPublic(ctx, "c-anon", "hello")
	assert.True(t, errs.ErrNotAuthenticated.Is(err))
	assert.Zero(t, f.sink.Count())

	logged, err := f.router.RecentPublic(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, logged)
}

func TestSendPublicContentBounds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "c-alice", "alice")

	_, err := f.router.SendPublic(ctx, "c-alice", strings.Repeat("x", 501))
	assert.True(t, errs.ErrInvalidContent.Is(err))

	_, err = f.router.SendPublic(ctx, "c-alice", "   ")
	assert.True(t, errs.ErrInvalidContent.Is(err))

	_, err = f.router.SendPublic(ctx, "c-alice", strings.Repeat("x", 500))
	assert.NoError(t, err)
	assert.Equal(t, 1, f.sink.Count())
}

func TestStoreFailureMeansNoBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "c-alice", "alice")
	f.login(t, "c-bob", "bob")
	f.store.FailAppend.Store(true)

	_, err := f.router.SendPublic(ctx, "c-alice", "lost")
	assert.True(t, errs.ErrStoreUnavailable.Is(err))

	_, err = f.router.SendPrivate(ctx, "c-alice", "c-bob", "lost too")
	assert.True(t, errs.ErrStoreUnavailable.Is(err))

	_, err = f.router.SystemNotice(ctx, "alice joined")
	assert.True(t, errs.ErrStoreUnavailable.Is(err))

	assert.Zero(t, f.sink.Count())
}

func TestSendPrivateErrorsInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "c-alice", "alice")

	_, err := f.router.SendPrivate(ctx, "c-anon", "c-ghost", "")
	assert.True(t, errs.ErrNotAuthenticated.Is(err), "auth is checked first")

	_, err = f.router.SendPrivate(ctx, "c-alice", "c-ghost", "")
	assert.True(t, errs.ErrRecipientOffline.Is(err), "recipient before content")

	f.login(t, "c-bob", "bob")
	_, err = f.router.SendPrivate(ctx, "c-alice", "c-bob", "")
	assert.True(t, errs.ErrInvalidContent.Is(err))
}

func TestSendPrivateDeliversToExactlyTwo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.login(t, "c-alice", "alice")
	bob := f.login(t, "c-bob", "bob")
	f.login(t, "c-carol", "carol")

	msg, err := f.router.SendPrivate(ctx, "c-bob", "c-alice", "hi alice")
	require.NoError(t, err)
	assert.Equal(t, conversation.ForUsers(alice.ID, bob.ID), msg.ConversationID)
	assert.Equal(t, "bob", msg.FromUsername)
	assert.Equal(t, "alice", msg.ToUsername)
	assert.False(t, msg.IsRead)
	assert.Equal(t, model.MessageTypePrivate, msg.Type)

	assert.Equal(t, []string{model.EventPrivate}, f.sink.Types("c-alice"))
	assert.Equal(t, []string{model.EventPrivate}, f.sink.Types("c-bob"))
	assert.Empty(t, f.sink.Types("c-carol"))

	a, _ := f.sink.Last("c-alice", model.EventPrivate)
	b, _ := f.sink.Last("c-bob", model.EventPrivate)
	assert.Same(t, a.Data, b.Data, "both parties get the identical payload")
}

func TestHistorySymmetricAndMarksRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.login(t, "c-alice", "alice")
	bob := f.login(t, "c-bob", "bob")

	sent, err := f.router.SendPrivate(ctx, "c-bob", "c-alice", "hi")
	require.NoError(t, err)
	convID := conversation.ForUsers(alice.ID, bob.ID)

	fromBob, err := f.router.History(ctx, convID, bob.ID, 0)
	require.NoError(t, err)
	require.Len(t, fromBob, 1)
	assert.False(t, fromBob[0].IsRead, "bob reading does not consume alice's unread")

	n, _ := NewReadState(f.store).UnreadCount(ctx, "alice")
	assert.Equal(t, int64(1), n)

	fromAlice, err := f.router.History(ctx, convID, alice.ID, 0)
	require.NoError(t, err)
	require.Len(t, fromAlice, 1)
	assert.Equal(t, sent.Content, fromAlice[0].Content)
	assert.Equal(t, sent.ConversationID, fromAlice[0].ConversationID)
	assert.Equal(t, fromBob[0].Content, fromAlice[0].Content)
	assert.True(t, fromAlice[0].IsRead)

	n, _ = NewReadState(f.store).UnreadCount(ctx, "alice")
	assert.Zero(t, n)
}

func TestHistoryRejectsOutsider(t *testing.T) {
	f := newFixture(t)
	_, err := f.router.History(context.Background(), conversation.ForUsers(1, 2), 3, 0)
	assert.True(t, errs.ErrArgs.Is(err))
}

func TestHistoryMarkFailureFailsCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.login(t, "c-alice", "alice")
	bob := f.login(t, "c-bob", "bob")
	_, err := f.router.SendPrivate(ctx, "c-bob", "c-alice", "hi")
	require.NoError(t, err)

	f.store.FailMark.Store(true)
	_, err = f.router.History(ctx, conversation.ForUsers(alice.ID, bob.ID), alice.ID, 0)
	assert.True(t, errs.ErrStoreUnavailable.Is(err))
}

func TestPrivateHistoryByConnection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "c-alice", "alice")
	f.login(t, "c-bob", "bob")

	h, err := f.router.PrivateHistory(ctx, "c-alice", "c-bob")
	require.NoError(t, err)
	assert.Equal(t, "c-bob", h.TargetConnectionID)
	assert.NotNil(t, h.Messages)
	assert.Empty(t, h.Messages)

	_, err = f.router.PrivateHistory(ctx, "c-anon", "c-bob")
	assert.True(t, errs.ErrNotAuthenticated.Is(err))
	_, err = f.router.PrivateHistory(ctx, "c-alice", "c-ghost")
	assert.True(t, errs.ErrRecipientOffline.Is(err))
}

func TestRecentPublicOldestFirstAndCapped(t *testing.T) {
	f := newFixture(t, WithConfig(Config{PublicHistoryLimit: 3}))
	ctx := context.Background()
	f.login(t, "c-alice", "alice")
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		_, err := f.router.SendPublic(ctx, "c-alice", c)
		require.NoError(t, err)
	}
	msgs, err := f.router.RecentPublic(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"3", "4", "5"}, []string{msgs[0].Content, msgs[1].Content, msgs[2].Content})
}

func TestBroadcastPresence(t *testing.T) {
	f := newFixture(t)
	f.login(t, "c-bob", "bob")
	f.login(t, "c-alice", "alice")

	f.router.BroadcastPresence()
	for _, conn := range []string{"c-alice", "c-bob"} {
		ev, ok := f.sink.Last(conn, model.EventUsersUpdate)
		require.True(t, ok)
		assert.Equal(t, []model.OnlineUser{
			{ConnectionID: "c-alice", Username: "alice"},
			{ConnectionID: "c-bob", Username: "bob"},
		}, ev.Data)
	}
}

func TestPerSenderOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "c-alice", "alice")
	f.login(t, "c-bob", "bob")

	for i := 0; i < 20; i++ {
		_, err := f.router.SendPublic(ctx, "c-alice", string(rune('a'+i)))
		require.NoError(t, err)
	}
	evs := f.sink.Events("c-bob")
	require.Len(t, evs, 20)
	for i, ev := range evs {
		assert.Equal(t, string(rune('a'+i)), ev.Data.(*model.Message).Content)
	}
}

type chanPublisher struct {
	mu  sync.Mutex
	got []string
	ch  chan struct{}
}

func (p *chanPublisher) Publish(_ context.Context, ev model.Event) error {
	p.mu.Lock()
	p.got = append(p.got, ev.Type)
	p.mu.Unlock()
	p.ch <- struct{}{}
	return nil
}

func TestPublisherMirrorsEvents(t *testing.T) {
	pub := &chanPublisher{ch: make(chan struct{}, 8)}
	f := newFixture(t, WithPublisher(pub))
	f.login(t, "c-alice", "alice")

	_, err := f.router.SendPublic(context.Background(), "c-alice", "hi")
	require.NoError(t, err)

	select {
	case <-pub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("event was not published")
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, []string{model.EventNew}, pub.got)
}

// stallSink 第一次 users:update 广播卡住，模拟 fanout 分片已满
type stallSink struct {
	*servicetest.Sink
	once    sync.Once
	stalled chan struct{}
	release chan struct{}
}

func (s *stallSink) Broadcast(connIDs []string, ev model.Event) {
	if ev.Type == model.EventUsersUpdate {
		s.once.Do(func() {
			close(s.stalled)
			<-s.release
		})
	}
	s.Sink.Broadcast(connIDs, ev)
}

func TestPresenceSnapshotsEnqueueInOrder(t *testing.T) {
	st := memstore.New()
	reg := presence.New(st)
	sink := &stallSink{Sink: servicetest.NewSink(), stalled: make(chan struct{}), release: make(chan struct{})}
	r := NewRouter(st, reg, sink)
	ctx := context.Background()

	_, _, err := reg.Bind(ctx, "c-alice", "alice")
	require.NoError(t, err)
	first := make(chan struct{})
	go func() {
		defer close(first)
		r.BroadcastPresence()
	}()
	<-sink.stalled

	_, _, err = reg.Bind(ctx, "c-bob", "bob")
	require.NoError(t, err)
	second := make(chan struct{})
	go func() {
		defer close(second)
		r.BroadcastPresence()
	}()

	// 第二次广播要排在卡住的那次后面
	select {
	case <-second:
		t.Fatal("second presence broadcast overtook the stalled one")
	case <-time.After(50 * time.Millisecond):
	}
	close(sink.release)
	<-first
	<-second

	ev, ok := sink.Last("c-alice", model.EventUsersUpdate)
	require.True(t, ok)
	assert.Len(t, ev.Data, reg.Count())
	assert.Equal(t, []model.OnlineUser{
		{ConnectionID: "c-alice", Username: "alice"},
		{ConnectionID: "c-bob", Username: "bob"},
	}, ev.Data)
}
