// Package memstore is the in-process Store: bounded public log, private messages
// per conversation, users keyed by username. State is lost on restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"PChat/data/store"
	"PChat/module/chat/model"
	"PChat/tools/errs"
	"PChat/tools/ids"
)

const DefaultCapacity = 100

type Option func(*Store)

// WithCapacity public log 保留条数
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock 注入时钟（单测用）
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

type Store struct {
	mu       sync.RWMutex
	capacity int
	public   []*model.Message
	private  map[string][]*model.PrivateMessage // conversationID -> 按写入顺序
	users    map[string]*model.User             // username -> user

	publicTotal  int64
	privateTotal int64

	now   func() time.Time
	newID func() int64
}

var _ store.Store = (*Store)(nil)

func New(opts ...Option) *Store {
	s := &Store{
		capacity: DefaultCapacity,
		private:  make(map[string][]*model.PrivateMessage),
		users:    make(map[string]*model.User),
		now:      time.Now,
		newID:    ids.Generate,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) AppendPublicMessage(_ context.Context, msg *model.Message) error {
	if msg == nil {
		return errs.ErrArgs.WrapMsg("nil message")
	}
	cp := *msg
	s.mu.Lock()
	defer s.mu.Unlock()
	s.public = append(s.public, &cp)
	if len(s.public) > s.capacity {
		// 超出容量丢最旧的，copy 一份避免底层数组无限增长
		trimmed := make([]*model.Message, s.capacity)
		copy(trimmed, s.public[len(s.public)-s.capacity:])
		s.public = trimmed
	}
	s.publicTotal++
	return nil
}

func (s *Store) AppendPrivateMessage(_ context.Context, msg *model.PrivateMessage) error {
	if msg == nil || msg.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("private message without conversation")
	}
	cp := *msg
	s.mu.Lock()
	defer s.mu.Unlock()
	s.private[cp.ConversationID] = append(s.private[cp.ConversationID], &cp)
	s.privateTotal++
	return nil
}

func (s *Store) QueryRecentPublic(_ context.Context, limit int) ([]*model.Message, error) {
	limit = store.Limit(limit, store.DefaultPublicLimit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if len(s.public) > limit {
		start = len(s.public) - limit
	}
	out := make([]*model.Message, 0, len(s.public)-start)
	for _, m := range s.public[start:] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) QueryConversation(_ context.Context, conversationID string, limit int) ([]*model.PrivateMessage, error) {
	limit = store.Limit(limit, store.DefaultPrivateLimit)
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.private[conversationID]
	start := 0
	if len(msgs) > limit {
		start = len(msgs) - limit
	}
	out := make([]*model.PrivateMessage, 0, len(msgs)-start)
	for _, m := range msgs[start:] {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) CountUnread(_ context.Context, userID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, msgs := range s.private {
		for _, m := range msgs {
			if m.ToUserID == userID && !m.IsRead {
				n++
			}
		}
	}
	return n, nil
}

func (s *Store) MarkConversationRead(_ context.Context, conversationID string, recipientID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.private[conversationID] {
		if m.ToUserID == recipientID && !m.IsRead {
			m.IsRead = true
			n++
		}
	}
	return n, nil
}

func (s *Store) FindOrCreateUser(_ context.Context, username string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[username]; ok {
		return u.Clone(), nil
	}
	now := s.now()
	u := &model.User{
		ID:        s.newID(),
		Username:  username,
		LastSeen:  now,
		CreatedAt: now,
	}
	s.users[username] = u
	return u.Clone(), nil
}

func (s *Store) FindUser(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, errs.ErrUserNotFound.WrapMsg("memstore", "username", username)
	}
	return u.Clone(), nil
}

func (s *Store) SetUserOnline(_ context.Context, username string) error {
	return s.setOnline(username, true)
}

func (s *Store) SetUserOffline(_ context.Context, username string) error {
	return s.setOnline(username, false)
}

func (s *Store) setOnline(username string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return errs.ErrUserNotFound.WrapMsg("memstore", "username", username)
	}
	u.IsOnline = online
	u.LastSeen = s.now()
	return nil
}

func (s *Store) Stats(_ context.Context) (store.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.Stats{
		TotalUsers:           int64(len(s.users)),
		TotalMessages:        s.publicTotal,
		TotalPrivateMessages: s.privateTotal,
	}, nil
}

func (s *Store) Close(context.Context) error { return nil }
