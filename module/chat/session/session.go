package session

import (
	"context"
	"sync"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/module/chat/presence"
	"PChat/module/chat/service"
	"PChat/tools/errs"

	"go.uber.org/zap"
)

// EvictedReason 同名用户在新连接登录后，旧连接收到的提示
const EvictedReason = "signed in from another connection"

type State int32

const (
	Anonymous State = iota
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Deps 所有会话共享的组件，由 main 装配后注入
type Deps struct {
	Registry *presence.Registry
	Router   *service.Router
	Reads    *service.ReadState
	Sink     service.Sink
}

// Session 单条连接的状态机：Anonymous -> Authenticated -> Closed。
// 同一连接的事件由读协程串行调用，mu 只防 Close 与事件处理交叉。
type Session struct {
	connID string
	deps   Deps
	log    *zap.Logger

	mu       sync.Mutex
	state    State
	username string
}

func New(connID string, deps Deps) *Session {
	return &Session{
		connID: connID,
		deps:   deps,
		log:    logger.Named("session").With(zap.String("conn", connID)),
	}
}

func (s *Session) ConnID() string { return s.connID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Login 绑定用户名。成功后依次下发：message:history 给自己，
// users:update 给所有人，再广播一条 "<name> joined" 系统消息。
func (s *Session) Login(ctx context.Context, raw string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Authenticated:
		return nil, errs.ErrAlreadyAuthenticated.WrapMsg("login", "username", s.username)
	case Closed:
		return nil, errs.ErrNotAuthenticated.WrapMsg("login on closed connection")
	}

	name, err := model.NormalizeUsername(raw)
	if err != nil {
		return nil, err
	}
	user, evicted, err := s.deps.Registry.Bind(ctx, s.connID, name)
	if err != nil {
		return nil, err
	}
	s.state = Authenticated
	s.username = user.Username
	s.log.Info("login", zap.String("username", name), zap.Int64("userID", user.ID))

	if evicted != "" {
		s.deps.Sink.Close(evicted, EvictedReason)
	}

	history, err := s.deps.Router.RecentPublic(ctx, 0)
	if err != nil {
		s.log.Warn("load public history failed", zap.Error(err))
		s.deps.Sink.Send(s.connID, model.NewEvent(model.EventError, errs.Reason(err)))
	} else {
		if history == nil {
			history = []*model.Message{}
		}
		s.deps.Sink.Send(s.connID, model.NewEvent(model.EventHistory, history))
	}

	s.deps.Router.BroadcastPresence()
	if _, err := s.deps.Router.SystemNotice(ctx, name+" joined"); err != nil {
		s.log.Warn("join notice failed", zap.Error(err))
	}
	return user, nil
}

func (s *Session) requireAuth(op string) error {
	if s.state != Authenticated {
		return errs.ErrNotAuthenticated.WrapMsg(op, "conn", s.connID, "state", s.state.String())
	}
	return nil
}

func (s *Session) SendPublic(ctx context.Context, content string) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAuth("send public"); err != nil {
		return nil, err
	}
	return s.deps.Router.SendPublic(ctx, s.connID, content)
}

func (s *Session) SendPrivate(ctx context.Context, targetConnID, content string) (*model.PrivateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAuth("send private"); err != nil {
		return nil, err
	}
	return s.deps.Router.SendPrivate(ctx, s.connID, targetConnID, content)
}

// PrivateHistory 拉取与目标连接的会话历史并回给自己；会把对方发来的消息标为已读
func (s *Session) PrivateHistory(ctx context.Context, targetConnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAuth("private history"); err != nil {
		return err
	}
	h, err := s.deps.Router.PrivateHistory(ctx, s.connID, targetConnID)
	if err != nil {
		return err
	}
	s.deps.Sink.Send(s.connID, model.NewEvent(model.EventPrivateHistory, h))
	return nil
}

// UnreadCount 回 message:unread {count}
func (s *Session) UnreadCount(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAuth("unread count"); err != nil {
		return 0, err
	}
	return s.sendUnread(ctx)
}

// MarkRead 不拉历史，只把目标连接对应用户发来的消息标为已读，然后回最新未读数
func (s *Session) MarkRead(ctx context.Context, targetConnID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireAuth("mark read"); err != nil {
		return 0, err
	}
	other, ok := s.deps.Registry.Resolve(targetConnID)
	if !ok {
		return 0, errs.ErrRecipientOffline.WrapMsg("mark read", "target", targetConnID)
	}
	if _, err := s.deps.Reads.MarkConversationRead(ctx, s.username, other); err != nil {
		return 0, err
	}
	return s.sendUnread(ctx)
}

func (s *Session) sendUnread(ctx context.Context) (int64, error) {
	n, err := s.deps.Reads.UnreadCount(ctx, s.username)
	if err != nil {
		return 0, err
	}
	s.deps.Sink.Send(s.connID, model.NewEvent(model.EventUnread, model.UnreadCount{Count: n}))
	return n, nil
}

// Close 连接断开。已登录的会话解绑、广播在线列表和 "<name> left"；
// 被同名新连接挤掉的会话已不在注册表里，不再广播。可重复调用。
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = Closed
	if prev != Authenticated {
		return
	}

	name, ok := s.deps.Registry.Unbind(ctx, s.connID)
	if !ok {
		s.log.Debug("closed after eviction", zap.String("username", s.username))
		return
	}
	s.log.Info("logout", zap.String("username", name))
	s.deps.Router.BroadcastPresence()
	if _, err := s.deps.Router.SystemNotice(ctx, name+" left"); err != nil {
		s.log.Warn("leave notice failed", zap.Error(err))
	}
}
