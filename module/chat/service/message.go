package service

import (
	"context"
	"sync"
	"time"

	"PChat/data/store"
	"PChat/logger"
	"PChat/module/chat/conversation"
	"PChat/module/chat/model"
	"PChat/module/chat/presence"
	"PChat/tools/errs"
	"PChat/tools/ids"
	"PChat/tools/safe"

	"go.uber.org/zap"
)

type Config struct {
	PublicHistoryLimit  int
	PrivateHistoryLimit int
	PublishQueue        int           // 外部发布队列长度
	PublishTimeout      time.Duration // 单次发布超时
}

func (c *Config) norm() {
	if c.PublicHistoryLimit <= 0 {
		c.PublicHistoryLimit = store.DefaultPublicLimit
	}
	if c.PrivateHistoryLimit <= 0 {
		c.PrivateHistoryLimit = store.DefaultPrivateLimit
	}
	if c.PublishQueue <= 0 {
		c.PublishQueue = 1024
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 3 * time.Second
	}
}

type Option func(*Router)

func WithPublisher(p Publisher) Option {
	return func(r *Router) { r.pub = p }
}

func WithConfig(c Config) Option {
	return func(r *Router) { r.conf = c }
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.clock = now }
}

// Router 校验发送方、先落库再投递（persist-before-publish）。
// 落库失败时不会有任何连接收到这条消息。
type Router struct {
	store store.Store
	reg   *presence.Registry
	sink  Sink
	conf  Config
	clock func() time.Time
	newID func() int64

	// 快照和入队必须成对完成，否则后拍的快照可能先入队，连接停在旧列表上
	presenceMu sync.Mutex

	pub      Publisher
	pubCh    chan model.Event
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewRouter(st store.Store, reg *presence.Registry, sink Sink, opts ...Option) *Router {
	r := &Router{
		store: st,
		reg:   reg,
		sink:  sink,
		clock: time.Now,
		newID: ids.Generate,
	}
	for _, o := range opts {
		o(r)
	}
	r.conf.norm()
	if r.pub != nil {
		r.pubCh = make(chan model.Event, r.conf.PublishQueue)
		r.stopCh = make(chan struct{})
		r.done = make(chan struct{})
		safe.Go("router-publisher", r.publishLoop)
	}
	return r
}

func (r *Router) Config() Config { return r.conf }

// SendPublic 大厅消息：落库后投递给所有已绑定连接（包括发送者）
func (r *Router) SendPublic(ctx context.Context, connID, content string) (*model.Message, error) {
	sender, ok := r.reg.Lookup(connID)
	if !ok {
		return nil, errs.ErrNotAuthenticated.WrapMsg("send public", "conn", connID)
	}
	content, err := model.NormalizeContent(content)
	if err != nil {
		return nil, err
	}

	msg := &model.Message{
		ID:           r.newID(),
		Type:         model.MessageTypeUser,
		ConnectionID: connID,
		UserID:       sender.UserID,
		Username:     sender.Username,
		Content:      content,
		Timestamp:    r.clock(),
	}
	if err := r.store.AppendPublicMessage(ctx, msg); err != nil {
		return nil, store.Unavailable(err, "append public message", "conn", connID)
	}
	r.broadcastAll(model.NewEvent(model.EventNew, msg))
	return msg, nil
}

// SystemNotice 系统消息（加入/离开），和用户消息走同一条落库+广播路径
func (r *Router) SystemNotice(ctx context.Context, content string) (*model.Message, error) {
	msg := &model.Message{
		ID:        r.newID(),
		Type:      model.MessageTypeSystem,
		Content:   content,
		Timestamp: r.clock(),
	}
	if err := r.store.AppendPublicMessage(ctx, msg); err != nil {
		return nil, store.Unavailable(err, "append system message")
	}
	r.broadcastAll(model.NewEvent(model.EventNew, msg))
	return msg, nil
}

// BroadcastPresence 向所有在线连接推送 users:update
func (r *Router) BroadcastPresence() {
	r.presenceMu.Lock()
	defer r.presenceMu.Unlock()

	entries := r.reg.ListOnline()
	users := make([]model.OnlineUser, 0, len(entries))
	conns := make([]string, 0, len(entries))
	for _, e := range entries {
		users = append(users, e.OnlineUser())
		conns = append(conns, e.ConnID)
	}
	ev := model.NewEvent(model.EventUsersUpdate, users)
	r.sink.Broadcast(conns, ev)
	r.publish(ev)
}

// SendPrivate 私聊：目标必须当前在线；落库后只投递给发送方和接收方
func (r *Router) SendPrivate(ctx context.Context, connID, targetConnID, content string) (*model.PrivateMessage, error) {
	sender, ok := r.reg.Lookup(connID)
	if !ok {
		return nil, errs.ErrNotAuthenticated.WrapMsg("send private", "conn", connID)
	}
	recipient, ok := r.reg.Lookup(targetConnID)
	if !ok {
		return nil, errs.ErrRecipientOffline.WrapMsg("send private", "target", targetConnID)
	}
	content, err := model.NormalizeContent(content)
	if err != nil {
		return nil, err
	}

	msg := &model.PrivateMessage{
		ID:             r.newID(),
		Type:           model.MessageTypePrivate,
		FromUserID:     sender.UserID,
		FromUsername:   sender.Username,
		ToUserID:       recipient.UserID,
		ToUsername:     recipient.Username,
		Content:        content,
		ConversationID: conversation.ForUsers(sender.UserID, recipient.UserID),
		IsRead:         false,
		Timestamp:      r.clock(),
	}
	if err := r.store.AppendPrivateMessage(ctx, msg); err != nil {
		return nil, store.Unavailable(err, "append private message", "conversation", msg.ConversationID)
	}

	ev := model.NewEvent(model.EventPrivate, msg)
	r.sink.Send(connID, ev)
	if targetConnID != connID {
		r.sink.Send(targetConnID, ev)
	}
	r.publish(ev)
	return msg, nil
}

// RecentPublic 最近 limit 条大厅消息，最旧在前
func (r *Router) RecentPublic(ctx context.Context, limit int) ([]*model.Message, error) {
	msgs, err := r.store.QueryRecentPublic(ctx, store.Limit(limit, r.conf.PublicHistoryLimit))
	if err != nil {
		return nil, store.Unavailable(err, "query recent public")
	}
	return msgs, nil
}

// History 会话历史，最旧在前。
//
// 读历史即消费未读：返回前会把会话里发给 requesterID 的消息全部标为已读，
// 返回结果里这些消息的 IsRead 也已是 true。标记失败则整个调用失败。
func (r *Router) History(ctx context.Context, conversationID string, requesterID int64, limit int) ([]*model.PrivateMessage, error) {
	if !conversation.Involves(conversationID, requesterID) {
		return nil, errs.ErrArgs.WrapMsg("not a participant", "conversation", conversationID, "user", requesterID)
	}
	msgs, err := r.store.QueryConversation(ctx, conversationID, store.Limit(limit, r.conf.PrivateHistoryLimit))
	if err != nil {
		return nil, store.Unavailable(err, "query conversation", "conversation", conversationID)
	}
	if _, err := r.store.MarkConversationRead(ctx, conversationID, requesterID); err != nil {
		return nil, store.Unavailable(err, "mark conversation read", "conversation", conversationID)
	}
	for _, m := range msgs {
		if m.AddressedTo(requesterID) {
			m.IsRead = true
		}
	}
	return msgs, nil
}

// PrivateHistory 按连接寻址的会话历史（message:private:history）
func (r *Router) PrivateHistory(ctx context.Context, connID, targetConnID string) (*model.PrivateHistory, error) {
	requester, ok := r.reg.Lookup(connID)
	if !ok {
		return nil, errs.ErrNotAuthenticated.WrapMsg("private history", "conn", connID)
	}
	target, ok := r.reg.Lookup(targetConnID)
	if !ok {
		return nil, errs.ErrRecipientOffline.WrapMsg("private history", "target", targetConnID)
	}
	msgs, err := r.History(ctx, conversation.ForUsers(requester.UserID, target.UserID), requester.UserID, 0)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*model.PrivateMessage{}
	}
	return &model.PrivateHistory{TargetConnectionID: targetConnID, Messages: msgs}, nil
}

func (r *Router) broadcastAll(ev model.Event) {
	r.sink.Broadcast(r.reg.ConnIDs(), ev)
	r.publish(ev)
}

func (r *Router) publish(ev model.Event) {
	if r.pub == nil {
		return
	}
	select {
	case r.pubCh <- ev:
	default:
		logger.Warn("[router] publish queue full, drop event", zap.String("type", ev.Type))
	}
}

func (r *Router) publishLoop() {
	defer close(r.done)
	for {
		select {
		case <-r.stopCh:
			return
		case ev := <-r.pubCh:
			ctx, cancel := context.WithTimeout(context.Background(), r.conf.PublishTimeout)
			if err := r.pub.Publish(ctx, ev); err != nil {
				logger.Warn("[router] publish event failed", zap.String("type", ev.Type), zap.Error(err))
			}
			cancel()
		}
	}
}

// Close 停止外部发布协程，未发出的事件丢弃
func (r *Router) Close() {
	if r.pub == nil {
		return
	}
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}
