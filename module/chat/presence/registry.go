// Package presence owns the live connection -> user mapping.
//
// The registry is the only source of truth for "who is online". It holds no I/O
// under its map lock: store calls happen before the map mutation on bind and after
// it on unbind. Bind and Unbind for the same username are serialized by a striped
// per-user lock so the persisted online flag is written in registry order.
package presence

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"PChat/data/store"
	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/tools/errs"

	"go.uber.org/zap"
)

// Entry 一条在线记录
type Entry struct {
	ConnID   string
	Username string
	UserID   int64
	BoundAt  time.Time
}

func (e Entry) OnlineUser() model.OnlineUser {
	return model.OnlineUser{ConnectionID: e.ConnID, Username: e.Username}
}

// UserStore 注册表用到的那部分存储接口
type UserStore interface {
	FindOrCreateUser(ctx context.Context, username string) (*model.User, error)
	SetUserOnline(ctx context.Context, username string) error
	SetUserOffline(ctx context.Context, username string) error
}

// Observer 绑定/解绑之后的回调（例如 redis 在线镜像），在锁外同步调用
type Observer interface {
	OnBind(ctx context.Context, e Entry)
	OnUnbind(ctx context.Context, e Entry)
}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.clock = now }
}

type Registry struct {
	mu     sync.RWMutex
	byConn map[string]Entry  // 主索引：connID -> entry
	byUser map[string]string // 辅助索引：username -> connID（最后一次登录的那条）

	users     UserStore
	observers []Observer
	clock     func() time.Time

	userMu [userStripes]sync.Mutex
}

const userStripes = 64

// lockUser 同名用户的 Bind/Unbind 串行：在线标记的落库顺序与注册表一致
func (r *Registry) lockUser(username string) (unlock func()) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	m := &r.userMu[h.Sum32()%userStripes]
	m.Lock()
	return m.Unlock
}

func New(users UserStore, opts ...Option) *Registry {
	r := &Registry{
		byConn: make(map[string]Entry),
		byUser: make(map[string]string),
		users:  users,
		clock:  time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Bind 找到或创建用户、标记在线，并把 connID 绑定到该用户。
// 同名用户已有其他连接时，旧连接被移出注册表，其 connID 作为 evicted 返回，
// 由调用方决定如何通知/关闭它。
func (r *Registry) Bind(ctx context.Context, connID, username string) (user *model.User, evicted string, err error) {
	if connID == "" || username == "" {
		return nil, "", errs.ErrArgs.WrapMsg("bind", "conn", connID, "username", username)
	}
	defer r.lockUser(username)()

	user, err = r.users.FindOrCreateUser(ctx, username)
	if err != nil {
		return nil, "", store.Unavailable(err, "find or create user", "username", username)
	}
	if err = r.users.SetUserOnline(ctx, username); err != nil {
		return nil, "", store.Unavailable(err, "set user online", "username", username)
	}
	user.IsOnline = true

	entry := Entry{ConnID: connID, Username: user.Username, UserID: user.ID, BoundAt: r.clock()}

	r.mu.Lock()
	// 同一连接重复绑定到别的用户名：先摘掉旧的用户索引
	if old, ok := r.byConn[connID]; ok && old.Username != entry.Username {
		if r.byUser[old.Username] == connID {
			delete(r.byUser, old.Username)
		}
	}
	if prev, ok := r.byUser[entry.Username]; ok && prev != connID {
		delete(r.byConn, prev)
		evicted = prev
	}
	r.byConn[connID] = entry
	r.byUser[entry.Username] = connID
	r.mu.Unlock()

	if evicted != "" {
		logger.Info("[presence] previous connection evicted",
			zap.String("username", entry.Username),
			zap.String("evicted", evicted),
			zap.String("conn", connID))
	}
	for _, o := range r.observers {
		o.OnBind(ctx, entry)
	}
	return user, evicted, nil
}

// Unbind 移除 connID 的绑定并把用户标记离线；未绑定过的连接返回 false
func (r *Registry) Unbind(ctx context.Context, connID string) (string, bool) {
	r.mu.RLock()
	entry, ok := r.byConn[connID]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	defer r.lockUser(entry.Username)()

	// 拿到用户锁之前可能已被同名新连接挤掉
	r.mu.Lock()
	entry, ok = r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
		if r.byUser[entry.Username] == connID {
			delete(r.byUser, entry.Username)
		}
	}
	r.mu.Unlock()
	if !ok {
		return "", false
	}

	if err := r.users.SetUserOffline(ctx, entry.Username); err != nil {
		logger.Warn("[presence] set user offline failed",
			zap.String("username", entry.Username), zap.Error(err))
	}
	for _, o := range r.observers {
		o.OnUnbind(ctx, entry)
	}
	return entry.Username, true
}

func (r *Registry) Resolve(connID string) (string, bool) {
	e, ok := r.Lookup(connID)
	return e.Username, ok
}

func (r *Registry) Lookup(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byConn[connID]
	return e, ok
}

func (r *Registry) ResolveConnection(username string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byUser[username]
	return c, ok
}

// ListOnline 当前在线快照，按用户名排序
func (r *Registry) ListOnline() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.byConn))
	for _, e := range r.byConn {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Username != out[j].Username {
			return out[i].Username < out[j].Username
		}
		return out[i].ConnID < out[j].ConnID
	})
	return out
}

// ConnIDs 所有已绑定连接，用于 fan-out
func (r *Registry) ConnIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byConn))
	for id := range r.byConn {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
