package pg

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"PChat/data/store"
	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/tools/errs"
	"PChat/tools/ids"
	"PChat/tools/safe"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const defaultAttemptTimeout = 30 * time.Second

type Config struct {
	DSN         string
	MaxConns    int32
	OpTimeout   time.Duration
	InitTimeout time.Duration // 单次连库 + 建表的超时
}

// Store 基于 Postgres(pgxpool) 的 store.Store。
// 连库和建表在后台按指数退避重试，完成之前所有调用快速返回 StoreUnavailable。
// 连上之后的断线由 pgxpool 自己重拨。
type Store struct {
	pool      atomic.Pointer[pgxpool.Pool]
	ready     chan struct{}
	opTimeout time.Duration
	now       func() time.Time
	newID     func() int64

	cancel context.CancelFunc
	done   chan struct{}
}

var _ store.Store = (*Store)(nil)

// Open 只校验 DSN，连接在后台进行，直到 ctx 结束或 Close
func Open(ctx context.Context, cfg Config) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg("parse postgres dsn: " + err.Error())
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	attempt := cfg.InitTimeout
	if attempt <= 0 {
		attempt = defaultAttemptTimeout
	}

	s := &Store{
		ready:     make(chan struct{}),
		opTimeout: cfg.OpTimeout,
		now:       time.Now,
		newID:     ids.Generate,
		done:      make(chan struct{}),
	}
	ctx, s.cancel = context.WithCancel(ctx)
	safe.Go("pg-connect", func() {
		defer close(s.done)
		s.connect(ctx, pcfg, attempt)
	})
	return s, nil
}

func (s *Store) connect(ctx context.Context, pcfg *pgxpool.Config, attempt time.Duration) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0 // 永不放弃

	op := func() error {
		actx, cancel := context.WithTimeout(ctx, attempt)
		defer cancel()
		p, err := pgxpool.NewWithConfig(ctx, pcfg.Copy())
		if err != nil {
			return err
		}
		if err := migrate(actx, p); err != nil {
			p.Close()
			return err
		}
		s.pool.Store(p)
		close(s.ready)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("[pg] connect failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() == nil {
			logger.Error("[pg] giving up", zap.Error(err))
		}
		return
	}
	logger.Info("[pg] connected", zap.Int32("maxConns", pcfg.MaxConns))
}

// WaitReady 等到首次连上并建好表
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func migrate(ctx context.Context, p *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// conn 取连接池并套上单次操作超时；未连上返回 StoreUnavailable
func (s *Store) conn(ctx context.Context) (*pgxpool.Pool, context.Context, context.CancelFunc, error) {
	p := s.pool.Load()
	if p == nil {
		return nil, ctx, func() {}, errs.ErrStoreUnavailable.WrapMsg("postgres not connected")
	}
	if s.opTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		return p, ctx, cancel, nil
	}
	return p, ctx, func() {}, nil
}

func (s *Store) AppendPublicMessage(ctx context.Context, msg *model.Message) error {
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	_, err = p.Exec(ctx,
		`INSERT INTO messages (id, type, connection_id, user_id, username, content, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.Type, msg.ConnectionID, msg.UserID, msg.Username, msg.Content, msg.Timestamp)
	if err != nil {
		return store.Unavailable(err, "insert message")
	}
	return nil
}

func (s *Store) AppendPrivateMessage(ctx context.Context, msg *model.PrivateMessage) error {
	if msg.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("private message without conversation id")
	}
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	_, err = p.Exec(ctx,
		`INSERT INTO private_messages
		 (id, from_user_id, from_username, to_user_id, to_username, content, conversation_id, is_read, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		msg.ID, msg.FromUserID, msg.FromUsername, msg.ToUserID, msg.ToUsername,
		msg.Content, msg.ConversationID, msg.IsRead, msg.Timestamp)
	if err != nil {
		return store.Unavailable(err, "insert private message", "conversation", msg.ConversationID)
	}
	return nil
}

func scanMessage(row pgx.CollectableRow) (*model.Message, error) {
	var m model.Message
	err := row.Scan(&m.ID, &m.Type, &m.ConnectionID, &m.UserID, &m.Username, &m.Content, &m.Timestamp)
	return &m, err
}

func scanPrivate(row pgx.CollectableRow) (*model.PrivateMessage, error) {
	m := model.PrivateMessage{Type: model.MessageTypePrivate}
	err := row.Scan(&m.ID, &m.FromUserID, &m.FromUsername, &m.ToUserID, &m.ToUsername,
		&m.Content, &m.ConversationID, &m.IsRead, &m.Timestamp)
	return &m, err
}

// 子查询倒序取最近 N 条，外层再正序
func (s *Store) QueryRecentPublic(ctx context.Context, limit int) ([]*model.Message, error) {
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	rows, err := p.Query(ctx,
		`SELECT id, type, connection_id, user_id, username, content, sent_at FROM (
		   SELECT * FROM messages ORDER BY sent_at DESC, id DESC LIMIT $1
		 ) t ORDER BY sent_at, id`,
		store.Limit(limit, store.DefaultPublicLimit))
	if err != nil {
		return nil, store.Unavailable(err, "query messages")
	}
	out, err := pgx.CollectRows(rows, scanMessage)
	if err != nil {
		return nil, store.Unavailable(err, "scan messages")
	}
	return out, nil
}

func (s *Store) QueryConversation(ctx context.Context, conversationID string, limit int) ([]*model.PrivateMessage, error) {
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	rows, err := p.Query(ctx,
		`SELECT id, from_user_id, from_username, to_user_id, to_username, content, conversation_id, is_read, sent_at FROM (
		   SELECT * FROM private_messages WHERE conversation_id = $1 ORDER BY sent_at DESC, id DESC LIMIT $2
		 ) t ORDER BY sent_at, id`,
		conversationID, store.Limit(limit, store.DefaultPrivateLimit))
	if err != nil {
		return nil, store.Unavailable(err, "query private messages", "conversation", conversationID)
	}
	out, err := pgx.CollectRows(rows, scanPrivate)
	if err != nil {
		return nil, store.Unavailable(err, "scan private messages", "conversation", conversationID)
	}
	return out, nil
}

func (s *Store) CountUnread(ctx context.Context, userID int64) (int64, error) {
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	var n int64
	err = p.QueryRow(ctx,
		`SELECT count(*) FROM private_messages WHERE to_user_id = $1 AND NOT is_read`, userID).Scan(&n)
	if err != nil {
		return 0, store.Unavailable(err, "count unread", "user", userID)
	}
	return n, nil
}

func (s *Store) MarkConversationRead(ctx context.Context, conversationID string, recipientID int64) (int64, error) {
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer cancel()
	tag, err := p.Exec(ctx,
		`UPDATE private_messages SET is_read = TRUE
		 WHERE conversation_id = $1 AND to_user_id = $2 AND NOT is_read`,
		conversationID, recipientID)
	if err != nil {
		return 0, store.Unavailable(err, "mark read", "conversation", conversationID)
	}
	return tag.RowsAffected(), nil
}

const userColumns = `id, username, is_online, last_seen, created_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.IsOnline, &u.LastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// FindOrCreateUser 一条 upsert 搞定，并发首次登录也只会有一行
func (s *Store) FindOrCreateUser(ctx context.Context, username string) (*model.User, error) {
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	now := s.now()
	u, err := scanUser(p.QueryRow(ctx,
		`INSERT INTO users (id, username, is_online, last_seen, created_at)
		 VALUES ($1, $2, FALSE, $3, $3)
		 ON CONFLICT (username) DO UPDATE SET last_seen = EXCLUDED.last_seen
		 RETURNING `+userColumns,
		s.newID(), username, now))
	if err != nil {
		return nil, store.Unavailable(err, "find or create user", "username", username)
	}
	return u, nil
}

func (s *Store) FindUser(ctx context.Context, username string) (*model.User, error) {
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	u, err := scanUser(p.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrUserNotFound.WrapMsg("find user", "username", username)
	}
	if err != nil {
		return nil, store.Unavailable(err, "find user", "username", username)
	}
	return u, nil
}

func (s *Store) SetUserOnline(ctx context.Context, username string) error {
	return s.setOnline(ctx, username, true)
}

func (s *Store) SetUserOffline(ctx context.Context, username string) error {
	return s.setOnline(ctx, username, false)
}

func (s *Store) setOnline(ctx context.Context, username string, online bool) error {
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	tag, err := p.Exec(ctx,
		`UPDATE users SET is_online = $2, last_seen = $3 WHERE username = $1`,
		username, online, s.now())
	if err != nil {
		return store.Unavailable(err, "set user presence", "username", username)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrUserNotFound.WrapMsg("set user presence", "username", username)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	p, ctx, cancel, err := s.conn(ctx)
	if err != nil {
		return store.Stats{}, err
	}
	defer cancel()
	var st store.Stats
	err = p.QueryRow(ctx,
		`SELECT (SELECT count(*) FROM users),
		        (SELECT count(*) FROM messages),
		        (SELECT count(*) FROM private_messages)`,
	).Scan(&st.TotalUsers, &st.TotalMessages, &st.TotalPrivateMessages)
	if err != nil {
		return store.Stats{}, store.Unavailable(err, "stats")
	}
	return st, nil
}

// Close 停止后台连接并关闭连接池
func (s *Store) Close(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if p := s.pool.Load(); p != nil {
		p.Close()
	}
	return nil
}
