package mgo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mgo "PChat/data/database/mgo/mongoutil"
	"PChat/logger"
	"PChat/tools/errs"
	"PChat/tools/safe"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
	healthEvery = 10 * time.Second // 健康检查周期
	failThresh  = 3                // 连续失败阈值
)

// atomic.Value 要求每次 Store 的具体类型一致
type errBox struct{ err error }

// OnConnect 每次（重新）连上后执行，比如补索引；失败则断开重连
type OnConnect func(ctx context.Context, db *mongo.Database) error

type Option func(*MongoManager)

func WithOnConnect(f OnConnect) Option {
	return func(m *MongoManager) { m.onConnect = append(m.onConnect, f) }
}

func WithHealthInterval(d time.Duration) Option {
	return func(m *MongoManager) { m.healthEvery = d }
}

// MongoManager 后台连接 Mongo，掉线自动重连。
// 未连上期间 TryGetDB 直接返回 StoreUnavailable，不阻塞调用方。
type MongoManager struct {
	cfg         *mgo.Config
	onConnect   []OnConnect
	healthEvery time.Duration

	mu        sync.RWMutex
	client    *mgo.Client
	readyCh   chan struct{} // 首次就绪通知；只会被 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // errBox
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewManager(cfg *mgo.Config, opts ...Option) *MongoManager {
	m := &MongoManager{
		cfg:         cfg,
		healthEvery: healthEvery,
		readyCh:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// StartAsync 一直运行到 ctx.Done() 或 Close；首次连上时 close readyCh
func (m *MongoManager) StartAsync(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	safe.Go("mongo-manager", func() {
		defer close(m.done)
		for {
			if !m.connect(ctx) {
				return
			}
			m.watch(ctx) // 健康循环结束后回到连接阶段
			if ctx.Err() != nil {
				return
			}
		}
	})
}

// connect 指数退避 + 抖动直到连上；ctx 结束或遇到不可重试错误时返回 false
func (m *MongoManager) connect(ctx context.Context) bool {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseBackoff
	b.MaxInterval = maxBackoff
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0 // 永不放弃

	op := func() error {
		cli, err := mgo.NewMongoDB(ctx, m.cfg)
		if err != nil {
			m.lastErr.Store(errBox{err})
			if !mgo.ShouldRetry(ctx, err) {
				return backoff.Permanent(err)
			}
			return err
		}
		for _, f := range m.onConnect {
			if err := f(ctx, cli.GetDB()); err != nil {
				m.lastErr.Store(errBox{err})
				_ = cli.Disconnect(context.Background())
				return err
			}
		}
		m.mu.Lock()
		m.client = cli
		m.mu.Unlock()
		m.readyOnce.Do(func() { close(m.readyCh) })
		return nil
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("[mgo] connect failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() == nil {
			logger.Error("[mgo] giving up", zap.Error(err))
		}
		return false
	}
	logger.Info("[mgo] connected", zap.String("database", m.cfg.Database))
	return true
}

func (m *MongoManager) watch(ctx context.Context) {
	fail := 0
	ticker := time.NewTicker(m.healthEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.drop()
			return
		case <-ticker.C:
			m.mu.RLock()
			c := m.client
			m.mu.RUnlock()
			if c == nil {
				return
			}
			pctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
			err := c.Ping(pctx)
			cancel()
			if err == nil {
				fail = 0
				continue
			}
			fail++
			m.lastErr.Store(errBox{err})
			logger.Warn("[mgo] ping failed", zap.Int("fail", fail), zap.Error(err))
			if fail >= failThresh {
				// 标记掉线，断开并回到连接阶段
				m.drop()
				return
			}
		}
	}
}

func (m *MongoManager) drop() {
	m.mu.Lock()
	c := m.client
	m.client = nil
	m.mu.Unlock()
	if c != nil {
		_ = c.Disconnect(context.Background())
	}
}

// Ready 首次连接成功时会 close；可 select 等待
func (m *MongoManager) Ready() <-chan struct{} {
	return m.readyCh
}

func (m *MongoManager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Err 最近一次错误
func (m *MongoManager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(errBox).err
	}
	return nil
}

func (m *MongoManager) TryGetDB() (*mongo.Database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.client == nil {
		return nil, errs.ErrStoreUnavailable.WrapMsg("mongo not connected")
	}
	return m.client.GetDB(), nil
}

func (m *MongoManager) WaitReady(ctx context.Context) error {
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止重连循环并断开连接
func (m *MongoManager) Close(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
