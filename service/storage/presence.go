// Package storage mirrors the in-process presence registry into redis so that
// other processes (ops tooling, a future second node) can ask who is online.
package storage

import (
	"context"
	"sync"
	"time"

	"PChat/logger"
	"PChat/module/chat/presence"
	"PChat/tools/safe"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const DefaultKeyPrefix = "im:presence:"

// 只删属于自己的 key：同名用户已在别的连接上重新登录时不能误删
const luaDelIfMatch = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

type PresenceConfig struct {
	KeyPrefix string
	TTL       time.Duration // key 的存活时间，刷新周期取 TTL/3
	Timeout   time.Duration // 单次 redis 调用超时
}

// RedisPresence presence.Observer 的 redis 实现：
// im:presence:<username> = connID，带 TTL，后台定期续期。
// redis 出错只记日志，不影响登录/断线。
type RedisPresence struct {
	rdb  *redis.Client
	conf PresenceConfig
	del  *redis.Script

	mu     sync.Mutex
	online map[string]string // username -> connID

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

var _ presence.Observer = (*RedisPresence)(nil)

func NewRedisPresence(rdb *redis.Client, conf PresenceConfig) *RedisPresence {
	if conf.KeyPrefix == "" {
		conf.KeyPrefix = DefaultKeyPrefix
	}
	if conf.TTL <= 0 {
		conf.TTL = 90 * time.Second
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 2 * time.Second
	}
	return &RedisPresence{
		rdb:    rdb,
		conf:   conf,
		del:    redis.NewScript(luaDelIfMatch),
		online: make(map[string]string),
		stop:   make(chan struct{}),
	}
}

func (p *RedisPresence) key(username string) string { return p.conf.KeyPrefix + username }

func (p *RedisPresence) OnBind(ctx context.Context, e presence.Entry) {
	p.mu.Lock()
	p.online[e.Username] = e.ConnID
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.conf.Timeout)
	defer cancel()
	if err := p.rdb.Set(ctx, p.key(e.Username), e.ConnID, p.conf.TTL).Err(); err != nil {
		logger.Warn("[presence] redis set failed", zap.String("username", e.Username), zap.Error(err))
	}
}

func (p *RedisPresence) OnUnbind(ctx context.Context, e presence.Entry) {
	p.mu.Lock()
	if p.online[e.Username] == e.ConnID {
		delete(p.online, e.Username)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.conf.Timeout)
	defer cancel()
	if err := p.del.Run(ctx, p.rdb, []string{p.key(e.Username)}, e.ConnID).Err(); err != nil {
		logger.Warn("[presence] redis delete failed", zap.String("username", e.Username), zap.Error(err))
	}
}

// lookup 查 redis 里的在线连接，只给本包测试核对镜像用
func (p *RedisPresence) lookup(ctx context.Context, username string) (connID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, p.key(username)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "presence lookup")
	}
	return val, true, nil
}

// Refresh 给本进程所有在线用户续期一次，返回续期条数
func (p *RedisPresence) Refresh(ctx context.Context) (int, error) {
	p.mu.Lock()
	snapshot := make(map[string]string, len(p.online))
	for u, c := range p.online {
		snapshot[u] = c
	}
	p.mu.Unlock()
	if len(snapshot) == 0 {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.conf.Timeout)
	defer cancel()
	pipe := p.rdb.Pipeline()
	for u, c := range snapshot {
		pipe.Set(ctx, p.key(u), c, p.conf.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, errors.Wrap(err, "presence refresh")
	}
	return len(snapshot), nil
}

// Start 启动续期协程
func (p *RedisPresence) Start() {
	p.wg.Add(1)
	safe.Go("presence-refresh", func() {
		defer p.wg.Done()
		t := time.NewTicker(p.conf.TTL / 3)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				if _, err := p.Refresh(context.Background()); err != nil {
					logger.Warn("[presence] refresh failed", zap.Error(err))
				}
			}
		}
	})
}

// Close 停止续期并关闭 redis 客户端
func (p *RedisPresence) Close(_ context.Context) error {
	p.once.Do(func() { close(p.stop) })
	p.wg.Wait()
	return p.rdb.Close()
}
