// Package global builds the process-wide components from the loaded AppConfig.
package global

import (
	"context"
	"strings"

	"PChat/data/database/mgo/mongoutil"
	"PChat/data/database/pg"
	"PChat/data/store"
	"PChat/data/store/memstore"
	"PChat/global/config"
	"PChat/logger"
	"PChat/middleware"
	"PChat/module/chat/message"
	"PChat/module/chat/service"
	ka "PChat/service/kafka"
	mgoSrv "PChat/service/mgo"
	"PChat/service/natsx"
	"PChat/service/storage"
	rdsx "PChat/service/storage/redis"
	"PChat/tools/errs"
	"PChat/tools/ids"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Closer 关闭时按注册顺序的逆序调用
type Closer func(ctx context.Context) error

func noopCloser(context.Context) error { return nil }

func ConfigIds(cfg config.AppConfig) {
	ids.SetNodeID(cfg.NodeID)
}

// ConfigStore 按 store.driver 建存储。mongo 在后台连接，连上之前所有调用快速失败
func ConfigStore(ctx context.Context, cfg config.AppConfig) (store.Store, Closer, error) {
	switch cfg.Store.Driver {
	case config.StoreMemory:
		return memstore.New(memstore.WithCapacity(cfg.History.MemoryCapacity)), noopCloser, nil

	case config.StoreMongo:
		mc := cfg.Store.Mongo
		mgr := mgoSrv.NewManager(&mongoutil.Config{
			Uri:         mc.URI,
			Address:     mc.Address,
			Database:    mc.Database,
			Username:    mc.Username,
			Password:    mc.Password,
			AuthSource:  mc.AuthSource,
			MaxPoolSize: mc.MaxPoolSize,
		}, mgoSrv.WithOnConnect(func(ctx context.Context, db *mongo.Database) error {
			return message.EnsureIndexes(ctx, db)
		}))
		mgr.StartAsync(ctx)
		st := message.NewStore(mgr, message.WithOpTimeout(mc.OpTimeout))
		return st, mgr.Close, nil

	case config.StorePostgres:
		pc := cfg.Store.Postgres
		st, err := pg.Open(ctx, pg.Config{
			DSN:         pc.DSN,
			MaxConns:    pc.MaxConns,
			OpTimeout:   pc.OpTimeout,
			InitTimeout: pc.InitTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	return nil, nil, errs.ErrArgs.WrapMsg("unknown store driver", "driver", cfg.Store.Driver)
}

// ConfigRedis 未启用时返回 nil
func ConfigRedis(ctx context.Context, cfg config.AppConfig) (*storage.RedisPresence, error) {
	rc := cfg.Redis
	if !rc.Enabled {
		return nil, nil
	}
	rdb, err := rdsx.NewClient(ctx, rdsx.Config{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
		PoolSize: rc.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	p := storage.NewRedisPresence(rdb, storage.PresenceConfig{KeyPrefix: rc.KeyPrefix, TTL: rc.TTL})
	p.Start()
	logger.Info("[global] redis presence mirror enabled", zap.String("addr", rc.Addr))
	return p, nil
}

// ConfigEvents 按 events.driver 建外部发布器；none 时返回 nil
func ConfigEvents(cfg config.AppConfig) (service.Publisher, Closer, error) {
	ec := cfg.Events
	switch ec.Driver {
	case config.EventsNone, "":
		return nil, noopCloser, nil

	case config.EventsNATS:
		c, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: strings.Split(ec.NATS.URL, ","),
			Name:    ec.NATS.Name,
		})
		if err != nil {
			return nil, nil, err
		}
		p := natsx.NewNatsxProducer(c, ec.Prefix)
		return p, p.Close, nil

	case config.EventsKafka:
		p, err := ka.NewProducer(ka.Config{
			Brokers:      ec.Kafka.Brokers,
			ClientID:     ec.Kafka.ClientID,
			Version:      ec.Kafka.Version,
			EnsureTopics: true,
		}, ec.Prefix)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	}
	return nil, nil, errs.ErrArgs.WrapMsg("unknown events driver", "driver", ec.Driver)
}

func ConfigMiddleware(cfg config.AppConfig) *middleware.MiddlewareManager {
	return middleware.NewManager(middleware.AccessLog(), middleware.Origin(cfg.AllowedOrigins))
}
