package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"strconv"
	"time"

	"PChat/global"
	"PChat/global/config"
	"PChat/logger"
	"PChat/module/chat/presence"
	"PChat/module/chat/service"
	"PChat/module/chat/session"
	"PChat/service/chat"
	"PChat/service/chat/handlers"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	confPath := flag.String("config", "", "yaml config file (optional, CHAT_* env vars override it)")
	flag.Parse()

	cfg, err := config.Load(*confPath)
	if err != nil {
		logger.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}
	config.Global = cfg
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		logger.Error("init logger failed", zap.Error(err))
		os.Exit(1)
	}

	global.ConfigIds(cfg)

	// 后台任务（mongo 重连）随进程退出
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	st, closeStore, err := global.ConfigStore(bgCtx, cfg)
	if err != nil {
		logger.Error("init store failed", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		os.Exit(1)
	}

	mirror, err := global.ConfigRedis(bgCtx, cfg)
	if err != nil {
		logger.Error("init redis failed", zap.Error(err))
		os.Exit(1)
	}
	var regOpts []presence.Option
	if mirror != nil {
		regOpts = append(regOpts, presence.WithObserver(mirror))
	}
	reg := presence.New(st, regOpts...)

	pub, closePub, err := global.ConfigEvents(cfg)
	if err != nil {
		logger.Error("init event publisher failed", zap.String("driver", cfg.Events.Driver), zap.Error(err))
		os.Exit(1)
	}

	connMgr := chat.NewConnManager(chat.ManagerConf{
		SendQueue:       cfg.WS.SendQueue,
		WriteWait:       cfg.WS.WriteWait,
		PongWait:        cfg.WS.PongWait,
		PingPeriod:      cfg.WS.PingPeriod,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
		FanoutShards:    cfg.Fanout.Shards,
		FanoutQueue:     cfg.Fanout.QueueSize,
	})

	routerOpts := []service.Option{service.WithConfig(service.Config{
		PublicHistoryLimit:  cfg.History.PublicLimit,
		PrivateHistoryLimit: cfg.History.PrivateLimit,
		PublishQueue:        cfg.Events.QueueSize,
		PublishTimeout:      cfg.Events.Timeout,
	})}
	if pub != nil {
		routerOpts = append(routerOpts, service.WithPublisher(pub))
	}
	router := service.NewRouter(st, reg, connMgr, routerOpts...)

	srv := chat.NewServer(chat.ServerConf{
		Path:           cfg.WS.Path,
		ReadBuffer:     cfg.WS.ReadBuffer,
		WriteBuffer:    cfg.WS.WriteBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	}, connMgr, session.Deps{
		Registry: reg,
		Router:   router,
		Reads:    service.NewReadState(st),
		Sink:     connMgr,
	}, st)
	handlers.Register(srv)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(global.ConfigMiddleware(cfg).Use())
	r.GET(srv.Conf().Path, srv.HandleWS)
	r.GET("/health", srv.HandleHealth)

	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("[HTTP] listening", zap.Int("port", cfg.Port), zap.String("ws", srv.Conf().Path),
			zap.String("store", cfg.Store.Driver), zap.String("events", cfg.Events.Driver))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("[HTTP] server failed", zap.Error(err))
			os.Exit(1)
		}
	}()

	// 顺序关闭：先停收新连接，再踢掉现有连接（各自广播 left），最后关外部依赖
	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"chat": func(ctx context.Context) error {
			logger.Info("graceful shutdown initiated")
			var errList []error
			errList = append(errList, httpSrv.Shutdown(ctx))
			errList = append(errList, srv.Shutdown(ctx))
			router.Close()
			errList = append(errList, closePub(ctx))
			if mirror != nil {
				errList = append(errList, mirror.Close(ctx))
			}
			errList = append(errList, closeStore(ctx))
			bgCancel()
			return errors.Join(errList...)
		},
	})
	code := <-wait
	logger.Info("exited", zap.Int("code", code))
	logger.Sync()
	os.Exit(code)
}
