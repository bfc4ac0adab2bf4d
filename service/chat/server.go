package chat

import (
	"context"
	"net/http"
	"time"

	"PChat/data/store"
	"PChat/middleware"
	"PChat/module/chat/session"

	"github.com/gorilla/websocket"
)

type ServerConf struct {
	Path           string
	ReadBuffer     int
	WriteBuffer    int
	AllowedOrigins []string      // 为空则不校验 Origin
	OpTimeout      time.Duration // 单个入站事件的处理超时
}

// Server websocket 网关：升级连接、读帧、按事件名分发到 Handler
type Server struct {
	conf     ServerConf
	connMgr  *ConnManager
	disp     *Dispatcher
	deps     session.Deps
	store    store.Store
	upgrader websocket.Upgrader
}

func NewServer(conf ServerConf, connMgr *ConnManager, deps session.Deps, st store.Store) *Server {
	if conf.Path == "" {
		conf.Path = "/ws"
	}
	if conf.OpTimeout <= 0 {
		conf.OpTimeout = 5 * time.Second
	}
	s := &Server{
		conf:    conf,
		connMgr: connMgr,
		disp:    NewDispatcher(),
		deps:    deps,
		store:   st,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  conf.ReadBuffer,
		WriteBufferSize: conf.WriteBuffer,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) ConnMgr() *ConnManager { return s.connMgr }

func (s *Server) Disp() *Dispatcher { return s.disp }

func (s *Server) Deps() session.Deps { return s.deps }

func (s *Server) Conf() ServerConf { return s.conf }

func (s *Server) DispatchFrame(f *Frame, conn *WsConn) error {
	return s.disp.Dispatch(&Context{S: s}, f, conn)
}

// OpContext 给 Handler 用的带超时 context
func (s *Server) OpContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.conf.OpTimeout)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// 非浏览器客户端不带 Origin
	return origin == "" || middleware.OriginAllowed(s.conf.AllowedOrigins, origin)
}

// Shutdown 踢掉所有连接，等它们各自走完断线流程（或超时），再停止投递
func (s *Server) Shutdown(ctx context.Context) error {
	s.connMgr.CloseAll()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	defer s.connMgr.Stop()
	for s.connMgr.Count() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
