package chat

import (
	"context"
	"errors"
	"net"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/module/chat/session"
	"PChat/tools/errs"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HandleWS 升级连接，跑读循环直到断开，然后走会话的断线流程
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 握手失败 upgrader 已经写了响应
		logger.Info("[WS] upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}

	connID := uuid.NewString()
	conn, err := s.connMgr.Add(connID, ws)
	if err != nil {
		logger.Warn("[WS] register conn failed", zap.String("conn", connID), zap.Error(err))
		_ = ws.Close()
		return
	}
	conn.Session = session.New(connID, s.deps)
	logger.Debug("[WS] connected", zap.String("conn", connID), zap.String("remote", c.ClientIP()))

	s.readLoop(conn)

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.OpTimeout)
	conn.Session.Close(ctx)
	cancel()
	s.connMgr.Remove(connID)
	<-conn.done
	logger.Debug("[WS] disconnected", zap.String("conn", connID))
}

// readLoop 只读不写；同一连接的事件串行处理
func (s *Server) readLoop(conn *WsConn) {
	conf := s.connMgr.Conf()
	ws := conn.Conn
	ws.SetReadLimit(conf.MaxMessageBytes)
	_ = ws.SetReadDeadline(conf.Clock().Add(conf.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(conf.Clock().Add(conf.PongWait))
	})

	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			logReadErr(conn.ConnID, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, err := ParseFrameJSON(data)
		if err == nil {
			err = s.DispatchFrame(f, conn)
		}
		if err != nil {
			s.replyError(conn, f, err)
		}
	}
}

// replyError 业务错误回给发起连接，连接保持
func (s *Server) replyError(conn *WsConn, f *Frame, err error) {
	typ := ""
	if f != nil {
		typ = f.Type
	}
	if _, ok := errs.As(err); ok {
		logger.Debug("[WS] event rejected", zap.String("conn", conn.ConnID), zap.String("type", typ), zap.Error(err))
	} else {
		logger.Error("[WS] event failed", zap.String("conn", conn.ConnID), zap.String("type", typ), zap.Error(err))
	}
	s.connMgr.Send(conn.ConnID, model.NewEvent(model.EventError, errs.Reason(err)))
}

func logReadErr(connID string, err error) {
	var ne net.Error
	switch {
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		logger.Debug("[WS] peer closed", zap.String("conn", connID))
	case errors.As(err, &ne) && ne.Timeout():
		logger.Info("[WS] read timeout", zap.String("conn", connID))
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Info("[WS] frame too large", zap.String("conn", connID))
	default:
		logger.Debug("[WS] read err", zap.String("conn", connID), zap.Error(err))
	}
}
