package chat

import (
	"net"
	"sync"
	"time"

	"PChat/module/chat/session"

	"github.com/gorilla/websocket"
)

// WsConn 一条 websocket 连接。下行只经过 SendChan，由单独的写协程消费。
type WsConn struct {
	ConnID    string
	Conn      *websocket.Conn
	Remote    net.Addr
	CreatedAt time.Time
	Session   *session.Session

	SendChan chan []byte

	mu     sync.Mutex
	closed bool
	done   chan struct{} // 写协程退出
}

func newWsConn(connID string, ws *websocket.Conn, queue int, now time.Time) *WsConn {
	return &WsConn{
		ConnID:    connID,
		Conn:      ws,
		Remote:    ws.RemoteAddr(),
		CreatedAt: now,
		SendChan:  make(chan []byte, queue),
		done:      make(chan struct{}),
	}
}

// enqueue 非阻塞入队；队列满返回 false。已关闭的连接静默丢弃。
func (c *WsConn) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.SendChan <- payload:
		return true
	default:
		return false
	}
}

// shutdown 关闭发送队列，写协程写完剩余帧后发 Close 帧并断开
func (c *WsConn) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.SendChan)
	}
}

func (c *WsConn) writePump(conf ManagerConf) {
	ticker := time.NewTicker(conf.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
		close(c.done)
	}()
	for {
		select {
		case payload, ok := <-c.SendChan:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(conf.WriteWait))
			if !ok {
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(conf.WriteWait)); err != nil {
				return
			}
		}
	}
}
