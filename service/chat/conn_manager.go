package chat

import (
	"sync"
	"time"

	"PChat/logger"
	"PChat/module/chat/model"
	"PChat/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ===== 配置 =====

type ManagerConf struct {
	SendQueue       int           // 每连接下行队列长度，满了视为慢消费者直接断开
	WriteWait       time.Duration // 单帧写超时
	PongWait        time.Duration // 超过这么久没收到 pong 就断开
	PingPeriod      time.Duration // 必须小于 PongWait
	MaxMessageBytes int64         // 入站帧大小上限
	FanoutShards    int
	FanoutQueue     int
	Clock           func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingPeriod <= 0 || c.PingPeriod >= c.PongWait {
		c.PingPeriod = c.PongWait * 9 / 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 8 << 10
	}
	if c.FanoutShards <= 0 {
		c.FanoutShards = 16
	}
	if c.FanoutQueue <= 0 {
		c.FanoutQueue = 1024
	}
}

// ConnManager 本节点所有 websocket 连接，按连接 ID 索引。
// 实现 service.Sink：Send/Broadcast/Close 都经过分片 Fanout，保证单连接有序。
type ConnManager struct {
	mu    sync.RWMutex
	conns map[string]*WsConn

	conf   ManagerConf
	fanout *Fanout

	gate   sync.RWMutex // 保护 fanout 关闭与投递的先后
	closed bool
}

func NewConnManager(conf ManagerConf) *ConnManager {
	conf.norm()
	m := &ConnManager{
		conns: make(map[string]*WsConn),
		conf:  conf,
	}
	m.fanout = NewFanout(conf.FanoutShards, conf.FanoutQueue, m.deliver)
	return m
}

func (m *ConnManager) Conf() ManagerConf { return m.conf }

// Add 登记新连接并启动写协程
func (m *ConnManager) Add(connID string, ws *websocket.Conn) (*WsConn, error) {
	if connID == "" || ws == nil {
		return nil, errs.ErrArgs.WrapMsg("connID/conn empty")
	}
	c := newWsConn(connID, ws, m.conf.SendQueue, m.conf.Clock())

	m.mu.Lock()
	if _, exists := m.conns[connID]; exists {
		m.mu.Unlock()
		return nil, errs.ErrArgs.WrapMsg("connID exists", "conn", connID)
	}
	m.conns[connID] = c
	m.mu.Unlock()

	go c.writePump(m.conf)
	return c, nil
}

func (m *ConnManager) Get(connID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[connID]
	return c, ok
}

// Remove 摘掉连接并关闭发送队列；等待写协程收尾由调用方决定
func (m *ConnManager) Remove(connID string) {
	m.mu.Lock()
	c, ok := m.conns[connID]
	delete(m.conns, connID)
	m.mu.Unlock()
	if ok {
		c.shutdown()
	}
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// ===== service.Sink =====

func (m *ConnManager) Send(connID string, ev model.Event) {
	payload, err := EncodeEvent(ev)
	if err != nil {
		logger.Error("[conn] encode event failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	m.dispatch(fanoutJob{connID: connID, payload: payload})
}

// Broadcast 只编码一次
func (m *ConnManager) Broadcast(connIDs []string, ev model.Event) {
	if len(connIDs) == 0 {
		return
	}
	payload, err := EncodeEvent(ev)
	if err != nil {
		logger.Error("[conn] encode event failed", zap.String("type", ev.Type), zap.Error(err))
		return
	}
	m.gate.RLock()
	defer m.gate.RUnlock()
	if m.closed {
		return
	}
	m.fanout.Broadcast(connIDs, payload)
}

// Close 先把 error 通知排在该连接已有下行之后，再断开
func (m *ConnManager) Close(connID string, reason string) {
	payload, _ := EncodeEvent(model.NewEvent(model.EventError, reason))
	m.dispatch(fanoutJob{connID: connID, payload: payload, close: true})
}

func (m *ConnManager) dispatch(job fanoutJob) {
	m.gate.RLock()
	defer m.gate.RUnlock()
	if m.closed {
		return
	}
	m.fanout.Dispatch(job)
}

// deliver 在 fanout 分片协程里执行；连接已不在说明已断开，投递即空操作
func (m *ConnManager) deliver(job fanoutJob) {
	c, ok := m.Get(job.connID)
	if !ok {
		return
	}
	if !c.enqueue(job.payload) {
		logger.Warn("[conn] send queue full, closing slow consumer",
			zap.String("conn", job.connID), zap.Int("queue", m.conf.SendQueue))
		c.shutdown()
		return
	}
	if job.close {
		c.shutdown()
	}
}

// CloseAll 断开所有连接（读协程随后各自走断线流程），然后停掉 fanout
func (m *ConnManager) CloseAll() {
	m.mu.RLock()
	all := make([]*WsConn, 0, len(m.conns))
	for _, c := range m.conns {
		all = append(all, c)
	}
	m.mu.RUnlock()
	for _, c := range all {
		c.shutdown()
	}
}

// Stop 停止投递；之后的 Send/Broadcast/Close 都是空操作
func (m *ConnManager) Stop() {
	m.gate.Lock()
	if m.closed {
		m.gate.Unlock()
		return
	}
	m.closed = true
	m.gate.Unlock()
	m.fanout.Close()
}
