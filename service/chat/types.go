package chat

// Handler 按事件名注册到 Dispatcher，一个入站事件一个 Handler
type Handler interface {
	Type() string
	Handle(*Context, *Frame, *WsConn) error
}

type Context struct {
	S *Server
}
