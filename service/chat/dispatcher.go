package chat

import (
	"PChat/tools/errs"
)

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

func (d *Dispatcher) Register(h Handler) { d.handlers[h.Type()] = h }

// RegisterAs 同一个 Handler 挂到别名上（user:login -> login）
func (d *Dispatcher) RegisterAs(typ string, h Handler) { d.handlers[typ] = h }

func (d *Dispatcher) Dispatch(ctx *Context, f *Frame, conn *WsConn) error {
	h, ok := d.handlers[f.Type]
	if !ok {
		return errs.ErrUnknownEvent.WrapMsg("no handler", "type", f.Type)
	}
	return h.Handle(ctx, f, conn)
}

func (d *Dispatcher) GetHandler(typ string) Handler {
	return d.handlers[typ]
}
