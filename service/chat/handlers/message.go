package handlers

import (
	"PChat/module/chat/model"
	"PChat/service/chat"
)

// SendHandler message:send 大厅消息
type SendHandler struct{ ctx *chat.Context }

func NewSendHandler(ctx *chat.Context) chat.Handler { return &SendHandler{ctx: ctx} }
func (h *SendHandler) Type() string                 { return model.EventSend }
func (h *SendHandler) Handle(_ *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	content, err := chat.DecodeText(f, "content")
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx.S.OpContext()
	defer cancel()
	_, err = conn.Session.SendPublic(ctx, content)
	return err
}

// UnreadHandler message:unread，无 data
type UnreadHandler struct{ ctx *chat.Context }

func NewUnreadHandler(ctx *chat.Context) chat.Handler { return &UnreadHandler{ctx: ctx} }
func (h *UnreadHandler) Type() string                 { return model.EventUnread }
func (h *UnreadHandler) Handle(_ *chat.Context, _ *chat.Frame, conn *chat.WsConn) error {
	ctx, cancel := h.ctx.S.OpContext()
	defer cancel()
	_, err := conn.Session.UnreadCount(ctx)
	return err
}
