package handlers

import (
	"PChat/module/chat/model"
	"PChat/service/chat"
)

// PrivateHandler message:private {targetConnectionId, content}
type PrivateHandler struct{ ctx *chat.Context }

func NewPrivateHandler(ctx *chat.Context) chat.Handler { return &PrivateHandler{ctx: ctx} }
func (h *PrivateHandler) Type() string                 { return model.EventPrivate }
func (h *PrivateHandler) Handle(_ *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	req, err := chat.DecodeData[model.PrivateTarget](f)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx.S.OpContext()
	defer cancel()
	_, err = conn.Session.SendPrivate(ctx, req.TargetConnectionID, req.Content)
	return err
}

// PrivateHistoryHandler message:private:history {targetConnectionId}
type PrivateHistoryHandler struct{ ctx *chat.Context }

func NewPrivateHistoryHandler(ctx *chat.Context) chat.Handler {
	return &PrivateHistoryHandler{ctx: ctx}
}
func (h *PrivateHistoryHandler) Type() string { return model.EventPrivateHistory }
func (h *PrivateHistoryHandler) Handle(_ *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	req, err := chat.DecodeData[model.PrivateTarget](f)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx.S.OpContext()
	defer cancel()
	return conn.Session.PrivateHistory(ctx, req.TargetConnectionID)
}

// PrivateReadHandler message:private:read {targetConnectionId}，只标已读不拉历史
type PrivateReadHandler struct{ ctx *chat.Context }

func NewPrivateReadHandler(ctx *chat.Context) chat.Handler { return &PrivateReadHandler{ctx: ctx} }
func (h *PrivateReadHandler) Type() string                 { return model.EventPrivateRead }
func (h *PrivateReadHandler) Handle(_ *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	req, err := chat.DecodeData[model.PrivateTarget](f)
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx.S.OpContext()
	defer cancel()
	_, err = conn.Session.MarkRead(ctx, req.TargetConnectionID)
	return err
}
