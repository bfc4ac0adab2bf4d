package handlers

import (
	"PChat/module/chat/model"
	"PChat/service/chat"
)

// LoginHandler login / user:login，data 为用户名
type LoginHandler struct{ ctx *chat.Context }

func NewLoginHandler(ctx *chat.Context) chat.Handler { return &LoginHandler{ctx: ctx} }
func (h *LoginHandler) Type() string                 { return model.EventLogin }
func (h *LoginHandler) Handle(_ *chat.Context, f *chat.Frame, conn *chat.WsConn) error {
	name, err := chat.DecodeText(f, "username")
	if err != nil {
		return err
	}
	ctx, cancel := h.ctx.S.OpContext()
	defer cancel()
	_, err = conn.Session.Login(ctx, name)
	return err
}
