package handlers

import (
	"PChat/module/chat/model"
	"PChat/service/chat"
)

// Register 挂上所有入站事件
func Register(s *chat.Server) {
	ctx := &chat.Context{S: s}
	login := NewLoginHandler(ctx)

	d := s.Disp()
	d.Register(login)
	d.RegisterAs(model.EventLoginAlias, login)
	d.Register(NewSendHandler(ctx))
	d.Register(NewUnreadHandler(ctx))
	d.Register(NewPrivateHandler(ctx))
	d.Register(NewPrivateHistoryHandler(ctx))
	d.Register(NewPrivateReadHandler(ctx))
}
