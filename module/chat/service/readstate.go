package service

import (
	"context"

	"PChat/data/store"
	"PChat/module/chat/conversation"
	"PChat/tools/errs"
)

// ReadState 私聊已读/未读，没有自己的状态，全部委托给 store
type ReadState struct {
	store store.Store
}

func NewReadState(st store.Store) *ReadState {
	return &ReadState{store: st}
}

// UnreadCount 发给 username 的未读私聊总数；从未登录过的用户为 0
func (s *ReadState) UnreadCount(ctx context.Context, username string) (int64, error) {
	u, err := s.store.FindUser(ctx, username)
	if err != nil {
		if errs.ErrUserNotFound.Is(err) {
			return 0, nil
		}
		return 0, store.Unavailable(err, "find user", "username", username)
	}
	n, err := s.store.CountUnread(ctx, u.ID)
	if err != nil {
		return 0, store.Unavailable(err, "count unread", "username", username)
	}
	return n, nil
}

// MarkConversationRead 把 other 发给 username 的未读消息全部置为已读，幂等
func (s *ReadState) MarkConversationRead(ctx context.Context, username, other string) (int64, error) {
	me, err := s.store.FindUser(ctx, username)
	if err != nil {
		if errs.ErrUserNotFound.Is(err) {
			return 0, nil
		}
		return 0, store.Unavailable(err, "find user", "username", username)
	}
	peer, err := s.store.FindUser(ctx, other)
	if err != nil {
		if errs.ErrUserNotFound.Is(err) {
			return 0, nil
		}
		return 0, store.Unavailable(err, "find user", "username", other)
	}
	n, err := s.store.MarkConversationRead(ctx, conversation.ForUsers(me.ID, peer.ID), me.ID)
	if err != nil {
		return 0, store.Unavailable(err, "mark conversation read", "username", username)
	}
	return n, nil
}
