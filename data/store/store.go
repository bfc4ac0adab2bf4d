// Package store defines the persistence boundary for users and messages.
package store

import (
	"context"

	"PChat/module/chat/model"
	"PChat/tools/errs"
)

// Store 持久化契约。实现必须并发安全；后端不可用时返回 errs.ErrStoreUnavailable 链上的错误。
//
// 查询类方法统一返回时间正序（最旧在前）的结果，limit<=0 时由实现取默认值。
type Store interface {
	AppendPublicMessage(ctx context.Context, msg *model.Message) error
	AppendPrivateMessage(ctx context.Context, msg *model.PrivateMessage) error

	// QueryRecentPublic 最近 limit 条大厅消息，最旧在前
	QueryRecentPublic(ctx context.Context, limit int) ([]*model.Message, error)
	// QueryConversation 会话最近 limit 条私聊，最旧在前
	QueryConversation(ctx context.Context, conversationID string, limit int) ([]*model.PrivateMessage, error)

	// CountUnread 发给 userID 且未读的私聊条数（所有会话）
	CountUnread(ctx context.Context, userID int64) (int64, error)
	// MarkConversationRead 把会话里发给 recipientID 的未读消息置为已读，返回本次修改条数
	MarkConversationRead(ctx context.Context, conversationID string, recipientID int64) (int64, error)

	FindOrCreateUser(ctx context.Context, username string) (*model.User, error)
	// FindUser 不存在时返回 errs.ErrUserNotFound
	FindUser(ctx context.Context, username string) (*model.User, error)
	SetUserOnline(ctx context.Context, username string) error
	SetUserOffline(ctx context.Context, username string) error

	Stats(ctx context.Context) (Stats, error)
	Close(ctx context.Context) error
}

// Stats /health 用的计数
type Stats struct {
	TotalUsers           int64 `json:"totalUsers"`
	TotalMessages        int64 `json:"totalMessages"`
	TotalPrivateMessages int64 `json:"totalPrivateMessages"`
}

const (
	DefaultPublicLimit  = 100
	DefaultPrivateLimit = 100
)

// Unavailable 把后端错误归到 StoreUnavailable
func Unavailable(err error, op string, kv ...any) error {
	if err == nil {
		return nil
	}
	if errs.ErrStoreUnavailable.Is(err) || errs.ErrUserNotFound.Is(err) {
		return err
	}
	return errs.ErrStoreUnavailable.WrapMsg(op+": "+err.Error(), kv...)
}

// Limit 把非法 limit 归一成默认值
func Limit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
