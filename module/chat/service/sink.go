package service

import (
	"context"

	"PChat/module/chat/model"
)

// Sink 把事件投递到连接。对未知或已关闭的连接投递是 no-op。
type Sink interface {
	Send(connID string, ev model.Event)
	Broadcast(connIDs []string, ev model.Event)
	// Close 发送 reason（error 事件）后关闭连接
	Close(connID string, reason string)
}

// Publisher 把聊天事件镜像到外部消息系统（NATS/Kafka），尽力而为
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}
