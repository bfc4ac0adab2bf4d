package model

import (
	"encoding/json"
	"strings"
)

// 事件名，客户端和服务端共用
const (
	EventLogin          = "login"
	EventLoginAlias     = "user:login"
	EventHistory        = "message:history"
	EventSend           = "message:send"
	EventNew            = "message:new"
	EventUsersUpdate    = "users:update"
	EventPrivate        = "message:private"
	EventPrivateHistory = "message:private:history"
	EventPrivateRead    = "message:private:read"
	EventUnread         = "message:unread"
	EventError          = "error"
)

// Event 服务端下发的一条事件，Data 由传输层编码
type Event struct {
	Type string
	Data any
}

func NewEvent(typ string, data any) Event {
	return Event{Type: typ, Data: data}
}

// MarshalJSON 线上格式 {"type": ..., "data": ...}，websocket 帧和外部消息共用
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{e.Type, e.Data})
}

// Subject 事件在外部消息系统里的主题名：<prefix>.message.new
func Subject(prefix, eventType string) string {
	name := strings.ReplaceAll(eventType, ":", ".")
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

// OnlineUser users:update 列表里的一项
type OnlineUser struct {
	ConnectionID string `json:"connectionId"`
	Username     string `json:"username"`
}

// PrivateTarget message:private / message:private:history 请求体
type PrivateTarget struct {
	TargetConnectionID string `json:"targetConnectionId"`
	Content            string `json:"content,omitempty"`
}

type PrivateHistory struct {
	TargetConnectionID string            `json:"targetConnectionId"`
	Messages           []*PrivateMessage `json:"messages"`
}

type UnreadCount struct {
	Count int64 `json:"count"`
}
