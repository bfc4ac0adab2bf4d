package model

import "time"

const (
	MessageTableName        = "messages"
	PrivateMessageTableName = "private_messages"
)

// Message.Type / PrivateMessage.Type
const (
	MessageTypeUser    = "user"
	MessageTypeSystem  = "system"
	MessageTypePrivate = "private"
)

const (
	MessageFieldID        = "_id"
	MessageFieldTimestamp = "timestamp"

	PrivateFieldConversationID = "conversation_id"
	PrivateFieldToUserID       = "to_user_id"
	PrivateFieldIsRead         = "is_read"
	PrivateFieldTimestamp      = "timestamp"
)

// Message 大厅消息。system 类型没有发送者字段。
type Message struct {
	ID           int64     `bson:"_id" json:"id,string"`
	Type         string    `bson:"type" json:"type"`
	ConnectionID string    `bson:"connection_id,omitempty" json:"connectionId,omitempty"`
	UserID       int64     `bson:"user_id,omitempty" json:"userId,omitempty,string"`
	Username     string    `bson:"username,omitempty" json:"username,omitempty"`
	Content      string    `bson:"content" json:"content"`
	Timestamp    time.Time `bson:"timestamp" json:"timestamp"`
}

func (m *Message) GetTableName() string {
	return MessageTableName
}

func (m *Message) IsSystem() bool {
	return m.Type == MessageTypeSystem
}

// PrivateMessage 私聊消息，只有 IsRead 会被修改
type PrivateMessage struct {
	ID             int64     `bson:"_id" json:"id,string"`
	Type           string    `bson:"type" json:"type"`
	FromUserID     int64     `bson:"from_user_id" json:"fromUserId,string"`
	FromUsername   string    `bson:"from_username" json:"fromUsername"`
	ToUserID       int64     `bson:"to_user_id" json:"toUserId,string"`
	ToUsername     string    `bson:"to_username" json:"toUsername"`
	Content        string    `bson:"content" json:"content"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	IsRead         bool      `bson:"is_read" json:"isRead"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
}

func (m *PrivateMessage) GetTableName() string {
	return PrivateMessageTableName
}

// AddressedTo 这条消息的接收方是否是 userID
func (m *PrivateMessage) AddressedTo(userID int64) bool {
	return m.ToUserID == userID
}
