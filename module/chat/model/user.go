package model

import "time"

const UserTableName = "users"

// bson 字段名，查询条件里复用
const (
	UserFieldID        = "_id"
	UserFieldUsername  = "username"
	UserFieldIsOnline  = "is_online"
	UserFieldLastSeen  = "last_seen"
	UserFieldCreatedAt = "created_at"
)

// User 持久化的用户主档。ID 在首次登录时分配，之后不变；
// 连接 ID 只是临时的，不会落到这里。
type User struct {
	ID        int64     `bson:"_id" json:"id,string"`
	Username  string    `bson:"username" json:"username"` // 唯一，2~20 字符，已 trim
	IsOnline  bool      `bson:"is_online" json:"isOnline"`
	LastSeen  time.Time `bson:"last_seen" json:"lastSeen"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

func (u *User) GetTableName() string {
	return UserTableName
}

func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
