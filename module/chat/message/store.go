package message

import (
	"context"
	"time"

	"PChat/data/database"
	"PChat/data/database/mgo/mongoutil"
	"PChat/data/store"
	"PChat/module/chat/model"
	"PChat/tools/errs"
	"PChat/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DB 当前可用的数据库；未连上时返回 StoreUnavailable（service/mgo.MongoManager 实现）
type DB interface {
	TryGetDB() (*mongo.Database, error)
}

type Option func(*Store)

// WithOpTimeout 单次操作超时，0 表示只用调用方的 ctx
func WithOpTimeout(d time.Duration) Option {
	return func(s *Store) { s.opTimeout = d }
}

// Store 基于 Mongo 的 store.Store：users / messages / private_messages 三个集合
type Store struct {
	db        DB
	opTimeout time.Duration
	now       func() time.Time
	newID     func() int64
}

var _ store.Store = (*Store)(nil)

func NewStore(db DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, newID: ids.Generate}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnsureIndexes 作为 mgo.WithOnConnect 的钩子，每次连上都补一遍
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return mongoutil.EnsureIndexes(ctx, db, map[string][]mongo.IndexModel{
		model.UserTableName: {{
			Keys:    bson.D{{Key: model.UserFieldUsername, Value: 1}},
			Options: options.Index().SetUnique(true).SetName("uniq_username"),
		}},
		model.MessageTableName: {{
			Keys:    bson.D{{Key: model.MessageFieldTimestamp, Value: -1}, {Key: model.MessageFieldID, Value: -1}},
			Options: options.Index().SetName("ix_timestamp"),
		}},
		model.PrivateMessageTableName: {
			{
				Keys:    bson.D{{Key: model.PrivateFieldConversationID, Value: 1}, {Key: model.PrivateFieldTimestamp, Value: -1}},
				Options: options.Index().SetName("ix_conv_timestamp"),
			},
			{
				Keys:    bson.D{{Key: model.PrivateFieldToUserID, Value: 1}, {Key: model.PrivateFieldIsRead, Value: 1}},
				Options: options.Index().SetName("ix_unread"),
			},
		},
	})
}

func (s *Store) coll(ctx context.Context, t database.Table) (*mongo.Collection, context.Context, context.CancelFunc, error) {
	db, err := s.db.TryGetDB()
	if err != nil {
		return nil, ctx, func() {}, err
	}
	if s.opTimeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
		return database.Collection(db, t), ctx, cancel, nil
	}
	return database.Collection(db, t), ctx, func() {}, nil
}

func (s *Store) AppendPublicMessage(ctx context.Context, msg *model.Message) error {
	c, ctx, cancel, err := s.coll(ctx, msg)
	if err != nil {
		return err
	}
	defer cancel()
	if _, err := c.InsertOne(ctx, msg); err != nil {
		return store.Unavailable(err, "insert message")
	}
	return nil
}

func (s *Store) AppendPrivateMessage(ctx context.Context, msg *model.PrivateMessage) error {
	if msg.ConversationID == "" {
		return errs.ErrArgs.WrapMsg("private message without conversation id")
	}
	c, ctx, cancel, err := s.coll(ctx, msg)
	if err != nil {
		return err
	}
	defer cancel()
	if _, err := c.InsertOne(ctx, msg); err != nil {
		return store.Unavailable(err, "insert private message")
	}
	return nil
}

// QueryRecentPublic 倒序取最近 limit 条再翻转
func (s *Store) QueryRecentPublic(ctx context.Context, limit int) ([]*model.Message, error) {
	c, ctx, cancel, err := s.coll(ctx, &model.Message{})
	if err != nil {
		return nil, err
	}
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: model.MessageFieldTimestamp, Value: -1}, {Key: model.MessageFieldID, Value: -1}}).
		SetLimit(int64(store.Limit(limit, store.DefaultPublicLimit)))
	cur, err := c.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, store.Unavailable(err, "find messages")
	}
	var out []*model.Message
	if err := cur.All(ctx, &out); err != nil {
		return nil, store.Unavailable(err, "decode messages")
	}
	reverse(out)
	return out, nil
}

func (s *Store) QueryConversation(ctx context.Context, conversationID string, limit int) ([]*model.PrivateMessage, error) {
	c, ctx, cancel, err := s.coll(ctx, &model.PrivateMessage{})
	if err != nil {
		return nil, err
	}
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: model.PrivateFieldTimestamp, Value: -1}, {Key: model.MessageFieldID, Value: -1}}).
		SetLimit(int64(store.Limit(limit, store.DefaultPrivateLimit)))
	cur, err := c.Find(ctx, bson.M{model.PrivateFieldConversationID: conversationID}, opts)
	if err != nil {
		return nil, store.Unavailable(err, "find private messages", "conversation", conversationID)
	}
	var out []*model.PrivateMessage
	if err := cur.All(ctx, &out); err != nil {
		return nil, store.Unavailable(err, "decode private messages", "conversation", conversationID)
	}
	reverse(out)
	return out, nil
}

func (s *Store) CountUnread(ctx context.Context, userID int64) (int64, error) {
	c, ctx, cancel, err := s.coll(ctx, &model.PrivateMessage{})
	if err != nil {
		return 0, err
	}
	defer cancel()
	n, err := c.CountDocuments(ctx, bson.M{
		model.PrivateFieldToUserID: userID,
		model.PrivateFieldIsRead:   false,
	})
	if err != nil {
		return 0, store.Unavailable(err, "count unread", "user", userID)
	}
	return n, nil
}

func (s *Store) MarkConversationRead(ctx context.Context, conversationID string, recipientID int64) (int64, error) {
	c, ctx, cancel, err := s.coll(ctx, &model.PrivateMessage{})
	if err != nil {
		return 0, err
	}
	defer cancel()
	res, err := c.UpdateMany(ctx,
		bson.M{
			model.PrivateFieldConversationID: conversationID,
			model.PrivateFieldToUserID:       recipientID,
			model.PrivateFieldIsRead:         false,
		},
		bson.M{"$set": bson.M{model.PrivateFieldIsRead: true}},
	)
	if err != nil {
		return 0, store.Unavailable(err, "mark read", "conversation", conversationID)
	}
	return res.ModifiedCount, nil
}

// FindOrCreateUser upsert：首次登录分配 ID，之后只刷新 last_seen。
// 并发首次登录撞唯一索引时重读一次。
func (s *Store) FindOrCreateUser(ctx context.Context, username string) (*model.User, error) {
	c, ctx, cancel, err := s.coll(ctx, &model.User{})
	if err != nil {
		return nil, err
	}
	defer cancel()

	now := s.now()
	filter := bson.M{model.UserFieldUsername: username}
	update := bson.M{
		"$setOnInsert": bson.M{
			model.UserFieldID:        s.newID(),
			model.UserFieldUsername:  username,
			model.UserFieldIsOnline:  false,
			model.UserFieldCreatedAt: now,
		},
		"$set": bson.M{model.UserFieldLastSeen: now},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var u model.User
	err = c.FindOneAndUpdate(ctx, filter, update, opts).Decode(&u)
	if mongo.IsDuplicateKeyError(err) {
		err = c.FindOne(ctx, filter).Decode(&u)
	}
	if err != nil {
		return nil, store.Unavailable(err, "find or create user", "username", username)
	}
	return &u, nil
}

func (s *Store) FindUser(ctx context.Context, username string) (*model.User, error) {
	c, ctx, cancel, err := s.coll(ctx, &model.User{})
	if err != nil {
		return nil, err
	}
	defer cancel()
	var u model.User
	err = c.FindOne(ctx, bson.M{model.UserFieldUsername: username}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrUserNotFound.WrapMsg("find user", "username", username)
	}
	if err != nil {
		return nil, store.Unavailable(err, "find user", "username", username)
	}
	return &u, nil
}

func (s *Store) SetUserOnline(ctx context.Context, username string) error {
	return s.setOnline(ctx, username, true)
}

func (s *Store) SetUserOffline(ctx context.Context, username string) error {
	return s.setOnline(ctx, username, false)
}

func (s *Store) setOnline(ctx context.Context, username string, online bool) error {
	c, ctx, cancel, err := s.coll(ctx, &model.User{})
	if err != nil {
		return err
	}
	defer cancel()
	res, err := c.UpdateOne(ctx,
		bson.M{model.UserFieldUsername: username},
		bson.M{"$set": bson.M{model.UserFieldIsOnline: online, model.UserFieldLastSeen: s.now()}},
	)
	if err != nil {
		return store.Unavailable(err, "set user presence", "username", username)
	}
	if res.MatchedCount == 0 {
		return errs.ErrUserNotFound.WrapMsg("set user presence", "username", username)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (store.Stats, error) {
	db, err := s.db.TryGetDB()
	if err != nil {
		return store.Stats{}, err
	}
	var st store.Stats
	for _, it := range []struct {
		t   database.Table
		dst *int64
	}{
		{&model.User{}, &st.TotalUsers},
		{&model.Message{}, &st.TotalMessages},
		{&model.PrivateMessage{}, &st.TotalPrivateMessages},
	} {
		n, err := database.Collection(db, it.t).CountDocuments(ctx, bson.M{})
		if err != nil {
			return store.Stats{}, store.Unavailable(err, "count", "collection", it.t.GetTableName())
		}
		*it.dst = n
	}
	return st, nil
}

// Close 连接归 MongoManager 管，这里不做事
func (s *Store) Close(context.Context) error { return nil }

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
