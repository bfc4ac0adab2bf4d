package database

import "go.mongodb.org/mongo-driver/mongo"

// Table 模型对应的集合/表名
type Table interface {
	GetTableName() string
}

// Collection 按模型取集合
func Collection(db *mongo.Database, t Table) *mongo.Collection {
	return db.Collection(t.GetTableName())
}
