package mongoutil

import (
	"context"

	"PChat/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

// EnsureIndexes 按名字补齐缺失的索引，已存在的跳过
func EnsureIndexes(ctx context.Context, db *mongo.Database, collections map[string][]mongo.IndexModel) error {
	for collName, indexes := range collections {
		coll := db.Collection(collName)

		existing, err := coll.Indexes().ListSpecifications(ctx)
		if err != nil {
			return errs.WrapMsg(err, "list indexes", "collection", collName)
		}
		existingNames := make(map[string]struct{}, len(existing))
		for _, spec := range existing {
			existingNames[spec.Name] = struct{}{}
		}

		for _, idx := range indexes {
			if idx.Options != nil && idx.Options.Name != nil {
				if _, ok := existingNames[*idx.Options.Name]; ok {
					continue
				}
			}
			if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
				return errs.WrapMsg(err, "create index", "collection", collName)
			}
		}
	}
	return nil
}
