package mongodb

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
	"github.com/lightningkite/service-abstractions-sub003/log/logger"
)

func indexModel(spec schema.IndexSpec) mongo.IndexModel {
	keys := bson.D{}
	for _, key := range spec.Keys {
		switch {
		case spec.Text:
			keys = append(keys, bson.E{Key: key, Value: "text"})
		case spec.Geo:
			keys = append(keys, bson.E{Key: key, Value: "2dsphere"})
		default:
			keys = append(keys, bson.E{Key: key, Value: 1})
		}
	}
	indexOptions := options.Index().SetName(spec.Name)
	if spec.Unique {
		indexOptions.SetUnique(true)
	}
	return mongo.IndexModel{Keys: keys, Options: indexOptions}
}

// indexConflict 同名索引选项不一致时驱动报 IndexOptionsConflict(85)
// 或 IndexKeySpecsConflict(86)
func indexConflict(err error) bool {
	var cmdErr mongo.CommandError
	if mongo.IsDuplicateKeyError(err) {
		return false
	}
	if errors.As(err, &cmdErr) {
		return cmdErr.Code == 85 || cmdErr.Code == 86
	}
	return false
}

// reconcileIndexes 把模型声明的索引对齐到集合上。
// 选项冲突时删旧重建；重建仍失败只记日志不中断，索引收敛是尽力而为的
func reconcileIndexes(ctx context.Context, lg logger.Logger, coll *mongo.Collection, class *schema.Class) {
	for _, spec := range schema.Indexes(class) {
		model := indexModel(spec)
		_, err := coll.Indexes().CreateOne(ctx, model)
		if err == nil {
			continue
		}
		if !indexConflict(err) {
			lg.Warn("create index failed", "index", spec.Name, "error", err)
			continue
		}
		if _, dropErr := coll.Indexes().DropOne(ctx, spec.Name); dropErr != nil {
			lg.Warn("drop conflicting index failed", "index", spec.Name, "error", dropErr)
			continue
		}
		if _, err := coll.Indexes().CreateOne(ctx, model); err != nil {
			lg.Error("recreate index failed", "index", spec.Name, "error", err)
		}
	}
}
