package mongodb

import (
	"context"
	"iter"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/modification"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

func (t *rawTable) ReplaceOne(ctx context.Context, cond condition.Condition, doc map[string]any, orderBy []db.SortPart) (db.RawChange, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return db.RawChange{}, err
	}
	var change db.RawChange
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		replaceOptions := options.FindOneAndReplace().SetReturnDocument(options.Before)
		if sort, collation := buildSort(orderBy); sort != nil {
			replaceOptions.SetSort(sort)
			if collation != nil {
				replaceOptions.SetCollation(collation)
			}
		}
		var before bson.M
		err := coll.FindOneAndReplace(ctx, filter, bson.M(doc), replaceOptions).Decode(&before)
		if errors.Is(err, mongo.ErrNoDocuments) {
			change = db.RawChange{}
			return nil
		}
		if err != nil {
			return err
		}
		after := make(map[string]any, len(doc)+1)
		for k, v := range doc {
			after[k] = v
		}
		// 替换保持 _id 不变
		after["_id"] = before["_id"]
		change = db.RawChange{Before: map[string]any(before), After: after}
		return nil
	})
	return change, err
}

func (t *rawTable) UpdateOne(ctx context.Context, cond condition.Condition, mod modification.Modification, orderBy []db.SortPart) (db.RawChange, error) {
	update, err := mod.ToMongo()
	if err != nil {
		return db.RawChange{}, err
	}
	if update.Replacement != nil {
		return t.ReplaceOne(ctx, cond, update.Replacement, orderBy)
	}
	filter, err := buildFilter(cond)
	if err != nil {
		return db.RawChange{}, err
	}
	var change db.RawChange
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		updateOptions := options.FindOneAndUpdate().SetReturnDocument(options.Before)
		if sort, collation := buildSort(orderBy); sort != nil {
			updateOptions.SetSort(sort)
			if collation != nil {
				updateOptions.SetCollation(collation)
			}
		}
		var before bson.M
		err := coll.FindOneAndUpdate(ctx, filter, update.Document(), updateOptions).Decode(&before)
		if errors.Is(err, mongo.ErrNoDocuments) {
			change = db.RawChange{}
			return nil
		}
		if err != nil {
			return err
		}
		// after 快照在本地从 before 重放修改得到，避免第二次读
		after, err := mod.Apply(map[string]any(before))
		if err != nil {
			return err
		}
		change = db.RawChange{Before: map[string]any(before), After: after}
		return nil
	})
	return change, err
}

func (t *rawTable) UpdateOneIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification, orderBy []db.SortPart) (bool, error) {
	if len(orderBy) > 0 {
		change, err := t.UpdateOne(ctx, cond, mod, orderBy)
		return change.Before != nil, err
	}
	update, err := mod.ToMongo()
	if err != nil {
		return false, err
	}
	filter, err := buildFilter(cond)
	if err != nil {
		return false, err
	}
	var matched bool
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		if update.Replacement != nil {
			result, err := coll.ReplaceOne(ctx, filter, bson.M(update.Replacement))
			if err != nil {
				return err
			}
			matched = result.MatchedCount > 0
			return nil
		}
		result, err := coll.UpdateOne(ctx, filter, update.Document())
		if err != nil {
			return err
		}
		matched = result.MatchedCount > 0
		return nil
	})
	return matched, err
}

// forEachBatch 按 _id 升序分页遍历命中文档，避免长游标与无界内存。
// 页间命中集可能被并发写改变，逐页语义与批量更新的非事务性一致。
func (t *rawTable) forEachBatch(ctx context.Context, filter bson.M, visit func(ctx context.Context, coll *mongo.Collection, batch []map[string]any) error) error {
	var last any
	for {
		pageFilter := filter
		if last != nil {
			pageFilter = bson.M{"$and": []bson.M{filter, {"_id": bson.M{"$gt": last}}}}
		}
		var batch []map[string]any
		err := t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
			findOptions := options.Find().
				SetSort(bson.D{{Key: "_id", Value: 1}}).
				SetLimit(int64(batchSize))
			cursor, err := coll.Find(ctx, pageFilter, findOptions)
			if err != nil {
				return err
			}
			defer cursor.Close(ctx)
			batch = batch[:0]
			for cursor.Next(ctx) {
				var doc bson.M
				if err := cursor.Decode(&doc); err != nil {
					return err
				}
				batch = append(batch, map[string]any(doc))
			}
			if err := cursor.Err(); err != nil {
				return err
			}
			return visit(ctx, coll, batch)
		})
		if err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		last = batch[len(batch)-1]["_id"]
	}
}

// pageDiff 从一页命中推导 before/after 快照。无副作用，
// 同一页上重复调用得到相同结果
func pageDiff(mod modification.Modification, batch []map[string]any) ([]db.RawChange, error) {
	changes := make([]db.RawChange, 0, len(batch))
	for _, before := range batch {
		after, err := mod.Apply(before)
		if err != nil {
			return nil, err
		}
		changes = append(changes, db.RawChange{Before: before, After: after})
	}
	return changes, nil
}

func (t *rawTable) UpdateMany(ctx context.Context, cond condition.Condition, mod modification.Modification) ([]db.RawChange, error) {
	update, err := mod.ToMongo()
	if err != nil {
		return nil, err
	}
	filter, err := buildFilter(cond)
	if err != nil {
		return nil, err
	}
	var changes []db.RawChange
	err = t.forEachBatch(ctx, filter, func(ctx context.Context, coll *mongo.Collection, batch []map[string]any) error {
		if len(batch) == 0 {
			return nil
		}
		// 每次尝试重新推导页内快照，页写入成功后才并入结果，
		// 瞬时故障重放整页时不会产生重复快照
		pageChanges, err := pageDiff(mod, batch)
		if err != nil {
			return err
		}
		if update.Replacement != nil {
			models := make([]mongo.WriteModel, 0, len(pageChanges))
			for _, change := range pageChanges {
				models = append(models, mongo.NewReplaceOneModel().
					SetFilter(bson.M{"_id": change.Before["_id"]}).
					SetReplacement(bson.M(change.After)))
			}
			if _, err := coll.BulkWrite(ctx, models); err != nil {
				return err
			}
			changes = append(changes, pageChanges...)
			return nil
		}
		ids := make([]any, 0, len(pageChanges))
		for _, change := range pageChanges {
			ids = append(ids, change.Before["_id"])
		}
		if _, err := coll.UpdateMany(ctx, bson.M{"_id": bson.M{"$in": ids}}, update.Document()); err != nil {
			return err
		}
		changes = append(changes, pageChanges...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (t *rawTable) UpdateManyIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification) (int, error) {
	update, err := mod.ToMongo()
	if err != nil {
		return 0, err
	}
	if update.Replacement != nil {
		changes, err := t.UpdateMany(ctx, cond, mod)
		return len(changes), err
	}
	filter, err := buildFilter(cond)
	if err != nil {
		return 0, err
	}
	var matched int64
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		result, err := coll.UpdateMany(ctx, filter, update.Document())
		if err != nil {
			return err
		}
		matched = result.MatchedCount
		return nil
	})
	return int(matched), err
}

// stripTouched 从插入文档中剔除被修改触达的顶层字段，
// 避免 $setOnInsert 与更新操作符在同一路径上冲突
func stripTouched(doc map[string]any, touched []string) bson.M {
	tops := make(map[string]bool, len(touched))
	for _, path := range touched {
		top, _, _ := strings.Cut(path, ".")
		tops[top] = true
	}
	out := bson.M{}
	for k, v := range doc {
		if !tops[k] {
			out[k] = v
		}
	}
	return out
}

// filterEqualities 收集条件树中按与语义生效的精确等值对，
// 忽略大小写的等值编译为正则，不参与插入基底
func filterEqualities(cond condition.Condition, out map[string]any) {
	switch c := cond.(type) {
	case *condition.EqualsCondition:
		if !c.IgnoreCase {
			out[c.Path.Dotted()] = c.Value
		}
	case *condition.AndCondition:
		for _, sub := range c.Conditions {
			filterEqualities(sub, out)
		}
	}
}

// insertBasis 原生 upsert 插入分支的本地基底：过滤器等值字段
// 先落底，再覆以 $setOnInsert 的顶层字段
func insertBasis(cond condition.Condition, setOnInsert bson.M) map[string]any {
	basis := map[string]any{}
	pairs := map[string]any{}
	filterEqualities(cond, pairs)
	for dotted, value := range pairs {
		setDotted(basis, dotted, value)
	}
	for k, v := range setOnInsert {
		basis[k] = v
	}
	return basis
}

func setDotted(doc map[string]any, dotted string, value any) {
	keys := strings.Split(dotted, ".")
	cur := doc
	for _, k := range keys[:len(keys)-1] {
		next, ok := cur[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[k] = next
		}
		cur = next
	}
	cur[keys[len(keys)-1]] = value
}

func (t *rawTable) UpsertOne(ctx context.Context, cond condition.Condition, mod modification.Modification, doc map[string]any) (db.RawChange, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return db.RawChange{}, err
	}

	if modification.OperatorOnly(mod) {
		update, err := mod.ToMongo()
		if err != nil {
			return db.RawChange{}, err
		}
		updateDoc := update.Document()
		setOnInsert := stripTouched(doc, mod.Touched())
		if len(setOnInsert) > 0 {
			updateDoc["$setOnInsert"] = setOnInsert
		}
		var change db.RawChange
		err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
			upsertOptions := options.FindOneAndUpdate().
				SetUpsert(true).
				SetReturnDocument(options.Before)
			var before bson.M
			findErr := coll.FindOneAndUpdate(ctx, filter, updateDoc, upsertOptions).Decode(&before)
			if errors.Is(findErr, mongo.ErrNoDocuments) {
				// 未命中走了插入分支。服务端的插入基底除 $setOnInsert 外
				// 还包含从过滤器派生的等值字段，本地同样折入再重放修改
				after, err := mod.Apply(insertBasis(cond, setOnInsert))
				if err != nil {
					return err
				}
				change = db.RawChange{Before: nil, After: after}
				return nil
			}
			if findErr != nil {
				return findErr
			}
			after, err := mod.Apply(map[string]any(before))
			if err != nil {
				return err
			}
			change = db.RawChange{Before: map[string]any(before), After: after}
			return nil
		})
		return change, err
	}

	// 含整体替换的修改不能走原生 upsert：先尝试更新，未命中再插入。
	// 两步之间存在竞态窗口，并发插入由唯一索引兜底为唯一性冲突错误
	change, err := t.UpdateOne(ctx, cond, mod, nil)
	if err != nil {
		return db.RawChange{}, err
	}
	if change.Before != nil {
		return change, nil
	}
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		_, err := coll.InsertOne(ctx, bson.M(doc))
		return err
	})
	if err != nil {
		return db.RawChange{}, err
	}
	return db.RawChange{Before: nil, After: doc}, nil
}

func (t *rawTable) UpsertOneIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification, doc map[string]any) (bool, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return false, err
	}

	if modification.OperatorOnly(mod) {
		update, err := mod.ToMongo()
		if err != nil {
			return false, err
		}
		updateDoc := update.Document()
		setOnInsert := stripTouched(doc, mod.Touched())
		if len(setOnInsert) > 0 {
			updateDoc["$setOnInsert"] = setOnInsert
		}
		var existed bool
		err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
			result, err := coll.UpdateOne(ctx, filter, updateDoc, options.Update().SetUpsert(true))
			if err != nil {
				return err
			}
			existed = result.MatchedCount > 0
			return nil
		})
		return existed, err
	}

	matched, err := t.UpdateOneIgnoringResult(ctx, cond, mod, nil)
	if err != nil || matched {
		return matched, err
	}
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		_, err := coll.InsertOne(ctx, bson.M(doc))
		return err
	})
	return false, err
}

func (t *rawTable) DeleteOne(ctx context.Context, cond condition.Condition, orderBy []db.SortPart) (map[string]any, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return nil, err
	}
	var deleted map[string]any
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		deleteOptions := options.FindOneAndDelete()
		if sort, collation := buildSort(orderBy); sort != nil {
			deleteOptions.SetSort(sort)
			if collation != nil {
				deleteOptions.SetCollation(collation)
			}
		}
		var doc bson.M
		err := coll.FindOneAndDelete(ctx, filter, deleteOptions).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			deleted = nil
			return nil
		}
		if err != nil {
			return err
		}
		deleted = map[string]any(doc)
		return nil
	})
	return deleted, err
}

func (t *rawTable) DeleteOneIgnoringResult(ctx context.Context, cond condition.Condition, orderBy []db.SortPart) (bool, error) {
	if len(orderBy) > 0 {
		doc, err := t.DeleteOne(ctx, cond, orderBy)
		return doc != nil, err
	}
	filter, err := buildFilter(cond)
	if err != nil {
		return false, err
	}
	var removed bool
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		result, err := coll.DeleteOne(ctx, filter)
		if err != nil {
			return err
		}
		removed = result.DeletedCount > 0
		return nil
	})
	return removed, err
}

func (t *rawTable) DeleteMany(ctx context.Context, cond condition.Condition) ([]map[string]any, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return nil, err
	}
	var deleted []map[string]any
	err = t.forEachBatch(ctx, filter, func(ctx context.Context, coll *mongo.Collection, batch []map[string]any) error {
		if len(batch) == 0 {
			return nil
		}
		ids := make([]any, 0, len(batch))
		for _, doc := range batch {
			ids = append(ids, doc["_id"])
		}
		if _, err := coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
			return err
		}
		deleted = append(deleted, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (t *rawTable) DeleteManyIgnoringResult(ctx context.Context, cond condition.Condition) (int, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return 0, err
	}
	var count int64
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		result, err := coll.DeleteMany(ctx, filter)
		if err != nil {
			return err
		}
		count = result.DeletedCount
		return nil
	})
	return int(count), err
}

// FindSimilar 文档后端不提供向量检索能力
func (t *rawTable) FindSimilar(ctx context.Context, field schema.Path, params db.SimilarParams, cond condition.Condition) iter.Seq2[db.SimilarRawHit, error] {
	return func(yield func(db.SimilarRawHit, error) bool) {
		yield(db.SimilarRawHit{}, errors.Wrapf(db.ErrUnsupported, "vector search on field %s", field.String()))
	}
}
