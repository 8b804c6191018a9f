package mongodb

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// batchSize 批量删除/更新的分块大小，避免游标内存无界增长
const batchSize = 1000

// searchDefaultLimit 托管搜索未显式分页时的取回上限
const searchDefaultLimit = 1000

type rawTable struct {
	m     *Mongo
	name  string
	class *schema.Class

	prepMu      sync.Mutex
	preparedGen int64
}

func newRawTable(m *Mongo, name string, class *schema.Class) (*rawTable, error) {
	// 文档后端按恒等映射存储整个模型，这里只校验 schema 可映射性，
	// 不可映射的节点在建表阶段报错
	if _, err := schema.NewColumnSet(class); err != nil {
		return nil, errors.Wrap(db.ErrSchemaMapping, err.Error())
	}
	return &rawTable{m: m, name: name, class: class, preparedGen: -1}, nil
}

// collection 取集合句柄并确保索引准备完成。
// 索引准备是按连接代 memoized 的任务，并发调用方等待同一次执行。
func (t *rawTable) collection(ctx context.Context) (*mongo.Collection, error) {
	client, err := t.m.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	coll := client.Database(t.m.options.Database).Collection(t.name)
	if err := t.prepare(ctx, coll); err != nil {
		return nil, err
	}
	return coll, nil
}

func (t *rawTable) prepare(ctx context.Context, coll *mongo.Collection) error {
	t.prepMu.Lock()
	defer t.prepMu.Unlock()
	gen := t.m.generation.Load()
	if t.preparedGen == gen {
		return nil
	}
	reconcileIndexes(ctx, t.m.lg.With("table", t.name), coll, t.class)
	t.preparedGen = gen
	return nil
}

// classify 把驱动错误映射进错误分类，后端私有错误不出边界
func (t *rawTable) classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return db.UniqueViolation(t.name, err)
	}
	if mongo.IsTimeout(err) {
		return errors.Wrap(db.ErrQueryTimeout, err.Error())
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.HasErrorLabel("NetworkError") || cmdErr.HasErrorLabel("TransientTransactionError")) {
		return errors.Wrap(db.ErrTransient, err.Error())
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return errors.Wrap(db.ErrTransient, err.Error())
	}
	return err
}

// run 网络操作的统一外壳：瞬时故障有界重试，重试前强制重连
func (t *rawTable) run(ctx context.Context, op func(ctx context.Context, coll *mongo.Collection) error) error {
	return db.WithRetry(ctx, t.m.lg, t.m.reconnect, func(ctx context.Context) error {
		coll, err := t.collection(ctx)
		if err != nil {
			return err
		}
		return t.classify(op(ctx, coll))
	})
}

func (t *rawTable) Insert(ctx context.Context, docs []map[string]any) ([]map[string]any, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	err := t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		payload := make([]any, len(docs))
		for i, doc := range docs {
			payload[i] = bson.M(doc)
		}
		result, err := coll.InsertMany(ctx, payload)
		if err != nil {
			return err
		}
		for i, id := range result.InsertedIDs {
			if _, ok := docs[i]["_id"]; !ok {
				docs[i]["_id"] = id
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// buildFilter 编译非全文部分的条件为 match 过滤器
func buildFilter(cond condition.Condition) (bson.M, error) {
	filter, err := cond.ToMongo()
	if err != nil {
		return nil, errors.Wrap(db.ErrSchemaMapping, err.Error())
	}
	return filter, nil
}

// splitFullText 摘出条件树顶层（或顶层 And 中）的全文检索叶子
func splitFullText(cond condition.Condition) (*condition.FullTextSearchCondition, condition.Condition) {
	switch c := cond.(type) {
	case *condition.FullTextSearchCondition:
		return c, condition.Always()
	case *condition.AndCondition:
		for i, sub := range c.Conditions {
			if fts, ok := sub.(*condition.FullTextSearchCondition); ok {
				rest := make([]condition.Condition, 0, len(c.Conditions)-1)
				rest = append(rest, c.Conditions[:i]...)
				rest = append(rest, c.Conditions[i+1:]...)
				return fts, condition.Simplify(condition.And(rest...))
			}
		}
	}
	return nil, cond
}

func buildSort(orderBy []db.SortPart) (bson.D, *options.Collation) {
	if len(orderBy) == 0 {
		return nil, nil
	}
	sort := make(bson.D, 0, len(orderBy))
	var collation *options.Collation
	for _, part := range orderBy {
		direction := -1
		if part.Ascending {
			direction = 1
		}
		sort = append(sort, bson.E{Key: part.Path.Dotted(), Value: direction})
		if part.IgnoreCase {
			// 大小写折叠排序用 strength 2 的 collation 实现
			collation = &options.Collation{Locale: "en", Strength: 2}
		}
	}
	return sort, collation
}

func (t *rawTable) Find(ctx context.Context, cond condition.Condition, opts db.FindOptions) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		fts, rest := splitFullText(cond)

		if fts != nil && t.m.search != nil {
			t.findHosted(ctx, fts, rest, opts, yield)
			return
		}

		target := cond
		textScored := false
		if fts != nil {
			textScored = len(opts.OrderBy) == 0
		}
		filter, err := buildFilter(target)
		if err != nil {
			yield(nil, err)
			return
		}

		findOptions := options.Find()
		if sort, collation := buildSort(opts.OrderBy); sort != nil {
			findOptions.SetSort(sort)
			if collation != nil {
				findOptions.SetCollation(collation)
			}
		} else if textScored {
			// 原生文本检索兜底：没有显式排序时按文本相关度排
			findOptions.SetProjection(bson.M{"__textScore": bson.M{"$meta": "textScore"}})
			findOptions.SetSort(bson.M{"__textScore": bson.M{"$meta": "textScore"}})
		}
		if opts.Skip > 0 {
			findOptions.SetSkip(int64(opts.Skip))
		}
		if opts.Limit > 0 {
			findOptions.SetLimit(int64(opts.Limit))
		}
		if opts.MaxQueryMS > 0 {
			// 超出服务端时间预算按超时错误浮出，不做静默截断
			findOptions.SetMaxTime(time.Duration(opts.MaxQueryMS) * time.Millisecond)
		}

		var docs []map[string]any
		err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
			cursor, err := coll.Find(ctx, filter, findOptions)
			if err != nil {
				return err
			}
			defer cursor.Close(ctx)
			docs = docs[:0]
			for cursor.Next(ctx) {
				var doc bson.M
				if err := cursor.Decode(&doc); err != nil {
					return err
				}
				delete(doc, "__textScore")
				docs = append(docs, map[string]any(doc))
			}
			return cursor.Err()
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, doc := range docs {
			if !yield(doc, nil) {
				return
			}
		}
	}
}

// findHosted 托管搜索索引路径：先按相关度取回有序 id 与分值，
// 再回表取文档并按搜索名次重排
func (t *rawTable) findHosted(ctx context.Context, fts *condition.FullTextSearchCondition, rest condition.Condition, opts db.FindOptions, yield func(map[string]any, error) bool) {
	limit := searchDefaultLimit
	if opts.Limit > 0 {
		limit = opts.Skip + opts.Limit
	}
	hits, err := t.m.search.Search(ctx, t.name, fts.Text, fts.RequireAll, limit)
	if err != nil {
		yield(nil, err)
		return
	}
	if len(hits) == 0 {
		return
	}

	ids := make([]any, 0, len(hits))
	rank := make(map[any]int, len(hits))
	for i, hit := range hits {
		ids = append(ids, hit.ID)
		rank[hit.ID] = i
	}

	restFilter, err := buildFilter(rest)
	if err != nil {
		yield(nil, err)
		return
	}
	filter := bson.M{"$and": []bson.M{{"_id": bson.M{"$in": ids}}, restFilter}}

	var docs []map[string]any
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		findOptions := options.Find()
		if opts.MaxQueryMS > 0 {
			findOptions.SetMaxTime(time.Duration(opts.MaxQueryMS) * time.Millisecond)
		}
		cursor, err := coll.Find(ctx, filter, findOptions)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		docs = docs[:0]
		for cursor.Next(ctx) {
			var doc bson.M
			if err := cursor.Decode(&doc); err != nil {
				return err
			}
			docs = append(docs, map[string]any(doc))
		}
		return cursor.Err()
	})
	if err != nil {
		yield(nil, err)
		return
	}

	ordered := make([]map[string]any, 0, len(docs))
	ordered = append(ordered, docs...)
	sortByRank(ordered, rank)
	if opts.Skip > 0 {
		if opts.Skip >= len(ordered) {
			return
		}
		ordered = ordered[opts.Skip:]
	}
	if opts.Limit > 0 && len(ordered) > opts.Limit {
		ordered = ordered[:opts.Limit]
	}
	for _, doc := range ordered {
		if !yield(doc, nil) {
			return
		}
	}
}

func sortByRank(docs []map[string]any, rank map[any]int) {
	for i := 1; i < len(docs); i++ {
		for j := i; j > 0 && docRank(docs[j], rank) < docRank(docs[j-1], rank); j-- {
			docs[j], docs[j-1] = docs[j-1], docs[j]
		}
	}
}

func docRank(doc map[string]any, rank map[any]int) int {
	if r, ok := rank[doc["_id"]]; ok {
		return r
	}
	if s, ok := doc["_id"].(interface{ Hex() string }); ok {
		if r, ok := rank[s.Hex()]; ok {
			return r
		}
	}
	return len(rank)
}

func (t *rawTable) Count(ctx context.Context, cond condition.Condition) (int, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return 0, err
	}
	var count int64
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		count, err = coll.CountDocuments(ctx, filter)
		return err
	})
	return int(count), err
}

func (t *rawTable) GroupCount(ctx context.Context, cond condition.Condition, groupBy schema.Path) (map[any]int, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return nil, err
	}
	pipeline := []bson.M{
		{"$match": filter},
		{"$group": bson.M{"_id": "$" + groupBy.Dotted(), "count": bson.M{"$sum": 1}}},
	}
	out := map[any]int{}
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		clear(out)
		for cursor.Next(ctx) {
			var row struct {
				Key   any   `bson:"_id"`
				Count int64 `bson:"count"`
			}
			if err := cursor.Decode(&row); err != nil {
				return err
			}
			out[row.Key] = int(row.Count)
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func aggregateOperator(kind db.AggregateKind) string {
	switch kind {
	case db.AggregateAvg:
		return "$avg"
	case db.AggregateMin:
		return "$min"
	case db.AggregateMax:
		return "$max"
	default:
		return "$sum"
	}
}

func (t *rawTable) Aggregate(ctx context.Context, kind db.AggregateKind, cond condition.Condition, path schema.Path) (*float64, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return nil, err
	}
	pipeline := []bson.M{
		{"$match": filter},
		{"$group": bson.M{"_id": nil, "value": bson.M{aggregateOperator(kind): "$" + path.Dotted()}}},
	}
	var result *float64
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		result = nil
		for cursor.Next(ctx) {
			var row struct {
				Value *float64 `bson:"value"`
			}
			if err := cursor.Decode(&row); err != nil {
				return err
			}
			result = row.Value
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (t *rawTable) GroupAggregate(ctx context.Context, kind db.AggregateKind, cond condition.Condition, groupBy schema.Path, path schema.Path) (map[any]*float64, error) {
	filter, err := buildFilter(cond)
	if err != nil {
		return nil, err
	}
	pipeline := []bson.M{
		{"$match": filter},
		{"$group": bson.M{"_id": "$" + groupBy.Dotted(), "value": bson.M{aggregateOperator(kind): "$" + path.Dotted()}}},
	}
	out := map[any]*float64{}
	err = t.run(ctx, func(ctx context.Context, coll *mongo.Collection) error {
		cursor, err := coll.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)
		clear(out)
		for cursor.Next(ctx) {
			var row struct {
				Key   any      `bson:"_id"`
				Value *float64 `bson:"value"`
			}
			if err := cursor.Decode(&row); err != nil {
				return err
			}
			out[row.Key] = row.Value
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
