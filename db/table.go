package db

import (
	"context"
	"iter"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/modification"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

var tracer = otel.Tracer("github.com/lightningkite/service-abstractions-sub003/db")

// FindOptions 查询选项
type FindOptions struct {
	OrderBy    []SortPart
	Skip       int
	Limit      int
	MaxQueryMS int64
}

// FindOption 查询选项设置函数
type FindOption func(*FindOptions)

func WithOrderBy(parts ...SortPart) FindOption {
	return func(o *FindOptions) { o.OrderBy = parts }
}

func WithSkip(skip int) FindOption {
	return func(o *FindOptions) { o.Skip = skip }
}

func WithLimit(limit int) FindOption {
	return func(o *FindOptions) { o.Limit = limit }
}

func WithMaxQueryMS(ms int64) FindOption {
	return func(o *FindOptions) { o.MaxQueryMS = ms }
}

// SimilarRawHit 向量检索的文档级命中
type SimilarRawHit struct {
	Doc   map[string]any
	Score float64
}

// Scored 向量检索的类型化命中
type Scored[T any] struct {
	Model T
	Score float64
}

// RawTable 后端实现的文档级表契约。条件/修改在进入后端前已化简，
// 后端自行对 Never/空修改短路。所有方法并发安全。
type RawTable interface {
	Insert(ctx context.Context, docs []map[string]any) ([]map[string]any, error)
	Find(ctx context.Context, cond condition.Condition, opts FindOptions) iter.Seq2[map[string]any, error]
	Count(ctx context.Context, cond condition.Condition) (int, error)
	GroupCount(ctx context.Context, cond condition.Condition, groupBy schema.Path) (map[any]int, error)
	Aggregate(ctx context.Context, kind AggregateKind, cond condition.Condition, path schema.Path) (*float64, error)
	GroupAggregate(ctx context.Context, kind AggregateKind, cond condition.Condition, groupBy schema.Path, path schema.Path) (map[any]*float64, error)
	ReplaceOne(ctx context.Context, cond condition.Condition, doc map[string]any, orderBy []SortPart) (RawChange, error)
	UpdateOne(ctx context.Context, cond condition.Condition, mod modification.Modification, orderBy []SortPart) (RawChange, error)
	UpdateOneIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification, orderBy []SortPart) (bool, error)
	UpdateMany(ctx context.Context, cond condition.Condition, mod modification.Modification) ([]RawChange, error)
	UpdateManyIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification) (int, error)
	UpsertOne(ctx context.Context, cond condition.Condition, mod modification.Modification, doc map[string]any) (RawChange, error)
	UpsertOneIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification, doc map[string]any) (bool, error)
	DeleteOne(ctx context.Context, cond condition.Condition, orderBy []SortPart) (map[string]any, error)
	DeleteOneIgnoringResult(ctx context.Context, cond condition.Condition, orderBy []SortPart) (bool, error)
	DeleteMany(ctx context.Context, cond condition.Condition) ([]map[string]any, error)
	DeleteManyIgnoringResult(ctx context.Context, cond condition.Condition) (int, error)
	FindSimilar(ctx context.Context, field schema.Path, params SimilarParams, cond condition.Condition) iter.Seq2[SimilarRawHit, error]
}

// Table 面向调用方的类型化表句柄。同一 (模型, 物理名) 只创建一次，
// 随连接断开被整体销毁重建。
type Table[T any] struct {
	name string
	raw  RawTable
}

// TableOf 把后端返回的文档级句柄包装为类型化表
func TableOf[T any](name string, raw RawTable) *Table[T] {
	return &Table[T]{name: name, raw: raw}
}

func (t *Table[T]) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "db."+op, trace.WithAttributes(attribute.String("db.table", t.name)))
}

// Insert 批量插入，返回落库后的模型
func (t *Table[T]) Insert(ctx context.Context, models []T) ([]T, error) {
	ctx, span := t.span(ctx, "Insert")
	defer span.End()

	docs := make([]map[string]any, 0, len(models))
	for i := range models {
		doc, err := EncodeDoc(&models[i])
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	inserted, err := t.raw.Insert(ctx, docs)
	if err != nil {
		return nil, err
	}
	return decodeDocs[T](inserted)
}

// Find 惰性查询。返回的序列有限且不可重启，重新调用会重新执行查询。
func (t *Table[T]) Find(ctx context.Context, cond condition.Condition, opts ...FindOption) iter.Seq2[T, error] {
	options := FindOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	simplified := condition.Simplify(cond)
	return func(yield func(T, error) bool) {
		var zero T
		if simplified.Type() == condition.TypeNever {
			return
		}
		ctx, span := t.span(ctx, "Find")
		defer span.End()
		for doc, err := range t.raw.Find(ctx, simplified, options) {
			if err != nil {
				yield(zero, err)
				return
			}
			model, err := DecodeDoc[T](doc)
			if err != nil {
				yield(zero, err)
				return
			}
			if !yield(*model, nil) {
				return
			}
		}
	}
}

// FindOne 取第一条命中，未命中返回 nil
func (t *Table[T]) FindOne(ctx context.Context, cond condition.Condition, opts ...FindOption) (*T, error) {
	for model, err := range t.Find(ctx, cond, append(opts, WithLimit(1))...) {
		if err != nil {
			return nil, err
		}
		return &model, nil
	}
	return nil, nil
}

// Count 统计命中行数
func (t *Table[T]) Count(ctx context.Context, cond condition.Condition) (int, error) {
	simplified := condition.Simplify(cond)
	if simplified.Type() == condition.TypeNever {
		return 0, nil
	}
	ctx, span := t.span(ctx, "Count")
	defer span.End()
	return t.raw.Count(ctx, simplified)
}

// GroupCount 按字段分组统计
func (t *Table[T]) GroupCount(ctx context.Context, cond condition.Condition, groupBy schema.Path) (map[any]int, error) {
	simplified := condition.Simplify(cond)
	if simplified.Type() == condition.TypeNever {
		return map[any]int{}, nil
	}
	ctx, span := t.span(ctx, "GroupCount")
	defer span.End()
	return t.raw.GroupCount(ctx, simplified, groupBy)
}

// Aggregate 数值聚合，空集返回 nil
func (t *Table[T]) Aggregate(ctx context.Context, kind AggregateKind, cond condition.Condition, path schema.Path) (*float64, error) {
	simplified := condition.Simplify(cond)
	if simplified.Type() == condition.TypeNever {
		return nil, nil
	}
	ctx, span := t.span(ctx, "Aggregate")
	defer span.End()
	return t.raw.Aggregate(ctx, kind, simplified, path)
}

// GroupAggregate 按字段分组的数值聚合
func (t *Table[T]) GroupAggregate(ctx context.Context, kind AggregateKind, cond condition.Condition, groupBy schema.Path, path schema.Path) (map[any]*float64, error) {
	simplified := condition.Simplify(cond)
	if simplified.Type() == condition.TypeNever {
		return map[any]*float64{}, nil
	}
	ctx, span := t.span(ctx, "GroupAggregate")
	defer span.End()
	return t.raw.GroupAggregate(ctx, kind, simplified, groupBy, path)
}

// ReplaceOne 整行替换第一条命中
func (t *Table[T]) ReplaceOne(ctx context.Context, cond condition.Condition, model T, orderBy ...SortPart) (EntryChange[T], error) {
	simplified := condition.Simplify(cond)
	if simplified.Type() == condition.TypeNever {
		return EntryChange[T]{}, nil
	}
	ctx, span := t.span(ctx, "ReplaceOne")
	defer span.End()
	doc, err := EncodeDoc(&model)
	if err != nil {
		return EntryChange[T]{}, err
	}
	change, err := t.raw.ReplaceOne(ctx, simplified, doc, orderBy)
	if err != nil {
		return EntryChange[T]{}, err
	}
	return decodeChange[T](change)
}

// UpdateOne 原子更新第一条命中，返回一致的 before/after 快照
func (t *Table[T]) UpdateOne(ctx context.Context, cond condition.Condition, mod modification.Modification, orderBy ...SortPart) (EntryChange[T], error) {
	simplified := condition.Simplify(cond)
	simplifiedMod := modification.Simplify(mod)
	if simplified.Type() == condition.TypeNever || modification.IsNothing(simplifiedMod) {
		return EntryChange[T]{}, nil
	}
	ctx, span := t.span(ctx, "UpdateOne")
	defer span.End()
	change, err := t.raw.UpdateOne(ctx, simplified, simplifiedMod, orderBy)
	if err != nil {
		return EntryChange[T]{}, err
	}
	return decodeChange[T](change)
}

// UpdateOneIgnoringResult 同 UpdateOne，但只返回是否命中，省去解码
func (t *Table[T]) UpdateOneIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification, orderBy ...SortPart) (bool, error) {
	simplified := condition.Simplify(cond)
	simplifiedMod := modification.Simplify(mod)
	if simplified.Type() == condition.TypeNever || modification.IsNothing(simplifiedMod) {
		return false, nil
	}
	ctx, span := t.span(ctx, "UpdateOneIgnoringResult")
	defer span.End()
	return t.raw.UpdateOneIgnoringResult(ctx, simplified, simplifiedMod, orderBy)
}

// UpsertOne 有则更新，无则插入给定模型
func (t *Table[T]) UpsertOne(ctx context.Context, cond condition.Condition, mod modification.Modification, model T) (EntryChange[T], error) {
	simplified := condition.Simplify(cond)
	ctx, span := t.span(ctx, "UpsertOne")
	defer span.End()
	doc, err := EncodeDoc(&model)
	if err != nil {
		return EntryChange[T]{}, err
	}
	change, err := t.raw.UpsertOne(ctx, simplified, modification.Simplify(mod), doc)
	if err != nil {
		return EntryChange[T]{}, err
	}
	return decodeChange[T](change)
}

// UpsertOneIgnoringResult 同 UpsertOne，只返回更新前是否已存在
func (t *Table[T]) UpsertOneIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification, model T) (bool, error) {
	simplified := condition.Simplify(cond)
	ctx, span := t.span(ctx, "UpsertOneIgnoringResult")
	defer span.End()
	doc, err := EncodeDoc(&model)
	if err != nil {
		return false, err
	}
	return t.raw.UpsertOneIgnoringResult(ctx, simplified, modification.Simplify(mod), doc)
}

// UpdateMany 批量更新，返回逐行快照
func (t *Table[T]) UpdateMany(ctx context.Context, cond condition.Condition, mod modification.Modification) (CollectionChanges[T], error) {
	simplified := condition.Simplify(cond)
	simplifiedMod := modification.Simplify(mod)
	if simplified.Type() == condition.TypeNever || modification.IsNothing(simplifiedMod) {
		return CollectionChanges[T]{}, nil
	}
	ctx, span := t.span(ctx, "UpdateMany")
	defer span.End()
	rawChanges, err := t.raw.UpdateMany(ctx, simplified, simplifiedMod)
	if err != nil {
		return CollectionChanges[T]{}, err
	}
	out := CollectionChanges[T]{Changes: make([]EntryChange[T], 0, len(rawChanges))}
	for _, rc := range rawChanges {
		change, err := decodeChange[T](rc)
		if err != nil {
			return CollectionChanges[T]{}, err
		}
		out.Changes = append(out.Changes, change)
	}
	return out, nil
}

// UpdateManyIgnoringResult 批量更新，只返回命中行数
func (t *Table[T]) UpdateManyIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification) (int, error) {
	simplified := condition.Simplify(cond)
	simplifiedMod := modification.Simplify(mod)
	if simplified.Type() == condition.TypeNever || modification.IsNothing(simplifiedMod) {
		return 0, nil
	}
	ctx, span := t.span(ctx, "UpdateManyIgnoringResult")
	defer span.End()
	return t.raw.UpdateManyIgnoringResult(ctx, simplified, simplifiedMod)
}

// DeleteOne 删除第一条命中，未命中返回 nil 且不触网（条件恒假时）
func (t *Table[T]) DeleteOne(ctx context.Context, cond condition.Condition, orderBy ...SortPart) (*T, error) {
	simplified := condition.Simplify(cond)
	if simplified.Type() == condition.TypeNever {
		return nil, nil
	}
	ctx, span := t.span(ctx, "DeleteOne")
	defer span.End()
	doc, err := t.raw.DeleteOne(ctx, simplified, orderBy)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return DecodeDoc[T](doc)
}

// DeleteOneIgnoringResult 同 DeleteOne，只返回是否删除
func (t *Table[T]) DeleteOneIgnoringResult(ctx context.Context, cond condition.Condition, orderBy ...SortPart) (bool, error) {
	simplified := condition.Simplify(cond)
	if simplified.Type() == condition.TypeNever {
		return false, nil
	}
	ctx, span := t.span(ctx, "DeleteOneIgnoringResult")
	defer span.End()
	return t.raw.DeleteOneIgnoringResult(ctx, simplified, orderBy)
}

// DeleteMany 批量删除，返回被删模型
func (t *Table[T]) DeleteMany(ctx context.Context, cond condition.Condition) ([]T, error) {
	simplified := condition.Simplify(cond)
	if simplified.Type() == condition.TypeNever {
		return nil, nil
	}
	ctx, span := t.span(ctx, "DeleteMany")
	defer span.End()
	docs, err := t.raw.DeleteMany(ctx, simplified)
	if err != nil {
		return nil, err
	}
	return decodeDocs[T](docs)
}

// DeleteManyIgnoringResult 批量删除，只返回删除行数
func (t *Table[T]) DeleteManyIgnoringResult(ctx context.Context, cond condition.Condition) (int, error) {
	simplified := condition.Simplify(cond)
	if simplified.Type() == condition.TypeNever {
		return 0, nil
	}
	ctx, span := t.span(ctx, "DeleteManyIgnoringResult")
	defer span.End()
	return t.raw.DeleteManyIgnoringResult(ctx, simplified)
}

// FindSimilar 向量相似检索，按相似度降序返回（仅关系型后端支持）
func (t *Table[T]) FindSimilar(ctx context.Context, field schema.Path, params SimilarParams, cond condition.Condition) iter.Seq2[Scored[T], error] {
	simplified := condition.Simplify(cond)
	return func(yield func(Scored[T], error) bool) {
		if simplified.Type() == condition.TypeNever {
			return
		}
		ctx, span := t.span(ctx, "FindSimilar")
		defer span.End()
		for hit, err := range t.raw.FindSimilar(ctx, field, params, simplified) {
			if err != nil {
				yield(Scored[T]{}, err)
				return
			}
			model, err := DecodeDoc[T](hit.Doc)
			if err != nil {
				yield(Scored[T]{}, err)
				return
			}
			if !yield(Scored[T]{Model: *model, Score: hit.Score}, nil) {
				return
			}
		}
	}
}

func decodeChange[T any](rc RawChange) (EntryChange[T], error) {
	var out EntryChange[T]
	if rc.Before != nil {
		before, err := DecodeDoc[T](rc.Before)
		if err != nil {
			return out, err
		}
		out.Before = before
	}
	if rc.After != nil {
		after, err := DecodeDoc[T](rc.After)
		if err != nil {
			return out, err
		}
		out.After = after
	}
	return out, nil
}

func decodeDocs[T any](docs []map[string]any) ([]T, error) {
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		model, err := DecodeDoc[T](doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *model)
	}
	return out, nil
}
