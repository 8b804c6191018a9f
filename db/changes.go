package db

import "github.com/lightningkite/service-abstractions-sub003/db/schema"

// RawChange 单行变更的文档级 before/after 快照，nil 表示不存在
type RawChange struct {
	Before map[string]any
	After  map[string]any
}

// EntryChange 单行变更的类型化 before/after 快照
type EntryChange[T any] struct {
	Before *T
	After  *T
}

// CollectionChanges 多行变更的有序快照列表
type CollectionChanges[T any] struct {
	Changes []EntryChange[T]
}

// SortPart 排序项
type SortPart struct {
	Path       schema.Path
	Ascending  bool
	IgnoreCase bool
}

// Asc 升序排序项
func Asc(path schema.Path) SortPart {
	return SortPart{Path: path, Ascending: true}
}

// Desc 降序排序项
func Desc(path schema.Path) SortPart {
	return SortPart{Path: path}
}

// AggregateKind 聚合种类
type AggregateKind string

const (
	AggregateSum AggregateKind = "sum"
	AggregateAvg AggregateKind = "avg"
	AggregateMin AggregateKind = "min"
	AggregateMax AggregateKind = "max"
)

// SimilarParams 向量相似检索参数
type SimilarParams struct {
	Vector []float32
	Metric string
	Limit  int
	// MinScore 最低相似度分值，nil 表示不过滤
	MinScore *float64
	// Sparse 稀疏向量标记，曼哈顿度量不支持稀疏向量
	Sparse bool
}
