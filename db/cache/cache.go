package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/modification"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// Store 字节级缓存存储。本地/远端实现共用同一契约，
// 缓存是尽力而为的，存储故障不阻断主路径。
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cached 按主键读穿的模型缓存。写路径先落库再失效/回填，
// 缓存值用 msgpack 编码。
type Cached[T any] struct {
	name  string
	table *db.Table[T]
	pk    schema.Path
	store Store
	ttl   time.Duration
}

func NewCached[T any](name string, table *db.Table[T], pkField string, store Store, ttl time.Duration) *Cached[T] {
	return &Cached[T]{
		name:  name,
		table: table,
		pk:    schema.NewPath(pkField),
		store: store,
		ttl:   ttl,
	}
}

func (c *Cached[T]) key(id any) string {
	return fmt.Sprintf("%s:%v", c.name, id)
}

// Get 读穿：缓存命中直接返回，未命中回源并回填。
// 缓存读写失败降级为回源，不向调用方暴露。
func (c *Cached[T]) Get(ctx context.Context, id any) (*T, error) {
	key := c.key(id)
	if raw, ok, err := c.store.Get(ctx, key); err == nil && ok {
		var model T
		if err := msgpack.Unmarshal(raw, &model); err == nil {
			return &model, nil
		}
		_ = c.store.Delete(ctx, key)
	}
	model, err := c.table.FindOne(ctx, condition.Equals(c.pk, id))
	if err != nil || model == nil {
		return model, err
	}
	if raw, err := msgpack.Marshal(model); err == nil {
		_ = c.store.Set(ctx, key, raw, c.ttl)
	}
	return model, nil
}

// Update 按主键更新并用 after 快照回填缓存
func (c *Cached[T]) Update(ctx context.Context, id any, mod modification.Modification) (db.EntryChange[T], error) {
	change, err := c.table.UpdateOne(ctx, condition.Equals(c.pk, id), mod)
	if err != nil {
		return change, err
	}
	c.refill(ctx, id, change.After)
	return change, nil
}

// Replace 按主键整行替换并回填缓存
func (c *Cached[T]) Replace(ctx context.Context, id any, model T) (db.EntryChange[T], error) {
	change, err := c.table.ReplaceOne(ctx, condition.Equals(c.pk, id), model)
	if err != nil {
		return change, err
	}
	c.refill(ctx, id, change.After)
	return change, nil
}

// Delete 按主键删除并失效缓存
func (c *Cached[T]) Delete(ctx context.Context, id any) (*T, error) {
	deleted, err := c.table.DeleteOne(ctx, condition.Equals(c.pk, id))
	if err != nil {
		return nil, err
	}
	_ = c.store.Delete(ctx, c.key(id))
	return deleted, nil
}

// Invalidate 主动失效
func (c *Cached[T]) Invalidate(ctx context.Context, id any) error {
	return c.store.Delete(ctx, c.key(id))
}

func (c *Cached[T]) refill(ctx context.Context, id any, after *T) {
	key := c.key(id)
	if after == nil {
		_ = c.store.Delete(ctx, key)
		return
	}
	if raw, err := msgpack.Marshal(after); err == nil {
		_ = c.store.Set(ctx, key, raw, c.ttl)
	} else {
		_ = c.store.Delete(ctx, key)
	}
}
