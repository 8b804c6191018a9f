package cache

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/modification"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

func agePath() schema.Path { return schema.NewPath("age") }

type cachedUser struct {
	ID   string `bson:"_id" msgpack:"_id"`
	Name string `bson:"name" msgpack:"name"`
	Age  int    `bson:"age" msgpack:"age"`
}

// sourceTable 只实现读穿路径用到的方法，记录回源次数
type sourceTable struct {
	db.RawTable
	doc   map[string]any
	finds int
}

func (s *sourceTable) Find(ctx context.Context, cond condition.Condition, opts db.FindOptions) iter.Seq2[map[string]any, error] {
	s.finds++
	return func(yield func(map[string]any, error) bool) {
		if s.doc != nil {
			yield(s.doc, nil)
		}
	}
}

func (s *sourceTable) UpdateOne(ctx context.Context, cond condition.Condition, mod modification.Modification, orderBy []db.SortPart) (db.RawChange, error) {
	before := map[string]any{}
	for k, v := range s.doc {
		before[k] = v
	}
	after, err := mod.Apply(s.doc)
	if err != nil {
		return db.RawChange{}, err
	}
	s.doc = after
	return db.RawChange{Before: before, After: after}, nil
}

func (s *sourceTable) DeleteOne(ctx context.Context, cond condition.Condition, orderBy []db.SortPart) (map[string]any, error) {
	doc := s.doc
	s.doc = nil
	return doc, nil
}

func freeCacheStore() *FreeCacheStore {
	store, err := NewFreeCacheStoreWithOptions(&FreeCacheStoreOptions{Size: 1024 * 1024})
	if err != nil {
		panic(err)
	}
	return store
}

func TestFreeCacheStore(t *testing.T) {
	ctx := context.Background()

	Convey("进程内缓存存储", t, func() {
		store := freeCacheStore()

		Convey("写入后可读回", func() {
			So(store.Set(ctx, "k1", []byte("v1"), time.Minute), ShouldBeNil)
			raw, ok, err := store.Get(ctx, "k1")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(raw, ShouldResemble, []byte("v1"))
		})

		Convey("未写入的键为未命中而非错误", func() {
			_, ok, err := store.Get(ctx, "missing")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("删除后未命中", func() {
			So(store.Set(ctx, "k2", []byte("v2"), time.Minute), ShouldBeNil)
			So(store.Delete(ctx, "k2"), ShouldBeNil)
			_, ok, err := store.Get(ctx, "k2")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()

	Convey("Redis 缓存存储", t, func() {
		mr := miniredis.RunT(t)
		store, err := NewRedisStoreWithOptions(&RedisStoreOptions{Endpoint: mr.Addr()})
		So(err, ShouldBeNil)
		defer store.Close()

		Convey("写入后可读回", func() {
			So(store.Set(ctx, "k1", []byte("v1"), time.Minute), ShouldBeNil)
			raw, ok, err := store.Get(ctx, "k1")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(raw, ShouldResemble, []byte("v1"))
		})

		Convey("未写入的键为未命中而非错误", func() {
			_, ok, err := store.Get(ctx, "missing")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("过期后未命中", func() {
			So(store.Set(ctx, "k2", []byte("v2"), time.Second), ShouldBeNil)
			mr.FastForward(2 * time.Second)
			_, ok, err := store.Get(ctx, "k2")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("删除后未命中", func() {
			So(store.Set(ctx, "k3", []byte("v3"), time.Minute), ShouldBeNil)
			So(store.Delete(ctx, "k3"), ShouldBeNil)
			_, ok, err := store.Get(ctx, "k3")
			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestCached(t *testing.T) {
	ctx := context.Background()

	Convey("按主键读穿的模型缓存", t, func() {
		source := &sourceTable{doc: map[string]any{"_id": "u-1", "name": "Alice", "age": 30}}
		table := db.TableOf[cachedUser]("users", source)
		cached := NewCached("users", table, "_id", freeCacheStore(), time.Minute)

		Convey("首次未命中回源并回填，再次命中不回源", func() {
			user, err := cached.Get(ctx, "u-1")
			So(err, ShouldBeNil)
			So(user.Name, ShouldEqual, "Alice")
			So(source.finds, ShouldEqual, 1)

			again, err := cached.Get(ctx, "u-1")
			So(err, ShouldBeNil)
			So(again, ShouldResemble, user)
			So(source.finds, ShouldEqual, 1)
		})

		Convey("源中不存在返回 nil 且不回填", func() {
			source.doc = nil
			user, err := cached.Get(ctx, "u-404")
			So(err, ShouldBeNil)
			So(user, ShouldBeNil)
		})

		Convey("更新后缓存持有 after 快照", func() {
			_, err := cached.Get(ctx, "u-1")
			So(err, ShouldBeNil)

			change, err := cached.Update(ctx, "u-1", modification.Increment(agePath(), 5))
			So(err, ShouldBeNil)
			So(change.After.Age, ShouldEqual, 35)

			user, err := cached.Get(ctx, "u-1")
			So(err, ShouldBeNil)
			So(user.Age, ShouldEqual, 35)
			So(source.finds, ShouldEqual, 1)
		})

		Convey("删除后缓存失效", func() {
			_, err := cached.Get(ctx, "u-1")
			So(err, ShouldBeNil)

			deleted, err := cached.Delete(ctx, "u-1")
			So(err, ShouldBeNil)
			So(deleted.Name, ShouldEqual, "Alice")

			user, err := cached.Get(ctx, "u-1")
			So(err, ShouldBeNil)
			So(user, ShouldBeNil)
		})

		Convey("主动失效后重新回源", func() {
			_, err := cached.Get(ctx, "u-1")
			So(err, ShouldBeNil)
			So(cached.Invalidate(ctx, "u-1"), ShouldBeNil)
			_, err = cached.Get(ctx, "u-1")
			So(err, ShouldBeNil)
			So(source.finds, ShouldEqual, 2)
		})
	})
}
