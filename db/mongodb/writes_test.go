package mongodb

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/modification"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

func TestPageDiff(t *testing.T) {
	Convey("页内快照推导", t, func() {
		mod := modification.Increment(schema.NewPath("score"), 1)
		batch := []map[string]any{
			{"_id": "a", "score": 10},
			{"_id": "b", "score": 20},
		}

		Convey("after 由 before 重放修改得到", func() {
			changes, err := pageDiff(mod, batch)
			So(err, ShouldBeNil)
			So(changes, ShouldHaveLength, 2)
			So(changes[0].Before["score"], ShouldEqual, 10)
			So(changes[0].After["score"], ShouldEqual, 11)
			So(changes[1].After["score"], ShouldEqual, 21)
		})

		Convey("无副作用，重放重试得到相同结果", func() {
			first, err := pageDiff(mod, batch)
			So(err, ShouldBeNil)
			second, err := pageDiff(mod, batch)
			So(err, ShouldBeNil)
			So(second, ShouldResemble, first)
			// 源页未被改写
			So(batch[0]["score"], ShouldEqual, 10)
		})
	})
}

func TestInsertBasis(t *testing.T) {
	emailPath := schema.NewPath("email")
	cityPath := schema.NewPath("profile", "city")

	Convey("原生 upsert 插入基底", t, func() {
		Convey("过滤器等值字段折入基底", func() {
			cond := condition.And(
				condition.Equals(emailPath, "a@example.com"),
				condition.Compare(schema.NewPath("age"), condition.OpGte, 18),
			)
			basis := insertBasis(cond, bson.M{"name": "Alice"})
			So(basis, ShouldResemble, map[string]any{
				"email": "a@example.com",
				"name":  "Alice",
			})
		})

		Convey("点号路径展开为嵌套文档", func() {
			basis := insertBasis(condition.Equals(cityPath, "Beijing"), nil)
			So(basis, ShouldResemble, map[string]any{
				"profile": map[string]any{"city": "Beijing"},
			})
		})

		Convey("忽略大小写的等值不参与基底", func() {
			basis := insertBasis(condition.EqualsIgnoreCase(emailPath, "A@example.com"), nil)
			So(basis, ShouldBeEmpty)
		})

		Convey("$setOnInsert 的顶层字段覆盖过滤器派生值", func() {
			basis := insertBasis(
				condition.Equals(emailPath, "old@example.com"),
				bson.M{"email": "new@example.com"},
			)
			So(basis["email"], ShouldEqual, "new@example.com")
		})

		Convey("修改重放在折入的基底之上", func() {
			cond := condition.Equals(emailPath, "a@example.com")
			mod := modification.Increment(schema.NewPath("visits"), 1)
			after, err := mod.Apply(insertBasis(cond, bson.M{"name": "Alice"}))
			So(err, ShouldBeNil)
			So(after["email"], ShouldEqual, "a@example.com")
			So(after["name"], ShouldEqual, "Alice")
			So(after["visits"], ShouldEqual, float64(1))
		})
	})
}

func TestMongoOptionDefaults(t *testing.T) {
	Convey("构造时应用默认值", t, func() {
		m, err := NewMongoWithOptions(&MongoOptions{
			URI:      "mongodb://localhost:27017",
			Database: "test",
		})
		So(err, ShouldBeNil)
		So(m.options.Timeout.Seconds(), ShouldEqual, 30)
		So(m.options.MaxPoolSize, ShouldEqual, 100)

		Convey("显式值不被默认值覆盖", func() {
			m, err := NewMongoWithOptions(&MongoOptions{
				URI:         "mongodb://localhost:27017",
				Database:    "test",
				MaxPoolSize: 7,
			})
			So(err, ShouldBeNil)
			So(m.options.MaxPoolSize, ShouldEqual, 7)
		})
	})
}
