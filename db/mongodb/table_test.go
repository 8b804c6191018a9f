package mongodb

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

func TestSplitFullText(t *testing.T) {
	namePath := schema.NewPath("name")

	Convey("摘出全文检索叶子", t, func() {
		Convey("裸全文条件整体摘出，剩余恒真", func() {
			fts, rest := splitFullText(condition.FullTextSearch("hello world", false))
			So(fts, ShouldNotBeNil)
			So(fts.Text, ShouldEqual, "hello world")
			So(rest.Type(), ShouldEqual, condition.TypeAlways)
		})

		Convey("顶层 And 中的全文叶子被摘出，剩余保持语义", func() {
			fts, rest := splitFullText(condition.And(
				condition.Equals(namePath, "Alice"),
				condition.FullTextSearch("hello", true),
			))
			So(fts, ShouldNotBeNil)
			So(fts.RequireAll, ShouldBeTrue)
			So(rest.Type(), ShouldEqual, condition.TypeEquals)
		})

		Convey("无全文叶子时原样返回", func() {
			cond := condition.Equals(namePath, "Alice")
			fts, rest := splitFullText(cond)
			So(fts, ShouldBeNil)
			So(rest, ShouldEqual, cond)
		})

		Convey("深层嵌套的全文条件不摘出", func() {
			cond := condition.Or(condition.FullTextSearch("hello", false))
			fts, rest := splitFullText(cond)
			So(fts, ShouldBeNil)
			So(rest, ShouldEqual, cond)
		})
	})
}

func TestBuildSort(t *testing.T) {
	namePath := schema.NewPath("name")
	cityPath := schema.NewPath("profile", "city")

	Convey("排序编译", t, func() {
		Convey("空排序返回 nil", func() {
			sort, collation := buildSort(nil)
			So(sort, ShouldBeNil)
			So(collation, ShouldBeNil)
		})

		Convey("升降序方向与点号路径", func() {
			sort, collation := buildSort([]db.SortPart{
				db.Asc(namePath),
				db.Desc(cityPath),
			})
			So(sort, ShouldResemble, bson.D{
				{Key: "name", Value: 1},
				{Key: "profile.city", Value: -1},
			})
			So(collation, ShouldBeNil)
		})

		Convey("忽略大小写的排序启用 strength 2 collation", func() {
			_, collation := buildSort([]db.SortPart{
				{Path: namePath, Ascending: true, IgnoreCase: true},
			})
			So(collation, ShouldNotBeNil)
			So(collation.Locale, ShouldEqual, "en")
			So(collation.Strength, ShouldEqual, 2)
		})
	})
}

func TestSortByRank(t *testing.T) {
	Convey("按检索名次重排文档", t, func() {
		docs := []map[string]any{
			{"_id": "c"},
			{"_id": "a"},
			{"_id": "b"},
		}
		rank := map[any]int{"a": 0, "b": 1, "c": 2}
		sortByRank(docs, rank)
		So(docs[0]["_id"], ShouldEqual, "a")
		So(docs[1]["_id"], ShouldEqual, "b")
		So(docs[2]["_id"], ShouldEqual, "c")

		Convey("未命中名次表的文档排在末尾", func() {
			docs := []map[string]any{
				{"_id": "x"},
				{"_id": "a"},
			}
			sortByRank(docs, map[any]int{"a": 0})
			So(docs[0]["_id"], ShouldEqual, "a")
			So(docs[1]["_id"], ShouldEqual, "x")
		})
	})
}

func TestStripTouched(t *testing.T) {
	Convey("剔除被修改触达的顶层字段", t, func() {
		doc := map[string]any{"_id": "u-1", "name": "Alice", "age": 30, "profile": map[string]any{"city": "x"}}

		Convey("点号路径按顶层段归并", func() {
			out := stripTouched(doc, []string{"profile.city", "age"})
			So(out, ShouldResemble, bson.M{"_id": "u-1", "name": "Alice"})
		})

		Convey("空触达集保留全部字段", func() {
			out := stripTouched(doc, nil)
			So(len(out), ShouldEqual, 4)
		})
	})
}

func TestIndexModel(t *testing.T) {
	Convey("索引规格到驱动模型", t, func() {
		Convey("唯一索引", func() {
			model := indexModel(schema.IndexSpec{Name: "email_unique", Keys: []string{"email"}, Unique: true})
			So(model.Keys, ShouldResemble, bson.D{{Key: "email", Value: 1}})
			So(*model.Options.Name, ShouldEqual, "email_unique")
			So(*model.Options.Unique, ShouldBeTrue)
		})

		Convey("复合索引保持字段顺序", func() {
			model := indexModel(schema.IndexSpec{Name: "geo_point_idx", Keys: []string{"lat", "lon"}})
			So(model.Keys, ShouldResemble, bson.D{{Key: "lat", Value: 1}, {Key: "lon", Value: 1}})
			So(model.Options.Unique, ShouldBeNil)
		})

		Convey("全文索引与地理索引的键类型", func() {
			text := indexModel(schema.IndexSpec{Name: "Doc_text", Keys: []string{"name", "bio"}, Text: true})
			So(text.Keys, ShouldResemble, bson.D{{Key: "name", Value: "text"}, {Key: "bio", Value: "text"}})

			geo := indexModel(schema.IndexSpec{Name: "loc_geo", Keys: []string{"loc"}, Geo: true})
			So(geo.Keys, ShouldResemble, bson.D{{Key: "loc", Value: "2dsphere"}})
		})
	})
}
