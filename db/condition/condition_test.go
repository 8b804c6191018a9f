package condition

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

func testClass() *schema.Class {
	return &schema.Class{
		Name: "User",
		Fields: []schema.Field{
			{Name: "_id", Node: &schema.Primitive{Kind: schema.KindUUID}, Annotations: []string{"primary"}},
			{Name: "name", Node: &schema.Primitive{Kind: schema.KindString}, Annotations: []string{"text"}},
			{Name: "age", Node: &schema.Primitive{Kind: schema.KindInt}},
			{Name: "tags", Node: &schema.List{Inner: &schema.Primitive{Kind: schema.KindString}}},
			{Name: "profile", Node: &schema.Class{
				Name: "Profile",
				Fields: []schema.Field{
					{Name: "city", Node: &schema.Primitive{Kind: schema.KindString}},
				},
			}},
		},
	}
}

func testSQLContext(t *testing.T, dialect string) *SQLContext {
	cols, err := schema.NewColumnSet(testClass())
	if err != nil {
		t.Fatal(err)
	}
	return &SQLContext{Cols: cols, Dialect: dialect}
}

func TestEqualsToMongo(t *testing.T) {
	Convey("测试 EqualsCondition ToMongo", t, func() {
		Convey("普通等值", func() {
			m, err := Equals(schema.NewPath("name"), "alice").ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"name": bson.M{"$eq": "alice"}})
		})

		Convey("忽略大小写编译为锚定正则", func() {
			m, err := EqualsIgnoreCase(schema.NewPath("name"), "Alice").ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"name": bson.M{"$regex": "^Alice$", "$options": "i"}})
		})

		Convey("正则元字符被转义", func() {
			m, err := EqualsIgnoreCase(schema.NewPath("name"), "a.b").ToMongo()
			So(err, ShouldBeNil)
			So(m["name"].(bson.M)["$regex"], ShouldEqual, `^a\.b$`)
		})

		Convey("嵌套路径使用点分键", func() {
			m, err := Equals(schema.NewPath("profile", "city"), "beijing").ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"profile.city": bson.M{"$eq": "beijing"}})
		})
	})
}

func TestEqualsToSQL(t *testing.T) {
	Convey("测试 EqualsCondition ToSQL", t, func() {
		sqlctx := testSQLContext(t, "sqlite")

		Convey("普通等值", func() {
			sql, args, err := Equals(schema.NewPath("name"), "alice").ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "name = ?")
			So(args, ShouldResemble, []any{"alice"})
		})

		Convey("忽略大小写用 LOWER 折叠", func() {
			sql, args, err := EqualsIgnoreCase(schema.NewPath("name"), "Alice").ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "LOWER(name) = LOWER(?)")
			So(args, ShouldResemble, []any{"Alice"})
		})

		Convey("嵌套路径落到展平列", func() {
			sql, _, err := Equals(schema.NewPath("profile", "city"), "beijing").ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "profile__city = ?")
		})

		Convey("数组列整体比较退化为 JSON 文本比较", func() {
			sql, args, err := Equals(schema.NewPath("tags"), []any{"a", "b"}).ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "tags = ?")
			So(args, ShouldResemble, []any{`["a","b"]`})
		})

		Convey("未知路径报错", func() {
			_, _, err := Equals(schema.NewPath("missing"), 1).ToSQL(sqlctx)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestCompare(t *testing.T) {
	Convey("测试 CompareCondition", t, func() {
		sqlctx := testSQLContext(t, "sqlite")

		Convey("ToMongo 使用对应操作符", func() {
			m, err := Compare(schema.NewPath("age"), OpGte, 18).ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"age": bson.M{"$gte": 18}})
		})

		Convey("ToSQL 使用对应操作符", func() {
			for op, symbol := range map[CompareOp]string{
				OpGt: ">", OpGte: ">=", OpLt: "<", OpLte: "<=", OpNe: "<>",
			} {
				sql, args, err := Compare(schema.NewPath("age"), op, 18).ToSQL(sqlctx)
				So(err, ShouldBeNil)
				So(sql, ShouldEqual, "age "+symbol+" ?")
				So(args, ShouldResemble, []any{18})
			}
		})

		Convey("未知操作符报错", func() {
			_, err := Compare(schema.NewPath("age"), CompareOp("like"), 18).ToMongo()
			So(err, ShouldNotBeNil)
			_, _, err = Compare(schema.NewPath("age"), CompareOp("like"), 18).ToSQL(sqlctx)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestIn(t *testing.T) {
	Convey("测试 InCondition", t, func() {
		sqlctx := testSQLContext(t, "sqlite")

		Convey("ToMongo 编译为 $in", func() {
			m, err := In(schema.NewPath("age"), 1, 2, 3).ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"age": bson.M{"$in": []any{1, 2, 3}}})
		})

		Convey("ToSQL 生成占位符列表", func() {
			sql, args, err := In(schema.NewPath("age"), 1, 2, 3).ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "age IN (?, ?, ?)")
			So(args, ShouldResemble, []any{1, 2, 3})
		})

		Convey("空集恒假", func() {
			sql, _, err := In(schema.NewPath("age")).ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "1=0")
		})

		Convey("集合值路径走数组列逐元素匹配，不做标量 IN", func() {
			sql, args, err := In(schema.NewPath("tags"), "a", "b").ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(EXISTS (SELECT 1 FROM json_each(tags) WHERE json_each.value = ?) OR EXISTS (SELECT 1 FROM json_each(tags) WHERE json_each.value = ?))")
			So(args, ShouldResemble, []any{"a", "b"})

			// 与 mongo 端的 $in 语义一致：任一元素命中即命中
			m, err := In(schema.NewPath("tags"), "a", "b").ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"tags": bson.M{"$in": []any{"a", "b"}}})
		})
	})
}

func TestBoolCombinators(t *testing.T) {
	Convey("测试布尔组合器", t, func() {
		sqlctx := testSQLContext(t, "sqlite")

		Convey("And 编译", func() {
			c := And(Equals(schema.NewPath("name"), "a"), Compare(schema.NewPath("age"), OpGt, 1))
			m, err := c.ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"$and": []bson.M{
				{"name": bson.M{"$eq": "a"}},
				{"age": bson.M{"$gt": 1}},
			}})

			sql, args, err := c.ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(name = ?) AND (age > ?)")
			So(args, ShouldResemble, []any{"a", 1})
		})

		Convey("Or 编译", func() {
			sql, _, err := Or(Equals(schema.NewPath("name"), "a"), Equals(schema.NewPath("name"), "b")).ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(name = ?) OR (name = ?)")
		})

		Convey("Not 编译", func() {
			m, err := Not(Equals(schema.NewPath("name"), "a")).ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"$nor": []bson.M{{"name": bson.M{"$eq": "a"}}}})

			sql, _, err := Not(Equals(schema.NewPath("name"), "a")).ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "NOT (name = ?)")
		})

		Convey("Always 与 Never", func() {
			sql, _, _ := Always().ToSQL(sqlctx)
			So(sql, ShouldEqual, "1=1")
			sql, _, _ = Never().ToSQL(sqlctx)
			So(sql, ShouldEqual, "1=0")

			m, _ := Always().ToMongo()
			So(m, ShouldResemble, bson.M{})
		})
	})
}

func TestFullTextSearch(t *testing.T) {
	Convey("测试 FullTextSearchCondition", t, func() {
		sqlctx := testSQLContext(t, "sqlite")

		Convey("ToMongo 默认按词项 OR", func() {
			m, err := FullTextSearch("hello world", false).ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"$text": bson.M{"$search": "hello world"}})
		})

		Convey("RequireAll 整词加引号", func() {
			m, err := FullTextSearch("hello world", true).ToMongo()
			So(err, ShouldBeNil)
			So(m, ShouldResemble, bson.M{"$text": bson.M{"$search": `"hello" "world"`}})
		})

		Convey("ToSQL 对 text 字段逐词 LIKE", func() {
			sql, args, err := FullTextSearch("Hello World", false).ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(LOWER(name) LIKE ?) OR (LOWER(name) LIKE ?)")
			So(args, ShouldResemble, []any{"%hello%", "%world%"})
		})

		Convey("RequireAll 改为 AND 连接", func() {
			sql, _, err := FullTextSearch("hello world", true).ToSQL(sqlctx)
			So(err, ShouldBeNil)
			So(sql, ShouldEqual, "(LOWER(name) LIKE ?) AND (LOWER(name) LIKE ?)")
		})

		Convey("没有 text 字段报错", func() {
			cols, err := schema.NewColumnSet(&schema.Class{
				Name:   "Plain",
				Fields: []schema.Field{{Name: "n", Node: &schema.Primitive{Kind: schema.KindInt}}},
			})
			So(err, ShouldBeNil)
			_, _, err = FullTextSearch("x", false).ToSQL(&SQLContext{Cols: cols, Dialect: "sqlite"})
			So(err, ShouldNotBeNil)
		})
	})
}
