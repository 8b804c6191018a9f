package schema

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func orderClass() *Class {
	return &Class{
		Name: "Order",
		Fields: []Field{
			{Name: "_id", Node: &Primitive{Kind: KindUUID}, Annotations: []string{"primary"}},
			{Name: "title", Node: &Primitive{Kind: KindString}, Annotations: []string{"text"}},
			{Name: "amount", Node: &Primitive{Kind: KindDouble}},
			{Name: "items", Node: &List{Inner: &Class{
				Name: "Item",
				Fields: []Field{
					{Name: "sku", Node: &Primitive{Kind: KindString}},
					{Name: "count", Node: &Primitive{Kind: KindInt}},
				},
			}}},
			{Name: "attrs", Node: &Map{
				Key:   &Primitive{Kind: KindString},
				Value: &Primitive{Kind: KindString},
			}},
			{Name: "shipping", Node: &Nullable{Inner: &Class{
				Name: "Address",
				Fields: []Field{
					{Name: "city", Node: &Primitive{Kind: KindString}},
				},
			}}},
			{Name: "embedding", Node: &Primitive{Kind: KindVector}, Annotations: []string{"vector:4"}},
		},
	}
}

func TestPath(t *testing.T) {
	Convey("测试 Path", t, func() {
		Convey("Dotted 跳过下探步骤", func() {
			p := NewPath("items").Any().Sub("sku")
			So(p.Dotted(), ShouldEqual, "items.sku")
			So(p.String(), ShouldEqual, "items[].sku")
		})

		Convey("Resolve 解析到终端节点", func() {
			node, err := NewPath("items").Any().Sub("count").Resolve(orderClass())
			So(err, ShouldBeNil)
			So(node.(*Primitive).Kind, ShouldEqual, KindInt)
		})

		Convey("Resolve 透传 Nullable", func() {
			node, err := NewPath("shipping", "city").Resolve(orderClass())
			So(err, ShouldBeNil)
			So(node.(*Primitive).Kind, ShouldEqual, KindString)
		})

		Convey("下探非集合节点报错", func() {
			_, err := NewPath("title").Any().Resolve(orderClass())
			So(err, ShouldNotBeNil)
		})

		Convey("未知字段报错", func() {
			_, err := NewPath("missing").Resolve(orderClass())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestFlatten(t *testing.T) {
	Convey("测试 Flatten 列展开", t, func() {
		cols, err := Flatten(orderClass())
		So(err, ShouldBeNil)

		byName := map[string]*Column{}
		for i := range cols {
			byName[cols[i].Name()] = &cols[i]
		}

		Convey("标量字段单列", func() {
			So(byName["amount"].Type, ShouldEqual, ColumnTypeDouble)
			So(byName["amount"].ArrayDepth, ShouldEqual, 0)
		})

		Convey("列表类字段按 structure-of-arrays 展开", func() {
			So(byName["items__sku"].ArrayDepth, ShouldEqual, 1)
			So(byName["items__count"].ArrayDepth, ShouldEqual, 1)
			So(byName["items__count"].Type, ShouldEqual, ColumnTypeInt)
		})

		Convey("映射字段展开为键列与 value 后缀的值列", func() {
			So(byName["attrs"].ArrayDepth, ShouldEqual, 1)
			So(byName["attrs__value"].ArrayDepth, ShouldEqual, 1)
		})

		Convey("可空类字段生成合成 exists 列", func() {
			So(byName["shipping__exists"].Type, ShouldEqual, ColumnTypeBool)
			So(byName["shipping__exists"].Exists, ShouldBeTrue)
			So(byName["shipping__exists"].Nullable, ShouldBeFalse)
			So(byName["shipping__city"].Nullable, ShouldBeTrue)
		})

		Convey("向量字段映射为向量列", func() {
			So(byName["embedding"].Type, ShouldEqual, ColumnTypeVector)
		})

		Convey("未携带具体描述的 Contextual 不可映射", func() {
			_, err := Flatten(&Class{
				Name:   "Bad",
				Fields: []Field{{Name: "ctx", Node: &Contextual{Name: "Dyn"}}},
			})
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrUnmappable), ShouldBeTrue)
		})
	})
}

func TestColumnSet(t *testing.T) {
	Convey("测试 ColumnSet 路径索引", t, func() {
		cs, err := NewColumnSet(orderClass())
		So(err, ShouldBeNil)

		Convey("One 命中唯一叶子列", func() {
			col, err := cs.One(NewPath("items").Any().Sub("sku"))
			So(err, ShouldBeNil)
			So(col.Name(), ShouldEqual, "items__sku")
		})

		Convey("类值路径命中多列时 One 报错", func() {
			_, err := cs.One(NewPath("shipping"))
			So(err, ShouldNotBeNil)
		})

		Convey("For 返回前缀下全部列", func() {
			cols := cs.For(NewPath("items"))
			names := make([]string, 0, len(cols))
			for _, c := range cols {
				names = append(names, c.Name())
			}
			So(names, ShouldResemble, []string{"items__sku", "items__count"})
		})
	})
}

func TestIndexes(t *testing.T) {
	Convey("测试索引声明提取", t, func() {
		class := &Class{
			Name: "Doc",
			Fields: []Field{
				{Name: "_id", Node: &Primitive{Kind: KindUUID}, Annotations: []string{"primary"}},
				{Name: "email", Node: &Primitive{Kind: KindString}, Annotations: []string{"unique"}},
				{Name: "name", Node: &Primitive{Kind: KindString}, Annotations: []string{"index", "text"}},
				{Name: "bio", Node: &Primitive{Kind: KindString}, Annotations: []string{"text"}},
				{Name: "lat", Node: &Primitive{Kind: KindDouble}, Annotations: []string{"index:geo_point"}},
				{Name: "lon", Node: &Primitive{Kind: KindDouble}, Annotations: []string{"index:geo_point"}},
				{Name: "loc", Node: &Primitive{Kind: KindString}, Annotations: []string{"geo"}},
			},
		}
		specs := Indexes(class)
		byName := map[string]IndexSpec{}
		for _, s := range specs {
			byName[s.Name] = s
		}

		Convey("unique 注解生成唯一索引", func() {
			So(byName["email_unique"].Unique, ShouldBeTrue)
			So(byName["email_unique"].Keys, ShouldResemble, []string{"email"})
		})

		Convey("index 注解生成普通索引", func() {
			So(byName["name_idx"].Unique, ShouldBeFalse)
		})

		Convey("同名 index:<name> 合并为复合索引", func() {
			So(byName["geo_point"].Keys, ShouldResemble, []string{"lat", "lon"})
		})

		Convey("geo 注解生成地理索引", func() {
			So(byName["loc_geo"].Geo, ShouldBeTrue)
		})

		Convey("text 字段合并为单个全文索引", func() {
			So(byName["Doc_text"].Text, ShouldBeTrue)
			So(byName["Doc_text"].Keys, ShouldResemble, []string{"name", "bio"})
		})

		Convey("主键提取", func() {
			So(PrimaryKey(class), ShouldEqual, "_id")
		})

		Convey("向量维度提取", func() {
			dims := VectorFields(orderClass())
			So(dims["embedding"], ShouldEqual, 4)
		})
	})
}
