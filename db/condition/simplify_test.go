package condition

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

func TestSimplify(t *testing.T) {
	Convey("测试 Simplify 常量折叠", t, func() {
		leaf := Equals(schema.NewPath("name"), "a")

		Convey("And 含 Never 坍缩为 Never", func() {
			So(Simplify(And(leaf, Never())).Type(), ShouldEqual, TypeNever)
		})

		Convey("And 中的 Always 被剔除", func() {
			s := Simplify(And(leaf, Always()))
			So(s, ShouldEqual, leaf)
		})

		Convey("空 And 恒真", func() {
			So(Simplify(And()).Type(), ShouldEqual, TypeAlways)
		})

		Convey("Or 含 Always 坍缩为 Always", func() {
			So(Simplify(Or(leaf, Always())).Type(), ShouldEqual, TypeAlways)
		})

		Convey("Or 中的 Never 被剔除", func() {
			s := Simplify(Or(leaf, Never()))
			So(s, ShouldEqual, leaf)
		})

		Convey("空 Or 恒假", func() {
			So(Simplify(Or()).Type(), ShouldEqual, TypeNever)
		})

		Convey("单子组合器解包", func() {
			So(Simplify(And(leaf)), ShouldEqual, leaf)
			So(Simplify(Or(leaf)), ShouldEqual, leaf)
		})

		Convey("否定常量翻转", func() {
			So(Simplify(Not(Always())).Type(), ShouldEqual, TypeNever)
			So(Simplify(Not(Never())).Type(), ShouldEqual, TypeAlways)
		})

		Convey("双重否定消去", func() {
			So(Simplify(Not(Not(leaf))), ShouldEqual, leaf)
		})

		Convey("嵌套折叠自底向上", func() {
			c := And(Or(leaf, Never()), Always())
			So(Simplify(c), ShouldEqual, leaf)
		})

		Convey("空 In 恒假", func() {
			So(Simplify(In(schema.NewPath("age"))).Type(), ShouldEqual, TypeNever)
		})

		Convey("ListAny 内部恒假时整体恒假", func() {
			So(Simplify(ListAny(schema.NewPath("tags"), Never())).Type(), ShouldEqual, TypeNever)
			So(Simplify(MapAny(schema.NewPath("attrs"), Never())).Type(), ShouldEqual, TypeNever)
		})

		Convey("Simplify 幂等", func() {
			cases := []Condition{
				And(leaf, Always(), Or(Never(), leaf)),
				Not(Not(Not(leaf))),
				Or(And(), Never()),
				In(schema.NewPath("age")),
			}
			for _, c := range cases {
				once := Simplify(c)
				twice := Simplify(once)
				So(twice, ShouldResemble, once)
			}
		})
	})
}
