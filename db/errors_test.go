package db

import (
	"context"
	"net"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection reset by peer" }
func (fakeNetError) Timeout() bool   { return false }
func (fakeNetError) Temporary() bool { return true }

var _ net.Error = fakeNetError{}

func TestErrorTaxonomy(t *testing.T) {
	Convey("错误分类判定", t, func() {
		Convey("ErrTransient 及其包装是瞬时错误", func() {
			So(IsTransient(ErrTransient), ShouldBeTrue)
			So(IsTransient(errors.Wrap(ErrTransient, "op failed")), ShouldBeTrue)
		})

		Convey("网络层错误是瞬时错误", func() {
			So(IsTransient(fakeNetError{}), ShouldBeTrue)
			So(IsTransient(errors.Wrap(fakeNetError{}, "find")), ShouldBeTrue)
		})

		Convey("调用方取消不是瞬时错误", func() {
			So(IsTransient(context.Canceled), ShouldBeFalse)
			So(IsTransient(context.DeadlineExceeded), ShouldBeFalse)
			So(IsTransient(errors.Wrap(context.Canceled, "find")), ShouldBeFalse)
		})

		Convey("普通错误和 nil 不是瞬时错误", func() {
			So(IsTransient(nil), ShouldBeFalse)
			So(IsTransient(errors.New("syntax error")), ShouldBeFalse)
		})

		Convey("唯一约束冲突携带表名", func() {
			err := UniqueViolation("users", errors.New("duplicate key"))
			So(IsUniqueViolation(err), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "users")
			So(err.Error(), ShouldContainSubstring, "duplicate key")
			So(IsUniqueViolation(errors.New("other")), ShouldBeFalse)
		})

		Convey("查询超时判定", func() {
			So(IsQueryTimeout(errors.Wrap(ErrQueryTimeout, "find")), ShouldBeTrue)
			So(IsQueryTimeout(ErrTransient), ShouldBeFalse)
		})
	})
}
