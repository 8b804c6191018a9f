package db

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/lightningkite/service-abstractions-sub003/log/logger"
)

func retryTestLogger() logger.Logger {
	lg, err := logger.NewSLogWithOptions(&logger.SLogOptions{Level: "error"})
	if err != nil {
		panic(err)
	}
	return lg
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	lg := retryTestLogger()

	Convey("瞬时故障的有界重试", t, func() {
		Convey("首次成功不触发重连", func() {
			reconnects := 0
			err := WithRetry(ctx, lg, func(ctx context.Context) error {
				reconnects++
				return nil
			}, func(ctx context.Context) error {
				return nil
			})
			So(err, ShouldBeNil)
			So(reconnects, ShouldEqual, 0)
		})

		Convey("瞬时错误先重连再重试", func() {
			reconnects := 0
			attempts := 0
			err := WithRetry(ctx, lg, func(ctx context.Context) error {
				reconnects++
				return nil
			}, func(ctx context.Context) error {
				attempts++
				if attempts == 1 {
					return ErrTransient
				}
				return nil
			})
			So(err, ShouldBeNil)
			So(attempts, ShouldEqual, 2)
			So(reconnects, ShouldEqual, 1)
		})

		Convey("重试预算耗尽后传播最后一次错误", func() {
			attempts := 0
			err := WithRetry(ctx, lg, func(ctx context.Context) error {
				return nil
			}, func(ctx context.Context) error {
				attempts++
				return errors.Wrap(ErrTransient, "connection reset")
			})
			So(IsTransient(err), ShouldBeTrue)
			So(attempts, ShouldEqual, 1+maxRetries)
		})

		Convey("非瞬时错误立即传播", func() {
			attempts := 0
			reason := errors.New("bad query")
			err := WithRetry(ctx, lg, func(ctx context.Context) error {
				return nil
			}, func(ctx context.Context) error {
				attempts++
				return reason
			})
			So(errors.Is(err, reason), ShouldBeTrue)
			So(attempts, ShouldEqual, 1)
		})

		Convey("重连失败直接传播重连错误", func() {
			reconnectErr := errors.New("dial refused")
			attempts := 0
			err := WithRetry(ctx, lg, func(ctx context.Context) error {
				return reconnectErr
			}, func(ctx context.Context) error {
				attempts++
				return ErrTransient
			})
			So(errors.Is(err, reconnectErr), ShouldBeTrue)
			So(attempts, ShouldEqual, 1)
		})

		Convey("调用方取消不触发重试", func() {
			attempts := 0
			err := WithRetry(ctx, lg, func(ctx context.Context) error {
				return nil
			}, func(ctx context.Context) error {
				attempts++
				return context.Canceled
			})
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(attempts, ShouldEqual, 1)
		})
	})
}
