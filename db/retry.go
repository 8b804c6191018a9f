package db

import (
	"context"

	"github.com/lightningkite/service-abstractions-sub003/log/logger"
)

// maxRetries 瞬时故障的额外重试次数上限
const maxRetries = 2

// WithRetry 瞬时故障重试组合子。每次重试前强制断开重连，
// 绝不在可能已坏死的连接上裸重试；非瞬时错误立即向外传播。
func WithRetry(ctx context.Context, lg logger.Logger, reconnect func(ctx context.Context) error, op func(ctx context.Context) error) error {
	err := op(ctx)
	for attempt := 0; attempt < maxRetries && IsTransient(err); attempt++ {
		lg.WarnContext(ctx, "transient database failure, reconnecting", "attempt", attempt+1, "error", err)
		if reconnectErr := reconnect(ctx); reconnectErr != nil {
			return reconnectErr
		}
		err = op(ctx)
	}
	return err
}
