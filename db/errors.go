package db

import (
	"context"
	"net"

	"github.com/pkg/errors"
)

// 错误分类。后端原生错误一律在 Table 边界内映射为这组类型，
// 调用方看不到任何后端私有错误。
var (
	// ErrUniqueViolation 唯一约束冲突，携带表名与底层原因
	ErrUniqueViolation = errors.New("unique violation")
	// ErrTransient 瞬时连接故障。内部有界重试+强制重连，预算耗尽才向外传播
	ErrTransient = errors.New("transient connection failure")
	// ErrUnsupported 后端不支持的操作，如关系型的带排序单行删除
	ErrUnsupported = errors.New("unsupported operation")
	// ErrSchemaMapping 模型不可映射，建表阶段即失败
	ErrSchemaMapping = errors.New("schema mapping failure")
	// ErrIndexReconciliation 索引调和失败，上报但不中断表初始化
	ErrIndexReconciliation = errors.New("index reconciliation failure")
	// ErrQueryTimeout 服务端时间预算超限
	ErrQueryTimeout = errors.New("query timeout")
	// ErrDisconnected 连接已断开且本次访问未能重建
	ErrDisconnected = errors.New("database disconnected")
)

// UniqueViolation 构造带表名的唯一约束冲突
func UniqueViolation(table string, cause error) error {
	return errors.Wrapf(ErrUniqueViolation, "table %s: %v", table, cause)
}

// IsUniqueViolation 判断是否唯一约束冲突
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// IsTransient 判断错误是否可通过重连+重试恢复。
// 网络层错误与显式标记的瞬时错误都算，调用方取消不算。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsQueryTimeout 判断是否查询超时
func IsQueryTimeout(err error) bool {
	return errors.Is(err, ErrQueryTimeout)
}
