package db

import (
	"context"
	"net/url"
	"sync"

	"github.com/pkg/errors"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// Database 数据库句柄的公共契约。状态机：
// Uninitialized → Connected → (Disconnected → Connected)*
// Disconnect 拆除物理客户端与全部缓存的表句柄，并重新武装惰性重连，
// 下一次访问透明重建。用于冷启动/快照恢复场景：物理连接不得跨进程检查点存活。
type Database interface {
	// Connect 幂等建连，附带健康探测
	Connect(ctx context.Context) error
	// Disconnect 拆除连接并重新武装惰性重连
	Disconnect(ctx context.Context) error
	// HealthCheck 连接池健康分级
	HealthCheck(ctx context.Context) (HealthStatus, error)
	// Table 获取（或创建并缓存）文档级表句柄，经 TableOf 包装为类型化表。
	// 同名表只构造一次，随 Disconnect 整体销毁
	Table(name string, class *schema.Class) (RawTable, error)
}

// Opener 按解析后的连接 URL 构造数据库句柄
type Opener func(ctx context.Context, u *url.URL) (Database, error)

var (
	openersMu sync.RWMutex
	openers   = map[string]Opener{}
)

// RegisterOpener 注册 URL scheme 对应的后端，后端包在 init 中调用
func RegisterOpener(scheme string, opener Opener) {
	openersMu.Lock()
	defer openersMu.Unlock()
	openers[scheme] = opener
}

// Open 按 URL scheme 选择后端建立数据库句柄。
// scheme 标识后端，host/凭据/逻辑库名与选项走 URL 本体和查询参数，
// 语法保持既有部署的兼容，不做重设计。
func Open(ctx context.Context, rawURL string) (Database, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parse database url")
	}
	openersMu.RLock()
	opener, ok := openers[u.Scheme]
	openersMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no database backend registered for scheme %q", u.Scheme)
	}
	return opener(ctx, u)
}
