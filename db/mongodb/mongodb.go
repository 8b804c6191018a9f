package mongodb

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
	"github.com/lightningkite/service-abstractions-sub003/log"
	"github.com/lightningkite/service-abstractions-sub003/log/logger"
)

func init() {
	db.RegisterOpener("mongodb", openFromURL)
	db.RegisterOpener("mongodb+srv", openFromURL)
}

// MongoOptions MongoDB连接选项
type MongoOptions struct {
	URI         string        `cfg:"uri" validate:"required"`
	Database    string        `cfg:"database" validate:"required"`
	Timeout     time.Duration `cfg:"timeout" def:"30s"`
	MaxPoolSize uint64        `cfg:"maxPoolSize" def:"100"`
	MinPoolSize uint64        `cfg:"minPoolSize" def:"0"`

	// SearchIndex 托管搜索索引类型，目前支持 es；为空时全文检索走原生 $text
	SearchIndex string   `cfg:"searchIndex" validate:"omitempty,oneof=es"`
	ESAddresses []string `cfg:"esAddresses"`
	ESUsername  string   `cfg:"esUsername"`
	ESPassword  string   `cfg:"esPassword"`
}

// openFromURL 解析连接 URL。查询参数携带逻辑库名与托管搜索配置，
// 其余参数原样透传给驱动，保持既有部署的 URL 语法兼容。
func openFromURL(ctx context.Context, u *url.URL) (db.Database, error) {
	query := u.Query()
	opts := &MongoOptions{
		URI:         u.String(),
		Database:    query.Get("database"),
		Timeout:     30 * time.Second,
		MaxPoolSize: 100,
	}
	if opts.Database == "" {
		// 逻辑库名也可以走路径段
		if len(u.Path) > 1 {
			opts.Database = u.Path[1:]
		}
	}
	if v := query.Get("maxPoolSize"); v != "" {
		if size, err := strconv.ParseUint(v, 10, 64); err == nil {
			opts.MaxPoolSize = size
		}
	}
	if v := query.Get("searchIndex"); v != "" {
		opts.SearchIndex = v
		opts.ESAddresses = query["esAddress"]
		opts.ESUsername = query.Get("esUsername")
		opts.ESPassword = query.Get("esPassword")
	}
	return NewMongoWithOptions(opts)
}

// Mongo 文档后端数据库句柄。客户端惰性建立，断开后下一次访问透明重连；
// 断开同时销毁全部缓存的表句柄，索引准备在新连接代上重新执行一次。
type Mongo struct {
	options *MongoOptions
	lg      logger.Logger
	search  SearchIndex

	mu     sync.Mutex
	client *mongo.Client
	tables map[string]*rawTable
	inUse  atomic.Int64
	// generation 连接代数，断开自增。索引准备等 memoized 任务按代失效
	generation atomic.Int64
}

// NewMongoWithOptions 创建MongoDB实例。不立即建连，首次访问时建立
func NewMongoWithOptions(opts *MongoOptions) (*Mongo, error) {
	// 设置默认值
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxPoolSize == 0 {
		opts.MaxPoolSize = 100
	}
	if err := db.ValidateOptions(opts); err != nil {
		return nil, err
	}
	m := &Mongo{
		options: opts,
		lg:      log.Default().With("backend", "mongodb", "database", opts.Database),
		tables:  map[string]*rawTable{},
	}
	if opts.SearchIndex == "es" {
		search, err := newESSearchIndex(opts)
		if err != nil {
			return nil, err
		}
		m.search = search
	}
	return m, nil
}

// ensureClient 惰性建连，已连接时直接复用
func (m *Mongo) ensureClient(ctx context.Context) (*mongo.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client != nil {
		return m.client, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.options.Timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(m.options.URI)
	clientOptions.SetMaxPoolSize(m.options.MaxPoolSize)
	clientOptions.SetMinPoolSize(m.options.MinPoolSize)
	clientOptions.SetPoolMonitor(&event.PoolMonitor{
		Event: func(e *event.PoolEvent) {
			switch e.Type {
			case event.GetSucceeded:
				m.inUse.Add(1)
			case event.ConnectionReturned:
				m.inUse.Add(-1)
			}
		},
	})

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, errors.Wrap(db.ErrTransient, err.Error())
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Wrap(db.ErrTransient, err.Error())
	}

	m.lg.InfoContext(ctx, "mongodb connected")
	m.client = client
	return client, nil
}

// Connect 幂等建连，附带健康探测
func (m *Mongo) Connect(ctx context.Context) error {
	_, err := m.ensureClient(ctx)
	return err
}

// Disconnect 拆除物理客户端与全部缓存的表句柄，并重新武装惰性重连。
// 快照恢复场景下物理连接不得跨进程检查点存活，恢复后的首次访问会重建一切。
func (m *Mongo) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	m.client = nil
	m.tables = map[string]*rawTable{}
	m.inUse.Store(0)
	m.generation.Add(1)
	m.mu.Unlock()

	if client == nil {
		return nil
	}
	m.lg.InfoContext(ctx, "mongodb disconnecting")
	if err := client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, "disconnect mongodb")
	}
	return nil
}

// reconnect 重试组合子使用的强制重连：拆除再惰性重建
func (m *Mongo) reconnect(ctx context.Context) error {
	if err := m.Disconnect(ctx); err != nil {
		m.lg.WarnContext(ctx, "teardown before reconnect failed", "error", err)
	}
	_, err := m.ensureClient(ctx)
	return err
}

// HealthCheck 探活并按连接池占用率分级
func (m *Mongo) HealthCheck(ctx context.Context) (db.HealthStatus, error) {
	client, err := m.ensureClient(ctx)
	if err != nil {
		return db.HealthStatus{Level: db.HealthError, Message: err.Error()}, nil
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return db.HealthStatus{Level: db.HealthError, Message: fmt.Sprintf("ping failed: %v", err)}, nil
	}
	utilization := float64(m.inUse.Load()) / float64(m.options.MaxPoolSize)
	db.ReportPoolUtilization("mongodb", m.options.Database, utilization)
	return db.PoolHealth(utilization), nil
}

// Table 获取（或创建并缓存）文档级表句柄。同名表只构造一次，
// 并发首次访问由锁同步；索引准备由表内的 memoized 任务保证恰好执行一次。
func (m *Mongo) Table(name string, class *schema.Class) (db.RawTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tables[name]; ok {
		return t, nil
	}
	t, err := newRawTable(m, name, class)
	if err != nil {
		return nil, err
	}
	m.tables[name] = t
	return t, nil
}
