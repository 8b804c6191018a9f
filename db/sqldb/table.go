package sqldb

import (
	"context"
	"database/sql/driver"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

type rawTable struct {
	s     *SQL
	name  string
	class *schema.Class
	cols  *schema.ColumnSet

	prepMu      sync.Mutex
	preparedGen int64
}

func newRawTable(s *SQL, name string, class *schema.Class) (*rawTable, error) {
	cols, err := schema.NewColumnSet(class)
	if err != nil {
		return nil, errors.Wrap(db.ErrSchemaMapping, err.Error())
	}
	return &rawTable{s: s, name: name, class: class, cols: cols, preparedGen: -1}, nil
}

func (t *rawTable) sqlctx() *condition.SQLContext {
	return &condition.SQLContext{Cols: t.cols, Dialect: t.s.options.Dialect}
}

// database 取连接并确保物理表已对齐，对齐按连接代 memoized
func (t *rawTable) database(ctx context.Context) (*gorm.DB, error) {
	gdb, err := t.s.ensureDB(ctx)
	if err != nil {
		return nil, err
	}
	t.prepMu.Lock()
	defer t.prepMu.Unlock()
	gen := t.s.generation.Load()
	if t.preparedGen != gen {
		if err := actualizeSchema(ctx, t.s.lg.With("table", t.name), gdb, t.s.options.Dialect, t.name, t.cols); err != nil {
			return nil, err
		}
		t.preparedGen = gen
	}
	return gdb, nil
}

// classify 把驱动错误映射进错误分类
func (t *rawTable) classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, gorm.ErrDuplicatedKey),
		strings.Contains(msg, "UNIQUE constraint failed"),
		strings.Contains(msg, "Duplicate entry"):
		return db.UniqueViolation(t.name, err)
	case errors.Is(err, driver.ErrBadConn),
		strings.Contains(msg, "invalid connection"),
		strings.Contains(msg, "connection refused"):
		return errors.Wrap(db.ErrTransient, msg)
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Wrap(db.ErrQueryTimeout, msg)
	}
	return err
}

// run 网络操作的统一外壳：瞬时故障有界重试，重试前强制重连
func (t *rawTable) run(ctx context.Context, op func(ctx context.Context, gdb *gorm.DB) error) error {
	return db.WithRetry(ctx, t.s.lg, t.s.reconnect, func(ctx context.Context) error {
		gdb, err := t.database(ctx)
		if err != nil {
			return err
		}
		return t.classify(op(ctx, gdb))
	})
}

// orderClause 排序列编译。忽略大小写的字符串排序用 LOWER 折叠
func (t *rawTable) orderClause(orderBy []db.SortPart) (string, error) {
	if len(orderBy) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(orderBy))
	for _, part := range orderBy {
		col, err := t.cols.One(part.Path)
		if err != nil {
			return "", errors.Wrap(db.ErrSchemaMapping, err.Error())
		}
		expr := col.Name()
		if part.IgnoreCase && col.Type == schema.ColumnTypeString {
			expr = fmt.Sprintf("LOWER(%s)", expr)
		}
		if part.Ascending {
			expr += " ASC"
		} else {
			expr += " DESC"
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, ", "), nil
}

func (t *rawTable) compile(cond condition.Condition) (string, []any, error) {
	where, args, err := cond.ToSQL(t.sqlctx())
	if err != nil {
		return "", nil, errors.Wrap(db.ErrSchemaMapping, err.Error())
	}
	return where, args, nil
}

// queryCtx 应用查询时间预算
func queryCtx(ctx context.Context, maxQueryMS int64) (context.Context, context.CancelFunc) {
	if maxQueryMS > 0 {
		return context.WithTimeout(ctx, time.Duration(maxQueryMS)*time.Millisecond)
	}
	return ctx, func() {}
}

func (t *rawTable) Insert(ctx context.Context, docs []map[string]any) ([]map[string]any, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	rows := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		row, err := rowOf(t.cols, doc)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	err := t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		return gdb.WithContext(ctx).Table(t.name).Create(rows).Error
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (t *rawTable) Find(ctx context.Context, cond condition.Condition, opts db.FindOptions) iter.Seq2[map[string]any, error] {
	return func(yield func(map[string]any, error) bool) {
		where, args, err := t.compile(cond)
		if err != nil {
			yield(nil, err)
			return
		}
		order, err := t.orderClause(opts.OrderBy)
		if err != nil {
			yield(nil, err)
			return
		}

		var rows []map[string]any
		err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
			ctx, cancel := queryCtx(ctx, opts.MaxQueryMS)
			defer cancel()
			tx := gdb.WithContext(ctx).Table(t.name).Where(where, args...)
			if order != "" {
				tx = tx.Order(order)
			}
			if opts.Limit > 0 {
				tx = tx.Limit(opts.Limit)
			}
			if opts.Skip > 0 {
				if opts.Limit == 0 {
					// OFFSET 需要搭配 LIMIT
					tx = tx.Limit(1<<31 - 1)
				}
				tx = tx.Offset(opts.Skip)
			}
			rows = nil
			return tx.Find(&rows).Error
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, row := range rows {
			doc, err := docOf(t.cols, row)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
	}
}

func (t *rawTable) Count(ctx context.Context, cond condition.Condition) (int, error) {
	where, args, err := t.compile(cond)
	if err != nil {
		return 0, err
	}
	var count int64
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		return gdb.WithContext(ctx).Table(t.name).Where(where, args...).Count(&count).Error
	})
	return int(count), err
}

func (t *rawTable) GroupCount(ctx context.Context, cond condition.Condition, groupBy schema.Path) (map[any]int, error) {
	where, args, err := t.compile(cond)
	if err != nil {
		return nil, err
	}
	groupCol, err := t.cols.One(groupBy)
	if err != nil {
		return nil, errors.Wrap(db.ErrSchemaMapping, err.Error())
	}
	var rows []map[string]any
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		rows = nil
		return gdb.WithContext(ctx).Table(t.name).
			Select(fmt.Sprintf("%s AS group_key, COUNT(*) AS group_count", groupCol.Name())).
			Where(where, args...).
			Group(groupCol.Name()).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make(map[any]int, len(rows))
	for _, row := range rows {
		out[coerceCell(groupCol, row["group_key"])] = int(asInt64(row["group_count"]))
	}
	return out, nil
}

func aggregateFunc(kind db.AggregateKind) string {
	switch kind {
	case db.AggregateAvg:
		return "AVG"
	case db.AggregateMin:
		return "MIN"
	case db.AggregateMax:
		return "MAX"
	default:
		return "SUM"
	}
}

func (t *rawTable) Aggregate(ctx context.Context, kind db.AggregateKind, cond condition.Condition, path schema.Path) (*float64, error) {
	where, args, err := t.compile(cond)
	if err != nil {
		return nil, err
	}
	col, err := t.cols.One(path)
	if err != nil {
		return nil, errors.Wrap(db.ErrSchemaMapping, err.Error())
	}
	var result *float64
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		result = nil
		row := gdb.WithContext(ctx).Table(t.name).
			Select(fmt.Sprintf("%s(%s)", aggregateFunc(kind), col.Name())).
			Where(where, args...).
			Row()
		return row.Scan(&result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (t *rawTable) GroupAggregate(ctx context.Context, kind db.AggregateKind, cond condition.Condition, groupBy schema.Path, path schema.Path) (map[any]*float64, error) {
	where, args, err := t.compile(cond)
	if err != nil {
		return nil, err
	}
	groupCol, err := t.cols.One(groupBy)
	if err != nil {
		return nil, errors.Wrap(db.ErrSchemaMapping, err.Error())
	}
	col, err := t.cols.One(path)
	if err != nil {
		return nil, errors.Wrap(db.ErrSchemaMapping, err.Error())
	}
	var rows []map[string]any
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		rows = nil
		return gdb.WithContext(ctx).Table(t.name).
			Select(fmt.Sprintf("%s AS group_key, %s(%s) AS group_value", groupCol.Name(), aggregateFunc(kind), col.Name())).
			Where(where, args...).
			Group(groupCol.Name()).
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	out := make(map[any]*float64, len(rows))
	for _, row := range rows {
		out[coerceCell(groupCol, row["group_key"])] = asFloatPtr(row["group_value"])
	}
	return out, nil
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	}
	return 0
}

func asFloatPtr(v any) *float64 {
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		return &t
	case int64:
		f := float64(t)
		return &f
	case []byte:
		var f float64
		if _, err := fmt.Sscanf(string(t), "%g", &f); err == nil {
			return &f
		}
	}
	return nil
}
