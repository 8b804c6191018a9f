package sqldb

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/modification"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// pkColumn 主键物理列
func (t *rawTable) pkColumn() (*schema.Column, error) {
	pk := schema.PrimaryKey(t.class)
	if pk == "" {
		return nil, errors.Wrap(db.ErrSchemaMapping, "model has no fields")
	}
	col, err := t.cols.One(schema.NewPath(pk))
	if err != nil {
		return nil, errors.Wrap(db.ErrSchemaMapping, err.Error())
	}
	return col, nil
}

// lockOne 事务内锁定第一条命中行。关系型后端的单行变更不支持排序选择，
// SQL 的 UPDATE/DELETE 没有可移植的 ORDER BY LIMIT 形态，带序请求直接报不支持。
func (t *rawTable) lockOne(tx *gorm.DB, where string, args []any) (map[string]any, error) {
	q := tx.Table(t.name).Where(where, args...).Limit(1)
	if t.s.options.Dialect == "mysql" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var rows []map[string]any
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return docOf(t.cols, rows[0])
}

// writeBack 按主键整行写回
func (t *rawTable) writeBack(tx *gorm.DB, pkCol *schema.Column, doc map[string]any) error {
	row, err := rowOf(t.cols, doc)
	if err != nil {
		return err
	}
	pk := row[pkCol.Name()]
	delete(row, pkCol.Name())
	return tx.Table(t.name).Where(pkCol.Name()+" = ?", pk).Updates(row).Error
}

func rejectOrdered(orderBy []db.SortPart) error {
	if len(orderBy) > 0 {
		return errors.Wrap(db.ErrUnsupported, "ordered single-row mutation on relational backend")
	}
	return nil
}

func (t *rawTable) ReplaceOne(ctx context.Context, cond condition.Condition, doc map[string]any, orderBy []db.SortPart) (db.RawChange, error) {
	if err := rejectOrdered(orderBy); err != nil {
		return db.RawChange{}, err
	}
	where, args, err := t.compile(cond)
	if err != nil {
		return db.RawChange{}, err
	}
	pkCol, err := t.pkColumn()
	if err != nil {
		return db.RawChange{}, err
	}
	var change db.RawChange
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			before, err := t.lockOne(tx, where, args)
			if err != nil {
				return err
			}
			if before == nil {
				change = db.RawChange{}
				return nil
			}
			after := make(map[string]any, len(doc)+1)
			for k, v := range doc {
				after[k] = v
			}
			// 替换保持主键不变
			pkField := schema.PrimaryKey(t.class)
			after[pkField] = before[pkField]
			if err := t.writeBack(tx, pkCol, after); err != nil {
				return err
			}
			change = db.RawChange{Before: before, After: after}
			return nil
		})
	})
	return change, err
}

// mutateOne 事务内读出、本地重放修改、整行写回，是修改的唯一执行路径。
// 修改不编译为 SQL SET 子句，before/after 快照天然一致。
func (t *rawTable) mutateOne(ctx context.Context, cond condition.Condition, mod modification.Modification) (db.RawChange, error) {
	where, args, err := t.compile(cond)
	if err != nil {
		return db.RawChange{}, err
	}
	pkCol, err := t.pkColumn()
	if err != nil {
		return db.RawChange{}, err
	}
	var change db.RawChange
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			before, err := t.lockOne(tx, where, args)
			if err != nil {
				return err
			}
			if before == nil {
				change = db.RawChange{}
				return nil
			}
			after, err := mod.Apply(before)
			if err != nil {
				return err
			}
			if err := t.writeBack(tx, pkCol, after); err != nil {
				return err
			}
			change = db.RawChange{Before: before, After: after}
			return nil
		})
	})
	return change, err
}

func (t *rawTable) UpdateOne(ctx context.Context, cond condition.Condition, mod modification.Modification, orderBy []db.SortPart) (db.RawChange, error) {
	if err := rejectOrdered(orderBy); err != nil {
		return db.RawChange{}, err
	}
	return t.mutateOne(ctx, cond, mod)
}

func (t *rawTable) UpdateOneIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification, orderBy []db.SortPart) (bool, error) {
	change, err := t.UpdateOne(ctx, cond, mod, orderBy)
	return change.Before != nil, err
}

func (t *rawTable) UpdateMany(ctx context.Context, cond condition.Condition, mod modification.Modification) ([]db.RawChange, error) {
	where, args, err := t.compile(cond)
	if err != nil {
		return nil, err
	}
	pkCol, err := t.pkColumn()
	if err != nil {
		return nil, err
	}
	var changes []db.RawChange
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		changes = nil
		return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			q := tx.Table(t.name).Where(where, args...)
			if t.s.options.Dialect == "mysql" {
				q = q.Clauses(clause.Locking{Strength: "UPDATE"})
			}
			var rows []map[string]any
			if err := q.Find(&rows).Error; err != nil {
				return err
			}
			for _, row := range rows {
				before, err := docOf(t.cols, row)
				if err != nil {
					return err
				}
				after, err := mod.Apply(before)
				if err != nil {
					return err
				}
				if err := t.writeBack(tx, pkCol, after); err != nil {
					return err
				}
				changes = append(changes, db.RawChange{Before: before, After: after})
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (t *rawTable) UpdateManyIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification) (int, error) {
	changes, err := t.UpdateMany(ctx, cond, mod)
	return len(changes), err
}

func (t *rawTable) UpsertOne(ctx context.Context, cond condition.Condition, mod modification.Modification, doc map[string]any) (db.RawChange, error) {
	where, args, err := t.compile(cond)
	if err != nil {
		return db.RawChange{}, err
	}
	pkCol, err := t.pkColumn()
	if err != nil {
		return db.RawChange{}, err
	}
	var change db.RawChange
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		// 读出-分支-写回必须在串行化事务内：默认隔离级别下
		// 两个并发未命中的间隙锁互相兼容，会双双走进插入分支
		return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			before, err := t.lockOne(tx, where, args)
			if err != nil {
				return err
			}
			if before == nil {
				// 未命中走插入，并发插入由唯一约束兜底为唯一性冲突
				row, err := rowOf(t.cols, doc)
				if err != nil {
					return err
				}
				if err := tx.Table(t.name).Create(row).Error; err != nil {
					return err
				}
				change = db.RawChange{Before: nil, After: doc}
				return nil
			}
			after, err := mod.Apply(before)
			if err != nil {
				return err
			}
			if err := t.writeBack(tx, pkCol, after); err != nil {
				return err
			}
			change = db.RawChange{Before: before, After: after}
			return nil
		}, &sql.TxOptions{Isolation: sql.LevelSerializable})
	})
	return change, err
}

func (t *rawTable) UpsertOneIgnoringResult(ctx context.Context, cond condition.Condition, mod modification.Modification, doc map[string]any) (bool, error) {
	change, err := t.UpsertOne(ctx, cond, mod, doc)
	return change.Before != nil, err
}

func (t *rawTable) DeleteOne(ctx context.Context, cond condition.Condition, orderBy []db.SortPart) (map[string]any, error) {
	if err := rejectOrdered(orderBy); err != nil {
		return nil, err
	}
	where, args, err := t.compile(cond)
	if err != nil {
		return nil, err
	}
	pkCol, err := t.pkColumn()
	if err != nil {
		return nil, err
	}
	var deleted map[string]any
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		deleted = nil
		return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			doc, err := t.lockOne(tx, where, args)
			if err != nil {
				return err
			}
			if doc == nil {
				return nil
			}
			pkField := schema.PrimaryKey(t.class)
			if err := tx.Table(t.name).Where(pkCol.Name()+" = ?", doc[pkField]).Delete(nil).Error; err != nil {
				return err
			}
			deleted = doc
			return nil
		})
	})
	return deleted, err
}

func (t *rawTable) DeleteOneIgnoringResult(ctx context.Context, cond condition.Condition, orderBy []db.SortPart) (bool, error) {
	doc, err := t.DeleteOne(ctx, cond, orderBy)
	return doc != nil, err
}

func (t *rawTable) DeleteMany(ctx context.Context, cond condition.Condition) ([]map[string]any, error) {
	where, args, err := t.compile(cond)
	if err != nil {
		return nil, err
	}
	var deleted []map[string]any
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		deleted = nil
		return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rows []map[string]any
			if err := tx.Table(t.name).Where(where, args...).Find(&rows).Error; err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			if err := tx.Table(t.name).Where(where, args...).Delete(nil).Error; err != nil {
				return err
			}
			for _, row := range rows {
				doc, err := docOf(t.cols, row)
				if err != nil {
					return err
				}
				deleted = append(deleted, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

func (t *rawTable) DeleteManyIgnoringResult(ctx context.Context, cond condition.Condition) (int, error) {
	where, args, err := t.compile(cond)
	if err != nil {
		return 0, err
	}
	var count int64
	err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
		result := gdb.WithContext(ctx).Table(t.name).Where(where, args...).Delete(nil)
		count = result.RowsAffected
		return result.Error
	})
	return int(count), err
}
