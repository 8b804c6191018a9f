package sqldb

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
	"github.com/lightningkite/service-abstractions-sub003/log/logger"
)

// columnDDL 物理列的方言建列类型
func columnDDL(dialect string, col *schema.Column) string {
	if col.ArrayDepth > 0 || col.Type == schema.ColumnTypeJSON || col.Type == schema.ColumnTypeVector {
		if dialect == "mysql" {
			return "JSON"
		}
		return "TEXT"
	}
	switch col.Type {
	case schema.ColumnTypeBool:
		if dialect == "mysql" {
			return "TINYINT(1)"
		}
		return "BOOLEAN"
	case schema.ColumnTypeInt:
		return "INTEGER"
	case schema.ColumnTypeLong:
		return "BIGINT"
	case schema.ColumnTypeDouble:
		if dialect == "mysql" {
			return "DOUBLE"
		}
		return "REAL"
	case schema.ColumnTypeTime:
		if dialect == "mysql" {
			return "DATETIME(6)"
		}
		return "DATETIME"
	case schema.ColumnTypeUUID:
		if dialect == "mysql" {
			return "VARCHAR(36)"
		}
		return "TEXT"
	case schema.ColumnTypeBytes:
		return "BLOB"
	default:
		// 需要可索引，mysql 的 TEXT 不能直接做唯一键
		if dialect == "mysql" {
			return "VARCHAR(255)"
		}
		return "TEXT"
	}
}

// actualizeSchema 把模型声明对齐到物理表：建表、补缺列、对齐索引。
// 只增不减，已有数据的列不做类型迁移。
func actualizeSchema(ctx context.Context, lg logger.Logger, gdb *gorm.DB, dialect string, name string, cs *schema.ColumnSet) error {
	migrator := gdb.WithContext(ctx).Migrator()

	if !migrator.HasTable(name) {
		if err := createTable(ctx, gdb, dialect, name, cs); err != nil {
			return err
		}
	} else if err := addMissingColumns(ctx, gdb, dialect, name, cs); err != nil {
		return err
	}

	reconcileIndexes(ctx, lg, gdb, dialect, name, cs)
	return nil
}

func createTable(ctx context.Context, gdb *gorm.DB, dialect string, name string, cs *schema.ColumnSet) error {
	pk := strings.ReplaceAll(schema.PrimaryKey(cs.Class), ".", "__")
	defs := make([]string, 0, len(cs.Columns))
	for i := range cs.Columns {
		col := &cs.Columns[i]
		def := fmt.Sprintf("%s %s", col.Name(), columnDDL(dialect, col))
		if col.Name() == pk {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, strings.Join(defs, ", "))
	if err := gdb.WithContext(ctx).Exec(ddl).Error; err != nil {
		return errors.Wrap(err, "create table "+name)
	}
	return nil
}

func addMissingColumns(ctx context.Context, gdb *gorm.DB, dialect string, name string, cs *schema.ColumnSet) error {
	types, err := gdb.WithContext(ctx).Migrator().ColumnTypes(name)
	if err != nil {
		return errors.Wrap(err, "inspect table "+name)
	}
	existing := make(map[string]bool, len(types))
	for _, t := range types {
		existing[strings.ToLower(t.Name())] = true
	}
	for i := range cs.Columns {
		col := &cs.Columns[i]
		if existing[strings.ToLower(col.Name())] {
			continue
		}
		ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", name, col.Name(), columnDDL(dialect, col))
		if err := gdb.WithContext(ctx).Exec(ddl).Error; err != nil {
			return errors.Wrapf(err, "add column %s to %s", col.Name(), name)
		}
	}
	return nil
}

// reconcileIndexes 对齐声明的索引。创建失败先删旧重建，
// 重建仍失败只记日志不中断，索引收敛是尽力而为的。
// 全文/地理索引在关系型后端退化为普通索引，检索路径不依赖它们的专用形态。
func reconcileIndexes(ctx context.Context, lg logger.Logger, gdb *gorm.DB, dialect string, name string, cs *schema.ColumnSet) {
	for _, spec := range schema.Indexes(cs.Class) {
		indexName := name + "_" + strings.ReplaceAll(spec.Name, ".", "__")
		cols := make([]string, 0, len(spec.Keys))
		skip := false
		for _, key := range spec.Keys {
			col, err := cs.One(schema.NewPath(strings.Split(key, ".")...))
			if err != nil {
				// 类值路径命中多列时不为其建索引
				lg.Warn("skip index on non-scalar path", "index", indexName, "path", key)
				skip = true
				break
			}
			cols = append(cols, col.Name())
		}
		if skip {
			continue
		}

		unique := ""
		if spec.Unique {
			unique = "UNIQUE "
		}
		ddl := fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, indexName, name, strings.Join(cols, ", "))
		if dialect == "sqlite" {
			ddl = fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)", unique, indexName, name, strings.Join(cols, ", "))
		}
		if err := gdb.WithContext(ctx).Exec(ddl).Error; err == nil {
			continue
		}
		dropDDL := fmt.Sprintf("DROP INDEX %s", indexName)
		if dialect == "mysql" {
			dropDDL = fmt.Sprintf("DROP INDEX %s ON %s", indexName, name)
		}
		if err := gdb.WithContext(ctx).Exec(dropDDL).Error; err != nil {
			lg.Warn("drop conflicting index failed", "index", indexName, "error", err)
			continue
		}
		if err := gdb.WithContext(ctx).Exec(ddl).Error; err != nil {
			lg.Error("recreate index failed", "index", indexName, "error", err)
		}
	}
}
