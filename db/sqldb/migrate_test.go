package sqldb

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

func TestColumnDDL(t *testing.T) {
	scalar := func(ct schema.ColumnType) *schema.Column {
		return &schema.Column{Keys: []string{"f"}, Type: ct}
	}

	tests := []struct {
		name   string
		col    *schema.Column
		mysql  string
		sqlite string
	}{
		{"布尔", scalar(schema.ColumnTypeBool), "TINYINT(1)", "BOOLEAN"},
		{"整型", scalar(schema.ColumnTypeInt), "INTEGER", "INTEGER"},
		{"长整型", scalar(schema.ColumnTypeLong), "BIGINT", "BIGINT"},
		{"浮点", scalar(schema.ColumnTypeDouble), "DOUBLE", "REAL"},
		{"时间", scalar(schema.ColumnTypeTime), "DATETIME(6)", "DATETIME"},
		{"UUID", scalar(schema.ColumnTypeUUID), "VARCHAR(36)", "TEXT"},
		{"字节串", scalar(schema.ColumnTypeBytes), "BLOB", "BLOB"},
		{"字符串", scalar(schema.ColumnTypeString), "VARCHAR(255)", "TEXT"},
		{"向量", scalar(schema.ColumnTypeVector), "JSON", "TEXT"},
		{"数组列", &schema.Column{Keys: []string{"f"}, Type: schema.ColumnTypeString, ArrayDepth: 1}, "JSON", "TEXT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.mysql, columnDDL("mysql", tt.col))
			assert.Equal(t, tt.sqlite, columnDDL("sqlite", tt.col))
		})
	}
}

func TestOrderClause(t *testing.T) {
	cs := orderColumns()
	table := &rawTable{cols: cs, class: cs.Class}

	clause, err := table.orderClause(nil)
	assert.NoError(t, err)
	assert.Equal(t, "", clause)

	clause, err = table.orderClause([]db.SortPart{
		db.Asc(schema.NewPath("name")),
		db.Desc(schema.NewPath("shipping", "city")),
	})
	assert.NoError(t, err)
	assert.Equal(t, "name ASC, shipping__city DESC", clause)

	// 忽略大小写的字符串排序折叠到 LOWER
	clause, err = table.orderClause([]db.SortPart{
		{Path: schema.NewPath("name"), Ascending: true, IgnoreCase: true},
	})
	assert.NoError(t, err)
	assert.Equal(t, "LOWER(name) ASC", clause)

	// 未知路径报模型映射错误
	_, err = table.orderClause([]db.SortPart{db.Asc(schema.NewPath("missing"))})
	assert.ErrorIs(t, err, db.ErrSchemaMapping)
}
