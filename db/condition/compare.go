package condition

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// CompareOp 比较操作符
type CompareOp string

const (
	OpGt  CompareOp = "gt"
	OpGte CompareOp = "gte"
	OpLt  CompareOp = "lt"
	OpLte CompareOp = "lte"
	OpNe  CompareOp = "ne"
)

var compareSQLOps = map[CompareOp]string{
	OpGt:  ">",
	OpGte: ">=",
	OpLt:  "<",
	OpLte: "<=",
	OpNe:  "<>",
}

// CompareCondition 范围/不等比较
type CompareCondition struct {
	Path       schema.Path
	Op         CompareOp
	Value      any
	IgnoreCase bool
}

func Compare(path schema.Path, op CompareOp, value any) *CompareCondition {
	return &CompareCondition{Path: path, Op: op, Value: value}
}

func (c *CompareCondition) Type() Type { return TypeCompare }

func (c *CompareCondition) ToMongo() (bson.M, error) {
	switch c.Op {
	case OpGt, OpGte, OpLt, OpLte, OpNe:
		return leafMongo(c.Path.Dotted(), bson.M{"$" + string(c.Op): c.Value}), nil
	default:
		return nil, errors.Wrapf(ErrInvalid, "unknown compare op %s", c.Op)
	}
}

func (c *CompareCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	op, ok := compareSQLOps[c.Op]
	if !ok {
		return "", nil, errors.Wrapf(ErrInvalid, "unknown compare op %s", c.Op)
	}
	return leafSQL(sqlctx, c.Path, op, c.Value, c.IgnoreCase)
}

// leafSQL 叶子谓词的 SQL 编译：路径经由列索引落到物理列。
// 字符串列的忽略大小写比较用显式 LOWER 折叠，数组列整体比较退化为 JSON 文本比较。
func leafSQL(sqlctx *SQLContext, path schema.Path, op string, value any, ignoreCase bool) (string, []any, error) {
	col, err := sqlctx.Cols.One(path)
	if err != nil {
		return "", nil, errors.Wrap(ErrInvalid, err.Error())
	}
	name := col.Name()
	if col.ArrayDepth > 0 {
		raw, err := json.Marshal(value)
		if err != nil {
			return "", nil, errors.Wrap(ErrInvalid, err.Error())
		}
		return fmt.Sprintf("%s %s ?", name, op), []any{string(raw)}, nil
	}
	if ignoreCase && col.Type == schema.ColumnTypeString {
		return fmt.Sprintf("LOWER(%s) %s LOWER(?)", name, op), []any{value}, nil
	}
	return fmt.Sprintf("%s %s ?", name, op), []any{value}, nil
}
