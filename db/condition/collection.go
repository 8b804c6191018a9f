package condition

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// ListAnyCondition 列表元素匹配：列表中任一元素满足子条件即命中。
// 子条件中的路径相对于列表元素，元素本身用空路径寻址。
type ListAnyCondition struct {
	Path      schema.Path
	Condition Condition
}

func ListAny(path schema.Path, sub Condition) *ListAnyCondition {
	return &ListAnyCondition{Path: path, Condition: sub}
}

func (c *ListAnyCondition) Type() Type { return TypeListAny }

func (c *ListAnyCondition) ToMongo() (bson.M, error) {
	inner, err := c.Condition.ToMongo()
	if err != nil {
		return nil, err
	}
	return bson.M{c.Path.Dotted(): bson.M{"$elemMatch": inner}}, nil
}

func (c *ListAnyCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	return quantifySQL(sqlctx, c.Path, c.Condition)
}

// MapAnyCondition 映射值匹配：映射中任一值满足子条件即命中
type MapAnyCondition struct {
	Path      schema.Path
	Condition Condition
}

func MapAny(path schema.Path, sub Condition) *MapAnyCondition {
	return &MapAnyCondition{Path: path, Condition: sub}
}

func (c *MapAnyCondition) Type() Type { return TypeMapAny }

func (c *MapAnyCondition) ToMongo() (bson.M, error) {
	// 文档后端映射按子文档存储，借 $objectToArray 对值做存在量化
	expr, err := mongoValueExpr(c.Condition, "$$entry.v")
	if err != nil {
		return nil, err
	}
	return bson.M{"$expr": bson.M{
		"$gt": []any{
			bson.M{"$size": bson.M{"$filter": bson.M{
				"input": bson.M{"$objectToArray": bson.M{"$ifNull": []any{"$" + c.Path.Dotted(), bson.M{}}}},
				"as":    "entry",
				"cond":  expr,
			}}},
			0,
		},
	}}, nil
}

func (c *MapAnyCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	// 关系型映射的值列带 value 后缀
	return quantifySQL(sqlctx, c.Path.Sub("value"), c.Condition)
}

// mongoValueExpr 把限定在集合元素上的条件编译为聚合表达式，ref 为元素引用
func mongoValueExpr(c Condition, ref string) (bson.M, error) {
	switch t := c.(type) {
	case *EqualsCondition:
		return bson.M{"$eq": []any{valueRef(ref, t.Path), t.Value}}, nil
	case *CompareCondition:
		return bson.M{"$" + string(t.Op): []any{valueRef(ref, t.Path), t.Value}}, nil
	case *InCondition:
		return bson.M{"$in": []any{valueRef(ref, t.Path), t.Values}}, nil
	case *AndCondition:
		return mongoValueExprs(t.Conditions, "$and", ref)
	case *OrCondition:
		return mongoValueExprs(t.Conditions, "$or", ref)
	default:
		return nil, errors.Wrapf(ErrInvalid, "condition %s not supported inside mapAny", c.Type())
	}
}

func mongoValueExprs(conditions []Condition, op string, ref string) (bson.M, error) {
	parts := make([]bson.M, 0, len(conditions))
	for _, sub := range conditions {
		expr, err := mongoValueExpr(sub, ref)
		if err != nil {
			return nil, err
		}
		parts = append(parts, expr)
	}
	return bson.M{op: parts}, nil
}

func valueRef(ref string, relative schema.Path) string {
	if dotted := relative.Dotted(); dotted != "" {
		return ref + "." + dotted
	}
	return ref
}

// quantifySQL 对数组列做存在量化编译。structure-of-arrays 布局下
// 每个叶子各占一个数组列，无法对同一元素联立多个叶子，And/Not 拒绝编译。
func quantifySQL(sqlctx *SQLContext, base schema.Path, sub Condition) (string, []any, error) {
	switch t := sub.(type) {
	case *EqualsCondition:
		return quantifyLeafSQL(sqlctx, base, t.Path, "=", t.Value)
	case *CompareCondition:
		op, ok := compareSQLOps[t.Op]
		if !ok {
			return "", nil, errors.Wrapf(ErrInvalid, "unknown compare op %s", t.Op)
		}
		return quantifyLeafSQL(sqlctx, base, t.Path, op, t.Value)
	case *InCondition:
		parts := make([]string, 0, len(t.Values))
		var args []any
		for _, v := range t.Values {
			s, leafArgs, err := quantifyLeafSQL(sqlctx, base, t.Path, "=", v)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, s)
			args = append(args, leafArgs...)
		}
		if len(parts) == 0 {
			return "1=0", nil, nil
		}
		return "(" + strings.Join(parts, " OR ") + ")", args, nil
	case *OrCondition:
		parts := make([]string, 0, len(t.Conditions))
		var args []any
		for _, inner := range t.Conditions {
			s, innerArgs, err := quantifySQL(sqlctx, base, inner)
			if err != nil {
				return "", nil, err
			}
			parts = append(parts, "("+s+")")
			args = append(args, innerArgs...)
		}
		return strings.Join(parts, " OR "), args, nil
	case *AlwaysCondition:
		// 任一元素恒真等价于集合非空
		col, err := firstArrayColumn(sqlctx, base)
		if err != nil {
			return "", nil, err
		}
		if sqlctx.Dialect == "sqlite" {
			return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s))", col.Name()), nil, nil
		}
		return fmt.Sprintf("JSON_LENGTH(%s) > 0", col.Name()), nil, nil
	default:
		return "", nil, errors.Wrapf(ErrInvalid, "condition %s not supported on array columns", sub.Type())
	}
}

func quantifyLeafSQL(sqlctx *SQLContext, base schema.Path, relative schema.Path, op string, value any) (string, []any, error) {
	full := append(append(schema.Path{}, base...), relative...)
	col, err := sqlctx.Cols.One(full)
	if err != nil {
		return "", nil, errors.Wrap(ErrInvalid, err.Error())
	}
	if col.ArrayDepth == 0 {
		return "", nil, errors.Wrapf(ErrInvalid, "path %s is not collection-valued", full.String())
	}
	name := col.Name()
	if sqlctx.Dialect == "sqlite" {
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s) WHERE json_each.value %s ?)", name, op), []any{value}, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return "", nil, errors.Wrap(ErrInvalid, err.Error())
	}
	if op == "=" {
		return fmt.Sprintf("JSON_CONTAINS(%s, CAST(? AS JSON))", name), []any{string(raw)}, nil
	}
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM JSON_TABLE(%s, '$[*]' COLUMNS (v JSON PATH '$')) jt WHERE jt.v %s CAST(? AS JSON))",
		name, op), []any{string(raw)}, nil
}

func firstArrayColumn(sqlctx *SQLContext, base schema.Path) (*schema.Column, error) {
	cols := sqlctx.Cols.For(base)
	for _, col := range cols {
		if col.ArrayDepth > 0 {
			return col, nil
		}
	}
	return nil, errors.Wrapf(ErrInvalid, "no array column for path %s", base.String())
}
