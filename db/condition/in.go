package condition

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// InCondition 集合成员匹配
type InCondition struct {
	Path   schema.Path
	Values []any
}

func In(path schema.Path, values ...any) *InCondition {
	return &InCondition{Path: path, Values: values}
}

func (c *InCondition) Type() Type { return TypeIn }

func (c *InCondition) ToMongo() (bson.M, error) {
	return leafMongo(c.Path.Dotted(), bson.M{"$in": c.Values}), nil
}

func (c *InCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	// 空集永假，调用方 Simplify 后一般不会走到这里
	if len(c.Values) == 0 {
		return "1=0", nil, nil
	}
	col, err := sqlctx.Cols.One(c.Path)
	if err != nil {
		return "", nil, errors.Wrap(ErrInvalid, err.Error())
	}
	if col.ArrayDepth > 0 {
		// 集合值路径不能做标量 IN，改走数组列的逐元素匹配
		return quantifySQL(sqlctx, c.Path, In(schema.Path{}, c.Values...))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(c.Values)), ", ")
	return fmt.Sprintf("%s IN (%s)", col.Name(), placeholders), c.Values, nil
}
