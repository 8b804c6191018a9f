package condition

import (
	"regexp"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// EqualsCondition 精确匹配。IgnoreCase 只对字符串字段有意义
type EqualsCondition struct {
	Path       schema.Path
	Value      any
	IgnoreCase bool
}

func Equals(path schema.Path, value any) *EqualsCondition {
	return &EqualsCondition{Path: path, Value: value}
}

func EqualsIgnoreCase(path schema.Path, value string) *EqualsCondition {
	return &EqualsCondition{Path: path, Value: value, IgnoreCase: true}
}

func (c *EqualsCondition) Type() Type { return TypeEquals }

func (c *EqualsCondition) ToMongo() (bson.M, error) {
	if c.IgnoreCase {
		if s, ok := c.Value.(string); ok {
			pattern := "^" + regexp.QuoteMeta(s) + "$"
			return leafMongo(c.Path.Dotted(), bson.M{"$regex": pattern, "$options": "i"}), nil
		}
	}
	return leafMongo(c.Path.Dotted(), bson.M{"$eq": c.Value}), nil
}

func (c *EqualsCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	return leafSQL(sqlctx, c.Path, "=", c.Value, c.IgnoreCase)
}
