package condition

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// AlwaysCondition 恒真条件
type AlwaysCondition struct{}

func Always() *AlwaysCondition { return &AlwaysCondition{} }

func (c *AlwaysCondition) Type() Type { return TypeAlways }

func (c *AlwaysCondition) ToMongo() (bson.M, error) {
	return bson.M{}, nil
}

func (c *AlwaysCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	return "1=1", nil, nil
}

// NeverCondition 恒假条件。后端编译前短路，不会真正下发
type NeverCondition struct{}

func Never() *NeverCondition { return &NeverCondition{} }

func (c *NeverCondition) Type() Type { return TypeNever }

func (c *NeverCondition) ToMongo() (bson.M, error) {
	return bson.M{"_id": bson.M{"$exists": false}}, nil
}

func (c *NeverCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	return "1=0", nil, nil
}

// AndCondition 与组合
type AndCondition struct {
	Conditions []Condition
}

func And(conditions ...Condition) *AndCondition {
	return &AndCondition{Conditions: conditions}
}

func (c *AndCondition) Type() Type { return TypeAnd }

func (c *AndCondition) ToMongo() (bson.M, error) {
	if len(c.Conditions) == 0 {
		return bson.M{}, nil
	}
	parts := make([]bson.M, 0, len(c.Conditions))
	for _, sub := range c.Conditions {
		m, err := sub.ToMongo()
		if err != nil {
			return nil, err
		}
		parts = append(parts, m)
	}
	return bson.M{"$and": parts}, nil
}

func (c *AndCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	return joinSQL(c.Conditions, " AND ", "1=1", sqlctx)
}

// OrCondition 或组合
type OrCondition struct {
	Conditions []Condition
}

func Or(conditions ...Condition) *OrCondition {
	return &OrCondition{Conditions: conditions}
}

func (c *OrCondition) Type() Type { return TypeOr }

func (c *OrCondition) ToMongo() (bson.M, error) {
	if len(c.Conditions) == 0 {
		return Never().ToMongo()
	}
	parts := make([]bson.M, 0, len(c.Conditions))
	for _, sub := range c.Conditions {
		m, err := sub.ToMongo()
		if err != nil {
			return nil, err
		}
		parts = append(parts, m)
	}
	return bson.M{"$or": parts}, nil
}

func (c *OrCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	return joinSQL(c.Conditions, " OR ", "1=0", sqlctx)
}

// NotCondition 取反
type NotCondition struct {
	Condition Condition
}

func Not(c Condition) *NotCondition { return &NotCondition{Condition: c} }

func (c *NotCondition) Type() Type { return TypeNot }

func (c *NotCondition) ToMongo() (bson.M, error) {
	inner, err := c.Condition.ToMongo()
	if err != nil {
		return nil, err
	}
	return bson.M{"$nor": []bson.M{inner}}, nil
}

func (c *NotCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	inner, args, err := c.Condition.ToSQL(sqlctx)
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + inner + ")", args, nil
}

func joinSQL(conditions []Condition, sep string, empty string, sqlctx *SQLContext) (string, []any, error) {
	if len(conditions) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(conditions))
	var args []any
	for _, sub := range conditions {
		s, subArgs, err := sub.ToSQL(sqlctx)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+s+")")
		args = append(args, subArgs...)
	}
	return strings.Join(parts, sep), args, nil
}
