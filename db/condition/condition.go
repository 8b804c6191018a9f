package condition

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

var ErrInvalid = errors.New("invalid condition")

// Type 条件节点类型
type Type string

const (
	TypeAlways         Type = "always"
	TypeNever          Type = "never"
	TypeAnd            Type = "and"
	TypeOr             Type = "or"
	TypeNot            Type = "not"
	TypeEquals         Type = "equals"
	TypeCompare        Type = "compare"
	TypeIn             Type = "in"
	TypeListAny        Type = "listAny"
	TypeMapAny         Type = "mapAny"
	TypeFullTextSearch Type = "fullTextSearch"
)

// SQLContext 关系型编译上下文：物理列索引 + 方言
type SQLContext struct {
	Cols    *schema.ColumnSet
	Dialect string // mysql / sqlite
}

// Condition 条件树节点接口。每个节点自己实现到两个后端的编译，
// 后端在编译前必须先 Simplify，并对 Never 短路，完全不触网。
type Condition interface {
	Type() Type
	// ToMongo 编译为文档后端 match 过滤器
	ToMongo() (bson.M, error)
	// ToSQL 编译为布尔 SQL 表达式与参数
	ToSQL(sqlctx *SQLContext) (string, []any, error)
}

// leafMongo 叶子谓词的 mongo 编译：路径为空表示谓词作用于集合元素本身
func leafMongo(dotted string, operator bson.M) bson.M {
	if dotted == "" {
		return operator
	}
	return bson.M{dotted: operator}
}
