package condition

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// FullTextSearchCondition 全文检索。RequireAll 要求命中全部词项。
// 文档后端编译为原生 $text（或由托管搜索索引接管，见 mongodb 包），
// 关系型后端对声明了 text 注解的字段做逐词 LIKE 匹配。
type FullTextSearchCondition struct {
	Text       string
	RequireAll bool
}

func FullTextSearch(text string, requireAll bool) *FullTextSearchCondition {
	return &FullTextSearchCondition{Text: text, RequireAll: requireAll}
}

func (c *FullTextSearchCondition) Type() Type { return TypeFullTextSearch }

func (c *FullTextSearchCondition) ToMongo() (bson.M, error) {
	search := c.Text
	if c.RequireAll {
		// $text 默认按词项 OR，整词加引号强制全部命中
		terms := strings.Fields(c.Text)
		for i, t := range terms {
			terms[i] = `"` + t + `"`
		}
		search = strings.Join(terms, " ")
	}
	return bson.M{"$text": bson.M{"$search": search}}, nil
}

func (c *FullTextSearchCondition) ToSQL(sqlctx *SQLContext) (string, []any, error) {
	fields := schema.TextFields(sqlctx.Cols.Class)
	if len(fields) == 0 {
		return "", nil, errors.Wrap(ErrInvalid, "no text-annotated fields in schema")
	}
	terms := strings.Fields(c.Text)
	if len(terms) == 0 {
		return "1=1", nil, nil
	}

	termParts := make([]string, 0, len(terms))
	var args []any
	for _, term := range terms {
		fieldParts := make([]string, 0, len(fields))
		for _, field := range fields {
			col, err := sqlctx.Cols.One(schema.NewPath(strings.Split(field, ".")...))
			if err != nil {
				return "", nil, errors.Wrap(ErrInvalid, err.Error())
			}
			fieldParts = append(fieldParts, fmt.Sprintf("LOWER(%s) LIKE ?", col.Name()))
			args = append(args, "%"+strings.ToLower(term)+"%")
		}
		termParts = append(termParts, "("+strings.Join(fieldParts, " OR ")+")")
	}

	sep := " OR "
	if c.RequireAll {
		sep = " AND "
	}
	return strings.Join(termParts, sep), args, nil
}
