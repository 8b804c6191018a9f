package modification

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

var ErrInvalid = errors.New("invalid modification")

// Type 修改节点类型
type Type string

const (
	TypeAssign     Type = "assign"
	TypeSetField   Type = "setField"
	TypeIncrement  Type = "increment"
	TypeListAppend Type = "listAppend"
	TypeListRemove Type = "listRemove"
	TypeCombine    Type = "combine"
)

// Update 文档后端的更新描述。Replacement 非空表示整体替换，
// 否则由操作符文档组合而成。
type Update struct {
	Replacement map[string]any
	Set         bson.M
	Inc         bson.M
	Push        bson.M
	Pull        bson.M
}

// Document 组装 mongo 更新文档
func (u *Update) Document() bson.M {
	doc := bson.M{}
	if len(u.Set) > 0 {
		doc["$set"] = u.Set
	}
	if len(u.Inc) > 0 {
		doc["$inc"] = u.Inc
	}
	if len(u.Push) > 0 {
		doc["$push"] = u.Push
	}
	if len(u.Pull) > 0 {
		doc["$pull"] = u.Pull
	}
	return doc
}

func (u *Update) merge(other *Update) error {
	if other.Replacement != nil {
		if u.Replacement != nil || len(u.Set) > 0 || len(u.Inc) > 0 || len(u.Push) > 0 || len(u.Pull) > 0 {
			return errors.Wrap(ErrInvalid, "replacement cannot be combined with other modifications")
		}
		u.Replacement = other.Replacement
		return nil
	}
	for k, v := range other.Set {
		u.Set[k] = v
	}
	// 同路径增量求和，保证 Document 与 Apply 推导的 after 一致
	for k, v := range other.Inc {
		if cur, ok := u.Inc[k]; ok {
			sum, err := addNumber(cur, deltaOf(v))
			if err != nil {
				return errors.Wrap(ErrInvalid, err.Error())
			}
			u.Inc[k] = sum
			continue
		}
		u.Inc[k] = v
	}
	for k, v := range other.Push {
		if cur, ok := u.Push[k]; ok {
			merged, err := mergeEachList(cur, v, "$each")
			if err != nil {
				return err
			}
			u.Push[k] = merged
			continue
		}
		u.Push[k] = v
	}
	for k, v := range other.Pull {
		if cur, ok := u.Pull[k]; ok {
			merged, err := mergeEachList(cur, v, "$in")
			if err != nil {
				return err
			}
			u.Pull[k] = merged
			continue
		}
		u.Pull[k] = v
	}
	return nil
}

func deltaOf(v any) float64 {
	f, _ := toFloat(v)
	return f
}

// mergeEachList 合并同路径 $push/$pull 的元素列表（$each/$in 形态）
func mergeEachList(cur any, next any, key string) (bson.M, error) {
	curDoc, ok1 := cur.(bson.M)
	nextDoc, ok2 := next.(bson.M)
	if !ok1 || !ok2 {
		return nil, errors.Wrapf(ErrInvalid, "cannot merge %s operands", key)
	}
	curList, err := asList(curDoc[key])
	if err != nil {
		return nil, errors.Wrap(ErrInvalid, err.Error())
	}
	nextList, err := asList(nextDoc[key])
	if err != nil {
		return nil, errors.Wrap(ErrInvalid, err.Error())
	}
	return bson.M{key: append(append([]any{}, curList...), nextList...)}, nil
}

func newUpdate() *Update {
	return &Update{Set: bson.M{}, Inc: bson.M{}, Push: bson.M{}, Pull: bson.M{}}
}

// Modification 修改树节点接口。关系型后端不把修改编译为 SQL SET 子句，
// 而是读出命中行后用 Apply 在本地重放再整行写回（见 sqldb 包），
// 文档后端则用 ToMongo 编译、用 Apply 从 before 快照推导 after 快照。
type Modification interface {
	Type() Type
	// ToMongo 编译为文档后端更新描述
	ToMongo() (*Update, error)
	// Apply 把修改施加到文档表示上，返回新文档
	Apply(doc map[string]any) (map[string]any, error)
	// Touched 修改涉及的点分路径，供 upsert 的 $setOnInsert 去重
	Touched() []string
}

// IsNothing 判断修改是否不改变任何可观测状态。
// 调用方应先 Simplify，对 nothing 直接短路，完全不触网。
func IsNothing(m Modification) bool {
	if c, ok := m.(*CombineModification); ok {
		return len(c.Modifications) == 0
	}
	return false
}

// Nothing 空修改
func Nothing() *CombineModification {
	return &CombineModification{}
}

// OperatorOnly 判断修改树是否纯操作符（不含整体替换）。
// 纯操作符修改可以走原生 upsert，整体替换必须走两段式兜底。
func OperatorOnly(m Modification) bool {
	switch t := m.(type) {
	case *AssignModification:
		return false
	case *CombineModification:
		for _, sub := range t.Modifications {
			if !OperatorOnly(sub) {
				return false
			}
		}
		return true
	default:
		return true
	}
}
