package modification

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// AssignModification 整体替换模型值
type AssignModification struct {
	Value map[string]any
}

func Assign(value map[string]any) *AssignModification {
	return &AssignModification{Value: value}
}

func (m *AssignModification) Type() Type { return TypeAssign }

func (m *AssignModification) ToMongo() (*Update, error) {
	return &Update{Replacement: m.Value}, nil
}

func (m *AssignModification) Apply(doc map[string]any) (map[string]any, error) {
	return cloneDoc(m.Value), nil
}

func (m *AssignModification) Touched() []string { return []string{""} }

// SetFieldModification 设置指定路径的值
type SetFieldModification struct {
	Path  schema.Path
	Value any
}

func SetField(path schema.Path, value any) *SetFieldModification {
	return &SetFieldModification{Path: path, Value: value}
}

func (m *SetFieldModification) Type() Type { return TypeSetField }

func (m *SetFieldModification) ToMongo() (*Update, error) {
	u := newUpdate()
	u.Set[m.Path.Dotted()] = m.Value
	return u, nil
}

func (m *SetFieldModification) Apply(doc map[string]any) (map[string]any, error) {
	out := cloneDoc(doc)
	if err := setAtPath(out, m.Path.Dotted(), m.Value); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *SetFieldModification) Touched() []string { return []string{m.Path.Dotted()} }

// IncrementModification 数值增量
type IncrementModification struct {
	Path  schema.Path
	Delta float64
}

func Increment(path schema.Path, delta float64) *IncrementModification {
	return &IncrementModification{Path: path, Delta: delta}
}

func (m *IncrementModification) Type() Type { return TypeIncrement }

func (m *IncrementModification) ToMongo() (*Update, error) {
	u := newUpdate()
	u.Inc[m.Path.Dotted()] = m.Delta
	return u, nil
}

func (m *IncrementModification) Apply(doc map[string]any) (map[string]any, error) {
	out := cloneDoc(doc)
	cur, _ := getAtPath(out, m.Path.Dotted())
	next, err := addNumber(cur, m.Delta)
	if err != nil {
		return nil, errors.Wrapf(err, "increment %s", m.Path.Dotted())
	}
	if err := setAtPath(out, m.Path.Dotted(), next); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *IncrementModification) Touched() []string { return []string{m.Path.Dotted()} }

// ListAppendModification 向列表尾部追加元素
type ListAppendModification struct {
	Path   schema.Path
	Values []any
}

func ListAppend(path schema.Path, values ...any) *ListAppendModification {
	return &ListAppendModification{Path: path, Values: values}
}

func (m *ListAppendModification) Type() Type { return TypeListAppend }

func (m *ListAppendModification) ToMongo() (*Update, error) {
	u := newUpdate()
	u.Push[m.Path.Dotted()] = bson.M{"$each": m.Values}
	return u, nil
}

func (m *ListAppendModification) Apply(doc map[string]any) (map[string]any, error) {
	out := cloneDoc(doc)
	cur, _ := getAtPath(out, m.Path.Dotted())
	list, err := asList(cur)
	if err != nil {
		return nil, errors.Wrapf(err, "listAppend %s", m.Path.Dotted())
	}
	list = append(list, m.Values...)
	if err := setAtPath(out, m.Path.Dotted(), list); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *ListAppendModification) Touched() []string { return []string{m.Path.Dotted()} }

// ListRemoveModification 从列表移除等于给定值的元素
type ListRemoveModification struct {
	Path   schema.Path
	Values []any
}

func ListRemove(path schema.Path, values ...any) *ListRemoveModification {
	return &ListRemoveModification{Path: path, Values: values}
}

func (m *ListRemoveModification) Type() Type { return TypeListRemove }

func (m *ListRemoveModification) ToMongo() (*Update, error) {
	u := newUpdate()
	u.Pull[m.Path.Dotted()] = bson.M{"$in": m.Values}
	return u, nil
}

func (m *ListRemoveModification) Apply(doc map[string]any) (map[string]any, error) {
	out := cloneDoc(doc)
	cur, _ := getAtPath(out, m.Path.Dotted())
	list, err := asList(cur)
	if err != nil {
		return nil, errors.Wrapf(err, "listRemove %s", m.Path.Dotted())
	}
	kept := make([]any, 0, len(list))
	for _, item := range list {
		removed := false
		for _, v := range m.Values {
			if looselyEqual(item, v) {
				removed = true
				break
			}
		}
		if !removed {
			kept = append(kept, item)
		}
	}
	if err := setAtPath(out, m.Path.Dotted(), kept); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *ListRemoveModification) Touched() []string { return []string{m.Path.Dotted()} }

// CombineModification 有序组合
type CombineModification struct {
	Modifications []Modification
}

func Combine(modifications ...Modification) *CombineModification {
	return &CombineModification{Modifications: modifications}
}

func (m *CombineModification) Type() Type { return TypeCombine }

func (m *CombineModification) ToMongo() (*Update, error) {
	u := newUpdate()
	for _, sub := range m.Modifications {
		subUpdate, err := sub.ToMongo()
		if err != nil {
			return nil, err
		}
		if err := u.merge(subUpdate); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (m *CombineModification) Apply(doc map[string]any) (map[string]any, error) {
	out := doc
	var err error
	for _, sub := range m.Modifications {
		out, err = sub.Apply(out)
		if err != nil {
			return nil, err
		}
	}
	return cloneDoc(out), nil
}

func (m *CombineModification) Touched() []string {
	var out []string
	for _, sub := range m.Modifications {
		out = append(out, sub.Touched()...)
	}
	return out
}
