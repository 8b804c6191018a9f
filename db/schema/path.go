package schema

import (
	"strings"

	"github.com/pkg/errors"
)

// Step 字段路径中的一步：字段名，或进入集合元素（Descent）
type Step struct {
	Name    string
	Descent bool
}

// Path 字段路径：有序的步骤列表，同一套路径同时用于寻址
// 文档子字段和关系型列。对 schema 解析后总是得到唯一的终端节点。
type Path []Step

// NewPath 以字段名序列构造路径
func NewPath(names ...string) Path {
	p := make(Path, 0, len(names))
	for _, name := range names {
		p = append(p, Step{Name: name})
	}
	return p
}

// Sub 追加一个字段名步骤
func (p Path) Sub(name string) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Step{Name: name})
}

// Any 追加一个集合下探步骤
func (p Path) Any() Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, Step{Descent: true})
}

// Dotted 点分名称，集合下探步骤不占名称段。
// 这正是文档后端的字段寻址方式（mongo 的数组字段按元素自动匹配）。
func (p Path) Dotted() string {
	names := make([]string, 0, len(p))
	for _, s := range p {
		if !s.Descent {
			names = append(names, s.Name)
		}
	}
	return strings.Join(names, ".")
}

func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if s.Descent {
			b.WriteString("[]")
			continue
		}
		if i > 0 {
			b.WriteString(".")
		}
		b.WriteString(s.Name)
	}
	return b.String()
}

// Resolve 把路径解析到终端节点。路径经过 Nullable 包装时透传，
// Descent 步骤要求当前节点是 List 或 Map。
func (p Path) Resolve(class *Class) (Node, error) {
	var cur Node = class
	for _, s := range p {
		cur = Unwrap(cur)
		if s.Descent {
			switch t := cur.(type) {
			case *List:
				cur = t.Inner
			case *Map:
				cur = t.Value
			default:
				return nil, errors.Wrapf(ErrUnmappable, "descent into non-collection node at %s", p.String())
			}
			continue
		}
		cls, ok := cur.(*Class)
		if !ok {
			return nil, errors.Wrapf(ErrUnmappable, "field %s addressed on non-class node in %s", s.Name, p.String())
		}
		_, field := cls.Field(s.Name)
		if field == nil {
			return nil, errors.Wrapf(ErrUnmappable, "field %s not found in class %s", s.Name, cls.Name)
		}
		cur = field.Node
	}
	return cur, nil
}
