package schema

import (
	"strings"

	"github.com/pkg/errors"
)

// ColumnType 物理列类型
type ColumnType string

const (
	ColumnTypeBool   ColumnType = "bool"
	ColumnTypeInt    ColumnType = "int"
	ColumnTypeLong   ColumnType = "long"
	ColumnTypeDouble ColumnType = "double"
	ColumnTypeString ColumnType = "string"
	ColumnTypeTime   ColumnType = "time"
	ColumnTypeUUID   ColumnType = "uuid"
	ColumnTypeBytes  ColumnType = "bytes"
	ColumnTypeVector ColumnType = "vector"
	ColumnTypeJSON   ColumnType = "json"
)

// Column 关系型后端的物理列。列表/映射字段按 structure-of-arrays
// 映射为数组列（ArrayDepth > 0），不展开为子表。
type Column struct {
	// Keys 点分键的各段
	Keys []string
	// Type 叶子类型
	Type ColumnType
	// SchemaPath 在模型 schema 中的字段下标路径
	SchemaPath []int
	// Nullable 是否可空（由任意一层 Nullable 包装传染而来）
	Nullable bool
	// ArrayDepth 数组嵌套深度，0 表示标量列
	ArrayDepth int
	// Exists 是否为可空类字段的合成存在标记列
	Exists bool
}

// Name 物理列名
func (c *Column) Name() string {
	return strings.Join(c.Keys, "__")
}

// Dotted 点分键
func (c *Column) Dotted() string {
	return strings.Join(c.Keys, ".")
}

// Flatten 把模型 schema 结构化递归展开为有序物理列列表。
// 不可映射的节点（未携带具体描述的 Contextual）在这里报错，
// 即建表阶段失败，而不会拖到查询阶段。
func Flatten(class *Class) ([]Column, error) {
	var cols []Column
	for i, field := range class.Fields {
		fieldCols, err := flattenNode(field.Node, []string{field.Name}, []int{i}, false, 0)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s of class %s", field.Name, class.Name)
		}
		cols = append(cols, fieldCols...)
	}
	return cols, nil
}

func flattenNode(node Node, keys []string, path []int, nullable bool, arrayDepth int) ([]Column, error) {
	switch t := node.(type) {
	case *Primitive:
		return []Column{{
			Keys:       keys,
			Type:       primitiveColumnType(t.Kind),
			SchemaPath: path,
			Nullable:   nullable,
			ArrayDepth: arrayDepth,
		}}, nil
	case *Enum:
		return []Column{{
			Keys:       keys,
			Type:       ColumnTypeString,
			SchemaPath: path,
			Nullable:   nullable,
			ArrayDepth: arrayDepth,
		}}, nil
	case *Object:
		return []Column{{
			Keys:       keys,
			Type:       ColumnTypeJSON,
			SchemaPath: path,
			Nullable:   nullable,
			ArrayDepth: arrayDepth,
		}}, nil
	case *Nullable:
		inner, err := flattenNode(t.Inner, keys, path, true, arrayDepth)
		if err != nil {
			return nil, err
		}
		// 可空类字段额外加一个合成的 exists 布尔列，叶子列各自独立可空
		if _, isClass := Unwrap(t.Inner).(*Class); isClass {
			exists := Column{
				Keys:       appendKey(keys, "exists"),
				Type:       ColumnTypeBool,
				SchemaPath: path,
				Nullable:   false,
				ArrayDepth: arrayDepth,
				Exists:     true,
			}
			return append([]Column{exists}, inner...), nil
		}
		return inner, nil
	case *List:
		return flattenNode(t.Inner, keys, path, nullable, arrayDepth+1)
	case *Map:
		keyCols, err := flattenNode(t.Key, keys, path, nullable, arrayDepth+1)
		if err != nil {
			return nil, err
		}
		// 映射的值列在点分键上追加 value 后缀
		valueCols, err := flattenNode(t.Value, appendKey(keys, "value"), path, nullable, arrayDepth+1)
		if err != nil {
			return nil, err
		}
		return append(keyCols, valueCols...), nil
	case *Class:
		var cols []Column
		for i, field := range t.Fields {
			fieldCols, err := flattenNode(field.Node, appendKey(keys, field.Name), appendPath(path, i), nullable, arrayDepth)
			if err != nil {
				return nil, err
			}
			cols = append(cols, fieldCols...)
		}
		return cols, nil
	case *Contextual:
		if t.Concrete == nil {
			return nil, errors.Wrapf(ErrUnmappable, "contextual node %s has no concrete descriptor", t.Name)
		}
		return flattenNode(t.Concrete, keys, path, nullable, arrayDepth)
	default:
		return nil, errors.Wrapf(ErrUnmappable, "unknown node type %T", node)
	}
}

func primitiveColumnType(kind PrimitiveKind) ColumnType {
	switch kind {
	case KindBool:
		return ColumnTypeBool
	case KindInt:
		return ColumnTypeInt
	case KindLong:
		return ColumnTypeLong
	case KindDouble:
		return ColumnTypeDouble
	case KindTime:
		return ColumnTypeTime
	case KindUUID:
		return ColumnTypeUUID
	case KindBytes:
		return ColumnTypeBytes
	case KindVector:
		return ColumnTypeVector
	default:
		return ColumnTypeString
	}
}

func appendKey(keys []string, key string) []string {
	out := make([]string, len(keys), len(keys)+1)
	copy(out, keys)
	return append(out, key)
}

func appendPath(path []int, i int) []int {
	out := make([]int, len(path), len(path)+1)
	copy(out, path)
	return append(out, i)
}

// ColumnSet 按路径检索物理列的索引，建表时构建一次
type ColumnSet struct {
	Class   *Class
	Columns []Column
	byKey   map[string][]*Column
}

// NewColumnSet 展开模型并建立 path→columns 索引
func NewColumnSet(class *Class) (*ColumnSet, error) {
	cols, err := Flatten(class)
	if err != nil {
		return nil, err
	}
	cs := &ColumnSet{Class: class, Columns: cols, byKey: make(map[string][]*Column)}
	for i := range cs.Columns {
		col := &cs.Columns[i]
		cs.byKey[col.Dotted()] = append(cs.byKey[col.Dotted()], col)
	}
	return cs, nil
}

// For 返回路径对应的全部物理列（类值路径会命中多个叶子列）
func (cs *ColumnSet) For(p Path) []*Column {
	prefix := p.Dotted()
	if cols, ok := cs.byKey[prefix]; ok {
		return cols
	}
	var out []*Column
	for i := range cs.Columns {
		if strings.HasPrefix(cs.Columns[i].Dotted(), prefix+".") {
			out = append(out, &cs.Columns[i])
		}
	}
	return out
}

// One 返回路径对应的唯一叶子列
func (cs *ColumnSet) One(p Path) (*Column, error) {
	cols := cs.For(p)
	if len(cols) == 0 {
		return nil, errors.Wrapf(ErrUnmappable, "no column for path %s", p.String())
	}
	if len(cols) > 1 {
		return nil, errors.Wrapf(ErrUnmappable, "path %s maps to %d columns, expected one", p.String(), len(cols))
	}
	return cols[0], nil
}
