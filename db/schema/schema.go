package schema

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var ErrUnmappable = errors.New("unmappable schema node")

// NodeType 模型节点类型
type NodeType string

const (
	NodeTypePrimitive  NodeType = "primitive"
	NodeTypeNullable   NodeType = "nullable"
	NodeTypeList       NodeType = "list"
	NodeTypeMap        NodeType = "map"
	NodeTypeClass      NodeType = "class"
	NodeTypeEnum       NodeType = "enum"
	NodeTypeObject     NodeType = "object"
	NodeTypeContextual NodeType = "contextual"
)

// PrimitiveKind 原始类型
type PrimitiveKind string

const (
	KindBool   PrimitiveKind = "bool"
	KindInt    PrimitiveKind = "int"
	KindLong   PrimitiveKind = "long"
	KindDouble PrimitiveKind = "double"
	KindString PrimitiveKind = "string"
	KindTime   PrimitiveKind = "time"
	KindUUID   PrimitiveKind = "uuid"
	KindBytes  PrimitiveKind = "bytes"
	KindVector PrimitiveKind = "vector"
)

// Node 模型结构的递归描述。每个具体值恰好符合一种节点类型，
// 可空性由 Nullable 包装表达，不在原始类型上打标记。
type Node interface {
	Type() NodeType
}

// Primitive 原始类型节点
type Primitive struct {
	Kind PrimitiveKind
}

func (n *Primitive) Type() NodeType { return NodeTypePrimitive }

// Nullable 可空包装节点
type Nullable struct {
	Inner Node
}

func (n *Nullable) Type() NodeType { return NodeTypeNullable }

// List 列表节点
type List struct {
	Inner Node
}

func (n *List) Type() NodeType { return NodeTypeList }

// Map 映射节点
type Map struct {
	Key   Node
	Value Node
}

func (n *Map) Type() NodeType { return NodeTypeMap }

// Field 类字段：名称、子模型、注解
// 支持的注解：primary, unique, index, index:<name>, text, geo, vector:<dim>
type Field struct {
	Name        string
	Node        Node
	Annotations []string
}

// Class 类节点，字段有序
type Class struct {
	Name   string
	Fields []Field
}

func (n *Class) Type() NodeType { return NodeTypeClass }

// Field 按名称查找字段，返回字段下标
func (n *Class) Field(name string) (int, *Field) {
	for i := range n.Fields {
		if n.Fields[i].Name == name {
			return i, &n.Fields[i]
		}
	}
	return -1, nil
}

// Enum 枚举节点，物理上按字符串存储
type Enum struct {
	Name   string
	Values []string
}

func (n *Enum) Type() NodeType { return NodeTypeEnum }

// Object 不透明对象节点，整体按文档/JSON 存储
type Object struct {
	Name string
}

func (n *Object) Type() NodeType { return NodeTypeObject }

// Contextual 上下文/多态节点，映射时必须携带可解析的具体描述，
// 否则在建表阶段即报错，而不是查询阶段
type Contextual struct {
	Name     string
	Concrete Node
}

func (n *Contextual) Type() NodeType { return NodeTypeContextual }

// Unwrap 去掉 Nullable/Contextual 包装，返回底层节点
func Unwrap(n Node) Node {
	for {
		switch t := n.(type) {
		case *Nullable:
			n = t.Inner
		case *Contextual:
			if t.Concrete == nil {
				return t
			}
			n = t.Concrete
		default:
			return n
		}
	}
}

// IsNullable 判断节点是否被 Nullable 包装
func IsNullable(n Node) bool {
	_, ok := n.(*Nullable)
	return ok
}

// annotation 解析 "index:name" 形式的注解
func annotationValue(a string, key string) (string, bool) {
	if a == key {
		return "", true
	}
	if strings.HasPrefix(a, key+":") {
		return a[len(key)+1:], true
	}
	return "", false
}

// VectorDim 从 vector:<dim> 注解中取维度，未标注返回 0
func (f *Field) VectorDim() int {
	for _, a := range f.Annotations {
		if v, ok := annotationValue(a, "vector"); ok && v != "" {
			if dim, err := strconv.Atoi(v); err == nil {
				return dim
			}
		}
	}
	return 0
}

// HasAnnotation 判断字段是否带指定注解（忽略带参形式的参数）
func (f *Field) HasAnnotation(key string) bool {
	for _, a := range f.Annotations {
		if _, ok := annotationValue(a, key); ok {
			return true
		}
	}
	return false
}
