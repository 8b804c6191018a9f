package sqldb

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/lightningkite/service-abstractions-sub003/db/schema"
)

// rowOf 把文档表示展开为物理行。列表/映射字段按 structure-of-arrays
// 投影成数组列并 JSON 编码落库，可空类字段写合成的 exists 布尔列。
func rowOf(cs *schema.ColumnSet, doc map[string]any) (map[string]any, error) {
	row := make(map[string]any, len(cs.Columns))
	for i := range cs.Columns {
		col := &cs.Columns[i]
		value, err := projectColumn(cs.Class, doc, col)
		if err != nil {
			return nil, err
		}
		encoded, err := encodeCell(col, value)
		if err != nil {
			return nil, err
		}
		row[col.Name()] = encoded
	}
	return row, nil
}

func projectColumn(class *schema.Class, doc map[string]any, col *schema.Column) (any, error) {
	keys := col.Keys
	if col.Exists {
		// 合成列投影其父路径再做存在性折叠
		value, err := project(class, doc, keys[:len(keys)-1])
		if err != nil {
			return nil, err
		}
		return existsValue(value), nil
	}
	return project(class, doc, keys)
}

// project 沿 schema 与文档同步下行。列表映射为逐元素投影，
// 映射的键列取排序后的键集，值列按相同顺序取值，保证两列对位。
func project(node schema.Node, value any, keys []string) (any, error) {
	switch n := node.(type) {
	case *schema.Nullable:
		if value == nil {
			return nil, nil
		}
		return project(n.Inner, value, keys)
	case *schema.Contextual:
		if n.Concrete == nil {
			return nil, errors.Wrapf(schema.ErrUnmappable, "contextual node %s has no concrete descriptor", n.Name)
		}
		return project(n.Concrete, value, keys)
	case *schema.Class:
		if len(keys) == 0 {
			return value, nil
		}
		doc, ok := value.(map[string]any)
		if value != nil && !ok {
			return nil, errors.Wrapf(schema.ErrUnmappable, "expected document for class %s", n.Name)
		}
		for i := range n.Fields {
			if n.Fields[i].Name == keys[0] {
				var inner any
				if doc != nil {
					inner = doc[keys[0]]
				}
				return project(n.Fields[i].Node, inner, keys[1:])
			}
		}
		return nil, errors.Wrapf(schema.ErrUnmappable, "class %s has no field %s", n.Name, keys[0])
	case *schema.List:
		if value == nil {
			return nil, nil
		}
		list, err := asList(value)
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(list))
		for _, el := range list {
			projected, err := project(n.Inner, el, keys)
			if err != nil {
				return nil, err
			}
			out = append(out, projected)
		}
		return out, nil
	case *schema.Map:
		if value == nil {
			return nil, nil
		}
		m, ok := value.(map[string]any)
		if !ok {
			return nil, errors.Wrap(schema.ErrUnmappable, "expected map value")
		}
		names := make([]string, 0, len(m))
		for k := range m {
			names = append(names, k)
		}
		sort.Strings(names)
		if len(keys) == 0 {
			out := make([]any, 0, len(names))
			for _, k := range names {
				out = append(out, k)
			}
			return out, nil
		}
		if keys[0] != "value" {
			return nil, errors.Wrapf(schema.ErrUnmappable, "unexpected key %s under map", keys[0])
		}
		out := make([]any, 0, len(names))
		for _, k := range names {
			projected, err := project(n.Value, m[k], keys[1:])
			if err != nil {
				return nil, err
			}
			out = append(out, projected)
		}
		return out, nil
	default:
		// 叶子节点，keys 应当已耗尽
		if len(keys) > 0 {
			return nil, errors.Wrapf(schema.ErrUnmappable, "dangling path %s", strings.Join(keys, "."))
		}
		return value, nil
	}
}

// existsValue 把投影值折叠为存在标记，数组维度逐层保留
func existsValue(value any) any {
	if list, ok := value.([]any); ok {
		out := make([]any, 0, len(list))
		for _, el := range list {
			out = append(out, existsValue(el))
		}
		return out
	}
	return value != nil
}

// encodeCell 叶子值的物理编码：数组列与 JSON 列存 JSON 文本
func encodeCell(col *schema.Column, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	if col.ArrayDepth > 0 || col.Type == schema.ColumnTypeJSON || col.Type == schema.ColumnTypeVector {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, errors.Wrap(err, "encode column "+col.Name())
		}
		return string(raw), nil
	}
	return value, nil
}

// decodedRow 单行的解码缓存，JSON 列在首次访问时解码一次
type decodedRow struct {
	cs     *schema.ColumnSet
	raw    map[string]any
	parsed map[string]any
}

func newDecodedRow(cs *schema.ColumnSet, raw map[string]any) *decodedRow {
	return &decodedRow{cs: cs, raw: raw, parsed: map[string]any{}}
}

func (r *decodedRow) cell(col *schema.Column) (any, error) {
	name := col.Name()
	if v, ok := r.parsed[name]; ok {
		return v, nil
	}
	value := r.raw[name]
	if value == nil {
		r.parsed[name] = nil
		return nil, nil
	}
	if col.ArrayDepth > 0 || col.Type == schema.ColumnTypeJSON || col.Type == schema.ColumnTypeVector {
		var text string
		switch t := value.(type) {
		case string:
			text = t
		case []byte:
			text = string(t)
		default:
			return nil, errors.Errorf("unexpected cell type %T for column %s", value, name)
		}
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return nil, errors.Wrap(err, "decode column "+name)
		}
		value = decoded
	} else {
		value = coerceCell(col, value)
	}
	r.parsed[name] = value
	return value, nil
}

// leaf 取叶子值并按数组下标逐层索引
func (r *decodedRow) leaf(col *schema.Column, indices []int) (any, error) {
	value, err := r.cell(col)
	if err != nil {
		return nil, err
	}
	for _, idx := range indices {
		if value == nil {
			return nil, nil
		}
		list, ok := value.([]any)
		if !ok {
			return nil, errors.Errorf("expected array level in column %s", col.Name())
		}
		if idx >= len(list) {
			return nil, nil
		}
		value = list[idx]
	}
	return value, nil
}

// coerceCell 驱动扫描值到文档表示的类型归一
func coerceCell(col *schema.Column, value any) any {
	switch col.Type {
	case schema.ColumnTypeBool:
		switch t := value.(type) {
		case bool:
			return t
		case int64:
			return t != 0
		}
	case schema.ColumnTypeString, schema.ColumnTypeUUID:
		if b, ok := value.([]byte); ok {
			return string(b)
		}
	case schema.ColumnTypeDouble:
		switch t := value.(type) {
		case float64:
			return t
		case int64:
			return float64(t)
		}
	case schema.ColumnTypeTime:
		if t, ok := value.(time.Time); ok {
			return t
		}
	}
	return value
}

// docOf 把物理行重组为文档表示，是 rowOf 的逆变换
func docOf(cs *schema.ColumnSet, raw map[string]any) (map[string]any, error) {
	row := newDecodedRow(cs, raw)
	doc := map[string]any{}
	for i := range cs.Class.Fields {
		field := &cs.Class.Fields[i]
		value, err := row.build(field.Node, []string{field.Name}, nil)
		if err != nil {
			return nil, err
		}
		doc[field.Name] = value
	}
	return doc, nil
}

func (r *decodedRow) build(node schema.Node, keys []string, indices []int) (any, error) {
	switch n := node.(type) {
	case *schema.Nullable:
		if _, isClass := schema.Unwrap(n.Inner).(*schema.Class); isClass {
			existsCol, err := r.column(append(append([]string{}, keys...), "exists"))
			if err != nil {
				return nil, err
			}
			present, err := r.leaf(existsCol, indices)
			if err != nil {
				return nil, err
			}
			if present != true {
				return nil, nil
			}
			return r.build(n.Inner, keys, indices)
		}
		return r.build(n.Inner, keys, indices)
	case *schema.Contextual:
		if n.Concrete == nil {
			return nil, errors.Wrapf(schema.ErrUnmappable, "contextual node %s has no concrete descriptor", n.Name)
		}
		return r.build(n.Concrete, keys, indices)
	case *schema.Class:
		doc := make(map[string]any, len(n.Fields))
		for i := range n.Fields {
			field := &n.Fields[i]
			value, err := r.build(field.Node, append(append([]string{}, keys...), field.Name), indices)
			if err != nil {
				return nil, err
			}
			doc[field.Name] = value
		}
		return doc, nil
	case *schema.List:
		length, present, err := r.arrayLength(keys, indices)
		if err != nil {
			return nil, err
		}
		if !present {
			return nil, nil
		}
		out := make([]any, 0, length)
		for i := 0; i < length; i++ {
			el, err := r.build(n.Inner, keys, append(append([]int{}, indices...), i))
			if err != nil {
				return nil, err
			}
			out = append(out, el)
		}
		return out, nil
	case *schema.Map:
		keyCol, err := r.column(keys)
		if err != nil {
			return nil, err
		}
		names, err := r.leaf(keyCol, indices)
		if err != nil {
			return nil, err
		}
		if names == nil {
			return nil, nil
		}
		nameList, ok := names.([]any)
		if !ok {
			return nil, errors.Errorf("expected key array in column %s", keyCol.Name())
		}
		out := make(map[string]any, len(nameList))
		for i, name := range nameList {
			key, ok := name.(string)
			if !ok {
				return nil, errors.Errorf("expected string key in column %s", keyCol.Name())
			}
			value, err := r.build(n.Value, append(append([]string{}, keys...), "value"), append(append([]int{}, indices...), i))
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	default:
		col, err := r.column(keys)
		if err != nil {
			return nil, err
		}
		return r.leaf(col, indices)
	}
}

// arrayLength 列表长度取自该前缀下第一个叶子列在当前下标处的数组长度
func (r *decodedRow) arrayLength(keys []string, indices []int) (int, bool, error) {
	prefix := strings.Join(keys, ".")
	for i := range r.cs.Columns {
		col := &r.cs.Columns[i]
		dotted := col.Dotted()
		if dotted != prefix && !strings.HasPrefix(dotted, prefix+".") {
			continue
		}
		value, err := r.leaf(col, indices)
		if err != nil {
			return 0, false, err
		}
		if value == nil {
			return 0, false, nil
		}
		list, ok := value.([]any)
		if !ok {
			return 0, false, errors.Errorf("expected array in column %s", col.Name())
		}
		return len(list), true, nil
	}
	return 0, false, errors.Errorf("no column under path %s", prefix)
}

func (r *decodedRow) column(keys []string) (*schema.Column, error) {
	return r.cs.One(schema.NewPath(keys...))
}

func asList(value any) ([]any, error) {
	if list, ok := value.([]any); ok {
		return list, nil
	}
	return nil, errors.Errorf("expected list, got %T", value)
}
