package modification

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// cloneDoc 深拷贝文档表示，Apply 不得修改调用方持有的快照
func cloneDoc(doc map[string]any) map[string]any {
	if doc == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneDoc(t)
	case bson.M:
		return cloneDoc(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func getAtPath(doc map[string]any, dotted string) (any, bool) {
	parts := strings.Split(dotted, ".")
	var cur any = doc
	for _, part := range parts {
		m, ok := asDoc(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setAtPath(doc map[string]any, dotted string, value any) error {
	parts := strings.Split(dotted, ".")
	cur := doc
	for _, part := range parts[:len(parts)-1] {
		next, ok := asDoc(cur[part])
		if !ok {
			if cur[part] != nil {
				return errors.Wrapf(ErrInvalid, "path %s crosses non-document value", dotted)
			}
			next = map[string]any{}
		}
		cur[part] = next
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

func asDoc(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case bson.M:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

func asList(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case primitive.A:
		return []any(t), nil
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice {
			out := make([]any, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				out[i] = rv.Index(i).Interface()
			}
			return out, nil
		}
		return nil, errors.Wrapf(ErrInvalid, "value %T is not a list", v)
	}
}

// addNumber 对文档表示中的数值做增量，保持原有的整型/浮点形态
func addNumber(cur any, delta float64) (any, error) {
	switch t := cur.(type) {
	case nil:
		return delta, nil
	case int:
		return t + int(delta), nil
	case int32:
		return t + int32(delta), nil
	case int64:
		return t + int64(delta), nil
	case float32:
		return float64(t) + delta, nil
	case float64:
		return t + delta, nil
	default:
		return nil, errors.Wrapf(ErrInvalid, "value %T is not numeric", cur)
	}
}

// looselyEqual 跨数值类型的相等判断，列表元素经过编解码后整型形态可能漂移
func looselyEqual(a any, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	return aok && bok && af == bf
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
