package condition

// Simplify 自底向上折叠常量子树：
//   - And 含 Never 整体坍缩为 Never，Always 子项被剔除
//   - Or 含 Always 整体坍缩为 Always，Never 子项被剔除
//   - 单子组合器解包，双重否定消去
//
// Simplify 幂等。后端编译器必须先 Simplify 并对 Never 返回空结果，不触网。
func Simplify(c Condition) Condition {
	switch t := c.(type) {
	case *AndCondition:
		kept := make([]Condition, 0, len(t.Conditions))
		for _, sub := range t.Conditions {
			s := Simplify(sub)
			switch s.Type() {
			case TypeNever:
				return Never()
			case TypeAlways:
				continue
			}
			kept = append(kept, s)
		}
		switch len(kept) {
		case 0:
			return Always()
		case 1:
			return kept[0]
		}
		return And(kept...)
	case *OrCondition:
		kept := make([]Condition, 0, len(t.Conditions))
		for _, sub := range t.Conditions {
			s := Simplify(sub)
			switch s.Type() {
			case TypeAlways:
				return Always()
			case TypeNever:
				continue
			}
			kept = append(kept, s)
		}
		switch len(kept) {
		case 0:
			return Never()
		case 1:
			return kept[0]
		}
		return Or(kept...)
	case *NotCondition:
		inner := Simplify(t.Condition)
		switch s := inner.(type) {
		case *AlwaysCondition:
			return Never()
		case *NeverCondition:
			return Always()
		case *NotCondition:
			return Simplify(s.Condition)
		}
		return Not(inner)
	case *ListAnyCondition:
		inner := Simplify(t.Condition)
		if inner.Type() == TypeNever {
			return Never()
		}
		return ListAny(t.Path, inner)
	case *MapAnyCondition:
		inner := Simplify(t.Condition)
		if inner.Type() == TypeNever {
			return Never()
		}
		return MapAny(t.Path, inner)
	case *InCondition:
		if len(t.Values) == 0 {
			return Never()
		}
		return t
	default:
		return c
	}
}
