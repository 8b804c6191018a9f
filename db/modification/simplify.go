package modification

// Simplify 剔除恒等子树：零增量、空追加/移除、空组合。
// 整棵树化简为空组合时 IsNothing 为真，调用方据此跳过网络往返。
// Simplify 幂等。
func Simplify(m Modification) Modification {
	switch t := m.(type) {
	case *CombineModification:
		kept := make([]Modification, 0, len(t.Modifications))
		for _, sub := range t.Modifications {
			s := Simplify(sub)
			if IsNothing(s) {
				continue
			}
			if nested, ok := s.(*CombineModification); ok {
				kept = append(kept, nested.Modifications...)
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 1 {
			return kept[0]
		}
		return Combine(kept...)
	case *IncrementModification:
		if t.Delta == 0 {
			return Nothing()
		}
		return t
	case *ListAppendModification:
		if len(t.Values) == 0 {
			return Nothing()
		}
		return t
	case *ListRemoveModification:
		if len(t.Values) == 0 {
			return Nothing()
		}
		return t
	default:
		return m
	}
}
