package schema

// IndexSpec 由 schema 注解推导出的索引声明，两个后端共用同一份声明，
// 各自按自己的方式落地
type IndexSpec struct {
	Name   string
	Keys   []string
	Unique bool
	Text   bool
	Geo    bool
}

// Indexes 提取模型声明的全部索引。
// 同名 index:<name> 注解的字段合并为一个复合索引，字段顺序即声明顺序。
func Indexes(class *Class) []IndexSpec {
	var specs []IndexSpec
	compound := map[string]int{}

	walkFields(class, nil, func(dotted string, field *Field) {
		for _, a := range field.Annotations {
			switch {
			case a == "unique":
				specs = append(specs, IndexSpec{Name: dotted + "_unique", Keys: []string{dotted}, Unique: true})
			case a == "index":
				specs = append(specs, IndexSpec{Name: dotted + "_idx", Keys: []string{dotted}})
			case a == "geo":
				specs = append(specs, IndexSpec{Name: dotted + "_geo", Keys: []string{dotted}, Geo: true})
			default:
				if name, ok := annotationValue(a, "index"); ok && name != "" {
					if i, exists := compound[name]; exists {
						specs[i].Keys = append(specs[i].Keys, dotted)
					} else {
						compound[name] = len(specs)
						specs = append(specs, IndexSpec{Name: name, Keys: []string{dotted}})
					}
				}
			}
		}
	})

	if text := TextFields(class); len(text) > 0 {
		specs = append(specs, IndexSpec{Name: class.Name + "_text", Keys: text, Text: true})
	}
	return specs
}

// TextFields 声明了全文检索的字段集合
func TextFields(class *Class) []string {
	var fields []string
	walkFields(class, nil, func(dotted string, field *Field) {
		if field.HasAnnotation("text") {
			fields = append(fields, dotted)
		}
	})
	return fields
}

// GeoFields 声明了地理索引的字段集合
func GeoFields(class *Class) []string {
	var fields []string
	walkFields(class, nil, func(dotted string, field *Field) {
		if field.HasAnnotation("geo") {
			fields = append(fields, dotted)
		}
	})
	return fields
}

// VectorFields 声明了向量检索的字段及维度
func VectorFields(class *Class) map[string]int {
	fields := map[string]int{}
	walkFields(class, nil, func(dotted string, field *Field) {
		if dim := field.VectorDim(); dim > 0 {
			fields[dotted] = dim
		}
	})
	return fields
}

// PrimaryKey 主键字段名，未标注时默认第一个字段
func PrimaryKey(class *Class) string {
	for _, field := range class.Fields {
		if field.HasAnnotation("primary") {
			return field.Name
		}
	}
	if len(class.Fields) > 0 {
		return class.Fields[0].Name
	}
	return ""
}

func walkFields(class *Class, prefix []string, fn func(dotted string, field *Field)) {
	for i := range class.Fields {
		field := &class.Fields[i]
		keys := appendKey(prefix, field.Name)
		fn(joinKeys(keys), field)
		if inner, ok := Unwrap(field.Node).(*Class); ok {
			walkFields(inner, keys, fn)
		}
	}
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "."
		}
		out += k
	}
	return out
}
