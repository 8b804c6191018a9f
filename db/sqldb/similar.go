package sqldb

import (
	"context"
	"iter"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"github.com/lightningkite/service-abstractions-sub003/db"
	"github.com/lightningkite/service-abstractions-sub003/db/condition"
	"github.com/lightningkite/service-abstractions-sub003/db/schema"
	"github.com/lightningkite/service-abstractions-sub003/db/vector"
)

// FindSimilar 向量相似检索。方言没有原生向量算子，条件过滤下推到 SQL，
// 距离计算、排名、取限与最低分过滤在本地完成，可观测语义与原生排名一致：
// 先按距离升序排名取限，再应用 MinScore。
func (t *rawTable) FindSimilar(ctx context.Context, field schema.Path, params db.SimilarParams, cond condition.Condition) iter.Seq2[db.SimilarRawHit, error] {
	return func(yield func(db.SimilarRawHit, error) bool) {
		metric := vector.Metric(params.Metric)
		if params.Sparse && metric == vector.MetricManhattan {
			yield(db.SimilarRawHit{}, errors.Wrap(db.ErrUnsupported, "manhattan metric with sparse vectors"))
			return
		}
		col, err := t.cols.One(field)
		if err != nil {
			yield(db.SimilarRawHit{}, errors.Wrap(db.ErrSchemaMapping, err.Error()))
			return
		}
		if col.Type != schema.ColumnTypeVector {
			yield(db.SimilarRawHit{}, errors.Wrapf(db.ErrSchemaMapping, "field %s is not a vector", field.String()))
			return
		}
		where, args, err := t.compile(cond)
		if err != nil {
			yield(db.SimilarRawHit{}, err)
			return
		}

		var rows []map[string]any
		err = t.run(ctx, func(ctx context.Context, gdb *gorm.DB) error {
			rows = nil
			return gdb.WithContext(ctx).Table(t.name).Where(where, args...).Find(&rows).Error
		})
		if err != nil {
			yield(db.SimilarRawHit{}, err)
			return
		}

		type ranked struct {
			doc      map[string]any
			distance float64
		}
		hits := make([]ranked, 0, len(rows))
		fieldName := field.Dotted()
		for _, row := range rows {
			doc, err := docOf(t.cols, row)
			if err != nil {
				yield(db.SimilarRawHit{}, err)
				return
			}
			embedded, err := vectorAt(doc, fieldName)
			if err != nil {
				yield(db.SimilarRawHit{}, err)
				return
			}
			if embedded == nil {
				continue
			}
			distance, err := vector.Distance(metric, params.Vector, embedded)
			if err != nil {
				yield(db.SimilarRawHit{}, errors.Wrap(db.ErrUnsupported, err.Error()))
				return
			}
			hits = append(hits, ranked{doc: doc, distance: distance})
		}

		sort.SliceStable(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
		if params.Limit > 0 && len(hits) > params.Limit {
			hits = hits[:params.Limit]
		}
		for _, hit := range hits {
			score := vector.Score(metric, hit.distance)
			if params.MinScore != nil && score < *params.MinScore {
				continue
			}
			if !yield(db.SimilarRawHit{Doc: hit.doc, Score: score}, nil) {
				return
			}
		}
	}
}

// vectorAt 从文档取向量字段并归一为 []float32
func vectorAt(doc map[string]any, dotted string) ([]float32, error) {
	var value any = doc
	for _, key := range strings.Split(dotted, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, nil
		}
		value = m[key]
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []float32:
		return v, nil
	case []any:
		out := make([]float32, 0, len(v))
		for _, el := range v {
			switch n := el.(type) {
			case float64:
				out = append(out, float32(n))
			case float32:
				out = append(out, n)
			case int64:
				out = append(out, float32(n))
			default:
				return nil, errors.Errorf("unexpected vector element %T", el)
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("unexpected vector value %T", value)
	}
}
