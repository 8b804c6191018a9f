package vector

import (
	"math"

	"github.com/pkg/errors"
)

var ErrUnsupportedMetric = errors.New("unsupported distance metric")

// Metric 距离度量
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricDot       Metric = "dot"
	MetricManhattan Metric = "manhattan"
)

// Distance 计算两个向量的原始距离。结果按距离升序排名，越小越相似。
// Manhattan 不支持稀疏向量（含零维跳过表示的向量），由调用方约束。
func Distance(metric Metric, a []float32, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, errors.Wrapf(ErrUnsupportedMetric, "dimension mismatch: %d vs %d", len(a), len(b))
	}
	switch metric {
	case MetricCosine:
		var dot, normA, normB float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			normA += float64(a[i]) * float64(a[i])
			normB += float64(b[i]) * float64(b[i])
		}
		if normA == 0 || normB == 0 {
			return 1, nil
		}
		return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB)), nil
	case MetricEuclidean:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum), nil
	case MetricDot:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return -dot, nil
	case MetricManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(float64(a[i]) - float64(b[i]))
		}
		return sum, nil
	default:
		return 0, errors.Wrapf(ErrUnsupportedMetric, "metric %s", metric)
	}
}

// Score 把原始距离归一化为近似 [0,1] 的相似度分值。
// 原生排名算子只排序不设阈值，最低分过滤由调用方在排序取限后做。
func Score(metric Metric, distance float64) float64 {
	switch metric {
	case MetricCosine:
		// distance = 1 - cosine，相似度折回 [0,1]
		return (1 - distance + 1) / 2
	case MetricEuclidean, MetricManhattan:
		return 1 / (1 + distance)
	case MetricDot:
		return -distance
	default:
		return 0
	}
}
