package db

import (
	"github.com/prometheus/client_golang/prometheus"
)

var poolUtilizationGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "db_pool_utilization_ratio",
	Help: "Connection pool utilization per backend and logical database.",
}, []string{"backend", "database"})

func init() {
	prometheus.MustRegister(poolUtilizationGauge)
}

// ReportPoolUtilization 上报连接池占用率，供健康检查时顺带刷新
func ReportPoolUtilization(backend string, database string, utilization float64) {
	poolUtilizationGauge.WithLabelValues(backend, database).Set(utilization)
}
