package db

import "fmt"

// HealthLevel 健康等级
type HealthLevel string

const (
	HealthOK      HealthLevel = "OK"
	HealthWarning HealthLevel = "WARNING"
	HealthUrgent  HealthLevel = "URGENT"
	HealthError   HealthLevel = "ERROR"
)

// HealthStatus 健康状态，Message 为人类可读描述
type HealthStatus struct {
	Level   HealthLevel
	Message string
}

// PoolHealth 按连接池占用率分级：
// <70% OK，70–95% WARNING，95–100% URGENT，≥100% ERROR（满载）
func PoolHealth(utilization float64) HealthStatus {
	message := fmt.Sprintf("pool utilization %.0f%%", utilization*100)
	switch {
	case utilization >= 1.0:
		return HealthStatus{Level: HealthError, Message: message + ", at capacity"}
	case utilization >= 0.95:
		return HealthStatus{Level: HealthUrgent, Message: message}
	case utilization >= 0.7:
		return HealthStatus{Level: HealthWarning, Message: message}
	default:
		return HealthStatus{Level: HealthOK, Message: message}
	}
}
