package domain

import "time"

// Общий статус системы по результатам health-пробы.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
)

// ComponentStatus — результат пробы одной внешней зависимости.
type ComponentStatus struct {
	Reachable bool   `json:"reachable"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthStatus — агрегированный результат health_check задачи.
type HealthStatus struct {
	Overall    string                     `json:"overall"`
	Components map[string]ComponentStatus `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// Aggregate вычисляет общий статус по компонентам:
// все доступны — ok, ни одного — down, иначе degraded.
func Aggregate(components map[string]ComponentStatus) string {
	if len(components) == 0 {
		return HealthDown
	}

	reachable := 0
	for _, c := range components {
		if c.Reachable {
			reachable++
		}
	}

	switch reachable {
	case len(components):
		return HealthOK
	case 0:
		return HealthDown
	default:
		return HealthDegraded
	}
}
