// Package metrics — prometheus-счётчики pipeline.
//
// Dead-letter счётчик — основной алертинговый сигнал: рост означает,
// что задачи исчерпывают retry-бюджет и требуют внимания оператора.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksSubmittedTotal — принятые на ingress задачи, по типу и источнику
	// (direct / push).
	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sutra_tasks_submitted_total",
			Help: "Tasks accepted at ingress by type and source.",
		},
		[]string{"task_type", "source"},
	)

	// TasksDeduplicatedTotal — задачи, схлопнутые idempotency store.
	TasksDeduplicatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sutra_tasks_deduplicated_total",
			Help: "Submissions short-circuited by the idempotency store.",
		},
		[]string{"task_type"},
	)

	// TasksRejectedTotal — отклонённые на ingress, по причине
	// (validation / auth).
	TasksRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sutra_tasks_rejected_total",
			Help: "Submissions rejected at ingress by reason.",
		},
		[]string{"reason"},
	)

	// AttemptsTotal — попытки выполнения, по типу и исходу.
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sutra_attempts_total",
			Help: "Execution attempts by task type and outcome.",
		},
		[]string{"task_type", "outcome"},
	)

	// RetriesTotal — запланированные повторы, по классу ошибки.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sutra_retries_total",
			Help: "Scheduled retries by error class.",
		},
		[]string{"error_class"},
	)

	// DeadLettersTotal — задачи, ушедшие в dead-letter store.
	DeadLettersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sutra_dead_letters_total",
			Help: "Tasks escalated to the dead-letter store by task type.",
		},
		[]string{"task_type"},
	)

	// LockContentionTotal — rebuild-задачи, отклонённые из-за живого lock.
	LockContentionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sutra_lock_contention_total",
			Help: "Rebuild tasks rejected because the tradition lock was held.",
		},
		[]string{"tradition"},
	)

	// HealthStatus — последний агрегированный статус (1 для активного).
	HealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sutra_health_status",
			Help: "Latest aggregated health status (1 for the active state).",
		},
		[]string{"status"},
	)
)

// SetHealthStatus выставляет gauge для текущего статуса и сбрасывает
// остальные.
func SetHealthStatus(status string) {
	for _, s := range []string{"ok", "degraded", "down"} {
		v := 0.0
		if s == status {
			v = 1.0
		}
		HealthStatus.WithLabelValues(s).Set(v)
	}
}
