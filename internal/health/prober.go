// Package health — пробы доступности внешних зависимостей.
//
// Prober вызывается handler'ом задачи health_check: проба проходит
// через тот же ingress→dispatch→worker путь, что и остальные задачи,
// и заодно валидирует сам pipeline.
package health

import (
	"context"
	"time"

	"github.com/shaiso/Sutra/internal/domain"
)

// probeTimeout — бюджет одной пробы.
const probeTimeout = 5 * time.Second

// Probe — одна проверяемая зависимость.
type Probe struct {
	// Name — имя компонента в отчёте (vector_store, document_store...).
	Name string

	// Check — лёгкая проверка доступности.
	Check func(ctx context.Context) error
}

// Prober прогоняет набор проб и агрегирует результат.
type Prober struct {
	probes []Probe
}

// NewProber создаёт Prober с указанными пробами.
func NewProber(probes ...Probe) *Prober {
	return &Prober{probes: probes}
}

// Run выполняет все пробы и возвращает агрегированный статус.
func (p *Prober) Run(ctx context.Context) *domain.HealthStatus {
	components := make(map[string]domain.ComponentStatus, len(p.probes))

	for _, probe := range p.probes {
		components[probe.Name] = p.run(ctx, probe)
	}

	return &domain.HealthStatus{
		Overall:    domain.Aggregate(components),
		Components: components,
		CheckedAt:  time.Now().UTC(),
	}
}

// run выполняет одну пробу с собственным таймаутом.
func (p *Prober) run(ctx context.Context, probe Probe) domain.ComponentStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := probe.Check(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return domain.ComponentStatus{
			Reachable: false,
			LatencyMS: latency,
			Error:     err.Error(),
		}
	}

	return domain.ComponentStatus{
		Reachable: true,
		LatencyMS: latency,
	}
}
