package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/health"
	"github.com/shaiso/Sutra/internal/metrics"
)

// HealthSaver — персистентность последнего health-статуса.
type HealthSaver interface {
	Save(ctx context.Context, status *domain.HealthStatus) error
}

// HealthExecutor — задача health_check: прогоняет пробы зависимостей
// и сохраняет агрегированный статус. Деградация зависимостей — данные,
// не ошибка: задача успешна, если пробы прогнаны и статус записан.
type HealthExecutor struct {
	prober   *health.Prober
	statuses HealthSaver
	logger   *slog.Logger
}

// NewHealthExecutor создаёт executor задач health_check.
func NewHealthExecutor(prober *health.Prober, statuses HealthSaver, logger *slog.Logger) *HealthExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthExecutor{
		prober:   prober,
		statuses: statuses,
		logger:   logger,
	}
}

// Execute прогоняет пробы и сохраняет результат.
func (e *HealthExecutor) Execute(ctx context.Context, env *domain.TaskEnvelope) error {
	status := e.prober.Run(ctx)

	if err := e.statuses.Save(ctx, status); err != nil {
		return fmt.Errorf("%w: save health status: %v", domain.ErrTransient, err)
	}

	metrics.SetHealthStatus(status.Overall)

	if status.Overall != domain.HealthOK {
		e.logger.Warn("health probe found degraded dependencies",
			"overall", status.Overall,
			"components", status.Components,
		)
	}
	return nil
}
