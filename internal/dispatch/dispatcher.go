// Package dispatch — валидация, классификация и постановка задач.
//
// Dispatcher — единственная точка входа задач в pipeline: оба ingress
// (direct HTTP и push receiver) сходятся в Submit. Невалидный payload
// отклоняется до создания envelope; дубликат по idempotency-ключу
// схлопывается в синтетический успех без повторной работы.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/metrics"
	"github.com/shaiso/Sutra/internal/repo"
)

// EnvelopeStore — персистентность envelopes, нужная Dispatcher'у.
type EnvelopeStore interface {
	Create(ctx context.Context, env *domain.TaskEnvelope) error
}

// IdempotencyStore — проверка "уже сделано?" перед постановкой.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
}

// Queuer — публикация задачи в очередь её пула.
type Queuer interface {
	PublishTaskDispatched(ctx context.Context, taskID uuid.UUID, taskType domain.TaskType) error
}

// Result — исход постановки задачи.
type Result struct {
	// TaskID — ID envelope (или исходной задачи при дедупликации).
	TaskID uuid.UUID `json:"task_id"`

	// Deduplicated — true, если задача схлопнута idempotency store:
	// работа уже выполнена, новый envelope не создавался.
	Deduplicated bool `json:"deduplicated"`
}

// Dispatcher — маршрутизатор задач.
type Dispatcher struct {
	envelopes   EnvelopeStore
	idempotency IdempotencyStore
	queue       Queuer
	logger      *slog.Logger
}

// Config — конфигурация Dispatcher.
type Config struct {
	Envelopes   EnvelopeStore
	Idempotency IdempotencyStore
	Queue       Queuer
	Logger      *slog.Logger
}

// New создаёт Dispatcher.
func New(cfg Config) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		envelopes:   cfg.Envelopes,
		idempotency: cfg.Idempotency,
		queue:       cfg.Queue,
		logger:      logger,
	}
}

// Submit валидирует payload и ставит задачу в pipeline.
//
// Ошибки валидации возвращаются синхронно и envelope не создают.
// Успешный возврат означает "принято к обработке", не "выполнено".
func (d *Dispatcher) Submit(ctx context.Context, taskType domain.TaskType, payload json.RawMessage) (*Result, error) {
	env, err := domain.NewEnvelope(taskType, payload)
	if err != nil {
		return nil, err
	}

	// Idempotency short-circuit: непросроченный успех по этому ключу
	// означает, что работа уже сделана.
	rec, err := d.idempotency.Lookup(ctx, env.IdempotencyKey)
	switch {
	case err == nil:
		if rec.Succeeded(env.CreatedAt) {
			d.logger.Debug("submission deduplicated",
				"task_type", taskType,
				"idempotency_key", env.IdempotencyKey,
				"original_task_id", rec.TaskID,
			)
			metrics.TasksDeduplicatedTotal.WithLabelValues(string(taskType)).Inc()
			return &Result{TaskID: rec.TaskID, Deduplicated: true}, nil
		}
	case errors.Is(err, repo.ErrNotFound):
		// Ключ свободен
	default:
		// Idempotency store недоступен — ставим задачу как есть:
		// выполнение идемпотентно, лишняя попытка безопасна.
		d.logger.Warn("idempotency lookup failed, dispatching anyway",
			"idempotency_key", env.IdempotencyKey,
			"error", err,
		)
	}

	if err := d.envelopes.Create(ctx, env); err != nil {
		return nil, fmt.Errorf("persist envelope: %w", err)
	}

	// Потеря dispatched-сообщения не фатальна: envelope лежит в БД как
	// PENDING, его подхватит polling fallback worker'а.
	if err := d.queue.PublishTaskDispatched(ctx, env.ID, env.Type); err != nil {
		d.logger.Warn("failed to publish dispatched task, poll fallback will recover",
			"task_id", env.ID,
			"task_type", env.Type,
			"error", err,
		)
	}

	d.logger.Info("task dispatched",
		"task_id", env.ID,
		"task_type", env.Type,
		"pool", env.Type.Pool(),
		"idempotency_key", env.IdempotencyKey,
	)

	return &Result{TaskID: env.ID}, nil
}
