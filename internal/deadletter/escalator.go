// Package deadletter — эскалация терминально провалившихся задач.
//
// Dead-letter store терминален: автоматической переобработки нет,
// записи разбирает оператор. Рост dead-letter счётчика — основной
// алертинговый сигнал pipeline.
package deadletter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/metrics"
	"github.com/shaiso/Sutra/internal/mq"
)

// Store — персистентность dead letters.
type Store interface {
	Insert(ctx context.Context, env *domain.TaskEnvelope, receipts []domain.DeliveryReceipt) error
}

// ReceiptStore — история попыток, прикладываемая к записи.
type ReceiptStore interface {
	ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]domain.DeliveryReceipt, error)
}

// Notifier — публикация события эскалации в DLQ обменник.
type Notifier interface {
	PublishTaskDead(ctx context.Context, payload mq.TaskDeadPayload) error
}

// Escalator переносит исчерпавшие бюджет задачи в dead-letter store.
type Escalator struct {
	store    Store
	receipts ReceiptStore
	notifier Notifier
	logger   *slog.Logger
}

// NewEscalator создаёт Escalator.
func NewEscalator(store Store, receipts ReceiptStore, notifier Notifier, logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{
		store:    store,
		receipts: receipts,
		notifier: notifier,
		logger:   logger,
	}
}

// Escalate сохраняет envelope с полной историей receipts и публикует
// событие в DLQ. Ошибка публикации не откатывает запись: источник
// истины — store, событие лишь уведомление.
func (e *Escalator) Escalate(ctx context.Context, env *domain.TaskEnvelope) error {
	receipts, err := e.receipts.ListByTaskID(ctx, env.ID)
	if err != nil {
		// Запись без истории лучше, чем потерянная эскалация.
		e.logger.Warn("failed to load receipts for dead letter",
			"task_id", env.ID,
			"error", err,
		)
		receipts = nil
	}

	if err := e.store.Insert(ctx, env, receipts); err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}

	metrics.DeadLettersTotal.WithLabelValues(string(env.Type)).Inc()

	if e.notifier != nil {
		err := e.notifier.PublishTaskDead(ctx, mq.TaskDeadPayload{
			TaskID:     env.ID,
			TaskType:   env.Type,
			ErrorClass: env.ErrorClass,
			Error:      env.LastError,
		})
		if err != nil {
			e.logger.Warn("failed to publish dead letter event",
				"task_id", env.ID,
				"error", err,
			)
		}
	}

	e.logger.Error("task escalated to dead letter store",
		"task_id", env.ID,
		"task_type", env.Type,
		"error_class", env.ErrorClass,
		"last_error", env.LastError,
		"attempts", env.DeliveryAttempt,
	)

	return nil
}
