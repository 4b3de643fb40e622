package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/metrics"
	"github.com/shaiso/Sutra/internal/repo"
	"github.com/shaiso/Sutra/internal/retry"
)

// defaultTimeLimit — жёсткий бюджет времени одной попытки.
const defaultTimeLimit = 300 * time.Second

// EnvelopeStore — персистентность envelopes, нужная Processor'у.
type EnvelopeStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskEnvelope, error)
	Update(ctx context.Context, env *domain.TaskEnvelope) error
}

// IdempotencyStore — идемпотентность на стороне worker'а.
type IdempotencyStore interface {
	Lookup(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	MarkSucceeded(ctx context.Context, key string, taskID uuid.UUID, ttl time.Duration) error
}

// ReceiptStore — append-only журнал попыток.
type ReceiptStore interface {
	Append(ctx context.Context, receipt *domain.DeliveryReceipt) error
}

// Escalator — эскалация терминально провалившихся задач.
type Escalator interface {
	Escalate(ctx context.Context, env *domain.TaskEnvelope) error
}

// Processor ведёт жизненный цикл задачи от загрузки envelope до
// терминального disposition. Retry выполняется in-process: после
// неудачной попытки Processor ждёт backoff и повторяет, не возвращая
// сообщение брокеру.
type Processor struct {
	envelopes   EnvelopeStore
	idempotency IdempotencyStore
	receipts    ReceiptStore
	escalator   Escalator
	registry    *Registry
	policy      retry.Policy
	timeLimit   time.Duration
	logger      *slog.Logger
}

// ProcessorConfig — конфигурация Processor.
type ProcessorConfig struct {
	Envelopes   EnvelopeStore
	Idempotency IdempotencyStore
	Receipts    ReceiptStore
	Escalator   Escalator
	Registry    *Registry
	Policy      retry.Policy

	// TimeLimit — бюджет времени одной попытки. 0 — значение по умолчанию.
	TimeLimit time.Duration

	Logger *slog.Logger
}

// NewProcessor создаёт Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeLimit := cfg.TimeLimit
	if timeLimit <= 0 {
		timeLimit = defaultTimeLimit
	}

	return &Processor{
		envelopes:   cfg.Envelopes,
		idempotency: cfg.Idempotency,
		receipts:    cfg.Receipts,
		escalator:   cfg.Escalator,
		registry:    cfg.Registry,
		policy:      cfg.Policy,
		timeLimit:   timeLimit,
		logger:      logger,
	}
}

// TimeLimitFromEnv читает бюджет времени попытки из TASK_TIME_LIMIT.
func TimeLimitFromEnv() time.Duration {
	if v := os.Getenv("TASK_TIME_LIMIT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultTimeLimit
}

// Process загружает envelope и доводит задачу до терминального
// disposition. Возвращает ошибку только если задачу не удалось даже
// принять (недоступна БД) — такое сообщение возвращается в очередь.
// Исходы самой задачи (retry, dead letter) ошибкой не являются.
func (p *Processor) Process(ctx context.Context, taskID uuid.UUID) error {
	env, err := p.envelopes.GetByID(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		// Envelope удалён — доставку подтверждаем, повторять нечего.
		p.logger.Warn("envelope not found, dropping delivery", "task_id", taskID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load envelope: %w", err)
	}

	logger := p.logger.With("task_id", env.ID, "task_type", env.Type)

	// Повторная доставка завершённой задачи — ничего не делаем.
	if env.IsFinished() {
		logger.Debug("envelope already finished, skipping", "disposition", env.Disposition)
		return nil
	}

	// IN_FLIGHT с живым ack deadline — задачу выполняет другой worker.
	// Просроченный дедлайн означает, что тот worker умер: забираем.
	now := time.Now().UTC()
	if env.Disposition == domain.DispositionInFlight && env.AckDeadline.After(now) {
		logger.Debug("envelope is in flight elsewhere, skipping")
		return nil
	}

	// Идемпотентность на стороне worker'а: ключ мог быть закрыт другой
	// задачей между постановкой и выполнением.
	if rec, err := p.idempotency.Lookup(ctx, env.IdempotencyKey); err == nil && rec.Succeeded(now) {
		logger.Info("work already done for idempotency key, finishing without execution",
			"idempotency_key", env.IdempotencyKey,
			"original_task_id", rec.TaskID,
		)
		env.MarkSucceeded()
		return p.envelopes.Update(ctx, env)
	}

	executor, err := p.registry.Get(env.Type)
	if err != nil {
		// Тип вне реестра — терминально, retry не поможет.
		return p.finishTerminal(ctx, env, domain.ErrorClassValidation, err.Error())
	}

	return p.run(ctx, env, executor, logger)
}

// run — цикл попыток с backoff.
func (p *Processor) run(ctx context.Context, env *domain.TaskEnvelope, executor Executor, logger *slog.Logger) error {
	for {
		env.MarkInFlight()
		if err := p.envelopes.Update(ctx, env); err != nil {
			return fmt.Errorf("mark in flight: %w", err)
		}

		err := p.attempt(ctx, env, executor)
		if err == nil {
			return p.finishSucceeded(ctx, env, logger)
		}

		class := domain.Classify(err)
		decision := p.policy.Decide(class, env.DeliveryAttempt)

		if decision.GiveUp {
			// Повторяемая ошибка с исчерпанным бюджетом — PERMANENT.
			if class.Retryable() {
				class = domain.ErrorClassPermanent
			}
			p.appendReceipt(ctx, env, domain.DispositionFailedTerminal, class, err.Error())
			metrics.AttemptsTotal.WithLabelValues(string(env.Type), "failed_terminal").Inc()
			return p.finishTerminal(ctx, env, class, err.Error())
		}

		env.MarkRetryable(class, err.Error())
		if uerr := p.envelopes.Update(ctx, env); uerr != nil {
			return fmt.Errorf("mark retryable: %w", uerr)
		}
		p.appendReceipt(ctx, env, domain.DispositionFailedRetryable, class, err.Error())
		metrics.AttemptsTotal.WithLabelValues(string(env.Type), "failed_retryable").Inc()
		metrics.RetriesTotal.WithLabelValues(string(class)).Inc()

		logger.Warn("attempt failed, retrying",
			"attempt", env.DeliveryAttempt,
			"error_class", class,
			"retry_after", decision.RetryAfter,
			"error", err,
		)

		select {
		case <-time.After(decision.RetryAfter):
		case <-ctx.Done():
			// Shutdown посреди backoff: envelope остаётся FAILED_RETRYABLE,
			// брокер передоставит сообщение после рестарта.
			return ctx.Err()
		}
	}
}

// attempt — одна попытка с бюджетом времени на выполнение.
// Бюджет общий для всех типов; окно ack deadline управляет только
// redelivery брокера и не ограничивает handler.
func (p *Processor) attempt(ctx context.Context, env *domain.TaskEnvelope, executor Executor) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeLimit)
	defer cancel()

	return executor.Execute(ctx, env)
}

// finishSucceeded фиксирует успех: envelope, receipt, idempotency-ключ.
func (p *Processor) finishSucceeded(ctx context.Context, env *domain.TaskEnvelope, logger *slog.Logger) error {
	env.MarkSucceeded()
	if err := p.envelopes.Update(ctx, env); err != nil {
		return fmt.Errorf("mark succeeded: %w", err)
	}

	p.appendReceipt(ctx, env, domain.DispositionSucceeded, "", "")
	metrics.AttemptsTotal.WithLabelValues(string(env.Type), "succeeded").Inc()

	// Закрываем ключ после успеха. Провал здесь не откатывает задачу:
	// следующая доставка того же ключа просто выполнит работу повторно,
	// выполнение идемпотентно.
	if err := p.idempotency.MarkSucceeded(ctx, env.IdempotencyKey, env.ID, env.Type.IdempotencyTTL()); err != nil {
		logger.Warn("failed to mark idempotency key", "idempotency_key", env.IdempotencyKey, "error", err)
	}

	logger.Info("task succeeded", "attempts", env.DeliveryAttempt)
	return nil
}

// finishTerminal фиксирует терминальный провал и эскалирует его.
// Lock contention не эскалируется: эквивалентную работу уже выполняет
// текущий держатель lock'а, оператору тут разбирать нечего.
func (p *Processor) finishTerminal(ctx context.Context, env *domain.TaskEnvelope, class domain.ErrorClass, errMsg string) error {
	env.MarkTerminal(class, errMsg)
	if err := p.envelopes.Update(ctx, env); err != nil {
		return fmt.Errorf("mark terminal: %w", err)
	}

	if class == domain.ErrorClassLockContention {
		p.logger.Info("task finished on lock contention, not escalating", "task_id", env.ID)
		return nil
	}

	if err := p.escalator.Escalate(ctx, env); err != nil {
		// Envelope уже FAILED_TERMINAL; потерянная dead-letter запись
		// восстановима из envelope и receipts.
		p.logger.Error("failed to escalate dead letter", "task_id", env.ID, "error", err)
	}

	return nil
}

// appendReceipt записывает receipt попытки. Журнал вспомогательный:
// его недоступность не меняет судьбу задачи.
func (p *Processor) appendReceipt(ctx context.Context, env *domain.TaskEnvelope, outcome domain.Disposition, class domain.ErrorClass, errMsg string) {
	receipt := domain.NewReceipt(env.ID, env.DeliveryAttempt, outcome, class, errMsg)
	if err := p.receipts.Append(ctx, receipt); err != nil {
		p.logger.Warn("failed to append receipt", "task_id", env.ID, "attempt", env.DeliveryAttempt, "error", err)
	}
}
