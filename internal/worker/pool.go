package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/mq"
)

// Ширина пулов по умолчанию: indexing широкий для коротких задач,
// maintenance узкий, чтобы долгие rebuild не вытесняли остальное.
const (
	defaultIndexingWidth    = 8
	defaultMaintenanceWidth = 2

	defaultPollInterval = 30 * time.Second
)

// PendingLister — polling fallback: PENDING задачи пула с истёкшим
// ack deadline, чьё dispatched-сообщение потерялось.
type PendingLister interface {
	ListPendingByPool(ctx context.Context, pool domain.PoolClass, limit int) ([]domain.TaskEnvelope, error)
}

// Pool — worker pool одного класса задач.
//
// Основной источник работы — очередь пула; ширина ограничивается
// prefetch'ем consumer'а. Параллельно крутится polling fallback,
// подбирающий задачи, потерянные при сбое брокера.
type Pool struct {
	class        domain.PoolClass
	queue        string
	width        int
	pollInterval time.Duration

	processor *Processor
	pending   PendingLister
	conn      *mq.Connection
	logger    *slog.Logger

	consumer *mq.Consumer
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// PoolConfig — конфигурация Pool.
type PoolConfig struct {
	Class        domain.PoolClass
	Width        int
	PollInterval time.Duration

	Processor *Processor
	Pending   PendingLister
	Conn      *mq.Connection
	Logger    *slog.Logger
}

// NewPool создаёт пул класса cfg.Class.
func NewPool(cfg PoolConfig) *Pool {
	width := cfg.Width
	if width <= 0 {
		width = defaultWidth(cfg.Class)
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pool{
		class:        cfg.Class,
		queue:        queueForPool(cfg.Class),
		width:        width,
		pollInterval: pollInterval,
		processor:    cfg.Processor,
		pending:      cfg.Pending,
		conn:         cfg.Conn,
		logger:       logger.With("pool", cfg.Class),
	}
}

// defaultWidth — ширина пула по умолчанию для класса.
func defaultWidth(class domain.PoolClass) int {
	if class == domain.PoolMaintenance {
		return defaultMaintenanceWidth
	}
	return defaultIndexingWidth
}

// queueForPool — очередь, которую потребляет пул.
func queueForPool(class domain.PoolClass) string {
	if class == domain.PoolMaintenance {
		return string(mq.QueueMaintenance)
	}
	return string(mq.QueueIndexing)
}

// WidthFromEnv читает ширину пула из окружения:
// INDEXING_POOL_WIDTH / MAINTENANCE_POOL_WIDTH.
func WidthFromEnv(class domain.PoolClass) int {
	name := "INDEXING_POOL_WIDTH"
	if class == domain.PoolMaintenance {
		name = "MAINTENANCE_POOL_WIDTH"
	}

	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultWidth(class)
}

// Start запускает consumer и polling fallback. Неблокирующий.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.consumer = mq.NewConsumer(p.conn, p.logger, mq.ConsumerConfig{
		Queue:    p.queue,
		Handler:  p.handleDispatched,
		Prefetch: p.width,
	})

	p.wg.Add(2)

	go func() {
		defer p.wg.Done()
		if err := p.consumer.Start(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("consumer stopped", "error", err)
		}
	}()

	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx)
	}()

	p.logger.Info("worker pool started", "queue", p.queue, "width", p.width)
}

// Stop останавливает пул и ждёт завершения текущих задач.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	if p.consumer != nil {
		p.consumer.Stop()
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// handleDispatched — обработчик сообщения task.dispatched.
func (p *Pool) handleDispatched(ctx context.Context, msg *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskDispatchedPayload](&msg.Message)
	if err != nil {
		// Нечитаемый payload не станет читаемым при redelivery.
		// Подтверждаем и отдаём на откуп polling fallback: envelope
		// в БД остался PENDING и будет подобран.
		p.logger.Error("malformed dispatched payload, dropping",
			"message_id", msg.Message.ID,
			"error", err,
		)
		return nil
	}

	return p.processor.Process(ctx, payload.TaskID)
}

// pollLoop периодически подбирает PENDING задачи с истёкшим ack
// deadline — fallback на случай потери dispatched-сообщений.
func (p *Pool) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("poll pass failed", "error", err)
			}
		}
	}
}

// pollOnce — один проход polling fallback.
func (p *Pool) pollOnce(ctx context.Context) error {
	envelopes, err := p.pending.ListPendingByPool(ctx, p.class, p.width)
	if err != nil {
		return fmt.Errorf("list pending: %w", err)
	}
	if len(envelopes) == 0 {
		return nil
	}

	p.logger.Info("poll fallback picked up stranded tasks", "count", len(envelopes))

	// Fallback-путь низкообъёмный, обрабатываем последовательно.
	for _, env := range envelopes {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.processor.Process(ctx, env.ID); err != nil {
			p.logger.Warn("failed to process stranded task", "task_id", env.ID, "error", err)
		}
	}
	return nil
}
