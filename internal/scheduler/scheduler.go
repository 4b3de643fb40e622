// Package scheduler — периодическая постановка health_check задач.
//
// Лидер-элекция не нужна: ключ идемпотентности health_check с коротким
// TTL схлопывает конкурирующие постановки от нескольких инстансов.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/Sutra/internal/dispatch"
	"github.com/shaiso/Sutra/internal/domain"
)

// defaultHealthCheckCron — каждые 5 минут.
const defaultHealthCheckCron = "*/5 * * * *"

// cronParser — парсер cron-выражений.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Submitter — постановка задач в pipeline.
type Submitter interface {
	Submit(ctx context.Context, taskType domain.TaskType, payload json.RawMessage) (*dispatch.Result, error)
}

// Scheduler ставит health_check по расписанию.
type Scheduler struct {
	dispatcher Submitter
	cronSpec   string
	logger     *slog.Logger

	cron *cron.Cron
}

// Config — конфигурация Scheduler.
type Config struct {
	Dispatcher Submitter
	CronSpec   string // default: */5 * * * *
	Logger     *slog.Logger
}

// New создаёт Scheduler.
func New(cfg Config) (*Scheduler, error) {
	spec := cfg.CronSpec
	if spec == "" {
		spec = defaultHealthCheckCron
	}
	if _, err := cronParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		dispatcher: cfg.Dispatcher,
		cronSpec:   spec,
		logger:     logger,
		cron:       cron.New(cron.WithParser(cronParser)),
	}, nil
}

// CronFromEnv читает расписание из HEALTH_CHECK_CRON.
func CronFromEnv() string {
	if v := os.Getenv("HEALTH_CHECK_CRON"); v != "" {
		return v
	}
	return defaultHealthCheckCron
}

// Start запускает расписание. Неблокирующий.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.cronSpec, func() {
		s.SubmitHealthCheck(ctx)
	})
	if err != nil {
		return fmt.Errorf("register health check job: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "cron", s.cronSpec)
	return nil
}

// Stop останавливает расписание и ждёт завершения текущего job.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// SubmitHealthCheck ставит одну health_check задачу.
func (s *Scheduler) SubmitHealthCheck(ctx context.Context) {
	res, err := s.dispatcher.Submit(ctx, domain.TaskHealthCheck, nil)
	if err != nil {
		s.logger.Error("failed to submit health check", "error", err)
		return
	}

	s.logger.Debug("health check submitted",
		"task_id", res.TaskID,
		"deduplicated", res.Deduplicated,
	)
}
