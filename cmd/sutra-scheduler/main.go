// Sutra Scheduler — периодическая постановка health_check задач.
//
// Несколько инстансов безопасны: конкурирующие постановки схлопывает
// идемпотентность, лидер-элекция не нужна.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Sutra/internal/dispatch"
	"github.com/shaiso/Sutra/internal/mq"
	"github.com/shaiso/Sutra/internal/repo"
	"github.com/shaiso/Sutra/internal/scheduler"
	"github.com/shaiso/Sutra/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting sutra-scheduler")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	envelopeRepo := repo.NewEnvelopeRepo(pool)
	idempotencyRepo, err := repo.NewIdempotencyRepo(pool)
	if err != nil {
		logger.Error("failed to init idempotency repo", "error", err)
		os.Exit(1)
	}

	// RabbitMQ
	mqConn, err := mq.NewConnection(mq.URLFromEnv(), logger)
	if err != nil {
		logger.Error("failed to connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer mqConn.Close()
	logger.Info("RabbitMQ connected")

	if err := mq.SetupTopology(ctx, mqConn); err != nil {
		logger.Error("failed to setup topology", "error", err)
		os.Exit(1)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Envelopes:   envelopeRepo,
		Idempotency: idempotencyRepo,
		Queue:       mq.NewPublisher(mqConn, logger),
		Logger:      logger,
	})

	sched, err := scheduler.New(scheduler.Config{
		Dispatcher: dispatcher,
		CronSpec:   scheduler.CronFromEnv(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	sched.Stop()
	logger.Info("sutra-scheduler stopped")
}
