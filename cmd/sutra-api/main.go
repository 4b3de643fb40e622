// Sutra API — ingress pipeline.
//
// Принимает задачи с двух сторон: direct HTTP от приложения и
// push-доставку брокера. Валидирует, дедуплицирует и ставит задачи
// в очереди worker pool'ов.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Sutra/internal/api"
	"github.com/shaiso/Sutra/internal/auth"
	"github.com/shaiso/Sutra/internal/dispatch"
	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/mq"
	"github.com/shaiso/Sutra/internal/repo"
	"github.com/shaiso/Sutra/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting sutra-api")

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

	// Репозитории
	envelopeRepo := repo.NewEnvelopeRepo(pool)
	idempotencyRepo, err := repo.NewIdempotencyRepo(pool)
	if err != nil {
		logger.Error("failed to init idempotency repo", "error", err)
		os.Exit(1)
	}
	deadLetterRepo := repo.NewDeadLetterRepo(pool)
	healthRepo := repo.NewHealthRepo(pool)

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

	publisher := mq.NewPublisher(mqConn, logger)

	// Dispatcher — общая точка входа обоих ingress
	dispatcher := dispatch.New(dispatch.Config{
		Envelopes:   envelopeRepo,
		Idempotency: idempotencyRepo,
		Queue:       publisher,
		Logger:      logger,
	})

	// Push-аутентификация: без публичного ключа push ingress закрыт
	pushAuth, err := setupPushAuth()
	if err != nil {
		logger.Error("failed to setup push authentication", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.Config{
		Dispatcher:    dispatcher,
		Tasks:         envelopeRepo,
		DeadLetters:   deadLetterRepo,
		Health:        healthRepo,
		PushAuth:      pushAuth,
		ReindexSecret: os.Getenv("REINDEX_SECRET"),
		Logger:        logger,
	})

	mux := http.NewServeMux()

	// Liveness процесса и metrics; /health pipeline'а регистрирует handler
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}

// setupPushAuth собирает валидатор push-токенов из окружения.
// Без публичного ключа push ingress отклоняет все запросы.
func setupPushAuth() (api.PushAuthenticator, error) {
	keyPath := os.Getenv("PUSH_PUBLIC_KEY_FILE")
	if keyPath == "" {
		return deniedPushAuth{}, nil
	}

	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}

	return auth.NewPushValidator(
		string(pem),
		os.Getenv("PUSH_TOKEN_ISSUER"),
		os.Getenv("PUSH_TOKEN_AUDIENCE"),
	)
}

// deniedPushAuth отклоняет все push-запросы: публичный ключ не задан,
// значит push ingress не сконфигурирован.
type deniedPushAuth struct{}

func (deniedPushAuth) ValidateRequest(*http.Request) error {
	return fmt.Errorf("%w: push ingress is not configured", domain.ErrAuth)
}
