// Sutra Worker — выполняет задачи pipeline.
//
// Worker:
//   - Потребляет очереди своих пулов (indexing, maintenance)
//   - Выполняет задачи по типу (индексация entries, пересборки traditions)
//   - Реализует retry с exponential backoff
//   - Эскалирует исчерпавшие бюджет задачи в dead-letter store
//
// Workers масштабируются горизонтально: идемпотентность и rebuild
// locks живут в БД, не в памяти процесса.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	chromem "github.com/philippgille/chromem-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Sutra/internal/deadletter"
	"github.com/shaiso/Sutra/internal/docstore"
	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/health"
	"github.com/shaiso/Sutra/internal/mq"
	"github.com/shaiso/Sutra/internal/repo"
	"github.com/shaiso/Sutra/internal/retry"
	"github.com/shaiso/Sutra/internal/telemetry"
	"github.com/shaiso/Sutra/internal/vector"
	"github.com/shaiso/Sutra/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting sutra-worker")

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
	receiptRepo := repo.NewReceiptRepo(pool)
	lockRepo := repo.NewLockRepo(pool)
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
	logger.Info("topology ready", "info", mq.TopologyInfo())

	publisher := mq.NewPublisher(mqConn, logger)

	// Внешние хранилища
	docs := docstore.NewFSStore(docstoreRoot())

	index, err := vector.NewChromemIndex(os.Getenv("VECTOR_DB_PATH"), chromem.NewEmbeddingFuncDefault())
	if err != nil {
		logger.Error("failed to open vector index", "error", err)
		os.Exit(1)
	}

	// Пробы для health_check задач
	prober := health.NewProber(
		health.Probe{Name: "database", Check: func(ctx context.Context) error {
			return pool.Ping(ctx)
		}},
		health.Probe{Name: "broker", Check: func(ctx context.Context) error {
			if !mqConn.IsConnected() {
				return errBrokerDisconnected
			}
			return nil
		}},
		health.Probe{Name: "vector_store", Check: index.Ping},
		health.Probe{Name: "document_store", Check: docs.Ping},
	)

	// Executors по типам задач
	entryExec := worker.NewIndexEntryExecutor(docs, index)
	traditionExec := worker.NewTraditionExecutor(docs, index, lockRepo, logger)

	registry := worker.NewRegistry()
	registry.Register(domain.TaskIndexEntry, entryExec)
	registry.Register(domain.TaskIndexBatch, worker.NewIndexBatchExecutor(entryExec, idempotencyRepo, logger))
	registry.Register(domain.TaskReindexTradition, traditionExec)
	registry.Register(domain.TaskRebuildTradition, traditionExec)
	registry.Register(domain.TaskHealthCheck, worker.NewHealthExecutor(prober, healthRepo, logger))

	processor := worker.NewProcessor(worker.ProcessorConfig{
		Envelopes:   envelopeRepo,
		Idempotency: idempotencyRepo,
		Receipts:    receiptRepo,
		Escalator:   deadletter.NewEscalator(deadLetterRepo, receiptRepo, publisher, logger),
		Registry:    registry,
		Policy:      retry.FromEnv(),
		TimeLimit:   worker.TimeLimitFromEnv(),
		Logger:      logger,
	})

	// Два пула: широкий indexing и узкий maintenance
	pools := []*worker.Pool{
		worker.NewPool(worker.PoolConfig{
			Class:     domain.PoolIndexing,
			Width:     worker.WidthFromEnv(domain.PoolIndexing),
			Processor: processor,
			Pending:   envelopeRepo,
			Conn:      mqConn,
			Logger:    logger,
		}),
		worker.NewPool(worker.PoolConfig{
			Class:     domain.PoolMaintenance,
			Width:     worker.WidthFromEnv(domain.PoolMaintenance),
			Processor: processor,
			Pending:   envelopeRepo,
			Conn:      mqConn,
			Logger:    logger,
		}),
	}
	for _, p := range pools {
		p.Start(ctx)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8082"
	if v := os.Getenv("WORKER_PORT"); v != "" {
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

	for _, p := range pools {
		p.Stop()
	}
	logger.Info("sutra-worker stopped")
}

// docstoreRoot — корень document store (mount бакета или локальный путь).
func docstoreRoot() string {
	if v := os.Getenv("DOCSTORE_ROOT"); v != "" {
		return v
	}
	return "/var/lib/sutra/documents"
}

var errBrokerDisconnected = errors.New("broker connection is down")
