package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/shaiso/Sutra/internal/dispatch"
	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/repo"
)

// Submitter — постановка задач в pipeline.
type Submitter interface {
	Submit(ctx context.Context, taskType domain.TaskType, payload json.RawMessage) (*dispatch.Result, error)
}

// TaskReader — чтение envelope по ID.
type TaskReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskEnvelope, error)
}

// DeadLetterReader — чтение dead letters для операторов.
type DeadLetterReader interface {
	List(ctx context.Context, limit int) ([]repo.DeadLetter, error)
}

// HealthReader — последний сохранённый health-статус.
type HealthReader interface {
	Latest(ctx context.Context) (*domain.HealthStatus, error)
}

// PushAuthenticator — проверка подписи push-доставки.
type PushAuthenticator interface {
	ValidateRequest(r *http.Request) error
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	dispatcher  Submitter
	tasks       TaskReader
	deadLetters DeadLetterReader
	health      HealthReader
	pushAuth    PushAuthenticator

	reindexSecret string
	logger        *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Dispatcher  Submitter
	Tasks       TaskReader
	DeadLetters DeadLetterReader
	Health      HealthReader
	PushAuth    PushAuthenticator

	// ReindexSecret — shared secret привилегированных операций
	// (reindex_tradition, rebuild_tradition) на direct ingress.
	ReindexSecret string

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		dispatcher:    cfg.Dispatcher,
		tasks:         cfg.Tasks,
		deadLetters:   cfg.DeadLetters,
		health:        cfg.Health,
		pushAuth:      cfg.PushAuth,
		reindexSecret: cfg.ReindexSecret,
		logger:        logger,
	}
}
