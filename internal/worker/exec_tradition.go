package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Sutra/internal/docstore"
	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/metrics"
	"github.com/shaiso/Sutra/internal/repo"
	"github.com/shaiso/Sutra/internal/vector"
)

// defaultLockTTL — TTL rebuild lock. Должен перекрывать типичную
// пересборку с запасом; истёкший lock перехватывается.
const defaultLockTTL = 15 * time.Minute

// LockStore — взаимное исключение пересборок tradition.
type LockStore interface {
	Acquire(ctx context.Context, tradition string, holder uuid.UUID, ttl time.Duration) error
	Release(ctx context.Context, tradition string, holder uuid.UUID) error
}

// TraditionExecutor — reindex_tradition и rebuild_tradition.
//
// Обе операции идут под rebuild lock своей tradition: конкурирующая
// пересборка того же корпуса дала бы эквивалентный результат, поэтому
// contention терминален, а не повторяем. rebuild дополнительно удаляет
// коллекцию перед наполнением.
type TraditionExecutor struct {
	docs    docstore.Store
	index   vector.Index
	locks   LockStore
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewTraditionExecutor создаёт executor tradition-операций.
func NewTraditionExecutor(docs docstore.Store, index vector.Index, locks LockStore, logger *slog.Logger) *TraditionExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &TraditionExecutor{
		docs:    docs,
		index:   index,
		locks:   locks,
		lockTTL: LockTTLFromEnv(),
		logger:  logger,
	}
}

// LockTTLFromEnv читает TTL rebuild lock из REBUILD_LOCK_TTL.
func LockTTLFromEnv() time.Duration {
	if v := os.Getenv("REBUILD_LOCK_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultLockTTL
}

// Execute пересобирает или переиндексирует tradition из payload.
func (e *TraditionExecutor) Execute(ctx context.Context, env *domain.TaskEnvelope) error {
	var p domain.TraditionPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: decode tradition payload: %v", domain.ErrValidation, err)
	}

	if err := e.locks.Acquire(ctx, p.Tradition, env.ID, e.lockTTL); err != nil {
		if errors.Is(err, repo.ErrLockHeld) {
			metrics.LockContentionTotal.WithLabelValues(p.Tradition).Inc()
			return fmt.Errorf("%w: tradition %s", domain.ErrLockContention, p.Tradition)
		}
		return fmt.Errorf("%w: acquire rebuild lock: %v", domain.ErrTransient, err)
	}
	defer func() {
		// Отдельный контекст: lock надо отпустить и при отменённом ctx.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.locks.Release(releaseCtx, p.Tradition, env.ID); err != nil {
			e.logger.Warn("failed to release rebuild lock, TTL will reclaim it",
				"tradition", p.Tradition,
				"task_id", env.ID,
				"error", err,
			)
		}
	}()

	if env.Type == domain.TaskRebuildTradition {
		// Коллекции могло не быть, ошибка удаления не фатальна.
		if err := e.index.Drop(ctx, p.Tradition); err != nil {
			e.logger.Warn("failed to drop collection before rebuild",
				"tradition", p.Tradition,
				"error", err,
			)
		}
	}

	return e.fill(ctx, p.Tradition)
}

// fill наполняет коллекцию tradition документами корпуса.
func (e *TraditionExecutor) fill(ctx context.Context, tradition string) error {
	keys, err := e.docs.List(ctx, docstore.TraditionPrefix(tradition))
	if err != nil {
		return fmt.Errorf("%w: list tradition corpus: %v", domain.ErrTransient, err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: tradition %s has no corpus documents", domain.ErrValidation, tradition)
	}

	indexed := 0
	for _, key := range keys {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
		}

		raw, err := e.docs.Read(ctx, key)
		if err != nil {
			return fmt.Errorf("%w: read corpus document %s: %v", domain.ErrTransient, key, err)
		}

		doc := vector.Document{
			ID:       docstore.DocumentID(key),
			Content:  string(raw),
			Metadata: map[string]string{"tradition": tradition},
		}
		if err := e.index.Upsert(ctx, tradition, doc); err != nil {
			return fmt.Errorf("%w: index corpus document %s: %v", domain.ErrTransient, key, err)
		}
		indexed++
	}

	e.logger.Info("tradition corpus indexed",
		"tradition", tradition,
		"documents", indexed,
	)
	return nil
}
