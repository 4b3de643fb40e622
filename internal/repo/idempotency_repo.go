package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sutra/internal/domain"
)

// IdempotencyRepo — хранилище idempotency-записей.
//
// Записи SUCCEEDED кэшируются в ristretto: горячий путь Dispatcher'а
// (проверка "уже сделано?") не ходит в БД для недавно завершённых
// ключей. Источник истины — всегда БД; кэш хранит только успехи,
// поэтому промах безопасен, а ложного успеха быть не может.
type IdempotencyRepo struct {
	pool  *pgxpool.Pool
	cache *ristretto.Cache
}

// NewIdempotencyRepo создаёт новый IdempotencyRepo.
func NewIdempotencyRepo(pool *pgxpool.Pool) (*IdempotencyRepo, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000, // ~10x ожидаемого числа живых ключей
		MaxCost:     10_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("init idempotency cache: %w", err)
	}

	return &IdempotencyRepo{pool: pool, cache: cache}, nil
}

// Lookup возвращает запись по ключу. ErrNotFound, если записи нет
// или она истекла.
func (r *IdempotencyRepo) Lookup(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	if v, ok := r.cache.Get(key); ok {
		if rec, ok := v.(*domain.IdempotencyRecord); ok && rec.ExpiresAt.After(time.Now()) {
			return rec, nil
		}
		r.cache.Del(key)
	}

	query := `
		SELECT key, task_id, disposition, updated_at, expires_at
		FROM idempotency_records
		WHERE key = $1 AND expires_at > now()
	`
	var rec domain.IdempotencyRecord
	err := r.pool.QueryRow(ctx, query, key).Scan(
		&rec.Key,
		&rec.TaskID,
		&rec.Disposition,
		&rec.UpdatedAt,
		&rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency record: %w", err)
	}

	if rec.Disposition == domain.DispositionSucceeded {
		r.cache.SetWithTTL(key, &rec, 1, time.Until(rec.ExpiresAt))
	}

	return &rec, nil
}

// MarkSucceeded атомарно фиксирует успех по ключу (upsert).
func (r *IdempotencyRepo) MarkSucceeded(ctx context.Context, key string, taskID uuid.UUID, ttl time.Duration) error {
	query := `
		INSERT INTO idempotency_records (key, task_id, disposition, updated_at, expires_at)
		VALUES ($1, $2, $3, now(), now() + $4)
		ON CONFLICT (key) DO UPDATE
		SET task_id = EXCLUDED.task_id,
		    disposition = EXCLUDED.disposition,
		    updated_at = EXCLUDED.updated_at,
		    expires_at = EXCLUDED.expires_at
	`
	_, err := r.pool.Exec(ctx, query, key, taskID, domain.DispositionSucceeded, ttl)
	if err != nil {
		return fmt.Errorf("mark idempotency succeeded: %w", err)
	}

	rec := &domain.IdempotencyRecord{
		Key:         key,
		TaskID:      taskID,
		Disposition: domain.DispositionSucceeded,
		UpdatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}
	r.cache.SetWithTTL(key, rec, 1, ttl)

	return nil
}
