package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sutra/internal/domain"
)

// LockRepo — хранилище rebuild locks.
//
// Одна строка на tradition, захват через атомарный compare-and-set:
// INSERT ... ON CONFLICT DO UPDATE с условием истёкшего TTL. Никаких
// read-then-write гонок — решение принимает сама БД. Lock не живёт в
// памяти процесса: worker'ов может быть несколько.
type LockRepo struct {
	pool *pgxpool.Pool
}

// NewLockRepo создаёт новый LockRepo.
func NewLockRepo(pool *pgxpool.Pool) *LockRepo {
	return &LockRepo{pool: pool}
}

// Acquire пытается захватить lock для tradition. Возвращает ErrLockHeld,
// если lock держит живой (непросроченный) holder. Просроченный lock
// перехватывается — так восстанавливаемся после смерти worker'а
// посреди rebuild.
func (r *LockRepo) Acquire(ctx context.Context, tradition string, holder uuid.UUID, ttl time.Duration) error {
	query := `
		INSERT INTO rebuild_locks (tradition, holder_task_id, acquired_at, expires_at)
		VALUES ($1, $2, now(), now() + $3)
		ON CONFLICT (tradition) DO UPDATE
		SET holder_task_id = EXCLUDED.holder_task_id,
		    acquired_at = EXCLUDED.acquired_at,
		    expires_at = EXCLUDED.expires_at
		WHERE rebuild_locks.expires_at <= now()
	`
	result, err := r.pool.Exec(ctx, query, tradition, holder, ttl)
	if err != nil {
		return fmt.Errorf("acquire rebuild lock: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrLockHeld
	}
	return nil
}

// Release освобождает lock, если его держит указанный holder.
// Чужой lock (перехваченный после истечения TTL) не трогаем.
func (r *LockRepo) Release(ctx context.Context, tradition string, holder uuid.UUID) error {
	query := `DELETE FROM rebuild_locks WHERE tradition = $1 AND holder_task_id = $2`
	_, err := r.pool.Exec(ctx, query, tradition, holder)
	if err != nil {
		return fmt.Errorf("release rebuild lock: %w", err)
	}
	return nil
}

// Get возвращает текущий lock для tradition.
func (r *LockRepo) Get(ctx context.Context, tradition string) (*domain.RebuildLock, error) {
	query := `
		SELECT tradition, holder_task_id, acquired_at, expires_at
		FROM rebuild_locks
		WHERE tradition = $1
	`
	var lock domain.RebuildLock
	err := r.pool.QueryRow(ctx, query, tradition).Scan(
		&lock.Tradition,
		&lock.HolderTaskID,
		&lock.AcquiredAt,
		&lock.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rebuild lock: %w", err)
	}
	return &lock, nil
}
