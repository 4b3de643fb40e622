package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sutra/internal/domain"
)

// EnvelopeRepo — репозиторий для работы с task envelopes.
type EnvelopeRepo struct {
	pool *pgxpool.Pool
}

// NewEnvelopeRepo создаёт новый EnvelopeRepo.
func NewEnvelopeRepo(pool *pgxpool.Pool) *EnvelopeRepo {
	return &EnvelopeRepo{pool: pool}
}

const envelopeColumns = `
	id, task_type, payload, idempotency_key, delivery_attempt,
	enqueued_at, ack_deadline, disposition, error_class, last_error,
	finished_at, created_at
`

// Create сохраняет новый envelope.
func (r *EnvelopeRepo) Create(ctx context.Context, env *domain.TaskEnvelope) error {
	query := `
		INSERT INTO task_envelopes (id, task_type, payload, idempotency_key, delivery_attempt,
		                            enqueued_at, ack_deadline, disposition, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		env.ID,
		env.Type,
		[]byte(env.Payload),
		env.IdempotencyKey,
		env.DeliveryAttempt,
		env.EnqueuedAt,
		env.AckDeadline,
		env.Disposition,
		env.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	return nil
}

// GetByID возвращает envelope по ID.
func (r *EnvelopeRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.TaskEnvelope, error) {
	query := `SELECT ` + envelopeColumns + ` FROM task_envelopes WHERE id = $1`
	return scanEnvelope(r.pool.QueryRow(ctx, query, id))
}

// Update обновляет изменяемые worker'ом поля envelope.
func (r *EnvelopeRepo) Update(ctx context.Context, env *domain.TaskEnvelope) error {
	query := `
		UPDATE task_envelopes
		SET delivery_attempt = $2, disposition = $3, error_class = $4,
		    last_error = $5, finished_at = $6, ack_deadline = $7
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		env.ID,
		env.DeliveryAttempt,
		env.Disposition,
		nullString(string(env.ErrorClass)),
		nullString(env.LastError),
		env.FinishedAt,
		env.AckDeadline,
	)
	if err != nil {
		return fmt.Errorf("update envelope: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingByPool возвращает PENDING задачи пула, чей ack deadline
// уже прошёл. Polling fallback: подхватывает задачи, чьё dispatched
// сообщение потерялось при сбое брокера.
func (r *EnvelopeRepo) ListPendingByPool(ctx context.Context, pool domain.PoolClass, limit int) ([]domain.TaskEnvelope, error) {
	types := typesForPool(pool)

	query := `
		SELECT ` + envelopeColumns + `
		FROM task_envelopes
		WHERE disposition = 'PENDING' AND task_type = ANY($1) AND ack_deadline <= now()
		ORDER BY enqueued_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, types, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending envelopes: %w", err)
	}
	defer rows.Close()

	return collectEnvelopes(rows)
}

// typesForPool — типы задач, обслуживаемые пулом.
func typesForPool(pool domain.PoolClass) []string {
	if pool == domain.PoolMaintenance {
		return []string{string(domain.TaskReindexTradition), string(domain.TaskRebuildTradition)}
	}
	return []string{string(domain.TaskIndexEntry), string(domain.TaskIndexBatch), string(domain.TaskHealthCheck)}
}

// --- Helpers ---

func collectEnvelopes(rows pgx.Rows) ([]domain.TaskEnvelope, error) {
	var envelopes []domain.TaskEnvelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, *env)
	}
	return envelopes, rows.Err()
}

func scanEnvelope(row pgx.Row) (*domain.TaskEnvelope, error) {
	var env domain.TaskEnvelope
	var payload []byte
	var errorClass, lastError *string

	err := row.Scan(
		&env.ID,
		&env.Type,
		&payload,
		&env.IdempotencyKey,
		&env.DeliveryAttempt,
		&env.EnqueuedAt,
		&env.AckDeadline,
		&env.Disposition,
		&errorClass,
		&lastError,
		&env.FinishedAt,
		&env.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan envelope: %w", err)
	}

	env.Payload = payload
	if errorClass != nil {
		env.ErrorClass = domain.ErrorClass(*errorClass)
	}
	if lastError != nil {
		env.LastError = *lastError
	}

	return &env, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
