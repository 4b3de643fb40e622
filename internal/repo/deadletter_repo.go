package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sutra/internal/domain"
)

// DeadLetter — терминальная запись: envelope плюс полная история
// receipts на момент эскалации.
type DeadLetter struct {
	TaskID      uuid.UUID                `json:"task_id"`
	TaskType    domain.TaskType          `json:"task_type"`
	Envelope    domain.TaskEnvelope      `json:"envelope"`
	Receipts    []domain.DeliveryReceipt `json:"receipts"`
	EscalatedAt time.Time                `json:"escalated_at"`
}

// DeadLetterRepo — терминальное хранилище исчерпавших бюджет задач.
// Автоматической переобработки нет: операторы разбирают записи
// out of band.
type DeadLetterRepo struct {
	pool *pgxpool.Pool
}

// NewDeadLetterRepo создаёт новый DeadLetterRepo.
func NewDeadLetterRepo(pool *pgxpool.Pool) *DeadLetterRepo {
	return &DeadLetterRepo{pool: pool}
}

// Insert сохраняет dead letter. Повторная эскалация того же task_id
// игнорируется: для задачи гарантируется не больше одной записи.
func (r *DeadLetterRepo) Insert(ctx context.Context, env *domain.TaskEnvelope, receipts []domain.DeliveryReceipt) error {
	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	receiptsJSON, err := json.Marshal(receipts)
	if err != nil {
		return fmt.Errorf("marshal receipts: %w", err)
	}

	query := `
		INSERT INTO dead_letters (task_id, task_type, envelope, receipts, escalated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (task_id) DO NOTHING
	`
	_, err = r.pool.Exec(ctx, query, env.ID, env.Type, envJSON, receiptsJSON)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

// List возвращает последние dead letters.
func (r *DeadLetterRepo) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT task_id, task_type, envelope, receipts, escalated_at
		FROM dead_letters
		ORDER BY escalated_at DESC
		LIMIT $1
	`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var dl DeadLetter
		var envJSON, receiptsJSON []byte

		if err := rows.Scan(&dl.TaskID, &dl.TaskType, &envJSON, &receiptsJSON, &dl.EscalatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal(envJSON, &dl.Envelope); err != nil {
			return nil, fmt.Errorf("unmarshal envelope: %w", err)
		}
		if receiptsJSON != nil {
			if err := json.Unmarshal(receiptsJSON, &dl.Receipts); err != nil {
				return nil, fmt.Errorf("unmarshal receipts: %w", err)
			}
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
