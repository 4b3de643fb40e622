package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sutra/internal/domain"
)

// ReceiptRepo — append-only журнал попыток выполнения.
type ReceiptRepo struct {
	pool *pgxpool.Pool
}

// NewReceiptRepo создаёт новый ReceiptRepo.
func NewReceiptRepo(pool *pgxpool.Pool) *ReceiptRepo {
	return &ReceiptRepo{pool: pool}
}

// Append записывает receipt попытки.
func (r *ReceiptRepo) Append(ctx context.Context, receipt *domain.DeliveryReceipt) error {
	query := `
		INSERT INTO delivery_receipts (task_id, attempt, outcome, error_class, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		receipt.TaskID,
		receipt.Attempt,
		receipt.Outcome,
		nullString(string(receipt.ErrorClass)),
		nullString(receipt.Error),
		receipt.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}
	return nil
}

// ListByTaskID возвращает все receipts задачи в порядке попыток.
func (r *ReceiptRepo) ListByTaskID(ctx context.Context, taskID uuid.UUID) ([]domain.DeliveryReceipt, error) {
	query := `
		SELECT task_id, attempt, outcome, error_class, error, recorded_at
		FROM delivery_receipts
		WHERE task_id = $1
		ORDER BY attempt ASC
	`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var receipts []domain.DeliveryReceipt
	for rows.Next() {
		var rec domain.DeliveryReceipt
		var errorClass, errMsg *string

		if err := rows.Scan(&rec.TaskID, &rec.Attempt, &rec.Outcome, &errorClass, &errMsg, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if errorClass != nil {
			rec.ErrorClass = domain.ErrorClass(*errorClass)
		}
		if errMsg != nil {
			rec.Error = *errMsg
		}
		receipts = append(receipts, rec)
	}
	return receipts, rows.Err()
}
