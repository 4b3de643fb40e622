package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Sutra/internal/domain"
)

// HealthRepo хранит последний агрегированный результат health-пробы.
// Одна строка: GET /health отдаёт её, прогоняет проба worker — так
// endpoint показывает здоровье всего pipeline, а не только API процесса.
type HealthRepo struct {
	pool *pgxpool.Pool
}

// NewHealthRepo создаёт новый HealthRepo.
func NewHealthRepo(pool *pgxpool.Pool) *HealthRepo {
	return &HealthRepo{pool: pool}
}

// Save заменяет последний статус.
func (r *HealthRepo) Save(ctx context.Context, status *domain.HealthStatus) error {
	componentsJSON, err := json.Marshal(status.Components)
	if err != nil {
		return fmt.Errorf("marshal components: %w", err)
	}

	query := `
		INSERT INTO health_status (id, overall, components, checked_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET overall = EXCLUDED.overall,
		    components = EXCLUDED.components,
		    checked_at = EXCLUDED.checked_at
	`
	_, err = r.pool.Exec(ctx, query, status.Overall, componentsJSON, status.CheckedAt)
	if err != nil {
		return fmt.Errorf("save health status: %w", err)
	}
	return nil
}

// Latest возвращает последний сохранённый статус.
func (r *HealthRepo) Latest(ctx context.Context) (*domain.HealthStatus, error) {
	query := `SELECT overall, components, checked_at FROM health_status WHERE id = 1`

	var status domain.HealthStatus
	var componentsJSON []byte

	err := r.pool.QueryRow(ctx, query).Scan(&status.Overall, &componentsJSON, &status.CheckedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest health status: %w", err)
	}

	if err := json.Unmarshal(componentsJSON, &status.Components); err != nil {
		return nil, fmt.Errorf("unmarshal components: %w", err)
	}
	return &status, nil
}
