package domain

import (
	"time"

	"github.com/google/uuid"
)

// RebuildLock — взаимное исключение пересборок tradition.
// Одна строка на имя tradition; инвариант: не больше одного живого
// держателя. Истёкший TTL делает lock reclaimable — так пересборка
// переживает смерть worker'а посреди rebuild.
type RebuildLock struct {
	// Tradition — имя knowledge-base partition.
	Tradition string `json:"tradition"`

	// HolderTaskID — задача, держащая lock.
	HolderTaskID uuid.UUID `json:"holder_task_id"`

	// AcquiredAt — время захвата.
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt — момент истечения TTL.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired возвращает true, если TTL истёк и lock можно перехватить.
func (l *RebuildLock) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// IdempotencyRecord — состояние обработки по ключу идемпотентности.
// Непросроченная запись со статусом SUCCEEDED схлопывает повторную
// доставку той же логической задачи в синтетический успех.
type IdempotencyRecord struct {
	Key         string      `json:"key"`
	TaskID      uuid.UUID   `json:"task_id"`
	Disposition Disposition `json:"disposition"`
	UpdatedAt   time.Time   `json:"updated_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

// Succeeded возвращает true, если запись жива и фиксирует успех.
func (r *IdempotencyRecord) Succeeded(now time.Time) bool {
	return r.Disposition == DispositionSucceeded && r.ExpiresAt.After(now)
}
