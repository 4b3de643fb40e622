package domain

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryReceipt — результат одной попытки выполнения задачи.
// Append-only: используется для аудита и попадает в dead-letter
// запись вместе с envelope.
type DeliveryReceipt struct {
	// TaskID — ссылка на envelope.
	TaskID uuid.UUID `json:"task_id"`

	// Attempt — номер попытки (начиная с 1).
	Attempt int `json:"attempt"`

	// Outcome — disposition, к которому привела попытка.
	Outcome Disposition `json:"outcome"`

	// ErrorClass — класс ошибки (пусто при успехе).
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	// Error — текст ошибки.
	Error string `json:"error,omitempty"`

	// RecordedAt — время записи receipt.
	RecordedAt time.Time `json:"recorded_at"`
}

// NewReceipt создаёт receipt для попытки.
func NewReceipt(taskID uuid.UUID, attempt int, outcome Disposition, class ErrorClass, errMsg string) *DeliveryReceipt {
	return &DeliveryReceipt{
		TaskID:     taskID,
		Attempt:    attempt,
		Outcome:    outcome,
		ErrorClass: class,
		Error:      errMsg,
		RecordedAt: time.Now().UTC(),
	}
}
