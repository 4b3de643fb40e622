package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/repo"
)

// Task DTOs

// TaskResponse — ответ с состоянием задачи.
type TaskResponse struct {
	TaskID          uuid.UUID       `json:"task_id"`
	TaskType        string          `json:"task_type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key"`
	Disposition     string          `json:"disposition"`
	DeliveryAttempt int             `json:"delivery_attempt"`
	ErrorClass      string          `json:"error_class,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	EnqueuedAt      time.Time       `json:"enqueued_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TaskFromDomain конвертирует domain.TaskEnvelope в TaskResponse.
func TaskFromDomain(e *domain.TaskEnvelope) TaskResponse {
	return TaskResponse{
		TaskID:          e.ID,
		TaskType:        string(e.Type),
		Payload:         e.Payload,
		IdempotencyKey:  e.IdempotencyKey,
		Disposition:     string(e.Disposition),
		DeliveryAttempt: e.DeliveryAttempt,
		ErrorClass:      string(e.ErrorClass),
		LastError:       e.LastError,
		EnqueuedAt:      e.EnqueuedAt,
		FinishedAt:      e.FinishedAt,
		CreatedAt:       e.CreatedAt,
	}
}

// Dead Letter DTOs

// DeadLetterResponse — ответ с dead letter.
type DeadLetterResponse struct {
	TaskID      uuid.UUID                `json:"task_id"`
	TaskType    string                   `json:"task_type"`
	ErrorClass  string                   `json:"error_class,omitempty"`
	LastError   string                   `json:"last_error,omitempty"`
	Attempts    int                      `json:"attempts"`
	Receipts    []domain.DeliveryReceipt `json:"receipts,omitempty"`
	EscalatedAt time.Time                `json:"escalated_at"`
}

// DeadLetterFromRepo конвертирует repo.DeadLetter в DeadLetterResponse.
func DeadLetterFromRepo(dl repo.DeadLetter) DeadLetterResponse {
	return DeadLetterResponse{
		TaskID:      dl.TaskID,
		TaskType:    string(dl.TaskType),
		ErrorClass:  string(dl.Envelope.ErrorClass),
		LastError:   dl.Envelope.LastError,
		Attempts:    dl.Envelope.DeliveryAttempt,
		Receipts:    dl.Receipts,
		EscalatedAt: dl.EscalatedAt,
	}
}

// Push DTOs

// PushEnvelope — обёртка push-доставки брокера.
type PushEnvelope struct {
	Message      PushMessage `json:"message"`
	Subscription string      `json:"subscription"`
}

// PushMessage — сообщение внутри push-доставки. Data — base64 от
// payload задачи.
type PushMessage struct {
	Data       string            `json:"data"`
	MessageID  string            `json:"messageId"`
	Attributes map[string]string `json:"attributes,omitempty"`
}
