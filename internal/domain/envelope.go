package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskType — тип задачи. Закрытое множество: payload каждого типа
// имеет фиксированную форму и валидируется исчерпывающе на ingress.
type TaskType string

const (
	// TaskIndexEntry — индексация одной journal entry.
	TaskIndexEntry TaskType = "index_entry"

	// TaskIndexBatch — индексация пакета entries. Каждый элемент
	// выполняется независимо, частичный провал не отменяет остальные.
	TaskIndexBatch TaskType = "index_batch"

	// TaskReindexTradition — переиндексация всех документов tradition
	// без удаления коллекции.
	TaskReindexTradition TaskType = "reindex_tradition"

	// TaskRebuildTradition — полная пересборка индекса tradition:
	// коллекция удаляется и наполняется заново из document store.
	TaskRebuildTradition TaskType = "rebuild_tradition"

	// TaskHealthCheck — проба доступности внешних зависимостей,
	// проходит через тот же pipeline, что и остальные задачи.
	TaskHealthCheck TaskType = "health_check"
)

// ParseTaskType парсит строку в TaskType.
func ParseTaskType(s string) (TaskType, error) {
	switch TaskType(s) {
	case TaskIndexEntry, TaskIndexBatch, TaskReindexTradition, TaskRebuildTradition, TaskHealthCheck:
		return TaskType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskType, s)
	}
}

// PoolClass — целевой worker pool для задачи.
type PoolClass string

const (
	// PoolIndexing — широкий пул для коротких задач индексации.
	PoolIndexing PoolClass = "indexing"

	// PoolMaintenance — узкий пул для долгих rebuild/reindex задач.
	PoolMaintenance PoolClass = "maintenance"
)

// Pool возвращает пул, в котором выполняется данный тип задачи.
// health_check идёт в indexing пул (низший приоритет, лёгкая работа).
func (t TaskType) Pool() PoolClass {
	switch t {
	case TaskReindexTradition, TaskRebuildTradition:
		return PoolMaintenance
	default:
		return PoolIndexing
	}
}

// AckDeadline возвращает окно подтверждения для push-доставки данного
// типа. Брокер переотправляет задачу, если receiver не ответил вовремя.
func (t TaskType) AckDeadline() time.Duration {
	switch t {
	case TaskIndexEntry, TaskHealthCheck:
		return 30 * time.Second
	case TaskIndexBatch:
		return 120 * time.Second
	default:
		return 600 * time.Second
	}
}

// IdempotencyTTL возвращает срок жизни idempotency-записи для типа.
// Для tradition-операций TTL короткий: повторная пересборка спустя
// время должна выполняться заново, а не схлопываться.
func (t TaskType) IdempotencyTTL() time.Duration {
	switch t {
	case TaskIndexEntry, TaskIndexBatch:
		return 6 * time.Hour
	case TaskHealthCheck:
		return 10 * time.Second
	default:
		return 5 * time.Minute
	}
}

// Privileged возвращает true для операций, требующих shared-secret.
func (t TaskType) Privileged() bool {
	return t == TaskReindexTradition || t == TaskRebuildTradition
}

// EntryRef — ссылка на journal entry внутри payload.
type EntryRef struct {
	EntryID   string `json:"entry_id"`
	UserID    string `json:"user_id"`
	Tradition string `json:"tradition"`
}

// IndexEntryPayload — payload задачи index_entry.
type IndexEntryPayload struct {
	EntryID   string `json:"entry_id"`
	UserID    string `json:"user_id"`
	Tradition string `json:"tradition"`
}

// IndexBatchPayload — payload задачи index_batch.
type IndexBatchPayload struct {
	Entries []EntryRef `json:"entries"`
}

// TraditionPayload — payload задач reindex_tradition и rebuild_tradition.
type TraditionPayload struct {
	Tradition string `json:"tradition"`
}

// HealthCheckPayload — payload задачи health_check. Полей нет,
// но форма всё равно валидируется (лишние поля отклоняются).
type HealthCheckPayload struct{}

// decodeStrict декодирует JSON, отклоняя неизвестные поля.
func decodeStrict(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// ValidatePayload проверяет форму payload для типа задачи.
// Возвращает ErrValidation, если payload не соответствует типу.
func ValidatePayload(t TaskType, raw json.RawMessage) error {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	switch t {
	case TaskIndexEntry:
		var p IndexEntryPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if p.EntryID == "" || p.UserID == "" || p.Tradition == "" {
			return fmt.Errorf("%w: entry_id, user_id and tradition are required", ErrValidation)
		}
	case TaskIndexBatch:
		var p IndexBatchPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if len(p.Entries) == 0 {
			return fmt.Errorf("%w: entries must not be empty", ErrValidation)
		}
		for i, e := range p.Entries {
			if e.EntryID == "" || e.UserID == "" || e.Tradition == "" {
				return fmt.Errorf("%w: entries[%d]: entry_id, user_id and tradition are required", ErrValidation, i)
			}
		}
	case TaskReindexTradition, TaskRebuildTradition:
		var p TraditionPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
		if p.Tradition == "" {
			return fmt.Errorf("%w: tradition is required", ErrValidation)
		}
	case TaskHealthCheck:
		var p HealthCheckPayload
		if err := decodeStrict(raw, &p); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTaskType, t)
	}

	return nil
}

// IdempotencyKey детерминированно выводит ключ идемпотентности из
// payload (не из task_id): повторная доставка той же логической задачи
// схлопывается в один и тот же ключ.
func IdempotencyKey(t TaskType, raw json.RawMessage) (string, error) {
	switch t {
	case TaskIndexEntry:
		var p IndexEntryPayload
		if err := decodeStrict(raw, &p); err != nil {
			return "", err
		}
		return EntryIdempotencyKey(p.EntryID), nil
	case TaskIndexBatch:
		var p IndexBatchPayload
		if err := decodeStrict(raw, &p); err != nil {
			return "", err
		}
		ids := make([]string, 0, len(p.Entries))
		for _, e := range p.Entries {
			ids = append(ids, e.EntryID)
		}
		sort.Strings(ids)
		sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
		return "batch:" + hex.EncodeToString(sum[:]), nil
	case TaskReindexTradition:
		var p TraditionPayload
		if err := decodeStrict(raw, &p); err != nil {
			return "", err
		}
		return "reindex:" + p.Tradition, nil
	case TaskRebuildTradition:
		var p TraditionPayload
		if err := decodeStrict(raw, &p); err != nil {
			return "", err
		}
		return "rebuild:" + p.Tradition, nil
	case TaskHealthCheck:
		return "health", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskType, t)
	}
}

// EntryIdempotencyKey — ключ идемпотентности отдельной entry.
// Используется и для index_entry задач, и для элементов index_batch:
// повторный batch не выполняет уже проиндексированные entries.
func EntryIdempotencyKey(entryID string) string {
	return "entry:" + entryID
}

// TaskEnvelope — единица работы в pipeline.
//
// Создаётся на ingress, классифицируется Dispatcher'ом, выполняется
// Worker Pool'ом. Мутируют envelope только они: Dispatcher выставляет
// PENDING, worker двигает disposition и счётчик попыток.
type TaskEnvelope struct {
	// ID — уникальный идентификатор задачи. Генерируется на ingress,
	// если caller его не передал.
	ID uuid.UUID `json:"task_id"`

	// Type — тип задачи из закрытого множества.
	Type TaskType `json:"task_type"`

	// Payload — типоспецифичные данные, валидированы на ingress.
	Payload json.RawMessage `json:"payload,omitempty"`

	// IdempotencyKey — выведен из payload, не из ID.
	IdempotencyKey string `json:"idempotency_key"`

	// DeliveryAttempt — счётчик попыток выполнения. Инкрементируется
	// worker'ом. Отдельный от счётчика redelivery брокера: брокер
	// считает недоставленные ack, мы считаем попытки handler'а.
	DeliveryAttempt int `json:"delivery_attempt"`

	// EnqueuedAt — время постановки в очередь.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// AckDeadline — дедлайн подтверждения push-доставки.
	AckDeadline time.Time `json:"ack_deadline"`

	// Disposition — текущее состояние задачи.
	Disposition Disposition `json:"disposition"`

	// ErrorClass — класс последней ошибки (пусто при успехе).
	ErrorClass ErrorClass `json:"error_class,omitempty"`

	// LastError — текст последней ошибки.
	LastError string `json:"last_error,omitempty"`

	// FinishedAt — время достижения терминального disposition.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// CreatedAt — время создания envelope.
	CreatedAt time.Time `json:"created_at"`
}

// NewEnvelope создаёт envelope для валидированного payload.
func NewEnvelope(t TaskType, raw json.RawMessage) (*TaskEnvelope, error) {
	if err := ValidatePayload(t, raw); err != nil {
		return nil, err
	}
	key, err := IdempotencyKey(t, raw)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &TaskEnvelope{
		ID:             uuid.New(),
		Type:           t,
		Payload:        raw,
		IdempotencyKey: key,
		Disposition:    DispositionPending,
		EnqueuedAt:     now,
		AckDeadline:    now.Add(t.AckDeadline()),
		CreatedAt:      now,
	}, nil
}

// IsFinished возвращает true, если envelope в терминальном состоянии.
func (e *TaskEnvelope) IsFinished() bool {
	return e.Disposition.IsTerminal()
}

// MarkInFlight переводит envelope в IN_FLIGHT и инкрементирует попытку.
// Ack deadline сдвигается на свежее окно: пока попытка жива, redelivery
// не должна принимать её за брошенную и запускать вторую.
func (e *TaskEnvelope) MarkInFlight() {
	e.Disposition = DispositionInFlight
	e.DeliveryAttempt++
	e.AckDeadline = time.Now().UTC().Add(e.Type.AckDeadline())
}

// MarkSucceeded переводит envelope в SUCCEEDED.
func (e *TaskEnvelope) MarkSucceeded() {
	now := time.Now().UTC()
	e.Disposition = DispositionSucceeded
	e.ErrorClass = ""
	e.LastError = ""
	e.FinishedAt = &now
}

// MarkRetryable фиксирует повторяемую ошибку.
func (e *TaskEnvelope) MarkRetryable(class ErrorClass, errMsg string) {
	e.Disposition = DispositionFailedRetryable
	e.ErrorClass = class
	e.LastError = errMsg
}

// MarkTerminal фиксирует терминальную ошибку.
func (e *TaskEnvelope) MarkTerminal(class ErrorClass, errMsg string) {
	now := time.Now().UTC()
	e.Disposition = DispositionFailedTerminal
	e.ErrorClass = class
	e.LastError = errMsg
	e.FinishedAt = &now
}
