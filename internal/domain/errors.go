package domain

import (
	"context"
	"errors"
)

// Ошибки pipeline. Классификация решает судьбу задачи:
// transient/timeout уходят в retry, остальные терминальны.
var (
	// ErrValidation — некорректный payload. Отклоняется на ingress,
	// в pipeline не попадает.
	ErrValidation = errors.New("validation failed")

	// ErrAuth — отсутствующий или неверный секрет привилегированной
	// операции. Отклоняется на ingress.
	ErrAuth = errors.New("authentication failed")

	// ErrLockContention — rebuild для tradition уже идёт. Терминальна:
	// конкурирующая пересборка даст эквивалентный результат.
	ErrLockContention = errors.New("rebuild lock is held")

	// ErrTransient — внешняя зависимость временно недоступна.
	ErrTransient = errors.New("transient dependency failure")

	// ErrTimeout — попытка превысила бюджет времени выполнения.
	ErrTimeout = errors.New("execution timeout")

	// ErrUnknownTaskType — тип задачи вне закрытого множества.
	ErrUnknownTaskType = errors.New("unknown task type")
)

// Disposition — состояние задачи в pipeline.
//
// Жизненный цикл:
//
//	PENDING → IN_FLIGHT → SUCCEEDED
//	                    ↘ FAILED_RETRYABLE → IN_FLIGHT (retry)
//	                    ↘ FAILED_TERMINAL (dead letter)
type Disposition string

const (
	// DispositionPending — задача принята и ожидает выполнения.
	DispositionPending Disposition = "PENDING"

	// DispositionInFlight — задача выполняется worker'ом.
	DispositionInFlight Disposition = "IN_FLIGHT"

	// DispositionSucceeded — задача успешно завершена.
	DispositionSucceeded Disposition = "SUCCEEDED"

	// DispositionFailedRetryable — попытка провалилась, будет retry.
	DispositionFailedRetryable Disposition = "FAILED_RETRYABLE"

	// DispositionFailedTerminal — задача исчерпала бюджет или ошибка
	// неповторяемая; уходит в dead-letter store.
	DispositionFailedTerminal Disposition = "FAILED_TERMINAL"
)

// IsTerminal возвращает true для финальных состояний.
func (d Disposition) IsTerminal() bool {
	switch d {
	case DispositionSucceeded, DispositionFailedTerminal:
		return true
	default:
		return false
	}
}

// ErrorClass — класс ошибки выполнения.
type ErrorClass string

const (
	ErrorClassValidation     ErrorClass = "VALIDATION"
	ErrorClassAuth           ErrorClass = "AUTH"
	ErrorClassLockContention ErrorClass = "LOCK_CONTENTION"
	ErrorClassTransient      ErrorClass = "TRANSIENT"
	ErrorClassTimeout        ErrorClass = "TIMEOUT"

	// ErrorClassPermanent — бюджет retry исчерпан на повторяемой ошибке.
	ErrorClassPermanent ErrorClass = "PERMANENT"
)

// Retryable возвращает true для классов, подлежащих retry с backoff.
func (c ErrorClass) Retryable() bool {
	return c == ErrorClassTransient || c == ErrorClassTimeout
}

// Classify определяет класс ошибки по цепочке wrapped errors.
// Неизвестные ошибки считаются transient: сеть и зависимости падают
// чаще, чем появляются новые категории логических ошибок.
func Classify(err error) ErrorClass {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnknownTaskType):
		return ErrorClassValidation
	case errors.Is(err, ErrAuth):
		return ErrorClassAuth
	case errors.Is(err, ErrLockContention):
		return ErrorClassLockContention
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	default:
		return ErrorClassTransient
	}
}
