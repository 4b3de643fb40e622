// Package retry — чистая политика повторов.
//
// Контроллер не знает про очереди и хранилища: по классу ошибки и
// номеру попытки он возвращает либо задержку перед следующей попыткой,
// либо решение сдаться. Внутренний счётчик попыток независим от
// счётчика redelivery брокера: сдаёмся раньше, чем брокер исчерпает
// свой бюджет доставки.
package retry

import (
	"os"
	"strconv"
	"time"

	"github.com/shaiso/Sutra/internal/domain"
)

// Значения по умолчанию.
const (
	defaultBaseDelay  = 10 * time.Second
	defaultMaxDelay   = 600 * time.Second
	defaultMaxRetries = 3
)

// Policy — параметры backoff.
type Policy struct {
	// BaseDelay — задержка первой повторной попытки.
	BaseDelay time.Duration

	// MaxDelay — потолок экспоненциального роста.
	MaxDelay time.Duration

	// MaxRetries — бюджет внутренних повторов (не считая первой попытки).
	MaxRetries int
}

// Decision — вердикт контроллера для одной неудачной попытки.
type Decision struct {
	// RetryAfter — задержка перед следующей попыткой.
	RetryAfter time.Duration

	// GiveUp — true, если задача терминальна (dead letter).
	GiveUp bool
}

// DefaultPolicy возвращает политику по умолчанию:
// экспоненциальный backoff от 10s с удвоением, потолок 600s, 3 повтора.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:  defaultBaseDelay,
		MaxDelay:   defaultMaxDelay,
		MaxRetries: defaultMaxRetries,
	}
}

// FromEnv читает политику из окружения:
// TASK_DEFAULT_RETRY_DELAY, TASK_MAX_RETRIES.
func FromEnv() Policy {
	p := DefaultPolicy()

	if v := os.Getenv("TASK_DEFAULT_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			p.BaseDelay = d
		}
	}
	if v := os.Getenv("TASK_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			p.MaxRetries = n
		}
	}

	return p
}

// Decide возвращает вердикт для ошибки класса class на попытке attempt
// (attempt начинается с 1). Validation/Auth/LockContention сдаются
// сразу: retry не изменит исход. Transient/Timeout получают
// экспоненциальную задержку, пока не исчерпан MaxRetries.
func (p Policy) Decide(class domain.ErrorClass, attempt int) Decision {
	if !class.Retryable() {
		return Decision{GiveUp: true}
	}

	if attempt > p.MaxRetries {
		return Decision{GiveUp: true}
	}

	return Decision{RetryAfter: p.backoff(attempt)}
}

// backoff — base * 2^(attempt-1), с потолком MaxDelay.
func (p Policy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
