// Package worker — выполнение задач pipeline.
//
// Два пула (indexing и maintenance) потребляют очереди своего класса;
// ширина пула задаётся prefetch'ем consumer'а. Processor ведёт
// жизненный цикл envelope: попытки, классификация ошибок, retry с
// backoff, эскалация в dead letter. Сами задачи выполняют Executor'ы,
// зарегистрированные по типу.
package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Sutra/internal/domain"
)

// Executor выполняет задачу одного типа.
type Executor interface {
	// Execute выполняет одну попытку. Ошибка классифицируется
	// Processor'ом через domain.Classify.
	Execute(ctx context.Context, env *domain.TaskEnvelope) error
}

// ExecutorFunc — адаптер функции к Executor.
type ExecutorFunc func(ctx context.Context, env *domain.TaskEnvelope) error

// Execute вызывает f.
func (f ExecutorFunc) Execute(ctx context.Context, env *domain.TaskEnvelope) error {
	return f(ctx, env)
}

// Registry — реестр executor'ов по типу задачи.
type Registry struct {
	executors map[domain.TaskType]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[domain.TaskType]Executor),
	}
}

// Register регистрирует executor для типа задачи.
func (r *Registry) Register(t domain.TaskType, e Executor) {
	r.executors[t] = e
}

// Get возвращает executor для типа задачи.
func (r *Registry) Get(t domain.TaskType) (Executor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("%w: no executor for %q", domain.ErrUnknownTaskType, t)
	}
	return e, nil
}
