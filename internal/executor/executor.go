package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/meshflow/internal/domain"
)

// Executor — исполнитель одного шага.
//
// ctx несёт эффективный таймаут шага и отмену run. Реализация обязана
// быть безопасной для конкурентного вызова на независимых шагах.
//
// Логический итог (success/failure/partial) возвращается в Outcome.
// Возвращённый error — инфраструктурная ошибка; оркестратор записывает
// её как failure с причиной executor_error.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*Outcome, error)
}

// Request — входные данные исполнителя.
type Request struct {
	RunID uuid.UUID
	Step  domain.PlanStep

	// Lane — lane run'а, передаётся как есть.
	Lane string

	// Thinking — эффективный уровень: thinking шага или run по умолчанию.
	Thinking string

	// Attempt — номер попытки шага, начиная с 1.
	Attempt int

	// Timeout — эффективный таймаут шага.
	Timeout time.Duration
}

// Outcome — итог выполнения шага.
type Outcome struct {
	Status   domain.ResultStatus `json:"status"`
	Summary  string              `json:"summary,omitempty"`
	Artifact any                 `json:"artifact,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// Succeeded создаёт успешный итог.
func Succeeded(summary string) *Outcome {
	return &Outcome{Status: domain.ResultSuccess, Summary: summary}
}

// Failed создаёт итог с ошибкой.
func Failed(format string, args ...any) *Outcome {
	return &Outcome{Status: domain.ResultFailure, Error: fmt.Sprintf(format, args...)}
}

// Partial создаёт частичный итог.
func Partial(summary, errMsg string) *Outcome {
	return &Outcome{Status: domain.ResultPartial, Summary: summary, Error: errMsg}
}

// Valid сообщает, что статус итога известен.
func (o *Outcome) Valid() bool {
	if o == nil {
		return false
	}
	switch o.Status {
	case domain.ResultSuccess, domain.ResultFailure, domain.ResultPartial:
		return true
	default:
		return false
	}
}

// Func адаптирует функцию к интерфейсу Executor.
type Func func(ctx context.Context, req *Request) (*Outcome, error)

// Execute вызывает f.
func (f Func) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	return f(ctx, req)
}

// Router — реестр исполнителей по agent_id.
//
// Шаг без agent_id или с незарегистрированным agent_id уходит в fallback.
type Router struct {
	mu        sync.RWMutex
	executors map[string]Executor
	fallback  Executor
}

// NewRouter создаёт роутер с исполнителем по умолчанию (может быть nil).
func NewRouter(fallback Executor) *Router {
	return &Router{
		executors: make(map[string]Executor),
		fallback:  fallback,
	}
}

// Register добавляет исполнителя для agent_id.
func (r *Router) Register(agentID string, executor Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[agentID] = executor
}

// Get возвращает исполнителя для agent_id.
func (r *Router) Get(agentID string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if executor, ok := r.executors[agentID]; ok {
		return executor, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
}

// Execute находит исполнителя по agent_id шага и делегирует ему.
func (r *Router) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	executor, err := r.Get(req.Step.AgentID)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, req)
}
