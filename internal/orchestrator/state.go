package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/meshflow/internal/domain"
	"github.com/shaiso/meshflow/internal/engine"
)

// stepRecord — состояние одного шага внутри run.
type stepRecord struct {
	state      domain.StepState
	result     *domain.StepResult
	attempt    int
	startedAt  *time.Time
	finishedAt *time.Time
}

// completion — результат одного выполнения шага, отправленный координатору.
type completion struct {
	stepID   string
	result   domain.StepResult
	started  time.Time
	finished time.Time
}

// RunState — состояние выполнения одного run в памяти.
//
// RunState создаётся в Orchestrator.Run и живёт в Registry до вытеснения.
// Все изменения выполняются под mu: координатором run, а также
// Retry и Cancel, которые применяет оркестратор.
type RunState struct {
	id   uuid.UUID
	plan *domain.WorkflowPlan
	dag  *engine.DAG
	opts domain.RunOptions

	mu          sync.Mutex
	status      domain.RunStatus
	steps       map[string]*stepRecord
	attempt     int
	errMsg      string
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time

	// Координация
	inFlight        int
	cancelRequested bool
	driving         bool
	evicted         bool // удалён из реестра, повторно не запускается
	idle            chan struct{} // закрыт, когда координатор не работает
	wake            chan struct{}
	done            chan completion
	stepCancels     map[string]context.CancelFunc
}

// NewRunState создаёт run в статусе QUEUED. Шаги без зависимостей — READY.
func NewRunState(id uuid.UUID, plan *domain.WorkflowPlan, dag *engine.DAG, opts domain.RunOptions) *RunState {
	s := &RunState{
		id:          id,
		plan:        plan,
		dag:         dag,
		opts:        opts,
		status:      domain.RunStatusQueued,
		steps:       make(map[string]*stepRecord, dag.Size()),
		attempt:     1,
		createdAt:   time.Now().UTC(),
		idle:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		done:        make(chan completion, dag.Size()),
		stepCancels: make(map[string]context.CancelFunc),
	}
	close(s.idle)

	for _, node := range dag.Order {
		s.steps[node.ID] = &stepRecord{state: domain.StepStatePending}
	}
	for _, node := range dag.RootNodes {
		s.steps[node.ID].state = domain.StepStateReady
	}
	return s
}

// RunID возвращает ID run.
func (s *RunState) RunID() uuid.UUID {
	return s.id
}

// Status возвращает текущий статус run.
func (s *RunState) Status() domain.RunStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// CompletedAt возвращает время завершения (nil для незавершённых).
func (s *RunState) CompletedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completedAt == nil {
		return nil
	}
	t := *s.completedAt
	return &t
}

// Snapshot возвращает согласованную глубокую копию run.
func (s *RunState) Snapshot() *domain.RunSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *RunState) snapshotLocked() *domain.RunSnapshot {
	snap := &domain.RunSnapshot{
		RunID:       s.id,
		Plan:        s.plan.Clone(),
		Options:     s.opts,
		Status:      s.status,
		Steps:       make([]domain.StepSnapshot, 0, len(s.dag.Order)),
		Attempt:     s.attempt,
		Error:       s.errMsg,
		CreatedAt:   s.createdAt,
		StartedAt:   copyTime(s.startedAt),
		CompletedAt: copyTime(s.completedAt),
	}

	for _, node := range s.dag.Order {
		rec := s.steps[node.ID]
		step := domain.StepSnapshot{
			ID:         node.ID,
			Name:       node.Step.Name,
			State:      rec.state,
			Attempt:    rec.attempt,
			StartedAt:  copyTime(rec.startedAt),
			FinishedAt: copyTime(rec.finishedAt),
		}
		step.Result = rec.result.Clone()
		snap.Steps = append(snap.Steps, step)
	}
	return snap
}

// Stats возвращает количество шагов по состояниям.
func (s *RunState) Stats() RunStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := RunStats{TotalSteps: len(s.steps)}
	for _, rec := range s.steps {
		switch rec.state {
		case domain.StepStateSucceeded:
			stats.SucceededSteps++
		case domain.StepStateFailed:
			stats.FailedSteps++
		case domain.StepStateSkipped:
			stats.SkippedSteps++
		case domain.StepStateRunning:
			stats.RunningSteps++
		default:
			stats.PendingSteps++
		}
	}
	return stats
}

// RunStats — статистика шагов run.
type RunStats struct {
	TotalSteps     int
	SucceededSteps int
	FailedSteps    int
	SkippedSteps   int
	RunningSteps   int
	PendingSteps   int
}

// depsSucceededLocked проверяет, что все зависимости узла в SUCCEEDED.
func (s *RunState) depsSucceededLocked(node *engine.Node) bool {
	for _, dep := range node.DependsOn {
		if s.steps[dep.ID].state != domain.StepStateSucceeded {
			return false
		}
	}
	return true
}

// depsBlockedLocked проверяет, что хотя бы одна зависимость FAILED или SKIPPED.
func (s *RunState) depsBlockedLocked(node *engine.Node) (string, bool) {
	for _, dep := range node.DependsOn {
		switch s.steps[dep.ID].state {
		case domain.StepStateFailed, domain.StepStateSkipped:
			return dep.ID, true
		}
	}
	return "", false
}

// haltedLocked — continue_on_error=false и есть упавший шаг: новые шаги не запускаются.
func (s *RunState) haltedLocked() bool {
	if s.opts.ContinueOnError {
		return false
	}
	for _, rec := range s.steps {
		if rec.state == domain.StepStateFailed {
			return true
		}
	}
	return false
}

// skipLocked переводит шаг в SKIPPED с указанной причиной.
func (s *RunState) skipLocked(stepID string, reason domain.FailureReason, msg string, now time.Time) {
	rec := s.steps[stepID]
	rec.state = domain.StepStateSkipped
	rec.result = &domain.StepResult{Reason: reason, Error: msg}
	rec.finishedAt = &now
}

// isWaiting — шаг ещё не выполнялся в текущей попытке run.
func isWaiting(state domain.StepState) bool {
	switch state {
	case domain.StepStatePending, domain.StepStateReady, domain.StepStateRetrying:
		return true
	default:
		return false
	}
}

// finalizeLocked вычисляет финальный статус run после достижения покоя.
func (s *RunState) finalizeLocked(now time.Time) {
	var succeeded, failed, skipped int
	firstFailed := ""

	if s.cancelRequested {
		for _, node := range s.dag.Order {
			if isWaiting(s.steps[node.ID].state) {
				s.skipLocked(node.ID, domain.ReasonCancelled, "run cancelled", now)
			}
		}
	}

	for _, node := range s.dag.Order {
		rec := s.steps[node.ID]
		switch rec.state {
		case domain.StepStateSucceeded:
			succeeded++
		case domain.StepStateFailed:
			failed++
			if firstFailed == "" {
				firstFailed = node.ID
			}
		case domain.StepStateSkipped:
			skipped++
		case domain.StepStateReady, domain.StepStateRetrying:
			// run остановлен до их запуска
			rec.state = domain.StepStatePending
		}
	}

	switch {
	case s.cancelRequested:
		s.status = domain.RunStatusCancelled
		s.errMsg = "run cancelled"
	case succeeded == len(s.steps):
		s.status = domain.RunStatusCompleted
		s.errMsg = ""
	case !s.opts.ContinueOnError:
		s.status = domain.RunStatusFailed
		if firstFailed != "" {
			s.errMsg = fmt.Sprintf("step %s failed: %s", firstFailed, s.steps[firstFailed].result.Error)
		} else {
			s.errMsg = fmt.Sprintf("%d step(s) skipped", skipped)
		}
	default:
		s.status = domain.RunStatusPartiallyCompleted
		s.errMsg = fmt.Sprintf("%d step(s) failed, %d skipped", failed, skipped)
	}
	s.completedAt = &now
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
