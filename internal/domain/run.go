package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ограничения и значения по умолчанию для параметров run.
const (
	MinMaxParallel = 1
	MaxMaxParallel = 16

	DefaultMaxParallel   = 4
	DefaultStepTimeoutMs = 300_000
)

// RunOptions — параметры запуска плана.
type RunOptions struct {
	// ContinueOnError — если true, упавший шаг не останавливает
	// независимые от него ветки.
	ContinueOnError bool `json:"continue_on_error"`

	// MaxParallel — максимум шагов, выполняющихся одновременно в рамках run.
	MaxParallel int `json:"max_parallel"`

	// DefaultStepTimeoutMs — таймаут для шагов без собственного timeout_ms.
	DefaultStepTimeoutMs int `json:"default_step_timeout_ms"`

	// Lane — непрозрачный ключ группировки для хоста.
	Lane string `json:"lane,omitempty"`

	// Thinking — уровень thinking по умолчанию для исполнителя.
	Thinking string `json:"thinking,omitempty"`
}

// WithDefaults заполняет нулевые значения значениями по умолчанию.
func (o RunOptions) WithDefaults(maxParallel, stepTimeoutMs int) RunOptions {
	if o.MaxParallel == 0 {
		o.MaxParallel = maxParallel
	}
	if o.DefaultStepTimeoutMs == 0 {
		o.DefaultStepTimeoutMs = stepTimeoutMs
	}
	return o
}

// Validate проверяет диапазоны параметров.
func (o RunOptions) Validate() error {
	if o.MaxParallel < MinMaxParallel || o.MaxParallel > MaxMaxParallel {
		return NewValidationError("", "max_parallel",
			fmt.Sprintf("max_parallel %d out of range [%d, %d]", o.MaxParallel, MinMaxParallel, MaxMaxParallel),
			ErrParallelRange)
	}
	if o.DefaultStepTimeoutMs < MinStepTimeoutMs || o.DefaultStepTimeoutMs > MaxStepTimeoutMs {
		return NewValidationError("", "default_step_timeout_ms",
			fmt.Sprintf("default_step_timeout_ms %d out of range [%d, %d]",
				o.DefaultStepTimeoutMs, MinStepTimeoutMs, MaxStepTimeoutMs),
			ErrTimeoutRange)
	}
	return nil
}

// StepTimeout возвращает эффективный таймаут шага.
func (o RunOptions) StepTimeout(step *PlanStep) time.Duration {
	ms := step.TimeoutMs
	if ms == 0 {
		ms = o.DefaultStepTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// StepResult — результат шага, записанный после его завершения.
//
// Artifact хранится в сериализованном виде, чтобы копии результата
// не разделяли изменяемых значений исполнителя.
type StepResult struct {
	Status   ResultStatus    `json:"status,omitempty"`
	Summary  string          `json:"summary,omitempty"`
	Artifact json.RawMessage `json:"artifact,omitempty"`
	Error    string          `json:"error,omitempty"`
	Reason   FailureReason   `json:"reason,omitempty"`
}

// Clone возвращает независимую копию результата.
func (r *StepResult) Clone() *StepResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Artifact != nil {
		c.Artifact = append(json.RawMessage(nil), r.Artifact...)
	}
	return &c
}

// StepSnapshot — состояние шага на момент запроса статуса.
type StepSnapshot struct {
	ID         string      `json:"id"`
	Name       string      `json:"name,omitempty"`
	State      StepState   `json:"state"`
	Result     *StepResult `json:"result,omitempty"`
	Attempt    int         `json:"attempt"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// RunSnapshot — согласованный снимок run.
//
// Снимок — глубокая копия: его изменение не влияет на run.
type RunSnapshot struct {
	RunID       uuid.UUID      `json:"run_id"`
	Plan        *WorkflowPlan  `json:"plan"`
	Options     RunOptions     `json:"options"`
	Status      RunStatus      `json:"status"`
	Steps       []StepSnapshot `json:"steps"`
	Attempt     int            `json:"attempt"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Step возвращает снимок шага по ID.
func (s *RunSnapshot) Step(id string) (StepSnapshot, bool) {
	for _, step := range s.Steps {
		if step.ID == id {
			return step, true
		}
	}
	return StepSnapshot{}, false
}

// StepStates возвращает map stepID → состояние.
func (s *RunSnapshot) StepStates() map[string]StepState {
	states := make(map[string]StepState, len(s.Steps))
	for _, step := range s.Steps {
		states[step.ID] = step.State
	}
	return states
}

// IsFinished возвращает true, если run в финальном статусе.
func (s *RunSnapshot) IsFinished() bool {
	return s.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (s *RunSnapshot) Duration() time.Duration {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return 0
	}
	return s.CompletedAt.Sub(*s.StartedAt)
}
