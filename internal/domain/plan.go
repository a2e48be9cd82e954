package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ограничения плана.
const (
	MaxPlanSteps     = 128
	MaxStepDeps      = 64
	MinStepTimeoutMs = 1_000
	MaxStepTimeoutMs = 3_600_000
)

// Базовые ошибки валидации полей.
var (
	ErrEmptyGoal      = errors.New("plan goal is empty")
	ErrEmptyPrompt    = errors.New("step prompt is empty")
	ErrTooManyDeps    = errors.New("step has too many dependencies")
	ErrTimeoutRange   = errors.New("timeout out of range")
	ErrParallelRange  = errors.New("max_parallel out of range")
	ErrStepCountRange = errors.New("step count out of range")
)

// PlanStep — один узел DAG плана.
//
// Шаг — это делегированная задача: prompt передаётся исполнителю (агенту)
// как есть, оркестратор его не интерпретирует.
type PlanStep struct {
	// ID — уникальный в рамках плана идентификатор.
	ID string `json:"id" yaml:"id"`

	// Name — человекочитаемое имя шага.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Prompt — описание задачи для исполнителя.
	Prompt string `json:"prompt" yaml:"prompt"`

	// DependsOn — шаги, которые должны успешно завершиться до старта этого шага.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`

	// AgentID и SessionKey — подсказки маршрутизации: какой агент/сессия выполняет шаг.
	AgentID    string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	SessionKey string `json:"session_key,omitempty" yaml:"session_key,omitempty"`

	// Thinking — подсказка исполнителю (уровень усилия), передаётся без изменений.
	Thinking string `json:"thinking,omitempty" yaml:"thinking,omitempty"`

	// TimeoutMs — таймаут шага. 0 — использовать default_step_timeout_ms run'а.
	TimeoutMs int `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Validate проверяет поля шага (без учёта графа).
func (s *PlanStep) Validate() error {
	if strings.TrimSpace(s.Prompt) == "" {
		return NewValidationError(s.ID, "prompt", "step prompt is empty", ErrEmptyPrompt)
	}
	if len(s.DependsOn) > MaxStepDeps {
		return NewValidationError(s.ID, "depends_on",
			fmt.Sprintf("step has %d dependencies, max %d", len(s.DependsOn), MaxStepDeps), ErrTooManyDeps)
	}
	if s.TimeoutMs != 0 && (s.TimeoutMs < MinStepTimeoutMs || s.TimeoutMs > MaxStepTimeoutMs) {
		return NewValidationError(s.ID, "timeout_ms",
			fmt.Sprintf("timeout_ms %d out of range [%d, %d]", s.TimeoutMs, MinStepTimeoutMs, MaxStepTimeoutMs),
			ErrTimeoutRange)
	}
	return nil
}

// WorkflowPlan — DAG шагов, отправленный на выполнение.
//
// После старта run план не меняется: run хранит собственную копию.
type WorkflowPlan struct {
	// PlanID — уникальный идентификатор плана.
	PlanID string `json:"plan_id" yaml:"plan_id"`

	// Goal — человекочитаемая цель плана.
	Goal string `json:"goal" yaml:"goal"`

	// CreatedAt — время создания плана.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`

	// Steps — шаги в порядке объявления. Порядок используется для tie-break
	// при выборе из нескольких готовых шагов.
	Steps []PlanStep `json:"steps" yaml:"steps"`
}

// PlanDraft — входные данные фабрики NewWorkflowPlan.
type PlanDraft struct {
	PlanID    string     `json:"plan_id,omitempty" yaml:"plan_id,omitempty"`
	Goal      string     `json:"goal" yaml:"goal"`
	CreatedAt time.Time  `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Steps     []PlanStep `json:"steps" yaml:"steps"`
}

// NewWorkflowPlan создаёт план из черновика.
//
// Генерирует недостающие PlanID/ID шагов/CreatedAt, копирует срезы
// вызывающей стороны и валидирует поля. Проверки графа (циклы, висячие
// ссылки) выполняет engine.BuildDAG.
func NewWorkflowPlan(d PlanDraft) (*WorkflowPlan, error) {
	plan := &WorkflowPlan{
		PlanID:    d.PlanID,
		Goal:      strings.TrimSpace(d.Goal),
		CreatedAt: d.CreatedAt,
		Steps:     make([]PlanStep, len(d.Steps)),
	}
	if plan.PlanID == "" {
		plan.PlanID = uuid.NewString()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	for i, step := range d.Steps {
		step.ID = strings.TrimSpace(step.ID)
		if step.ID == "" {
			step.ID = GenerateStepID()
		}
		step.DependsOn = append([]string(nil), step.DependsOn...)
		plan.Steps[i] = step
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// GenerateStepID возвращает новый идентификатор шага вида "step-1a2b3c4d".
func GenerateStepID() string {
	return "step-" + uuid.NewString()[:8]
}

// Validate проверяет поля плана и каждого шага.
// Используется для планов, пришедших извне (API, очередь).
func (p *WorkflowPlan) Validate() error {
	if p == nil {
		return NewValidationError("", "steps", "plan is empty", ErrStepCountRange)
	}
	if strings.TrimSpace(p.Goal) == "" {
		return NewValidationError("", "goal", "plan goal is empty", ErrEmptyGoal)
	}
	if len(p.Steps) == 0 || len(p.Steps) > MaxPlanSteps {
		return NewValidationError("", "steps",
			fmt.Sprintf("plan has %d steps, expected 1..%d", len(p.Steps), MaxPlanSteps), ErrStepCountRange)
	}
	for i := range p.Steps {
		if err := p.Steps[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Clone возвращает глубокую копию плана.
func (p *WorkflowPlan) Clone() *WorkflowPlan {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Steps = make([]PlanStep, len(p.Steps))
	for i, step := range p.Steps {
		step.DependsOn = append([]string(nil), step.DependsOn...)
		cp.Steps[i] = step
	}
	return &cp
}

// Step возвращает шаг по ID.
func (p *WorkflowPlan) Step(id string) (*PlanStep, bool) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], true
		}
	}
	return nil, false
}
