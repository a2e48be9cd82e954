package engine

import (
	"errors"

	"github.com/shaiso/meshflow/internal/domain"
)

// Ошибки структуры графа. Все они возвращаются обёрнутыми
// в domain.ValidationError и сопоставляются с domain.ErrInvalidPlan.
var (
	// ErrEmptySteps — план не содержит шагов.
	ErrEmptySteps = errors.New("plan has no steps")

	// ErrTooManySteps — шагов больше domain.MaxPlanSteps.
	ErrTooManySteps = errors.New("plan has too many steps")

	// ErrEmptyStepID — шаг не имеет ID.
	ErrEmptyStepID = errors.New("step has empty ID")

	// ErrDuplicateStepID — несколько шагов с одинаковым ID.
	ErrDuplicateStepID = errors.New("duplicate step ID")

	// ErrMissingDependency — шаг зависит от несуществующего шага.
	ErrMissingDependency = errors.New("step depends on unknown step")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — шаг зависит от самого себя.
	ErrSelfDependency = errors.New("step depends on itself")
)

// Ошибки чтения документа плана.
var (
	// ErrPlanDecode — документ не разбирается как YAML/JSON.
	ErrPlanDecode = errors.New("plan document decode failed")
)

func newValidationError(stepID, field, message string, err error) error {
	return domain.NewValidationError(stepID, field, message, err)
}
