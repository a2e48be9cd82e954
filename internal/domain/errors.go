package domain

import "errors"

// Ошибки, видимые вызывающей стороне оркестратора.
var (
	// ErrInvalidPlan — план не прошёл валидацию (цикл, висячая зависимость,
	// дубликат ID, значения вне допустимых диапазонов).
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrNotFound — run с таким ID не найден.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidRetryTarget — шаг нельзя перезапустить (не существует,
	// выполняется или уже завершён успешно).
	ErrInvalidRetryTarget = errors.New("invalid retry target")

	// ErrRunFinished — операция невозможна, run уже в финальном статусе.
	ErrRunFinished = errors.New("run already finished")

	// ErrPlannerUnavailable — автодополнение плана запрошено, но планировщик не настроен.
	ErrPlannerUnavailable = errors.New("planner is not configured")
)

// ValidationError — ошибка валидации плана с контекстом.
//
// Любая ValidationError считается ErrInvalidPlan:
// errors.Is(err, ErrInvalidPlan) возвращает true.
type ValidationError struct {
	StepID  string // ID шага, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepID != "" {
		return "step " + e.StepID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is сопоставляет ошибку с ErrInvalidPlan.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidPlan
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepID, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepID:  stepID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
