package domain

// RunStatus — статус выполнения run.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → COMPLETED
//	                 ↘ FAILED
//	                 ↘ PARTIALLY_COMPLETED
//	                 ↘ CANCELLED
//
// Retry переводит финальный run обратно в RUNNING.
type RunStatus string

const (
	// RunStatusQueued — run создан, координатор ещё не стартовал.
	RunStatusQueued RunStatus = "QUEUED"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusCompleted — все шаги завершились успешно.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed — шаг упал при continue_on_error=false.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusPartiallyCompleted — continue_on_error=true, часть шагов
	// упала или пропущена, run дошёл до покоя.
	RunStatusPartiallyCompleted RunStatus = "PARTIALLY_COMPLETED"

	// RunStatusCancelled — run отменён вызывающей стороной.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusPartiallyCompleted, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// StepState — состояние шага внутри run.
//
// Жизненный цикл:
//
//	PENDING → READY → RUNNING → SUCCEEDED
//	                          ↘ FAILED
//	PENDING/READY → SKIPPED (упала зависимость или run отменён)
//	FAILED/SKIPPED → RETRYING (явный retry) → RUNNING
type StepState string

const (
	StepStatePending   StepState = "PENDING"
	StepStateReady     StepState = "READY"
	StepStateRunning   StepState = "RUNNING"
	StepStateSucceeded StepState = "SUCCEEDED"
	StepStateFailed    StepState = "FAILED"
	StepStateSkipped   StepState = "SKIPPED"
	StepStateRetrying  StepState = "RETRYING"
)

// IsTerminal возвращает true для SUCCEEDED, FAILED и SKIPPED.
func (s StepState) IsTerminal() bool {
	switch s {
	case StepStateSucceeded, StepStateFailed, StepStateSkipped:
		return true
	default:
		return false
	}
}

// IsRetryable возвращает true, если шаг можно назвать в retry.
func (s StepState) IsRetryable() bool {
	return s == StepStateFailed || s == StepStateSkipped
}

// ResultStatus — итог выполнения шага, сообщённый исполнителем.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultFailure ResultStatus = "failure"

	// ResultPartial блокирует зависимые шаги так же, как failure,
	// но записывается отдельно.
	ResultPartial ResultStatus = "partial"
)

// FailureReason — причина неуспешного завершения шага.
type FailureReason string

const (
	ReasonReported         FailureReason = "reported"
	ReasonTimeout          FailureReason = "timeout"
	ReasonCancelled        FailureReason = "cancelled"
	ReasonExecutorError    FailureReason = "executor_error"
	ReasonDependencyFailed FailureReason = "dependency_failed"
)
