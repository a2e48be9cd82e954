package orchestrator

import "errors"

// Ошибки оркестратора. Ошибки, видимые вызывающей стороне
// (ErrNotFound, ErrInvalidRetryTarget, ...), определены в domain.
var (
	// ErrRunAlreadyRegistered — run с таким ID уже есть в реестре.
	ErrRunAlreadyRegistered = errors.New("run already registered")

	// ErrRunActive — run ещё выполняется (нельзя вытеснить).
	ErrRunActive = errors.New("run is still active")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
