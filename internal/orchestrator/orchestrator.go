package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/meshflow/internal/domain"
	"github.com/shaiso/meshflow/internal/engine"
	"github.com/shaiso/meshflow/internal/executor"
	"github.com/shaiso/meshflow/internal/telemetry"
)

// Orchestrator выполняет планы.
//
// Каждый run ведёт собственный координатор (горутина), который
// запускает готовые шаги через Executor не более max_parallel за раз,
// реагирует на их завершение и переводит run в финальный статус.
// Registry хранит все run'ы до вытеснения.
type Orchestrator struct {
	registry *Registry
	executor executor.Executor
	planner  executor.Planner
	events   *dispatcher
	metrics  *telemetry.Metrics

	defaultMaxParallel   int
	defaultStepTimeoutMs int
	abandonOnCancel      bool

	// Lifecycle
	logger  *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Registry — реестр run'ов. nil — создаётся новый.
	Registry *Registry

	// Executor — исполнитель шагов (обязателен).
	Executor executor.Executor

	// Planner — внешний планировщик для Plan. nil — автодополнение недоступно.
	Planner executor.Planner

	// Sinks — получатели событий.
	Sinks []EventSink

	// Metrics — Prometheus метрики (может быть nil).
	Metrics *telemetry.Metrics

	// Значения по умолчанию для RunOptions.
	DefaultMaxParallel   int
	DefaultStepTimeoutMs int

	// AbandonOnCancel — при отмене прерывать выполняющиеся шаги, а не ждать их.
	AbandonOnCancel bool

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	maxParallel := cfg.DefaultMaxParallel
	if maxParallel <= 0 {
		maxParallel = domain.DefaultMaxParallel
	}

	stepTimeoutMs := cfg.DefaultStepTimeoutMs
	if stepTimeoutMs <= 0 {
		stepTimeoutMs = domain.DefaultStepTimeoutMs
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Orchestrator{
		registry:             registry,
		executor:             cfg.Executor,
		planner:              cfg.Planner,
		events:               newDispatcher(cfg.Sinks, logger),
		metrics:              cfg.Metrics,
		defaultMaxParallel:   maxParallel,
		defaultStepTimeoutMs: stepTimeoutMs,
		abandonOnCancel:      cfg.AbandonOnCancel,
		logger:               logger,
		ctx:                  ctx,
		cancel:               cancel,
	}
}

// Registry возвращает реестр run'ов.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// PlanRequest — запрос на создание плана.
type PlanRequest struct {
	Goal  string            `json:"goal"`
	Steps []domain.PlanStep `json:"steps,omitempty"`

	// AutoComplete — передать набросок планировщику даже при наличии шагов.
	AutoComplete bool `json:"auto_complete,omitempty"`
}

// Plan валидирует набросок и, если нужно, дополняет его через планировщик.
//
// Планировщик вызывается, если шаги не заданы или запрошено AutoComplete.
// Результат планировщика проходит ту же валидацию, что и ручной план.
func (o *Orchestrator) Plan(ctx context.Context, req PlanRequest) (*domain.WorkflowPlan, error) {
	steps := req.Steps

	if len(steps) == 0 || req.AutoComplete {
		if o.planner == nil {
			return nil, domain.ErrPlannerUnavailable
		}
		if req.Goal == "" {
			return nil, domain.NewValidationError("", "goal", "plan goal is empty", domain.ErrEmptyGoal)
		}

		drafted, err := o.planner.Draft(ctx, req.Goal, steps)
		if err != nil {
			return nil, fmt.Errorf("draft plan: %w", err)
		}
		steps = drafted
	}

	plan, _, err := engine.Resolve(domain.PlanDraft{Goal: req.Goal, Steps: steps})
	if err != nil {
		return nil, err
	}

	o.logger.Debug("plan created", "plan_id", plan.PlanID, "steps", len(plan.Steps))
	return plan, nil
}

// Run принимает план на выполнение и сразу возвращает ID run.
//
// Невалидный план или параметры — ошибка domain.ErrInvalidPlan,
// run при этом не создаётся.
func (o *Orchestrator) Run(ctx context.Context, plan *domain.WorkflowPlan, opts domain.RunOptions) (uuid.UUID, error) {
	if o.IsStopped() {
		return uuid.Nil, ErrOrchestratorStopped
	}

	if err := plan.Validate(); err != nil {
		return uuid.Nil, err
	}

	opts = opts.WithDefaults(o.defaultMaxParallel, o.defaultStepTimeoutMs)
	if err := opts.Validate(); err != nil {
		return uuid.Nil, err
	}

	plan = plan.Clone()
	dag, err := engine.BuildDAG(plan)
	if err != nil {
		return uuid.Nil, err
	}

	run := NewRunState(uuid.New(), plan, dag, opts)
	if err := o.registry.Register(run); err != nil {
		return uuid.Nil, err
	}
	o.metrics.RunSubmitted()

	run.mu.Lock()
	err = o.startLocked(run)
	run.mu.Unlock()
	if err != nil {
		o.registry.Remove(run.RunID())
		return uuid.Nil, err
	}

	o.logger.Info("run submitted",
		"run_id", run.RunID(),
		"plan_id", plan.PlanID,
		"steps", len(plan.Steps),
		"max_parallel", opts.MaxParallel,
		"continue_on_error", opts.ContinueOnError,
	)
	return run.RunID(), nil
}

// Status возвращает снимок run. Не меняет состояние.
func (o *Orchestrator) Status(id uuid.UUID) (*domain.RunSnapshot, error) {
	run, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}
	return run.Snapshot(), nil
}

// Retry перезапускает шаги run.
//
// stepIDs пуст — перезапускаются все FAILED и SKIPPED шаги.
// Каждый названный шаг должен существовать и быть FAILED или SKIPPED.
// Названные шаги переходят в RETRYING, все шаги ниже по графу — в PENDING;
// остальные шаги сохраняют своё состояние и повторно не выполняются.
func (o *Orchestrator) Retry(ctx context.Context, id uuid.UUID, stepIDs []string) error {
	run, err := o.registry.Get(id)
	if err != nil {
		return err
	}
	return o.retry(run, stepIDs)
}

// retry применяет Retry к найденному run. Run мог быть вытеснен
// между поиском в реестре и захватом run.mu.
func (o *Orchestrator) retry(run *RunState, stepIDs []string) error {
	run.mu.Lock()
	if run.evicted {
		run.mu.Unlock()
		return domain.ErrNotFound
	}
	targets, err := run.retryTargetsLocked(stepIDs)
	if err != nil {
		run.mu.Unlock()
		return err
	}

	// o.mu удерживается от проверки остановки до запуска координатора:
	// сброшенный run не может остаться без координатора
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		run.mu.Unlock()
		return ErrOrchestratorStopped
	}

	now := time.Now().UTC()
	run.resetForRetryLocked(targets, now)
	o.emit(run.runEventLocked(domain.EventRunRetried, now))

	if run.driving {
		run.signal()
	} else {
		o.spawnLocked(run)
	}
	attempt := run.attempt
	o.mu.Unlock()
	run.mu.Unlock()

	o.metrics.RunRetried()

	o.logger.Info("run retried", "run_id", run.id, "steps", targets, "attempt", attempt)
	return nil
}

// Cancel останавливает запуск новых шагов run.
//
// Выполняющиеся шаги дожидаются завершения, либо прерываются,
// если оркестратор создан с AbandonOnCancel. Run завершится
// в статусе CANCELLED. Для завершённого run — domain.ErrRunFinished.
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	run, err := o.registry.Get(id)
	if err != nil {
		return err
	}

	run.mu.Lock()
	if run.status.IsTerminal() {
		run.mu.Unlock()
		return domain.ErrRunFinished
	}
	if run.cancelRequested {
		run.mu.Unlock()
		return nil
	}

	run.requestCancelLocked(o.abandonOnCancel)
	o.emit(run.runEventLocked(domain.EventRunCancelled, time.Now().UTC()))
	run.mu.Unlock()

	o.logger.Info("run cancel requested", "run_id", id, "abandon", o.abandonOnCancel)
	return nil
}

// Wait блокируется, пока координатор run не достигнет покоя
// (run в финальном статусе), или до отмены ctx.
func (o *Orchestrator) Wait(ctx context.Context, id uuid.UUID) (*domain.RunSnapshot, error) {
	run, err := o.registry.Get(id)
	if err != nil {
		return nil, err
	}

	run.mu.Lock()
	idle := run.idle
	run.mu.Unlock()

	select {
	case <-idle:
		return run.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListActive возвращает ID незавершённых run'ов.
func (o *Orchestrator) ListActive() []uuid.UUID {
	return o.registry.ListActive()
}

// List возвращает снимки всех run'ов в реестре.
func (o *Orchestrator) List() []*domain.RunSnapshot {
	runs := o.registry.List()
	snaps := make([]*domain.RunSnapshot, 0, len(runs))
	for _, run := range runs {
		snaps = append(snaps, run.Snapshot())
	}
	return snaps
}

// Evict удаляет завершённый run из реестра.
func (o *Orchestrator) Evict(id uuid.UUID) error {
	run, err := o.registry.Get(id)
	if err != nil {
		return err
	}

	// run.mu удерживается до удаления: Retry не может открыть run заново
	run.mu.Lock()
	defer run.mu.Unlock()

	if !run.status.IsTerminal() || run.driving {
		return ErrRunActive
	}
	if run.evicted || !o.registry.Remove(id) {
		return domain.ErrNotFound
	}
	run.evicted = true

	o.logger.Debug("run evicted", "run_id", id)
	return nil
}

// Stop останавливает оркестратор: выполняющиеся шаги прерываются,
// координаторы завершают run'ы в статусе CANCELLED. Stop возвращается
// после доставки всех событий sink'ам.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	already := o.stopped
	o.stopped = true
	o.mu.Unlock()

	if already {
		o.wg.Wait()
		o.events.close()
		return
	}

	o.logger.Info("stopping orchestrator...")
	o.cancel()
	o.wg.Wait()
	o.events.close()

	o.logger.Info("orchestrator stopped", "runs", o.registry.Len())
}

// IsStopped проверяет, остановлен ли Orchestrator.
func (o *Orchestrator) IsStopped() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stopped
}

// startLocked запускает координатор run. Вызывается под run.mu.
func (o *Orchestrator) startLocked(run *RunState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped {
		return ErrOrchestratorStopped
	}
	o.spawnLocked(run)
	return nil
}

// spawnLocked запускает горутину координатора. Вызывается под run.mu и o.mu.
func (o *Orchestrator) spawnLocked(run *RunState) {
	run.driving = true
	run.idle = make(chan struct{})

	o.wg.Add(1)
	go o.drive(run)
}

// retryTargetsLocked определяет и проверяет шаги для retry.
func (s *RunState) retryTargetsLocked(stepIDs []string) ([]string, error) {
	if s.cancelRequested && !s.status.IsTerminal() {
		return nil, fmt.Errorf("%w: run is being cancelled", domain.ErrInvalidRetryTarget)
	}

	if len(stepIDs) == 0 {
		targets := make([]string, 0)
		for _, node := range s.dag.Order {
			if s.steps[node.ID].state.IsRetryable() {
				targets = append(targets, node.ID)
			}
		}
		if len(targets) == 0 {
			return nil, fmt.Errorf("%w: no failed or skipped steps", domain.ErrInvalidRetryTarget)
		}
		return targets, nil
	}

	seen := make(map[string]bool, len(stepIDs))
	targets := make([]string, 0, len(stepIDs))
	for _, id := range stepIDs {
		if seen[id] {
			continue
		}
		seen[id] = true

		rec, ok := s.steps[id]
		if !ok {
			return nil, fmt.Errorf("%w: step %q not in plan", domain.ErrInvalidRetryTarget, id)
		}
		if !rec.state.IsRetryable() {
			return nil, fmt.Errorf("%w: step %q is %s", domain.ErrInvalidRetryTarget, id, rec.state)
		}
		targets = append(targets, id)
	}

	for _, node := range s.dag.Downstream(targets...) {
		if s.steps[node.ID].state == domain.StepStateRunning {
			return nil, fmt.Errorf("%w: downstream step %q is running", domain.ErrInvalidRetryTarget, node.ID)
		}
	}
	return targets, nil
}

// resetForRetryLocked переводит шаги в RETRYING/PENDING и пересчитывает готовность.
func (s *RunState) resetForRetryLocked(targets []string, now time.Time) {
	for _, id := range targets {
		rec := s.steps[id]
		rec.state = domain.StepStateRetrying
		rec.result = nil
		rec.finishedAt = nil
	}
	for _, node := range s.dag.Downstream(targets...) {
		rec := s.steps[node.ID]
		rec.state = domain.StepStatePending
		rec.result = nil
		rec.finishedAt = nil
	}

	// Пересчёт готовности в топологическом порядке: состояние
	// зависимостей уже известно к моменту проверки узла.
	for _, node := range s.dag.Topo {
		rec := s.steps[node.ID]
		if rec.state != domain.StepStatePending && rec.state != domain.StepStateRetrying {
			continue
		}
		if dep, blocked := s.depsBlockedLocked(node); blocked {
			s.skipLocked(node.ID, domain.ReasonDependencyFailed, fmt.Sprintf("dependency %s did not succeed", dep), now)
			continue
		}
		if rec.state == domain.StepStatePending && s.depsSucceededLocked(node) {
			rec.state = domain.StepStateReady
		}
	}

	s.status = domain.RunStatusRunning
	s.cancelRequested = false
	s.completedAt = nil
	s.errMsg = ""
	s.attempt++
}

// requestCancelLocked останавливает диспетчеризацию; abandon прерывает выполняющиеся шаги.
func (s *RunState) requestCancelLocked(abandon bool) {
	s.cancelRequested = true
	if abandon {
		for _, cancel := range s.stepCancels {
			cancel()
		}
	}
	s.signal()
}

// signal будит координатор run.
func (s *RunState) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// errorIsCaller сообщает, что ошибка — ошибка вызывающей стороны, а не инфраструктуры.
func errorIsCaller(err error) bool {
	return errors.Is(err, domain.ErrInvalidPlan) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrInvalidRetryTarget) ||
		errors.Is(err, domain.ErrRunFinished)
}
