package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shaiso/meshflow/internal/domain"
	"github.com/shaiso/meshflow/internal/executor"
	"github.com/shaiso/meshflow/internal/telemetry"
)

// launch — шаг, отобранный для запуска.
type launch struct {
	ctx     context.Context
	req     *executor.Request
	started time.Time
}

// drive — цикл координатора run.
//
// Все изменения состояния шагов выполняются здесь под run.mu;
// шаги выполняются в отдельных горутинах и сообщают итог через run.done.
// Цикл завершается, когда run достиг покоя и не был повторно открыт retry.
func (o *Orchestrator) drive(run *RunState) {
	defer o.wg.Done()

	logger := telemetry.WithRunID(o.logger, run.RunID().String())
	stop := o.ctx.Done()

	for {
		launches, finished := o.advance(run)
		for _, l := range launches {
			go o.execute(run, l)
		}

		if finished {
			if run.release() {
				logger.Debug("coordinator idle", "status", run.Status())
				return
			}
			continue
		}

		select {
		case c := <-run.done:
			o.complete(run, c)
		case <-run.wake:
		case <-stop:
			// после остановки канал больше не нужен: ждём только завершения шагов
			stop = nil
			run.mu.Lock()
			run.requestCancelLocked(true)
			run.mu.Unlock()
			logger.Info("run interrupted by shutdown")
		}
	}
}

// advance отбирает готовые шаги в пределах max_parallel и
// финализирует run, если выполнять больше нечего.
// События ставятся в очередь под run.mu, чтобы порядок внутри run
// совпадал с порядком изменений состояния.
func (o *Orchestrator) advance(run *RunState) ([]launch, bool) {
	run.mu.Lock()
	defer run.mu.Unlock()

	now := time.Now().UTC()
	var (
		launches []launch
		events   []domain.Event
	)

	// оркестратор остановлен: run завершается как отменённый
	if o.ctx.Err() != nil {
		run.cancelRequested = true
	}

	if run.status == domain.RunStatusQueued {
		run.status = domain.RunStatusRunning
		run.startedAt = &now
		events = append(events, run.runEventLocked(domain.EventRunStarted, now))
	}

	if !run.cancelRequested && !run.haltedLocked() {
		for _, node := range run.dag.Order {
			if run.inFlight >= run.opts.MaxParallel {
				break
			}

			rec := run.steps[node.ID]
			if rec.state != domain.StepStateReady && rec.state != domain.StepStateRetrying {
				continue
			}
			if !run.depsSucceededLocked(node) {
				continue
			}

			started := now
			rec.state = domain.StepStateRunning
			rec.attempt++
			rec.startedAt = &started
			rec.result = nil
			rec.finishedAt = nil
			run.inFlight++

			ctx, cancel := context.WithCancel(o.ctx)
			run.stepCancels[node.ID] = cancel

			thinking := node.Step.Thinking
			if thinking == "" {
				thinking = run.opts.Thinking
			}

			launches = append(launches, launch{
				ctx: ctx,
				req: &executor.Request{
					RunID:    run.id,
					Step:     *node.Step,
					Lane:     run.opts.Lane,
					Thinking: thinking,
					Attempt:  rec.attempt,
					Timeout:  run.opts.StepTimeout(node.Step),
				},
				started: started,
			})
			events = append(events, run.stepEventLocked(domain.EventStepStarted, node.ID, now))
			o.metrics.StepStarted()
		}
	}

	if run.inFlight > 0 {
		o.emit(events...)
		return launches, false
	}

	run.finalizeLocked(now)
	o.metrics.RunFinished(run.status)
	events = append(events, run.runEventLocked(domain.EventRunFinished, now))
	o.emit(events...)

	o.logger.Info("run finished",
		"run_id", run.id,
		"status", run.status,
		"attempt", run.attempt,
		"error", run.errMsg,
	)
	return nil, true
}

// execute выполняет один шаг и отправляет ровно одно completion координатору.
func (o *Orchestrator) execute(run *RunState, l launch) {
	ctx, cancel := context.WithTimeout(l.ctx, l.req.Timeout)
	defer cancel()

	type outcome struct {
		out *executor.Outcome
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		out, err := o.executor.Execute(ctx, l.req)
		ch <- outcome{out: out, err: err}
	}()

	var result domain.StepResult
	select {
	case res := <-ch:
		result = resultFrom(ctx, res.out, res.err)
	case <-ctx.Done():
		result = contextFailure(ctx.Err())
	}

	run.done <- completion{
		stepID:   l.req.Step.ID,
		result:   result,
		started:  l.started,
		finished: time.Now().UTC(),
	}
}

// resultFrom переводит ответ исполнителя в результат шага.
func resultFrom(ctx context.Context, out *executor.Outcome, err error) domain.StepResult {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextFailure(ctxErr)
		}
		return domain.StepResult{
			Status: domain.ResultFailure,
			Reason: domain.ReasonExecutorError,
			Error:  err.Error(),
		}
	}

	if !out.Valid() {
		msg := "executor returned no outcome"
		if out != nil {
			msg = fmt.Sprintf("executor returned unknown status %q", out.Status)
		}
		return domain.StepResult{
			Status: domain.ResultFailure,
			Reason: domain.ReasonExecutorError,
			Error:  msg,
		}
	}

	artifact, err := encodeArtifact(out.Artifact)
	if err != nil {
		return domain.StepResult{
			Status: domain.ResultFailure,
			Reason: domain.ReasonExecutorError,
			Error:  err.Error(),
		}
	}

	result := domain.StepResult{
		Status:   out.Status,
		Summary:  out.Summary,
		Artifact: artifact,
		Error:    out.Error,
	}
	if out.Status != domain.ResultSuccess {
		result.Reason = domain.ReasonReported
		if result.Error == "" {
			result.Error = "step reported " + string(out.Status)
		}
	}
	return result
}

// encodeArtifact сериализует артефакт исполнителя один раз при записи итога.
func encodeArtifact(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return data, nil
}

func contextFailure(err error) domain.StepResult {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.StepResult{
			Status: domain.ResultFailure,
			Reason: domain.ReasonTimeout,
			Error:  "step timed out",
		}
	}
	return domain.StepResult{
		Status: domain.ResultFailure,
		Reason: domain.ReasonCancelled,
		Error:  "step cancelled",
	}
}

// complete записывает итог шага и обновляет зависимые шаги.
func (o *Orchestrator) complete(run *RunState, c completion) {
	run.mu.Lock()
	defer run.mu.Unlock()

	run.inFlight--
	if cancel, ok := run.stepCancels[c.stepID]; ok {
		cancel()
		delete(run.stepCancels, c.stepID)
	}

	finished := c.finished
	rec := run.steps[c.stepID]
	result := c.result
	rec.result = &result
	rec.finishedAt = &finished
	o.metrics.StepFinished(&result, finished.Sub(c.started))

	node := run.dag.GetNode(c.stepID)
	var skipped []string

	if result.Status == domain.ResultSuccess {
		rec.state = domain.StepStateSucceeded
		for _, dependent := range node.Dependents {
			if run.steps[dependent.ID].state == domain.StepStatePending && run.depsSucceededLocked(dependent) {
				run.steps[dependent.ID].state = domain.StepStateReady
			}
		}
	} else {
		rec.state = domain.StepStateFailed
		msg := fmt.Sprintf("dependency %s failed", c.stepID)
		for _, downstream := range run.dag.Downstream(c.stepID) {
			if isWaiting(run.steps[downstream.ID].state) {
				run.skipLocked(downstream.ID, domain.ReasonDependencyFailed, msg, finished)
				skipped = append(skipped, downstream.ID)
			}
		}

		o.logger.Warn("step failed",
			"run_id", run.id,
			"step_id", c.stepID,
			"reason", result.Reason,
			"error", result.Error,
			"skipped", skipped,
		)
	}

	events := make([]domain.Event, 0, 1+len(skipped))
	events = append(events, run.stepEventLocked(domain.EventStepFinished, c.stepID, finished))
	for _, id := range skipped {
		events = append(events, run.stepEventLocked(domain.EventStepFinished, id, finished))
	}
	o.emit(events...)
}

// release отпускает координатор, если run всё ещё в финальном статусе.
// false — retry успел открыть run заново, цикл продолжается.
func (s *RunState) release() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.status.IsTerminal() {
		return false
	}
	s.driving = false
	close(s.idle)
	return true
}
