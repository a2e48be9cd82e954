package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/meshflow/internal/domain"
)

const sinkTimeout = 5 * time.Second

// EventSink получает события оркестратора.
//
// Реализации: mq.Publisher, repo.RunRepo, api.Hub.
// События доставляются асинхронно, в порядке их возникновения.
// Ошибка sink'а логируется и не влияет на выполнение run.
type EventSink interface {
	HandleEvent(ctx context.Context, ev domain.Event) error
}

// EventSinkFunc адаптирует функцию к интерфейсу EventSink.
type EventSinkFunc func(ctx context.Context, ev domain.Event) error

// HandleEvent вызывает f.
func (f EventSinkFunc) HandleEvent(ctx context.Context, ev domain.Event) error {
	return f(ctx, ev)
}

// dispatcher доставляет события sink'ам в отдельной горутине.
//
// Очередь не ограничена: emit никогда не ждёт sink'и, порядок
// событий сохраняется. close дожидается доставки очереди.
type dispatcher struct {
	sinks  []EventSink
	logger *slog.Logger

	mu     sync.Mutex
	queue  []domain.Event
	closed bool
	notify chan struct{}
	done   chan struct{}
}

func newDispatcher(sinks []EventSink, logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		sinks:  sinks,
		logger: logger,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

// enqueue ставит события в очередь. После close события отбрасываются.
func (d *dispatcher) enqueue(events ...domain.Event) {
	if len(d.sinks) == 0 || len(events) == 0 {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, events...)
	select {
	case d.notify <- struct{}{}:
	default:
	}
	d.mu.Unlock()
}

// close завершает приём событий и ждёт доставки оставшихся.
func (d *dispatcher) close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.notify)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *dispatcher) loop() {
	defer close(d.done)

	for {
		_, ok := <-d.notify

		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		d.mu.Unlock()

		for _, ev := range batch {
			d.deliver(ev)
		}
		if !ok {
			return
		}
	}
}

func (d *dispatcher) deliver(ev domain.Event) {
	for _, sink := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
		if err := sink.HandleEvent(ctx, ev); err != nil {
			d.logger.Warn("event sink failed",
				"run_id", ev.RunID,
				"type", ev.Type,
				"error", err,
			)
		}
		cancel()
	}
}

// emit передаёт события диспетчеру. Не блокируется: допустим вызов под run.mu.
func (o *Orchestrator) emit(events ...domain.Event) {
	o.events.enqueue(events...)
}

// runEventLocked создаёт событие уровня run со снимком.
func (s *RunState) runEventLocked(t domain.EventType, now time.Time) domain.Event {
	return domain.Event{
		Type:      t,
		RunID:     s.id,
		RunStatus: s.status,
		Snapshot:  s.snapshotLocked(),
		Timestamp: now,
	}
}

// stepEventLocked создаёт событие уровня шага.
func (s *RunState) stepEventLocked(t domain.EventType, stepID string, now time.Time) domain.Event {
	rec := s.steps[stepID]
	ev := domain.Event{
		Type:      t,
		RunID:     s.id,
		RunStatus: s.status,
		StepID:    stepID,
		StepState: rec.state,
		Timestamp: now,
	}
	ev.Result = rec.result.Clone()
	return ev
}
