package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/shaiso/meshflow/internal/domain"
)

// DefaultSchedule — расписание по умолчанию.
const DefaultSchedule = "@every 1m"

// Store — реестр run'ов, из которого вытесняются завершённые.
type Store interface {
	List() []*domain.RunSnapshot
	Evict(id uuid.UUID) error
}

// Archiver сохраняет снимок перед вытеснением.
type Archiver interface {
	Save(ctx context.Context, snap *domain.RunSnapshot) error
}

// Sweeper — периодическое вытеснение завершённых run'ов.
type Sweeper struct {
	store    Store
	archiver Archiver
	ttl      time.Duration
	schedule cron.Schedule
	spec     string
	logger   *slog.Logger
}

// Config — конфигурация Sweeper.
type Config struct {
	Store    Store
	Archiver Archiver // nil — без сохранения
	TTL      time.Duration
	Schedule string // cron-выражение или дескриптор (default: "@every 1m")
	Logger   *slog.Logger
}

// New создаёт Sweeper и проверяет расписание.
func New(cfg Config) (*Sweeper, error) {
	spec := cfg.Schedule
	if spec == "" {
		spec = DefaultSchedule
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:    cfg.Store,
		archiver: cfg.Archiver,
		ttl:      cfg.TTL,
		schedule: schedule,
		spec:     spec,
		logger:   logger.With("component", "retention"),
	}, nil
}

// Sweep вытесняет run'ы, завершённые не позже now-TTL.
// Возвращает количество вытесненных run'ов.
//
// Ошибка одного run не блокирует обработку остальных.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-s.ttl)

	var evicted int
	for _, snap := range s.store.List() {
		if !expired(snap, cutoff) {
			continue
		}

		if s.archiver != nil {
			if err := s.archiver.Save(ctx, snap); err != nil {
				// без сохранения run остаётся в памяти до следующего прохода
				s.logger.Error("failed to archive run", "run_id", snap.RunID, "error", err)
				continue
			}
		}

		if err := s.store.Evict(snap.RunID); err != nil {
			// retry мог открыть run заново между List и Evict
			s.logger.Debug("run not evicted", "run_id", snap.RunID, "reason", err)
			continue
		}
		evicted++
	}

	if evicted > 0 {
		s.logger.Info("retention sweep completed", "evicted", evicted, "ttl", s.ttl)
	}
	return evicted
}

// Next возвращает время следующего прохода после t.
func (s *Sweeper) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Start запускает проходы по расписанию и блокируется до отмены ctx.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New()
	c.Schedule(s.schedule, cron.FuncJob(func() {
		s.Sweep(ctx, time.Now().UTC())
	}))

	s.logger.Info("retention sweeper started", "schedule", s.spec, "ttl", s.ttl)
	c.Start()

	<-ctx.Done()

	// ждём завершения текущего прохода
	<-c.Stop().Done()
	s.logger.Info("retention sweeper stopped")
	return nil
}

// expired — run завершён и его completed_at не позже cutoff.
func expired(snap *domain.RunSnapshot, cutoff time.Time) bool {
	if !snap.Status.IsTerminal() || snap.CompletedAt == nil {
		return false
	}
	return !snap.CompletedAt.After(cutoff)
}
