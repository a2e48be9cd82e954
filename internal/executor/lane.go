package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// LaneLimiter ограничивает число одновременных выполнений на lane
// по всем run'ам процесса. Шаги без lane не ограничиваются.
//
// Ожидание слота входит в таймаут шага: ctx отменён — слот не занят,
// возвращается ошибка ctx.
type LaneLimiter struct {
	next  Executor
	limit int64

	mu    sync.Mutex
	lanes map[string]*semaphore.Weighted
}

// NewLaneLimiter оборачивает next. limit <= 0 отключает ограничение.
func NewLaneLimiter(next Executor, limit int) *LaneLimiter {
	return &LaneLimiter{
		next:  next,
		limit: int64(limit),
		lanes: make(map[string]*semaphore.Weighted),
	}
}

// Execute занимает слот lane и вызывает next.
func (l *LaneLimiter) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	if l.limit <= 0 || req.Lane == "" {
		return l.next.Execute(ctx, req)
	}

	sem := l.semaphore(req.Lane)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer sem.Release(1)

	return l.next.Execute(ctx, req)
}

func (l *LaneLimiter) semaphore(lane string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.lanes[lane]
	if !ok {
		sem = semaphore.NewWeighted(l.limit)
		l.lanes[lane] = sem
	}
	return sem
}
