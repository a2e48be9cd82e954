package orchestrator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shaiso/meshflow/internal/domain"
)

// Registry — реестр run'ов в памяти (runID → RunState).
//
// Создаётся хост-процессом и передаётся в оркестратор; несколько
// оркестраторов (например, в тестах) не делят состояние.
// Реестр хранит ссылки для поиска; состоянием run владеет координатор.
type Registry struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*RunState
	order []uuid.UUID
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[uuid.UUID]*RunState)}
}

// Register добавляет run.
func (r *Registry) Register(run *RunState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runs[run.RunID()]; exists {
		return ErrRunAlreadyRegistered
	}
	r.runs[run.RunID()] = run
	r.order = append(r.order, run.RunID())
	return nil
}

// Get возвращает run по ID или domain.ErrNotFound.
func (r *Registry) Get(id uuid.UUID) (*RunState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return run, nil
}

// ListActive возвращает ID незавершённых run'ов в порядке регистрации.
//
// Статусы читаются вне блокировки реестра: Evict держит run.mu,
// пока удаляет run из реестра.
func (r *Registry) ListActive() []uuid.UUID {
	ids := make([]uuid.UUID, 0)
	for _, run := range r.List() {
		if !run.Status().IsTerminal() {
			ids = append(ids, run.RunID())
		}
	}
	return ids
}

// List возвращает все run'ы в порядке регистрации.
func (r *Registry) List() []*RunState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*RunState, 0, len(r.order))
	for _, id := range r.order {
		runs = append(runs, r.runs[id])
	}
	return runs
}

// Remove удаляет run из реестра. Возвращает false, если run не найден.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[id]; !ok {
		return false
	}
	delete(r.runs, id)
	for i, rid := range r.order {
		if rid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Len возвращает количество run'ов в реестре.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
