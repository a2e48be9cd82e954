package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/meshflow/internal/domain"
	"github.com/shaiso/meshflow/internal/engine"
	"github.com/shaiso/meshflow/internal/repo"
)

// ListRuns возвращает список runs.
// GET /api/v1/runs                — ID активных runs
// GET /api/v1/runs?all=true       — краткие описания всех runs в памяти
// GET /api/v1/runs?history=true&status=...&plan_id=...&limit=...&offset=... — история из БД
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("history") == "true" {
		h.listHistory(w, r)
		return
	}

	if query.Get("all") == "true" {
		snaps := h.orch.List()
		result := make([]RunSummary, len(snaps))
		for i, snap := range snaps {
			result[i] = SummaryFromSnapshot(snap)
		}
		List(w, result, len(result))
		return
	}

	ids := h.orch.ListActive()
	List(w, ids, len(ids))
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		Error(w, http.StatusNotImplemented, ErrCodeUnavailable, "run history is not configured")
		return
	}

	query := r.URL.Query()
	filter := repo.RunFilter{
		Status: domain.RunStatus(query.Get("status")),
		PlanID: query.Get("plan_id"),
		Limit:  parseInt(query.Get("limit"), 50),
		Offset: parseInt(query.Get("offset"), 0),
	}

	snaps, err := h.history.List(r.Context(), filter)
	if HandleError(w, h.logger, err) {
		return
	}

	result := make([]RunSummary, len(snaps))
	for i, snap := range snaps {
		result[i] = SummaryFromSnapshot(snap)
	}
	List(w, result, len(result))
}

// CreateRun принимает план на выполнение.
// POST /api/v1/runs
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var req CreateRunRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	plan, _, err := engine.Resolve(req.Plan)
	if HandleError(w, h.logger, err) {
		return
	}

	runID, err := h.orch.Run(r.Context(), plan, req.Options)
	if HandleError(w, h.logger, err) {
		return
	}

	Accepted(w, RunCreatedResponse{
		RunID:  runID,
		PlanID: plan.PlanID,
		Status: domain.RunStatusQueued,
	})
}

// GetRun возвращает снимок run по ID.
// Вытесненный из памяти run ищется в истории.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	snap, err := h.orch.Status(id)
	if errors.Is(err, domain.ErrNotFound) && h.history != nil {
		snap, err = h.history.GetByID(r.Context(), id)
	}
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, snap)
}

// RetryRun перезапускает шаги run.
// POST /api/v1/runs/{id}/retry
func (h *Handler) RetryRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	var req RetryRunRequest
	// пустое тело — retry всех FAILED/SKIPPED шагов
	if !decodeBody(w, r, &req, true) {
		return
	}

	if HandleError(w, h.logger, h.orch.Retry(r.Context(), id, req.StepIDs)) {
		return
	}

	snap, err := h.orch.Status(id)
	if HandleError(w, h.logger, err) {
		return
	}
	Accepted(w, snap)
}

// CancelRun отменяет run.
// POST /api/v1/runs/{id}/cancel
func (h *Handler) CancelRun(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	if HandleError(w, h.logger, h.orch.Cancel(r.Context(), id)) {
		return
	}

	snap, err := h.orch.Status(id)
	if HandleError(w, h.logger, err) {
		return
	}
	Accepted(w, snap)
}

// StreamRunEvents отдаёт события run через WebSocket.
// GET /api/v1/runs/{id}/events
func (h *Handler) StreamRunEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRunID(w, r)
	if !ok {
		return
	}

	if h.hub == nil {
		Error(w, http.StatusNotImplemented, ErrCodeUnavailable, "event stream is not configured")
		return
	}

	// подписка до снимка: события между ними не теряются
	sub := h.hub.Subscribe(id)
	defer h.hub.Unsubscribe(sub)

	snap, err := h.orch.Status(id)
	if HandleError(w, h.logger, err) {
		return
	}

	h.hub.Serve(w, r, sub, snap)
}

// parseRunID читает {id} из пути; при ошибке отвечает 400.
func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}

// parseInt парсит строку в int с дефолтным значением.
func parseInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
