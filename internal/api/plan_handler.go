package api

import (
	"net/http"

	"github.com/shaiso/meshflow/internal/orchestrator"
)

// CreatePlan валидирует план и при необходимости дополняет его планировщиком.
// POST /api/v1/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if !decodeBody(w, r, &req, false) {
		return
	}

	plan, err := h.orch.Plan(r.Context(), orchestrator.PlanRequest{
		Goal:         req.Goal,
		Steps:        req.Steps,
		AutoComplete: req.AutoComplete,
	})
	if HandleError(w, h.logger, err) {
		return
	}

	Created(w, plan)
}
