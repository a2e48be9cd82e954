package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/meshflow/internal/domain"
)

// Plan DTOs

// CreatePlanRequest — запрос на создание плана.
type CreatePlanRequest struct {
	Goal         string            `json:"goal"`
	Steps        []domain.PlanStep `json:"steps,omitempty"`
	AutoComplete bool              `json:"auto_complete,omitempty"`
}

// Run DTOs

// CreateRunRequest — запрос на запуск плана.
type CreateRunRequest struct {
	Plan    domain.PlanDraft  `json:"plan"`
	Options domain.RunOptions `json:"options"`
}

// RunCreatedResponse — ответ на запуск: run принят, выполнение асинхронное.
type RunCreatedResponse struct {
	RunID  uuid.UUID        `json:"run_id"`
	PlanID string           `json:"plan_id"`
	Status domain.RunStatus `json:"status"`
}

// RetryRunRequest — запрос на retry. Пустой step_ids — все FAILED/SKIPPED шаги.
type RetryRunRequest struct {
	StepIDs []string `json:"step_ids,omitempty"`
}

// RunSummary — краткое описание run для списков.
type RunSummary struct {
	RunID       uuid.UUID        `json:"run_id"`
	PlanID      string           `json:"plan_id"`
	Goal        string           `json:"goal"`
	Status      domain.RunStatus `json:"status"`
	Attempt     int              `json:"attempt"`
	Steps       int              `json:"steps"`
	Failed      int              `json:"failed"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// SummaryFromSnapshot конвертирует снимок в RunSummary.
func SummaryFromSnapshot(s *domain.RunSnapshot) RunSummary {
	summary := RunSummary{
		RunID:       s.RunID,
		Status:      s.Status,
		Attempt:     s.Attempt,
		Steps:       len(s.Steps),
		Error:       s.Error,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
	if s.Plan != nil {
		summary.PlanID = s.Plan.PlanID
		summary.Goal = s.Plan.Goal
	}
	for _, step := range s.Steps {
		if step.State == domain.StepStateFailed {
			summary.Failed++
		}
	}
	return summary
}
