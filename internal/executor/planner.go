package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shaiso/meshflow/internal/domain"
)

// Planner — внешний планировщик: по цели и наброску шагов
// возвращает полный список шагов. Результат валидирует оркестратор.
type Planner interface {
	Draft(ctx context.Context, goal string, sketch []domain.PlanStep) ([]domain.PlanStep, error)
}

type draftRequest struct {
	Goal  string            `json:"goal"`
	Steps []domain.PlanStep `json:"steps,omitempty"`
}

type draftResponse struct {
	Steps []domain.PlanStep `json:"steps"`
}

// HTTPPlanner вызывает POST {BaseURL}/v1/plans/draft.
type HTTPPlanner struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPPlanner создаёт клиент планировщика.
func NewHTTPPlanner(baseURL, token string) *HTTPPlanner {
	return &HTTPPlanner{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{},
	}
}

// Draft запрашивает у планировщика шаги для цели.
func (p *HTTPPlanner) Draft(ctx context.Context, goal string, sketch []domain.PlanStep) ([]domain.PlanStep, error) {
	body, err := json.Marshal(draftRequest{Goal: goal, Steps: sketch})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %v", ErrPlannerRequest, err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	respBody, status, err := postJSON(ctx, client, p.BaseURL+"/v1/plans/draft", p.Token, body, ErrPlannerRequest)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrPlannerRequest, status, truncate(string(respBody), maxErrorBody))
	}

	var resp draftResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrPlannerRequest, err)
	}
	return resp.Steps, nil
}

// PlannerFunc адаптирует функцию к интерфейсу Planner.
type PlannerFunc func(ctx context.Context, goal string, sketch []domain.PlanStep) ([]domain.PlanStep, error)

// Draft вызывает f.
func (f PlannerFunc) Draft(ctx context.Context, goal string, sketch []domain.PlanStep) ([]domain.PlanStep, error) {
	return f(ctx, goal, sketch)
}
