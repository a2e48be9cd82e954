package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxErrorBody = 200

	// MaxResponseBytes — предел тела ответа gateway и планировщика.
	MaxResponseBytes = 8 << 20
)

// executeRequest — тело POST {base}/v1/steps/execute.
type executeRequest struct {
	RunID      uuid.UUID `json:"run_id"`
	StepID     string    `json:"step_id"`
	Name       string    `json:"name,omitempty"`
	Prompt     string    `json:"prompt"`
	AgentID    string    `json:"agent_id,omitempty"`
	SessionKey string    `json:"session_key,omitempty"`
	Thinking   string    `json:"thinking,omitempty"`
	Lane       string    `json:"lane,omitempty"`
	Attempt    int       `json:"attempt"`
	TimeoutMs  int64     `json:"timeout_ms"`
}

// HTTPExecutor делегирует шаг agent gateway.
//
// Запрос: POST {BaseURL}/v1/steps/execute с описанием шага в JSON.
// Ответ 2xx разбирается как Outcome. Ответ >= 400 — логическая ошибка
// шага (failure), сетевые ошибки — инфраструктурные (error).
type HTTPExecutor struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPExecutor создаёт исполнитель для gateway по адресу baseURL.
func NewHTTPExecutor(baseURL, token string) *HTTPExecutor {
	return &HTTPExecutor{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{},
	}
}

// Execute отправляет шаг в gateway и ждёт ответа.
// Таймаут берётся из ctx, отдельный таймаут клиента не нужен.
func (e *HTTPExecutor) Execute(ctx context.Context, req *Request) (*Outcome, error) {
	body, err := json.Marshal(executeRequest{
		RunID:      req.RunID,
		StepID:     req.Step.ID,
		Name:       req.Step.Name,
		Prompt:     req.Step.Prompt,
		AgentID:    req.Step.AgentID,
		SessionKey: req.Step.SessionKey,
		Thinking:   req.Thinking,
		Lane:       req.Lane,
		Attempt:    req.Attempt,
		TimeoutMs:  req.Timeout.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal body: %v", ErrGatewayRequest, err)
	}

	respBody, status, err := e.post(ctx, "/v1/steps/execute", body)
	if err != nil {
		return nil, err
	}

	if status >= 400 {
		return Failed("gateway HTTP %d: %s", status, truncate(string(respBody), maxErrorBody)), nil
	}

	var outcome Outcome
	if err := json.Unmarshal(respBody, &outcome); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrGatewayResponse, err)
	}
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrGatewayResponse, outcome.Status)
	}
	return &outcome, nil
}

// post выполняет JSON POST и возвращает тело и код ответа.
func (e *HTTPExecutor) post(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	return postJSON(ctx, e.client(), e.BaseURL+path, e.Token, body, ErrGatewayRequest)
}

func (e *HTTPExecutor) client() *http.Client {
	if e.Client != nil {
		return e.Client
	}
	return http.DefaultClient
}

// postJSON — общий транспорт для gateway и планировщика.
func postJSON(ctx context.Context, client *http.Client, url, token string, body []byte, kind error) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: create request: %v", kind, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", kind, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: read response: %v", kind, err)
	}
	if len(respBody) > MaxResponseBytes {
		return nil, 0, fmt.Errorf("%w: response exceeds %d bytes", kind, MaxResponseBytes)
	}
	return respBody, resp.StatusCode, nil
}

// NewHTTPRouter создаёт Router, в котором каждый agent_id из routes
// обслуживает свой gateway. Остальные шаги уходят в fallback.
func NewHTTPRouter(fallback Executor, routes map[string]string, token string) *Router {
	router := NewRouter(fallback)
	for agentID, baseURL := range routes {
		router.Register(agentID, NewHTTPExecutor(baseURL, token))
	}
	return router
}

// truncate обрезает строку до maxLen байт, не разрывая символы.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
