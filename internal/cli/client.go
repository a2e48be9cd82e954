package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/shaiso/meshflow/internal/domain"
)

// --- Request/response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// CreatePlanRequest — запрос на создание плана.
type CreatePlanRequest struct {
	Goal         string            `json:"goal"`
	Steps        []domain.PlanStep `json:"steps,omitempty"`
	AutoComplete bool              `json:"auto_complete,omitempty"`
}

// CreateRunRequest — запрос на запуск плана.
type CreateRunRequest struct {
	Plan    domain.PlanDraft  `json:"plan"`
	Options domain.RunOptions `json:"options"`
}

// RunCreatedResponse — ответ на запуск run.
type RunCreatedResponse struct {
	RunID  uuid.UUID        `json:"run_id"`
	PlanID string           `json:"plan_id"`
	Status domain.RunStatus `json:"status"`
}

// RunSummary — краткое описание run.
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

type retryRequest struct {
	StepIDs []string `json:"step_ids,omitempty"`
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError — ошибка, которую вернул сервер.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- Client ---

// Client — HTTP-клиент для API оркестратора.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		dialer: websocket.DefaultDialer,
	}
}

// --- Plans ---

// CreatePlan просит сервер составить план.
func (c *Client) CreatePlan(req CreatePlanRequest) (*domain.WorkflowPlan, error) {
	var plan domain.WorkflowPlan
	err := c.post("/api/v1/plans", req, &plan)
	return &plan, err
}

// --- Runs ---

// ListActiveRuns возвращает ID активных runs.
func (c *Client) ListActiveRuns() ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := c.list("/api/v1/runs", nil, &ids)
	return ids, err
}

// ListRuns возвращает краткие описания всех runs в памяти сервера.
func (c *Client) ListRuns() ([]RunSummary, error) {
	params := url.Values{}
	params.Set("all", "true")

	var runs []RunSummary
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// StartRun отправляет план на выполнение.
func (c *Client) StartRun(req CreateRunRequest) (*RunCreatedResponse, error) {
	var created RunCreatedResponse
	err := c.post("/api/v1/runs", req, &created)
	return &created, err
}

// GetRun возвращает снимок run по ID.
func (c *Client) GetRun(id string) (*domain.RunSnapshot, error) {
	var snap domain.RunSnapshot
	err := c.get("/api/v1/runs/"+id, &snap)
	return &snap, err
}

// RetryRun перезапускает шаги run. Пустой stepIDs — все FAILED/SKIPPED.
func (c *Client) RetryRun(id string, stepIDs []string) (*domain.RunSnapshot, error) {
	var snap domain.RunSnapshot
	err := c.post("/api/v1/runs/"+id+"/retry", retryRequest{StepIDs: stepIDs}, &snap)
	return &snap, err
}

// CancelRun отменяет run.
func (c *Client) CancelRun(id string) (*domain.RunSnapshot, error) {
	var snap domain.RunSnapshot
	err := c.post("/api/v1/runs/"+id+"/cancel", nil, &snap)
	return &snap, err
}

// WaitRun опрашивает run, пока он не завершится.
func (c *Client) WaitRun(ctx context.Context, id string, interval time.Duration) (*domain.RunSnapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := c.GetRun(id)
		if err != nil {
			return nil, err
		}
		if snap.IsFinished() {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WatchRun читает поток событий run и передаёт их в fn.
// Возвращается, когда сервер закрыл поток или fn вернула ошибку.
func (c *Client) WatchRun(ctx context.Context, id string, fn func(domain.Event) error) error {
	wsURL, err := c.wsURL("/api/v1/runs/" + id + "/events")
	if err != nil {
		return err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if apiErr := c.checkError(resp); apiErr != nil {
				return apiErr
			}
		}
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	// закрытие соединения прерывает ReadJSON при отмене контекста
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return &APIError{Status: resp.StatusCode, Code: "HTTP_ERROR", Message: http.StatusText(resp.StatusCode)}
	}

	return &APIError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
}

// wsURL переводит базовый http(s) адрес в ws(s).
func (c *Client) wsURL(path string) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported api url scheme %q", u.Scheme)
	}
	return u.String(), nil
}
