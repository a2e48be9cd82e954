package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/meshflow/internal/api"
	"github.com/shaiso/meshflow/internal/domain"
	"github.com/shaiso/meshflow/internal/engine"
	"github.com/shaiso/meshflow/internal/executor"
	"github.com/shaiso/meshflow/internal/orchestrator"
	"github.com/shaiso/meshflow/internal/telemetry"
)

const twoStepPlan = `
goal: release
steps:
  - id: build
    prompt: build artifacts
  - id: test
    prompt: run tests
    depends_on: [build]
`

type testServer struct {
	*httptest.Server
	orch *orchestrator.Orchestrator
	hub  *api.Hub
}

func newTestServer(t *testing.T, exec executor.Executor) *testServer {
	t.Helper()
	logger := telemetry.DiscardLogger()

	hub := api.NewHub(logger)
	orch := orchestrator.New(orchestrator.Config{
		Executor: exec,
		Sinks:    []orchestrator.EventSink{hub},
		Logger:   logger,
	})

	mux := http.NewServeMux()
	api.NewHandler(api.Config{Orchestrator: orch, Hub: hub, Logger: logger}).RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		orch.Stop()
	})
	return &testServer{Server: server, orch: orch, hub: hub}
}

// runCmd выполняет meshctl с аргументами и возвращает stdout и stderr.
func runCmd(t *testing.T, apiURL string, args ...string) (string, string, error) {
	t.Helper()

	root := NewRootCmd("test")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--api-url", apiURL}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := root.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func succeed() executor.Executor {
	return executor.Func(func(ctx context.Context, req *executor.Request) (*executor.Outcome, error) {
		return executor.Succeeded("ok"), nil
	})
}

// gated блокирует шаги до закрытия gate или отмены контекста.
func gated(gate <-chan struct{}) executor.Executor {
	return executor.Func(func(ctx context.Context, req *executor.Request) (*executor.Outcome, error) {
		select {
		case <-gate:
			return executor.Succeeded("ok"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func startRun(t *testing.T, ts *testServer, planPath string) uuid.UUID {
	t.Helper()
	stdout, _, err := runCmd(t, ts.URL, "--json", "run", "start", planPath)
	if err != nil {
		t.Fatalf("run start: %v", err)
	}
	var created RunCreatedResponse
	if err := json.Unmarshal([]byte(stdout), &created); err != nil {
		t.Fatalf("decode run start output %q: %v", stdout, err)
	}
	return created.RunID
}

func waitRun(t *testing.T, ts *testServer, id uuid.UUID) *domain.RunSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := NewClient(ts.URL).WaitRun(ctx, id.String(), 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait run: %v", err)
	}
	return snap
}

func TestPlanValidate(t *testing.T) {
	path := writeFile(t, "plan.yaml", twoStepPlan)

	stdout, stderr, err := runCmd(t, "http://unused", "plan", "validate", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(stderr, "Plan is valid: 2 steps") {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, "build") || !strings.Contains(stdout, "test") {
		t.Errorf("stdout = %q, want both steps", stdout)
	}
}

func TestPlanValidate_Cycle(t *testing.T) {
	path := writeFile(t, "plan.yaml", `
goal: loop
steps:
  - id: a
    prompt: a
    depends_on: [b]
  - id: b
    prompt: b
    depends_on: [a]
`)

	_, _, err := runCmd(t, "http://unused", "plan", "validate", path)
	if !errors.Is(err, domain.ErrInvalidPlan) {
		t.Fatalf("err = %v, want ErrInvalidPlan", err)
	}
	if !errors.Is(err, engine.ErrCyclicDependency) {
		t.Errorf("err = %v, want ErrCyclicDependency", err)
	}
}

func TestPlanCreate_FromSketch(t *testing.T) {
	ts := newTestServer(t, succeed())
	sketch := writeFile(t, "sketch.yaml", twoStepPlan)
	saved := filepath.Join(t.TempDir(), "created.yaml")

	stdout, _, err := runCmd(t, ts.URL, "plan", "create", "--file", sketch, "--goal", "ship it", "--save", saved)
	if err != nil {
		t.Fatalf("plan create: %v", err)
	}
	if !strings.Contains(stdout, "build") {
		t.Errorf("stdout = %q", stdout)
	}

	plan, dag, err := engine.LoadPlanFile(saved)
	if err != nil {
		t.Fatalf("saved plan does not load: %v", err)
	}
	if plan.Goal != "ship it" {
		t.Errorf("goal = %q, want flag value", plan.Goal)
	}
	if dag.Size() != 2 {
		t.Errorf("steps = %d, want 2", dag.Size())
	}
}

func TestPlanCreate_Errors(t *testing.T) {
	ts := newTestServer(t, succeed())

	if _, _, err := runCmd(t, ts.URL, "plan", "create"); err == nil {
		t.Error("expected error without goal")
	}

	_, _, err := runCmd(t, ts.URL, "plan", "create", "--goal", "ship", "--auto-complete")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want APIError", err)
	}
	if apiErr.Status != http.StatusNotImplemented || apiErr.Code != "PLANNER_UNAVAILABLE" {
		t.Errorf("api error = %+v", apiErr)
	}
}

func TestRunStart_Wait(t *testing.T) {
	ts := newTestServer(t, succeed())
	path := writeFile(t, "plan.yaml", twoStepPlan)

	stdout, stderr, err := runCmd(t, ts.URL, "run", "start", path, "--wait", "--max-parallel", "2", "--timeout", "5s")
	if err != nil {
		t.Fatalf("run start: %v", err)
	}
	if !strings.Contains(stderr, "Run started:") {
		t.Errorf("stderr = %q", stderr)
	}
	if !strings.Contains(stdout, string(domain.RunStatusCompleted)) {
		t.Errorf("stdout = %q, want COMPLETED", stdout)
	}
}

func TestRunStart_WaitFailure(t *testing.T) {
	ts := newTestServer(t, executor.Func(func(ctx context.Context, req *executor.Request) (*executor.Outcome, error) {
		return executor.Failed("boom"), nil
	}))
	path := writeFile(t, "plan.yaml", twoStepPlan)

	stdout, _, err := runCmd(t, ts.URL, "run", "start", path, "--wait")
	if err == nil || !strings.Contains(err.Error(), string(domain.RunStatusFailed)) {
		t.Fatalf("err = %v, want FAILED", err)
	}
	if !strings.Contains(stdout, string(domain.ReasonDependencyFailed)) {
		t.Errorf("stdout = %q, want skipped dependent", stdout)
	}
}

func TestRunStart_InvalidOptions(t *testing.T) {
	ts := newTestServer(t, succeed())
	path := writeFile(t, "plan.yaml", twoStepPlan)

	_, _, err := runCmd(t, ts.URL, "run", "start", path, "--max-parallel", "10000")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "INVALID_PLAN" {
		t.Fatalf("err = %v, want INVALID_PLAN", err)
	}
}

func TestRunListAndShow(t *testing.T) {
	ts := newTestServer(t, succeed())
	path := writeFile(t, "plan.yaml", twoStepPlan)

	id := startRun(t, ts, path)
	waitRun(t, ts, id)

	stdout, _, err := runCmd(t, ts.URL, "--json", "run", "list", "--all")
	if err != nil {
		t.Fatalf("run list: %v", err)
	}
	var runs []RunSummary
	if err := json.Unmarshal([]byte(stdout), &runs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != id || runs[0].Steps != 2 {
		t.Errorf("runs = %+v", runs)
	}

	stdout, _, err = runCmd(t, ts.URL, "run", "show", id.String())
	if err != nil {
		t.Fatalf("run show: %v", err)
	}
	for _, want := range []string{id.String(), "release", "SUCCEEDED"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("show output missing %q:\n%s", want, stdout)
		}
	}
}

func TestRunShow_NotFound(t *testing.T) {
	ts := newTestServer(t, succeed())

	_, _, err := runCmd(t, ts.URL, "run", "show", uuid.NewString())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Fatalf("err = %v, want 404", err)
	}
}

func TestRunRetry(t *testing.T) {
	var calls atomic.Int32
	ts := newTestServer(t, executor.Func(func(ctx context.Context, req *executor.Request) (*executor.Outcome, error) {
		if req.Step.ID == "build" && calls.Add(1) == 1 {
			return executor.Failed("flaky"), nil
		}
		return executor.Succeeded("ok"), nil
	}))
	path := writeFile(t, "plan.yaml", twoStepPlan)

	id := startRun(t, ts, path)
	if snap := waitRun(t, ts, id); snap.Status != domain.RunStatusFailed {
		t.Fatalf("first attempt status = %s, want FAILED", snap.Status)
	}

	_, stderr, err := runCmd(t, ts.URL, "run", "retry", id.String(), "--step", "build")
	if err != nil {
		t.Fatalf("run retry: %v", err)
	}
	if !strings.Contains(stderr, "attempt 2") {
		t.Errorf("stderr = %q", stderr)
	}

	snap := waitRun(t, ts, id)
	if snap.Status != domain.RunStatusCompleted {
		t.Errorf("status after retry = %s, want COMPLETED", snap.Status)
	}
}

func TestRunCancel(t *testing.T) {
	gate := make(chan struct{})
	ts := newTestServer(t, gated(gate))
	path := writeFile(t, "plan.yaml", twoStepPlan)

	id := startRun(t, ts, path)

	_, stderr, err := runCmd(t, ts.URL, "run", "cancel", id.String())
	if err != nil {
		t.Fatalf("run cancel: %v", err)
	}
	if !strings.Contains(stderr, "Run cancel requested") {
		t.Errorf("stderr = %q", stderr)
	}

	// отмена дожидается шага в полёте
	close(gate)
	snap := waitRun(t, ts, id)
	if snap.Status != domain.RunStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", snap.Status)
	}
	if test, ok := snap.Step("test"); !ok || test.State != domain.StepStateSkipped {
		t.Errorf("test step = %+v, want SKIPPED", test)
	}
}

func TestRunWatch(t *testing.T) {
	gate := make(chan struct{})
	ts := newTestServer(t, gated(gate))
	path := writeFile(t, "plan.yaml", twoStepPlan)

	id := startRun(t, ts, path)

	type result struct {
		stdout string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		stdout, _, err := runCmd(t, ts.URL, "run", "watch", id.String())
		done <- result{stdout, err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for ts.hub.Subscribers(id) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watch did not subscribe")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(gate)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("watch: %v", res.err)
		}
		for _, want := range []string{"run.snapshot", "step build", "step test", "run.finished"} {
			if !strings.Contains(res.stdout, want) {
				t.Errorf("watch output missing %q:\n%s", want, res.stdout)
			}
		}
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not return")
	}
}

func TestClient_wsURL(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"http://localhost:8080", "ws://localhost:8080/x", false},
		{"https://mesh.example.com/", "wss://mesh.example.com/x", false},
		{"ws://host", "ws://host/x", false},
		{"ftp://host", "", true},
	}

	for _, tt := range tests {
		got, err := NewClient(tt.base).wsURL("/x")
		if (err != nil) != tt.wantErr {
			t.Errorf("wsURL(%q) err = %v, wantErr %v", tt.base, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("wsURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"line1\nline2", 20, "line1 line2"},
		{"abcdefghij", 6, "abc..."},
		{"привет мир", 7, "прив..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestOutput_Table(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputTo(false, &buf, &buf)

	out.Print([]string{"ID", "STATUS"}, [][]string{{"a", "RUNNING"}}, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %q", lines)
	}
	if !strings.HasPrefix(lines[1], "--") || !strings.Contains(lines[2], "RUNNING") {
		t.Errorf("table = %q", buf.String())
	}
}

func TestOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	out := NewOutputTo(true, &buf, &buf)

	out.Print([]string{"ID"}, [][]string{{"a"}}, map[string]string{"id": "a"})

	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %q", buf.String())
	}
	if got["id"] != "a" {
		t.Errorf("got %v", got)
	}
}
