package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shaiso/meshflow/internal/domain"
)

func TestParsePlan_YAML(t *testing.T) {
	doc := []byte(`
goal: release 1.4
steps:
  - id: build
    prompt: build artifacts
    agent_id: builder
  - id: test
    prompt: run test suite
    depends_on: [build]
    timeout_ms: 60000
    thinking: high
`)

	plan, dag, err := ParsePlan(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if plan.Goal != "release 1.4" {
		t.Errorf("unexpected goal %q", plan.Goal)
	}
	if plan.PlanID == "" {
		t.Error("plan id should be generated")
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}

	test := plan.Steps[1]
	if test.TimeoutMs != 60000 || test.Thinking != "high" {
		t.Errorf("unexpected step fields: %+v", test)
	}
	if plan.Steps[0].AgentID != "builder" {
		t.Errorf("expected agent_id builder, got %q", plan.Steps[0].AgentID)
	}

	if dag.GetNode("test").InDegree != 1 {
		t.Error("test should depend on build")
	}
}

func TestParsePlan_JSON(t *testing.T) {
	doc := []byte(`{
		"goal": "g",
		"steps": [
			{"id": "a", "prompt": "p1"},
			{"id": "b", "prompt": "p2", "depends_on": ["a"]}
		]
	}`)

	plan, dag, err := ParsePlan(doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 2 || dag.Size() != 2 {
		t.Fatalf("expected 2 steps, got %d", len(plan.Steps))
	}
	if len(dag.RootNodes) != 1 || dag.RootNodes[0].ID != "a" {
		t.Errorf("expected root a, got %v", nodeIDs(dag.RootNodes))
	}
}

func TestParsePlan_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{"empty document", "   ", ErrPlanDecode},
		{"malformed yaml", "goal: [unclosed", ErrPlanDecode},
		{"unknown field", "goal: g\nbogus: 1\nsteps:\n  - id: a\n    prompt: p\n", ErrPlanDecode},
		{"empty goal", "steps:\n  - id: a\n    prompt: p\n", domain.ErrEmptyGoal},
		{"cycle", "goal: g\nsteps:\n  - id: a\n    prompt: p\n    depends_on: [b]\n  - id: b\n    prompt: p\n    depends_on: [a]\n", ErrCyclicDependency},
		{"dangling", "goal: g\nsteps:\n  - id: a\n    prompt: p\n    depends_on: [x]\n", ErrMissingDependency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, dag, err := ParsePlan([]byte(tt.doc))
			if plan != nil || dag != nil {
				t.Error("expected nil plan and DAG on error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, domain.ErrInvalidPlan) {
				t.Errorf("expected ErrInvalidPlan, got %v", err)
			}
		})
	}
}

func TestLoadPlanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte("goal: g\nsteps:\n  - prompt: only step\n"), 0o644); err != nil {
		t.Fatalf("write plan: %v", err)
	}

	plan, _, err := LoadPlanFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Steps[0].ID == "" {
		t.Error("missing step id should be generated")
	}

	if _, _, err := LoadPlanFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
