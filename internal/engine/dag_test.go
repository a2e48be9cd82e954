package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/shaiso/meshflow/internal/domain"
)

func newPlan(steps ...domain.PlanStep) *domain.WorkflowPlan {
	for i := range steps {
		if steps[i].Prompt == "" {
			steps[i].Prompt = "do " + steps[i].ID
		}
	}
	return &domain.WorkflowPlan{PlanID: "p", Goal: "test", Steps: steps}
}

func TestBuildDAG_SimpleChain(t *testing.T) {
	plan := newPlan(
		domain.PlanStep{ID: "A"},
		domain.PlanStep{ID: "B", DependsOn: []string{"A"}},
		domain.PlanStep{ID: "C", DependsOn: []string{"B"}},
	)

	dag, err := BuildDAG(plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if dag.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", dag.Size())
	}

	if len(dag.RootNodes) != 1 || dag.RootNodes[0].ID != "A" {
		t.Errorf("expected single root A, got %v", nodeIDs(dag.RootNodes))
	}

	nodeB := dag.GetNode("B")
	if len(nodeB.DependsOn) != 1 || nodeB.DependsOn[0].ID != "A" {
		t.Error("node B should depend on A")
	}
	if len(dag.GetNode("A").Dependents) != 1 || dag.GetNode("A").Dependents[0].ID != "B" {
		t.Error("node A should have B as dependent")
	}

	if got := nodeIDs(dag.Topo); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Errorf("unexpected topo order: %v", got)
	}
}

func TestBuildDAG_Diamond(t *testing.T) {
	// A → B → D
	// A → C → D
	plan := newPlan(
		domain.PlanStep{ID: "A"},
		domain.PlanStep{ID: "B", DependsOn: []string{"A"}},
		domain.PlanStep{ID: "C", DependsOn: []string{"A"}},
		domain.PlanStep{ID: "D", DependsOn: []string{"B", "C"}},
	)

	dag, err := BuildDAG(plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantInDegree := map[string]int{"A": 0, "B": 1, "C": 1, "D": 2}
	for id, want := range wantInDegree {
		if got := dag.GetNode(id).InDegree; got != want {
			t.Errorf("%s: expected inDegree %d, got %d", id, want, got)
		}
	}

	if got := nodeIDs(dag.GetNode("A").Dependents); !reflect.DeepEqual(got, []string{"B", "C"}) {
		t.Errorf("dependents of A should follow declaration order, got %v", got)
	}
}

func TestBuildDAG_DuplicateDependencyCountedOnce(t *testing.T) {
	plan := newPlan(
		domain.PlanStep{ID: "A"},
		domain.PlanStep{ID: "B", DependsOn: []string{"A", "A"}},
	)

	dag, err := BuildDAG(plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dag.GetNode("B").InDegree != 1 {
		t.Errorf("expected inDegree 1, got %d", dag.GetNode("B").InDegree)
	}
}

func TestBuildDAG_TopoTieBreakByDeclaration(t *testing.T) {
	// Z объявлен раньше Y, оба освобождаются после X.
	plan := newPlan(
		domain.PlanStep{ID: "X"},
		domain.PlanStep{ID: "Z", DependsOn: []string{"X"}},
		domain.PlanStep{ID: "W"},
		domain.PlanStep{ID: "Y", DependsOn: []string{"X"}},
	)

	dag, err := BuildDAG(plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := nodeIDs(dag.RootNodes); !reflect.DeepEqual(got, []string{"X", "W"}) {
		t.Errorf("unexpected roots: %v", got)
	}
	if got := nodeIDs(dag.Topo); !reflect.DeepEqual(got, []string{"X", "Z", "W", "Y"}) {
		t.Errorf("unexpected topo order: %v", got)
	}
}

func TestBuildDAG_Errors(t *testing.T) {
	tests := []struct {
		name    string
		plan    *domain.WorkflowPlan
		wantErr error
	}{
		{"nil plan", nil, ErrEmptySteps},
		{"no steps", newPlan(), ErrEmptySteps},
		{"empty id", newPlan(domain.PlanStep{ID: ""}), ErrEmptyStepID},
		{
			"duplicate id",
			newPlan(domain.PlanStep{ID: "A"}, domain.PlanStep{ID: "A"}),
			ErrDuplicateStepID,
		},
		{
			"missing dependency",
			newPlan(domain.PlanStep{ID: "A", DependsOn: []string{"ghost"}}),
			ErrMissingDependency,
		},
		{
			"self dependency",
			newPlan(domain.PlanStep{ID: "A", DependsOn: []string{"A"}}),
			ErrSelfDependency,
		},
		{
			"cycle",
			newPlan(
				domain.PlanStep{ID: "A", DependsOn: []string{"C"}},
				domain.PlanStep{ID: "B", DependsOn: []string{"A"}},
				domain.PlanStep{ID: "C", DependsOn: []string{"B"}},
			),
			ErrCyclicDependency,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dag, err := BuildDAG(tt.plan)
			if dag != nil {
				t.Error("expected nil DAG on error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if !errors.Is(err, domain.ErrInvalidPlan) {
				t.Errorf("expected error to match ErrInvalidPlan, got %v", err)
			}
		})
	}
}

func TestBuildDAG_TooManySteps(t *testing.T) {
	steps := make([]domain.PlanStep, domain.MaxPlanSteps+1)
	for i := range steps {
		steps[i] = domain.PlanStep{ID: domain.GenerateStepID()}
	}

	_, err := BuildDAG(newPlan(steps...))
	if !errors.Is(err, ErrTooManySteps) {
		t.Errorf("expected ErrTooManySteps, got %v", err)
	}
}

func TestBuildDAG_CyclePathInMessage(t *testing.T) {
	plan := newPlan(
		domain.PlanStep{ID: "root"},
		domain.PlanStep{ID: "A", DependsOn: []string{"root", "C"}},
		domain.PlanStep{ID: "B", DependsOn: []string{"A"}},
		domain.PlanStep{ID: "C", DependsOn: []string{"B"}},
	)

	_, err := BuildDAG(plan)
	if err == nil {
		t.Fatal("expected cycle error")
	}

	var vErr *domain.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if !strings.Contains(vErr.Message, "A -> B -> C -> A") {
		t.Errorf("expected cycle path in message, got %q", vErr.Message)
	}
}

func TestBuildDAG_Deterministic(t *testing.T) {
	plan := newPlan(
		domain.PlanStep{ID: "a"},
		domain.PlanStep{ID: "b"},
		domain.PlanStep{ID: "c", DependsOn: []string{"a", "b"}},
		domain.PlanStep{ID: "d", DependsOn: []string{"b"}},
	)

	first, err := BuildDAG(plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := BuildDAG(plan)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(nodeIDs(first.Topo), nodeIDs(again.Topo)) {
			t.Fatalf("topo order differs between builds: %v vs %v", nodeIDs(first.Topo), nodeIDs(again.Topo))
		}
	}
}

func TestDAG_Downstream(t *testing.T) {
	// A → B → C,  D независим,  E зависит от B и D
	plan := newPlan(
		domain.PlanStep{ID: "A"},
		domain.PlanStep{ID: "B", DependsOn: []string{"A"}},
		domain.PlanStep{ID: "C", DependsOn: []string{"B"}},
		domain.PlanStep{ID: "D"},
		domain.PlanStep{ID: "E", DependsOn: []string{"B", "D"}},
	)

	dag, err := BuildDAG(plan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := nodeIDs(dag.Downstream("A")); !reflect.DeepEqual(got, []string{"B", "C", "E"}) {
		t.Errorf("downstream of A: %v", got)
	}
	if got := nodeIDs(dag.Downstream("D")); !reflect.DeepEqual(got, []string{"E"}) {
		t.Errorf("downstream of D: %v", got)
	}
	if got := dag.Downstream("C"); len(got) != 0 {
		t.Errorf("C has no dependents, got %v", nodeIDs(got))
	}
	// Названные ID в результат не попадают, даже если зависят друг от друга
	if got := nodeIDs(dag.Downstream("A", "B")); !reflect.DeepEqual(got, []string{"C", "E"}) {
		t.Errorf("downstream of A,B: %v", got)
	}
}

func nodeIDs(nodes []*Node) []string {
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}
	return ids
}
