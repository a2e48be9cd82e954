package engine

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/meshflow/internal/domain"
)

// ParsePlan разбирает документ плана (YAML или JSON) и валидирует его.
//
// Формат:
//
//	goal: release 1.4
//	steps:
//	  - id: build
//	    prompt: build artifacts
//	  - id: test
//	    prompt: run test suite
//	    depends_on: [build]
//	    timeout_ms: 60000
//
// JSON — подмножество YAML, поэтому отдельного пути для него нет.
// Возвращает план и его DAG; любая ошибка сопоставляется с domain.ErrInvalidPlan.
func ParsePlan(data []byte) (*domain.WorkflowPlan, *DAG, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, newValidationError("", "", "plan document is empty", ErrPlanDecode)
	}

	var draft domain.PlanDraft
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&draft); err != nil {
		return nil, nil, newValidationError("", "", fmt.Sprintf("decode plan: %v", err), ErrPlanDecode)
	}

	return Resolve(draft)
}

// LoadPlanFile читает и разбирает план из файла.
func LoadPlanFile(path string) (*domain.WorkflowPlan, *DAG, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read plan file: %w", err)
	}
	return ParsePlan(data)
}

// Resolve создаёт план из черновика и строит его DAG.
func Resolve(draft domain.PlanDraft) (*domain.WorkflowPlan, *DAG, error) {
	plan, err := domain.NewWorkflowPlan(draft)
	if err != nil {
		return nil, nil, err
	}

	dag, err := BuildDAG(plan)
	if err != nil {
		return nil, nil, err
	}
	return plan, dag, nil
}
