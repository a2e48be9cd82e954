package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/meshflow/internal/domain"
	"github.com/shaiso/meshflow/internal/engine"
)

// NewPlanCmd создаёт группу команд для работы с планами.
func NewPlanCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Validate and create workflow plans",
	}

	cmd.AddCommand(
		newPlanValidateCmd(outputFn),
		newPlanCreateCmd(clientFn, outputFn),
	)

	return cmd
}

func newPlanValidateCmd(outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Validate a plan file locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			plan, dag, err := engine.LoadPlanFile(args[0])
			if err != nil {
				return err
			}

			if out.JSONMode() {
				out.JSON(plan)
				return nil
			}

			out.Success(fmt.Sprintf("Plan is valid: %d steps, goal %q", dag.Size(), plan.Goal))
			out.Table([]string{"ORDER", "STEP", "DEPENDS_ON", "TIMEOUT_MS"}, planRows(dag))
			return nil
		},
	}
}

func newPlanCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var goal string
	var file string
	var autoComplete bool
	var save string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a plan from a goal",
		Long: "Create a plan from a goal. Steps come from --file (a sketch) or from the\n" +
			"planner when --auto-complete is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := CreatePlanRequest{Goal: goal, AutoComplete: autoComplete}
			if file != "" {
				sketch, err := readSketch(file)
				if err != nil {
					return err
				}
				req.Steps = sketch.Steps
				if req.Goal == "" {
					req.Goal = sketch.Goal
				}
			}
			if strings.TrimSpace(req.Goal) == "" {
				return fmt.Errorf("goal is required: pass --goal or a sketch file with goal")
			}

			plan, err := client.CreatePlan(req)
			if err != nil {
				return err
			}

			if save != "" {
				if err := writePlan(save, plan); err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Plan saved to %s", save))
			}

			if out.JSONMode() {
				out.JSON(plan)
				return nil
			}

			out.Success(fmt.Sprintf("Plan created: %s", plan.PlanID))
			rows := make([][]string, len(plan.Steps))
			for i, s := range plan.Steps {
				rows[i] = []string{s.ID, strings.Join(s.DependsOn, ","), truncate(s.Prompt, 60)}
			}
			out.Table([]string{"STEP", "DEPENDS_ON", "PROMPT"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&goal, "goal", "", "Plan goal")
	cmd.Flags().StringVar(&file, "file", "", "YAML or JSON sketch with steps")
	cmd.Flags().BoolVar(&autoComplete, "auto-complete", false, "Ask the planner to draft missing steps")
	cmd.Flags().StringVar(&save, "save", "", "Write the created plan to FILE as YAML")

	return cmd
}

func planRows(dag *engine.DAG) [][]string {
	rows := make([][]string, len(dag.Topo))
	for i, node := range dag.Topo {
		timeout := "-"
		if node.Step.TimeoutMs > 0 {
			timeout = fmt.Sprint(node.Step.TimeoutMs)
		}
		rows[i] = []string{fmt.Sprint(i + 1), node.ID, strings.Join(node.Step.DependsOn, ","), timeout}
	}
	return rows
}

// readSketch читает черновик без валидации: шаги могут быть неполными.
func readSketch(path string) (*domain.PlanDraft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sketch: %w", err)
	}
	var draft domain.PlanDraft
	if err := yaml.Unmarshal(data, &draft); err != nil {
		return nil, fmt.Errorf("decode sketch: %w", err)
	}
	return &draft, nil
}

func writePlan(path string, plan *domain.WorkflowPlan) error {
	data, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}
