package engine

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/shaiso/meshflow/internal/domain"
)

// Node — узел в DAG.
type Node struct {
	// Step — определение шага из плана.
	Step *domain.PlanStep

	// ID — идентификатор шага.
	ID string

	// Index — позиция шага в плане (порядок объявления).
	Index int

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла, в порядке объявления.
	Dependents []*Node
}

// DAG — направленный ациклический граф шагов плана.
type DAG struct {
	// Nodes — все узлы графа (stepID → Node).
	Nodes map[string]*Node

	// Order — узлы в порядке объявления в плане.
	Order []*Node

	// RootNodes — узлы без зависимостей (начальный ready set), в порядке объявления.
	RootNodes []*Node

	// Topo — топологически отсортированный список узлов.
	// При равенстве выигрывает шаг, объявленный раньше.
	Topo []*Node
}

// BuildDAG строит DAG из плана.
//
// Проверяет уникальность ID, ссылки depends_on, самозависимости и циклы.
// План не модифицируется.
func BuildDAG(plan *domain.WorkflowPlan) (*DAG, error) {
	if plan == nil || len(plan.Steps) == 0 {
		return nil, newValidationError("", "steps", "plan has no steps", ErrEmptySteps)
	}
	if len(plan.Steps) > domain.MaxPlanSteps {
		return nil, newValidationError("", "steps",
			fmt.Sprintf("plan has %d steps, max %d", len(plan.Steps), domain.MaxPlanSteps), ErrTooManySteps)
	}

	dag := &DAG{
		Nodes: make(map[string]*Node, len(plan.Steps)),
		Order: make([]*Node, 0, len(plan.Steps)),
	}

	// Первый проход: создаём все узлы
	for i := range plan.Steps {
		if err := dag.addNode(&plan.Steps[i], i); err != nil {
			return nil, err
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for _, node := range dag.Order {
		if err := dag.linkDependencies(node); err != nil {
			return nil, err
		}
	}

	dag.findRootNodes()

	if err := dag.detectCycle(); err != nil {
		return nil, err
	}
	dag.Topo = dag.topologicalSort()

	return dag, nil
}

// addNode добавляет узел в DAG.
func (d *DAG) addNode(step *domain.PlanStep, index int) error {
	if step.ID == "" {
		return newValidationError("", "id",
			fmt.Sprintf("step %d has empty ID", index), ErrEmptyStepID)
	}
	if _, exists := d.Nodes[step.ID]; exists {
		return newValidationError(step.ID, "id",
			fmt.Sprintf("duplicate step ID: %s", step.ID), ErrDuplicateStepID)
	}

	node := &Node{
		Step:       step,
		ID:         step.ID,
		Index:      index,
		DependsOn:  make([]*Node, 0, len(step.DependsOn)),
		Dependents: make([]*Node, 0),
	}
	d.Nodes[step.ID] = node
	d.Order = append(d.Order, node)
	return nil
}

// linkDependencies связывает узел с его зависимостями.
func (d *DAG) linkDependencies(node *Node) error {
	for _, depID := range node.Step.DependsOn {
		if depID == node.ID {
			return newValidationError(node.ID, "depends_on",
				"step depends on itself", ErrSelfDependency)
		}

		depNode, exists := d.Nodes[depID]
		if !exists {
			return newValidationError(node.ID, "depends_on",
				fmt.Sprintf("depends on unknown step: %s", depID), ErrMissingDependency)
		}

		d.addEdge(depNode, node)
	}
	return nil
}

// addEdge добавляет ребро между узлами.
// Повторное объявление одной зависимости не увеличивает InDegree.
func (d *DAG) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (d *DAG) findRootNodes() {
	d.RootNodes = make([]*Node, 0)
	for _, node := range d.Order {
		if node.InDegree == 0 {
			d.RootNodes = append(d.RootNodes, node)
		}
	}
}

// Цвета вершин для поиска цикла.
const (
	white = iota // не посещена
	grey         // в стеке обхода
	black        // обработана
)

// detectCycle ищет цикл обходом в глубину с трёхцветной раскраской.
// Сообщение ошибки содержит путь цикла: "a -> b -> c -> a".
func (d *DAG) detectCycle() error {
	color := make(map[string]int, len(d.Nodes))
	stack := make([]string, 0, len(d.Nodes))

	var visit func(n *Node) []string
	visit = func(n *Node) []string {
		color[n.ID] = grey
		stack = append(stack, n.ID)

		for _, next := range n.Dependents {
			switch color[next.ID] {
			case grey:
				// Цикл: от первого вхождения next в стеке до текущего узла
				for i, id := range stack {
					if id == next.ID {
						path := append([]string(nil), stack[i:]...)
						return append(path, next.ID)
					}
				}
			case white:
				if path := visit(next); path != nil {
					return path
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[n.ID] = black
		return nil
	}

	for _, node := range d.Order {
		if color[node.ID] != white {
			continue
		}
		if path := visit(node); path != nil {
			return newValidationError(path[0], "depends_on",
				"cyclic dependency: "+strings.Join(path, " -> "), ErrCyclicDependency)
		}
	}
	return nil
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Вызывается после detectCycle, поэтому граф гарантированно ацикличен.
func (d *DAG) topologicalSort() []*Node {
	// Копируем inDegree, чтобы не модифицировать оригинал
	inDegree := make(map[string]int, len(d.Nodes))
	for id, node := range d.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(d.RootNodes))
	copy(queue, d.RootNodes)

	order := make([]*Node, 0, len(d.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		released := false
		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
				released = true
			}
		}
		if released {
			sortByIndex(queue)
		}
	}

	return order
}

// Downstream возвращает транзитивное замыкание зависимых шагов
// для указанных ID (сами ID не включаются), в порядке объявления.
func (d *DAG) Downstream(ids ...string) []*Node {
	seen := make(map[string]bool)
	queue := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if node, ok := d.Nodes[id]; ok {
			queue = append(queue, node)
		}
	}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, dependent := range node.Dependents {
			if seen[dependent.ID] {
				continue
			}
			seen[dependent.ID] = true
			queue = append(queue, dependent)
		}
	}

	for _, id := range ids {
		delete(seen, id)
	}

	result := make([]*Node, 0, len(seen))
	for _, node := range d.Order {
		if seen[node.ID] {
			result = append(result, node)
		}
	}
	return result
}

// GetNode возвращает узел по ID.
func (d *DAG) GetNode(id string) *Node {
	return d.Nodes[id]
}

// Size возвращает количество узлов в DAG.
func (d *DAG) Size() int {
	return len(d.Nodes)
}

// sortByIndex сортирует узлы по порядку объявления.
func sortByIndex(nodes []*Node) {
	slices.SortStableFunc(nodes, func(a, b *Node) int {
		return cmp.Compare(a.Index, b.Index)
	})
}
