// Package graph builds the in-memory DAG of a workflow and validates it.
package graph

import (
	"github.com/dukex/flowbase/pkg/models"
)

// Edge is a directed connection between two steps.
type Edge struct {
	From   string
	To     string
	Branch models.Branch
}

// Graph indexes a workflow's steps and connections. Dangling connections are
// left out; the Validator reports them.
type Graph struct {
	steps map[string]*models.Step
	order []string
	out   map[string][]Edge
	in    map[string][]Edge
}

func Build(workflow *models.Workflow) *Graph {
	g := &Graph{
		steps: make(map[string]*models.Step, len(workflow.Steps)),
		order: make([]string, 0, len(workflow.Steps)),
		out:   make(map[string][]Edge, len(workflow.Steps)),
		in:    make(map[string][]Edge, len(workflow.Steps)),
	}

	for _, step := range workflow.Steps {
		if _, exists := g.steps[step.ID]; exists {
			continue
		}

		g.steps[step.ID] = step
		g.order = append(g.order, step.ID)
	}

	for _, conn := range workflow.Connections {
		if g.steps[conn.From] == nil || g.steps[conn.To] == nil {
			continue
		}

		edge := Edge{From: conn.From, To: conn.To, Branch: conn.Branch}
		g.out[conn.From] = append(g.out[conn.From], edge)
		g.in[conn.To] = append(g.in[conn.To], edge)
	}

	return g
}

func (g *Graph) Step(id string) *models.Step {
	return g.steps[id]
}

// StepIDs returns step ids in declaration order.
func (g *Graph) StepIDs() []string {
	return g.order
}

func (g *Graph) Successors(id string) []Edge {
	return g.out[id]
}

func (g *Graph) Predecessors(id string) []Edge {
	return g.in[id]
}

// TriggerSteps returns the ids of all trigger-kind steps.
func (g *Graph) TriggerSteps() []string {
	triggers := make([]string, 0)

	for _, id := range g.order {
		if g.steps[id].Kind == models.StepKindTrigger {
			triggers = append(triggers, id)
		}
	}

	return triggers
}

// Reachable returns every step reachable from start, start included.
func (g *Graph) Reachable(start string) map[string]bool {
	seen := map[string]bool{}
	if g.steps[start] == nil {
		return seen
	}

	queue := []string{start}
	seen[start] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.out[current] {
			if !seen[edge.To] {
				seen[edge.To] = true
				queue = append(queue, edge.To)
			}
		}
	}

	return seen
}

// FindCycles runs a depth-first search keeping the current recursion stack.
// Every back edge yields one cycle, listed from the re-entered step to the
// step that closes it.
func (g *Graph) FindCycles() [][]string {
	const (
		white = iota
		grey
		black
	)

	color := make(map[string]int, len(g.order))
	stack := make([]string, 0)
	cycles := make([][]string, 0)

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)

		for _, edge := range g.out[id] {
			switch color[edge.To] {
			case white:
				visit(edge.To)
			case grey:
				start := len(stack) - 1
				for stack[start] != edge.To {
					start--
				}

				cycle := append([]string(nil), stack[start:]...)
				cycles = append(cycles, cycle)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.order {
		if color[id] == white {
			visit(id)
		}
	}

	return cycles
}

// TopologicalOrder sorts steps with Kahn's algorithm, keeping declaration
// order among independent steps. It returns false when the graph has a cycle.
func (g *Graph) TopologicalOrder() ([]string, bool) {
	inDegree := make(map[string]int, len(g.order))
	for _, id := range g.order {
		inDegree[id] = len(g.in[id])
	}

	queue := make([]string, 0)

	for _, id := range g.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(g.order))

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		sorted = append(sorted, current)

		for _, edge := range g.out[current] {
			inDegree[edge.To]--
			if inDegree[edge.To] == 0 {
				queue = append(queue, edge.To)
			}
		}
	}

	return sorted, len(sorted) == len(g.order)
}
