// Package pipeline models a workflow as a directed acyclic graph of named
// steps and executes it one step at a time against a shared state value.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDuplicateStep is returned when a step name is registered twice.
	ErrDuplicateStep = errors.New("duplicate step")
	// ErrUnknownDependency is returned when an edge names an unregistered step.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrCycle is returned when the dependency relation is cyclic.
	ErrCycle = errors.New("dependency cycle")
	// ErrUnreachable is returned when a step cannot be reached from the entry step.
	ErrUnreachable = errors.New("unreachable step")
	// ErrEmptyGraph is returned when a graph without steps is validated.
	ErrEmptyGraph = errors.New("graph has no steps")
)

// Operation is the work performed by a step. Operations communicate by
// reading and writing the shared state; the returned Result only reports
// success or failure.
type Operation[S any] func(ctx context.Context, state *S) Result

// Step is one named unit of work. Steps are immutable once added to a Graph.
type Step[S any] struct {
	name      string
	op        Operation[S]
	dependsOn []string
}

// Name returns the unique step name.
func (s Step[S]) Name() string {
	return s.name
}

// DependsOn returns the predecessor names declared when the step was added.
func (s Step[S]) DependsOn() []string {
	return append([]string{}, s.dependsOn...)
}

// Graph is a step table plus predecessor/successor adjacency. The first step
// added is the entry step.
type Graph[S any] struct {
	steps map[string]Step[S]
	order []string
	preds map[string][]string
	succs map[string][]string
}

// NewGraph returns an empty graph.
func NewGraph[S any]() *Graph[S] {
	return &Graph[S]{
		steps: map[string]Step[S]{},
		preds: map[string][]string{},
		succs: map[string][]string{},
	}
}

// AddStep registers a step. Every dependency must already be registered.
func (g *Graph[S]) AddStep(name string, op Operation[S], dependsOn ...string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("step name is required")
	}
	if op == nil {
		return fmt.Errorf("step %q: operation is required", name)
	}
	if _, ok := g.steps[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateStep, name)
	}
	for _, dep := range dependsOn {
		if _, ok := g.steps[dep]; !ok {
			return fmt.Errorf("%w: step %q depends on %q", ErrUnknownDependency, name, dep)
		}
	}

	g.steps[name] = Step[S]{name: name, op: op, dependsOn: append([]string{}, dependsOn...)}
	g.order = append(g.order, name)
	for _, dep := range dependsOn {
		g.link(dep, name)
	}
	return nil
}

// Connect adds an edge between two registered steps. Unlike AddStep it can
// close a cycle; cycles are reported by TopologicalOrder and Validate.
func (g *Graph[S]) Connect(from, to string) error {
	if _, ok := g.steps[from]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDependency, from)
	}
	if _, ok := g.steps[to]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDependency, to)
	}
	g.link(from, to)
	return nil
}

func (g *Graph[S]) link(from, to string) {
	for _, existing := range g.preds[to] {
		if existing == from {
			return
		}
	}
	g.preds[to] = append(g.preds[to], from)
	g.succs[from] = append(g.succs[from], to)
}

// Len returns the number of registered steps.
func (g *Graph[S]) Len() int {
	return len(g.order)
}

// Steps returns step names in insertion order.
func (g *Graph[S]) Steps() []string {
	return append([]string{}, g.order...)
}

// Step looks up a step by name.
func (g *Graph[S]) Step(name string) (Step[S], bool) {
	s, ok := g.steps[name]
	return s, ok
}

// Predecessors returns the names of the steps name depends on.
func (g *Graph[S]) Predecessors(name string) []string {
	return append([]string{}, g.preds[name]...)
}

// Entry returns the designated entry step, or "" for an empty graph.
func (g *Graph[S]) Entry() string {
	if len(g.order) == 0 {
		return ""
	}
	return g.order[0]
}

const (
	unvisited = iota
	visiting
	visited
)

// TopologicalOrder returns every step exactly once, each after all of its
// dependencies. Steps without a relative constraint keep insertion order.
func (g *Graph[S]) TopologicalOrder() ([]string, error) {
	marks := make(map[string]int, len(g.order))
	out := make([]string, 0, len(g.order))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visited:
			return nil
		case visiting:
			start := 0
			for i, p := range path {
				if p == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), name)
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
		}

		marks[name] = visiting
		path = append(path, name)
		for _, dep := range g.preds[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		marks[name] = visited
		out = append(out, name)
		return nil
	}

	for _, name := range g.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Validate checks the structural invariants: at least one step, no cycles,
// and every step reachable from the entry step.
func (g *Graph[S]) Validate() error {
	if len(g.order) == 0 {
		return ErrEmptyGraph
	}
	if _, err := g.TopologicalOrder(); err != nil {
		return err
	}

	entry := g.Entry()
	seen := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, next := range g.succs[name] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}

	var missing []string
	for _, name := range g.order {
		if !seen[name] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w from %q: %s", ErrUnreachable, entry, strings.Join(missing, ", "))
	}
	return nil
}
