package workflow

import (
	"sort"
)

// TaskSpec is a proposed template task.
// Ref and DependsOn are request-scoped references: when a template is
// first created no task has a persisted identifier yet, so tasks refer
// to each other by Ref.
type TaskSpec struct {
	Ref           string `json:"ref,omitempty" yaml:"ref,omitempty"`
	Name          string `json:"name" yaml:"name"`
	Description   string `json:"description,omitempty" yaml:"description,omitempty"`
	Role          Role   `json:"role" yaml:"role"`
	SequenceOrder int    `json:"sequence_order" yaml:"sequence_order"`
	Parallel      bool   `json:"parallel,omitempty" yaml:"parallel,omitempty"`
	DependsOn     string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
}

// Validate checks the fields of a single task.
func (ts *TaskSpec) Validate() error {
	if ts == nil {
		return NewValidationError("empty task")
	}
	if ts.Name == "" {
		return NewValidationError("task name required")
	}
	if !ts.Role.Valid() {
		return NewValidationError("task %q: invalid role: %q", ts.Name, ts.Role)
	}
	if ts.SequenceOrder < 1 {
		return NewValidationError("task %q: sequence order must be positive", ts.Name)
	}
	return nil
}

// ValidateAndNormalize checks a proposed task list and renumbers its
// sequence orders to consecutive integers starting at 1.
//
// Checks run in order and the first failure is returned: the list must
// not be empty; tasks sharing a sequence order must all be parallel;
// every dependency must name a task in the list; dependencies must not
// form a cycle; and a dependency must have a lower sequence order than
// its dependent.
//
// The returned list is a copy ordered by sequence order. Tasks keep
// their relative order within a sequence order and parallel groups stay
// together after renumbering.
func ValidateAndNormalize(tasks []TaskSpec) ([]TaskSpec, error) {
	if len(tasks) < 1 {
		return nil, NewValidationError("at least one task required")
	}

	groups := make(map[int][]int)
	var orders []int
	for i, t := range tasks {
		if _, ok := groups[t.SequenceOrder]; !ok {
			orders = append(orders, t.SequenceOrder)
		}
		groups[t.SequenceOrder] = append(groups[t.SequenceOrder], i)
	}
	sort.Ints(orders)
	for _, order := range orders {
		group := groups[order]
		if len(group) < 2 {
			continue
		}
		for _, i := range group {
			if !tasks[i].Parallel {
				return nil, NewValidationError(
					"tasks with sequence order %d must be marked parallel: duplicate sequence orders require the parallel flag",
					order,
				)
			}
		}
	}

	refs := make(map[string]int)
	for i, t := range tasks {
		if t.Ref == "" {
			continue
		}
		if _, ok := refs[t.Ref]; ok {
			return nil, NewValidationError("duplicate task reference %q", t.Ref)
		}
		refs[t.Ref] = i
	}

	// edges[i] is the index of the task that task i depends on, or -1.
	edges := make([]int, len(tasks))
	for i, t := range tasks {
		edges[i] = -1
		if t.DependsOn == "" {
			continue
		}
		dep, ok := refs[t.DependsOn]
		if !ok {
			return nil, NewValidationError("task %q depends on unknown task %q", t.Name, t.DependsOn)
		}
		edges[i] = dep
	}

	if i, ok := findCycle(edges); ok {
		return nil, NewValidationError("dependency cycle detected at task %q", tasks[i].Name)
	}

	for i, dep := range edges {
		if dep >= 0 && tasks[dep].SequenceOrder >= tasks[i].SequenceOrder {
			return nil, NewValidationError(
				"task %q must depend on a task with a lower sequence order than %d",
				tasks[i].Name, tasks[i].SequenceOrder,
			)
		}
	}

	return normalize(tasks), nil
}

// findCycle walks the dependency edges depth-first and returns the index
// of a task found on a cycle.
func findCycle(edges []int) (int, bool) {
	const (
		white = iota // unvisited
		grey         // on the current path
		black        // done
	)
	state := make([]int, len(edges))
	for start := range edges {
		if state[start] != white {
			continue
		}
		var path []int
		n := start
		for n >= 0 && state[n] == white {
			state[n] = grey
			path = append(path, n)
			n = edges[n]
		}
		if n >= 0 && state[n] == grey {
			return n, true
		}
		for _, p := range path {
			state[p] = black
		}
	}
	return -1, false
}

// normalize returns a copy of tasks ordered and renumbered by sequence order.
func normalize(tasks []TaskSpec) []TaskSpec {
	ret := make([]TaskSpec, len(tasks))
	copy(ret, tasks)
	sort.SliceStable(ret, func(i, j int) bool {
		return ret[i].SequenceOrder < ret[j].SequenceOrder
	})
	order, prev := 0, 0
	for i := range ret {
		if i == 0 || ret[i].SequenceOrder != prev {
			order++
			prev = ret[i].SequenceOrder
		}
		ret[i].SequenceOrder = order
	}
	return ret
}
