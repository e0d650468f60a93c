// Package depgraph validates task dependency edits against the partition's
// dependency graph. Validation is a pure function over an explicit adjacency
// snapshot, so callers can run it inside whatever transaction guards the
// write without the validator touching live store state.
package depgraph

import "errors"

// Rejection reasons, checked in this order: self-reference, unknown ids,
// cycles.
var (
	ErrSelfReference     = errors.New("task cannot depend on itself")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrCycleDetected     = errors.New("dependency cycle detected")
)

// Graph is the adjacency snapshot of one partition: task id -> dependency
// ids. Every task in the partition must appear as a key, even with no
// dependencies, so existence checks work off the same snapshot.
type Graph map[string][]string

// Validate checks whether replacing taskID's dependency set with proposed
// keeps the partition's graph a DAG. taskID itself does not need to exist in
// g yet (creation case). Edges in g that point at ids absent from g (e.g.
// left dangling by a deleted task) are ignored; only the proposed set is
// required to resolve.
func Validate(g Graph, taskID string, proposed []string) error {
	for _, dep := range proposed {
		if dep == taskID {
			return ErrSelfReference
		}
	}
	for _, dep := range proposed {
		if _, ok := g[dep]; !ok {
			return ErrUnknownDependency
		}
	}
	// Substitute the proposed edge set, then check whether taskID is
	// reachable from any of its proposed dependencies.
	adj := make(map[string][]string, len(g)+1)
	for id, deps := range g {
		adj[id] = deps
	}
	adj[taskID] = proposed

	seen := make(map[string]bool, len(adj))
	for _, dep := range proposed {
		if reaches(adj, dep, taskID, seen) {
			return ErrCycleDetected
		}
	}
	return nil
}

// reaches reports whether target is reachable from id by following
// dependency edges. seen is shared across starting points: a node fully
// explored without hitting target never needs revisiting.
func reaches(adj map[string][]string, id, target string, seen map[string]bool) bool {
	if id == target {
		return true
	}
	if seen[id] {
		return false
	}
	seen[id] = true
	for _, next := range adj[id] {
		if reaches(adj, next, target, seen) {
			return true
		}
	}
	return false
}
