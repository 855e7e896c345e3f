package migration

import (
	"sort"
	"strings"

	"erpmigrate/pkg/errors"
)

// Graph holds "A depends on B" edges between migration object ids. It stays acyclic:
// an edge that would close a cycle is rejected when the node is added.
type Graph struct {
	deps map[string][]string
}

func NewGraph() *Graph {
	return &Graph{deps: make(map[string][]string)}
}

// AddNode registers id with its direct dependencies. Dependencies may name nodes that
// are added later.
func (g *Graph) AddNode(id string, deps ...string) error {
	if id == "" {
		return errors.ErrConfiguration.New("dependency graph node needs an id")
	}
	if _, ok := g.deps[id]; ok {
		return errors.ErrConfiguration.Newf("object %s is already in the dependency graph", id).WithDetail("objectId", id)
	}
	for _, dep := range deps {
		if dep == id {
			return errors.ErrConfiguration.Newf("object %s depends on itself", id).WithDetail("objectId", id)
		}
		if path := g.pathTo(dep, id, map[string]bool{}); path != nil {
			cycle := append([]string{id}, path...)
			return errors.ErrConfiguration.Newf("dependency cycle: %s", strings.Join(cycle, " -> ")).
				WithDetail("objectId", id).
				WithDetail("cycle", cycle)
		}
	}
	g.deps[id] = append([]string(nil), deps...)
	return nil
}

// pathTo returns the dependency path from -> ... -> to, or nil.
func (g *Graph) pathTo(from, to string, seen map[string]bool) []string {
	if from == to {
		return []string{to}
	}
	if seen[from] {
		return nil
	}
	seen[from] = true
	for _, next := range g.deps[from] {
		if p := g.pathTo(next, to, seen); p != nil {
			return append([]string{from}, p...)
		}
	}
	return nil
}

func (g *Graph) Has(id string) bool {
	_, ok := g.deps[id]
	return ok
}

func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// TransitiveDependencies returns every ancestor of id, sorted.
func (g *Graph) TransitiveDependencies(id string) []string {
	seen := make(map[string]bool)
	var walk func(string)
	walk = func(n string) {
		for _, dep := range g.deps[n] {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	return sortedSet(seen)
}

// TransitiveDependents returns every node that depends on id directly or indirectly.
func (g *Graph) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	for n := range g.deps {
		if n == id {
			continue
		}
		for _, dep := range g.TransitiveDependencies(n) {
			if dep == id {
				seen[n] = true
				break
			}
		}
	}
	return sortedSet(seen)
}

// ExecutionWaves partitions ids into the fewest levels such that every object comes
// after all of its (transitive) dependencies within the set. Objects of one wave are
// independent. Waves are sorted for stable output.
func (g *Graph) ExecutionWaves(ids []string) ([][]string, error) {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !g.Has(id) {
			return nil, errors.ErrConfiguration.Newf("unknown migration object %s", id).WithDetail("objectId", id)
		}
		set[id] = true
	}

	indegree := make(map[string]int, len(set))
	dependents := make(map[string][]string, len(set))
	for id := range set {
		indegree[id] = 0
	}
	for id := range set {
		for _, dep := range g.TransitiveDependencies(id) {
			if set[dep] {
				indegree[id]++
				dependents[dep] = append(dependents[dep], id)
			}
		}
	}

	var waves [][]string
	var current []string
	for id, d := range indegree {
		if d == 0 {
			current = append(current, id)
		}
	}
	placed := 0
	for len(current) > 0 {
		sort.Strings(current)
		waves = append(waves, current)
		placed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range dependents[id] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if placed != len(set) {
		return nil, errors.ErrConfiguration.New("dependency graph contains a cycle")
	}
	return waves, nil
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
