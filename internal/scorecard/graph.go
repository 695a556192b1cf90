// Package scorecard turns a scorecard configuration into a validated,
// acyclic dependency graph of score nodes.
package scorecard

import (
	"fmt"
	"slices"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
)

// Graph is an immutable DAG of score nodes. Safe for concurrent reads.
type Graph struct {
	nodes      map[string]domain.ScoreNode
	nameToID   map[string]string
	dependents map[string][]string
	configured []string // ids in configuration order
	order      []string // ids in topological order
}

// Build resolves dependencies by name, rejects duplicates, unknown names,
// unknown operators and cycles, and computes a topological order whose ties
// follow configuration order.
func Build(scores []domain.ScoreConfig) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]domain.ScoreNode, len(scores)),
		nameToID:   make(map[string]string, len(scores)),
		dependents: make(map[string][]string, len(scores)),
		configured: make([]string, 0, len(scores)),
	}

	for _, sc := range scores {
		if sc.Name == "" {
			return nil, fmt.Errorf("%w: score without a name", domain.ErrInvalidScorecard)
		}
		id := sc.Key()
		if _, dup := g.nameToID[sc.Name]; dup {
			return nil, fmt.Errorf("%w: name %q", domain.ErrDuplicateScore, sc.Name)
		}
		if _, dup := g.nodes[id]; dup {
			return nil, fmt.Errorf("%w: id %q", domain.ErrDuplicateScore, id)
		}
		g.nameToID[sc.Name] = id
		g.nodes[id] = domain.ScoreNode{
			ID:             id,
			Name:           sc.Name,
			PositiveLabels: slices.Clone(sc.PositiveLabels),
		}
		g.configured = append(g.configured, id)
	}

	for _, sc := range scores {
		id := sc.Key()
		node := g.nodes[id]
		for _, spec := range sc.DependsOn {
			edge, err := g.resolveEdge(sc.Name, spec)
			if err != nil {
				return nil, err
			}
			node.DependsOn = append(node.DependsOn, edge)
			g.dependents[edge.TargetID] = append(g.dependents[edge.TargetID], id)
		}
		g.nodes[id] = node
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	g.order = g.topologicalOrder()
	return g, nil
}

func (g *Graph) resolveEdge(scoreName string, spec domain.DependencySpec) (domain.DependencyEdge, error) {
	targetID, ok := g.nameToID[spec.Name]
	if !ok {
		// Dependencies may also reference an explicit id.
		if _, byID := g.nodes[spec.Name]; !byID {
			return domain.DependencyEdge{}, fmt.Errorf("%w: score %q depends on %q",
				domain.ErrUnknownDependency, scoreName, spec.Name)
		}
		targetID = spec.Name
	}

	op, err := domain.ParseOperator(spec.Condition.Operator)
	if err != nil {
		return domain.DependencyEdge{}, fmt.Errorf("%w: score %q dependency %q: %w",
			domain.ErrInvalidScorecard, scoreName, spec.Name, err)
	}
	expected := spec.ExpectedValues()
	if op == domain.OpUnconditional && len(expected) > 0 {
		op = domain.OpEquals
	}

	switch {
	case op == domain.OpUnconditional:
		expected = nil
	case op.IsSetOperator() && len(expected) == 0:
		return domain.DependencyEdge{}, fmt.Errorf("%w: score %q dependency %q: %q needs at least one value",
			domain.ErrInvalidScorecard, scoreName, spec.Name, op)
	case !op.IsSetOperator() && len(expected) != 1:
		return domain.DependencyEdge{}, fmt.Errorf("%w: score %q dependency %q: %q needs exactly one value",
			domain.ErrInvalidScorecard, scoreName, spec.Name, op)
	}

	return domain.DependencyEdge{
		TargetID:   targetID,
		TargetName: g.nodes[targetID].Name,
		Operator:   op,
		Expected:   expected,
	}, nil
}

// detectCycles runs a DFS with a recursion stack and reports the first cycle
// found, visiting roots in configuration order.
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))
	path := make([]string, 0, len(g.nodes))

	var dfs func(id string) error
	dfs = func(id string) error {
		visited[id] = true
		onStack[id] = true
		path = append(path, id)

		for _, edge := range g.nodes[id].DependsOn {
			dep := edge.TargetID
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				start := slices.Index(path, dep)
				cycle := append(slices.Clone(path[start:]), dep)
				return &domain.CycleError{Path: cycle}
			}
		}

		path = path[:len(path)-1]
		onStack[id] = false
		return nil
	}

	for _, id := range g.configured {
		if !visited[id] {
			if err := dfs(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// topologicalOrder repeatedly emits the earliest configured node whose
// prerequisites are already placed. The graph must be acyclic.
func (g *Graph) topologicalOrder() []string {
	placed := make(map[string]bool, len(g.nodes))
	order := make([]string, 0, len(g.nodes))
	for len(order) < len(g.configured) {
		for _, id := range g.configured {
			if placed[id] || !g.ready(id, placed) {
				continue
			}
			placed[id] = true
			order = append(order, id)
			break
		}
	}
	return order
}

func (g *Graph) ready(id string, placed map[string]bool) bool {
	for _, edge := range g.nodes[id].DependsOn {
		if !placed[edge.TargetID] {
			return false
		}
	}
	return true
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (domain.ScoreNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// IDForName maps a score name to its id.
func (g *Graph) IDForName(name string) (string, bool) {
	id, ok := g.nameToID[name]
	return id, ok
}

// Order returns node ids in topological order.
func (g *Graph) Order() []string { return slices.Clone(g.order) }

// Nodes returns every node in topological order.
func (g *Graph) Nodes() []domain.ScoreNode {
	out := make([]domain.ScoreNode, len(g.order))
	for i, id := range g.order {
		out[i] = g.nodes[id]
	}
	return out
}

// Dependents returns the ids that depend directly on id, in configuration order.
func (g *Graph) Dependents(id string) []string { return slices.Clone(g.dependents[id]) }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Closure returns the requested ids plus all their transitive prerequisites,
// in topological order. An empty request selects the whole graph.
func (g *Graph) Closure(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return g.Order(), nil
	}
	include := make(map[string]bool, len(ids))
	var visit func(id string)
	visit = func(id string) {
		if include[id] {
			return
		}
		include[id] = true
		for _, edge := range g.nodes[id].DependsOn {
			visit(edge.TargetID)
		}
	}
	for _, id := range ids {
		if _, ok := g.nodes[id]; !ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDependency, id)
		}
		visit(id)
	}
	out := make([]string, 0, len(include))
	for _, id := range g.order {
		if include[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// ResolveNames maps score names (or ids) to ids.
func (g *Graph) ResolveNames(names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		if id, ok := g.nameToID[name]; ok {
			ids = append(ids, id)
			continue
		}
		if _, ok := g.nodes[name]; ok {
			ids = append(ids, name)
			continue
		}
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDependency, name)
	}
	return ids, nil
}
