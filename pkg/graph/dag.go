package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
)

// DAG represents a directed acyclic view over a Graph artifact
type DAG struct {
	// graph is the underlying graph structure from dominikbraun/graph
	graph graph.Graph[string, string]

	// nodeMap provides quick lookup of nodes by ID
	nodeMap map[string]*Node

	// order contains the topologically sorted node IDs
	order []string
}

// BuildDAG converts a Graph artifact into a DAG.
// It validates the graph structure, detects cycles, and computes a stable
// topological order.
func BuildDAG(g *Graph) (*DAG, error) {
	if g == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	dg := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())

	nodeMap := make(map[string]*Node, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		nodeMap[node.ID] = node
		if err := dg.AddVertex(node.ID); err != nil {
			return nil, fmt.Errorf("failed to add vertex %s: %w", node.ID, err)
		}
	}

	// AddEdge(source, target) means source -> target: a dependency
	// points at the node that needs it
	for i := range g.Nodes {
		node := &g.Nodes[i]
		for _, depID := range node.DependsOn {
			if err := dg.AddEdge(depID, node.ID); err != nil {
				if errors.Is(err, graph.ErrEdgeAlreadyExists) {
					continue
				}
				if errors.Is(err, graph.ErrEdgeCreatesCycle) {
					return nil, &WiringError{Source: depID, Target: node.ID, Message: "dependency creates a cycle"}
				}
				return nil, fmt.Errorf("failed to add edge %s -> %s: %w", depID, node.ID, err)
			}
		}
	}

	order, err := graph.StableTopologicalSort(dg, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, &WiringError{Source: g.Metadata.Name, Target: g.Metadata.Name, Message: fmt.Sprintf("topological sort failed: %v", err)}
	}

	return &DAG{
		graph:   dg,
		nodeMap: nodeMap,
		order:   order,
	}, nil
}

// GetNode retrieves a node by ID
func (d *DAG) GetNode(id string) (*Node, bool) {
	node, found := d.nodeMap[id]
	return node, found
}

// GetOrder returns the topologically sorted node IDs
// Nodes earlier in the list have no dependencies on nodes later in the list
func (d *DAG) GetOrder() []string {
	return d.order
}

// GetDependencies returns the IDs of nodes that the given node depends on
func (d *DAG) GetDependencies(id string) ([]string, error) {
	node, found := d.nodeMap[id]
	if !found {
		return nil, fmt.Errorf("node %s not found", id)
	}
	return node.DependsOn, nil
}

// GetDependents returns the IDs of nodes that depend on the given node
func (d *DAG) GetDependents(id string) ([]string, error) {
	if _, found := d.nodeMap[id]; !found {
		return nil, fmt.Errorf("node %s not found", id)
	}

	adjacency, err := d.graph.AdjacencyMap()
	if err != nil {
		return nil, fmt.Errorf("failed to read adjacency map: %w", err)
	}

	var dependents []string
	for target := range adjacency[id] {
		dependents = append(dependents, target)
	}
	sort.Strings(dependents)
	return dependents, nil
}

// Size returns the number of nodes in the DAG
func (d *DAG) Size() int {
	return len(d.nodeMap)
}

// GetRootNodes returns nodes that have no dependencies
func (d *DAG) GetRootNodes() []string {
	var roots []string
	for _, id := range d.order {
		if len(d.nodeMap[id].DependsOn) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// GetLeafNodes returns nodes that no other nodes depend on
func (d *DAG) GetLeafNodes() []string {
	hasDependents := make(map[string]bool)
	for _, node := range d.nodeMap {
		for _, depID := range node.DependsOn {
			hasDependents[depID] = true
		}
	}

	var leaves []string
	for _, id := range d.order {
		if !hasDependents[id] {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// Waves groups node IDs into levels: every node in a wave depends only on
// nodes in earlier waves, so a wave's members may be provisioned in parallel.
func (d *DAG) Waves() [][]string {
	level := make(map[string]int, len(d.order))
	maxLevel := -1
	for _, id := range d.order {
		l := 0
		for _, dep := range d.nodeMap[id].DependsOn {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[id] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	waves := make([][]string, maxLevel+1)
	for _, id := range d.order {
		waves[level[id]] = append(waves[level[id]], id)
	}
	for _, w := range waves {
		sort.Strings(w)
	}
	return waves
}
