package registry

import (
	"fmt"
	"sort"
	"strings"
)

// MigrationNode represents a node in the dependency graph
type MigrationNode struct {
	Migration *Migration
	ID        string
	InDegree  int
	Visited   bool
}

// DependencyGraph represents a graph of migration dependencies
type DependencyGraph struct {
	nodes map[string]*MigrationNode
	edges map[string][]string // from -> to (from depends on to)
}

// NewDependencyGraph creates a new dependency graph
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes: make(map[string]*MigrationNode),
		edges: make(map[string][]string),
	}
}

// AddNode adds a migration node to the graph
func (g *DependencyGraph) AddNode(migration *Migration) {
	id := migration.ID()
	if _, exists := g.nodes[id]; !exists {
		g.nodes[id] = &MigrationNode{
			Migration: migration,
			ID:        id,
		}
		g.edges[id] = []string{}
	}
}

// AddEdge adds a dependency edge: 'from' depends on 'to', so 'to' must
// execute before 'from'. Edges to nodes outside the graph are ignored.
func (g *DependencyGraph) AddEdge(from, to string) {
	if _, exists := g.nodes[from]; !exists {
		return
	}
	if _, exists := g.nodes[to]; !exists {
		return
	}
	g.edges[from] = append(g.edges[from], to)
}

// DetectCycles detects cycles in the dependency graph using DFS
func (g *DependencyGraph) DetectCycles() ([]string, error) {
	for _, node := range g.nodes {
		node.Visited = false
	}

	path := make(map[string]bool)
	cyclePath := []string{}

	var dfs func(nodeID string) bool
	dfs = func(nodeID string) bool {
		node := g.nodes[nodeID]
		if node.Visited {
			return false
		}
		if path[nodeID] {
			cyclePath = append(cyclePath, nodeID)
			return true
		}

		path[nodeID] = true
		for _, depID := range g.edges[nodeID] {
			if dfs(depID) {
				cyclePath = append(cyclePath, nodeID)
				return true
			}
		}
		delete(path, nodeID)
		node.Visited = true
		return false
	}

	for nodeID := range g.nodes {
		if !g.nodes[nodeID].Visited {
			if dfs(nodeID) {
				for i, j := 0, len(cyclePath)-1; i < j; i, j = i+1, j-1 {
					cyclePath[i], cyclePath[j] = cyclePath[j], cyclePath[i]
				}
				return cyclePath, fmt.Errorf("circular dependency detected: %s", strings.Join(cyclePath, " -> "))
			}
		}
	}

	return nil, nil
}

// TopologicalSort orders migrations so that every migration runs after the
// migrations it depends on, using Kahn's algorithm. Ties are broken by
// version so the output is deterministic.
func (g *DependencyGraph) TopologicalSort() ([]*Migration, error) {
	if _, err := g.DetectCycles(); err != nil {
		return nil, err
	}

	// edges[from] lists what 'from' depends on, so a node's in-degree is
	// the number of outgoing edges it has
	reverseEdges := make(map[string][]string) // to -> dependents
	for from, toList := range g.edges {
		for _, to := range toList {
			reverseEdges[to] = append(reverseEdges[to], from)
		}
	}
	for nodeID := range g.nodes {
		g.nodes[nodeID].InDegree = len(g.edges[nodeID])
	}

	queue := []string{}
	for nodeID, node := range g.nodes {
		if node.InDegree == 0 {
			queue = append(queue, nodeID)
		}
	}
	sortQueue := func() {
		sort.Slice(queue, func(i, j int) bool {
			return g.nodes[queue[i]].Migration.Version < g.nodes[queue[j]].Migration.Version
		})
	}
	sortQueue()

	sorted := []*Migration{}
	processed := make(map[string]bool)

	for len(queue) > 0 {
		currentID := queue[0]
		queue = queue[1:]

		if processed[currentID] {
			continue
		}
		processed[currentID] = true
		sorted = append(sorted, g.nodes[currentID].Migration)

		for _, dependentID := range reverseEdges[currentID] {
			if g.nodes[dependentID] != nil {
				g.nodes[dependentID].InDegree--
				if g.nodes[dependentID].InDegree == 0 && !processed[dependentID] {
					queue = append(queue, dependentID)
				}
			}
		}
		sortQueue()
	}

	if len(sorted) < len(g.nodes) {
		var unprocessed []string
		for nodeID := range g.nodes {
			if !processed[nodeID] {
				unprocessed = append(unprocessed, nodeID)
			}
		}
		sort.Strings(unprocessed)
		return nil, fmt.Errorf("not all migrations could be sorted (possible cycle): %s", strings.Join(unprocessed, ", "))
	}

	return sorted, nil
}

// DependencyResolver resolves migration dependencies and provides ordering
type DependencyResolver struct {
	registry Registry
}

// NewDependencyResolver creates a new dependency resolver
func NewDependencyResolver(reg Registry) *DependencyResolver {
	return &DependencyResolver{registry: reg}
}

// FindDependencyTargets finds migration(s) matching a dependency specification
func (r *DependencyResolver) FindDependencyTargets(dep Dependency) ([]*Migration, error) {
	var candidates []*Migration

	for _, migration := range r.registry.GetAll() {
		if dep.Connection != "" && migration.Connection != dep.Connection {
			continue
		}
		if dep.TargetType == "version" {
			if migration.Version == dep.Target {
				candidates = append(candidates, migration)
			}
		} else {
			// Default to "name"
			if migration.Name == dep.Target {
				candidates = append(candidates, migration)
			}
		}
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("dependency target not found: connection=%s, target=%s, type=%s",
			dep.Connection, dep.Target, dep.TargetType)
	}
	return candidates, nil
}

// buildDependencyGraph builds a dependency graph from migrations. Every
// migration gains an implicit edge to the migration named by its PrevVersion,
// plus explicit edges for its declared dependencies.
func (r *DependencyResolver) buildDependencyGraph(migrations []*Migration) (*DependencyGraph, []string) {
	graph := NewDependencyGraph()
	var missingDeps []string

	for _, migration := range migrations {
		graph.AddNode(migration)
	}

	for _, migration := range migrations {
		migrationID := migration.ID()

		// Implicit edge: the previous migration in the chain runs first
		if migration.PrevVersion != "" {
			targets := r.registry.GetByVersion(migration.PrevVersion)
			if len(targets) == 0 {
				missingDeps = append(missingDeps, fmt.Sprintf("%s follows version %s (not found)", migrationID, migration.PrevVersion))
				continue
			}
			for _, target := range targets {
				graph.AddEdge(migrationID, target.ID())
			}
		}

		for _, dep := range migration.StructuredDependencies {
			targets, err := r.FindDependencyTargets(dep)
			if err != nil {
				missingDeps = append(missingDeps, fmt.Sprintf("%s depends on %s (not found)", migrationID, err.Error()))
				continue
			}
			for _, target := range targets {
				graph.AddEdge(migrationID, target.ID())
			}
		}

		for _, depName := range migration.Dependencies {
			targets := r.registry.GetByName(depName)
			if len(targets) == 0 {
				missingDeps = append(missingDeps, fmt.Sprintf("%s depends on %s (not found)", migrationID, depName))
				continue
			}
			for _, target := range targets {
				graph.AddEdge(migrationID, target.ID())
			}
		}
	}

	return graph, missingDeps
}

// validateDependencyTargets ensures all dependency targets exist
func (r *DependencyResolver) validateDependencyTargets(migrations []*Migration) []string {
	var errors []string

	for _, migration := range migrations {
		if migration.PrevVersion != "" {
			if len(r.registry.GetByVersion(migration.PrevVersion)) == 0 {
				errors = append(errors, fmt.Sprintf("migration %s_%s: previous version %s not found",
					migration.Version, migration.Name, migration.PrevVersion))
			}
		}
		for _, dep := range migration.StructuredDependencies {
			if _, err := r.FindDependencyTargets(dep); err != nil {
				errors = append(errors, fmt.Sprintf("migration %s_%s: %v", migration.Version, migration.Name, err))
			}
		}
		for _, depName := range migration.Dependencies {
			if len(r.registry.GetByName(depName)) == 0 {
				errors = append(errors, fmt.Sprintf("migration %s_%s: dependency '%s' not found",
					migration.Version, migration.Name, depName))
			}
		}
	}

	return errors
}

// ResolveDependencies resolves all dependencies and returns the migrations in
// execution order.
func (r *DependencyResolver) ResolveDependencies(migrations []*Migration) ([]*Migration, error) {
	if len(migrations) == 0 {
		return migrations, nil
	}

	validationErrors := r.validateDependencyTargets(migrations)
	if len(validationErrors) > 0 {
		return nil, fmt.Errorf("dependency validation failed: %s", strings.Join(validationErrors, "; "))
	}

	graph, missingDeps := r.buildDependencyGraph(migrations)
	if len(missingDeps) > 0 {
		return nil, fmt.Errorf("missing dependencies: %s", strings.Join(missingDeps, "; "))
	}

	return graph.TopologicalSort()
}
