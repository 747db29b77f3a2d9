package lock

import "github.com/google/uuid"

// waitForGraph is the per-partition precedence graph: an edge from->to
// means "from is waiting on a lock held by to" (spec §4.9). Grounded in the
// teacher's WaitsForGraph, adapted from a global edge slice over
// *Transaction to a per-partition slice over uuid.UUID locker ids, and its
// DFS widened from a single fixed start node to every node with an
// outbound edge (the teacher's dfs only ever started from edges[0].from,
// which misses cycles that don't happen to involve that locker).
type waitForGraph struct {
	edges []edge
}

type edge struct {
	from, to uuid.UUID
}

func newWaitForGraph() *waitForGraph {
	return &waitForGraph{}
}

func (g *waitForGraph) addEdge(from, to uuid.UUID) {
	g.edges = append(g.edges, edge{from, to})
}

func (g *waitForGraph) removeEdge(from, to uuid.UUID) {
	for i, e := range g.edges {
		if e.from == from && e.to == to {
			g.edges[i] = g.edges[len(g.edges)-1]
			g.edges = g.edges[:len(g.edges)-1]
			return
		}
	}
}

// hasCycle reports whether the graph contains any cycle reachable from any
// node, via DFS with a recursion-stack set (so a cross-branch "already
// fully explored" node isn't mistaken for a cycle).
func (g *waitForGraph) hasCycle() bool {
	visited := map[uuid.UUID]bool{}
	for _, e := range g.edges {
		if visited[e.from] {
			continue
		}
		if g.dfs(e.from, visited, map[uuid.UUID]bool{}) {
			return true
		}
	}
	return false
}

func (g *waitForGraph) dfs(from uuid.UUID, visited, onStack map[uuid.UUID]bool) bool {
	visited[from] = true
	onStack[from] = true
	defer delete(onStack, from)
	for _, e := range g.edges {
		if e.from != from {
			continue
		}
		if onStack[e.to] {
			return true
		}
		if !visited[e.to] && g.dfs(e.to, visited, onStack) {
			return true
		}
	}
	return false
}
