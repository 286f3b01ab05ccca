package seams

import "math"

const flowEps = 1e-9

// MaxFlow is a Dinic max-flow solver. Edges are stored in pairs, so edge
// e^1 is always the reverse of edge e.
type MaxFlow struct {
	adj   [][]int
	to    []int
	cap   []float64
	level []int
	iter  []int
}

func NewMaxFlow(nodes int) *MaxFlow {
	return &MaxFlow{
		adj:   make([][]int, nodes),
		level: make([]int, nodes),
		iter:  make([]int, nodes),
	}
}

// AddEdge adds u->v with capacity c, and v->u with capacity rc.
func (g *MaxFlow) AddEdge(u, v int, c, rc float64) {
	g.adj[u] = append(g.adj[u], len(g.to))
	g.to = append(g.to, v)
	g.cap = append(g.cap, c)
	g.adj[v] = append(g.adj[v], len(g.to))
	g.to = append(g.to, u)
	g.cap = append(g.cap, rc)
}

func (g *MaxFlow) bfs(s, t int) bool {
	for i := range g.level {
		g.level[i] = -1
	}
	g.level[s] = 0
	queue := []int{s}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, e := range g.adj[u] {
			if v := g.to[e]; g.cap[e] > flowEps && g.level[v] < 0 {
				g.level[v] = g.level[u] + 1
				queue = append(queue, v)
			}
		}
	}
	return g.level[t] >= 0
}

// augment pushes blocking flow along the level graph, walking paths with
// an explicit stack rather than recursion.
func (g *MaxFlow) augment(s, t int) float64 {
	total := 0.0
	path := []int{}
	u := s
	for {
		if u == t {
			f := math.Inf(1)
			for _, e := range path {
				f = math.Min(f, g.cap[e])
			}
			for _, e := range path {
				g.cap[e] -= f
				g.cap[e^1] += f
			}
			total += f
			path = path[:0]
			u = s
			continue
		}

		advanced := false
		for ; g.iter[u] < len(g.adj[u]); g.iter[u]++ {
			e := g.adj[u][g.iter[u]]
			if v := g.to[e]; g.cap[e] > flowEps && g.level[v] == g.level[u]+1 {
				path = append(path, e)
				u = v
				advanced = true
				break
			}
		}
		if advanced {
			continue
		}

		// Dead end: take u out of the level graph and step back
		if u == s {
			return total
		}
		g.level[u] = -1
		e := path[len(path)-1]
		path = path[:len(path)-1]
		u = g.to[e^1]
		g.iter[u]++
	}
}

// Solve returns the value of the maximum s-t flow.
func (g *MaxFlow) Solve(s, t int) float64 {
	flow := 0.0
	for g.bfs(s, t) {
		for i := range g.iter {
			g.iter[i] = 0
		}
		flow += g.augment(s, t)
	}
	return flow
}

// SourceSide returns the nodes still reachable from s in the residual
// graph after Solve; that set is the source side of a minimum cut.
func (g *MaxFlow) SourceSide(s int) []bool {
	seen := make([]bool, len(g.adj))
	seen[s] = true
	stack := []int{s}
	for len(stack) > 0 {
		u := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.adj[u] {
			if v := g.to[e]; g.cap[e] > flowEps && !seen[v] {
				seen[v] = true
				stack = append(stack, v)
			}
		}
	}
	return seen
}
