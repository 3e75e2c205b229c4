// Package router implements the Recovery Router (§4.8): a directed market
// graph over the venue's tradable symbols, multi-hop path discovery,
// market-condition-aware slippage tolerance, and the panic-sell execution
// loop the Cycle Execution Engine falls back to when a cycle can't
// complete cleanly.
package router

import (
	"github.com/evanward/triarb/internal/domain"
)

// Edge is one directed hop in the market graph: trading Symbol in Side
// direction moves holdings from From to To.
type Edge struct {
	Symbol         string
	Side           string // "buy" | "sell"
	From           domain.Currency
	To             domain.Currency
	Market         domain.Market
	LiquidityScore float64 // filled in by EvaluatePath, 0 until then
}

// Graph is a directed multigraph of currencies connected by tradable
// markets, rebuilt from LoadMarkets whenever the Router needs a fresh
// view (no third-party graph library is present anywhere in the example
// corpus, so this is a small hand-rolled adjacency list — see DESIGN.md).
type Graph struct {
	adj map[domain.Currency][]Edge
}

// BuildGraph adds one bidirectional pair of edges per market: quote->base
// (buying base with quote) and base->quote (selling base for quote) —
// the same construction as the original's build_market_graph.
func BuildGraph(markets map[string]domain.Market) *Graph {
	g := &Graph{adj: make(map[domain.Currency][]Edge)}
	for symbol, m := range markets {
		g.adj[m.Quote] = append(g.adj[m.Quote], Edge{Symbol: symbol, Side: "buy", From: m.Quote, To: m.Base, Market: m})
		g.adj[m.Base] = append(g.adj[m.Base], Edge{Symbol: symbol, Side: "sell", From: m.Base, To: m.Quote, Market: m})
	}
	return g
}

func (g *Graph) Neighbors(c domain.Currency) []Edge { return g.adj[c] }

func (g *Graph) Has(c domain.Currency) bool {
	_, ok := g.adj[c]
	return ok
}

// AllShortestPaths enumerates every path of minimum hop length from
// source to target, capped at maxHops — the Go equivalent of
// networkx.all_shortest_paths, implemented with a BFS layering pass
// (record each node's shortest distance) followed by a DFS that only
// follows edges strictly decreasing in distance-to-target.
func (g *Graph) AllShortestPaths(source, target domain.Currency, maxHops int) [][]domain.Currency {
	if source == target {
		return [][]domain.Currency{{source}}
	}
	if !g.Has(source) || !g.Has(target) {
		return nil
	}

	dist := g.bfsDistances(target)
	d0, ok := dist[source]
	if !ok || d0 > maxHops {
		return nil
	}

	var paths [][]domain.Currency
	var walk func(node domain.Currency, path []domain.Currency)
	walk = func(node domain.Currency, path []domain.Currency) {
		if node == target {
			cp := make([]domain.Currency, len(path))
			copy(cp, path)
			paths = append(paths, cp)
			return
		}
		if len(path) > maxHops {
			return
		}
		curDist := dist[node]
		for _, e := range g.adj[node] {
			nd, ok := dist[e.To]
			if !ok || nd != curDist-1 {
				continue
			}
			walk(e.To, append(path, e.To))
		}
	}
	walk(source, []domain.Currency{source})
	return paths
}

// bfsDistances returns each node's directed hop distance to target (the
// forward distance nx.all_shortest_paths works with), computed by a
// single BFS seeded at target that follows edges backwards through a
// precomputed reverse adjacency. Nodes with no path to target are absent
// from the map.
func (g *Graph) bfsDistances(target domain.Currency) map[domain.Currency]int {
	rev := make(map[domain.Currency][]domain.Currency)
	for from, edges := range g.adj {
		for _, e := range edges {
			rev[e.To] = append(rev[e.To], from)
		}
	}

	dist := map[domain.Currency]int{target: 0}
	queue := []domain.Currency{target}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, prev := range rev[cur] {
			if _, seen := dist[prev]; seen {
				continue
			}
			dist[prev] = dist[cur] + 1
			queue = append(queue, prev)
		}
	}
	return dist
}

// IntermediaryPath stitches a path from source to intermediary and from
// intermediary to target, matching the original's "preferred
// intermediaries" path construction: path1 + path2[1:] to avoid
// duplicating the intermediary node.
func (g *Graph) IntermediaryPath(source, intermediary, target domain.Currency, maxHops int) ([]domain.Currency, bool) {
	if intermediary == source {
		return nil, false
	}
	p1 := g.shortestPath(source, intermediary)
	if p1 == nil {
		return nil, false
	}
	p2 := g.shortestPath(intermediary, target)
	if p2 == nil {
		return nil, false
	}
	combined := append(append([]domain.Currency{}, p1...), p2[1:]...)
	if len(combined)-1 > maxHops {
		return nil, false
	}
	return combined, true
}

func (g *Graph) shortestPath(source, target domain.Currency) []domain.Currency {
	if source == target {
		return []domain.Currency{source}
	}
	prev := map[domain.Currency]domain.Currency{}
	visited := map[domain.Currency]bool{source: true}
	queue := []domain.Currency{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range g.adj[cur] {
			if visited[e.To] {
				continue
			}
			visited[e.To] = true
			prev[e.To] = cur
			if e.To == target {
				path := []domain.Currency{target}
				for n := cur; ; n = prev[n] {
					path = append([]domain.Currency{n}, path...)
					if n == source {
						break
					}
				}
				return path
			}
			queue = append(queue, e.To)
		}
	}
	return nil
}

// EdgeBetween returns the graph edge used to move from `from` directly to
// `to`, if one exists.
func (g *Graph) EdgeBetween(from, to domain.Currency) (Edge, bool) {
	for _, e := range g.adj[from] {
		if e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}
