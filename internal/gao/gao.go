// Package gao implements GaoInferencer: Gao's degree-based heuristic for
// inferring AS-to-AS relationships (sibling / customer-provider / peer)
// from a corpus of observed BGP AS paths, given no relationship ground
// truth. See DESIGN.md for the original this was grounded on.
package gao

import (
	"sort"

	"github.com/pobradovic08/as-infer/internal/graph"
	"github.com/pobradovic08/as-infer/internal/metrics"
)

// Classifier holds the two tunable thresholds the heuristic needs: L, the
// minimum one-directional transit-tally count before an edge is trusted as
// customer-provider, and R, the degree-ratio bound: any adjacency outside
// the non-peering mask whose endpoint degrees satisfy lo/hi > 1/R is
// reassigned to peer-to-peer, whatever it was first classified as.
type Classifier struct {
	L int
	R float64
}

// DefaultClassifier matches the thresholds used in the reference
// implementation this package is grounded on.
func DefaultClassifier() *Classifier {
	return &Classifier{L: 1, R: 60.0}
}

type edgeKey [2]int // [a,b], a provider-direction tally toward b

// Stats summarizes one Infer run for logging/metrics.
type Stats struct {
	Sibling int
	P2C     int
	P2P     int
	Edges   int
}

// edgeResult is the working classification for one undirected adjacency,
// keyed by its ordered pair, before the p2p override pass runs.
type edgeResult struct {
	a, b        int
	rel         graph.Relation // RelSibling or RelP2C (isAProvider gives direction)
	isAProvider bool
}

// Infer classifies every AS adjacency observed across paths and returns the
// resulting relationship set (both directions per pair, consistent with
// the antisymmetry invariant the Store enforces on write).
func (c *Classifier) Infer(paths [][]int) ([]graph.Relationship, Stats, error) {
	degree, adjacency := buildDegreeGraph(paths)
	transit := tallyTransit(paths, degree)
	nonPeeringMask := buildNonPeeringMask(paths, degree)

	var stats Stats
	results := make(map[[2]int]edgeResult)

	for a, neighbors := range adjacency {
		for b := range neighbors {
			key := orderedPairKey(a, b)
			if _, ok := results[key]; ok {
				continue
			}
			stats.Edges++

			rel, isAProvider := c.classifyEdge(a, b, transit)
			if rel == "" {
				// Neither direction carries enough transit evidence:
				// fall back to the higher-degree AS as provider.
				rel = graph.RelP2C
				isAProvider = degree[a] >= degree[b]
			}
			results[key] = edgeResult{a: a, b: b, rel: rel, isAProvider: isAProvider}
		}
	}

	// p2p override: every adjacency outside the non-peering mask whose
	// endpoints have comparable degree is reassigned to peer-to-peer,
	// replacing whatever classifyEdge decided for it.
	for key, res := range results {
		if nonPeeringMask[key] {
			continue
		}
		if degreeRatio(degree[res.a], degree[res.b]) <= 1/c.R {
			continue
		}
		res.rel = graph.RelP2P
		results[key] = res
	}

	out := make([]graph.Relationship, 0, 2*len(results))
	for _, res := range results {
		switch res.rel {
		case graph.RelSibling:
			stats.Sibling++
			out = append(out,
				graph.Relationship{AS1: res.a, AS2: res.b, Relation: graph.RelSibling, Source: "gao"},
				graph.Relationship{AS1: res.b, AS2: res.a, Relation: graph.RelSibling, Source: "gao"},
			)
			metrics.GaoClassificationsTotal.WithLabelValues("sibling").Inc()
		case graph.RelP2P:
			stats.P2P++
			out = append(out,
				graph.Relationship{AS1: res.a, AS2: res.b, Relation: graph.RelP2P, Source: "gao"},
				graph.Relationship{AS1: res.b, AS2: res.a, Relation: graph.RelP2P, Source: "gao"},
			)
			metrics.GaoClassificationsTotal.WithLabelValues("p2p").Inc()
		default:
			stats.P2C++
			if res.isAProvider {
				out = append(out,
					graph.Relationship{AS1: res.a, AS2: res.b, Relation: graph.RelP2C, Source: "gao"},
					graph.Relationship{AS1: res.b, AS2: res.a, Relation: graph.RelC2P, Source: "gao"},
				)
			} else {
				out = append(out,
					graph.Relationship{AS1: res.a, AS2: res.b, Relation: graph.RelC2P, Source: "gao"},
					graph.Relationship{AS1: res.b, AS2: res.a, Relation: graph.RelP2C, Source: "gao"},
				)
			}
			metrics.GaoClassificationsTotal.WithLabelValues("p2c").Inc()
		}
	}

	return out, stats, nil
}

func orderedPairKey(a, b int) [2]int {
	if a <= b {
		return [2]int{a, b}
	}
	return [2]int{b, a}
}

// buildDegreeGraph builds the undirected adjacency/degree graph from every
// edge observed in any path.
func buildDegreeGraph(paths [][]int) (degree map[int]int, adjacency map[int]map[int]bool) {
	degree = make(map[int]int)
	adjacency = make(map[int]map[int]bool)

	addEdge := func(a, b int) {
		if adjacency[a] == nil {
			adjacency[a] = make(map[int]bool)
		}
		if adjacency[b] == nil {
			adjacency[b] = make(map[int]bool)
		}
		if !adjacency[a][b] {
			adjacency[a][b] = true
			adjacency[b][a] = true
			degree[a]++
			degree[b]++
		}
	}

	for _, p := range paths {
		for i := 0; i+1 < len(p); i++ {
			if p[i] != p[i+1] {
				addEdge(p[i], p[i+1])
			}
		}
	}
	return degree, adjacency
}

// topProviderIndex returns the index of the highest-degree AS in the path,
// the presumed peak-of-transit AS splitting the ascending (customer->
// provider) half from the descending (provider->customer) half.
func topProviderIndex(p []int, degree map[int]int) int {
	best := 0
	for i, as := range p {
		if degree[as] > degree[p[best]] {
			best = i
		}
	}
	return best
}

// tallyTransit counts, for each ordered (provider, customer) pair, how many
// paths are consistent with that direction, split at each path's
// top-provider index.
func tallyTransit(paths [][]int, degree map[int]int) map[edgeKey]int {
	transit := make(map[edgeKey]int)
	for _, p := range paths {
		if len(p) < 2 {
			continue
		}
		top := topProviderIndex(p, degree)

		// Ascending half: p[i] customer of p[i+1], i.e. p[i+1] is provider.
		for i := 0; i < top; i++ {
			transit[edgeKey{p[i+1], p[i]}]++
		}
		// Descending half: p[i] provider of p[i+1].
		for i := top; i+1 < len(p); i++ {
			transit[edgeKey{p[i], p[i+1]}]++
		}
	}
	return transit
}

// buildNonPeeringMask marks edges adjacent to each path's top-provider peak
// as definitely-transit, excluding them from later peer-upgrade
// consideration. Per the documented open question, paths whose
// top-provider index is 0 or the last index contribute nothing to the
// mask: there is no well-defined "straddle" at a path endpoint.
func buildNonPeeringMask(paths [][]int, degree map[int]int) map[[2]int]bool {
	mask := make(map[[2]int]bool)
	for _, p := range paths {
		if len(p) < 2 {
			continue
		}
		top := topProviderIndex(p, degree)
		if top == 0 || top == len(p)-1 {
			continue
		}
		lo := top - 2
		if lo < 0 {
			lo = 0
		}
		hi := top + 1
		if hi > len(p)-1 {
			hi = len(p) - 1
		}
		for i := lo; i < hi; i++ {
			mask[orderedPairKey(p[i], p[i+1])] = true
		}
	}
	return mask
}

// classifyEdge decides a's relationship to b from the transit tally alone.
// Sibling requires transit evidence in both directions, either both strong
// (> L) or both weak (<= L) — a split verdict (one side > L, the other not)
// is not a sibling. Otherwise it returns RelP2C with isAProvider indicating
// which side is the provider; with no tally in either direction, a is taken
// as the provider. It never returns an empty relation.
func (c *Classifier) classifyEdge(a, b int, transit map[edgeKey]int) (rel graph.Relation, isAProvider bool) {
	abCount := transit[edgeKey{a, b}] // a provider of b
	baCount := transit[edgeKey{b, a}] // b provider of a

	if abCount > 0 && baCount > 0 {
		if (abCount > c.L && baCount > c.L) || (abCount <= c.L && baCount <= c.L) {
			return graph.RelSibling, false
		}
	}
	if baCount == 0 || abCount > c.L {
		return graph.RelP2C, true
	}
	if abCount == 0 || baCount > c.L {
		return graph.RelP2C, false
	}
	return "", false
}

func degreeRatio(a, b int) float64 {
	if a == 0 || b == 0 {
		return 0
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	return float64(lo) / float64(hi)
}

// topProviderChain returns the top-provider AS of p and its index. It has
// no caller; `extra gao-relation` writes only the classified edges.
func topProviderChain(p []int, degree map[int]int) (as int, idx int) {
	idx = topProviderIndex(p, degree)
	return p[idx], idx
}

// sortedASes returns the distinct AS numbers seen across all paths, sorted
// ascending, for deterministic output ordering (e.g. JSON dumps).
func sortedASes(degree map[int]int) []int {
	out := make([]int, 0, len(degree))
	for as := range degree {
		out = append(out, as)
	}
	sort.Ints(out)
	return out
}
