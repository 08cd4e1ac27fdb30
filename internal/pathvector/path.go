// Package pathvector builds Valley-Free-respecting AS path vectors by
// iterative expansion from a destination AS toward candidate sources,
// using known AS relationships and any sure paths observed directly in
// BGP data to prefer well-evidenced hops over speculative ones.
package pathvector

import (
	"github.com/pobradovic08/as-infer/internal/graph"
	"github.com/pobradovic08/as-infer/internal/metrics"
)

// direction tracks the Valley-Free state machine: a path may travel UP
// through zero or more customer->provider (or a single peer) hops, then
// DOWN through zero or more provider->customer hops, and never back UP.
type direction int

const (
	dirUp direction = iota
	dirDown
)

// Path is one candidate AS path, in forwarding order from the inferred
// source (index 0) to the fixed destination (last index).
type Path struct {
	ASes      []int
	SureCount int
	Frequency int
	state     direction
}

// NewOriginPath starts a path at the destination AS itself (the trivial
// zero-hop path a PathSet seeds active-queue expansion from).
func NewOriginPath(dest int) *Path {
	return &Path{ASes: []int{dest}, Frequency: 1, state: dirUp}
}

// NewSurePath starts a path from an observed, directly-evidenced vertex
// subsequence (forwarding order, u first, dest last). Its validity is taken
// as given: it is never run through Prepend's Valley-Free check, only
// extended further from its u end by later speculative expansion.
func NewSurePath(seq []int) *Path {
	ases := make([]int, len(seq))
	copy(ases, seq)
	return &Path{ASes: ases, SureCount: len(ases), Frequency: 1, state: dirUp}
}

// Clone returns a deep copy so speculative extension never mutates a path
// another candidate list still references.
func (p *Path) Clone() *Path {
	ases := make([]int, len(p.ASes))
	copy(ases, p.ASes)
	return &Path{ASes: ases, SureCount: p.SureCount, Frequency: p.Frequency, state: p.state}
}

// HasLoop reports whether as already appears in the path.
func (p *Path) HasLoop(as int) bool {
	for _, existing := range p.ASes {
		if existing == as {
			return true
		}
	}
	return false
}

// ULen is the number of non-sure hops in the path: the exploratory hops
// added by speculative relationship expansion, excluding the
// directly-observed sure suffix SureCount counts. Used as the second
// preference tiebreak, so a path leaning more on direct observation beats
// an equally-long one leaning more on inference.
func (p *Path) ULen() int {
	u := len(p.ASes) - p.SureCount
	if u < 0 {
		return 0
	}
	return u
}

// Prepend returns a new path with as as the new first hop (one step closer
// to the eventual source), carrying forward the Valley-Free state and
// rejecting the extension outright if it would create a loop or violate
// Valley-Free.
func (p *Path) Prepend(as int, rel graph.Relation) (*Path, bool) {
	if p.HasLoop(as) {
		metrics.ValleyFreeRejectionsTotal.WithLabelValues("loop").Inc()
		return nil, false
	}

	next := p.Clone()
	newState, ok := transition(next.state, rel)
	if !ok {
		metrics.ValleyFreeRejectionsTotal.WithLabelValues("invalid_transition").Inc()
		return nil, false
	}
	next.state = newState
	next.ASes = append([]int{as}, next.ASes...)
	return next, true
}

// transition applies one hop's relationship (as seen from the new AS being
// prepended, looking at its neighbor already in the path) to the current
// Valley-Free state. rel is the relationship of the prepended AS toward
// its existing neighbor: c2p means the prepended AS is a customer of the
// neighbor (announcement travels up), p2c means it is the neighbor's
// provider (announcement travels down), p2p/sibling are flat hops.
func transition(state direction, rel graph.Relation) (direction, bool) {
	switch rel {
	case graph.RelC2P:
		if state != dirUp {
			return state, false
		}
		return dirUp, true
	case graph.RelP2C:
		return dirDown, true
	case graph.RelP2P:
		if state != dirUp {
			return state, false
		}
		return dirDown, true
	case graph.RelSibling:
		return state, true
	default:
		return state, false
	}
}

// Less implements the candidate-path preference order: shorter path wins;
// then fewer non-sure hops (more direct evidence) wins; then higher
// frequency wins; ties broken by the numerically smaller first-hop AS
// number, for determinism.
func (p *Path) Less(other *Path) bool {
	if len(p.ASes) != len(other.ASes) {
		return len(p.ASes) < len(other.ASes)
	}
	if p.ULen() != other.ULen() {
		return p.ULen() < other.ULen()
	}
	if p.Frequency != other.Frequency {
		return p.Frequency > other.Frequency
	}
	if len(p.ASes) == 0 || len(other.ASes) == 0 {
		return false
	}
	return p.ASes[0] < other.ASes[0]
}

// Source returns the current first hop of the path (the candidate source
// AS if expansion stopped here).
func (p *Path) Source() int {
	return p.ASes[0]
}
