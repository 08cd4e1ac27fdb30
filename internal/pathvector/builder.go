package pathvector

import (
	"context"
	"fmt"

	"github.com/pobradovic08/as-infer/internal/graph"
)

// Builder expands Valley-Free path vectors toward a fixed destination AS
// across one RIB tag's topology, consulting the relationship store for
// Valley-Free validity and the sure-path index for evidence weight.
type Builder struct {
	store   *graph.Store
	sureIdx *graph.SurePathIndex
}

func NewBuilder(store *graph.Store, sureIdx *graph.SurePathIndex) *Builder {
	return &Builder{store: store, sureIdx: sureIdx}
}

// BuildToDestination expands outward from dest, returning the best known
// path for every AS reachable from it under Valley-Free constraints, keyed
// by source AS number (including dest itself, trivially).
//
// This mirrors the original's KnownPathWorker active-queue loop, in two
// stages. First, init_active_queue: every AS with a directly-observed sure
// path to dest is seeded straight into the result set and the queue,
// bypassing the Valley-Free check entirely — sure-suffix validity is taken
// as given. Second, the relationship-based expansion: pop an AS u whose
// best path is already known, try prepending each of u's neighbors v, and
// if the Valley-Free-checked, loop-free result improves on v's current
// best (or v has none), adopt it and re-enqueue v so its own neighbors get
// a chance to improve through it. A neighbor already sure-seeded is never
// reconsidered this way — its directly-observed path is never second-
// guessed by a speculative one (the original's base_ases skip).
func (b *Builder) BuildToDestination(ctx context.Context, tag string, dest int) (map[int]*Path, error) {
	best := map[int]*Path{dest: NewOriginPath(dest)}
	queue := []int{dest}
	sureSeeded := map[int]bool{dest: true}

	if b.sureIdx != nil {
		for u, seq := range b.sureIdx.SureSources(dest) {
			candidate := NewSurePath(seq)
			if cur, exists := best[u]; !exists || candidate.Less(cur) {
				best[u] = candidate
			}
			if !sureSeeded[u] {
				sureSeeded[u] = true
				queue = append(queue, u)
			}
		}
	}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		neighbors, err := b.store.Neighbors(ctx, tag, u)
		if err != nil {
			return nil, fmt.Errorf("pathvector: loading neighbors of %d: %w", u, err)
		}

		for _, v := range neighbors {
			if v == u || sureSeeded[v] {
				continue
			}

			rel, found, err := b.store.Relationship(ctx, v, u)
			if err != nil {
				return nil, fmt.Errorf("pathvector: looking up relationship %d->%d: %w", v, u, err)
			}
			if !found {
				continue
			}

			candidate, ok := best[u].Prepend(v, rel)
			if !ok {
				continue
			}

			cur, exists := best[v]
			if !exists || candidate.Less(cur) {
				best[v] = candidate
				queue = append(queue, v)
			}
		}
	}

	return best, nil
}

// PathTo returns the best known path from src to dest, if one was found by
// a prior BuildToDestination call over the same result set.
func PathTo(best map[int]*Path, src int) (*Path, bool) {
	p, ok := best[src]
	return p, ok
}
