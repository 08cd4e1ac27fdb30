package graph

// SurePathIndex answers "what is the known vertex subsequence between U and
// D" from the full observed BGP paths for one RIB tag, without ever
// materializing the O(k^2) (U,D)-keyed subsequence table on disk: paths are
// kept in full and a lookup walks them directly (see DESIGN.md's resolution
// of the sure-path storage-cost Open Question).
type SurePathIndex struct {
	paths [][]int
	// first seen (U,D) index into paths, so repeated lookups don't rescan
	// from the start of the corpus every time.
	index map[[2]int]int
}

// NewSurePathIndex builds an index over the given full paths, in the order
// they were observed. First-wins: the first path containing both U and D
// in that relative order wins any later-seen conflicting subsequence.
func NewSurePathIndex(paths [][]int) *SurePathIndex {
	idx := &SurePathIndex{
		paths: paths,
		index: make(map[[2]int]int),
	}
	for pi, p := range paths {
		for i := 0; i < len(p); i++ {
			for j := i; j < len(p); j++ {
				key := [2]int{p[i], p[j]}
				if _, ok := idx.index[key]; !ok {
					idx.index[key] = pi
				}
			}
		}
	}
	return idx
}

// Lookup returns the sure path's vertex subsequence from u to d (inclusive,
// forwarding order), and whether one was ever observed.
func (idx *SurePathIndex) Lookup(u, d int) ([]int, bool) {
	pi, ok := idx.index[[2]int{u, d}]
	if !ok {
		return nil, false
	}
	p := idx.paths[pi]
	ui, di := -1, -1
	for i, as := range p {
		if as == u && ui == -1 {
			ui = i
		}
		if as == d {
			di = i
		}
	}
	if ui == -1 || di == -1 || di < ui {
		return nil, false
	}
	out := make([]int, di-ui+1)
	copy(out, p[ui:di+1])
	return out, true
}

// SureSources returns every AS with an observed sure path to d, keyed by
// that AS's number, mapping to the sure path's full vertex sequence
// (forwarding order, inclusive of both u and d). Used to seed
// PathVectorBuilder's active queue with ground-truth paths before any
// relationship-based expansion runs.
func (idx *SurePathIndex) SureSources(d int) map[int][]int {
	out := make(map[int][]int)
	for key := range idx.index {
		if key[1] != d {
			continue
		}
		if seq, ok := idx.Lookup(key[0], d); ok {
			out[key[0]] = seq
		}
	}
	return out
}

// SureCount returns how many observed paths contain the (u,d) subsequence.
func (idx *SurePathIndex) SureCount(u, d int) int {
	count := 0
	key := [2]int{u, d}
	if _, ok := idx.index[key]; !ok {
		return 0
	}
	for _, p := range idx.paths {
		ui, di := -1, -1
		for i, as := range p {
			if as == u && ui == -1 {
				ui = i
			}
			if as == d {
				di = i
			}
		}
		if ui != -1 && di != -1 && di >= ui {
			count++
		}
	}
	return count
}
