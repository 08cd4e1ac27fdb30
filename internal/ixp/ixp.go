// Package ixp loads Internet Exchange Point crossing data and the MetaIXP
// equivalence grouping over IXP identifiers, and annotates a finished AS
// path with the IXP crossings its adjacent hops cross.
package ixp

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/pobradovic08/as-infer/internal/graph"
	"github.com/pobradovic08/as-infer/internal/wire"
)

// Data holds IXP crossings keyed by the ordered AS pair they were observed
// on, and the MetaIXP equivalence class each IXP ID maps to.
type Data struct {
	crossings map[[2]int][]graph.IXPCrossing
	metaIXP   map[string]string
}

func New() *Data {
	return &Data{crossings: make(map[[2]int][]graph.IXPCrossing), metaIXP: make(map[string]string)}
}

// LoadIXPFile reads a whitespace-delimited "ixpid as1 as2 confidence
// [source]" datafile. Records whose confidence field is "bad" are dropped.
func (d *Data) LoadIXPFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ixp: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return fmt.Errorf("ixp: %s:%d: expected at least 4 fields, got %d", path, lineNum, len(fields))
		}
		ixpID, as1Str, as2Str, confidence := fields[0], fields[1], fields[2], fields[3]
		if confidence == "bad" {
			continue
		}
		as1, err := parseAS(as1Str)
		if err != nil {
			return fmt.Errorf("ixp: %s:%d: %w", path, lineNum, err)
		}
		as2, err := parseAS(as2Str)
		if err != nil {
			return fmt.Errorf("ixp: %s:%d: %w", path, lineNum, err)
		}
		key := [2]int{as1, as2}
		d.crossings[key] = append(d.crossings[key], graph.IXPCrossing{
			From: as1, To: as2, IXPID: ixpID, Confidence: confidence,
		})
	}
	return scanner.Err()
}

// LoadMetaIXPFile reads a whitespace-delimited "metaid f1 f2 ... fmt"
// datafile. The stored equivalence value is "<f2>_<f1>", preserved exactly
// as the original grouping scheme produces it.
func (d *Data) LoadMetaIXPFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ixp: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return fmt.Errorf("ixp: %s:%d: expected at least 3 fields, got %d", path, lineNum, len(fields))
		}
		d.metaIXP[fields[0]] = fields[2] + "_" + fields[1]
	}
	return scanner.Err()
}

// SeedMetaIXP loads a previously persisted IXP-ID -> MetaIXP grouping
// (e.g. rehydrated from `graph.Store.LoadMetaIXP`), merging it with
// whatever a MetaIXP datafile already loaded.
func (d *Data) SeedMetaIXP(groupings map[string]string) {
	for ixpID, metaID := range groupings {
		d.metaIXP[ixpID] = metaID
	}
}

func (d *Data) LookupMetaIXP(ixpID string) string {
	if meta, ok := d.metaIXP[ixpID]; ok {
		return meta
	}
	return ixpID
}

// AllCrossings returns every loaded IXP crossing, flattened out of the
// per-adjacency index, for persistence by `cmd/as-infer load`.
func (d *Data) AllCrossings() []graph.IXPCrossing {
	var out []graph.IXPCrossing
	for _, crossings := range d.crossings {
		out = append(out, crossings...)
	}
	return out
}

// MetaIXPGroupings returns every IXP-ID -> MetaIXP grouping this Data
// holds, both those loaded from a datafile and any merged in via
// SeedMetaIXP, for persistence by `cmd/as-infer load`.
func (d *Data) MetaIXPGroupings() map[string]string {
	return d.metaIXP
}

// Annotate walks adjacent pairs of path and returns every IXP crossing
// found, keyed by IXP ID. Purely post-hoc: it never changes path itself.
func (d *Data) Annotate(path []int) map[string]wire.IXPAnnotation {
	if len(path) < 2 {
		return nil
	}
	out := make(map[string]wire.IXPAnnotation)
	for i := 0; i+1 < len(path); i++ {
		as1, as2 := path[i], path[i+1]
		for _, c := range d.crossings[[2]int{as1, as2}] {
			out[c.IXPID] = wire.IXPAnnotation{AS1: as1, AS2: as2, Confidence: c.Confidence}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseAS(s string) (int, error) {
	s = strings.TrimPrefix(strings.ToUpper(s), "AS")
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("parsing AS number %q: %w", s, err)
	}
	return n, nil
}
