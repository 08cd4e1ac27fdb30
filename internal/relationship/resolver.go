// Package relationship implements RelationshipResolver: merging AS
// relationship claims from up to three source formats (a Gao-inferred JSON
// dump, the CAIDA AS-relationships pipe file, and a WHOIS-sibling list)
// into one consistent, antisymmetric relationship set, logging any
// conflicting claims encountered along the way.
package relationship

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pobradovic08/as-infer/internal/graph"
)

// Conflict records two sources disagreeing about the relationship between
// the same AS pair. The higher-precedence source's claim wins (the later
// claim on a tie); the other is logged.
type Conflict struct {
	AS1, AS2      int
	WinningSource string
	WinningRel    graph.Relation
	LosingSource  string
	LosingRel     graph.Relation
}

// Source names, also used as Relationship.Source values and as Conflict
// source labels. Precedence (lowest to highest, later overrides earlier)
// is gao < caida < whois: WHOIS sibling data is organizational ground
// truth, CAIDA is curated survey data, Gao's own inference is the
// fallback when neither says anything about a pair.
const (
	SourceGao   = "gao"
	SourceCAIDA = "caida"
	SourceWHOIS = "whois"
)

var sourcePrecedence = map[string]int{
	SourceGao:   0,
	SourceCAIDA: 1,
	SourceWHOIS: 2,
}

// Resolver merges relationship claims from multiple sources.
type Resolver struct {
	claims    map[[2]int]graph.Relationship
	Conflicts []Conflict
}

func NewResolver() *Resolver {
	return &Resolver{claims: make(map[[2]int]graph.Relationship)}
}

// Add records a single directed claim, normalized to AS1<AS2 key ordering
// with the relation flipped to match via Relation.Opposite when needed, so
// that (A,B) and (B,A) claims about the same unordered pair collide in the
// same map slot and are compared for conflicts.
func (r *Resolver) Add(as1, as2 int, rel graph.Relation, source string) error {
	key, normRel, err := normalize(as1, as2, rel)
	if err != nil {
		return fmt.Errorf("relationship: normalizing %d-%d (%s): %w", as1, as2, source, err)
	}

	existing, ok := r.claims[key]
	if !ok {
		r.claims[key] = graph.Relationship{AS1: key[0], AS2: key[1], Relation: normRel, Source: source}
		return nil
	}

	if existing.Relation == normRel {
		// Same claim from a second source: no conflict, but prefer the
		// higher-precedence source label for provenance.
		if sourcePrecedence[source] > sourcePrecedence[existing.Source] {
			existing.Source = source
			r.claims[key] = existing
		}
		return nil
	}

	// Conflicting claim. Higher precedence source wins; record the loss.
	if sourcePrecedence[source] >= sourcePrecedence[existing.Source] {
		r.Conflicts = append(r.Conflicts, Conflict{
			AS1: key[0], AS2: key[1],
			WinningSource: source, WinningRel: normRel,
			LosingSource: existing.Source, LosingRel: existing.Relation,
		})
		r.claims[key] = graph.Relationship{AS1: key[0], AS2: key[1], Relation: normRel, Source: source}
	} else {
		r.Conflicts = append(r.Conflicts, Conflict{
			AS1: key[0], AS2: key[1],
			WinningSource: existing.Source, WinningRel: existing.Relation,
			LosingSource: source, LosingRel: normRel,
		})
	}
	return nil
}

// normalize keys an unordered pair by (min, max) AS number, flipping the
// relation to AS1(min)->AS2(max) terms so sibling/p2p symmetry and p2c/c2p
// antisymmetry are both handled by one map entry per pair.
func normalize(as1, as2 int, rel graph.Relation) ([2]int, graph.Relation, error) {
	// Opposite() doubles as the relation-string whitelist check: an
	// unrecognized value must be rejected regardless of AS1/AS2 order.
	if _, err := rel.Opposite(); err != nil {
		return [2]int{}, "", err
	}
	if as1 <= as2 {
		return [2]int{as1, as2}, rel, nil
	}
	opp, _ := rel.Opposite()
	return [2]int{as2, as1}, opp, nil
}

// Relationships returns the merged, deduplicated relationship set, each
// claim expressed in both directions to satisfy the antisymmetry/
// reflectivity invariants of the relationship store.
func (r *Resolver) Relationships() []graph.Relationship {
	out := make([]graph.Relationship, 0, len(r.claims)*2)
	for _, c := range r.claims {
		opp, _ := c.Relation.Opposite()
		out = append(out,
			graph.Relationship{AS1: c.AS1, AS2: c.AS2, Relation: c.Relation, Source: c.Source},
			graph.Relationship{AS1: c.AS2, AS2: c.AS1, Relation: opp, Source: c.Source},
		)
	}
	return out
}

// LoadGaoJSON ingests the JSON array produced by `as-infer extra gao-relation`
// (or any prior Gao inference run): [{"as1":N,"as2":M,"relation":"p2c"}, ...].
func (r *Resolver) LoadGaoJSON(reader io.Reader) error {
	var entries []struct {
		AS1      int    `json:"as1"`
		AS2      int    `json:"as2"`
		Relation string `json:"relation"`
	}
	if err := json.NewDecoder(reader).Decode(&entries); err != nil {
		return fmt.Errorf("relationship: decoding gao json: %w", err)
	}
	for _, e := range entries {
		if err := r.Add(e.AS1, e.AS2, graph.Relation(e.Relation), SourceGao); err != nil {
			return err
		}
	}
	return nil
}

// LoadCAIDA ingests the CAIDA AS-relationships pipe-delimited format:
//
//	<provider-as>|<customer-as>|-1
//	<peer-as>|<peer-as>|0
//	<sibling-as>|<sibling-as>|2
//
// Any other code is treated as provider-customer, matching -1. Comment
// lines starting with '#' are skipped.
func (r *Resolver) LoadCAIDA(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 3 {
			return fmt.Errorf("relationship: caida line %d: expected 3 fields, got %d", lineNo, len(fields))
		}
		as1, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("relationship: caida line %d: bad AS1 %q: %w", lineNo, fields[0], err)
		}
		as2, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("relationship: caida line %d: bad AS2 %q: %w", lineNo, fields[1], err)
		}
		code, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return fmt.Errorf("relationship: caida line %d: bad code %q: %w", lineNo, fields[2], err)
		}

		var rel graph.Relation
		switch code {
		case 0:
			rel = graph.RelP2P
		case 2:
			rel = graph.RelSibling
		default:
			rel = graph.RelP2C // includes -1 (provider-customer) and any other code
		}
		if err := r.Add(as1, as2, rel, SourceCAIDA); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// LoadWHOISSiblings ingests a WHOIS-derived sibling list, one pair per
// line: "<AS1> <AS2>". Both ASes are recorded as siblings.
func (r *Resolver) LoadWHOISSiblings(reader io.Reader) error {
	scanner := bufio.NewScanner(reader)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return fmt.Errorf("relationship: whois line %d: expected 2 fields, got %d", lineNo, len(fields))
		}
		as1, err := strconv.Atoi(fields[0])
		if err != nil {
			return fmt.Errorf("relationship: whois line %d: bad AS1 %q: %w", lineNo, fields[0], err)
		}
		as2, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("relationship: whois line %d: bad AS2 %q: %w", lineNo, fields[1], err)
		}
		if err := r.Add(as1, as2, graph.RelSibling, SourceWHOIS); err != nil {
			return err
		}
	}
	return scanner.Err()
}
