package gao

import (
	"testing"

	"github.com/pobradovic08/as-infer/internal/graph"
)

func relOf(rels []graph.Relationship, as1, as2 int) (graph.Relation, bool) {
	for _, r := range rels {
		if r.AS1 == as1 && r.AS2 == as2 {
			return r.Relation, true
		}
	}
	return "", false
}

// A classic valley-free fan: AS 1 is a well-connected transit AS sitting
// between two stub customers (100, 200) and their respective upstream
// providers (10, 20), repeated enough times to clear the transit threshold.
func TestClassifier_Infer_P2CFromTransitTally(t *testing.T) {
	paths := [][]int{
		{100, 1, 10},
		{100, 1, 10},
		{100, 1, 10},
		{200, 1, 20},
		{200, 1, 20},
		{200, 1, 20},
	}
	c := DefaultClassifier()
	rels, stats, err := c.Infer(paths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Edges == 0 {
		t.Fatal("expected at least one classified edge")
	}

	rel, ok := relOf(rels, 1, 100)
	if !ok || rel != graph.RelP2C {
		t.Errorf("expected 1->100 p2c (1 is the higher-degree transit AS), got %v (found=%v)", rel, ok)
	}
	rel, ok = relOf(rels, 100, 1)
	if !ok || rel != graph.RelC2P {
		t.Errorf("expected 100->1 c2p, got %v (found=%v)", rel, ok)
	}
}

func TestClassifier_Infer_SiblingOnBidirectionalTransit(t *testing.T) {
	// Both directions show strong transit evidence between 1 and 2: each
	// is a provider of the other's customers in different paths.
	paths := [][]int{
		{100, 1, 2, 200},
		{100, 1, 2, 200},
		{100, 1, 2, 200},
		{300, 2, 1, 400},
		{300, 2, 1, 400},
		{300, 2, 1, 400},
	}
	c := DefaultClassifier()
	rels, _, err := c.Infer(paths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rel, ok := relOf(rels, 1, 2)
	if !ok || rel != graph.RelSibling {
		t.Errorf("expected 1-2 sibling on conflicting bidirectional transit, got %v (found=%v)", rel, ok)
	}
}

func TestClassifier_Infer_P2PUpgradeOnComparableDegree(t *testing.T) {
	// 1 and 2 never transit for each other and have comparable degree
	// (each has many distinct stub customers) -> should upgrade to p2p.
	paths := [][]int{
		{100, 1}, {101, 1}, {102, 1}, {103, 1},
		{200, 2}, {201, 2}, {202, 2}, {203, 2},
		{1, 2},
	}
	c := DefaultClassifier()
	rels, _, err := c.Infer(paths)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rel, ok := relOf(rels, 1, 2)
	if !ok {
		t.Fatal("expected edge 1-2 to be classified")
	}
	if rel != graph.RelP2P {
		t.Errorf("expected p2p upgrade on comparable degree, got %v", rel)
	}
}

func TestClassifier_Infer_NoPathsNoEdges(t *testing.T) {
	c := DefaultClassifier()
	rels, stats, err := c.Infer(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rels) != 0 || stats.Edges != 0 {
		t.Errorf("expected no edges for empty input, got %d relationships, %d edges", len(rels), stats.Edges)
	}
}

func TestDegreeRatio(t *testing.T) {
	if got := degreeRatio(10, 10); got != 1.0 {
		t.Errorf("expected ratio 1.0 for equal degree, got %v", got)
	}
	if got := degreeRatio(5, 10); got != 0.5 {
		t.Errorf("expected ratio 0.5, got %v", got)
	}
	if got := degreeRatio(0, 10); got != 0 {
		t.Errorf("expected ratio 0 when one side has no degree, got %v", got)
	}
}
