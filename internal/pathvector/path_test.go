package pathvector

import (
	"testing"

	"github.com/pobradovic08/as-infer/internal/graph"
)

func TestPath_PrependRejectsLoop(t *testing.T) {
	p := &Path{ASes: []int{100, 200}, state: dirUp}
	if _, ok := p.Prepend(200, graph.RelC2P); ok {
		t.Error("expected loop rejection")
	}
}

func TestPath_ValleyFree_UpAfterDownRejected(t *testing.T) {
	p := NewOriginPath(300)
	p, ok := p.Prepend(200, graph.RelP2C) // 200 is provider of 300: down hop
	if !ok {
		t.Fatal("expected p2c prepend to succeed")
	}
	p, ok = p.Prepend(100, graph.RelC2P) // 100 is customer of 200: would go up after a down hop
	if ok {
		t.Error("expected up-after-down to be rejected by Valley-Free")
	}
	_ = p
}

func TestPath_ValleyFree_UpUpDownValid(t *testing.T) {
	p := NewOriginPath(300)
	p, ok := p.Prepend(200, graph.RelC2P) // 200 customer of 300: up hop
	if !ok {
		t.Fatal("expected c2p prepend to succeed")
	}
	p, ok = p.Prepend(100, graph.RelC2P) // 100 customer of 200: still up
	if !ok {
		t.Fatal("expected second up hop to succeed")
	}
	p, ok = p.Prepend(50, graph.RelP2C) // 50 provider of 100: down
	if !ok {
		t.Fatal("expected down hop after up hops to succeed")
	}
	want := []int{50, 100, 200, 300}
	for i, as := range want {
		if p.ASes[i] != as {
			t.Errorf("ASes[%d] = %d, want %d", i, p.ASes[i], as)
		}
	}
}

func TestPath_ValleyFree_UpAfterPeerRejected(t *testing.T) {
	p := NewOriginPath(300)
	p, ok := p.Prepend(200, graph.RelP2P) // peer hop: transitions to down state
	if !ok {
		t.Fatal("expected peer prepend to succeed")
	}
	if _, ok := p.Prepend(100, graph.RelC2P); ok {
		t.Error("expected up hop after peer hop to be rejected")
	}
}

func TestPath_ValleyFree_SecondPeerRejected(t *testing.T) {
	p := NewOriginPath(300)
	p, ok := p.Prepend(200, graph.RelP2P)
	if !ok {
		t.Fatal("expected first peer prepend to succeed")
	}
	if _, ok := p.Prepend(100, graph.RelP2P); ok {
		t.Error("expected second peer hop to be rejected (state already down)")
	}
}

func TestPath_Less_ShorterWins(t *testing.T) {
	short := &Path{ASes: []int{1, 2}}
	long := &Path{ASes: []int{1, 2, 3}}
	if !short.Less(long) {
		t.Error("expected shorter path to be preferred")
	}
}

func TestPath_Less_HigherFrequencyWins(t *testing.T) {
	a := &Path{ASes: []int{1, 2}, Frequency: 5}
	b := &Path{ASes: []int{1, 2}, Frequency: 1}
	if !a.Less(b) {
		t.Error("expected higher frequency path to be preferred")
	}
}

func TestPath_Less_SmallerFirstHopTiebreak(t *testing.T) {
	a := &Path{ASes: []int{1, 2}}
	b := &Path{ASes: []int{2, 2}}
	if !a.Less(b) {
		t.Error("expected numerically smaller first hop to be preferred")
	}
}
