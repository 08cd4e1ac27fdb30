package ixp

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixture(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func TestData_AnnotatePathCrossingIXP(t *testing.T) {
	path := writeFixture(t, "X 2 3 high\n")
	d := New()
	if err := d.LoadIXPFile(path); err != nil {
		t.Fatalf("LoadIXPFile: %v", err)
	}

	ann := d.Annotate([]int{1, 2, 3})
	if len(ann) != 1 {
		t.Fatalf("got %d annotations, want 1", len(ann))
	}
	got, ok := ann["X"]
	if !ok {
		t.Fatal("expected annotation keyed by ixp id X")
	}
	if got.AS1 != 2 || got.AS2 != 3 || got.Confidence != "high" {
		t.Errorf("got %+v", got)
	}
}

func TestData_BadConfidenceDropped(t *testing.T) {
	path := writeFixture(t, "X 2 3 bad\n")
	d := New()
	if err := d.LoadIXPFile(path); err != nil {
		t.Fatalf("LoadIXPFile: %v", err)
	}
	if ann := d.Annotate([]int{1, 2, 3}); ann != nil {
		t.Errorf("expected no annotations for a bad-confidence record, got %v", ann)
	}
}

func TestData_AnnotateIsPostHoc(t *testing.T) {
	path := writeFixture(t, "X 2 3 high\n")
	d := New()
	if err := d.LoadIXPFile(path); err != nil {
		t.Fatalf("LoadIXPFile: %v", err)
	}
	original := []int{1, 2, 3}
	cp := append([]int(nil), original...)
	d.Annotate(original)
	for i := range original {
		if original[i] != cp[i] {
			t.Fatal("Annotate must not mutate the path it is given")
		}
	}
}

func TestData_NoCrossingReturnsNil(t *testing.T) {
	d := New()
	if ann := d.Annotate([]int{1, 2, 3}); ann != nil {
		t.Errorf("expected nil for no loaded IXP data, got %v", ann)
	}
}

func TestData_LookupMetaIXP(t *testing.T) {
	path := writeFixture(t, "X orgA orgB fmt\n")
	d := New()
	if err := d.LoadMetaIXPFile(path); err != nil {
		t.Fatalf("LoadMetaIXPFile: %v", err)
	}
	if got := d.LookupMetaIXP("X"); got != "orgB_orgA" {
		t.Errorf("got %q, want %q", got, "orgB_orgA")
	}
}

func TestData_LookupMetaIXP_UnknownFallsBackToID(t *testing.T) {
	d := New()
	if got := d.LookupMetaIXP("unknown"); got != "unknown" {
		t.Errorf("got %q, want fallback to the raw id", got)
	}
}
