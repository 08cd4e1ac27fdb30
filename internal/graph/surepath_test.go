package graph

import (
	"reflect"
	"testing"
)

func TestSurePathIndex_LookupFindsSubsequence(t *testing.T) {
	idx := NewSurePathIndex([][]int{
		{100, 200, 300, 400},
	})

	got, ok := idx.Lookup(200, 400)
	if !ok {
		t.Fatal("expected subsequence to be found")
	}
	want := []int{200, 300, 400}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestSurePathIndex_LookupMissing(t *testing.T) {
	idx := NewSurePathIndex([][]int{
		{100, 200, 300},
	})

	if _, ok := idx.Lookup(300, 100); ok {
		t.Error("expected no subsequence in reverse order")
	}
	if _, ok := idx.Lookup(999, 100); ok {
		t.Error("expected no subsequence for AS not in any path")
	}
}

func TestSurePathIndex_FirstWins(t *testing.T) {
	idx := NewSurePathIndex([][]int{
		{1, 2, 3},
		{1, 9, 9, 3},
	})

	got, ok := idx.Lookup(1, 3)
	if !ok {
		t.Fatal("expected subsequence to be found")
	}
	want := []int{1, 2, 3}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("first-observed path should win: got %v, want %v", got, want)
	}
}

func TestSurePathIndex_SureCount(t *testing.T) {
	idx := NewSurePathIndex([][]int{
		{1, 2, 3},
		{4, 1, 2, 3, 5},
		{1, 9, 3},
	})

	if got := idx.SureCount(1, 3); got != 3 {
		t.Errorf("expected sure_count 3, got %d", got)
	}
	if got := idx.SureCount(2, 3); got != 2 {
		t.Errorf("expected sure_count 2, got %d", got)
	}
}
