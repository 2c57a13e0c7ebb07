package diff

import (
	"testing"
	"time"
)

func TestDiffClassifiesChanges(t *testing.T) {
	a := []byte{1, 0, 0, 0, 5, 0, 0, 0, 9, 0, 0, 0}
	b := []byte{1, 0, 0, 0, 6, 0, 0, 0, 3, 0, 0, 0}

	results, summary, err := Diff(a, b, 0x1000, 4, FilterAll, 0)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if summary.TotalChecked != 3 || summary.TotalChanged != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if results[0].Change != Unchanged {
		t.Errorf("results[0].Change = %v, want Unchanged", results[0].Change)
	}
	if results[1].Change != Increased {
		t.Errorf("results[1].Change = %v, want Increased", results[1].Change)
	}
	if results[2].Change != Decreased {
		t.Errorf("results[2].Change = %v, want Decreased", results[2].Change)
	}
	if results[1].Address != 0x1000+4 {
		t.Errorf("results[1].Address = %#x, want %#x", results[1].Address, 0x1000+4)
	}
}

func TestDiffFilterChangedOnly(t *testing.T) {
	a := []byte{1, 0, 0, 0, 5, 0, 0, 0}
	b := []byte{1, 0, 0, 0, 6, 0, 0, 0}

	results, summary, err := Diff(a, b, 0, 4, FilterChanged, 0)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if summary.TotalChecked != 2 {
		t.Fatalf("TotalChecked = %d, want 2", summary.TotalChecked)
	}
}

func TestDiffTruncatesAtMaxResults(t *testing.T) {
	a := make([]byte, 40)
	b := make([]byte, 40)
	for i := range b {
		b[i] = byte(i + 1)
	}

	results, summary, err := Diff(a, b, 0, 1, FilterChanged, 2)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !summary.Truncated {
		t.Fatalf("expected Truncated to be true")
	}
	if summary.TotalChanged != 40 {
		t.Fatalf("TotalChanged = %d, want 40", summary.TotalChanged)
	}
}

func TestDiffRejectsMismatchedLength(t *testing.T) {
	_, _, err := Diff([]byte{1, 2, 3, 4}, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0, 4, FilterAll, 0)
	if err == nil {
		t.Fatalf("expected error for mismatched snapshot lengths")
	}
}

func TestDiffRejectsInvalidValueSize(t *testing.T) {
	_, _, err := Diff([]byte{1, 2, 3}, []byte{1, 2, 3}, 0, 3, FilterAll, 0)
	if err == nil {
		t.Fatalf("expected error for invalid value size")
	}
}

func TestStorePutAutoGeneratesName(t *testing.T) {
	s := NewStore()
	now := time.Unix(0, 123456789)
	name := s.Put(Snapshot{Base: 0x2000, Data: []byte{1, 2, 3}}, now)
	if name == "" {
		t.Fatalf("expected a generated name")
	}
	snap, ok := s.Get(name)
	if !ok {
		t.Fatalf("Get(%q) missing after Put", name)
	}
	if snap.Base != 0x2000 {
		t.Errorf("snap.Base = %#x, want 0x2000", snap.Base)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	s := NewStore()
	s.Put(Snapshot{Name: "a", Data: []byte{1}}, time.Now())
	s.Put(Snapshot{Name: "b", Data: []byte{2}}, time.Now())

	if got := len(s.List()); got != 2 {
		t.Fatalf("List length = %d, want 2", got)
	}
	if !s.Delete("a") {
		t.Fatalf("Delete(a) = false")
	}
	if s.Delete("a") {
		t.Fatalf("Delete(a) second time should be false")
	}
	if got := len(s.List()); got != 1 {
		t.Fatalf("List length after delete = %d, want 1", got)
	}
}
