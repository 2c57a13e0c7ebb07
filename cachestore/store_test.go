package cachestore

import (
	"path/filepath"
	"testing"
)

type samplePayload struct {
	RVA   uint64 `json:"rva"`
	Label string `json:"label"`
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := Key{Module: "Client.dll", Size: 0x2000000}
	in := samplePayload{RVA: 0x1234, Label: "hello"}

	if err := s.Save("functions", key, in); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var out samplePayload
	ok, err := s.Load("functions", key, &out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("Load reported no entry")
	}
	if out != in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestLoadMissingIsNotAnError(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var out samplePayload
	ok, err := s.Load("functions", Key{Module: "missing.dll", Size: 1}, &out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatalf("Load reported an entry that was never saved")
	}
}

func TestExists(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	key := Key{Module: "engine2.dll", Size: 42}
	if s.Exists("rtti", key) {
		t.Fatalf("Exists true before Save")
	}
	if err := s.Save("rtti", key, samplePayload{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !s.Exists("rtti", key) {
		t.Fatalf("Exists false after Save")
	}
}

func TestKeyIncludesSizeForInvalidation(t *testing.T) {
	a := Key{Module: "client.dll", Size: 100}
	b := Key{Module: "client.dll", Size: 200}
	if a.fileName() == b.fileName() {
		t.Fatalf("different module sizes produced the same cache file name")
	}
}

func TestListAndClear(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	keys := []Key{
		{Module: "client.dll", Size: 100},
		{Module: "server.dll", Size: 200},
		{Module: "engine2.dll", Size: 300},
	}
	for _, k := range keys {
		if err := s.Save("schema", k, samplePayload{Label: k.Module}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	entries, err := s.List("schema")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	if err := s.Clear("schema", func(k Key) bool { return k.Module == "client.dll" }); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	entries, err = s.List("schema")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries after filtered clear, want 2", len(entries))
	}

	if err := s.Clear("schema", nil); err != nil {
		t.Fatalf("Clear all: %v", err)
	}
	entries, err = s.List("schema")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("got %d entries after full clear, want 0", len(entries))
	}
}

func TestListEmptyKindReturnsNoError(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	entries, err := s.List("never_used")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if entries != nil {
		t.Fatalf("got %v entries, want nil", entries)
	}
}

func TestFileNameIsHumanReadable(t *testing.T) {
	k := Key{Module: "Client.dll", Size: 123456}
	name := k.fileName()
	if filepath.Ext(name) != ".json" {
		t.Fatalf("fileName() = %q, want .json suffix", name)
	}
}
