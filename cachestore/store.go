// Package cachestore implements a per-kind, content-keyed on-disk cache.
// Grounded on spec.md §4.8: keys are (module_name_lowercase, module_size),
// so a game update invalidates the cache automatically, and payloads are
// stored relative-virtual-address only (no module base) so a cache survives
// an ASLR re-base across process restarts. No surviving original_source
// header names this as a standalone class — mcp_server.h's
// utils::CacheManager fields for rtti/cs2_schema/functions are the only
// trace of it — so the on-disk layout below is this package's own design,
// built to satisfy spec.md's operation list directly.
package cachestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/memcore-dev/memcore/coreerr"
)

// Key identifies one cache entry within a kind.
type Key struct {
	Module string
	Size   uint64
}

// fileName renders a human-readable name that encodes the key, per spec.md
// §4.8: "<module>_<size>.json", module lower-cased and sanitized for the
// filesystem.
func (k Key) fileName() string {
	module := strings.ToLower(k.Module)
	var sb strings.Builder
	for _, r := range module {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return fmt.Sprintf("%s_%d.json", sb.String(), k.Size)
}

// Entry is one directory listing result from List.
type Entry struct {
	Key      Key
	FileName string
}

// record is the self-describing on-disk envelope: Kind and Key are stored
// alongside the payload so a file is self-identifying even if moved.
type record struct {
	Kind    string          `json:"kind"`
	Module  string          `json:"module"`
	Size    uint64          `json:"size"`
	Payload json.RawMessage `json:"payload"`
}

// Store is a directory-rooted cache; each kind gets its own subdirectory.
type Store struct {
	root string
	mu   sync.Mutex
}

// New builds a Store rooted at dir, creating it if it does not exist.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, coreerr.Wrap(coreerr.Fatal, "cachestore.New", "dir", err)
	}
	return &Store{root: dir}, nil
}

func (s *Store) kindDir(kind string) string {
	return filepath.Join(s.root, kind)
}

func (s *Store) path(kind string, key Key) string {
	return filepath.Join(s.kindDir(kind), key.fileName())
}

// Save serializes payload as JSON under a file name that encodes key. An
// existing entry for the same key is overwritten.
func (s *Store) Save(kind string, key Key, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return coreerr.Wrap(coreerr.InvalidInput, "cachestore.Save", "payload", err)
	}
	rec := record{Kind: kind, Module: key.Module, Size: key.Size, Payload: raw}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return coreerr.Wrap(coreerr.InvalidInput, "cachestore.Save", "payload", err)
	}

	dir := s.kindDir(kind)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return coreerr.Wrap(coreerr.Fatal, "cachestore.Save", "kind", err)
	}

	tmp := s.path(kind, key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return coreerr.Wrap(coreerr.Fatal, "cachestore.Save", "file", err)
	}
	if err := os.Rename(tmp, s.path(kind, key)); err != nil {
		return coreerr.Wrap(coreerr.Fatal, "cachestore.Save", "file", err)
	}
	return nil
}

// Load reads and unmarshals the payload for key into out. It returns
// (false, nil) if no entry exists, a Fatal error for any other read
// failure, and a DecodeFailure error when the record or its payload does
// not parse.
func (s *Store) Load(kind string, key Key, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(kind, key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, coreerr.Wrap(coreerr.Fatal, "cachestore.Load", "file", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return false, coreerr.Wrap(coreerr.DecodeFailure, "cachestore.Load", "file", err)
	}
	if err := json.Unmarshal(rec.Payload, out); err != nil {
		return false, coreerr.Wrap(coreerr.DecodeFailure, "cachestore.Load", "payload", err)
	}
	return true, nil
}

// Exists is a cheap existence check with no parse cost.
func (s *Store) Exists(kind string, key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.path(kind, key))
	return err == nil
}

// List enumerates every entry under kind, sorted by file name.
func (s *Store) List(kind string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dirEntries, err := os.ReadDir(s.kindDir(kind))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Fatal, "cachestore.List", "kind", err)
	}

	var out []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.kindDir(kind), de.Name()))
		if err != nil {
			continue
		}
		var rec record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		out = append(out, Entry{
			Key:      Key{Module: rec.Module, Size: rec.Size},
			FileName: de.Name(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// Filter narrows Clear to entries whose key it accepts. A nil Filter clears
// every entry in the kind.
type Filter func(Key) bool

// Clear removes every entry in kind matching filter (or every entry, if
// filter is nil).
func (s *Store) Clear(kind string, filter Filter) error {
	entries, err := s.List(kind)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if filter != nil && !filter(e.Key) {
			continue
		}
		if err := os.Remove(filepath.Join(s.kindDir(kind), e.FileName)); err != nil && !os.IsNotExist(err) {
			return coreerr.Wrap(coreerr.Fatal, "cachestore.Clear", "file", err)
		}
	}
	return nil
}
