// Package diff implements MemoryDiff over two byte snapshots, or one
// snapshot against freshly read current memory. Grounded on
// mcp_handlers_memory_diff.cpp's HandleMemoryDiff: equal-length value-size
// stepping (1/2/4/8 bytes), per-value change classification, a filter over
// the result stream, and a truncation-reporting cap — plus HandleMemory
// Snapshot/List/Delete for the snapshot store shape.
package diff

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/memcore-dev/memcore/coreerr"
)

// Snapshot is one captured memory region.
type Snapshot struct {
	Name      string
	PID       uint32
	Base      uint64
	Data      []byte
	CreatedAt time.Time
}

// Store is a mutex-guarded named snapshot table.
type Store struct {
	mu   sync.Mutex
	byID map[string]Snapshot
}

// NewStore builds an empty snapshot Store.
func NewStore() *Store {
	return &Store{byID: make(map[string]Snapshot)}
}

// Put saves snap, overwriting any existing snapshot of the same name. If
// snap.Name is empty, an auto-generated name ("snapshot_<base>_<unixnano>")
// is assigned and returned.
func (s *Store) Put(snap Snapshot, now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.Name == "" {
		snap.Name = fmt.Sprintf("snapshot_%#x_%d", snap.Base, now.UnixNano())
	}
	snap.CreatedAt = now
	s.byID[snap.Name] = snap
	return snap.Name
}

// Get retrieves a snapshot by name.
func (s *Store) Get(name string) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.byID[name]
	return snap, ok
}

// List enumerates every stored snapshot's name.
func (s *Store) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.byID))
	for name := range s.byID {
		names = append(names, name)
	}
	return names
}

// Delete removes a snapshot by name, reporting whether it existed.
func (s *Store) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[name]; !ok {
		return false
	}
	delete(s.byID, name)
	return true
}

// ChangeKind classifies one compared value.
type ChangeKind int

const (
	Unchanged ChangeKind = iota
	Increased
	Decreased
)

func (c ChangeKind) String() string {
	switch c {
	case Increased:
		return "increased"
	case Decreased:
		return "decreased"
	default:
		return "unchanged"
	}
}

// Filter selects which ChangeKinds appear in a Diff result.
type Filter int

const (
	FilterAll Filter = iota
	FilterChanged
	FilterIncreased
	FilterDecreased
	FilterUnchanged
)

// Result is one compared value.
type Result struct {
	Address uint64
	Offset  uint64
	Old     uint64
	New     uint64
	Change  ChangeKind
}

// Summary accompanies a Diff call's Results.
type Summary struct {
	TotalChecked int
	TotalChanged int
	Returned     int
	Truncated    bool
}

// Diff walks a and b (equal length required, enforced by the caller per
// spec.md's "requires equal base and size for snapshot-vs-snapshot") in
// steps of valueSize bytes (1, 2, 4, or 8), classifying each step and
// reporting up to maxResults matching results after applying filter.
// baseAddr is added to each step's offset to produce Result.Address.
func Diff(a, b []byte, baseAddr uint64, valueSize int, filter Filter, maxResults int) ([]Result, Summary, error) {
	if valueSize != 1 && valueSize != 2 && valueSize != 4 && valueSize != 8 {
		return nil, Summary{}, coreerr.New(coreerr.InvalidInput, "diff.Diff", "value_size")
	}
	if len(a) != len(b) {
		return nil, Summary{}, coreerr.New(coreerr.InvalidInput, "diff.Diff", "length")
	}

	var results []Result
	var summary Summary

	for off := 0; off+valueSize <= len(a); off += valueSize {
		oldVal := readValue(a[off:off+valueSize], valueSize)
		newVal := readValue(b[off:off+valueSize], valueSize)
		summary.TotalChecked++

		var kind ChangeKind
		switch {
		case newVal > oldVal:
			kind = Increased
		case newVal < oldVal:
			kind = Decreased
		default:
			kind = Unchanged
		}
		if kind != Unchanged {
			summary.TotalChanged++
		}

		if !filterAccepts(filter, kind) {
			continue
		}

		if maxResults > 0 && len(results) >= maxResults {
			summary.Truncated = true
			continue
		}

		results = append(results, Result{
			Address: baseAddr + uint64(off),
			Offset:  uint64(off),
			Old:     oldVal,
			New:     newVal,
			Change:  kind,
		})
	}

	summary.Returned = len(results)
	return results, summary, nil
}

func filterAccepts(f Filter, kind ChangeKind) bool {
	switch f {
	case FilterAll:
		return true
	case FilterChanged:
		return kind != Unchanged
	case FilterIncreased:
		return kind == Increased
	case FilterDecreased:
		return kind == Decreased
	case FilterUnchanged:
		return kind == Unchanged
	default:
		return true
	}
}

func readValue(b []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}
