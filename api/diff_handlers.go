package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/memcore-dev/memcore/coreerr"
	"github.com/memcore-dev/memcore/diff"
)

type memorySnapshotRequest struct {
	PID     uint32 `json:"pid"`
	Address uint64 `json:"address,string"`
	Size    uint32 `json:"size"`
	Name    string `json:"name"`
}

func (s *Server) handleMemorySnapshot(w http.ResponseWriter, r *http.Request) {
	var req memorySnapshotRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Address == 0 || req.Size == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "memory_snapshot", "address"))
		return
	}
	if req.Size > maxMemorySnapshot {
		writeError(w, coreerr.New(coreerr.InvalidInput, "memory_snapshot", "size"))
		return
	}

	mem := s.memSource(req.PID)
	data := mem(req.Address, req.Size)
	if len(data) == 0 {
		writeError(w, coreerr.New(coreerr.ReadFailure, "memory_snapshot", "address"))
		return
	}

	name := s.snaps.Put(diff.Snapshot{Name: req.Name, PID: req.PID, Base: req.Address, Data: data}, time.Now())
	writeData(w, map[string]interface{}{"name": name, "size": len(data)})
}

func (s *Server) handleMemorySnapshotList(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]interface{}{"snapshots": s.snaps.List()})
}

type memorySnapshotDeleteRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleMemorySnapshotDelete(w http.ResponseWriter, r *http.Request) {
	var req memorySnapshotDeleteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !s.snaps.Delete(req.Name) {
		writeError(w, coreerr.New(coreerr.NotFound, "memory_snapshot_delete", "name"))
		return
	}
	writeData(w, map[string]interface{}{"deleted": true})
}

type memoryDiffRequest struct {
	PID          uint32 `json:"pid"`
	SnapshotA    string `json:"snapshot_a"`
	SnapshotB    string `json:"snapshot_b"`
	ValueSize    int    `json:"value_size"`
	Filter       string `json:"filter"`
	MaxResults   int    `json:"max_results"`
}

func parseFilter(name string) diff.Filter {
	switch name {
	case "changed":
		return diff.FilterChanged
	case "increased":
		return diff.FilterIncreased
	case "decreased":
		return diff.FilterDecreased
	case "unchanged":
		return diff.FilterUnchanged
	default:
		return diff.FilterAll
	}
}

// handleMemoryDiff compares two named snapshots. If SnapshotB is empty, the
// current contents at SnapshotA's address/size are read live instead, the
// "snapshot vs current" mode spec.md describes alongside "snapshot vs
// snapshot".
func (s *Server) handleMemoryDiff(w http.ResponseWriter, r *http.Request) {
	var req memoryDiffRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	a, ok := s.snaps.Get(req.SnapshotA)
	if !ok {
		writeError(w, coreerr.New(coreerr.NotFound, "memory_diff", "snapshot_a"))
		return
	}

	var bData []byte
	if req.SnapshotB == "" {
		mem := s.memSource(req.PID)
		bData = mem(a.Base, uint32(len(a.Data)))
		if len(bData) == 0 {
			writeError(w, coreerr.New(coreerr.ReadFailure, "memory_diff", "pid"))
			return
		}
	} else {
		b, ok := s.snaps.Get(req.SnapshotB)
		if !ok {
			writeError(w, coreerr.New(coreerr.NotFound, "memory_diff", "snapshot_b"))
			return
		}
		if b.Base != a.Base || len(b.Data) != len(a.Data) {
			writeError(w, coreerr.New(coreerr.InvalidInput, "memory_diff", "snapshot_b"))
			return
		}
		bData = b.Data
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = 1000
	}

	results, summary, err := diff.Diff(a.Data, bData, a.Base, req.ValueSize, parseFilter(req.Filter), maxResults)
	if err != nil {
		writeError(w, coreerr.Wrap(coreerr.InvalidInput, "memory_diff", "value_size", err))
		return
	}

	out := make([]map[string]interface{}, len(results))
	for i, res := range results {
		out[i] = map[string]interface{}{
			"address": fmt.Sprintf("0x%X", res.Address),
			"offset":  res.Offset,
			"old":     res.Old,
			"new":     res.New,
			"change":  res.Change.String(),
		}
	}

	writeData(w, map[string]interface{}{
		"results": out,
		"summary": map[string]interface{}{
			"total_checked": summary.TotalChecked,
			"total_changed": summary.TotalChanged,
			"returned":      summary.Returned,
			"truncated":     summary.Truncated,
		},
	})
}
