package api

import (
	"fmt"
	"net/http"

	"github.com/memcore-dev/memcore/cachestore"
	"github.com/memcore-dev/memcore/coreerr"
	"github.com/memcore-dev/memcore/funcrecovery"
	"github.com/memcore-dev/memcore/taskmanager"
)

// cachedFunctionEntry is the on-disk payload shape for the functions cache
// kind: RVA-relative entries only, per spec invariant 6.
type cachedFunctionEntry struct {
	EntryRVA         uint64   `json:"entry_rva"`
	Size             uint32   `json:"size"`
	Source           string   `json:"source"`
	Confidence       float64  `json:"confidence"`
	IsThunk          bool     `json:"is_thunk"`
	IsLeaf           bool     `json:"is_leaf"`
	InstructionCount int      `json:"instruction_count"`
	BasicBlockCount  int      `json:"basic_block_count"`
	CalleeRVAs       []uint64 `json:"callee_rvas"`
	CallerRVAs       []uint64 `json:"caller_rvas"`
}

type recoverFunctionsRequest struct {
	PID          uint32 `json:"pid"`
	ModuleBase   uint64 `json:"module_base,string"`
	ModuleSize   uint32 `json:"module_size"`
	ModuleName   string `json:"module_name"`
	ForceRescan  bool   `json:"force_rescan"`
}

// handleRecoverFunctions submits recovery as a background task and returns
// its id immediately, per spec.md's "long analyses submitted to taskmanager"
// rule. A cache hit (without force_rescan) starts no task and replies
// directly with the cached function count.
func (s *Server) handleRecoverFunctions(w http.ResponseWriter, r *http.Request) {
	var req recoverFunctionsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ModuleBase == 0 || req.ModuleSize == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "recover_functions", "module_base"))
		return
	}

	key := cachestore.Key{Module: req.ModuleName, Size: uint64(req.ModuleSize)}
	if !req.ForceRescan && s.store != nil {
		var cached []cachedFunctionEntry
		if ok, _ := s.store.Load("functions", key, &cached); ok {
			writeData(w, map[string]interface{}{"cached": true, "count": len(cached)})
			return
		}
	}

	mem := memSourceAdapter(s.memSource(req.PID))
	mod := funcrecovery.Module{Base: req.ModuleBase, Size: req.ModuleSize, Name: req.ModuleName}
	opts := funcrecovery.Options{UseExceptionData: false, UsePrologues: true, FollowCalls: true, MaxFunctions: 100000}

	taskID := s.tasks.Start(taskmanager.KindRecoverFunctions, "recover functions for "+req.ModuleName,
		func(cancel *taskmanager.CancelToken, progress taskmanager.ProgressFunc) (any, error) {
			records := funcrecovery.Recover(mod, nil, mem, opts, func(stage string, fraction float64) {
				progress(stage, fraction)
				if cancel.IsCancelled() {
					return
				}
			})
			if cancel.IsCancelled() {
				return nil, taskmanager.ErrCancelled
			}

			entries := make([]cachedFunctionEntry, 0, len(records))
			for _, rec := range records {
				e := cachedFunctionEntry{
					EntryRVA:         rec.EntryAddress - mod.Base,
					Size:             rec.Size,
					Source:           rec.Source.String(),
					Confidence:       rec.Confidence,
					IsThunk:          rec.IsThunk,
					IsLeaf:           rec.IsLeaf,
					InstructionCount: rec.InstructionCount,
					BasicBlockCount:  rec.BasicBlockCount,
				}
				for callee := range rec.Callees {
					e.CalleeRVAs = append(e.CalleeRVAs, callee-mod.Base)
				}
				for caller := range rec.Callers {
					e.CallerRVAs = append(e.CallerRVAs, caller-mod.Base)
				}
				entries = append(entries, e)
			}

			if s.store != nil {
				_ = s.store.Save("functions", key, entries)
			}
			return map[string]interface{}{"count": len(entries)}, nil
		})

	writeData(w, map[string]interface{}{"task_id": taskID, "status": "started"})
}

type getFunctionRequest struct {
	PID        uint32 `json:"pid"`
	Address    uint64 `json:"address,string"`
	ModuleBase uint64 `json:"module_base,string"`
	ModuleSize uint32 `json:"module_size"`
	ModuleName string `json:"module_name"`
}

func (s *Server) loadFunctionEntries(req getFunctionRequest) ([]cachedFunctionEntry, error) {
	key := cachestore.Key{Module: req.ModuleName, Size: uint64(req.ModuleSize)}
	var entries []cachedFunctionEntry
	ok, err := s.store.Load("functions", key, &entries)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "get_function", "module")
	}
	return entries, nil
}

func (s *Server) handleGetFunctionAt(w http.ResponseWriter, r *http.Request) {
	var req getFunctionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.loadFunctionEntries(req)
	if err != nil {
		writeError(w, err)
		return
	}
	targetRVA := req.Address - req.ModuleBase
	for _, e := range entries {
		if e.EntryRVA == targetRVA {
			writeData(w, functionEntryView(e, req.ModuleBase))
			return
		}
	}
	writeError(w, coreerr.New(coreerr.NotFound, "get_function_at", "address"))
}

func (s *Server) handleGetFunctionContaining(w http.ResponseWriter, r *http.Request) {
	var req getFunctionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entries, err := s.loadFunctionEntries(req)
	if err != nil {
		writeError(w, err)
		return
	}
	targetRVA := req.Address - req.ModuleBase
	for _, e := range entries {
		if targetRVA >= e.EntryRVA && (e.Size == 0 || targetRVA < e.EntryRVA+uint64(e.Size)) {
			writeData(w, functionEntryView(e, req.ModuleBase))
			return
		}
	}
	writeError(w, coreerr.New(coreerr.NotFound, "get_function_containing", "address"))
}

func functionEntryView(e cachedFunctionEntry, moduleBase uint64) map[string]interface{} {
	callees := make([]string, len(e.CalleeRVAs))
	for i, rva := range e.CalleeRVAs {
		callees[i] = fmt.Sprintf("0x%X", moduleBase+rva)
	}
	callers := make([]string, len(e.CallerRVAs))
	for i, rva := range e.CallerRVAs {
		callers[i] = fmt.Sprintf("0x%X", moduleBase+rva)
	}
	return map[string]interface{}{
		"entry_address":     fmt.Sprintf("0x%X", moduleBase+e.EntryRVA),
		"size":              e.Size,
		"source":            e.Source,
		"confidence":        e.Confidence,
		"is_thunk":          e.IsThunk,
		"is_leaf":           e.IsLeaf,
		"instruction_count": e.InstructionCount,
		"basic_block_count": e.BasicBlockCount,
		"callees":           callees,
		"callers":           callers,
	}
}
