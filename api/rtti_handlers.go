package api

import (
	"fmt"
	"net/http"

	"github.com/memcore-dev/memcore/cachestore"
	"github.com/memcore-dev/memcore/coreerr"
	"github.com/memcore-dev/memcore/rtti"
	"github.com/memcore-dev/memcore/taskmanager"
)

func classRecordView(rec rtti.ClassRecord) map[string]interface{} {
	return map[string]interface{}{
		"vtable_address": fmt.Sprintf("0x%X", rec.VTableAddress),
		"mangled_name":   rec.MangledName,
		"demangled_name": rec.DemangledName,
		"vtable_offset":  rec.VTableOffset,
		"method_count":   rec.MethodCount,
		"flags":          rec.Flags(),
		"hierarchy":      rec.Hierarchy(),
		"base_classes":   rec.BaseClasses,
	}
}

type rttiParseVTableRequest struct {
	PID           uint32 `json:"pid"`
	VTableAddress uint64 `json:"vtable_address,string"`
	ModuleBase    uint64 `json:"module_base,string"`
}

func (s *Server) handleRTTIParseVTable(w http.ResponseWriter, r *http.Request) {
	var req rttiParseVTableRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.VTableAddress == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "rtti_parse_vtable", "vtable_address"))
		return
	}

	mem := memSourceAdapter(s.memSource(req.PID))
	p := rtti.NewParser(mem, req.ModuleBase)
	rec, err := p.ParseVTable(req.VTableAddress, nil)
	if err != nil {
		writeError(w, coreerr.Wrap(coreerr.DecodeFailure, "rtti_parse_vtable", "vtable_address", err))
		return
	}
	writeData(w, classRecordView(*rec))
}

type cachedRTTIEntry struct {
	VTableRVA     uint64   `json:"vtable_rva"`
	MangledName   string   `json:"mangled_name"`
	DemangledName string   `json:"demangled_name"`
	VTableOffset  int32    `json:"vtable_offset"`
	MethodCount   int      `json:"method_count"`
	Flags         string   `json:"flags"`
	BaseClasses   []string `json:"base_classes"`
}

type rttiScanModuleRequest struct {
	PID        uint32 `json:"pid"`
	ModuleBase uint64 `json:"module_base,string"`
	ModuleSize uint32 `json:"module_size"`
	ModuleName string `json:"module_name"`
	ForceRescan bool  `json:"force_rescan"`
}

func (s *Server) handleRTTIScanModule(w http.ResponseWriter, r *http.Request) {
	var req rttiScanModuleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.ModuleBase == 0 || req.ModuleSize == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "rtti_scan_module", "module_base"))
		return
	}

	key := cachestore.Key{Module: req.ModuleName, Size: uint64(req.ModuleSize)}
	if !req.ForceRescan && s.store != nil {
		var cached []cachedRTTIEntry
		if ok, _ := s.store.Load("rtti", key, &cached); ok {
			writeData(w, map[string]interface{}{"cached": true, "count": len(cached)})
			return
		}
	}

	mem := memSourceAdapter(s.memSource(req.PID))
	p := rtti.NewParser(mem, req.ModuleBase)

	taskID := s.tasks.Start(taskmanager.KindRTTIScanModule, "scan RTTI for "+req.ModuleName,
		func(cancel *taskmanager.CancelToken, progress taskmanager.ProgressFunc) (any, error) {
			var entries []cachedRTTIEntry
			p.ScanForVTables(req.ModuleBase, req.ModuleSize, nil, func(rec rtti.ClassRecord) {
				entries = append(entries, cachedRTTIEntry{
					VTableRVA:     rec.VTableAddress - req.ModuleBase,
					MangledName:   rec.MangledName,
					DemangledName: rec.DemangledName,
					VTableOffset:  rec.VTableOffset,
					MethodCount:   rec.MethodCount,
					Flags:         rec.Flags(),
					BaseClasses:   rec.BaseClasses,
				})
			})
			if cancel.IsCancelled() {
				return nil, taskmanager.ErrCancelled
			}
			progress("done", 1.0)

			if s.store != nil {
				_ = s.store.Save("rtti", key, entries)
			}
			return map[string]interface{}{"count": len(entries)}, nil
		})

	writeData(w, map[string]interface{}{"task_id": taskID, "status": "started"})
}
