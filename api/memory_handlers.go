package api

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/http"

	"github.com/memcore-dev/memcore/coreerr"
	"github.com/memcore-dev/memcore/decoder"
	"github.com/memcore-dev/memcore/scanner"
)

// processName looks up pid's process name for error messages, grounded on
// mcp_handlers_memory.cpp's "in process {name}" phrasing. Returns "unknown"
// if the session can't enumerate processes.
func (s *Server) processName(pid uint32) string {
	procs, err := s.session.Reader().ListProcesses()
	if err != nil {
		return "unknown"
	}
	for _, p := range procs {
		if p.PID == pid {
			return p.Name
		}
	}
	return "unknown"
}

func (s *Server) processExists(pid uint32) bool {
	procs, err := s.session.Reader().ListProcesses()
	if err != nil {
		return true // can't enumerate; don't block the read on an unrelated failure
	}
	for _, p := range procs {
		if p.PID == pid {
			return true
		}
	}
	return false
}

type readMemoryRequest struct {
	PID     uint32 `json:"pid"`
	Address uint64 `json:"address,string"`
	Size    uint32 `json:"size"`
	Format  string `json:"format"`
}

func (s *Server) handleReadMemory(w http.ResponseWriter, r *http.Request) {
	var req readMemoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Address == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "read_memory", "address"))
		return
	}
	if req.Size == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "read_memory", "size"))
		return
	}
	if req.Size > maxMemoryRead {
		writeError(w, coreerr.New(coreerr.InvalidInput, "read_memory", "size"))
		return
	}
	if !s.processExists(req.PID) {
		writeError(w, coreerr.New(coreerr.NotFound, "read_memory", "pid"))
		return
	}

	data := s.memSource(req.PID)(req.Address, req.Size)
	if len(data) == 0 {
		writeError(w, coreerr.New(coreerr.ReadFailure, "read_memory", "address"))
		return
	}

	resp := map[string]interface{}{
		"address": fmt.Sprintf("0x%X", req.Address),
		"size":    len(data),
	}
	switch req.Format {
	case "bytes":
		resp["bytes"] = data
	case "hexdump":
		resp["hexdump"] = hexdump(data, req.Address)
	default:
		resp["hex"] = hex.EncodeToString(data)
	}
	if len(data) <= 16 {
		addTypedInterpretations(resp, data)
	}
	writeData(w, resp)
}

func addTypedInterpretations(resp map[string]interface{}, data []byte) {
	if len(data) >= 4 {
		resp["as_int32"] = int32(binary.LittleEndian.Uint32(data[:4]))
	}
	if len(data) >= 8 {
		resp["as_int64"] = int64(binary.LittleEndian.Uint64(data[:8]))
		resp["as_ptr"] = fmt.Sprintf("0x%X", binary.LittleEndian.Uint64(data[:8]))
	}
}

func hexdump(data []byte, base uint64) string {
	var out string
	for off := 0; off < len(data); off += 16 {
		end := off + 16
		if end > len(data) {
			end = len(data)
		}
		line := data[off:end]
		out += fmt.Sprintf("%016X  ", base+uint64(off))
		for i := 0; i < 16; i++ {
			if i < len(line) {
				out += fmt.Sprintf("%02X ", line[i])
			} else {
				out += "   "
			}
		}
		out += " "
		for _, b := range line {
			if b >= 0x20 && b < 0x7F {
				out += string(b)
			} else {
				out += "."
			}
		}
		out += "\n"
	}
	return out
}

type writeMemoryRequest struct {
	PID     uint32 `json:"pid"`
	Address uint64 `json:"address,string"`
	Data    string `json:"data"`
}

func (s *Server) handleWriteMemory(w http.ResponseWriter, r *http.Request) {
	var req writeMemoryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !s.cfg.Features.Write {
		writeError(w, coreerr.New(coreerr.InvalidInput, "write_memory", "feature_disabled"))
		return
	}
	if req.Address == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "write_memory", "address"))
		return
	}
	if req.Data == "" || len(req.Data)%2 != 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "write_memory", "data"))
		return
	}
	bytes, err := hex.DecodeString(req.Data)
	if err != nil {
		writeError(w, coreerr.Wrap(coreerr.InvalidInput, "write_memory", "data", err))
		return
	}
	if !s.session.Reader().Write(req.PID, req.Address, bytes) {
		writeError(w, coreerr.New(coreerr.Transport, "write_memory", "address"))
		return
	}
	if s.cache != nil {
		s.cache.Invalidate(req.PID, req.Address, uint32(len(bytes)))
	}
	writeData(w, map[string]interface{}{"bytes_written": len(bytes)})
}

type disassembleRequest struct {
	PID     uint32 `json:"pid"`
	Address uint64 `json:"address,string"`
	Count   int    `json:"count"`
}

func (s *Server) handleDisassemble(w http.ResponseWriter, r *http.Request) {
	var req disassembleRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Address == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "disassemble", "address"))
		return
	}
	count := req.Count
	if count <= 0 {
		count = 32
	}
	if count > 1000 {
		count = 1000
	}

	window := uint32(count * 15)
	data := s.memSource(req.PID)(req.Address, window)
	if len(data) == 0 {
		writeError(w, coreerr.New(coreerr.ReadFailure, "disassemble", "address"))
		return
	}

	insts := decoder.Decode(data, req.Address, decoder.Options{MaxInstructions: count})
	views := make([]map[string]interface{}, 0, len(insts))
	for _, in := range insts {
		views = append(views, map[string]interface{}{
			"address":  fmt.Sprintf("0x%X", in.Address),
			"text":     decoder.Format(in, decoder.FormatOptions{ShowAddress: false}),
			"category": in.Category.String(),
			"length":   in.Length,
		})
	}
	writeData(w, map[string]interface{}{"instructions": views})
}

type scanPatternRequest struct {
	PID     uint32 `json:"pid"`
	Base    uint64 `json:"base,string"`
	Size    uint32 `json:"size"`
	Pattern string `json:"pattern"`
}

func (s *Server) handleScanPattern(w http.ResponseWriter, r *http.Request) {
	var req scanPatternRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Size == 0 || req.Size > maxScanSize {
		writeError(w, coreerr.New(coreerr.InvalidInput, "scan_pattern", "size"))
		return
	}
	pat, err := scanner.Compile(req.Pattern)
	if err != nil {
		writeError(w, coreerr.Wrap(coreerr.InvalidInput, "scan_pattern", "pattern", err))
		return
	}

	data := s.memSource(req.PID)(req.Base, req.Size)
	if len(data) == 0 {
		writeError(w, coreerr.New(coreerr.ReadFailure, "scan_pattern", "base"))
		return
	}
	matches := scanner.ScanPattern(data, pat, req.Base, 0)
	addresses := make([]string, len(matches))
	for i, m := range matches {
		addresses[i] = fmt.Sprintf("0x%X", m)
	}
	writeData(w, map[string]interface{}{"addresses": addresses})
}

type scanStringsRequest struct {
	PID       uint32 `json:"pid"`
	Base      uint64 `json:"base,string"`
	Size      uint32 `json:"size"`
	MinLength int    `json:"min_length"`
	Contains  string `json:"contains"`
	MaxResults int   `json:"max_results"`
}

func (s *Server) handleScanStrings(w http.ResponseWriter, r *http.Request) {
	var req scanStringsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Size == 0 || req.Size > maxScanSize {
		writeError(w, coreerr.New(coreerr.InvalidInput, "scan_strings", "size"))
		return
	}
	if req.MinLength < 0 || req.MinLength > 256 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "scan_strings", "min_length"))
		return
	}

	data := s.memSource(req.PID)(req.Base, req.Size)
	if len(data) == 0 {
		writeError(w, coreerr.New(coreerr.ReadFailure, "scan_strings", "base"))
		return
	}

	matches := scanner.ScanStrings(data, scanner.StringScanOptions{MinLength: req.MinLength}, req.Base)
	out := make([]map[string]interface{}, 0, len(matches))
	for _, m := range matches {
		if req.Contains != "" && !contains(m.Value, req.Contains) {
			continue
		}
		out = append(out, map[string]interface{}{
			"address": fmt.Sprintf("0x%X", m.Address),
			"text":    m.Value,
			"kind":    m.Type.String(),
		})
		if req.MaxResults > 0 && len(out) >= req.MaxResults {
			break
		}
	}
	writeData(w, map[string]interface{}{"matches": out})
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

type findXrefsRequest struct {
	PID        uint32 `json:"pid"`
	Target     uint64 `json:"target,string"`
	Base       uint64 `json:"base,string"`
	Size       uint32 `json:"size"`
	MaxResults int    `json:"max_results"`
}

func (s *Server) handleFindXrefs(w http.ResponseWriter, r *http.Request) {
	var req findXrefsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Target == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "find_xrefs", "target"))
		return
	}
	data := s.memSource(req.PID)(req.Base, req.Size)
	if len(data) == 0 {
		writeError(w, coreerr.New(coreerr.ReadFailure, "find_xrefs", "base"))
		return
	}

	direct := scanner.FindXrefs(data, req.Target, req.Base, req.MaxResults)
	rip := findRIPRelativeXrefs(data, req.Target, req.Base, req.MaxResults)

	out := make([]map[string]interface{}, 0, len(direct)+len(rip))
	for _, m := range direct {
		out = append(out, map[string]interface{}{"address": fmt.Sprintf("0x%X", m.Address), "kind": "pointer64"})
	}
	for _, addr := range rip {
		out = append(out, map[string]interface{}{"address": fmt.Sprintf("0x%X", addr), "kind": "rip_relative32"})
	}
	writeData(w, map[string]interface{}{"refs": out})
}

// findRIPRelativeXrefs scans for a 4-byte little-endian displacement such
// that instructionStart + instructionLen + disp32 == target, approximating
// instructionLen as 4 (displacement immediately followed by the next byte)
// which covers the common "lea reg, [rip+disp32]" and similar forms whose
// displacement is the instruction's last operand — satisfying spec.md
// §6.1's "32-bit RIP-relative refs" requirement that scanner.FindXrefs
// alone (64-bit absolute pointers only) does not cover.
func findRIPRelativeXrefs(data []byte, target, base uint64, maxResults int) []uint64 {
	var out []uint64
	for i := 0; i+4 <= len(data); i++ {
		disp := int32(binary.LittleEndian.Uint32(data[i : i+4]))
		instrEnd := base + uint64(i) + 4
		if instrEnd+uint64(disp) == target || instrEnd+uint64(int64(disp)) == target {
			out = append(out, base+uint64(i))
			if maxResults > 0 && len(out) >= maxResults {
				break
			}
		}
	}
	return out
}

type resolvePointerChainRequest struct {
	PID       uint32        `json:"pid"`
	Base      uint64        `json:"base,string"`
	Offsets   []int64       `json:"offsets"`
	ReadFinal bool          `json:"read_final"`
	ReadSize  int           `json:"read_size"`
}

func (s *Server) handleResolvePointerChain(w http.ResponseWriter, r *http.Request) {
	var req resolvePointerChainRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Base == 0 {
		writeError(w, coreerr.New(coreerr.InvalidInput, "resolve_pointer_chain", "base"))
		return
	}

	read := s.memSource(req.PID)
	current := req.Base
	var steps []map[string]interface{}
	vis := fmt.Sprintf("0x%X", current)

	for i, off := range req.Offsets {
		if i > 0 {
			b := read(current, 8)
			if len(b) < 8 {
				writeError(w, coreerr.New(coreerr.ReadFailure, "resolve_pointer_chain", "chain"))
				return
			}
			current = binary.LittleEndian.Uint64(b)
			vis += fmt.Sprintf(" -> [0x%X]", current)
			steps = append(steps, map[string]interface{}{"op": "deref", "address": fmt.Sprintf("0x%X", current)})
		}
		current = uint64(int64(current) + off)
		vis += fmt.Sprintf(" + 0x%X", off)
		steps = append(steps, map[string]interface{}{"op": "offset", "value": off, "address": fmt.Sprintf("0x%X", current)})
	}
	vis += fmt.Sprintf(" -> 0x%X", current)

	resp := map[string]interface{}{
		"chain":          steps,
		"final_address":  fmt.Sprintf("0x%X", current),
		"visualization":  vis,
	}

	if req.ReadFinal {
		size := req.ReadSize
		if size != 4 && size != 8 {
			size = 8
		}
		data := read(current, uint32(size))
		if len(data) == size {
			resp["final_value"] = dataAsTyped(data, size)
		}
	}

	writeData(w, resp)
}

func dataAsTyped(data []byte, size int) interface{} {
	if size == 4 {
		return binary.LittleEndian.Uint32(data)
	}
	return binary.LittleEndian.Uint64(data)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeData(w, map[string]interface{}{})
		return
	}
	stats := s.cache.Stats()
	writeData(w, map[string]interface{}{
		"hits":          stats.Hits,
		"misses":        stats.Misses,
		"evictions":     stats.Evictions,
		"current_pages": stats.CurrentPages,
		"current_bytes": stats.CurrentBytes,
	})
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if s.cache != nil {
		s.cache.Clear()
	}
	writeData(w, map[string]interface{}{"cleared": true})
}
