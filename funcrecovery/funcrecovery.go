// Package funcrecovery combines a module's exception directory, a
// prologue scan, and call-target propagation into a set of FunctionRecords.
// Phase 1 is grounded on the teacher's exception.go (RUNTIME_FUNCTION),
// re-pointed from a file's .pdata section to one read live through a
// MemSource; phases 2-4 follow mcp_handlers_functions.cpp.
package funcrecovery

import (
	"github.com/memcore-dev/memcore/blocks"
	"github.com/memcore-dev/memcore/decoder"
	"github.com/memcore-dev/memcore/pe"
)

// Source identifies which recovery phase produced a FunctionRecord.
type Source int

const (
	ExceptionData Source = iota
	Prologue
	CallTarget
	RTTI
)

func (s Source) String() string {
	switch s {
	case ExceptionData:
		return "ExceptionData"
	case Prologue:
		return "Prologue"
	case CallTarget:
		return "CallTarget"
	case RTTI:
		return "RTTI"
	default:
		return "Unknown"
	}
}

// priority ranks sources for the tie-break rule: the higher-priority phase
// wins when two phases discover the same address.
func (s Source) priority() int {
	switch s {
	case ExceptionData:
		return 3
	case Prologue:
		return 2
	case CallTarget:
		return 1
	default:
		return 0
	}
}

// FunctionRecord is one recovered function.
type FunctionRecord struct {
	EntryAddress     uint64
	Size             uint32
	Name             string
	Source           Source
	Confidence       float64
	IsThunk          bool
	IsLeaf           bool
	InstructionCount int
	BasicBlockCount  int
	Callees          map[uint64]struct{}
	Callers          map[uint64]struct{}
}

// Module describes the scan domain: every recovered address falls in
// [Base, Base+Size).
type Module struct {
	Base uint64
	Size uint32
	Name string
}

func (m Module) contains(va uint64) bool {
	return va >= m.Base && va < m.Base+uint64(m.Size)
}

// MemSource reads bytes from the module's live or captured image, addressed
// by absolute virtual address. Implementations are expected to be backed by
// a memreader.Session through a pagecache.Cache; funcrecovery never talks
// to a transport directly.
type MemSource interface {
	Read(va uint64, n uint32) []byte
}

// Options controls which phases run. Every phase is optional and skipped
// when its flag is false.
type Options struct {
	UseExceptionData bool
	UsePrologues     bool
	FollowCalls      bool
	MaxFunctions     int
}

// ProgressFunc reports (stage label, fraction in [0,1]) as recovery runs.
type ProgressFunc func(stage string, fraction float64)

const (
	maxBodyScan    = 1 << 16 // cap for per-function size discovery when exception data is absent
	maxCallDecode  = 1 << 16 // cap for call-target propagation's per-body decode window
	paddingByteCC  = 0xCC
	paddingByteC3  = 0xC3
	paddingByte90  = 0x90
)

// Recover runs the recovery pipeline against one module and returns a map
// keyed by entry address, idempotent under repeated invocation on the same
// inputs.
func Recover(mod Module, img *pe.Image, mem MemSource, opts Options, progress ProgressFunc) map[uint64]*FunctionRecord {
	if progress == nil {
		progress = func(string, float64) {}
	}
	records := make(map[uint64]*FunctionRecord)

	if opts.UseExceptionData && img != nil {
		progress("exception_directory", 0.0)
		exceptionPhase(mod, img, records)
	}

	if opts.UsePrologues && mem != nil {
		progress("prologue_scan", 0.25)
		prologuePhase(mod, img, mem, records)
	}

	if opts.FollowCalls && mem != nil {
		progress("call_propagation", 0.5)
		propagateCalls(mod, mem, records, opts.MaxFunctions)
	}

	progress("annotating", 0.75)
	annotate(mod, mem, records)

	progress("done", 1.0)
	return records
}

// addRecord applies the confidence tie-break rule: the highest-priority
// phase to discover an address wins, and a record's confidence never
// decreases.
func addRecord(records map[uint64]*FunctionRecord, entry uint64, size uint32, src Source, confidence float64) {
	existing, ok := records[entry]
	if !ok {
		records[entry] = &FunctionRecord{
			EntryAddress: entry,
			Size:         size,
			Source:       src,
			Confidence:   confidence,
			Callees:      map[uint64]struct{}{},
			Callers:      map[uint64]struct{}{},
		}
		return
	}
	if src.priority() > existing.Source.priority() {
		existing.Source = src
	}
	if confidence > existing.Confidence {
		existing.Confidence = confidence
	}
	if existing.Size == 0 && size != 0 {
		existing.Size = size
	}
}

func exceptionPhase(mod Module, img *pe.Image, records map[uint64]*FunctionRecord) {
	for _, ex := range img.Exceptions {
		entry := mod.Base + uint64(ex.RuntimeFunction.BeginAddress)
		if !mod.contains(entry) {
			continue
		}
		addRecord(records, entry, ex.Size(), ExceptionData, 1.0)
	}
}

// prologuePattern is a byte pattern matched against a window of the section,
// with a predicate deciding whether the byte immediately before the window
// is acceptable padding (only required for the sub-rsp forms).
type prologuePattern struct {
	bytes         []byte
	needsPadding  bool
}

var prologuePatterns = []prologuePattern{
	{bytes: []byte{0x55, 0x48, 0x89, 0xE5}},       // push rbp; mov rbp, rsp (ModRM /r form)
	{bytes: []byte{0x55, 0x48, 0x8B, 0xEC}},       // push rbp; mov rbp, rsp (reg/mem reversed form)
	{bytes: []byte{0x48, 0x83, 0xEC}, needsPadding: true}, // sub rsp, imm8
	{bytes: []byte{0x48, 0x81, 0xEC}, needsPadding: true}, // sub rsp, imm32
}

func isPaddingByte(b byte) bool {
	return b == paddingByteCC || b == paddingByteC3 || b == paddingByte90
}

func prologuePhase(mod Module, img *pe.Image, mem MemSource, records map[uint64]*FunctionRecord) {
	if img == nil {
		return
	}
	for _, sec := range img.ExecutableSections() {
		start := mod.Base + uint64(sec.Header.VirtualAddress)
		size := sec.Header.VirtualSize
		if size == 0 {
			size = sec.Header.SizeOfRawData
		}
		data := mem.Read(start, size)
		scanSectionForPrologues(mod, start, data, records)
	}
}

func scanSectionForPrologues(mod Module, sectionBase uint64, data []byte, records map[uint64]*FunctionRecord) {
	for off := 0; off < len(data); off++ {
		for _, pat := range prologuePatterns {
			if off+len(pat.bytes) > len(data) {
				continue
			}
			if !bytesEqual(data[off:off+len(pat.bytes)], pat.bytes) {
				continue
			}
			if pat.needsPadding {
				if off == 0 || !isPaddingByte(data[off-1]) {
					continue
				}
			}
			entry := sectionBase + uint64(off)
			if !mod.contains(entry) {
				continue
			}
			addRecord(records, entry, 0, Prologue, 0.7)
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// propagateCalls decodes each known function's body and adds any in-module
// call target not already recorded, repeating until the set stabilizes or
// maxFunctions is reached.
func propagateCalls(mod Module, mem MemSource, records map[uint64]*FunctionRecord, maxFunctions int) {
	for {
		if maxFunctions > 0 && len(records) >= maxFunctions {
			return
		}
		discovered := false

		entries := make([]uint64, 0, len(records))
		for addr := range records {
			entries = append(entries, addr)
		}

		for _, entry := range entries {
			window := maxCallDecode
			if remaining := mod.Base + uint64(mod.Size) - entry; remaining < uint64(window) {
				window = int(remaining)
			}
			if window <= 0 {
				continue
			}
			body := mem.Read(entry, uint32(window))
			insts := decoder.Decode(body, entry, decoder.Options{})

			for _, in := range insts {
				if in.Category != decoder.Call || !in.HasBranchTarget {
					continue
				}
				if !mod.contains(in.BranchTarget) {
					continue
				}
				if _, exists := records[in.BranchTarget]; exists {
					continue
				}
				addRecord(records, in.BranchTarget, 0, CallTarget, 0.5)
				discovered = true
				if maxFunctions > 0 && len(records) >= maxFunctions {
					return
				}
			}
		}

		if !discovered {
			return
		}
	}
}

// annotate fills in size (when unknown), is-leaf, is-thunk,
// instruction_count, and basic_block_count for every record.
func annotate(mod Module, mem MemSource, records map[uint64]*FunctionRecord) {
	if mem == nil {
		return
	}
	for _, rec := range records {
		window := rec.Size
		if window == 0 {
			window = discoverSize(mod, mem, rec.EntryAddress)
		}
		if window == 0 {
			continue
		}

		body := mem.Read(rec.EntryAddress, window)
		insts := decoder.Decode(body, rec.EntryAddress, decoder.Options{})
		rec.Size = window
		rec.InstructionCount = len(insts)
		rec.BasicBlockCount = len(blocks.Build(insts))

		rec.IsLeaf = true
		for _, in := range insts {
			if in.Category == decoder.Call {
				rec.IsLeaf = false
				rec.Callees[in.BranchTarget] = struct{}{}
			}
		}

		rec.IsThunk = isThunkBody(insts, records)
	}

	for _, rec := range records {
		for callee := range rec.Callees {
			if target, ok := records[callee]; ok {
				target.Callers[rec.EntryAddress] = struct{}{}
			}
		}
	}
}

// isThunkBody reports whether insts is exactly one jmp rel32 to another
// known function.
func isThunkBody(insts []decoder.Instruction, records map[uint64]*FunctionRecord) bool {
	if len(insts) != 1 {
		return false
	}
	in := insts[0]
	if in.Category != decoder.Jump || !in.HasBranchTarget {
		return false
	}
	_, ok := records[in.BranchTarget]
	return ok
}

// discoverSize scans forward from entry until an unconditional terminator
// (Return, or Jump) is immediately followed by a padding byte, treating that
// as the function's end.
func discoverSize(mod Module, mem MemSource, entry uint64) uint32 {
	window := uint32(maxBodyScan)
	if remaining := mod.Base + uint64(mod.Size) - entry; remaining < uint64(window) {
		window = uint32(remaining)
	}
	if window == 0 {
		return 0
	}
	body := mem.Read(entry, window)
	insts := decoder.Decode(body, entry, decoder.Options{})

	for i, in := range insts {
		if in.Category != decoder.Return && in.Category != decoder.Jump {
			continue
		}
		end := in.Address + uint64(in.Length)
		nextOff := int(end - entry)
		if i == len(insts)-1 || nextOff >= len(body) || isPaddingByte(body[nextOff]) {
			return uint32(end - entry)
		}
	}
	return uint32(len(body))
}
