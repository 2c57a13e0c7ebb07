// Package rtti walks Microsoft x64 RTTI structures to recover class names
// and inheritance relationships behind a v-table, grounded on
// mcp_handlers_rtti.cpp's walk order and pe's section table for the
// .rdata/.data scan domain.
package rtti

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/memcore-dev/memcore/pe"
)

// ClassRecord is one recovered class, named by its v-table.
type ClassRecord struct {
	VTableAddress         uint64
	ColAddress            uint64
	MangledName           string
	DemangledName         string
	VTableOffset          int32
	HasVirtualBase        bool
	IsMultipleInheritance bool
	MethodCount           int
	BaseClasses           []string
}

// Flags renders the ClassInformer-style single-letter summary: "", "M",
// "V", or "MV".
func (c ClassRecord) Flags() string {
	switch {
	case c.HasVirtualBase && c.IsMultipleInheritance:
		return "MV"
	case c.IsMultipleInheritance:
		return "M"
	case c.HasVirtualBase:
		return "V"
	default:
		return ""
	}
}

// Hierarchy renders "ClassName: Base1, Base2, ...", or just the class name
// when it has no recorded bases.
func (c ClassRecord) Hierarchy() string {
	if len(c.BaseClasses) == 0 {
		return c.DemangledName
	}
	return c.DemangledName + ": " + strings.Join(c.BaseClasses, ", ")
}

// MemSource reads bytes by absolute virtual address, the same narrow
// contract funcrecovery.MemSource uses.
type MemSource interface {
	Read(va uint64, n uint32) []byte
}

const (
	chdMultipleInheritance = 0x1
	chdVirtualInheritance  = 0x2
	colSignature64         = 1
	maxNameLength          = 512
	maxMethodWalk          = 4096
)

// Parser walks RTTI structures within one module. ModuleBase may be 0 to
// request auto-detection from the first COL's self_rva — the spec's
// consistency check doubles as a module-base discovery mechanism when the
// caller doesn't already know it.
type Parser struct {
	mem        MemSource
	moduleBase uint64
}

// NewParser builds a Parser. moduleBase of 0 means "unknown, detect from
// the first parsed COL".
func NewParser(mem MemSource, moduleBase uint64) *Parser {
	return &Parser{mem: mem, moduleBase: moduleBase}
}

// ModuleBase returns the module base, which may have been auto-detected by
// a prior ParseVTable call.
func (p *Parser) ModuleBase() uint64 { return p.moduleBase }

func (p *Parser) readUint32(addr uint64) (uint32, bool) {
	b := p.mem.Read(addr, 4)
	if len(b) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b), true
}

func (p *Parser) readUint64(addr uint64) (uint64, bool) {
	b := p.mem.Read(addr, 8)
	if len(b) < 8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}

func (p *Parser) readCString(addr uint64) (string, bool) {
	b := p.mem.Read(addr, maxNameLength)
	if len(b) == 0 {
		return "", false
	}
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	if n == 0 {
		return "", false
	}
	return string(b[:n]), true
}

// completeObjectLocator is the 64-bit RTTICompleteObjectLocator: signature,
// offset, cdOffset, and three module-relative RVAs (type descriptor, class
// hierarchy descriptor, self). 24 bytes.
type completeObjectLocator struct {
	signature              uint32
	offset                 int32
	cdOffset               uint32
	typeDescriptorRVA      uint32
	classDescriptorRVA     uint32
	selfRVA                uint32
}

func (p *Parser) readCOL(addr uint64) (completeObjectLocator, bool) {
	var col completeObjectLocator
	sig, ok := p.readUint32(addr)
	if !ok {
		return col, false
	}
	offset, ok := p.readUint32(addr + 4)
	if !ok {
		return col, false
	}
	cdOffset, ok := p.readUint32(addr + 8)
	if !ok {
		return col, false
	}
	typeRVA, ok := p.readUint32(addr + 12)
	if !ok {
		return col, false
	}
	classRVA, ok := p.readUint32(addr + 16)
	if !ok {
		return col, false
	}
	selfRVA, ok := p.readUint32(addr + 20)
	if !ok {
		return col, false
	}
	col = completeObjectLocator{
		signature:          sig,
		offset:             int32(offset),
		cdOffset:           cdOffset,
		typeDescriptorRVA:  typeRVA,
		classDescriptorRVA: classRVA,
		selfRVA:            selfRVA,
	}
	return col, true
}

// isValidCOL reports whether addr holds a plausible 64-bit COL: its
// signature field is 1. This is a lightweight probe used by ScanForVTables
// to find COL pointers and by countMethods to find the next v-table's COL
// pointer.
func (p *Parser) isValidCOL(addr uint64) bool {
	sig, ok := p.readUint32(addr)
	return ok && sig == colSignature64
}

// ParseVTable validates and parses the class behind the v-table at va: the
// qword at va-8 is a pointer to the v-table's Complete Object Locator. img
// supplies the executable-section check method_count needs; pass nil to
// skip that check and accept any non-zero, non-COL-preceded slot.
func (p *Parser) ParseVTable(va uint64, img *pe.Image) (*ClassRecord, error) {
	if va == 0 {
		return nil, fmt.Errorf("rtti: vtable address is 0")
	}

	colAddr, ok := p.readUint64(va - 8)
	if !ok || colAddr == 0 {
		return nil, fmt.Errorf("rtti: no COL pointer at %#x", va-8)
	}

	col, ok := p.readCOL(colAddr)
	if !ok {
		return nil, fmt.Errorf("rtti: cannot read COL at %#x", colAddr)
	}
	if col.signature != colSignature64 {
		return nil, fmt.Errorf("rtti: COL at %#x has signature %d, want 1", colAddr, col.signature)
	}

	base := p.moduleBase
	if base == 0 {
		base = colAddr - uint64(col.selfRVA)
	} else if base+uint64(col.selfRVA) != colAddr {
		return nil, fmt.Errorf("rtti: COL self_rva %#x inconsistent with module base %#x", col.selfRVA, base)
	}
	p.moduleBase = base

	mangled, ok := p.readCString(base + uint64(col.typeDescriptorRVA) + 16)
	if !ok {
		return nil, fmt.Errorf("rtti: cannot read type descriptor name at %#x", base+uint64(col.typeDescriptorRVA))
	}
	demangled, ok := Demangle(mangled)
	if !ok {
		demangled = mangled
	}

	chdAddr := base + uint64(col.classDescriptorRVA)
	_, attrs, numBases, baseArrayRVA, ok := p.readCHD(chdAddr)
	if !ok {
		return nil, fmt.Errorf("rtti: cannot read class hierarchy descriptor at %#x", chdAddr)
	}

	baseNames := p.readBaseClasses(base, baseArrayRVA, numBases)

	rec := &ClassRecord{
		VTableAddress:         va,
		ColAddress:            colAddr,
		MangledName:           mangled,
		DemangledName:         demangled,
		VTableOffset:          col.offset,
		HasVirtualBase:        attrs&chdVirtualInheritance != 0,
		IsMultipleInheritance: attrs&chdMultipleInheritance != 0,
		BaseClasses:           baseNames,
	}
	rec.MethodCount = p.countMethods(img, va)
	return rec, nil
}

func (p *Parser) readCHD(addr uint64) (signature, attributes, numBases uint32, baseArrayRVA uint32, ok bool) {
	signature, ok = p.readUint32(addr)
	if !ok {
		return
	}
	attributes, ok = p.readUint32(addr + 4)
	if !ok {
		return
	}
	numBases, ok = p.readUint32(addr + 8)
	if !ok {
		return
	}
	baseArrayRVA, ok = p.readUint32(addr + 12)
	return
}

func (p *Parser) readBaseClasses(moduleBase uint64, baseArrayRVA, numBases uint32) []string {
	if numBases == 0 || baseArrayRVA == 0 {
		return nil
	}
	arrayAddr := moduleBase + uint64(baseArrayRVA)
	names := make([]string, 0, numBases)
	for i := uint32(0); i < numBases; i++ {
		descRVA, ok := p.readUint32(arrayAddr + uint64(i)*4)
		if !ok || descRVA == 0 {
			break
		}
		descAddr := moduleBase + uint64(descRVA)
		typeRVA, ok := p.readUint32(descAddr)
		if !ok {
			break
		}
		mangled, ok := p.readCString(moduleBase + uint64(typeRVA) + 16)
		if !ok {
			continue
		}
		if demangled, ok := Demangle(mangled); ok {
			names = append(names, demangled)
		} else {
			names = append(names, mangled)
		}
	}
	return names
}

// countMethods walks the v-table forward from va, counting slots that point
// into an executable section, stopping either at the first non-executable
// slot or when the qword immediately before the current slot is itself a
// valid COL pointer (signaling the start of the next class's v-table,
// immediately preceded by its own COL pointer). img selects the executable-
// section check; a nil img accepts any non-zero slot value, for callers
// that only have a MemSource and no parsed section table.
func (p *Parser) countMethods(img *pe.Image, va uint64) int {
	count := 0
	for i := 0; i < maxMethodWalk; i++ {
		slotVA := va + uint64(i)*8
		if i > 0 {
			if prev, ok := p.readUint64(slotVA - 8); ok && p.isValidCOL(prev) {
				break
			}
		}
		slot, ok := p.readUint64(slotVA)
		if !ok || slot == 0 {
			break
		}
		if img != nil {
			rva := slot - p.moduleBase
			sec := img.SectionByRVA(uint32(rva))
			if sec == nil || !sec.IsExecutable() {
				break
			}
		}
		count++
	}
	return count
}

// ScanForVTables scans [base, base+size) for 8-byte-aligned candidate COL
// pointers; for each, it attempts to parse the v-table assumed to
// immediately follow (per the Microsoft layout, a v-table is always
// preceded by a pointer to its COL) and invokes cb on success.
func (p *Parser) ScanForVTables(base uint64, size uint32, img *pe.Image, cb func(ClassRecord)) {
	for off := uint32(0); off+8 <= size; off += 8 {
		addr := base + uint64(off)
		candidate, ok := p.readUint64(addr)
		if !ok || candidate == 0 || !p.isValidCOL(candidate) {
			continue
		}
		rec, err := p.ParseVTable(addr+8, img)
		if err != nil {
			continue
		}
		cb(*rec)
	}
}

// ScanModule restricts ScanForVTables to a module's .rdata and .data
// sections, obtained from its parsed PE section table.
func (p *Parser) ScanModule(moduleBase uint64, img *pe.Image, cb func(ClassRecord)) {
	for _, name := range []string{".rdata", ".data"} {
		sec := img.SectionByName(name)
		if sec == nil {
			continue
		}
		size := sec.Header.VirtualSize
		if size == 0 {
			size = sec.Header.SizeOfRawData
		}
		p.ScanForVTables(moduleBase+uint64(sec.Header.VirtualAddress), size, img, cb)
	}
}

// Demangle strips the Microsoft "class"/"struct" RTTI name-mangling
// envelope (".?AV"/".?AU" prefix, "@@" terminator) and renders nested
// namespaces in declaration order, e.g. ".?AVPlayer@game@@" -> "game::Player".
func Demangle(mangled string) (string, bool) {
	var rest string
	switch {
	case strings.HasPrefix(mangled, ".?AV"):
		rest = mangled[len(".?AV"):]
	case strings.HasPrefix(mangled, ".?AU"):
		rest = mangled[len(".?AU"):]
	default:
		return "", false
	}
	rest = strings.TrimSuffix(rest, "@@")
	if rest == "" {
		return "", false
	}
	parts := strings.Split(rest, "@")
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "::"), true
}
