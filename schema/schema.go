// Package schema walks a game engine's in-memory type-registry graph,
// producing class/field layout records. Grounded on dumper/cs2_schema.h/.cpp
// (original_source): the registry discovery patterns, the scope/bucket/
// block walk, and the binding/field layout are carried over field-for-field,
// with the external offset table fixed by spec.md §6.4 (schema/offsets.go).
package schema

import (
	"fmt"

	"github.com/memcore-dev/memcore/scanner"
)

// MemSource reads bytes by absolute virtual address, the narrow contract
// funcrecovery and rtti also use.
type MemSource interface {
	Read(va uint64, n uint32) []byte
}

// Field is one recovered field of a Class.
type Field struct {
	Name     string
	TypeName string
	Offset   uint32
	Size     uint32
}

// Class is one recovered type, named and laid out the way the engine's
// reflection registry describes it. Fields are kept in the order the
// registry enumerates them; spec invariant 7 (monotonic offsets) is
// re-checked by the dumper's test suite against this ordering.
type Class struct {
	Name      string
	Module    string
	Size      uint32
	BaseClass string
	Fields    []Field
}

// Scope is one type-registry namespace (roughly one per module, plus the
// global scope).
type Scope struct {
	Name    string
	Address uint64
}

// discoveryPatterns are the two IDA-style byte patterns §4.7 step 1 tries in
// order: an indirect-move-to-register load of the global registry pointer,
// then a load-effective-address+return thunk some builds export instead.
var discoveryPatterns = []string{
	"48 8B 0D ?? ?? ?? ?? 48 8B 01",
	"48 8D 05 ?? ?? ?? ?? C3",
}

// Locate finds the registry's global instance inside [moduleBase,
// moduleBase+moduleSize), trying the two discovery strategies of §4.7 step 1
// in order. It returns the registry's absolute address.
func Locate(mem MemSource, moduleBase uint64, moduleSize uint32) (uint64, error) {
	data := mem.Read(moduleBase, moduleSize)
	if len(data) == 0 {
		return 0, fmt.Errorf("schema: failed to read module for registry scan")
	}

	for i, patStr := range discoveryPatterns {
		pat, err := scanner.Compile(patStr)
		if err != nil {
			continue
		}
		matches := scanner.ScanPattern(data, pat, moduleBase, 50)
		for _, match := range matches {
			if addr, ok := tryResolveRegistry(mem, match, moduleBase, moduleSize, i == 1); ok {
				return addr, nil
			}
		}
	}

	return 0, fmt.Errorf("schema: could not locate registry in module at %#x", moduleBase)
}

// tryResolveRegistry reads the RIP-relative displacement at match+3 (every
// discovery pattern is a 7-byte instruction with the displacement at that
// offset), forms the candidate registry pointer, and verifies it the way
// §4.7 step 1 requires: for the indirect-move pattern the candidate is a
// pointer that must itself be dereferenced once; for the lea+ret pattern the
// candidate is the address directly. Both forms are verified by checking the
// target's first qword looks like a v-table (a pointer back into the
// module), and the lea+ret form additionally checks v-table slot 12.
func tryResolveRegistry(mem MemSource, matchAddr, moduleBase uint64, moduleSize uint32, isLeaForm bool) (uint64, bool) {
	dispBytes := mem.Read(matchAddr+3, 4)
	if len(dispBytes) < 4 {
		return 0, false
	}
	disp := int32(leUint32(dispBytes))
	globalAddr := matchAddr + 7 + uint64(disp)

	var candidate uint64
	if isLeaForm {
		candidate = globalAddr
	} else {
		ptrBytes := mem.Read(globalAddr, 8)
		if len(ptrBytes) < 8 {
			return 0, false
		}
		candidate = leUint64(ptrBytes)
	}
	if candidate == 0 {
		return 0, false
	}

	vtableBytes := mem.Read(candidate, 8)
	if len(vtableBytes) < 8 {
		return 0, false
	}
	vtable := leUint64(vtableBytes)
	if vtable < moduleBase || vtable >= moduleBase+uint64(moduleSize) {
		return 0, false
	}

	if isLeaForm {
		slotBytes := mem.Read(vtable+12*8, 8)
		if len(slotBytes) < 8 {
			return 0, false
		}
		slot := leUint64(slotBytes)
		if slot < moduleBase {
			return 0, false
		}
	}

	return candidate, true
}

// Dumper walks one registry instance.
type Dumper struct {
	mem      MemSource
	registry uint64
}

// NewDumper builds a Dumper against a located registry address.
func NewDumper(mem MemSource, registryAddr uint64) *Dumper {
	return &Dumper{mem: mem, registry: registryAddr}
}

// RegistryAddress returns the registry's address.
func (d *Dumper) RegistryAddress() uint64 { return d.registry }

// Scopes enumerates the registry's type scopes via the fixed offset table
// (§4.7 step 2): a count at +0x190 and a scope-array pointer at +0x198.
func (d *Dumper) Scopes() []Scope {
	count, ok := d.readUint16(d.registry + RegistryScopeCount)
	if !ok || count == 0 {
		return nil
	}
	arrayPtr, ok := d.readUint64(d.registry + RegistryScopeArray)
	if !ok || arrayPtr == 0 {
		return nil
	}

	scopes := make([]Scope, 0, count)
	for i := uint16(0); i < count; i++ {
		scopeAddr, ok := d.readUint64(arrayPtr + uint64(i)*8)
		if !ok || scopeAddr == 0 {
			continue
		}
		name := d.readInlineName(scopeAddr + TypeScopeName)
		if name == "" {
			name = fmt.Sprintf("Scope_%d", i)
		}
		scopes = append(scopes, Scope{Name: name, Address: scopeAddr})
	}
	return scopes
}

// DumpScope enumerates every class binding reachable from one scope's class
// container (§4.7 step 3): 256 buckets, each a singly-linked list of blocks,
// each block naming one binding. progress, when non-nil, is called as
// (processed, total) after each binding is read.
func (d *Dumper) DumpScope(scopeAddr uint64, progress func(current, total int)) []Class {
	containerAddr := scopeAddr + TypeScopeClassContainer

	var bindings []uint64
	for bucket := 0; bucket < ClassContainerBucketCount; bucket++ {
		bucketAddr := containerAddr + uint64(bucket)*BucketHeaderStride
		block, ok := d.readUint64(bucketAddr + BucketHeaderFirstBlock)
		if !ok || block == 0 {
			continue
		}
		for block != 0 && len(bindings) < maxBindingsPerScope {
			binding, ok := d.readUint64(block + BlockBinding)
			if ok && binding != 0 {
				bindings = append(bindings, binding)
			}
			next, ok := d.readUint64(block + BlockNext)
			if !ok {
				break
			}
			block = next
		}
		if len(bindings) >= maxBindingsPerScope {
			break
		}
	}

	classes := make([]Class, 0, len(bindings))
	total := len(bindings)
	for i, addr := range bindings {
		if cls, ok := d.readBinding(addr); ok {
			classes = append(classes, cls)
		}
		if progress != nil {
			progress(i+1, total)
		}
	}
	return classes
}

// DumpAll dumps every scope, returning a map of scope name to its classes.
func (d *Dumper) DumpAll(progress func(current, total int)) map[string][]Class {
	out := make(map[string][]Class)
	for _, scope := range d.Scopes() {
		classes := d.DumpScope(scope.Address, progress)
		if len(classes) > 0 {
			out[scope.Name] = classes
		}
	}
	return out
}

// DumpAllDeduplicated dumps every scope and merges classes by name: a class
// that appears in more than one scope keeps the last scope's record (§4.7
// step 6), matching the enumeration order of Scopes (global scope first).
func (d *Dumper) DumpAllDeduplicated(progress func(current, total int)) []Class {
	byName := make(map[string]Class)
	for _, scope := range d.Scopes() {
		for _, cls := range d.DumpScope(scope.Address, progress) {
			byName[cls.Name] = cls
		}
	}
	out := make([]Class, 0, len(byName))
	for _, cls := range byName {
		out = append(out, cls)
	}
	return out
}

func (d *Dumper) readBinding(addr uint64) (Class, bool) {
	var cls Class

	namePtr, ok := d.readUint64(addr + BindingName)
	if !ok || namePtr == 0 {
		return cls, false
	}
	cls.Name = d.readCString(namePtr)
	if cls.Name == "" {
		return cls, false
	}

	if dllPtr, ok := d.readUint64(addr + BindingDLL); ok && dllPtr != 0 {
		cls.Module = d.readCString(dllPtr)
	}
	if size, ok := d.readUint32(addr + BindingSize); ok {
		cls.Size = size
	}

	fieldCount, _ := d.readUint16(addr + BindingFieldCount)
	if fieldArrayPtr, ok := d.readUint64(addr + BindingFieldArray); ok && fieldArrayPtr != 0 && fieldCount > 0 {
		cls.Fields = d.readFields(fieldArrayPtr, fieldCount)
	}

	if baseInfoPtr, ok := d.readUint64(addr + BindingBaseClass); ok && baseInfoPtr != 0 {
		if baseBinding, ok := d.readUint64(baseInfoPtr + BindingFromBaseClassInfo); ok && baseBinding != 0 {
			if baseNamePtr, ok := d.readUint64(baseBinding + BindingName); ok && baseNamePtr != 0 {
				cls.BaseClass = d.readCString(baseNamePtr)
			}
		}
	}

	return cls, true
}

func (d *Dumper) readFields(arrayAddr uint64, count uint16) []Field {
	fields := make([]Field, 0, count)
	for i := uint16(0); i < count; i++ {
		entryAddr := arrayAddr + uint64(i)*FieldStride

		namePtr, ok := d.readUint64(entryAddr + FieldName)
		if !ok || namePtr == 0 {
			continue
		}
		name := d.readCString(namePtr)
		if name == "" {
			continue
		}

		var typeName string
		if typePtr, ok := d.readUint64(entryAddr + FieldType); ok && typePtr != 0 {
			if typeNamePtr, ok := d.readUint64(typePtr + FieldTypeName); ok && typeNamePtr != 0 {
				typeName = d.readCString(typeNamePtr)
			}
		}

		offset, _ := d.readUint32(entryAddr + FieldOffset)

		fields = append(fields, Field{
			Name:     name,
			TypeName: typeName,
			Offset:   offset,
			Size:     SizeOf(typeName, nil),
		})
	}
	return fields
}

func (d *Dumper) readInlineName(addr uint64) string {
	b := d.mem.Read(addr, maxScopeNameScanLen)
	return cStringFromBytes(b)
}

func (d *Dumper) readCString(addr uint64) string {
	b := d.mem.Read(addr, maxStringLen)
	return cStringFromBytes(b)
}

func cStringFromBytes(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func (d *Dumper) readUint16(addr uint64) (uint16, bool) {
	b := d.mem.Read(addr, 2)
	if len(b) < 2 {
		return 0, false
	}
	return uint16(b[0]) | uint16(b[1])<<8, true
}

func (d *Dumper) readUint32(addr uint64) (uint32, bool) {
	b := d.mem.Read(addr, 4)
	if len(b) < 4 {
		return 0, false
	}
	return leUint32(b), true
}

func (d *Dumper) readUint64(addr uint64) (uint64, bool) {
	b := d.mem.Read(addr, 8)
	if len(b) < 8 {
		return 0, false
	}
	return leUint64(b), true
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
