package schema

import (
	"encoding/binary"
	"testing"
)

// fakeMem is a flat byte-addressable memory image for synthetic registry
// tests, indexed by absolute virtual address with a fixed base.
type fakeMem struct {
	base uint64
	data []byte
}

func newFakeMem(base uint64, size int) *fakeMem {
	return &fakeMem{base: base, data: make([]byte, size)}
}

func (m *fakeMem) Read(va uint64, n uint32) []byte {
	if va < m.base {
		return nil
	}
	off := va - m.base
	if off >= uint64(len(m.data)) {
		return nil
	}
	end := off + uint64(n)
	if end > uint64(len(m.data)) {
		end = uint64(len(m.data))
	}
	return m.data[off:end]
}

func (m *fakeMem) putUint64(va uint64, v uint64) {
	off := va - m.base
	binary.LittleEndian.PutUint64(m.data[off:off+8], v)
}

func (m *fakeMem) putUint32(va uint64, v uint32) {
	off := va - m.base
	binary.LittleEndian.PutUint32(m.data[off:off+4], v)
}

func (m *fakeMem) putUint16(va uint64, v uint16) {
	off := va - m.base
	binary.LittleEndian.PutUint16(m.data[off:off+2], v)
}

func (m *fakeMem) putCString(va uint64, s string) {
	off := va - m.base
	copy(m.data[off:], s)
	m.data[off+uint64(len(s))] = 0
}

// buildSyntheticRegistry lays out one registry with one scope containing two
// class bindings, one of which derives from the other, exercising the full
// bucket/block/binding/field walk.
func buildSyntheticRegistry(t *testing.T) (*fakeMem, uint64) {
	t.Helper()

	const base = 0x10000
	mem := newFakeMem(base, 0x4000)

	registryAddr := uint64(base + 0x10)
	scopeAddr := uint64(base + 0x200)
	strArea := uint64(base + 0x1000)
	fieldArrayAddr := uint64(base + 0x1800)
	baseBindingAddr := uint64(base + 0x1A00)
	derivedBindingAddr := uint64(base + 0x1A80)
	baseClassInfoAddr := uint64(base + 0x1B00)
	scopeArrayAddr := uint64(base + 0x300)
	blockAddr := uint64(base + 0x400)

	mem.putUint16(registryAddr+RegistryScopeCount, 1)
	mem.putUint64(registryAddr+RegistryScopeArray, scopeArrayAddr)
	mem.putUint64(scopeArrayAddr, scopeAddr)

	mem.putCString(scopeAddr+TypeScopeName, "TestScope")

	containerAddr := scopeAddr + TypeScopeClassContainer
	bucket0 := containerAddr
	mem.putUint64(bucket0+BucketHeaderFirstBlock, blockAddr)
	mem.putUint64(blockAddr+BlockNext, 0)
	mem.putUint64(blockAddr+BlockBinding, baseBindingAddr)

	block2Addr := uint64(base + 0x480)
	mem.putUint64(blockAddr+BlockNext, block2Addr)
	mem.putUint64(block2Addr+BlockNext, 0)
	mem.putUint64(block2Addr+BlockBinding, derivedBindingAddr)

	baseNameAddr := strArea
	mem.putCString(baseNameAddr, "CBaseEntity")
	mem.putUint64(baseBindingAddr+BindingName, baseNameAddr)
	mem.putUint32(baseBindingAddr+BindingSize, 0x40)
	mem.putUint16(baseBindingAddr+BindingFieldCount, 0)

	derivedNameAddr := strArea + 0x40
	mem.putCString(derivedNameAddr, "CDerivedEntity")
	mem.putUint64(derivedBindingAddr+BindingName, derivedNameAddr)
	mem.putUint32(derivedBindingAddr+BindingSize, 0x48)
	mem.putUint16(derivedBindingAddr+BindingFieldCount, 2)
	mem.putUint64(derivedBindingAddr+BindingFieldArray, fieldArrayAddr)
	mem.putUint64(derivedBindingAddr+BindingBaseClass, baseClassInfoAddr)
	mem.putUint64(baseClassInfoAddr+BindingFromBaseClassInfo, baseBindingAddr)

	field0NameAddr := strArea + 0x80
	mem.putCString(field0NameAddr, "m_health")
	field0TypeAddr := strArea + 0xA0
	field0TypeNameAddr := strArea + 0xC0
	mem.putCString(field0TypeNameAddr, "int32")
	mem.putUint64(field0TypeAddr+FieldTypeName, field0TypeNameAddr)
	mem.putUint64(fieldArrayAddr+0*FieldStride+FieldName, field0NameAddr)
	mem.putUint64(fieldArrayAddr+0*FieldStride+FieldType, field0TypeAddr)
	mem.putUint32(fieldArrayAddr+0*FieldStride+FieldOffset, 0x40)

	field1NameAddr := strArea + 0x100
	mem.putCString(field1NameAddr, "m_position")
	field1TypeAddr := strArea + 0x120
	field1TypeNameAddr := strArea + 0x140
	mem.putCString(field1TypeNameAddr, "Vector")
	mem.putUint64(field1TypeAddr+FieldTypeName, field1TypeNameAddr)
	mem.putUint64(fieldArrayAddr+1*FieldStride+FieldName, field1NameAddr)
	mem.putUint64(fieldArrayAddr+1*FieldStride+FieldType, field1TypeAddr)
	mem.putUint32(fieldArrayAddr+1*FieldStride+FieldOffset, 0x44)

	return mem, registryAddr
}

func TestDumperScopes(t *testing.T) {
	mem, registryAddr := buildSyntheticRegistry(t)
	d := NewDumper(mem, registryAddr)

	scopes := d.Scopes()
	if len(scopes) != 1 {
		t.Fatalf("got %d scopes, want 1", len(scopes))
	}
	if scopes[0].Name != "TestScope" {
		t.Fatalf("scope name = %q, want TestScope", scopes[0].Name)
	}
}

func TestDumpScopeWalksBucketsAndBindings(t *testing.T) {
	mem, registryAddr := buildSyntheticRegistry(t)
	d := NewDumper(mem, registryAddr)
	scopes := d.Scopes()

	classes := d.DumpScope(scopes[0].Address, nil)
	if len(classes) != 2 {
		t.Fatalf("got %d classes, want 2", len(classes))
	}

	byName := map[string]Class{}
	for _, c := range classes {
		byName[c.Name] = c
	}

	base, ok := byName["CBaseEntity"]
	if !ok {
		t.Fatalf("missing CBaseEntity")
	}
	if base.Size != 0x40 {
		t.Errorf("CBaseEntity.Size = %#x, want 0x40", base.Size)
	}

	derived, ok := byName["CDerivedEntity"]
	if !ok {
		t.Fatalf("missing CDerivedEntity")
	}
	if derived.BaseClass != "CBaseEntity" {
		t.Errorf("CDerivedEntity.BaseClass = %q, want CBaseEntity", derived.BaseClass)
	}
	if len(derived.Fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(derived.Fields))
	}

	if derived.Fields[0].Name != "m_health" || derived.Fields[0].Offset != 0x40 {
		t.Errorf("field 0 = %+v", derived.Fields[0])
	}
	if derived.Fields[1].Name != "m_position" || derived.Fields[1].Offset != 0x44 {
		t.Errorf("field 1 = %+v", derived.Fields[1])
	}

	// Spec invariant 7: a class's fields must report non-decreasing offsets
	// in registry enumeration order.
	for i := 1; i < len(derived.Fields); i++ {
		if derived.Fields[i].Offset < derived.Fields[i-1].Offset {
			t.Errorf("field offsets not monotonic: field %d offset %#x < field %d offset %#x",
				i, derived.Fields[i].Offset, i-1, derived.Fields[i-1].Offset)
		}
	}
}

func TestDumpAllDeduplicatedLastScopeWins(t *testing.T) {
	mem, registryAddr := buildSyntheticRegistry(t)

	// A second scope redeclares CBaseEntity with a different size.
	const base = 0x10000
	scope2Addr := uint64(base + 0x2000)
	block3Addr := uint64(base + 0x3E00)
	redeclAddr := uint64(base + 0x3E40)
	mem.putUint16(registryAddr+RegistryScopeCount, 2)
	mem.putUint64(uint64(base+0x300)+8, scope2Addr)
	mem.putCString(scope2Addr+TypeScopeName, "LaterScope")
	mem.putUint64(scope2Addr+TypeScopeClassContainer+BucketHeaderFirstBlock, block3Addr)
	mem.putUint64(block3Addr+BlockBinding, redeclAddr)
	mem.putUint64(redeclAddr+BindingName, uint64(base+0x1000))
	mem.putUint32(redeclAddr+BindingSize, 0x50)

	d := NewDumper(mem, registryAddr)

	classes := d.DumpAllDeduplicated(nil)
	if len(classes) != 2 {
		t.Fatalf("got %d deduplicated classes, want 2", len(classes))
	}
	byName := map[string]Class{}
	for _, c := range classes {
		byName[c.Name] = c
	}
	if c, ok := byName["CBaseEntity"]; !ok || c.Size != 0x50 {
		t.Errorf("CBaseEntity = %+v (present=%v), want the later scope's size 0x50", c, ok)
	}
}

func TestSizeOfPrimitivesAndSuffixes(t *testing.T) {
	cases := []struct {
		name string
		want uint32
	}{
		{"int32", 4},
		{"uint8", 1},
		{"double", 8},
		{"Vector", 12},
		{"CUtlString", 8},
		{"int32*", 8},
		{"int32[4]", 16},
		{"CNetworkedQuantized<float32>", 4},
		{"unknownthing", 0},
	}
	for _, c := range cases {
		got := SizeOf(c.name, nil)
		if got != c.want {
			t.Errorf("SizeOf(%q) = %d, want %d", c.name, got, c.want)
		}
	}
}

func TestSizeOfClassLookupFallback(t *testing.T) {
	lookup := func(name string) (uint32, bool) {
		if name == "CCustomStruct" {
			return 24, true
		}
		return 0, false
	}
	if got := SizeOf("CCustomStruct", lookup); got != 24 {
		t.Errorf("SizeOf with lookup = %d, want 24", got)
	}
	if got := SizeOf("CUnknownStruct", lookup); got != 0 {
		t.Errorf("SizeOf unresolved = %d, want 0", got)
	}
}
