package schema

import "strings"

// primitiveSizes covers the registry's built-in scalar type names (§4.7
// closing paragraphs). Sizes are fixed by the engine's ABI, not the host Go
// toolchain's.
var primitiveSizes = map[string]uint32{
	"bool":    1,
	"char":    1,
	"int8":    1,
	"uint8":   1,
	"int16":   2,
	"uint16":  2,
	"int32":   4,
	"uint32":  4,
	"int64":   8,
	"uint64":  8,
	"float32": 4,
	"float":   4,
	"float64": 8,
	"double":  8,
	"void":    0,
}

// engineTypeSizes covers the fixed-layout math/handle/string wrapper types
// the registry also reports by name, in addition to plain primitives.
var engineTypeSizes = map[string]uint32{
	"CUtlString":       8,
	"CUtlSymbolLarge":  8,
	"Vector":           12,
	"Vector2D":         8,
	"Vector4D":         16,
	"QAngle":           12,
	"Quaternion":       16,
	"Color":            4,
	"color32":          4,
	"CHandle":          4,
	"CEntityHandle":    4,
	"CNetworkedQuantized": 4,
}

// classSizer resolves a class name to its known size, used to size pointer
// and array fields whose element type is itself a previously dumped class.
// A nil classSizer means "no such lookup available"; SizeOf then falls back
// to the default unknown size.
type classSizer func(className string) (uint32, bool)

// SizeOf resolves a field's byte size from its registry-reported type name,
// per the grammar in §4.7: a trailing '*' is always a pointer (8 bytes,
// regardless of pointee); a trailing '[N]' is an array of N elements of the
// base type; otherwise the name is looked up as a primitive, an engine type,
// a templated CNetworked<T>/CNetworkedQuantized<T> wrapper (sized as its
// first type argument), or (via lookup) an already-known class. An
// unresolvable name reports 0, the "unknown of size n" fallback's sentinel
// for callers that must report something rather than fail the whole dump.
func SizeOf(typeName string, lookup classSizer) uint32 {
	name := strings.TrimSpace(typeName)
	if name == "" {
		return 0
	}

	if strings.HasSuffix(name, "*") {
		return 8
	}

	if n, elem, ok := parseArraySuffix(name); ok {
		return n * SizeOf(elem, lookup)
	}

	if size, ok := primitiveSizes[name]; ok {
		return size
	}
	if size, ok := engineTypeSizes[name]; ok {
		return size
	}

	if inner, ok := templateArg(name, "CNetworkedQuantized"); ok {
		return SizeOf(inner, lookup)
	}
	if inner, ok := templateArg(name, "CNetworked"); ok {
		return SizeOf(inner, lookup)
	}
	if inner, ok := templateArg(name, "CHandle"); ok {
		_ = inner
		return 4
	}

	if lookup != nil {
		if size, ok := lookup(name); ok {
			return size
		}
	}

	return 0
}

// parseArraySuffix recognizes a trailing "[N]" on a type name, returning the
// element count, the base type name with the suffix stripped, and whether
// the suffix was present and well-formed.
func parseArraySuffix(name string) (uint32, string, bool) {
	if !strings.HasSuffix(name, "]") {
		return 0, "", false
	}
	open := strings.LastIndex(name, "[")
	if open < 0 {
		return 0, "", false
	}
	countStr := name[open+1 : len(name)-1]
	var n uint32
	for _, r := range countStr {
		if r < '0' || r > '9' {
			return 0, "", false
		}
		n = n*10 + uint32(r-'0')
	}
	return n, name[:open], true
}

// templateArg recognizes "Prefix<Arg>" and returns Arg.
func templateArg(name, prefix string) (string, bool) {
	want := prefix + "<"
	if !strings.HasPrefix(name, want) || !strings.HasSuffix(name, ">") {
		return "", false
	}
	return name[len(want) : len(name)-1], true
}
