package schema

// Structure offsets below are external specification (spec.md §6.4) for the
// game engine's reflection registry. They must not be guessed or "cleaned
// up" — a wrong value here silently corrupts every downstream field layout.
const (
	// RegistryScopeCount is the scope count (uint16) on the global registry.
	RegistryScopeCount = 0x190
	// RegistryScopeArray is the scope-array pointer on the global registry.
	RegistryScopeArray = 0x198

	// TypeScopeName is the 256-byte inline name at scope-base+0x08.
	TypeScopeName = 0x08
	// TypeScopeNameLen bounds the inline name buffer.
	TypeScopeNameLen = 256
	// TypeScopeClassContainer is the class container at scope-base+0x5C0.
	TypeScopeClassContainer = 0x5C0

	// ClassContainerBucketCount is the fixed bucket-array length.
	ClassContainerBucketCount = 256
	// BucketHeaderStride is the byte size of one bucket header.
	BucketHeaderStride = 24
	// BucketHeaderFirstBlock is the first-block pointer within a bucket.
	BucketHeaderFirstBlock = 0x10

	// BlockNext is the next-block pointer within a block node.
	BlockNext = 0x08
	// BlockBinding is the binding pointer within a block node.
	BlockBinding = 0x10

	// BindingName is the name-pointer field of a class binding.
	BindingName = 0x08
	// BindingDLL is the owning-module-name pointer field.
	BindingDLL = 0x10
	// BindingSize is the class byte-size field.
	BindingSize = 0x18
	// BindingFieldCount is the field-count field.
	BindingFieldCount = 0x1C
	// BindingFieldArray is the field-array pointer field.
	BindingFieldArray = 0x28
	// BindingBaseClass is the base-class-info pointer field.
	BindingBaseClass = 0x30
	// BindingFromBaseClassInfo is the binding pointer within base-class info.
	BindingFromBaseClassInfo = 0x08

	// FieldStride is the byte size of one field entry.
	FieldStride = 32
	// FieldName is the name-pointer field of a field entry.
	FieldName = 0x00
	// FieldType is the type-pointer field of a field entry.
	FieldType = 0x08
	// FieldTypeName is the type object's own name pointer, read through
	// FieldType's target.
	FieldTypeName = 0x08
	// FieldOffset is the byte-offset field of a field entry.
	FieldOffset = 0x10

	// maxBindingsPerScope is the enumeration safety bound (§4.7 step 3).
	maxBindingsPerScope = 10000

	// maxScopeNameScanLen caps a scope's raw name read before locating the
	// null terminator.
	maxScopeNameScanLen = TypeScopeNameLen

	// maxStringLen bounds any other null-terminated string read from
	// target memory (class/field/module names).
	maxStringLen = 512
)
