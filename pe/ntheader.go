// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
)

// ImageNtHeader is the general term for the structure named IMAGE_NT_HEADERS64.
type ImageNtHeader struct {
	// Signature is a DWORD containing the value 50h, 45h, 00h, 00h ('PE\0\0').
	Signature uint32 `json:"signature"`

	// FileHeader provides the most general characteristics of the image.
	FileHeader ImageFileHeader `json:"file_header"`

	// OptionalHeader carries the loader-relevant fields, including the data
	// directory array. Only the PE32+ form is parsed.
	OptionalHeader ImageOptionalHeader64 `json:"optional_header"`
}

// ImageFileHeader mirrors IMAGE_FILE_HEADER.
type ImageFileHeader struct {
	Machine              uint16 `json:"machine"`
	NumberOfSections     uint16 `json:"number_of_sections"`
	TimeDateStamp        uint32 `json:"time_date_stamp"`
	PointerToSymbolTable uint32 `json:"pointer_to_symbol_table"`
	NumberOfSymbols      uint32 `json:"number_of_symbols"`
	SizeOfOptionalHeader uint16 `json:"size_of_optional_header"`
	Characteristics      uint16 `json:"characteristics"`
}

// DataDirectory is a single entry of the OptionalHeader's DataDirectory array.
type DataDirectory struct {
	VirtualAddress uint32 `json:"virtual_address"`
	Size           uint32 `json:"size"`
}

// ImageOptionalHeader64 mirrors IMAGE_OPTIONAL_HEADER64.
type ImageOptionalHeader64 struct {
	Magic                       uint16 `json:"magic"`
	MajorLinkerVersion          uint8  `json:"major_linker_version"`
	MinorLinkerVersion          uint8  `json:"minor_linker_version"`
	SizeOfCode                  uint32 `json:"size_of_code"`
	SizeOfInitializedData       uint32 `json:"size_of_initialized_data"`
	SizeOfUninitializedData     uint32 `json:"size_of_uninitialized_data"`
	AddressOfEntryPoint         uint32 `json:"address_of_entrypoint"`
	BaseOfCode                  uint32 `json:"base_of_code"`
	ImageBase                   uint64 `json:"image_base"`
	SectionAlignment            uint32 `json:"section_alignment"`
	FileAlignment               uint32 `json:"file_alignment"`
	MajorOperatingSystemVersion uint16 `json:"major_os_version"`
	MinorOperatingSystemVersion uint16 `json:"minor_os_version"`
	MajorImageVersion           uint16 `json:"major_image_version"`
	MinorImageVersion           uint16 `json:"minor_image_version"`
	MajorSubsystemVersion       uint16 `json:"major_subsystem_version"`
	MinorSubsystemVersion       uint16 `json:"minor_subsystem_version"`
	Win32VersionValue           uint32 `json:"win32_version_value"`
	SizeOfImage                 uint32            `json:"size_of_image"`
	SizeOfHeaders               uint32            `json:"size_of_headers"`
	CheckSum                    uint32            `json:"checksum"`
	Subsystem                   uint16            `json:"subsystem"`
	DllCharacteristics          uint16            `json:"dll_characteristics"`
	SizeOfStackReserve          uint64            `json:"size_of_stack_reserve"`
	SizeOfStackCommit           uint64            `json:"size_of_stack_commit"`
	SizeOfHeapReserve           uint64            `json:"size_of_heap_reserve"`
	SizeOfHeapCommit            uint64            `json:"size_of_heap_commit"`
	LoaderFlags                 uint32            `json:"loader_flags"`
	NumberOfRvaAndSizes         uint32            `json:"number_of_rva_and_sizes"`
	DataDirectory               [16]DataDirectory `json:"data_directories"`
}

// parseNTHeader parses IMAGE_NT_HEADERS64 at the offset given by e_lfanew,
// rejecting anything that isn't a 64-bit PE — cross-architecture support is
// out of scope.
func (img *Image) parseNTHeader() error {
	ntHeaderOffset := img.DOSHeader.AddressOfNewEXEHeader

	signature, err := img.readUint32(ntHeaderOffset)
	if err != nil {
		return ErrInvalidNtHeaderOffset
	}
	if signature != ImageNTSignature {
		return ErrImageNtSignatureNotFound
	}
	img.NTHeader.Signature = signature

	fileHeaderSize := uint32(binary.Size(img.NTHeader.FileHeader))
	fileHeaderOffset := ntHeaderOffset + 4
	if err := img.structUnpack(&img.NTHeader.FileHeader, fileHeaderOffset, fileHeaderSize); err != nil {
		return err
	}
	if img.NTHeader.FileHeader.Machine != ImageFileMachineAMD64 {
		return ErrUnsupportedMachine
	}

	optHeaderOffset := fileHeaderOffset + fileHeaderSize
	magic, err := img.readUint16(optHeaderOffset)
	if err != nil {
		return err
	}
	if magic != ImageNtOptionalHeader64Magic {
		return ErrImageNtOptionalHeaderMagicNotFound
	}

	size := uint32(binary.Size(img.NTHeader.OptionalHeader))
	if err := img.structUnpack(&img.NTHeader.OptionalHeader, optHeaderOffset, size); err != nil {
		return err
	}
	img.is64 = true

	return nil
}

// dataDirectory returns the entry at the given index, or a zero entry when
// the module predates that directory count.
func (img *Image) dataDirectory(entry ImageDirectoryEntry) DataDirectory {
	if int(entry) >= len(img.NTHeader.OptionalHeader.DataDirectory) {
		return DataDirectory{}
	}
	return img.NTHeader.OptionalHeader.DataDirectory[entry]
}
