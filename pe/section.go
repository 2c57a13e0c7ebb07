// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
	"strings"
)

// Section characteristics relevant to a live module: whether it holds code,
// initialized data, or is mapped executable/readable/writable.
const (
	ImageScnCntCode               = 0x00000020
	ImageScnCntInitializedData    = 0x00000040
	ImageScnCntUninitializedData  = 0x00000080
	ImageScnMemExecute            = 0x20000000
	ImageScnMemRead               = 0x40000000
	ImageScnMemWrite              = 0x80000000
)

// ImageSectionHeader mirrors IMAGE_SECTION_HEADER. 40 bytes, no padding.
type ImageSectionHeader struct {
	Name                 [8]uint8
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

// Section is a parsed section header. Unlike the on-disk form, Data() reads
// directly at VirtualAddress: a captured module snapshot is already laid
// out the way the loader mapped it, so there is no file-alignment/raw-data
// indirection to undo.
type Section struct {
	Header ImageSectionHeader `json:"header"`
}

// Name returns the section's null-trimmed name, e.g. ".text", ".rdata".
func (s *Section) Name() string {
	return strings.TrimRight(string(s.Header.Name[:]), "\x00")
}

// IsExecutable reports whether the section is mapped with execute permission.
func (s *Section) IsExecutable() bool {
	return s.Header.Characteristics&ImageScnMemExecute != 0
}

// Contains reports whether rva falls inside this section's mapped range.
func (s *Section) Contains(rva uint32) bool {
	size := s.Header.VirtualSize
	if size == 0 {
		size = s.Header.SizeOfRawData
	}
	return rva >= s.Header.VirtualAddress && rva < s.Header.VirtualAddress+size
}

// Data returns the byte range [start, start+length) of the section,
// addressed by RVA, clipped to what the snapshot actually covers.
func (s *Section) Data(img *Image, start, length uint32) []byte {
	if start == 0 {
		start = s.Header.VirtualAddress
	}
	if start < s.Header.VirtualAddress || start > img.size {
		return nil
	}
	end := start + length
	if length == 0 {
		end = s.Header.VirtualAddress + s.Header.VirtualSize
	}
	if end > img.size {
		end = img.size
	}
	if end <= start {
		return nil
	}
	return img.data[start:end]
}

// parseSectionHeaders parses the section table, which immediately follows
// the optional header.
func (img *Image) parseSectionHeaders() error {
	offset := img.DOSHeader.AddressOfNewEXEHeader + 4 +
		uint32(binary.Size(img.NTHeader.FileHeader)) +
		uint32(img.NTHeader.FileHeader.SizeOfOptionalHeader)

	n := img.NTHeader.FileHeader.NumberOfSections
	hdrSize := uint32(binary.Size(ImageSectionHeader{}))

	img.Sections = make([]Section, 0, n)
	for i := uint16(0); i < n; i++ {
		var hdr ImageSectionHeader
		if err := img.structUnpack(&hdr, offset, hdrSize); err != nil {
			return err
		}
		img.Sections = append(img.Sections, Section{Header: hdr})
		offset += hdrSize
	}
	return nil
}

// SectionByName returns the section with the given (case-sensitive) name,
// e.g. ".rdata", or nil.
func (img *Image) SectionByName(name string) *Section {
	for i := range img.Sections {
		if img.Sections[i].Name() == name {
			return &img.Sections[i]
		}
	}
	return nil
}

// SectionByRVA returns the section containing rva, or nil.
func (img *Image) SectionByRVA(rva uint32) *Section {
	for i := range img.Sections {
		if img.Sections[i].Contains(rva) {
			return &img.Sections[i]
		}
	}
	return nil
}

// ExecutableSections returns every section mapped with execute permission,
// the scan domain for FunctionRecovery's prologue phase.
func (img *Image) ExecutableSections() []*Section {
	var out []*Section
	for i := range img.Sections {
		if img.Sections[i].IsExecutable() {
			out = append(out, &img.Sections[i])
		}
	}
	return out
}
