// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "encoding/binary"

// buildConfig controls the synthetic x64 module snapshot produced by
// buildImage. The module carries exactly one executable section, ".text",
// containing the tiny function pair used throughout the function-recovery
// scenarios: a 14-byte function at RVA 0x1000 that calls a 4-byte leaf
// function at RVA 0x1012.
type buildConfig struct {
	machine           uint16
	optMagic          uint16
	withExceptionDir  bool
	sectionName       string
	sectionVA         uint32
	sectionSize       uint32
	sectionChars      uint32
	entryPoint        uint32
	numberOfSections  uint16
	corruptElfanew    bool
	omitDOSMagic      bool
	omitPESignature   bool
}

func defaultBuildConfig() buildConfig {
	return buildConfig{
		machine:          ImageFileMachineAMD64,
		optMagic:         ImageNtOptionalHeader64Magic,
		withExceptionDir: true,
		sectionName:      ".text",
		sectionVA:        0x1000,
		sectionSize:      0x2000,
		sectionChars:     ImageScnMemExecute | ImageScnMemRead | ImageScnCntCode,
		entryPoint:       0x1000,
		numberOfSections: 1,
	}
}

// buildImage assembles a minimal but structurally valid PE64 snapshot as it
// would be captured from a live process: data[rva] is always the byte at
// that RVA, so headers, the section table, and section contents all sit at
// their natural RVA offsets rather than file offsets.
func buildImage(cfg buildConfig) []byte {
	const (
		dosHeaderSize     = 64
		ntHeaderBase      = 0x80
		fileHeaderSize    = 20
		optHeaderSize     = 240
		sectionHeaderSize = 40
	)

	buf := make([]byte, 0x4000)

	// DOS header.
	if cfg.omitDOSMagic {
		binary.LittleEndian.PutUint16(buf[0:], 0x0000)
	} else {
		binary.LittleEndian.PutUint16(buf[0:], ImageDOSSignature)
	}
	elfanew := uint32(ntHeaderBase)
	if cfg.corruptElfanew {
		elfanew = uint32(len(buf)) + 0x1000
	}
	binary.LittleEndian.PutUint32(buf[60:], elfanew)

	// NT signature.
	sigOffset := ntHeaderBase
	if cfg.omitPESignature {
		binary.LittleEndian.PutUint32(buf[sigOffset:], 0)
	} else {
		binary.LittleEndian.PutUint32(buf[sigOffset:], ImageNTSignature)
	}

	// File header.
	fh := sigOffset + 4
	binary.LittleEndian.PutUint16(buf[fh:], cfg.machine)
	binary.LittleEndian.PutUint16(buf[fh+2:], cfg.numberOfSections)
	binary.LittleEndian.PutUint16(buf[fh+16:], uint16(optHeaderSize)) // SizeOfOptionalHeader

	// Optional header.
	oh := fh + fileHeaderSize
	binary.LittleEndian.PutUint16(buf[oh:], cfg.optMagic)
	binary.LittleEndian.PutUint32(buf[oh+16:], cfg.entryPoint) // AddressOfEntryPoint
	binary.LittleEndian.PutUint64(buf[oh+24:], 0x140000000)    // ImageBase
	binary.LittleEndian.PutUint32(buf[oh+32:], 0x1000)         // SectionAlignment
	binary.LittleEndian.PutUint32(buf[oh+36:], 0x200)          // FileAlignment
	binary.LittleEndian.PutUint32(buf[oh+56:], uint32(len(buf)))
	binary.LittleEndian.PutUint32(buf[oh+108:], 16) // NumberOfRvaAndSizes

	dataDirOffset := oh + 108 + 4
	exceptionEntryOffset := dataDirOffset + int(ImageDirectoryEntryException)*8
	exceptionVA := uint32(0x2000)
	exceptionSize := uint32(2 * 12)
	if cfg.withExceptionDir {
		binary.LittleEndian.PutUint32(buf[exceptionEntryOffset:], exceptionVA)
		binary.LittleEndian.PutUint32(buf[exceptionEntryOffset+4:], exceptionSize)
	}

	// Section table.
	st := oh + optHeaderSize
	var nameField [8]byte
	copy(nameField[:], cfg.sectionName)
	copy(buf[st:], nameField[:])
	binary.LittleEndian.PutUint32(buf[st+8:], cfg.sectionSize)  // VirtualSize
	binary.LittleEndian.PutUint32(buf[st+12:], cfg.sectionVA)   // VirtualAddress
	binary.LittleEndian.PutUint32(buf[st+16:], cfg.sectionSize) // SizeOfRawData
	binary.LittleEndian.PutUint32(buf[st+36:], cfg.sectionChars)
	_ = sectionHeaderSize

	// Section contents: the two-function scenario from the recovery spec.
	code := []byte{
		0x55, 0x48, 0x89, 0xE5, 0x48, 0x83, 0xEC, 0x20,
		0xE8, 0x05, 0x00, 0x00, 0x00, 0xC3, 0xCC, 0xCC,
		0xCC, 0x55, 0x48, 0x89, 0xE5, 0xC3,
	}
	copy(buf[cfg.sectionVA:], code)

	// Exception directory: RUNTIME_FUNCTION array at RVA 0x2000.
	if cfg.withExceptionDir {
		entries := []ImageRuntimeFunctionEntry{
			{BeginAddress: 0x1000, EndAddress: 0x100E, UnwindInfoAddress: 0x2100},
			{BeginAddress: 0x1012, EndAddress: 0x1016, UnwindInfoAddress: 0x2110},
		}
		off := exceptionVA
		for _, e := range entries {
			binary.LittleEndian.PutUint32(buf[off:], e.BeginAddress)
			binary.LittleEndian.PutUint32(buf[off+4:], e.EndAddress)
			binary.LittleEndian.PutUint32(buf[off+8:], e.UnwindInfoAddress)
			off += 12
		}
	}

	return buf
}
