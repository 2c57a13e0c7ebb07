// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package pe parses the Microsoft PE/COFF headers of a 64-bit module image.
// Unlike the on-disk parser it descends from, it never opens a file itself:
// callers hand it a contiguous snapshot of a module already captured from
// target memory (live process or dump file) together with the address the
// snapshot starts at, and every field it produces is an RVA — an offset from
// that base, not an absolute address. This is what lets FunctionRecovery and
// RTTIParser results stay valid across ASLR re-bases (spec invariant 6).
package pe

import (
	"github.com/sirupsen/logrus"
)

// Image executable signatures.
const (
	// ImageDOSSignature is the 'MZ' magic at offset 0 of every PE module.
	ImageDOSSignature = 0x5A4D

	// ImageNTSignature is the 'PE\0\0' magic at the NT header offset.
	ImageNTSignature = 0x00004550
)

// Optional header magic values. Only the 64-bit (PE32+) form is recognized;
// 32-bit modules are out of scope (spec Non-goals: 64-bit little-endian x86 only).
const (
	ImageNtOptionalHeader64Magic = 0x20b
)

// Image file machine types.
const (
	ImageFileMachineAMD64 = uint16(0x8664)
)

// ImageDirectoryEntry indexes the OptionalHeader's DataDirectory array.
type ImageDirectoryEntry int

// DataDirectory entries relevant to a live-memory module image.
const (
	ImageDirectoryEntryExport      ImageDirectoryEntry = 0
	ImageDirectoryEntryImport      ImageDirectoryEntry = 1
	ImageDirectoryEntryResource    ImageDirectoryEntry = 2
	ImageDirectoryEntryException   ImageDirectoryEntry = 3
	ImageDirectoryEntryCertificate ImageDirectoryEntry = 4
	ImageDirectoryEntryBaseReloc   ImageDirectoryEntry = 5
	ImageDirectoryEntryTLS         ImageDirectoryEntry = 9
	ImageDirectoryEntryLoadConfig  ImageDirectoryEntry = 10
	ImageNumberOfDirectoryEntries  ImageDirectoryEntry = 16
)

// Image represents a parsed module image: the DOS stub, NT headers, section
// table, and exception directory of a 64-bit PE module, addressed entirely
// in RVAs relative to the base the snapshot was captured at.
//
// Image owns nothing beyond the byte slice it was given; callers retain
// ownership of that slice (see MemoryReader ownership rules).
type Image struct {
	DOSHeader  ImageDOSHeader
	NTHeader   ImageNtHeader
	Sections   []Section
	Exceptions []Exception

	data   []byte
	size   uint32
	is64   bool
	logger *logrus.Entry
}

// Parse parses a module image snapshot. data must start at RVA 0 (the
// module's base) and extend far enough to cover the headers, section table,
// and whichever directories the caller intends to query; FunctionRecovery
// and RTTIParser read further slices of the same module lazily through
// their own MemoryReader-backed sources, not through this snapshot.
func Parse(data []byte, logger *logrus.Entry) (*Image, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	img := &Image{data: data, size: uint32(len(data)), logger: logger}

	if err := img.parseDOSHeader(); err != nil {
		return nil, err
	}
	if err := img.parseNTHeader(); err != nil {
		return nil, err
	}
	if err := img.parseSectionHeaders(); err != nil {
		return nil, err
	}
	if err := img.parseExceptionDirectory(); err != nil {
		// Absence or corruption of .pdata is not fatal: FunctionRecovery
		// falls back to the prologue-scan and call-propagation phases.
		logger.WithError(err).Debug("exception directory unavailable")
	}
	return img, nil
}

// Is64 reports whether the module is a PE32+ (x64) image.
func (img *Image) Is64() bool { return img.is64 }

// Size returns the length of the captured snapshot in bytes.
func (img *Image) Size() uint32 { return img.size }
