// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"bytes"
	"encoding/binary"
	"errors"

	"golang.org/x/text/encoding/unicode"
)

// Errors returned while parsing a module image. Only the error paths an
// RVA-only, 64-bit-only live parser can actually hit are kept.
var (
	// ErrDOSMagicNotFound is returned when the snapshot doesn't start with 'MZ'.
	ErrDOSMagicNotFound = errors.New("DOS header magic not found")

	// ErrInvalidElfanewValue is returned when e_lfanew falls outside the snapshot.
	ErrInvalidElfanewValue = errors.New("invalid e_lfanew value, probably not a PE module")

	// ErrInvalidNtHeaderOffset is returned when the NT header can't be read
	// at the offset e_lfanew points to.
	ErrInvalidNtHeaderOffset = errors.New("invalid NT header offset")

	// ErrImageNtSignatureNotFound is returned when the 'PE\0\0' magic is missing.
	ErrImageNtSignatureNotFound = errors.New("PE signature not found")

	// ErrImageNtOptionalHeaderMagicNotFound is returned when the optional
	// header magic isn't PE32+.
	ErrImageNtOptionalHeaderMagicNotFound = errors.New("optional header is not PE32+")

	// ErrUnsupportedMachine is returned for any machine type other than
	// IMAGE_FILE_MACHINE_AMD64 — 32-bit and non-x86 targets are out of scope.
	ErrUnsupportedMachine = errors.New("unsupported machine type, only x64 is supported")

	// ErrNoExceptionDirectory is returned when the module carries no
	// IMAGE_DIRECTORY_ENTRY_EXCEPTION entry.
	ErrNoExceptionDirectory = errors.New("no exception directory present")

	// ErrOutsideBoundary is returned when a read would fall outside the
	// captured snapshot.
	ErrOutsideBoundary = errors.New("reading data outside snapshot boundary")
)

func (img *Image) readUint64(offset uint32) (uint64, error) {
	if offset > img.size-8 {
		return 0, ErrOutsideBoundary
	}
	return binary.LittleEndian.Uint64(img.data[offset:]), nil
}

func (img *Image) readUint32(offset uint32) (uint32, error) {
	if offset > img.size-4 {
		return 0, ErrOutsideBoundary
	}
	return binary.LittleEndian.Uint32(img.data[offset:]), nil
}

func (img *Image) readUint16(offset uint32) (uint16, error) {
	if offset > img.size-2 {
		return 0, ErrOutsideBoundary
	}
	return binary.LittleEndian.Uint16(img.data[offset:]), nil
}

func (img *Image) readUint8(offset uint32) (uint8, error) {
	if offset+1 > img.size {
		return 0, ErrOutsideBoundary
	}
	return img.data[offset], nil
}

// structUnpack decodes a little-endian struct from the snapshot at offset.
// Blank `_` fields are skipped by encoding/binary, which is how
// ImageDOSHeader's unused stub bytes are handled.
func (img *Image) structUnpack(iface interface{}, offset, size uint32) error {
	totalSize := offset + size

	// Integer overflow.
	if (totalSize > offset) != (size > 0) {
		return ErrOutsideBoundary
	}
	if offset >= img.size || totalSize > img.size {
		return ErrOutsideBoundary
	}

	buf := bytes.NewReader(img.data[offset : offset+size])
	return binary.Read(buf, binary.LittleEndian, iface)
}

// readBytesAtOffset returns a byte slice view into the snapshot. The
// returned slice aliases img.data and must not be retained past the
// snapshot's lifetime.
func (img *Image) readBytesAtOffset(offset, size uint32) ([]byte, error) {
	totalSize := offset + size
	if (totalSize > offset) != (size > 0) {
		return nil, ErrOutsideBoundary
	}
	if offset >= img.size || totalSize > img.size {
		return nil, ErrOutsideBoundary
	}
	return img.data[offset : offset+size], nil
}

// DecodeUTF16String decodes a NUL-terminated UTF-16LE string out of b.
func DecodeUTF16String(b []byte) (string, error) {
	n := bytes.Index(b, []byte{0, 0})
	if n < 0 {
		n = len(b) - 1
	}
	if n <= 0 {
		return "", nil
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := decoder.Bytes(b[0 : n+1])
	if err != nil {
		return "", err
	}
	return string(s), nil
}

// IsBitSet reports whether the bit at pos is set in n.
func IsBitSet(n uint64, pos int) bool {
	return n&(1<<pos) > 0
}
