// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
)

// ImageDOSHeader is the MS-DOS stub every PE module starts with. Only the
// two fields that matter for locating the NT headers are exercised; the
// rest is kept for completeness of a faithfully-shaped struct.
type ImageDOSHeader struct {
	// Magic number, 'MZ'.
	Magic uint16 `json:"magic"`

	_ [29]uint16 // unused DOS-stub fields (stack/heap layout of the 16-bit stub)

	// AddressOfNewEXEHeader is e_lfanew: the RVA of the NT headers.
	AddressOfNewEXEHeader uint32 `json:"address_of_new_exe_header"`
}

// parseDOSHeader reads the DOS stub at RVA 0 and validates the 'MZ' magic
// and the e_lfanew offset before anything downstream trusts them.
func (img *Image) parseDOSHeader() error {
	size := uint32(binary.Size(img.DOSHeader))
	if err := img.structUnpack(&img.DOSHeader, 0, size); err != nil {
		return err
	}

	if img.DOSHeader.Magic != ImageDOSSignature {
		return ErrDOSMagicNotFound
	}

	// e_lfanew can't be null (the signatures would overlap) and must point
	// back inside the captured snapshot.
	if img.DOSHeader.AddressOfNewEXEHeader < 4 ||
		img.DOSHeader.AddressOfNewEXEHeader > img.size {
		return ErrInvalidElfanewValue
	}

	return nil
}
