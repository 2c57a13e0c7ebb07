// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import (
	"encoding/binary"
)

// ImageRuntimeFunctionEntry mirrors RUNTIME_FUNCTION: one entry of the x64
// exception directory (.pdata). Every function compiled with a standard
// prolog/epilog gets one of these, which makes the exception directory the
// single highest-confidence source of function boundaries FunctionRecovery
// has (spec source tag ExceptionData, confidence 1.0).
type ImageRuntimeFunctionEntry struct {
	// BeginAddress is the RVA of the first instruction of the function.
	BeginAddress uint32 `json:"begin_address"`

	// EndAddress is the RVA one past the last instruction of the function.
	EndAddress uint32 `json:"end_address"`

	// UnwindInfoAddress is the RVA of the function's UNWIND_INFO record.
	UnwindInfoAddress uint32 `json:"unwind_info_address"`
}

// Exception is one parsed entry of the exception directory.
type Exception struct {
	RuntimeFunction ImageRuntimeFunctionEntry `json:"runtime_function"`
}

// Size returns the function's byte length as implied by its two RUNTIME_FUNCTION
// bounds.
func (e Exception) Size() uint32 {
	if e.RuntimeFunction.EndAddress <= e.RuntimeFunction.BeginAddress {
		return 0
	}
	return e.RuntimeFunction.EndAddress - e.RuntimeFunction.BeginAddress
}

// parseExceptionDirectory parses the array of RUNTIME_FUNCTION entries
// pointed to by the IMAGE_DIRECTORY_ENTRY_EXCEPTION data directory. Chained
// and full unwind-code interpretation is not needed: FunctionRecovery only
// consumes (BeginAddress, EndAddress), which RUNTIME_FUNCTION gives directly.
func (img *Image) parseExceptionDirectory() error {
	dir := img.dataDirectory(ImageDirectoryEntryException)
	if dir.VirtualAddress == 0 || dir.Size == 0 {
		return ErrNoExceptionDirectory
	}

	entrySize := uint32(binary.Size(ImageRuntimeFunctionEntry{}))
	count := dir.Size / entrySize

	exceptions := make([]Exception, 0, count)
	for i := uint32(0); i < count; i++ {
		var fn ImageRuntimeFunctionEntry
		offset := dir.VirtualAddress + entrySize*i
		if err := img.structUnpack(&fn, offset, entrySize); err != nil {
			return err
		}
		if fn.BeginAddress == 0 && fn.EndAddress == 0 {
			continue
		}
		exceptions = append(exceptions, Exception{RuntimeFunction: fn})
	}

	img.Exceptions = exceptions
	return nil
}
