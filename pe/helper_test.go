// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func TestReadUint32(t *testing.T) {
	img, err := Parse(buildImage(defaultBuildConfig()), nil)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	v, err := img.readUint32(0x1000)
	if err != nil {
		t.Fatalf("readUint32() failed: %v", err)
	}
	// Little-endian read of the function's first four bytes, 55 48 89 E5.
	if want := uint32(0xE5894855); v != want {
		t.Errorf("readUint32(0x1000) = %#x, want %#x", v, want)
	}

	if _, err := img.readUint32(img.size); err != ErrOutsideBoundary {
		t.Errorf("readUint32() past the snapshot error = %v, want %v", err, ErrOutsideBoundary)
	}
}

func TestReadBytesAtOffset(t *testing.T) {
	img, err := Parse(buildImage(defaultBuildConfig()), nil)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	b, err := img.readBytesAtOffset(0x1000, 4)
	if err != nil {
		t.Fatalf("readBytesAtOffset() failed: %v", err)
	}
	want := []byte{0x55, 0x48, 0x89, 0xE5}
	for i := range want {
		if b[i] != want[i] {
			t.Errorf("readBytesAtOffset()[%d] = %#x, want %#x", i, b[i], want[i])
		}
	}

	if _, err := img.readBytesAtOffset(img.size-1, 8); err != ErrOutsideBoundary {
		t.Errorf("readBytesAtOffset() past the snapshot error = %v, want %v", err, ErrOutsideBoundary)
	}
}

func TestDecodeUTF16String(t *testing.T) {
	// "ab" encoded as UTF-16LE, NUL terminated.
	b := []byte{'a', 0, 'b', 0, 0, 0}
	s, err := DecodeUTF16String(b)
	if err != nil {
		t.Fatalf("DecodeUTF16String() failed: %v", err)
	}
	if s != "ab" {
		t.Errorf("DecodeUTF16String() = %q, want %q", s, "ab")
	}
}

func TestIsBitSet(t *testing.T) {
	var n uint64 = 0b1010
	if !IsBitSet(n, 1) {
		t.Error("IsBitSet(0b1010, 1) = false, want true")
	}
	if IsBitSet(n, 0) {
		t.Error("IsBitSet(0b1010, 0) = true, want false")
	}
}
