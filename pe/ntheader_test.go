// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package pe

import "testing"

func TestParseNTHeaderOK(t *testing.T) {
	img, err := Parse(buildImage(defaultBuildConfig()), nil)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	if img.NTHeader.Signature != ImageNTSignature {
		t.Errorf("Signature = %#x, want %#x", img.NTHeader.Signature, ImageNTSignature)
	}
	if !img.Is64() {
		t.Error("Is64() = false, want true")
	}
	if img.NTHeader.OptionalHeader.ImageBase != 0x140000000 {
		t.Errorf("ImageBase = %#x, want %#x", img.NTHeader.OptionalHeader.ImageBase, 0x140000000)
	}
	if img.NTHeader.FileHeader.NumberOfSections != 1 {
		t.Errorf("NumberOfSections = %d, want 1", img.NTHeader.FileHeader.NumberOfSections)
	}
}

func TestParseNTHeaderBadSignature(t *testing.T) {
	cfg := defaultBuildConfig()
	cfg.omitPESignature = true
	_, err := Parse(buildImage(cfg), nil)
	if err != ErrImageNtSignatureNotFound {
		t.Fatalf("Parse() error = %v, want %v", err, ErrImageNtSignatureNotFound)
	}
}

func TestParseNTHeaderUnsupportedMachine(t *testing.T) {
	cfg := defaultBuildConfig()
	cfg.machine = 0x014c // IMAGE_FILE_MACHINE_I386
	_, err := Parse(buildImage(cfg), nil)
	if err != ErrUnsupportedMachine {
		t.Fatalf("Parse() error = %v, want %v", err, ErrUnsupportedMachine)
	}
}

func TestParseNTHeaderBadOptionalMagic(t *testing.T) {
	cfg := defaultBuildConfig()
	cfg.optMagic = 0x010b // PE32, not PE32+
	_, err := Parse(buildImage(cfg), nil)
	if err != ErrImageNtOptionalHeaderMagicNotFound {
		t.Fatalf("Parse() error = %v, want %v", err, ErrImageNtOptionalHeaderMagicNotFound)
	}
}

func TestDataDirectoryOutOfRange(t *testing.T) {
	img, err := Parse(buildImage(defaultBuildConfig()), nil)
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}
	dd := img.dataDirectory(ImageDirectoryEntry(999))
	if dd != (DataDirectory{}) {
		t.Errorf("dataDirectory(999) = %+v, want zero value", dd)
	}
}
