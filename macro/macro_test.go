// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package macro_test

import (
	"testing"

	"github.com/compiletools/ctdeps/macro"
)

func TestUndefMasksCoreBuiltin(t *testing.T) {
	core := map[string]macro.Macro{
		"__GNUC__": {Name: "__GNUC__", Body: []string{"4"}, IsBuiltin: true},
	}
	s := macro.NewState(core)
	if !s.Defined("__GNUC__") {
		t.Fatal("expected __GNUC__ defined from core")
	}
	s.Undef("__GNUC__")
	if s.Defined("__GNUC__") {
		t.Fatal("expected __GNUC__ undefined after Undef")
	}
	s.Define(macro.Macro{Name: "__GNUC__", Body: []string{"9"}})
	if !s.Defined("__GNUC__") {
		t.Fatal("expected __GNUC__ defined again after redefine")
	}
}

func TestUndefThenFileCSeesItUndefined(t *testing.T) {
	// Mirrors S1/S3 of spec.md §8: file A defines M, file B undefs it;
	// file C included after B must see M undefined.
	s := macro.NewState(nil)
	s.Define(macro.Macro{Name: "TEMP_BUFFER_SIZE", Body: []string{"1024"}})
	if !s.Defined("TEMP_BUFFER_SIZE") {
		t.Fatal("expected defined after A")
	}
	s.Undef("TEMP_BUFFER_SIZE")
	if s.Defined("TEMP_BUFFER_SIZE") {
		t.Fatal("expected undefined after B's #undef")
	}
}

func TestRestrictedFingerprintIgnoresUnrelatedMacros(t *testing.T) {
	s1 := macro.NewState(nil)
	s1.Define(macro.Macro{Name: "A", Body: []string{"1"}})
	s1.Define(macro.Macro{Name: "B", Body: []string{"1"}})

	s2 := macro.NewState(nil)
	s2.Define(macro.Macro{Name: "A", Body: []string{"1"}})
	s2.Define(macro.Macro{Name: "B", Body: []string{"2"}}) // differs, but unread

	fp1 := s1.RestrictedFingerprint([]string{"A"})
	fp2 := s2.RestrictedFingerprint([]string{"A"})
	if fp1 != fp2 {
		t.Fatalf("fingerprint should ignore names outside the read set: %v != %v", fp1, fp2)
	}
}

func TestRestrictedFingerprintOrderIndependent(t *testing.T) {
	s := macro.NewState(nil)
	s.Define(macro.Macro{Name: "A", Body: []string{"1"}})
	s.Define(macro.Macro{Name: "B", Body: []string{"2"}})

	fp1 := s.RestrictedFingerprint([]string{"A", "B"})
	fp2 := s.RestrictedFingerprint([]string{"B", "A"})
	if fp1 != fp2 {
		t.Fatal("fingerprint must not depend on the order names were passed in")
	}
}

func TestRestrictedFingerprintDistinguishesUndefFromUnset(t *testing.T) {
	core := map[string]macro.Macro{
		"M": {Name: "M", Body: []string{"1"}, IsBuiltin: true},
	}
	masked := macro.NewState(core)
	masked.Undef("M")

	never := macro.NewState(nil) // M never existed here

	if masked.RestrictedFingerprint([]string{"M"}) == never.RestrictedFingerprint([]string{"M"}) {
		t.Fatal("a masked builtin must fingerprint differently from a name that was never defined")
	}
}
