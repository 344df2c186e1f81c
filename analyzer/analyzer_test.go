// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package analyzer_test

import (
	"context"
	"testing"

	"github.com/compiletools/ctdeps/analyzer"
	"github.com/compiletools/ctdeps/content"
)

func analyze(t *testing.T, src string) *analyzer.Result {
	t.Helper()
	reg := content.NewRegistry()
	fc := reg.Intern("test.cpp", []byte(src))
	return analyzer.Analyze(context.Background(), fc)
}

func TestDirectivesAndMagicFlags(t *testing.T) {
	src := `#include "foo.h"
#include <vector>
#define PLATFORM_HEADER "linux/cfg.h"
#include PLATFORM_HEADER
//#CXXFLAGS=-DUSE_MODERN
#if VER < 2
//#CXXFLAGS=-DUSE_LEGACY
#else
//#CXXFLAGS=-DUSE_MODERN2
#endif
#undef VER
`
	r := analyze(t, src)

	wantKinds := []analyzer.DirectiveKind{
		analyzer.DirInclude,
		analyzer.DirInclude,
		analyzer.DirDefine,
		analyzer.DirIncludeComputed,
		analyzer.DirIf,
		analyzer.DirElse,
		analyzer.DirEndif,
		analyzer.DirUndef,
	}
	if len(r.Directives) != len(wantKinds) {
		t.Fatalf("got %d directives, want %d: %+v", len(r.Directives), len(wantKinds), r.Directives)
	}
	for i, k := range wantKinds {
		if r.Directives[i].Kind != k {
			t.Errorf("directive[%d].Kind = %v, want %v", i, r.Directives[i].Kind, k)
		}
	}

	if len(r.MagicTokens) != 3 {
		t.Fatalf("got %d magic tokens, want 3: %+v", len(r.MagicTokens), r.MagicTokens)
	}
	if r.MagicTokens[0].Key != "CXXFLAGS" || r.MagicTokens[0].Value != "-DUSE_MODERN" {
		t.Errorf("magic[0] = %+v", r.MagicTokens[0])
	}

	if !r.ReferencedMacros["VER"] {
		t.Error("expected VER in referenced macros (from #if VER < 2)")
	}
	if !r.ReferencedMacros["PLATFORM_HEADER"] {
		t.Error("expected PLATFORM_HEADER in referenced macros (from computed include)")
	}
	if !r.DefinedMacros["PLATFORM_HEADER"] {
		t.Error("expected PLATFORM_HEADER in defined macros (from #define)")
	}
	if !r.DefinedMacros["VER"] {
		t.Error("expected VER in defined macros (from #undef)")
	}
}

func TestMagicTokenRequiresNoSpaceBeforeHash(t *testing.T) {
	r := analyze(t, "// #CXXFLAGS=-DX\n//#LINKFLAGS=-lfoo\n")
	if len(r.MagicTokens) != 1 {
		t.Fatalf("got %d magic tokens, want 1: %+v", len(r.MagicTokens), r.MagicTokens)
	}
	if r.MagicTokens[0].Key != "LINKFLAGS" {
		t.Errorf("magic[0].Key = %q, want LINKFLAGS", r.MagicTokens[0].Key)
	}
}

func TestStringLiteralsDoNotTriggerDirectives(t *testing.T) {
	r := analyze(t, "const char *s = \"#include <fake.h>\";\n#include <real.h>\n")
	if len(r.Directives) != 1 {
		t.Fatalf("got %d directives, want 1: %+v", len(r.Directives), r.Directives)
	}
	if r.Directives[0].Payload != "<real.h>" {
		t.Errorf("Payload = %q, want <real.h>", r.Directives[0].Payload)
	}
}

func TestBlockCommentHidesDirective(t *testing.T) {
	r := analyze(t, "/*\n#include <hidden.h>\n*/\n#include <visible.h>\n")
	if len(r.Directives) != 1 {
		t.Fatalf("got %d directives, want 1: %+v", len(r.Directives), r.Directives)
	}
	if r.Directives[0].Payload != "<visible.h>" {
		t.Errorf("Payload = %q, want <visible.h>", r.Directives[0].Payload)
	}
}

func TestUnterminatedBlockCommentDiagnostic(t *testing.T) {
	r := analyze(t, "/* never closes\n#include <x.h>\n")
	if len(r.Directives) != 0 {
		t.Errorf("expected directive inside unterminated comment to be hidden, got %+v", r.Directives)
	}
	if len(r.Diagnostics.Items()) == 0 {
		t.Fatal("expected an unterminated-comment diagnostic")
	}
}

func TestLineContinuationJoinsDirectivePayload(t *testing.T) {
	r := analyze(t, "#define LONG_MACRO \\\n  1 + \\\n  2\n")
	if len(r.Directives) != 1 {
		t.Fatalf("got %d directives, want 1", len(r.Directives))
	}
	if r.Directives[0].Kind != analyzer.DirDefine {
		t.Fatalf("Kind = %v, want DirDefine", r.Directives[0].Kind)
	}
}

func TestUnknownDirectiveDiagnostic(t *testing.T) {
	r := analyze(t, "#bogus foo\n")
	if len(r.Directives) != 0 {
		t.Errorf("expected no Directive for unknown keyword, got %+v", r.Directives)
	}
	items := r.Diagnostics.Items()
	if len(items) != 1 || items[0].Tag != "unknown-directive" {
		t.Fatalf("expected one unknown-directive diagnostic, got %+v", items)
	}
}

func TestPragmaOnceRecognizedOtherPragmasIgnored(t *testing.T) {
	r := analyze(t, "#pragma once\n#pragma message(\"hi\")\n")
	if len(r.Directives) != 1 || r.Directives[0].Kind != analyzer.DirPragmaOnce {
		t.Fatalf("got %+v, want exactly one pragma_once directive", r.Directives)
	}
}

func TestShortCircuitedOperandStillInSyntacticReferencedSet(t *testing.T) {
	// The analyzer records the syntactic superset; short-circuit
	// minimality itself is a property of the evaluator (condexpr), not
	// the analyzer -- both A and B appear here since the analyzer never
	// evaluates.
	r := analyze(t, "#if defined(A) && (B+1)\n#endif\n")
	if !r.ReferencedMacros["A"] || !r.ReferencedMacros["B"] {
		t.Errorf("expected both A and B in the syntactic referenced set: %+v", r.ReferencedMacros)
	}
}
