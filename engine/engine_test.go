// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package engine_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/compiletools/ctdeps/engine"
	"github.com/compiletools/ctdeps/hunter"
	"github.com/compiletools/ctdeps/variant"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProcessAggregatesFlagsAcrossClosure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "dep.h", "//#LINKFLAGS=-ldep\n")
	main := writeFile(t, dir, "main.cpp", "#include \"dep.h\"\n//#CXXFLAGS=-DMAIN\n")

	e := engine.New(engine.Config{
		Profile: variant.Profile{CXXFLAGS: []string{"-O2"}},
		Search:  hunter.SearchPath{Include: []string{dir}},
	})

	res, err := e.Process(context.Background(), main)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("got %d files, want 2: %v", len(res.Files), res.Files)
	}
	if len(res.Flags.CXXFLAGS) != 2 || res.Flags.CXXFLAGS[0] != "-O2" || res.Flags.CXXFLAGS[1] != "-DMAIN" {
		t.Fatalf("CXXFLAGS = %v, want [-O2 -DMAIN]", res.Flags.CXXFLAGS)
	}
	if len(res.Flags.LINKFLAGS) != 1 || res.Flags.LINKFLAGS[0] != "-ldep" {
		t.Fatalf("LINKFLAGS = %v", res.Flags.LINKFLAGS)
	}
}

func TestProcessResolvesExtraPkgConfig(t *testing.T) {
	dir := t.TempDir()
	main := writeFile(t, dir, "main.cpp", "int main() {}\n")

	e := engine.New(engine.Config{
		Search: hunter.SearchPath{Include: []string{dir}},
		PkgConfig: func(ctx context.Context, pkg string) ([]string, []string, error) {
			if pkg != "zlib" {
				t.Fatalf("unexpected package %q", pkg)
			}
			return []string{"-I/usr/include/zlib"}, []string{"-lz"}, nil
		},
		ExtraPkgConfig: []string{"zlib"},
	})

	res, err := e.Process(context.Background(), main)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Flags.CPPFLAGS) != 1 || res.Flags.CPPFLAGS[0] != "-I/usr/include/zlib" {
		t.Fatalf("CPPFLAGS = %v", res.Flags.CPPFLAGS)
	}
	if len(res.Flags.LINKFLAGS) != 1 || res.Flags.LINKFLAGS[0] != "-lz" {
		t.Fatalf("LINKFLAGS = %v", res.Flags.LINKFLAGS)
	}
}

func TestProcessSharesCacheAcrossSeeds(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "common.h", "//#CXXFLAGS=-DCOMMON\n")
	a := writeFile(t, dir, "a.cpp", "#include \"common.h\"\n")
	b := writeFile(t, dir, "b.cpp", "#include \"common.h\"\n")

	e := engine.New(engine.Config{Search: hunter.SearchPath{Include: []string{dir}}})

	if _, err := e.Process(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Process(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	// common.h is interned once; a.cpp and b.cpp have identical bytes, so
	// they share one content-hash entry too: the registry holds exactly
	// common.h + {a.cpp, b.cpp}.
	if got := e.Registry.Len(); got != 2 {
		t.Fatalf("Registry.Len() = %d, want 2", got)
	}
}
