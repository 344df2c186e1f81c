// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package magicflags turns a hunter.Result's raw //#KEY=value annotations
// into deduplicated per-category compiler/linker flag lists (spec.md
// §4.7), including shelling out to pkg-config for //#PKG-CONFIG=name
// annotations.
package magicflags

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/compiletools/ctdeps/analyzer"
	"github.com/compiletools/ctdeps/diag"
)

// Flags is the deduplicated-by-category, traversal-ordered result of
// resolving a set of magic tokens.
type Flags struct {
	CXXFLAGS  []string
	CPPFLAGS  []string
	CFLAGS    []string
	LINKFLAGS []string
	LDFLAGS   []string
	Sources   []string     // //#SOURCE=path annotations
	Opaque    []OpaqueFlag // unrecognized //#KEY=value annotations, passed through verbatim
}

// OpaqueFlag is an unrecognized magic-annotation key/value pair carried
// through untouched (spec.md §7: "treat unknown magic key as opaque
// pass-through flag" — the key is caller-defined build-system surface
// this package doesn't otherwise interpret, not a value to discard).
type OpaqueFlag struct {
	Key   string
	Value string
}

// PkgConfigRunner abstracts the external pkg-config invocation so tests
// can substitute a fake without touching the real tool.
type PkgConfigRunner func(ctx context.Context, pkg string) (cflags, libs []string, err error)

// ExecPkgConfig runs the real pkg-config binary, matching the package
// names the original implementation shells out for in
// original_source/src/compiletools/apptools.py.
func ExecPkgConfig(ctx context.Context, pkg string) (cflags, libs []string, err error) {
	cflags, err = runPkgConfig(ctx, pkg, "--cflags")
	if err != nil {
		return nil, nil, err
	}
	libs, err = runPkgConfig(ctx, pkg, "--libs")
	if err != nil {
		return nil, nil, err
	}
	return cflags, libs, nil
}

func runPkgConfig(ctx context.Context, pkg, mode string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "pkg-config", mode, pkg)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("pkg-config %s %s: %w", mode, pkg, err)
	}
	return strings.Fields(string(out)), nil
}

// Resolve aggregates tokens (in traversal order, as produced by
// hunter.Result.MagicFlags) into Flags, deduplicating within each
// category while preserving first-seen order, and resolving any
// PKG-CONFIG tokens through runner.
func Resolve(ctx context.Context, tokens []analyzer.MagicToken, runner PkgConfigRunner, diags *diag.List) Flags {
	var f Flags
	seen := map[string]map[string]bool{}
	add := func(category *[]string, key, value string) {
		if seen[key] == nil {
			seen[key] = make(map[string]bool)
		}
		if seen[key][value] {
			return
		}
		seen[key][value] = true
		*category = append(*category, value)
	}

	for _, tok := range tokens {
		switch tok.Key {
		case "CXXFLAGS":
			add(&f.CXXFLAGS, tok.Key, tok.Value)
		case "CPPFLAGS":
			add(&f.CPPFLAGS, tok.Key, tok.Value)
		case "CFLAGS":
			add(&f.CFLAGS, tok.Key, tok.Value)
		case "LINKFLAGS":
			add(&f.LINKFLAGS, tok.Key, tok.Value)
		case "LDFLAGS":
			add(&f.LDFLAGS, tok.Key, tok.Value)
		case "SOURCE":
			add(&f.Sources, tok.Key, tok.Value)
		case "PKG-CONFIG":
			if runner == nil {
				diags.Warnf("", tok.Line, diag.TagExternalToolFailure, "PKG-CONFIG=%s ignored: no pkg-config runner configured", tok.Value)
				continue
			}
			cflags, libs, err := runner(ctx, tok.Value)
			if err != nil {
				diags.Errorf("", tok.Line, diag.TagExternalToolFailure, "pkg-config %s: %v", tok.Value, err)
				continue
			}
			for _, c := range cflags {
				add(&f.CPPFLAGS, "CPPFLAGS", c)
			}
			for _, l := range libs {
				add(&f.LINKFLAGS, "LINKFLAGS", l)
			}
		default:
			diags.Warnf("", tok.Line, diag.TagUnknownDirective, "unrecognized magic flag key %q, passing through opaquely", tok.Key)
			if seen["OPAQUE:"+tok.Key] == nil {
				seen["OPAQUE:"+tok.Key] = make(map[string]bool)
			}
			if !seen["OPAQUE:"+tok.Key][tok.Value] {
				seen["OPAQUE:"+tok.Key][tok.Value] = true
				f.Opaque = append(f.Opaque, OpaqueFlag{Key: tok.Key, Value: tok.Value})
			}
		}
	}
	return f
}
