// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package engine owns the single Engine value a ct-cppdeps run is built
// around: the shared content registry, the two-tier preprocessing cache,
// the base (core) macro set, and the resolved compiler/search-path
// configuration for the chosen variant. Every hunter.Closure call within
// one run shares the same Engine so the invariant and variant caches
// amortize across translation units (spec.md §5's "no unscoped global
// mutable state" redesign: what the teacher's siso kept as package-level
// globals becomes this explicit value).
package engine

import (
	"context"
	"fmt"

	"github.com/compiletools/ctdeps/analyzer"
	"github.com/compiletools/ctdeps/content"
	"github.com/compiletools/ctdeps/diag"
	"github.com/compiletools/ctdeps/hunter"
	"github.com/compiletools/ctdeps/macro"
	"github.com/compiletools/ctdeps/magicflags"
	"github.com/compiletools/ctdeps/ppcache"
	"github.com/compiletools/ctdeps/variant"
)

// Config is the resolved, immutable configuration one Engine run uses.
type Config struct {
	Profile        variant.Profile
	Search         hunter.SearchPath
	Core           map[string]macro.Macro
	PkgConfig      magicflags.PkgConfigRunner // nil disables PKG-CONFIG resolution
	HeaderDeps     string                     // "direct" or "cpp", spec.md §6's --headerdeps
	ObjDir         string                     // "" disables on-disk variant-cache persistence
	Root           string                     // "" disables the project-root include boundary
	ExtraPkgConfig []string                   // --pkg-config packages resolved for every seed, as if //#PKG-CONFIG= appeared
}

// Engine is the shared, reusable state for one ct-cppdeps invocation: it
// may process many seed files, and all of them share its Registry and
// Cache.
type Engine struct {
	cfg      Config
	Registry *content.Registry
	Cache    *ppcache.Cache
	hunter   *hunter.Hunter
}

// New creates an Engine from cfg, allocating a fresh content registry
// and preprocessing cache shared by all subsequent Process calls.
func New(cfg Config) *Engine {
	reg := content.NewRegistry()
	cache := ppcache.New()
	if cfg.ObjDir != "" {
		cache.SetObjDir(cfg.ObjDir)
	}
	h := hunter.New(reg, cache, cfg.Core, cfg.Search)
	h.Root = cfg.Root
	return &Engine{
		cfg:      cfg,
		Registry: reg,
		Cache:    cache,
		hunter:   h,
	}
}

// Result is the per-seed-file outcome of a Process call.
type Result struct {
	Seed        string
	Files       []string
	Flags       magicflags.Flags
	Diagnostics diag.List
}

// Process computes seed's header-dependency closure and resolves its
// aggregated magic flags, including any PKG-CONFIG annotations (spec.md
// §6's end-to-end per-file operation).
func (e *Engine) Process(ctx context.Context, seed string) (*Result, error) {
	closureFn := e.hunter.Closure
	if e.cfg.HeaderDeps == "direct" {
		closureFn = e.hunter.ClosureDirect
	}
	closure, err := closureFn(ctx, seed)
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", seed, err)
	}
	tokens := closure.MagicFlags
	for _, pkg := range e.cfg.ExtraPkgConfig {
		tokens = append(tokens, analyzer.MagicToken{Key: "PKG-CONFIG", Value: pkg})
	}

	res := &Result{Seed: seed, Files: closure.Files, Diagnostics: closure.Diagnostics}
	res.Flags = magicflags.Resolve(ctx, tokens, e.cfg.PkgConfig, &res.Diagnostics)

	// The variant profile's own base flags are always present,
	// independent of what any file's magic annotations contributed.
	res.Flags.CXXFLAGS = append(append([]string{}, e.cfg.Profile.CXXFLAGS...), res.Flags.CXXFLAGS...)
	res.Flags.CFLAGS = append(append([]string{}, e.cfg.Profile.CFLAGS...), res.Flags.CFLAGS...)
	res.Flags.CPPFLAGS = append(append([]string{}, e.cfg.Profile.CPPFLAGS...), res.Flags.CPPFLAGS...)
	return res, nil
}
