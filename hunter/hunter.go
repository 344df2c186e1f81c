// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package hunter implements the header-dependency walker (spec.md §4.6):
// given a seed translation-unit file, it computes closure(seed) — every
// header transitively reachable through active #include directives,
// plus any "implied source" files a reached header pulls in — while
// accumulating magic-flag annotations in traversal order and guarding
// against include cycles.
package hunter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/compiletools/ctdeps/analyzer"
	"github.com/compiletools/ctdeps/content"
	"github.com/compiletools/ctdeps/diag"
	"github.com/compiletools/ctdeps/macro"
	"github.com/compiletools/ctdeps/o11y/trace"
	"github.com/compiletools/ctdeps/ppcache"
	"github.com/compiletools/ctdeps/preprocessor"
)

// maxDepth bounds the traversal against pathological or maliciously
// cyclic include graphs that slip past the visited-set guard (e.g. a
// computed include whose target differs by a trailing macro expansion
// each time); ordinary C/C++ projects never approach it.
const maxDepth = 512

// impliedSourceExts are the suffixes tried, in order, when looking for a
// header's implied implementation file.
var impliedSourceExts = []string{".cpp", ".cc", ".cxx", ".c"}

// SearchPath is the tiered include-directory configuration spec.md §4.6
// requires: quoted includes search the including file's own directory,
// then -iquote dirs, then -I dirs, then -isystem dirs; angled includes
// skip the first two tiers.
type SearchPath struct {
	Quote   []string // -iquote: quoted-include-only search dirs
	Include []string // -I: searched for both quoted (after Quote) and angled includes
	ISystem []string // -isystem: searched last, for both include forms
}

func (sp SearchPath) tiersFor(kind preprocessor.IncludeKind, includingDir string) [][]string {
	switch kind {
	case preprocessor.IncludeQuoted:
		return [][]string{{includingDir}, sp.Quote, sp.Include, sp.ISystem}
	default: // angled or computed
		return [][]string{sp.Include, sp.ISystem}
	}
}

// Hunter walks include closures over a shared content.Registry and
// ppcache.Cache.
type Hunter struct {
	Registry *content.Registry
	Cache    *ppcache.Cache
	Core     map[string]macro.Macro // base builtin macro set for every run
	Search   SearchPath

	// Root, if non-empty, bounds implied-source discovery and relative
	// include resolution to paths under it: a resolved path outside Root
	// is treated as unresolved rather than followed (original_source's
	// ct/git_utils.py project-root boundary, spec.md §9).
	Root string
}

// New creates a Hunter sharing reg and cache, which callers typically
// share across an entire engine run so the invariant/variant caches
// amortize across translation units.
func New(reg *content.Registry, cache *ppcache.Cache, core map[string]macro.Macro, search SearchPath) *Hunter {
	return &Hunter{Registry: reg, Cache: cache, Core: core, Search: search}
}

// withinRoot reports whether path is acceptable given h.Root: true when
// Root is unset, or path lies at or under Root.
func (h *Hunter) withinRoot(path string) bool {
	if h.Root == "" {
		return true
	}
	rel, err := filepath.Rel(h.Root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Result is the output of one Closure walk.
type Result struct {
	Files          []string // every file visited, in traversal (discovery) order, seed first
	ImpliedSources []string // subset of Files discovered via implied-source matching, not #include
	MagicFlags     []analyzer.MagicToken
	Diagnostics    diag.List
}

// Closure computes closure(seed): every header (and implied source)
// transitively reachable from seed, given the hunter's search path and
// base macro set.
func (h *Hunter) Closure(ctx context.Context, seed string) (*Result, error) {
	ctx, span := trace.NewSpan(ctx, "hunter.Closure")
	defer span.Close(nil)

	seedAbs, err := filepath.Abs(seed)
	if err != nil {
		return nil, fmt.Errorf("hunter: %w", err)
	}

	// initial is the translation unit's pristine starting state, kept
	// untouched for implied-source walks (spec.md §4.6: "The implied
	// source is preprocessed with the same initial MacroState as the
	// translation unit, not with the header's post-state"); state is the
	// separate, mutable instance the main include chain threads forward.
	w := &walker{
		h:       h,
		state:   macro.NewState(h.Core),
		initial: macro.NewState(h.Core),
		visited: make(map[string]bool),
		res:     &Result{},
	}
	w.walk(ctx, seedAbs, false, 0)
	return w.res, nil
}

// ClosureDirect computes the same reachability set as Closure but
// without conditional evaluation: every #include/#include_next the
// analyzer sees is followed regardless of its enclosing #if/#ifdef
// state (spec.md §6's --headerdeps=direct, a fast, over-approximate
// strategy with no macro.State or ppcache involvement at all — it never
// resolves computed includes, since those require macro expansion).
func (h *Hunter) ClosureDirect(ctx context.Context, seed string) (*Result, error) {
	ctx, span := trace.NewSpan(ctx, "hunter.ClosureDirect")
	defer span.Close(nil)

	seedAbs, err := filepath.Abs(seed)
	if err != nil {
		return nil, fmt.Errorf("hunter: %w", err)
	}

	res := &Result{}
	visited := make(map[string]bool)
	var walk func(path string, depth int)
	walk = func(path string, depth int) {
		if visited[path] || depth > maxDepth {
			return
		}
		visited[path] = true
		fc, err := h.Registry.Load(ctx, path)
		if err != nil {
			res.Diagnostics.Warnf(path, 0, diag.TagIncludeNotFound, "cannot read %s: %v", path, err)
			return
		}
		res.Files = append(res.Files, path)
		ar := analyzer.Analyze(ctx, fc)
		res.Diagnostics.Merge(&ar.Diagnostics)
		res.MagicFlags = append(res.MagicFlags, ar.MagicTokens...)

		includingDir := filepath.Dir(path)
		for _, d := range ar.Directives {
			if d.Kind != analyzer.DirInclude && d.Kind != analyzer.DirIncludeComputed {
				continue
			}
			if d.Kind == analyzer.DirIncludeComputed {
				// No macro state to resolve against in direct mode.
				continue
			}
			target := d.Payload
			kind := preprocessor.IncludeAngled
			if len(target) > 0 && target[0] == '"' {
				kind = preprocessor.IncludeQuoted
			}
			if len(target) >= 2 {
				target = target[1 : len(target)-1]
			}
			resolved, ok := h.resolve(kind, target, includingDir)
			if !ok {
				res.Diagnostics.Warnf(path, d.Line, diag.TagIncludeNotFound, "cannot resolve include %q", target)
				continue
			}
			walk(resolved, depth+1)
		}

		for _, src := range impliedSourcePaths(path) {
			if fileExists(src) && h.withinRoot(src) && !visited[src] {
				res.ImpliedSources = append(res.ImpliedSources, src)
				walk(src, depth+1)
			}
		}
	}
	walk(seedAbs, 0)
	return res, nil
}

type walker struct {
	h       *Hunter
	state   *macro.State
	initial *macro.State // pristine TU-start state; never mutated, only snapshotted
	visited map[string]bool
	res     *Result
}

func (w *walker) walk(ctx context.Context, path string, implied bool, depth int) {
	if w.visited[path] {
		return
	}
	if depth > maxDepth {
		w.res.Diagnostics.Errorf(path, 0, diag.TagCycleDepthExceeded, "include depth exceeded %d, stopping traversal", maxDepth)
		return
	}
	w.visited[path] = true

	fc, err := w.h.Registry.Load(ctx, path)
	if err != nil {
		w.res.Diagnostics.Warnf(path, 0, diag.TagIncludeNotFound, "cannot read %s: %v", path, err)
		return
	}
	w.res.Files = append(w.res.Files, path)
	if implied {
		w.res.ImpliedSources = append(w.res.ImpliedSources, path)
	}

	ar, cv := w.h.Cache.Get(ctx, fc, w.state)
	w.res.Diagnostics.Merge(&ar.Diagnostics)
	if cv == nil {
		return
	}
	w.res.Diagnostics.Merge(&cv.Diagnostics)
	w.res.MagicFlags = append(w.res.MagicFlags, cv.ActiveMagic...)

	// Replace, don't merge: apply this file's own delta against the
	// shared running state wholesale (ppcache's package doc explains why).
	for _, d := range cv.DefinesDelta {
		if d.Defined {
			w.state.Define(d.Macro)
		} else {
			w.state.Undef(d.Name)
		}
	}

	includingDir := filepath.Dir(path)
	for _, inc := range cv.ActiveIncludes {
		if inc.Target == "" {
			continue
		}
		resolved, ok := w.h.resolve(inc.Kind, inc.Target, includingDir)
		if !ok {
			w.res.Diagnostics.Warnf(path, inc.Line, diag.TagIncludeNotFound, "cannot resolve include %q", inc.Target)
			continue
		}
		w.walk(ctx, resolved, false, depth+1)
	}

	for _, src := range impliedSourcePaths(path) {
		if fileExists(src) && w.h.withinRoot(src) {
			// A fresh walker over a snapshot of the TU's pristine initial
			// state, not w.state: the implied source is a sibling
			// translation unit in its own right and must not inherit
			// macro definitions accumulated while walking down to the
			// header that implied it.
			sub := &walker{h: w.h, state: w.initial.Snapshot(), initial: w.initial, visited: w.visited, res: w.res}
			sub.walk(ctx, src, true, depth+1)
		}
	}
}

// resolve finds target on disk by walking kind's search-path tiers in
// order, returning the first hit.
func (h *Hunter) resolve(kind preprocessor.IncludeKind, target, includingDir string) (string, bool) {
	if filepath.IsAbs(target) {
		if fileExists(target) && h.withinRoot(target) {
			return target, true
		}
		return "", false
	}
	for _, tier := range h.Search.tiersFor(kind, includingDir) {
		for _, dir := range tier {
			if dir == "" {
				continue
			}
			candidate := filepath.Join(dir, target)
			if fileExists(candidate) && h.withinRoot(candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

// impliedSourcePaths returns the candidate implementation-file paths for
// a header at path (spec.md §4.6's implied-source discovery): the same
// base name, same directory, with a source extension instead of path's
// own.
func impliedSourcePaths(path string) []string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	var out []string
	for _, srcExt := range impliedSourceExts {
		if srcExt == ext {
			continue
		}
		out = append(out, base+srcExt)
	}
	return out
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
