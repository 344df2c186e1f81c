// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package macro models the C preprocessor's macro environment (spec.md
// §3/§4.4): a two-partition MacroState (immutable compiler built-ins,
// mutable file-defined macros), and the restricted fingerprint that
// keys the variant preprocessing cache.
//
// The original Python implementation (original_source/src/compiletools/
// simple_preprocessor.py, compute_macro_hash) hashes a sorted
// "name=value" join with sha256 truncated to 16 hex chars; this port
// keeps the same "sort by name, hash the joined representation" shape
// but uses the same 128-bit xxh3 digest as content.Hash so both tiers of
// the cache key (content.Hash, macro.Fingerprint) are the same width and
// computed by the same primitive.
package macro

import (
	"sort"
	"strings"

	"github.com/compiletools/ctdeps/content"
)

// Macro is a single macro definition: object-like (Params == nil) or
// function-like (Params holds the parameter list, possibly empty).
type Macro struct {
	Name      string
	Params    []string // nil => object-like; non-nil (incl. empty) => function-like
	Body      []string // body tokens, source order
	IsBuiltin bool
}

// IsFunctionLike reports whether m takes parameters.
func (m Macro) IsFunctionLike() bool {
	return m.Params != nil
}

// bodyKey renders the macro body in a canonical form for fingerprinting:
// stable regardless of how the tokens were produced.
func (m Macro) bodyKey() string {
	var sb strings.Builder
	if m.Params != nil {
		sb.WriteByte('(')
		sb.WriteString(strings.Join(m.Params, ","))
		sb.WriteByte(')')
	}
	sb.WriteByte('=')
	sb.WriteString(strings.Join(m.Body, " "))
	return sb.String()
}

// State is a two-partition macro environment (spec.md §4.4):
//   - core: immutable compiler built-ins, shared across all files in a run.
//   - variable: mutable macros defined by the files being preprocessed.
//
// Lookup checks variable first, then core, unless the name is masked
// (i.e., #undef'd after being a core builtin) in which case it resolves
// to Undefined until a later #define reintroduces it in variable.
type State struct {
	core     map[string]Macro
	variable map[string]Macro
	masked   map[string]bool
}

// NewState creates a State sharing the given core built-ins. core is
// never copied or mutated by State; callers should treat it as
// immutable and share one instance across an entire run.
func NewState(core map[string]Macro) *State {
	return &State{
		core:     core,
		variable: make(map[string]Macro),
		masked:   make(map[string]bool),
	}
}

// Value is the result of a macro lookup.
type Value struct {
	Macro     Macro
	Defined   bool
	Masked    bool // explicitly #undef'd, shadowing a core builtin
}

// Lookup resolves name against variable first, then core (unless masked).
func (s *State) Lookup(name string) Value {
	if m, ok := s.variable[name]; ok {
		return Value{Macro: m, Defined: true}
	}
	if s.masked[name] {
		return Value{Masked: true}
	}
	if m, ok := s.core[name]; ok {
		return Value{Macro: m, Defined: true}
	}
	return Value{}
}

// Defined reports whether name currently resolves to a macro.
func (s *State) Defined(name string) bool {
	return s.Lookup(name).Defined
}

// Define replaces any prior variable-partition entry for m.Name. It
// never touches core, and clears any masked-core marker for the name
// (spec.md §4.4: a later define un-masks a previously #undef'd builtin).
func (s *State) Define(m Macro) {
	s.variable[m.Name] = m
	delete(s.masked, m.Name)
}

// Undef removes name from variable if present; otherwise, if name is a
// core builtin, records a masked-core marker so lookups return
// Undefined for name until a later Define. This is the mechanism that
// makes #undef of a builtin observable at all (spec.md §4.4).
func (s *State) Undef(name string) {
	if _, ok := s.variable[name]; ok {
		delete(s.variable, name)
		return
	}
	if _, ok := s.core[name]; ok {
		s.masked[name] = true
	}
}

// Snapshot returns a cheap clone of s. The clone shares the (immutable)
// core map and copies the smaller variable/masked maps.
func (s *State) Snapshot() *State {
	ns := &State{
		core:     s.core,
		variable: make(map[string]Macro, len(s.variable)),
		masked:   make(map[string]bool, len(s.masked)),
	}
	for k, v := range s.variable {
		ns.variable[k] = v
	}
	for k, v := range s.masked {
		ns.masked[k] = v
	}
	return ns
}

// VariableNames returns the names currently defined (or masked) in the
// variable partition, for diagnostics only; callers must not rely on
// iteration order.
func (s *State) VariableNames() []string {
	names := make([]string, 0, len(s.variable)+len(s.masked))
	for k := range s.variable {
		names = append(names, k)
	}
	for k := range s.masked {
		if _, ok := s.variable[k]; !ok {
			names = append(names, k)
		}
	}
	return names
}

// Fingerprint is the restricted, order-independent digest of a macro
// state's resolved values over a set of names (spec.md §3's "variant
// key"). It depends only on the values for names in the set, never on
// insertion order nor on keys outside the set (spec.md §4.4 invariant).
type Fingerprint = content.Hash

// RestrictedFingerprint computes the Fingerprint of names as Lookup
// resolves them (variable partition first, then core unless masked): for
// each name in names (deduplicated, sorted for determinism), either its
// define/masked/undefined status and body, joined into one canonical
// byte string and hashed with the same 128-bit digest content uses.
func (s *State) RestrictedFingerprint(names []string) Fingerprint {
	uniq := make(map[string]bool, len(names))
	sorted := make([]string, 0, len(names))
	for _, n := range names {
		if !uniq[n] {
			uniq[n] = true
			sorted = append(sorted, n)
		}
	}
	sort.Strings(sorted)

	var sb strings.Builder
	for _, n := range sorted {
		v := s.Lookup(n)
		sb.WriteString(n)
		sb.WriteByte('=')
		switch {
		case v.Masked:
			sb.WriteString("\x00MASKED")
		case v.Defined:
			sb.WriteString(v.Macro.bodyKey())
		default:
			sb.WriteString("\x00UNDEF")
		}
		sb.WriteByte('\x1f')
	}
	return content.HashBytes([]byte(sb.String()))
}
