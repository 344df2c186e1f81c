// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package preprocessor implements the conditional-directive walk over an
// analyzer.Result (spec.md §4.3): it applies #define/#undef to a
// macro.State, evaluates #if/#elif/#ifdef/#ifndef against it, and
// produces a CacheValue recording exactly what was active, what was
// read, and what the file's own macro-state side effects were.
//
// This is the component the two-tier cache (ppcache) keys its variant
// tier on: CacheValue.ReadSet is the restricted name set fed to
// macro.State.RestrictedFingerprint.
package preprocessor

import (
	"strings"

	"github.com/compiletools/ctdeps/analyzer"
	"github.com/compiletools/ctdeps/condexpr"
	"github.com/compiletools/ctdeps/diag"
	"github.com/compiletools/ctdeps/macro"
)

// IncludeKind classifies how an include's target was spelled.
type IncludeKind int

const (
	IncludeQuoted IncludeKind = iota
	IncludeAngled
	IncludeComputed
)

// Include is one #include (or #include_next) directive the walk found
// active.
type Include struct {
	Line   int
	Kind   IncludeKind
	Target string // header spelling with quotes/brackets stripped
}

// MacroDelta is the net effect this file's #define/#undef directives had
// on one macro name (spec.md §4.3's defines_delta).
type MacroDelta struct {
	Name    string
	Defined bool // false means the name ended up undefined/masked
	Macro   macro.Macro
}

// CacheValue is the durable result of preprocessing one file against one
// macro.State: everything downstream components (hunter, ppcache) need,
// without re-walking the directive list.
type CacheValue struct {
	ActiveLines    []int // line numbers of the live #define/#undef/#include/#pragma once directives
	ActiveIncludes []Include
	ActiveMagic    []analyzer.MagicToken
	DefinesDelta   []MacroDelta
	ReadSet        map[string]bool // names actually consulted (short-circuit minimal)
	PragmaOnce     bool

	Diagnostics diag.List
}

// frame is one level of the #if/#elif/#else/#endif stack.
type frame struct {
	enclosingActive bool
	taken           bool // some branch in this chain already matched
	branchActive    bool // the currently selected branch is live
}

func (f frame) active() bool { return f.enclosingActive && f.branchActive }

// Run walks r's directives against state, mutating state in place (its
// variable partition accumulates this file's #define/#undef effects) and
// returns the resulting CacheValue.
func Run(r *analyzer.Result, state *macro.State) *CacheValue {
	cv := &CacheValue{ReadSet: make(map[string]bool)}
	var stack []frame
	touched := make(map[string]bool) // preserves first-touched order
	var touchedOrder []string

	currentActive := func() bool {
		if len(stack) == 0 {
			return true
		}
		return stack[len(stack)-1].active()
	}
	markTouched := func(name string) {
		if !touched[name] {
			touched[name] = true
			touchedOrder = append(touchedOrder, name)
		}
	}
	recordReads := func(names map[string]bool) {
		for n := range names {
			cv.ReadSet[n] = true
		}
	}
	evalCond := func(expr string) bool {
		res, err := condexpr.Eval(expr, func(name string) (int64, bool) {
			v := state.Lookup(name)
			if !v.Defined {
				return 0, false
			}
			return macroIntValue(v.Macro), true
		})
		if err != nil {
			cv.Diagnostics.Errorf("", 0, diag.TagMalformedExpr, "malformed #if expression %q: %v", expr, err)
			return false
		}
		recordReads(res.ReadSet)
		return res.Value != 0
	}

	magicIdx := 0
	consumeMagicBefore := func(line int) {
		for magicIdx < len(r.MagicTokens) && r.MagicTokens[magicIdx].Line < line {
			if currentActive() {
				cv.ActiveMagic = append(cv.ActiveMagic, r.MagicTokens[magicIdx])
			}
			magicIdx++
		}
	}

	for _, d := range r.Directives {
		consumeMagicBefore(d.Line)
		active := currentActive()
		switch d.Kind {
		case analyzer.DirIf:
			var branchActive bool
			if active {
				branchActive = evalCond(d.Payload)
			}
			stack = append(stack, frame{enclosingActive: active, taken: branchActive, branchActive: branchActive})

		case analyzer.DirIfdef, analyzer.DirIfndef:
			name := d.Payload
			var branchActive bool
			if active {
				cv.ReadSet[name] = true
				defined := state.Defined(name)
				if d.Kind == analyzer.DirIfndef {
					defined = !defined
				}
				branchActive = defined
			}
			stack = append(stack, frame{enclosingActive: active, taken: branchActive, branchActive: branchActive})

		case analyzer.DirElif:
			if len(stack) == 0 {
				cv.Diagnostics.Errorf("", d.Line, diag.TagStrayElse, "#elif without matching #if")
				continue
			}
			top := &stack[len(stack)-1]
			if top.enclosingActive && !top.taken {
				v := evalCond(d.Payload)
				top.branchActive = v
				top.taken = top.taken || v
			} else {
				top.branchActive = false
			}

		case analyzer.DirElse:
			if len(stack) == 0 {
				cv.Diagnostics.Errorf("", d.Line, diag.TagStrayElse, "#else without matching #if")
				continue
			}
			top := &stack[len(stack)-1]
			top.branchActive = top.enclosingActive && !top.taken
			top.taken = true

		case analyzer.DirEndif:
			if len(stack) == 0 {
				cv.Diagnostics.Errorf("", d.Line, diag.TagUnbalancedEndif, "#endif without matching #if")
				continue
			}
			stack = stack[:len(stack)-1]

		case analyzer.DirDefine:
			if !active {
				continue
			}
			m := parseDefine(d.Payload)
			state.Define(m)
			markTouched(m.Name)
			cv.ActiveLines = append(cv.ActiveLines, d.Line)

		case analyzer.DirUndef:
			if !active {
				continue
			}
			state.Undef(d.Payload)
			markTouched(d.Payload)
			cv.ActiveLines = append(cv.ActiveLines, d.Line)

		case analyzer.DirInclude, analyzer.DirIncludeComputed:
			if !active {
				continue
			}
			cv.ActiveLines = append(cv.ActiveLines, d.Line)
			cv.ActiveIncludes = append(cv.ActiveIncludes, resolveInclude(d, state, cv))

		case analyzer.DirPragmaOnce:
			if active {
				cv.PragmaOnce = true
				cv.ActiveLines = append(cv.ActiveLines, d.Line)
			}
		}
	}

	// Flush any magic tokens trailing the last directive (or, if there
	// were no directives at all, every token in the file).
	consumeMagicBefore(1 << 30)

	for _, name := range touchedOrder {
		v := state.Lookup(name)
		cv.DefinesDelta = append(cv.DefinesDelta, MacroDelta{Name: name, Defined: v.Defined, Macro: v.Macro})
	}

	return cv
}

// macroIntValue best-effort parses an object-like macro body as an
// integer for use in #if/#elif arithmetic; non-numeric or function-like
// macros evaluate to 0, matching a non-constant token's effective value
// once stripped of conditional context. Identifiers inside the body are
// not expanded further: each counts as 0, so "#define A B" evaluates A
// to 0 whatever B is.
func macroIntValue(m macro.Macro) int64 {
	if m.IsFunctionLike() || len(m.Body) == 0 {
		return 0
	}
	res, err := condexpr.Eval(strings.Join(m.Body, " "), func(string) (int64, bool) { return 0, false })
	if err != nil {
		return 0
	}
	return res.Value
}

// parseDefine parses a #define directive's payload ("NAME body..." or
// "NAME(params) body...") into a macro.Macro.
func parseDefine(payload string) macro.Macro {
	payload = strings.TrimSpace(payload)
	name, rest := splitIdent(payload)
	if name == "" {
		return macro.Macro{}
	}
	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end >= 0 {
			paramList := rest[1:end]
			var params []string
			if strings.TrimSpace(paramList) != "" {
				for _, p := range strings.Split(paramList, ",") {
					params = append(params, strings.TrimSpace(p))
				}
			} else {
				params = []string{}
			}
			body := strings.Fields(rest[end+1:])
			return macro.Macro{Name: name, Params: params, Body: body}
		}
	}
	body := strings.Fields(rest)
	return macro.Macro{Name: name, Body: body}
}

func splitIdent(s string) (ident, remainder string) {
	i := 0
	for i < len(s) && (s[i] == '_' || (s[i] >= 'A' && s[i] <= 'Z') || (s[i] >= 'a' && s[i] <= 'z') || (i > 0 && s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	return s[:i], s[i:]
}

// resolveInclude turns a Directive's raw payload into an Include,
// expanding a computed include's identifier through state when it
// resolves to a single string-literal-bodied object-like macro.
func resolveInclude(d analyzer.Directive, state *macro.State, cv *CacheValue) Include {
	if d.Kind == analyzer.DirInclude {
		return Include{Line: d.Line, Kind: includeKindOf(d.Payload), Target: stripDelimiters(d.Payload)}
	}
	// Computed include: resolve a bare identifier through the macro
	// state if possible (spec.md's S2 scenario).
	expr := strings.TrimSpace(d.Payload)
	if name, rest := splitIdent(expr); name != "" && rest == "" {
		cv.ReadSet[name] = true
		if v := state.Lookup(name); v.Defined && !v.Macro.IsFunctionLike() && len(v.Macro.Body) == 1 {
			return Include{Line: d.Line, Kind: IncludeComputed, Target: stripDelimiters(v.Macro.Body[0])}
		}
	} else {
		for _, name := range identifiersIn(expr) {
			cv.ReadSet[name] = true
		}
	}
	cv.Diagnostics.Warnf("", d.Line, diag.TagComputedIncludeEmpty, "could not resolve computed #include %s", d.Payload)
	return Include{Line: d.Line, Kind: IncludeComputed, Target: ""}
}

func includeKindOf(payload string) IncludeKind {
	if strings.HasPrefix(payload, "\"") {
		return IncludeQuoted
	}
	return IncludeAngled
}

// identifiersIn extracts identifier tokens from a non-bare computed-
// include expression, for read-set purposes only.
func identifiersIn(expr string) []string {
	var names []string
	i := 0
	for i < len(expr) {
		if expr[i] != '_' && !(expr[i] >= 'A' && expr[i] <= 'Z') && !(expr[i] >= 'a' && expr[i] <= 'z') {
			i++
			continue
		}
		name, rest := splitIdent(expr[i:])
		names = append(names, name)
		i += len(expr[i:]) - len(rest)
	}
	return names
}

func stripDelimiters(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '<' && s[len(s)-1] == '>') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

