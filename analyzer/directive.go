// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package analyzer

import (
	"context"
	"strings"

	"github.com/compiletools/ctdeps/diag"
)

// parseDirective parses the logical (continuation-joined) directive text
// starting with '#' at lineNo, filling in r's ReferencedMacros/
// DefinedMacros as a side effect. It returns (zero, false) for directives
// that produce no Directive entry: ignored pragmas, and (after recording
// a diagnostic) unrecognized keywords.
func parseDirective(ctx context.Context, r *Result, lineNo int, text string) (Directive, bool) {
	s := strings.TrimSpace(text)
	if s == "" || s[0] != '#' {
		return Directive{}, false
	}
	s = strings.TrimSpace(s[1:])
	kw, rest := splitIdent(s)
	rest = strings.TrimSpace(rest)

	switch kw {
	case "include", "include_next":
		return parseInclude(r, lineNo, rest)
	case "define":
		name, _ := splitIdent(rest)
		if name != "" {
			r.DefinedMacros[name] = true
		}
		return Directive{Line: lineNo, Kind: DirDefine, Payload: rest}, true
	case "undef":
		name, _ := splitIdent(rest)
		if name != "" {
			r.DefinedMacros[name] = true
		}
		return Directive{Line: lineNo, Kind: DirUndef, Payload: name}, true
	case "if":
		addReferencedIdentifiers(r, rest)
		return Directive{Line: lineNo, Kind: DirIf, Payload: rest}, true
	case "elif":
		addReferencedIdentifiers(r, rest)
		return Directive{Line: lineNo, Kind: DirElif, Payload: rest}, true
	case "ifdef":
		name, _ := splitIdent(rest)
		r.ReferencedMacros[name] = true
		return Directive{Line: lineNo, Kind: DirIfdef, Payload: name}, true
	case "ifndef":
		name, _ := splitIdent(rest)
		r.ReferencedMacros[name] = true
		return Directive{Line: lineNo, Kind: DirIfndef, Payload: name}, true
	case "else":
		return Directive{Line: lineNo, Kind: DirElse}, true
	case "endif":
		return Directive{Line: lineNo, Kind: DirEndif}, true
	case "pragma":
		if rest == "once" {
			return Directive{Line: lineNo, Kind: DirPragmaOnce}, true
		}
		// Other pragmas are ignored (spec.md §6).
		return Directive{}, false
	case "":
		// A bare '#' on its own line is a null directive; ignore silently.
		return Directive{}, false
	default:
		r.Diagnostics.Warnf(r.Content.Path, lineNo, diag.TagUnknownDirective, "unknown directive #%s", kw)
		return Directive{}, false
	}
}

func parseInclude(r *Result, lineNo int, rest string) (Directive, bool) {
	if rest == "" {
		return Directive{}, false
	}
	switch rest[0] {
	case '"':
		if end := strings.IndexByte(rest[1:], '"'); end >= 0 {
			return Directive{Line: lineNo, Kind: DirInclude, Payload: rest[:end+2]}, true
		}
	case '<':
		if end := strings.IndexByte(rest[1:], '>'); end >= 0 {
			return Directive{Line: lineNo, Kind: DirInclude, Payload: rest[:end+2]}, true
		}
	}
	if !(rest[0] == '"' || rest[0] == '<') {
		// #include FOO_H or #include SOME_EXPR(...): computed include.
		addReferencedIdentifiers(r, rest)
		return Directive{Line: lineNo, Kind: DirIncludeComputed, Payload: rest}, true
	}
	return Directive{}, false
}

// splitIdent splits s into a leading [A-Za-z_][A-Za-z0-9_]* identifier
// and the remainder.
func splitIdent(s string) (ident, remainder string) {
	n := identLen(s)
	return s[:n], s[n:]
}

func identLen(s string) int {
	if len(s) == 0 || !isIdentStart(s[0]) {
		return 0
	}
	i := 1
	for i < len(s) && isIdentCont(s[i]) {
		i++
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isIdentCont(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// addReferencedIdentifiers extracts identifier tokens from an #if/#elif/
// computed-include expression and records them in r.ReferencedMacros,
// excluding the "defined" operator keyword itself.
func addReferencedIdentifiers(r *Result, expr string) {
	i := 0
	for i < len(expr) {
		if !isIdentStart(expr[i]) {
			i++
			continue
		}
		n := identLen(expr[i:])
		name := expr[i : i+n]
		if name != "defined" {
			r.ReferencedMacros[name] = true
		}
		i += n
	}
}
