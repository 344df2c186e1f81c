// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package analyzer implements the file analyzer (spec.md §4.1): a
// single, allocation-light pass over a FileContent's bytes that
// produces directive tokens, magic-annotation tokens, comment spans,
// and the read/write macro-name sets a file's conditional directives
// touch.
//
// The scan style — leading-byte dispatch on '#', '/', '"', '\n' — is
// grounded in the teacher's scandeps/cpp.go CPPScan, generalized from
// its #include/#define-only grammar to the full conditional-directive
// grammar spec.md §4.1 requires (comments, string literals, line
// continuations, and #if/#ifdef/#ifndef/#elif/#else/#endif).
package analyzer

import (
	"context"
	"strings"
	"sync"
	"time"

	log "github.com/golang/glog"

	"github.com/compiletools/ctdeps/content"
	"github.com/compiletools/ctdeps/diag"
	"github.com/compiletools/ctdeps/o11y/clog"
	"github.com/compiletools/ctdeps/o11y/trace"
)

// DirectiveKind classifies a preprocessor directive line.
type DirectiveKind int

// Directive kinds, matching the set enumerated in spec.md §3.
const (
	DirInclude DirectiveKind = iota
	DirIncludeComputed
	DirDefine
	DirUndef
	DirIf
	DirIfdef
	DirIfndef
	DirElif
	DirElse
	DirEndif
	DirPragmaOnce
)

func (k DirectiveKind) String() string {
	switch k {
	case DirInclude:
		return "include"
	case DirIncludeComputed:
		return "include_computed"
	case DirDefine:
		return "define"
	case DirUndef:
		return "undef"
	case DirIf:
		return "if"
	case DirIfdef:
		return "ifdef"
	case DirIfndef:
		return "ifndef"
	case DirElif:
		return "elif"
	case DirElse:
		return "else"
	case DirEndif:
		return "endif"
	case DirPragmaOnce:
		return "pragma_once"
	}
	return "unknown"
}

// Directive is one parsed preprocessor directive.
type Directive struct {
	Line int // 1-based physical line where the directive starts
	Kind DirectiveKind
	// Payload is directive-kind-specific text: the delimited header name
	// ("foo.h" or <foo.h>) for include, the raw expression for
	// include_computed/if/elif, "NAME body..." for define, the macro name
	// for undef/ifdef/ifndef, and "" for else/endif/pragma_once.
	Payload string
}

// MagicToken is one harvested //#KEY=value annotation (spec.md §4.1/§6).
type MagicToken struct {
	Line  int
	Key   string
	Value string
}

// CommentSpan is a byte range [Start, End) to be ignored by later text
// lookups (spec.md §3).
type CommentSpan struct {
	Start, End int
}

// Result is the per-FileContent, content-hash-cacheable output of the
// analyzer (spec.md §3's AnalysisResult).
type Result struct {
	Content *content.FileContent

	Directives  []Directive
	MagicTokens []MagicToken
	Comments    []CommentSpan

	// ReferencedMacros is the read set: macro names appearing in
	// #if/#elif/#ifdef/#ifndef expressions and computed-include
	// expressions.
	ReferencedMacros map[string]bool

	// DefinedMacros is the write set: names #define or #undef appears
	// for.
	DefinedMacros map[string]bool

	Diagnostics diag.List
}

// cache memoizes Result by content hash alone (spec.md §3: "AnalysisResult
// ... immutable, cacheable by content hash alone").
var cache sync.Map // content.Hash -> *Result

// Analyze runs the single-pass scanner over fc, returning its (possibly
// cached) AnalysisResult.
func Analyze(ctx context.Context, fc *content.FileContent) *Result {
	if v, ok := cache.Load(fc.Hash); ok {
		return v.(*Result)
	}
	ctx, span := trace.NewSpan(ctx, "analyzer.Analyze")
	defer span.Close(nil)
	started := time.Now()

	r := scanFile(ctx, fc)
	actual, loaded := cache.LoadOrStore(fc.Hash, r)
	if loaded {
		return actual.(*Result)
	}
	if dur := time.Since(started); dur > time.Second {
		clog.Infof(ctx, "slow analyze %s %s", fc.Path, dur)
	}
	return r
}

type scanState int

const (
	stCode scanState = iota
	stLineComment
	stBlockComment
	stString
	stChar
)

// scanFile performs the single linear byte scan described in spec.md
// §4.1.
func scanFile(ctx context.Context, fc *content.FileContent) *Result {
	r := &Result{
		Content:          fc,
		ReferencedMacros: make(map[string]bool),
		DefinedMacros:    make(map[string]bool),
	}
	buf := fc.Bytes

	// Split into physical lines up-front; this is the same information
	// fc.Lines carries, re-derived here as byte slices for convenience.
	var lines [][]byte
	start := 0
	for i := 0; i < len(buf); i++ {
		if buf[i] == '\n' {
			lines = append(lines, buf[start:i])
			start = i + 1
		}
	}
	if start < len(buf) {
		lines = append(lines, buf[start:])
	}

	st := stCode
	commentStartLine := 0
	commentStartByte := 0
	byteOff := 0

	i := 0
	for i < len(lines) {
		lineNo := i + 1
		raw := stripCR(lines[i])
		lineStartByte := byteOff
		byteOff += len(lines[i]) + 1 // + '\n'

		if st == stBlockComment {
			if idx := indexCommentEnd(raw); idx >= 0 {
				r.Comments = append(r.Comments, CommentSpan{Start: commentStartByte, End: lineStartByte + idx + 2})
				raw = raw[idx+2:]
				st = stCode
			} else {
				i++
				continue
			}
		}

		// Scan this physical line for comments/strings/magic tokens and,
		// if not already inside a directive continuation, for a leading
		// '#'. By construction st == stCode here: the block-comment case
		// above either closes it (falls through) or continues the loop.
		lineResult := scanLine(raw, lineNo, lineStartByte)
		r.Comments = append(r.Comments, lineResult.comments...)
		if lineResult.magic != nil {
			r.MagicTokens = append(r.MagicTokens, *lineResult.magic)
		}
		st = lineResult.endState
		if st == stBlockComment {
			commentStartLine = lineNo
			commentStartByte = lineResult.blockCommentStartByte
		}

		if lineResult.directiveStart && st == stCode {
			joined, consumed := joinedDirectiveText(lines, i)
			d, ok := parseDirective(ctx, r, lineNo, joined)
			if ok {
				r.Directives = append(r.Directives, d)
			}
			i += consumed
			continue
		}
		i++
	}

	if st == stBlockComment {
		r.Diagnostics.Warnf(fc.Path, commentStartLine, diag.TagUnterminatedComment, "unterminated /* comment")
	}
	if log.V(2) {
		clog.Infof(ctx, "analyzed %s: %d directives, %d magic tokens", fc.Path, len(r.Directives), len(r.MagicTokens))
	}
	return r
}

func stripCR(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\r' {
		return b[:n-1]
	}
	return b
}

// indexCommentEnd finds "*/" in raw.
func indexCommentEnd(raw []byte) int {
	for i := 0; i+1 < len(raw); i++ {
		if raw[i] == '*' && raw[i+1] == '/' {
			return i
		}
	}
	return -1
}

type lineScanResult struct {
	comments              []CommentSpan
	magic                 *MagicToken
	endState              scanState
	blockCommentStartByte int
	directiveStart        bool
}

// scanLine scans one physical line (already stripped of any block-
// comment prefix it might have started inside) for string/char literal
// spans, "//" and "/*" comments, and a //#KEY=value magic annotation.
// It also reports whether the line (outside of comments/strings) begins
// a directive (first non-whitespace byte is '#').
func scanLine(raw []byte, lineNo, lineStartByte int) lineScanResult {
	var res lineScanResult
	st := stCode
	firstNonSpace := -1
	i := 0
	for i < len(raw) {
		c := raw[i]
		switch st {
		case stString:
			if c == '\\' {
				i += 2
				continue
			}
			if c == '"' {
				st = stCode
			}
			i++
			continue
		case stChar:
			if c == '\\' {
				i += 2
				continue
			}
			if c == '\'' {
				st = stCode
			}
			i++
			continue
		}
		if firstNonSpace < 0 && c != ' ' && c != '\t' {
			firstNonSpace = i
		}
		if c == '"' {
			st = stString
			i++
			continue
		}
		if c == '\'' {
			st = stChar
			i++
			continue
		}
		if c == '/' && i+1 < len(raw) && raw[i+1] == '/' {
			start := lineStartByte + i
			// magic annotation: //#KEY=value, no space between // and #.
			rest := raw[i+2:]
			if len(rest) > 0 && rest[0] == '#' {
				if mt := parseMagicToken(lineNo, rest[1:]); mt != nil {
					res.magic = mt
				}
			}
			res.comments = append(res.comments, CommentSpan{Start: start, End: lineStartByte + len(raw)})
			i = len(raw)
			continue
		}
		if c == '/' && i+1 < len(raw) && raw[i+1] == '*' {
			if idx := indexCommentEnd(raw[i+2:]); idx >= 0 {
				res.comments = append(res.comments, CommentSpan{Start: lineStartByte + i, End: lineStartByte + i + 2 + idx + 2})
				i += 2 + idx + 2
				continue
			}
			st = stBlockComment
			res.blockCommentStartByte = lineStartByte + i
			i = len(raw)
			continue
		}
		i++
	}
	res.endState = st
	res.directiveStart = firstNonSpace >= 0 && raw[firstNonSpace] == '#'
	return res
}

// parseMagicToken parses "KEY=value" (the text right after "//#").
func parseMagicToken(lineNo int, rest []byte) *MagicToken {
	eq := -1
	for i, c := range rest {
		if c == '=' {
			eq = i
			break
		}
		if !(c == '-' || c == '_' || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return nil
		}
	}
	if eq < 0 {
		return nil
	}
	key := string(rest[:eq])
	value := strings.TrimSpace(string(rest[eq+1:]))
	if key == "" {
		return nil
	}
	return &MagicToken{Line: lineNo, Key: key, Value: value}
}

// joinedDirectiveText returns the logical (continuation-joined) text of
// the directive starting at physical line i, and how many physical
// lines it consumed (>= 1).
func joinedDirectiveText(lines [][]byte, i int) (string, int) {
	var sb strings.Builder
	j := i
	for {
		line := stripCR(lines[j])
		if n := len(line); n > 0 && line[n-1] == '\\' {
			sb.Write(line[:n-1])
			j++
			if j >= len(lines) {
				break
			}
			continue
		}
		sb.Write(line)
		break
	}
	return sb.String(), j - i + 1
}
