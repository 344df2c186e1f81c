// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package diag defines the structured diagnostics produced by the
// analysis engine (spec.md §7): unterminated comments, unbalanced
// conditionals, malformed expressions, missing includes and the like.
// None of these abort a run; they are collected and returned alongside
// whatever partial result the engine could still produce.
package diag

import "fmt"

// Severity is how serious a Diagnostic is.
type Severity int

// Severities, from informational to fatal-for-the-translation-unit.
const (
	SeverityWarning Severity = iota
	SeverityError
)

// Tag is a stable, machine-matchable identifier for a diagnostic kind.
// New tags should read as kebab-case verbs/nouns, not sentences.
type Tag string

// Tags drawn from the error taxonomy in spec.md §7.
const (
	TagUnterminatedComment Tag = "unterminated-comment"
	TagUnterminatedString  Tag = "unterminated-string"
	TagUnknownDirective    Tag = "unknown-directive"
	TagMalformedExpr       Tag = "malformed-expression"
	TagUnbalancedEndif     Tag = "unbalanced-endif"
	TagStrayElse           Tag = "stray-else"
	TagDivByZero           Tag = "div-by-zero"
	TagIncludeNotFound     Tag = "include-not-found"
	TagComputedIncludeEmpty Tag = "computed-include-empty"
	TagCycleDepthExceeded  Tag = "cycle-depth-exceeded"
	TagExpansionDepthLimit Tag = "macro-expansion-depth-limit"
	TagExternalToolFailure Tag = "external-tool-failure"
	TagCacheStoreFailure   Tag = "cache-store-failure"
)

// Diagnostic is one reported issue, always attributable to a source
// location.
type Diagnostic struct {
	File     string
	Line     int // 1-based; 0 when not line-specific
	Tag      Tag
	Severity Severity
	Message  string
}

// String renders a Diagnostic as "file:line: [tag] message", matching
// the wire format spec.md §6 requires for stderr output.
func (d Diagnostic) String() string {
	if d.Line > 0 {
		return fmt.Sprintf("%s:%d: [%s] %s", d.File, d.Line, d.Tag, d.Message)
	}
	return fmt.Sprintf("%s: [%s] %s", d.File, d.Tag, d.Message)
}

// List is an ordered collection of diagnostics accumulated over a run.
type List struct {
	items []Diagnostic
}

// Add appends a diagnostic.
func (l *List) Add(d Diagnostic) {
	l.items = append(l.items, d)
}

// Warnf appends a warning-severity diagnostic.
func (l *List) Warnf(file string, line int, tag Tag, format string, args ...any) {
	l.Add(Diagnostic{File: file, Line: line, Tag: tag, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
}

// Errorf appends an error-severity diagnostic.
func (l *List) Errorf(file string, line int, tag Tag, format string, args ...any) {
	l.Add(Diagnostic{File: file, Line: line, Tag: tag, Severity: SeverityError, Message: fmt.Sprintf(format, args...)})
}

// Items returns the accumulated diagnostics in report order.
func (l *List) Items() []Diagnostic {
	return l.items
}

// HasErrors reports whether any accumulated diagnostic is error severity.
func (l *List) HasErrors() bool {
	for _, d := range l.items {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Merge appends all of other's items to l, in order.
func (l *List) Merge(other *List) {
	if other == nil {
		return
	}
	l.items = append(l.items, other.items...)
}
