// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package ppcache implements the two-tier preprocessing cache (spec.md
// §4.5): an invariant tier keyed by content hash alone (the analyzer's
// AnalysisResult, independent of macro state), and a variant tier keyed
// by (content hash, macro.Fingerprint) restricted to the file's own
// dynamic, short-circuit-minimal read set (the preprocessor's
// CacheValue.ReadSet) — never the analyzer's static syntactic superset
// of referenced/defined names, which would invalidate entries on
// unrelated macro churn the directive walk never actually consulted.
//
// The correctness rule that makes the variant tier sound is that a
// variant-cache hit REPLACES, never merges into, the caller's variable
// macro partition: a cached CacheValue recorded DefinesDelta against
// some prior macro.State, and reapplying it on top of a different
// variable partition would silently combine unrelated macro histories.
// ppcache.Get therefore returns the delta as a value the caller applies
// wholesale, not an instruction to keep accumulating into an existing
// State.
package ppcache

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/compiletools/ctdeps/analyzer"
	"github.com/compiletools/ctdeps/content"
	"github.com/compiletools/ctdeps/macro"
	"github.com/compiletools/ctdeps/o11y/clog"
	"github.com/compiletools/ctdeps/preprocessor"
)

// variantEntry is one previously recorded variant-tier result for a
// given content hash: the restricted fingerprint it was stored under,
// the exact (dynamic, short-circuit-minimal) read set that fingerprint
// was restricted to, and the CacheValue itself.
type variantEntry struct {
	fp      macro.Fingerprint
	readSet []string
	value   *preprocessor.CacheValue
}

// Cache is a process-wide, concurrency-safe two-tier cache.
//
// The invariant tier reuses analyzer.Analyze's own memoization (content
// hash only); Cache only needs to own the variant tier plus the
// singleflight group that collapses duplicate concurrent misses for the
// same (content, full-state-fingerprint) pair.
type Cache struct {
	mu      sync.RWMutex
	variant map[content.Hash][]*variantEntry
	objDir  string // set via SetObjDir; "" disables on-disk persistence

	group singleflight.Group
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{variant: make(map[content.Hash][]*variantEntry)}
}

// Get returns fc's AnalysisResult (via the analyzer's own invariant-tier
// memoization) and the CacheValue of preprocessing it against state.
//
// The variant tier implements spec.md §4.5's lookup protocol literally:
// a fingerprint can only be computed once a file's actual read set is
// known, so a lookup does not key off the analyzer's static syntactic
// superset of referenced/defined names — it walks the entries already
// recorded for fc's content hash and, for each, restricts state to that
// entry's own recorded ReadSet; a match means state agrees with the
// state that produced the entry on every name the walk actually
// consulted, which is exactly what makes reusing it sound (unread names
// such as a short-circuited "B" in "defined(A) && B" can churn freely
// without ever invalidating the entry).
//
// On a miss, compute calls preprocessor.Run against a caller-supplied
// macro.State snapshot and does NOT mutate the caller's live state;
// callers apply the returned CacheValue's DefinesDelta to their own
// state afterward, which is what makes "REPLACE, don't merge" concrete:
// state.Define/Undef per delta entry, not a re-walk of this file's
// directives under the new state.
func (c *Cache) Get(ctx context.Context, fc *content.FileContent, state *macro.State) (*analyzer.Result, *preprocessor.CacheValue) {
	ar := analyzer.Analyze(ctx, fc)

	if e := c.lookup(fc.Hash, state); e != nil {
		return ar, e.value
	}

	// Coalesce concurrent misses on the full variable partition: two
	// requests sharing every variable macro's value necessarily share
	// every entry's restricted fingerprint too, so this key never
	// over-merges results for states that only happen to agree on some
	// entry's (smaller) read set.
	sfKey := fc.Hash.String() + ":" + state.RestrictedFingerprint(state.VariableNames()).String()
	v, err, shared := c.group.Do(sfKey, func() (any, error) {
		if e := c.lookup(fc.Hash, state); e != nil {
			return e, nil
		}
		if e := c.diskLookup(fc.Hash, state); e != nil {
			c.store(fc.Hash, e)
			return e, nil
		}
		snapshot := state.Snapshot()
		cv := preprocessor.Run(ar, snapshot)
		readSet := make([]string, 0, len(cv.ReadSet))
		for n := range cv.ReadSet {
			readSet = append(readSet, n)
		}
		e := &variantEntry{fp: state.RestrictedFingerprint(readSet), readSet: readSet, value: cv}
		c.store(fc.Hash, e)
		c.diskSave(ctx, fc.Hash, e)
		return e, nil
	})
	if shared {
		clog.Infof(ctx, "ppcache: coalesced concurrent miss for %s", fc.Path)
	}
	if err != nil {
		// preprocessor.Run never returns an error; singleflight's err is
		// always nil here, kept only because Do's signature requires it.
		return ar, nil
	}
	return ar, v.(*variantEntry).value
}

// lookup scans the entries already recorded for hash, returning the
// first whose recorded read set state still agrees on.
func (c *Cache) lookup(hash content.Hash, state *macro.State) *variantEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.variant[hash] {
		if state.RestrictedFingerprint(e.readSet) == e.fp {
			return e
		}
	}
	return nil
}

func (c *Cache) store(hash content.Hash, e *variantEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.variant[hash] {
		if existing.fp == e.fp {
			return
		}
	}
	c.variant[hash] = append(c.variant[hash], e)
}

// Len reports the number of distinct variant-tier entries cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, entries := range c.variant {
		n += len(entries)
	}
	return n
}
