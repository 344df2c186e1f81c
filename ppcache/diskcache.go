// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package ppcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/compiletools/ctdeps/analyzer"
	"github.com/compiletools/ctdeps/content"
	"github.com/compiletools/ctdeps/macro"
	"github.com/compiletools/ctdeps/o11y/clog"
	"github.com/compiletools/ctdeps/preprocessor"
)

// diskEntry is the on-disk envelope for one variant-tier cache hit
// (spec.md §6's "Persisted state", grounded in
// original_source/src/compiletools/diskcache.py): everything a later
// process needs to skip re-walking this file's directives under this
// exact macro fingerprint, plus the ReadSet the fingerprint was
// restricted to, so a fresh process can tell whether its own macro.State
// still matches without first knowing the fingerprint. Diagnostics are
// deliberately not persisted — they are a property of one run's
// reporting, not of the cacheable preprocessing result.
type diskEntry struct {
	FP             string
	ReadSet        map[string]bool
	ActiveLines    []int
	ActiveIncludes []preprocessor.Include
	ActiveMagic    []analyzer.MagicToken
	DefinesDelta   []preprocessor.MacroDelta
	PragmaOnce     bool
}

// SetObjDir enables on-disk persistence of the variant tier under dir,
// one YAML file per (content, fingerprint) pair. A zero-value Cache (no
// SetObjDir call) behaves exactly as before: purely in-memory.
func (c *Cache) SetObjDir(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objDir = dir
}

func contentDir(objDir string, hash content.Hash) string {
	return filepath.Join(objDir, hash.String())
}

// diskLookup scans every persisted entry for hash (there is no way to
// know which filename to probe without first knowing a matching read
// set, so — mirroring the in-memory lookup — this checks each candidate
// in turn) and returns the first whose recorded ReadSet state still
// agrees on, exactly like the in-memory lookup protocol.
func (c *Cache) diskLookup(hash content.Hash, state *macro.State) *variantEntry {
	c.mu.RLock()
	objDir := c.objDir
	c.mu.RUnlock()
	if objDir == "" {
		return nil
	}
	dir := contentDir(objDir, hash)
	names, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, fi := range names {
		if fi.IsDir() || !strings.HasSuffix(fi.Name(), ".yaml") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, fi.Name()))
		if err != nil {
			continue
		}
		var e diskEntry
		if err := yaml.Unmarshal(data, &e); err != nil {
			continue
		}
		readSet := make([]string, 0, len(e.ReadSet))
		for n := range e.ReadSet {
			readSet = append(readSet, n)
		}
		fp := state.RestrictedFingerprint(readSet)
		if fp.String() != e.FP {
			continue
		}
		return &variantEntry{
			fp:      fp,
			readSet: readSet,
			value: &preprocessor.CacheValue{
				ActiveLines:    e.ActiveLines,
				ActiveIncludes: e.ActiveIncludes,
				ActiveMagic:    e.ActiveMagic,
				DefinesDelta:   e.DefinesDelta,
				ReadSet:        e.ReadSet,
				PragmaOnce:     e.PragmaOnce,
			},
		}
	}
	return nil
}

// diskSave persists e under hash. Failures are logged, not fatal: the
// in-memory variant tier already holds the authoritative value for the
// rest of this run.
func (c *Cache) diskSave(ctx context.Context, hash content.Hash, e *variantEntry) {
	c.mu.RLock()
	objDir := c.objDir
	c.mu.RUnlock()
	if objDir == "" {
		return
	}
	cv := e.value
	de := diskEntry{
		FP:             e.fp.String(),
		ReadSet:        cv.ReadSet,
		ActiveLines:    cv.ActiveLines,
		ActiveIncludes: cv.ActiveIncludes,
		ActiveMagic:    cv.ActiveMagic,
		DefinesDelta:   cv.DefinesDelta,
		PragmaOnce:     cv.PragmaOnce,
	}
	data, err := yaml.Marshal(de)
	if err != nil {
		clog.Errorf(ctx, "ppcache: marshal cache entry: %v", err)
		return
	}
	path := filepath.Join(contentDir(objDir, hash), e.fp.String()+".yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		clog.Errorf(ctx, "ppcache: %v", err)
		return
	}
	// Atomic write: temp file then rename, the teacher's convention for
	// every on-disk config/cache write in the corpus.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		clog.Errorf(ctx, "ppcache: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		clog.Errorf(ctx, "ppcache: %v", err)
	}
}
