// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package lockdir provides a narrow file-based mutual-exclusion lock for
// callers that serialize access to a shared on-disk artifact (e.g. a
// persisted cache directory shared by multiple ct-cppdeps invocations).
// Nothing in the core engine imports this package: the in-process
// caches are safe for concurrent use on their own, and on-disk
// persistence, if a caller wants it, is theirs to serialize.
package lockdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// Locker is the minimal interface a directory-lock implementation needs
// to satisfy.
type Locker interface {
	// Lock acquires exclusive ownership, blocking the caller's choice
	// (an implementation may simply fail fast instead).
	Lock() error
	// Unlock releases ownership. Unlock on an unlocked Locker is a
	// caller error.
	Unlock() error
}

// DirLock is a Locker backed by atomically creating a lock directory:
// os.Mkdir fails with os.IsExist if another process holds it, which is
// what makes acquisition atomic without a separate lockfile protocol.
type DirLock struct {
	path string
	held bool
}

// New creates a DirLock guarding path, which must not already exist as
// an ordinary file or directory outside of lock acquisition.
func New(path string) *DirLock {
	return &DirLock{path: path}
}

// Lock attempts to atomically create the lock directory. It returns an
// error immediately if the lock is already held, rather than blocking.
// On success it drops a "pid" file inside the lock directory containing
// "<hostname>:<pid>", so a stale lock left by a crashed process can be
// diagnosed by hand (spec.md §6's lock-directory convention).
func (l *DirLock) Lock() error {
	if err := os.Mkdir(l.path, 0o755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("lockdir: %s is already locked", l.path)
		}
		return fmt.Errorf("lockdir: %w", err)
	}
	host, _ := os.Hostname()
	payload := fmt.Sprintf("%s:%d", host, os.Getpid())
	if err := os.WriteFile(filepath.Join(l.path, "pid"), []byte(payload), 0o644); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("lockdir: %w", err)
	}
	l.held = true
	return nil
}

// Unlock removes the lock directory. It is an error to Unlock a DirLock
// that isn't currently held.
func (l *DirLock) Unlock() error {
	if !l.held {
		return fmt.Errorf("lockdir: %s is not locked by this handle", l.path)
	}
	if err := os.RemoveAll(l.path); err != nil {
		return fmt.Errorf("lockdir: %w", err)
	}
	l.held = false
	return nil
}
