// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package semaphore provides named, bounded-concurrency semaphores;
// cmd/ct-cppdeps uses one to cap how many seed files are processed
// concurrently.
package semaphore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	mu         sync.Mutex
	semaphores = map[string]*Semaphore{}
)

// Semaphore is a semaphore.
type Semaphore struct {
	name string
	ch   chan int

	waits atomic.Int64
	reqs  atomic.Int64
}

// Lookup returns a semaphore for the name, or an error if not registered.
func Lookup(name string) (*Semaphore, error) {
	mu.Lock()
	defer mu.Unlock()
	s, ok := semaphores[name]
	if !ok {
		return nil, fmt.Errorf("semaphore %q not found", name)
	}
	return s, nil
}

// New creates a new semaphore with name and capacity.
func New(name string, n int) *Semaphore {
	ch := make(chan int, n)
	for i := 0; i < n; i++ {
		ch <- i + 1 // tid
	}
	s := &Semaphore{
		name: name,
		ch:   ch,
	}
	mu.Lock()
	semaphores[name] = s
	mu.Unlock()
	return s
}

// WaitAcquire acquires a semaphore.
// It returns a context for the acquired semaphore and a func to release it,
// which takes the error (or nil) of the work done while holding it.
func (s *Semaphore) WaitAcquire(ctx context.Context) (context.Context, func(error), error) {
	s.waits.Add(1)
	defer s.waits.Add(-1)
	select {
	case tid := <-s.ch:
		s.reqs.Add(1)
		return ctx, func(error) {
			s.ch <- tid
		}, nil
	case <-ctx.Done():
		return ctx, func(error) {}, ctx.Err()
	}
}

// Name returns name of the semaphore.
func (s *Semaphore) Name() string {
	return s.name
}

// Capacity returns capacity of the semaphore.
func (s *Semaphore) Capacity() int {
	if s == nil {
		return 0
	}
	return cap(s.ch)
}

// NumServs returns number of currently served.
func (s *Semaphore) NumServs() int {
	return cap(s.ch) - len(s.ch)
}

// NumWaits returns number of waiters.
func (s *Semaphore) NumWaits() int {
	return int(s.waits.Load())
}

// NumRequests returns total number of requests.
func (s *Semaphore) NumRequests() int {
	return int(s.reqs.Load())
}

// Do runs f under semaphore.
func (s *Semaphore) Do(ctx context.Context, f func(ctx context.Context) error) (err error) {
	ctx, done, err := s.WaitAcquire(ctx)
	if err != nil {
		return err
	}
	defer func() { done(err) }()
	return f(ctx)
}
