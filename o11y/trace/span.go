// Copyright 2023 The Chromium Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package trace manages execution traces for a single analysis run.
//
// It is trimmed from the teacher's Cloud Trace integration down to a
// local span tree: nothing in this module exports traces to a remote
// collector, so the protobuf/Cloud Trace plumbing is dropped (see
// DESIGN.md), but the uuid-keyed trace/span identifiers and the
// ctx-scoped NewSpan API are kept as-is, since analyzer.Analyze and
// hunter.Closure/ClosureDirect depend on that exact shape.
package trace

import (
	"context"
	"sync"
	"time"

	log "github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/compiletools/ctdeps/o11y/clog"
)

// Context is a trace context: the set of spans recorded for one run.
type Context struct {
	traceID uuid.UUID

	mu    sync.Mutex
	spans []*Span
}

// New creates a new trace Context identified by id (a uuid string).
// An empty id generates a fresh random trace id.
func New(ctx context.Context, id string) *Context {
	if id == "" {
		return &Context{traceID: uuid.New()}
	}
	u, err := uuid.Parse(id)
	if err != nil {
		clog.Errorf(ctx, "bad trace id %q: %v", id, err)
		return &Context{traceID: uuid.New()}
	}
	if log.V(2) {
		clog.Infof(ctx, "new trace context for %s", id)
	}
	return &Context{traceID: u}
}

// NewSpan creates a new span as a child of parent (or of the trace's root
// span when parent is nil).
func (t *Context) NewSpan(ctx context.Context, name string, parent *Span) *Span {
	if t == nil {
		return nil
	}
	return t.newSpan(ctx, name, parent)
}

// Spans returns span data recorded in the trace context, in creation order.
func (t *Context) Spans() []SpanData {
	var data []SpanData
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.spans {
		data = append(data, s.data())
	}
	return data
}

func (t *Context) newSpan(ctx context.Context, name string, parent *Span) *Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	if parent == nil && len(t.spans) > 0 {
		parent = t.spans[0]
	}
	span := &Span{
		t:           t,
		spanID:      uuid.New(),
		parent:      parent,
		displayName: name,
		start:       time.Now(),
		attrs:       make(map[string]any),
	}
	if log.V(2) {
		clog.Infof(ctx, "new span %s %s<-%v", name, span.spanID, parent)
	}
	t.spans = append(t.spans, span)
	return span
}

type contextKeyType int

const (
	contextKey contextKeyType = iota
	spanKey
)

// NewContext returns a new context carrying the trace context t.
func NewContext(ctx context.Context, t *Context) context.Context {
	return context.WithValue(ctx, contextKey, t)
}

// NewSpan starts a new span as a child of the context's current span and
// returns the updated context along with it. If ctx carries no trace
// context, it returns a nil span (all Span methods tolerate nil).
func NewSpan(ctx context.Context, name string) (context.Context, *Span) {
	t, ok := ctx.Value(contextKey).(*Context)
	if !ok || t == nil {
		return ctx, nil
	}
	parent, _ := ctx.Value(spanKey).(*Span)
	span := t.NewSpan(ctx, name, parent)
	return context.WithValue(ctx, spanKey, span), span
}

// ID returns the trace id carried by ctx, or "" if none.
func ID(ctx context.Context) string {
	t, ok := ctx.Value(contextKey).(*Context)
	if !ok || t == nil {
		return ""
	}
	return t.traceID.String()
}

// CurSpan returns the current span in the context, or nil.
func CurSpan(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey).(*Span)
	return span
}

// Span is a single trace span: one unit of work with a start/end time.
type Span struct {
	t      *Context
	spanID uuid.UUID
	parent *Span

	mu          sync.Mutex
	displayName string
	start       time.Time
	end         time.Time
	attrs       map[string]any
	err         error
}

// SetAttr sets an attribute on the span.
func (s *Span) SetAttr(key string, value any) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[key] = value
}

// Close closes the span, recording err (nil on success) as its status.
func (s *Span) Close(err error) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end = time.Now()
	s.err = err
}

func (s *Span) data() SpanData {
	if s == nil {
		return SpanData{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	end := s.end
	if end.IsZero() {
		end = time.Now()
	}
	return SpanData{
		Name:  s.displayName,
		Start: s.start,
		End:   end,
		Attrs: s.attrs,
		Err:   s.err,
	}
}

// SpanData is a point-in-time snapshot of a Span, safe to read after Close.
type SpanData struct {
	Name  string
	Start time.Time
	End   time.Time
	Attrs map[string]any
	Err   error
}

// Duration returns the duration of the span.
func (sd SpanData) Duration() time.Duration {
	return sd.End.Sub(sd.Start)
}
