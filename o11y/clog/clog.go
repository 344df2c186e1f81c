// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package clog provides context aware logging.
// It can store trace, spanID, arbitrary labels to each context.
// The main use case is to add analysis-run context to each log entry
// automatically, the way cpp.go's CPPScan already threads a context
// through every scan.
package clog

import (
	"context"
	"fmt"
	"time"

	glog "github.com/golang/glog"
)

type contextKeyType int

var contextKey contextKeyType

// Severity is the severity of a log entry.
type Severity int

// Severities, ordered low to high.
const (
	Info Severity = iota
	Warning
	Error
	Critical
)

// Entry is a single log entry recorded through a Logger.
type Entry struct {
	Timestamp time.Time
	Severity  Severity
	Payload   string
	Labels    map[string]string
	Trace     string
	SpanID    string
}

// defaultFormatter doesn't set any context to the log content.
var defaultFormatter = func(e Entry) string {
	return e.Payload
}

// New creates a new Logger.
func New(ctx context.Context) *Logger {
	return &Logger{
		Formatter: defaultFormatter,
	}
}

// NewContext sets the given logger to the context.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextKey, logger)
}

// NewSpan sets a new Logger.Span with the given labels to the context.
func NewSpan(ctx context.Context, trace, spanID string, labels map[string]string) context.Context {
	logger := FromContext(ctx)
	return NewContext(ctx, logger.Span(trace, spanID, labels))
}

// FromContext returns a logger in the context, or a new default logger
// if it's not set.
func FromContext(ctx context.Context) *Logger {
	logger, ok := ctx.Value(contextKey).(*Logger)
	if !ok || logger == nil {
		return New(ctx)
	}
	return logger
}

// Logger holds the trace, spanID, arbitrary labels of the context.
// It also can have a custom formatter to generate a log line.
type Logger struct {
	// Formatter formats the entry before it reaches glog.
	// Defaults to e.Payload unmodified.
	Formatter func(e Entry) string

	trace  string
	spanID string
	labels map[string]string
}

// Span returns a sub logger for the trace span.
func (l *Logger) Span(trace, spanID string, labels map[string]string) *Logger {
	return &Logger{
		Formatter: l.Formatter,
		trace:     trace,
		spanID:    spanID,
		labels:    labels,
	}
}

func (l *Logger) log(e Entry) {
	msg := l.Formatter(e)
	switch e.Severity {
	case Info:
		glog.InfoDepth(3, msg)
	case Warning:
		glog.WarningDepth(3, msg)
	case Error:
		glog.ErrorDepth(3, msg)
	case Critical:
		glog.FatalDepth(3, msg)
	default:
		glog.InfoDepth(3, msg)
	}
}

// Infof logs at info log level in the manner of fmt.Printf.
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(l.Entry(Info, fmt.Sprintf(format, args...)))
}

// Infof logs at info log level in the manner of fmt.Printf.
func Infof(ctx context.Context, format string, args ...interface{}) {
	logger := FromContext(ctx)
	logger.log(logger.Entry(Info, fmt.Sprintf(format, args...)))
}

// Warningf logs at warning log level in the manner of fmt.Printf.
func (l *Logger) Warningf(format string, args ...interface{}) {
	l.log(l.Entry(Warning, fmt.Sprintf(format, args...)))
}

// Warningf logs at warning log level in the manner of fmt.Printf.
func Warningf(ctx context.Context, format string, args ...interface{}) {
	logger := FromContext(ctx)
	logger.log(logger.Entry(Warning, fmt.Sprintf(format, args...)))
}

// Errorf logs at error log level in the manner of fmt.Printf.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(l.Entry(Error, fmt.Sprintf(format, args...)))
}

// Errorf logs at error log level in the manner of fmt.Printf.
func Errorf(ctx context.Context, format string, args ...interface{}) {
	logger := FromContext(ctx)
	logger.log(logger.Entry(Error, fmt.Sprintf(format, args...)))
}

// Fatalf logs at fatal log level in the manner of fmt.Printf, and exits.
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log(l.Entry(Critical, fmt.Sprintf(format, args...)))
}

// Fatalf logs at fatal log level in the manner of fmt.Printf, and exits.
func Fatalf(ctx context.Context, format string, args ...interface{}) {
	logger := FromContext(ctx)
	logger.log(logger.Entry(Critical, fmt.Sprintf(format, args...)))
}

// Entry creates a new log entry for the given severity.
func (l *Logger) Entry(severity Severity, payload string) Entry {
	return Entry{
		Timestamp: time.Now(),
		Severity:  severity,
		Payload:   payload,
		Labels:    l.labels,
		Trace:     l.trace,
		SpanID:    l.spanID,
	}
}

// V checks the verbose log level.
func (l *Logger) V(level int) bool {
	return bool(glog.V(glog.Level(level)))
}

// Close closes the logger, flushing any buffered log entries.
func (l *Logger) Close() {
	glog.Flush()
}
