// Copyright 2023 The Chromium Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package condexpr_test

import (
	"testing"

	"github.com/compiletools/ctdeps/condexpr"
)

func lookupFrom(env map[string]int64) condexpr.Lookup {
	return func(name string) (int64, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func eval(t *testing.T, expr string, env map[string]int64) condexpr.Result {
	t.Helper()
	r, err := condexpr.Eval(expr, lookupFrom(env))
	if err != nil {
		t.Fatalf("Eval(%q) error: %v", expr, err)
	}
	return r
}

func TestArithmeticAndPrecedence(t *testing.T) {
	tests := []struct {
		expr string
		want int64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 / 3", 3},
		{"10 % 3", 1},
		{"-5 + 2", -3},
		{"!0", 1},
		{"!5", 0},
		{"~0", -1},
		{"1 << 4", 16},
		{"256 >> 4", 16},
		{"1 == 1 && 2 == 2", 1},
		{"1 != 1 || 3 > 2", 1},
		{"5 & 3", 1},
		{"5 | 2", 7},
		{"5 ^ 1", 4},
		{"1 ? 10 : 20", 10},
		{"0 ? 10 : 20", 20},
		{"0x10", 16},
		{"010", 8},
		{"0b101", 5},
		{"100UL", 100},
	}
	for _, tt := range tests {
		r := eval(t, tt.expr, nil)
		if r.Value != tt.want {
			t.Errorf("Eval(%q) = %d, want %d", tt.expr, r.Value, tt.want)
		}
	}
}

func TestDefinedOperator(t *testing.T) {
	env := map[string]int64{"FOO": 1}
	r := eval(t, "defined(FOO)", env)
	if r.Value != 1 {
		t.Errorf("defined(FOO) = %d, want 1", r.Value)
	}
	if !r.ReadSet["FOO"] {
		t.Error("expected FOO in read set")
	}

	r = eval(t, "defined BAR", env)
	if r.Value != 0 {
		t.Errorf("defined BAR = %d, want 0", r.Value)
	}
	if !r.ReadSet["BAR"] {
		t.Error("expected BAR in read set even though undefined")
	}
}

func TestIdentifierResolvesToMacroValue(t *testing.T) {
	env := map[string]int64{"VER": 7}
	r := eval(t, "VER >= 5", env)
	if r.Value != 1 {
		t.Errorf("VER >= 5 = %d, want 1", r.Value)
	}
	r = eval(t, "UNDEFINED_MACRO", env)
	if r.Value != 0 {
		t.Errorf("undefined identifier should evaluate to 0, got %d", r.Value)
	}
}

func TestShortCircuitAndSkipsReadSet(t *testing.T) {
	// left is false, so B must never be consulted.
	r := eval(t, "0 && B", nil)
	if r.Value != 0 {
		t.Errorf("0 && B = %d, want 0", r.Value)
	}
	if r.ReadSet["B"] {
		t.Error("B must not be in the read set: && short-circuited before it")
	}
}

func TestShortCircuitOrSkipsReadSet(t *testing.T) {
	r := eval(t, "1 || B", nil)
	if r.Value != 1 {
		t.Errorf("1 || B = %d, want 1", r.Value)
	}
	if r.ReadSet["B"] {
		t.Error("B must not be in the read set: || short-circuited before it")
	}
}

func TestShortCircuitAndDoesEvaluateLeftAndTakenRight(t *testing.T) {
	env := map[string]int64{"A": 1, "B": 1}
	r := eval(t, "A && B", env)
	if r.Value != 1 {
		t.Errorf("A && B = %d, want 1", r.Value)
	}
	if !r.ReadSet["A"] || !r.ReadSet["B"] {
		t.Errorf("expected both A and B in read set when left is true, got %+v", r.ReadSet)
	}
}

func TestTernarySkipsUntakenBranch(t *testing.T) {
	env := map[string]int64{"COND": 1}
	r := eval(t, "COND ? 42 : UNREACHABLE", env)
	if r.Value != 42 {
		t.Errorf("value = %d, want 42", r.Value)
	}
	if r.ReadSet["UNREACHABLE"] {
		t.Error("UNREACHABLE must not be read: untaken ternary branch")
	}
	if !r.ReadSet["COND"] {
		t.Error("COND must be in the read set")
	}
}

func TestDivisionByZeroWarnsAndReturnsZero(t *testing.T) {
	r := eval(t, "5 / 0", nil)
	if r.Value != 0 {
		t.Errorf("5 / 0 = %d, want 0", r.Value)
	}
	if len(r.Warnings) == 0 {
		t.Error("expected a division-by-zero warning")
	}
}

func TestModulusByZeroWarnsAndReturnsZero(t *testing.T) {
	r := eval(t, "5 % 0", nil)
	if r.Value != 0 {
		t.Errorf("5 %% 0 = %d, want 0", r.Value)
	}
	if len(r.Warnings) == 0 {
		t.Error("expected a modulus-by-zero warning")
	}
}

func TestMalformedExpressionReturnsError(t *testing.T) {
	if _, err := condexpr.Eval("1 +", lookupFrom(nil)); err == nil {
		t.Error("expected an error for a malformed expression")
	}
	if _, err := condexpr.Eval("(1 + 2", lookupFrom(nil)); err == nil {
		t.Error("expected an error for an unbalanced parenthesis")
	}
	if _, err := condexpr.Eval("1 2", lookupFrom(nil)); err == nil {
		t.Error("expected an error for trailing tokens")
	}
}
