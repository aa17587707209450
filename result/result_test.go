/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package result

import (
	"errors"
	"testing"
)

func TestMapBind(t *testing.T) {
	r := Ok(2)
	r2 := Map(r, func(v int) int { return v * 3 })
	if v, ok := r2.Value(); !ok || v != 6 {
		t.Fatalf("expected 6, got %v ok=%v", v, ok)
	}

	r3 := Bind(r2, func(v int) Result[string] {
		if v != 6 {
			return Err[string](New(Internal, `unexpected`))
		}
		return Ok(`six`)
	})
	if v, ok := r3.Value(); !ok || v != `six` {
		t.Fatalf("expected six, got %v ok=%v", v, ok)
	}
}

func TestMapPropagatesError(t *testing.T) {
	r := Err[int](New(Validation, `bad`))
	r2 := Map(r, func(v int) int { return v + 1 })
	if !r2.IsErr() || r2.Error().Kind != Validation {
		t.Fatalf("expected Validation error to propagate, got %+v", r2.Error())
	}
}

func TestErrorIsKind(t *testing.T) {
	err := New(Unauthorized, `read-only profile`)
	if !errors.Is(err, New(Unauthorized, ``)) {
		t.Fatal("expected errors.Is to match on Kind")
	}
	if errors.Is(err, New(Conflict, ``)) {
		t.Fatal("expected errors.Is to not match a different Kind")
	}
}

func TestSuppressDoesNotMaskPrimary(t *testing.T) {
	primary := New(Transport, `teardown failed`)
	primary.Suppress(errors.New(`secondary close error`))
	if primary.Kind != Transport {
		t.Fatal("suppressing a secondary error must not change the primary kind")
	}
	if len(primary.Suppressed) != 1 {
		t.Fatalf("expected 1 suppressed error, got %d", len(primary.Suppressed))
	}
}

func TestOnSuccessOnFailure(t *testing.T) {
	var called bool
	Ok(1).OnSuccess(func(int) { called = true })
	if !called {
		t.Fatal("OnSuccess should run on Ok result")
	}

	called = false
	Err[int](New(Internal, `x`)).OnFailure(func(*Error) { called = true })
	if !called {
		t.Fatal("OnFailure should run on Err result")
	}
}
