/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/s7tools/engine/result"
)

func TestWithRetrySucceedsAfterTransientTimeouts(t *testing.T) {
	rc := AggressiveRetryConfiguration()
	attempts := 0
	var progressSeen []int
	rerr := rc.withRetry(context.Background(), ClassHandshake, func(a int) { progressSeen = append(progressSeen, a) }, func() *result.Error {
		attempts++
		if attempts < 3 {
			return result.New(result.Timeout, `simulated handshake timeout`)
		}
		return nil
	})
	if rerr != nil {
		t.Fatal(rerr)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if len(progressSeen) != 3 {
		t.Fatalf("expected attempt hook called 3 times, got %d", len(progressSeen))
	}
}

func TestWithRetryStopsOnNonRetryableKind(t *testing.T) {
	rc := DefaultRetryConfiguration()
	attempts := 0
	rerr := rc.withRetry(context.Background(), ClassHandshake, nil, func() *result.Error {
		attempts++
		return result.New(result.Validation, `bad request, never retryable`)
	})
	if rerr == nil || result.KindOf(rerr) != result.Validation {
		t.Fatalf("expected Validation error, got %v", rerr)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable kind, got %d", attempts)
	}
}

func TestWithRetryExhaustsMaxRetries(t *testing.T) {
	rc := ConservativeRetryConfiguration()
	attempts := 0
	rerr := rc.withRetry(context.Background(), ClassConnection, nil, func() *result.Error {
		attempts++
		return result.New(result.Transport, `always fails`)
	})
	if rerr == nil {
		t.Fatal("expected final error after exhausting retries")
	}
	if attempts != rc.policyFor(ClassConnection).MaxRetries+1 {
		t.Fatalf("expected %d attempts, got %d", rc.policyFor(ClassConnection).MaxRetries+1, attempts)
	}
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	rc := DefaultRetryConfiguration()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rerr := rc.withRetry(ctx, ClassHandshake, nil, func() *result.Error {
		t.Fatal("operation should not run once ctx is already cancelled")
		return nil
	})
	if rerr == nil || result.KindOf(rerr) != result.Cancelled {
		t.Fatalf("expected Cancelled, got %v", rerr)
	}
}

func TestBackoffShapesGrowWithAttempt(t *testing.T) {
	p := classPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Shape: BackoffExponential}
	if d0, d1 := p.delayForAttempt(0), p.delayForAttempt(1); d1 <= d0 {
		t.Fatalf("expected exponential backoff to grow, got %v then %v", d0, d1)
	}
	p.Shape = BackoffLinear
	if d0, d1 := p.delayForAttempt(0), p.delayForAttempt(1); d1 <= d0 {
		t.Fatalf("expected linear backoff to grow, got %v then %v", d0, d1)
	}
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	p := classPolicy{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 10, Shape: BackoffExponential}
	if d := p.delayForAttempt(5); d > p.MaxDelay {
		t.Fatalf("expected delay capped at %v, got %v", p.MaxDelay, d)
	}
}
