/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package coordinator

import "testing"

func TestTryAcquireAllOrNothing(t *testing.T) {
	c := New()
	keys := []ResourceKey{SerialDevice(`/dev/ttyUSB0`), TcpPort(9000)}
	if !c.TryAcquire(`t1`, keys) {
		t.Fatal("expected first acquire to succeed")
	}
	if c.TryAcquire(`t2`, keys) {
		t.Fatal("expected second acquire to fail, resource held")
	}
	// t2 also wants an unheld key; the held one must block the whole set.
	if c.TryAcquire(`t2`, []ResourceKey{TcpPort(9000), TcpPort(9001)}) {
		t.Fatal("expected partial-conflict acquire to fail entirely")
	}
	if _, held := c.OwnerOf(TcpPort(9001)); held {
		t.Fatal("expected no partial hold from failed acquire")
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	c := New()
	keys := []ResourceKey{SerialDevice(`/dev/ttyUSB0`)}
	c.TryAcquire(`t1`, keys)
	c.Release(keys)
	if !c.TryAcquire(`t2`, keys) {
		t.Fatal("expected reacquire to succeed after release")
	}
}

func TestStructuralEquality(t *testing.T) {
	a := PowerCoil(`10.0.0.1`, 502, 3)
	b := PowerCoil(`10.0.0.1`, 502, 3)
	if a != b {
		t.Fatal("expected structurally identical keys to be ==")
	}
	c := New()
	c.TryAcquire(`t1`, []ResourceKey{a})
	if c.TryAcquire(`t2`, []ResourceKey{b}) {
		t.Fatal("expected structurally-equal key to conflict")
	}
}

func TestSameOwnerReacquireSucceeds(t *testing.T) {
	c := New()
	keys := []ResourceKey{TcpPort(1234)}
	c.TryAcquire(`t1`, keys)
	if !c.TryAcquire(`t1`, keys) {
		t.Fatal("expected same-owner reacquire to succeed")
	}
}
