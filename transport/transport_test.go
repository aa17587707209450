/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/s7tools/engine/result"
)

func pipePair(t *testing.T) (*Transport, *Transport, func()) {
	t.Helper()
	a, b := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	ta := Wrap(ctx, a, Timeouts{Connect: time.Second, Read: 200 * time.Millisecond, Write: 200 * time.Millisecond})
	tb := Wrap(ctx, b, Timeouts{Connect: time.Second, Read: 200 * time.Millisecond, Write: 200 * time.Millisecond})
	return ta, tb, func() {
		cancel()
		ta.Close()
		tb.Close()
	}
}

func TestSendReceivePacketRoundTrip(t *testing.T) {
	ta, tb, done := pipePair(t)
	defer done()

	payload := []byte("hello bootloader")
	errCh := make(chan *result.Error, 1)
	go func() {
		errCh <- SendPacket(context.Background(), ta, payload, 4) // force multi-chunk
	}()

	got, rerr := ReceivePacket(context.Background(), tb)
	if rerr != nil {
		t.Fatal(rerr)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
	if sendErr := <-errCh; sendErr != nil {
		t.Fatal(sendErr)
	}
}

func TestReceivePacketTimesOutOnSilence(t *testing.T) {
	_, tb, done := pipePair(t)
	defer done()

	_, rerr := ReceivePacket(context.Background(), tb)
	if rerr == nil || result.KindOf(rerr) != result.Timeout {
		t.Fatalf("expected Timeout, got %v", rerr)
	}
}

func TestCloseUnblocksPendingRead(t *testing.T) {
	ta, tb, _ := pipePair(t)
	defer ta.Close()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		tb.RawRead(context.Background(), buf)
		close(done)
	}()
	tb.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read did not unblock after Close")
	}
}

func TestIsConnectedReflectsClose(t *testing.T) {
	ta, tb, _ := pipePair(t)
	defer tb.Close()
	if !ta.IsConnected() {
		t.Fatal("expected connected before Close")
	}
	ta.Close()
	if ta.IsConnected() {
		t.Fatal("expected disconnected after Close")
	}
}
