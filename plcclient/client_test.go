/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package plcclient

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/result"
	"github.com/s7tools/engine/transport"
)

func pipePair(t *testing.T) (*transport.Transport, *transport.Transport, func()) {
	t.Helper()
	a, b := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	timeouts := transport.Timeouts{Connect: time.Second, Read: 300 * time.Millisecond, Write: 300 * time.Millisecond}
	ta := transport.Wrap(ctx, a, timeouts)
	tb := transport.Wrap(ctx, b, timeouts)
	return ta, tb, func() { cancel(); ta.Close(); tb.Close() }
}

// fakeBootloader answers exactly one request/response pair in the shape the
// real opcode table expects, for exercising Client's encode/decode side.
func fakeBootloader(t *testing.T, peer *transport.Transport, respond func(req []byte) []byte) {
	t.Helper()
	go func() {
		req, rerr := transport.ReceivePacket(context.Background(), peer)
		if rerr != nil {
			return
		}
		resp := respond(req)
		transport.SendPacket(context.Background(), peer, resp, transport.DefaultMaxChunk)
	}()
}

func TestHandshakeSucceedsOnMatchingMagic(t *testing.T) {
	client, peer, done := pipePair(t)
	defer done()
	fakeBootloader(t, peer, func(req []byte) []byte {
		return append([]byte{opHandshakeResponse}, handshakeMagic[:]...)
	})
	c := New(client, logging.NewDiscard())
	if rerr := c.Handshake(context.Background()); rerr != nil {
		t.Fatal(rerr)
	}
}

func TestHandshakeFailsOnWrongMagic(t *testing.T) {
	client, peer, done := pipePair(t)
	defer done()
	fakeBootloader(t, peer, func(req []byte) []byte {
		return append([]byte{opHandshakeResponse}, 0, 0, 0, 0)
	})
	c := New(client, logging.NewDiscard())
	rerr := c.Handshake(context.Background())
	if rerr == nil || result.KindOf(rerr) != result.Protocol {
		t.Fatalf("expected Protocol error, got %v", rerr)
	}
}

func TestGetBootloaderVersionDecodes(t *testing.T) {
	client, peer, done := pipePair(t)
	defer done()
	fakeBootloader(t, peer, func(req []byte) []byte {
		return append([]byte{opVersionResponse}, []byte("1.2.3")...)
	})
	c := New(client, logging.NewDiscard())
	v, rerr := c.GetBootloaderVersion(context.Background())
	if rerr != nil {
		t.Fatal(rerr)
	}
	if v != "1.2.3" {
		t.Fatalf("got %q", v)
	}
}

func TestInstallStagerWaitsForAck(t *testing.T) {
	client, peer, done := pipePair(t)
	defer done()
	var received []byte
	fakeBootloader(t, peer, func(req []byte) []byte {
		received = append([]byte(nil), req...)
		return []byte{opPayloadAck}
	})
	c := New(client, logging.NewDiscard())
	stager := []byte("stager-bytes")
	if rerr := c.InstallStager(context.Background(), stager); rerr != nil {
		t.Fatal(rerr)
	}
	if string(received[1:]) != string(stager) {
		t.Fatalf("bootloader received %q, want %q", received[1:], stager)
	}
}

func TestDumpMemoryStreamsRawBytesAndReportsProgress(t *testing.T) {
	client, peer, done := pipePair(t)
	defer done()

	dumpPayload := bytes.Repeat([]byte{0xAB}, 10000)
	go func() {
		// dumper ack
		req, rerr := transport.ReceivePacket(context.Background(), peer)
		if rerr != nil || req[0] != opPayloadChunk {
			return
		}
		transport.SendPacket(context.Background(), peer, []byte{opPayloadAck}, transport.DefaultMaxChunk)
		// begin-dump ack
		req2, rerr := transport.ReceivePacket(context.Background(), peer)
		if rerr != nil || req2[0] != opBeginDump {
			return
		}
		transport.SendPacket(context.Background(), peer, []byte{opDumpAck}, transport.DefaultMaxChunk)
		// raw bulk stream
		peer.RawWrite(context.Background(), dumpPayload)
	}()

	c := New(client, logging.NewDiscard())
	var out bytes.Buffer
	var lastRead, lastTotal uint32
	rerr := c.DumpMemory(context.Background(), 0x1000, uint32(len(dumpPayload)), []byte("dumper"), &out, func(read, total uint32) {
		lastRead, lastTotal = read, total
	})
	if rerr != nil {
		t.Fatal(rerr)
	}
	if out.Len() != len(dumpPayload) {
		t.Fatalf("got %d bytes, want %d", out.Len(), len(dumpPayload))
	}
	if lastRead != lastTotal || lastTotal != uint32(len(dumpPayload)) {
		t.Fatalf("progress did not reach completion: %d/%d", lastRead, lastTotal)
	}
}

func TestDumpMemoryFailsWithTimeoutOnStall(t *testing.T) {
	client, peer, done := pipePair(t)
	defer done()
	go func() {
		req, rerr := transport.ReceivePacket(context.Background(), peer)
		if rerr != nil || req[0] != opPayloadChunk {
			return
		}
		transport.SendPacket(context.Background(), peer, []byte{opPayloadAck}, transport.DefaultMaxChunk)
		req2, rerr := transport.ReceivePacket(context.Background(), peer)
		if rerr != nil || req2[0] != opBeginDump {
			return
		}
		transport.SendPacket(context.Background(), peer, []byte{opDumpAck}, transport.DefaultMaxChunk)
		// never writes the bulk bytes -> client's RawRead should time out
	}()

	c := New(client, logging.NewDiscard())
	var out bytes.Buffer
	rerr := c.DumpMemory(context.Background(), 0x1000, 4096, []byte("dumper"), &out, nil)
	if rerr == nil || result.KindOf(rerr) != result.Timeout {
		t.Fatalf("expected Timeout, got %v", rerr)
	}
}
