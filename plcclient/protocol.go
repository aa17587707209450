/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package plcclient implements the bootloader's application-level protocol
// on top of transport's framing. The exact opcodes of a real PLC bootloader
// are not part of the available source material (see SPEC_FULL.md §9's
// open-question resolution); this package documents and versions its own
// wire format instead of guessing hardware behavior. The opcodes and the
// packet build/verify helpers live only in this file, so a real device's
// opcodes can be substituted here without touching Client, the
// orchestrator, or the scheduler.
package plcclient

import (
	"encoding/binary"

	"github.com/s7tools/engine/result"
)

// Protocol version 1 opcodes. Every logical packet (one transport.SendPacket/
// ReceivePacket exchange, itself possibly spanning several wire frames) opens
// with a single opcode byte.
const (
	opHandshakeRequest  byte = 0x01
	opHandshakeResponse byte = 0x81
	opVersionRequest    byte = 0x02
	opVersionResponse   byte = 0x82
	opPayloadChunk      byte = 0x03
	opPayloadAck        byte = 0x83
	opBeginDump         byte = 0x04
	opDumpAck           byte = 0x84
	opError             byte = 0xFF
)

// handshakeMagic is the fixed token the bootloader is expected to echo back,
// distinguishing a real bootloader from a misconfigured or silent peer.
var handshakeMagic = [4]byte{0x53, 0x37, 0x42, 0x4C} // "S7BL"

func buildHandshakeRequest() []byte {
	out := make([]byte, 1+len(handshakeMagic))
	out[0] = opHandshakeRequest
	copy(out[1:], handshakeMagic[:])
	return out
}

func verifyHandshakeResponse(payload []byte) *result.Error {
	if len(payload) < 1 {
		return result.New(result.Protocol, `empty handshake response`)
	}
	if payload[0] == opError {
		return result.New(result.Protocol, `bootloader rejected handshake`)
	}
	if payload[0] != opHandshakeResponse {
		return result.Newf(result.Protocol, "unexpected handshake discriminator 0x%02x", payload[0])
	}
	if len(payload) < 1+len(handshakeMagic) || string(payload[1:1+len(handshakeMagic)]) != string(handshakeMagic[:]) {
		return result.New(result.Protocol, `handshake magic mismatch`)
	}
	return nil
}

func buildVersionRequest() []byte {
	return []byte{opVersionRequest}
}

func decodeVersionResponse(payload []byte) (string, *result.Error) {
	if len(payload) < 1 {
		return "", result.New(result.Protocol, `empty version response`)
	}
	if payload[0] == opError {
		return "", result.New(result.Protocol, `bootloader rejected version query`)
	}
	if payload[0] != opVersionResponse {
		return "", result.Newf(result.Protocol, "unexpected version discriminator 0x%02x", payload[0])
	}
	return string(payload[1:]), nil
}

func buildPayloadChunk(payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = opPayloadChunk
	copy(out[1:], payload)
	return out
}

func verifyAck(payload []byte) *result.Error {
	if len(payload) < 1 {
		return result.New(result.Protocol, `empty acknowledgement`)
	}
	if payload[0] == opError {
		return result.New(result.Protocol, `bootloader rejected payload`)
	}
	if payload[0] != opPayloadAck {
		return result.Newf(result.Protocol, "unexpected ack discriminator 0x%02x", payload[0])
	}
	return nil
}

func buildBeginDump(address, length uint32) []byte {
	out := make([]byte, 9)
	out[0] = opBeginDump
	binary.BigEndian.PutUint32(out[1:5], address)
	binary.BigEndian.PutUint32(out[5:9], length)
	return out
}

func verifyDumpAck(payload []byte) *result.Error {
	if len(payload) < 1 {
		return result.New(result.Protocol, `empty dump acknowledgement`)
	}
	if payload[0] == opError {
		return result.New(result.Protocol, `bootloader rejected dump request`)
	}
	if payload[0] != opDumpAck {
		return result.Newf(result.Protocol, "unexpected dump-ack discriminator 0x%02x", payload[0])
	}
	return nil
}
