/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package plcclient

import (
	"context"
	"io"

	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/result"
	"github.com/s7tools/engine/transport"
)

// Client drives the bootloader protocol over an already-connected transport.
// Each method here is a single attempt: the orchestrator (C9) owns the
// per-operation-class RetryConfiguration and re-invokes these methods across
// attempts, which is also what makes a retried handshake visible as repeated
// TaskProgressUpdated events for the same stage rather than a silent loop
// hidden inside this client.
type Client struct {
	t  *transport.Transport
	lg *logging.Logger
}

func New(t *transport.Transport, lg *logging.Logger) *Client {
	return &Client{t: t, lg: lg}
}

// Handshake sends the fixed handshake request and verifies the bootloader's
// response discriminator and magic.
func (c *Client) Handshake(ctx context.Context) *result.Error {
	if rerr := transport.SendPacket(ctx, c.t, buildHandshakeRequest(), transport.DefaultMaxChunk); rerr != nil {
		return rerr
	}
	resp, rerr := transport.ReceivePacket(ctx, c.t)
	if rerr != nil {
		return rerr
	}
	return verifyHandshakeResponse(resp)
}

// GetBootloaderVersion issues a version query and decodes the response.
func (c *Client) GetBootloaderVersion(ctx context.Context) (string, *result.Error) {
	if rerr := transport.SendPacket(ctx, c.t, buildVersionRequest(), transport.DefaultMaxChunk); rerr != nil {
		return "", rerr
	}
	resp, rerr := transport.ReceivePacket(ctx, c.t)
	if rerr != nil {
		return "", rerr
	}
	return decodeVersionResponse(resp)
}

// InstallStager sends payload as a single logical packet (transport handles
// the wire-level chunking internally) and waits for an acknowledgement.
func (c *Client) InstallStager(ctx context.Context, payload []byte) *result.Error {
	return c.sendPayloadAndAwaitAck(ctx, payload)
}

func (c *Client) sendPayloadAndAwaitAck(ctx context.Context, payload []byte) *result.Error {
	if rerr := transport.SendPacket(ctx, c.t, buildPayloadChunk(payload), transport.DefaultMaxChunk); rerr != nil {
		return rerr
	}
	resp, rerr := transport.ReceivePacket(ctx, c.t)
	if rerr != nil {
		return rerr
	}
	return verifyAck(resp)
}

// DumpMemory installs dumperPayload, issues a begin-dump command for
// [address, address+length), and streams exactly length bytes from the raw
// (unframed) connection into out, invoking progress after every chunk read.
// A mid-stream read timeout fails the whole call with Timeout; per §4.8
// there is no partial retry inside one dump — the orchestrator retries the
// entire DumpMemory call if its RetryConfiguration permits.
func (c *Client) DumpMemory(ctx context.Context, address, length uint32, dumperPayload []byte, out io.Writer, progress func(bytesRead, total uint32)) *result.Error {
	if rerr := c.sendPayloadAndAwaitAck(ctx, dumperPayload); rerr != nil {
		return rerr
	}
	if rerr := transport.SendPacket(ctx, c.t, buildBeginDump(address, length), transport.DefaultMaxChunk); rerr != nil {
		return rerr
	}
	resp, rerr := transport.ReceivePacket(ctx, c.t)
	if rerr != nil {
		return rerr
	}
	if rerr := verifyDumpAck(resp); rerr != nil {
		return rerr
	}

	const chunkSize = 4096
	buf := make([]byte, chunkSize)
	var read uint32
	for read < length {
		want := int(length - read)
		if want > chunkSize {
			want = chunkSize
		}
		n, rerr := c.t.RawRead(ctx, buf[:want])
		if rerr != nil {
			return rerr
		}
		if n == 0 {
			return result.New(result.Protocol, `connection yielded no data mid-dump`)
		}
		if _, err := out.Write(buf[:n]); err != nil {
			return result.Wrap(result.Internal, err, `failed to write dump output`)
		}
		read += uint32(n)
		if progress != nil {
			progress(read, length)
		}
	}
	return nil
}
