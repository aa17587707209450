/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package transport

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/s7tools/engine/result"
)

// frame header: 4-byte big-endian chunk length, 1-byte final flag.
const frameHeaderLen = 5

// DefaultMaxChunk is the largest payload carried by a single frame before
// SendPacket splits it across multiple chunks.
const DefaultMaxChunk = 4096

// SendPacket frames payload as one or more chunks of at most maxChunk bytes
// and writes them over t, setting the final flag on the last chunk.
func SendPacket(ctx context.Context, t *Transport, payload []byte, maxChunk int) *result.Error {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunk
	}
	if len(payload) == 0 {
		return writeFrame(ctx, t, nil, true)
	}
	for off := 0; off < len(payload); off += maxChunk {
		end := off + maxChunk
		if end > len(payload) {
			end = len(payload)
		}
		final := end == len(payload)
		if rerr := writeFrame(ctx, t, payload[off:end], final); rerr != nil {
			return rerr
		}
	}
	return nil
}

func writeFrame(ctx context.Context, t *Transport, chunk []byte, final bool) *result.Error {
	header := make([]byte, frameHeaderLen)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(chunk)))
	if final {
		header[4] = 1
	}
	if _, rerr := t.WriteAsync(ctx, header, 0, len(header)); rerr != nil {
		if result.KindOf(rerr) == result.Timeout || result.KindOf(rerr) == result.Cancelled {
			return rerr
		}
		return result.Wrap(result.Protocol, rerr, `failed to write frame header`)
	}
	if len(chunk) == 0 {
		return nil
	}
	if _, rerr := t.WriteAsync(ctx, chunk, 0, len(chunk)); rerr != nil {
		if result.KindOf(rerr) == result.Timeout || result.KindOf(rerr) == result.Cancelled {
			return rerr
		}
		return result.Wrap(result.Protocol, rerr, `failed to write frame payload`)
	}
	return nil
}

// ReceivePacket reads chunks until the final flag is observed, reassembling
// them into a single payload. Short reads are retried (via readFull) until
// the transport's own read timeout expires, which surfaces as a Timeout
// error rather than Protocol, per §4.7's framing-error classification.
func ReceivePacket(ctx context.Context, t *Transport) ([]byte, *result.Error) {
	var out []byte
	for {
		header := make([]byte, frameHeaderLen)
		if rerr := readFull(ctx, t, header); rerr != nil {
			return nil, rerr
		}
		chunkLen := binary.BigEndian.Uint32(header[0:4])
		final := header[4] != 0
		if chunkLen > 0 {
			chunk := make([]byte, chunkLen)
			if rerr := readFull(ctx, t, chunk); rerr != nil {
				return nil, rerr
			}
			out = append(out, chunk...)
		}
		if final {
			return out, nil
		}
	}
}

// readFull fills buf completely, issuing repeated ReadAsync calls to cover
// short reads, classifying any non-timeout I/O failure as Protocol since it
// indicates the peer desynchronized mid-frame.
func readFull(ctx context.Context, t *Transport, buf []byte) *result.Error {
	read := 0
	for read < len(buf) {
		n, rerr := t.ReadAsync(ctx, buf, read, len(buf)-read)
		if rerr != nil {
			if result.KindOf(rerr) == result.Timeout || result.KindOf(rerr) == result.Cancelled {
				return rerr
			}
			return result.Wrap(result.Protocol, rerr, fmt.Sprintf("short frame read at offset %d", read))
		}
		if n == 0 {
			return result.New(result.Protocol, `connection yielded no data mid-frame`)
		}
		read += n
	}
	return nil
}
