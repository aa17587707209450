/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package device

import (
	"context"
	"fmt"
	"net"
	"time"

	modbus "github.com/hootrhino/gomodbus"

	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/profile"
	"github.com/s7tools/engine/result"
)

const (
	fnWriteSingleCoil = 0x05
	fnReadCoils       = 0x01

	coilOn  = 0xFF00
	coilOff = 0x0000
)

// PowerSupply drives a Modbus-TCP controlled power relay. It wraps
// github.com/hootrhino/gomodbus's TCPTransporter, which this codebase
// sources from the pack rather than hand-rolling MBAP framing, and hand
// builds the two PDUs (read coils / write single coil) it needs.
type PowerSupply struct {
	cfg *profile.ModbusTcpConfiguration
	lg  *logging.Logger
}

func NewPowerSupply(cfg *profile.ModbusTcpConfiguration, lg *logging.Logger) *PowerSupply {
	return &PowerSupply{cfg: cfg, lg: lg}
}

func (p *PowerSupply) dial(ctx context.Context) (*modbus.TCPTransporter, *result.Error) {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	d := net.Dialer{Timeout: time.Duration(p.cfg.ConnectTimeoutMs) * time.Millisecond}
	conn, err := d.DialContext(ctx, `tcp`, addr)
	if err != nil {
		return nil, result.Wrap(result.Transport, err, fmt.Sprintf("failed to dial power supply at %s", addr))
	}
	tcfg := modbus.DefaultTCPTransporterConfig()
	readTimeout := time.Duration(p.cfg.ReadTimeoutMs) * time.Millisecond
	writeTimeout := time.Duration(p.cfg.WriteTimeoutMs) * time.Millisecond
	if readTimeout > writeTimeout {
		tcfg.Timeout = readTimeout
	} else {
		tcfg.Timeout = writeTimeout
	}
	tcfg.MaxRetries = 1 // retry/backoff is handled at the PowerSupply level, not the transporter's
	return modbus.NewTCPTransporter(conn, tcfg), nil
}

func writeSingleCoilPDU(coil uint16, on bool) []byte {
	val := uint16(coilOff)
	if on {
		val = coilOn
	}
	return []byte{
		fnWriteSingleCoil,
		byte(coil >> 8), byte(coil),
		byte(val >> 8), byte(val),
	}
}

func readCoilsPDU(coil uint16, count uint16) []byte {
	return []byte{
		fnReadCoils,
		byte(coil >> 8), byte(coil),
		byte(count >> 8), byte(count),
	}
}

// withRetry runs op up to cfg.MaxRetryAttempts times, honoring cancellation
// between attempts and pausing cfg.ReconnectDelayMs between them, per the
// AutoReconnect/MaxRetryAttempts/ReconnectDelayMs knobs of
// ModbusTcpConfiguration.
func (p *PowerSupply) withRetry(ctx context.Context, op func() *result.Error) *result.Error {
	attempts := p.cfg.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(p.cfg.ReconnectDelayMs) * time.Millisecond
	var last *result.Error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return result.Wrap(result.Cancelled, ctx.Err(), `power supply operation cancelled`)
		}
		last = op()
		if last == nil {
			return nil
		}
		if !p.cfg.AutoReconnect || i == attempts-1 {
			break
		}
		p.lg.Warn("power supply operation failed, retrying", logging.KV(`attempt`, i+1), logging.KVErr(last))
		select {
		case <-ctx.Done():
			return result.Wrap(result.Cancelled, ctx.Err(), `power supply operation cancelled`)
		case <-time.After(delay):
		}
	}
	return last
}

// SetPower writes the on/off coil, converting the profile's Base0/Base1
// addressing to the wire-level Base0 coil address via WireCoil().
func (p *PowerSupply) SetPower(ctx context.Context, on bool) *result.Error {
	return p.withRetry(ctx, func() *result.Error {
		t, derr := p.dial(ctx)
		if derr != nil {
			return derr
		}
		defer t.Close()

		pdu := writeSingleCoilPDU(p.cfg.WireCoil(), on)
		resp, err := t.SendAndReceiveWithContext(ctx, uint8(p.cfg.DeviceId), pdu)
		if err != nil {
			return result.Wrap(result.Transport, err, `write single coil failed`)
		}
		if len(resp) < 1 || resp[0] != fnWriteSingleCoil {
			return result.New(result.Protocol, `unexpected write-coil response function code`)
		}
		return nil
	})
}

// ReadPower reads back the current coil state.
func (p *PowerSupply) ReadPower(ctx context.Context) (bool, *result.Error) {
	var on bool
	rerr := p.withRetry(ctx, func() *result.Error {
		t, derr := p.dial(ctx)
		if derr != nil {
			return derr
		}
		defer t.Close()

		pdu := readCoilsPDU(p.cfg.WireCoil(), 1)
		resp, err := t.SendAndReceiveWithContext(ctx, uint8(p.cfg.DeviceId), pdu)
		if err != nil {
			return result.Wrap(result.Transport, err, `read coils failed`)
		}
		if len(resp) < 3 || resp[0] != fnReadCoils {
			return result.New(result.Protocol, `unexpected read-coils response function code`)
		}
		on = resp[2]&0x01 != 0
		return nil
	})
	return on, rerr
}

// PowerCycle turns the coil off, waits delay, then turns it back on. Errors
// on either leg abort the cycle; the caller decides whether to retry.
func (p *PowerSupply) PowerCycle(ctx context.Context, delay time.Duration) *result.Error {
	p.lg.Info("power cycling", logging.KV(`host`, p.cfg.Host), logging.KV(`coil`, p.cfg.OnOffCoil))
	if rerr := p.SetPower(ctx, false); rerr != nil {
		if rerr.Kind == result.Cancelled {
			return rerr
		}
		return result.Wrap(result.External, rerr, `power-off leg of power cycle failed`)
	}
	select {
	case <-ctx.Done():
		return result.Wrap(result.Cancelled, ctx.Err(), `power cycle cancelled during off period`)
	case <-time.After(delay):
	}
	if rerr := p.SetPower(ctx, true); rerr != nil {
		if rerr.Kind == result.Cancelled {
			return rerr
		}
		return result.Wrap(result.External, rerr, `power-on leg of power cycle failed`)
	}
	return nil
}
