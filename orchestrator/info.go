/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package orchestrator

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/s7tools/engine/device"
	"github.com/s7tools/engine/plcclient"
	"github.com/s7tools/engine/profile"
	"github.com/s7tools/engine/result"
	"github.com/s7tools/engine/transport"
)

// CapabilityFlags mirrors the bootloader's reported feature set, per
// spec.md §4.9.
type CapabilityFlags struct {
	MemoryRead         bool
	MemoryWrite        bool
	FlashAccess        bool
	RealTimeMonitoring bool
	PauseResume        bool
	Checksums          bool
	Compression        bool
}

// BootloaderInfo is the result of GetBootloaderInfo.
type BootloaderInfo struct {
	Version         string
	PLCModel        string
	Firmware        string
	MemoryRegions   []profile.MemoryRegion
	MaxTransferSize int
	Capabilities    CapabilityFlags
}

// KnownMemoryLayout is the set of address ranges this build's bootloader
// recognizes. Real hardware would report this from the device; absent that
// source, it is a fixed table covering the S7-1200 work/load memory split
// wide enough for typical dump jobs, documented as an assumption in
// DESIGN.md alongside the other protocol open-question resolutions.
var KnownMemoryLayout = []profile.MemoryRegion{
	{StartAddress: 0x00000000, Length: 0x00100000}, // work memory
	{StartAddress: 0x08000000, Length: 0x00400000}, // load memory
}

func regionKnown(r profile.MemoryRegion) bool {
	for _, k := range KnownMemoryLayout {
		if r.StartAddress >= k.StartAddress && r.StartAddress+r.Length <= k.StartAddress+k.Length {
			return true
		}
	}
	return false
}

// ValidateResources performs the pre-flight checks of spec.md §4.9 without
// any side effects: it never configures the serial line, starts the bridge,
// or touches power.
func (o *Orchestrator) ValidateResources(jobProfileId int) *result.Error {
	res, rerr := o.resolve(jobProfileId)
	if rerr != nil {
		return rerr
	}
	if !device.ProbeAccessible(res.serial.Device, 200*time.Millisecond) {
		return result.Newf(result.Validation, "serial device %s is not accessible", res.serial.Device).WithProperty(`Device`)
	}
	if !device.PortFree(res.socat.ListenPort) {
		return result.Newf(result.Validation, "TCP port %d is already in use", res.socat.ListenPort).WithProperty(`ListenPort`)
	}
	if !hostReachable(res.power.Modbus.Host, res.power.Modbus.Port, 500*time.Millisecond) {
		return result.Newf(result.Validation, "power-supply host %s:%d is not reachable", res.power.Modbus.Host, res.power.Modbus.Port).WithProperty(`Host`)
	}
	if !regionKnown(res.job.MemoryRegion) {
		return result.New(result.Validation, `memory region is outside the known layout`).WithProperty(`MemoryRegion`)
	}
	return nil
}

func hostReachable(host string, port int, timeout time.Duration) bool {
	conn, err := net.DialTimeout(`tcp`, fmt.Sprintf("%s:%d", host, port), timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// withHandshakedClient connects to an already-running bridge, performs a
// single handshake attempt (no retry: these are interactive diagnostic
// calls, not job execution), runs fn, and always disconnects.
func (o *Orchestrator) withHandshakedClient(ctx context.Context, jobProfileId int, fn func(*plcclient.Client) *result.Error) *result.Error {
	res, rerr := o.resolve(jobProfileId)
	if rerr != nil {
		return rerr
	}
	t, rerr := transport.Connect(ctx, bridgeHost, res.socat.ListenPort, transport.Timeouts{
		Connect: 2 * time.Second, Read: 5 * time.Second, Write: 5 * time.Second,
	})
	if rerr != nil {
		return rerr
	}
	defer t.Close()

	client := plcclient.New(t, o.lg)
	if rerr := client.Handshake(ctx); rerr != nil {
		return rerr
	}
	return fn(client)
}

// TestConnection performs a handshake-only dry run against a job's bridge
// and disconnects, per spec.md §4.9.
func (o *Orchestrator) TestConnection(ctx context.Context, jobProfileId int) *result.Error {
	return o.withHandshakedClient(ctx, jobProfileId, func(*plcclient.Client) *result.Error { return nil })
}

// GetBootloaderInfo reports the bootloader's self-described capabilities.
// Version and Firmware both carry the version-query response. The other
// fields (model, region table, transfer size, capability flags) are this
// build's static
// description of the protocol it implements rather than anything the real
// device reports, since — like the opcode table itself — no such telemetry
// exists in the available source material.
func (o *Orchestrator) GetBootloaderInfo(ctx context.Context, jobProfileId int) (*BootloaderInfo, *result.Error) {
	var info BootloaderInfo
	rerr := o.withHandshakedClient(ctx, jobProfileId, func(c *plcclient.Client) *result.Error {
		v, rerr := c.GetBootloaderVersion(ctx)
		if rerr != nil {
			return rerr
		}
		info = BootloaderInfo{
			Version:         v,
			PLCModel:        `S7-1200`,
			Firmware:        v,
			MemoryRegions:   KnownMemoryLayout,
			MaxTransferSize: transport.DefaultMaxChunk,
			Capabilities: CapabilityFlags{
				MemoryRead:  true,
				PauseResume: true,
			},
		}
		return nil
	})
	if rerr != nil {
		return nil, rerr
	}
	return &info, nil
}

// EstimateOperationTime reports an estimated dump duration for region based
// on observed throughput from past runs (bytesPerSecond), falling back to a
// conservative default when no observation exists yet.
func EstimateOperationTime(region profile.MemoryRegion, observedBytesPerSecond float64) time.Duration {
	const fallbackBytesPerSecond = 32 * 1024
	rate := observedBytesPerSecond
	if rate <= 0 {
		rate = fallbackBytesPerSecond
	}
	seconds := float64(region.Length) / rate
	return time.Duration(seconds * float64(time.Second))
}
