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
	"os"
	"path/filepath"
	"time"

	"github.com/s7tools/engine/device"
	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/plcclient"
	"github.com/s7tools/engine/profile"
	"github.com/s7tools/engine/result"
	"github.com/s7tools/engine/scheduler"
	"github.com/s7tools/engine/transport"
)

// ProfileResolver fetches the typed profiles a job references. The engine
// facade (C10) implements this over its profilestore instances.
type ProfileResolver interface {
	GetJobProfile(id int) (*profile.JobProfile, bool)
	GetSerialProfile(id int) (*profile.SerialPortProfile, bool)
	GetSocatProfile(id int) (*profile.SocatProfile, bool)
	GetPowerSupplyProfile(id int) (*profile.PowerSupplyProfile, bool)
}

// stage names reported through progress, per spec.md §4.9.
const (
	StagePrepareSerial  = `prepare-serial`
	StageStartBridge    = `start-bridge`
	StagePowerCycle     = `power-cycle`
	StageConnectTCP     = `connect-tcp`
	StageHandshake      = `handshake`
	StageInstallStager  = `install-stager`
	StageDumpMemory     = `dump-memory`
	StageTeardown       = `teardown`
)

// percent sub-bands per spec.md §4.9.
const (
	bandPrepareLo, bandPrepareHi   = 0, 5
	bandBridgeLo, bandBridgeHi     = 5, 10
	bandPowerLo, bandPowerHi       = 10, 20
	bandConnectLo, bandConnectHi   = 20, 25
	bandHandshakeLo, bandHandshakeHi = 25, 30
	bandStagerLo, bandStagerHi     = 30, 40
	bandDumpLo, bandDumpHi         = 40, 95
	bandTeardownLo, bandTeardownHi = 95, 100
)

const (
	powerCycleDelay   = 2 * time.Second
	bridgeHost        = `127.0.0.1`
	partialSuffix     = `.partial`
)

// Orchestrator drives one job end to end and satisfies scheduler.Orchestrator.
type Orchestrator struct {
	resolver ProfileResolver
	payloads PayloadProvider
	retries  *RetryConfiguration
	sttyBin  string
	socatBin string
	lg       *logging.Logger
}

func New(resolver ProfileResolver, payloads PayloadProvider, retries *RetryConfiguration, sttyBin, socatBin string, lg *logging.Logger) *Orchestrator {
	if retries == nil {
		retries = DefaultRetryConfiguration()
	}
	return &Orchestrator{resolver: resolver, payloads: payloads, retries: retries, sttyBin: sttyBin, socatBin: socatBin, lg: lg}
}

// resolved bundles the profile set one job needs.
type resolved struct {
	job    *profile.JobProfile
	serial *profile.SerialPortProfile
	socat  *profile.SocatProfile
	power  *profile.PowerSupplyProfile
}

func (o *Orchestrator) resolve(jobProfileId int) (*resolved, *result.Error) {
	job, ok := o.resolver.GetJobProfile(jobProfileId)
	if !ok {
		return nil, result.Newf(result.NotFound, "job profile %d not found", jobProfileId)
	}
	serial, ok := o.resolver.GetSerialProfile(job.SerialProfileId)
	if !ok {
		return nil, result.Newf(result.NotFound, "serial profile %d not found", job.SerialProfileId)
	}
	socat, ok := o.resolver.GetSocatProfile(job.SocatProfileId)
	if !ok {
		return nil, result.Newf(result.NotFound, "socat profile %d not found", job.SocatProfileId)
	}
	power, ok := o.resolver.GetPowerSupplyProfile(job.PowerSupplyProfileId)
	if !ok {
		return nil, result.Newf(result.NotFound, "power supply profile %d not found", job.PowerSupplyProfileId)
	}
	if power.Modbus == nil {
		return nil, result.New(result.Validation, `power supply profile has no modbus configuration`)
	}
	return &resolved{job: job, serial: serial, socat: socat, power: power}, nil
}

// Run implements scheduler.Orchestrator. The snapshot exec is read-only;
// progress/state flow out exclusively through ctrl.
func (o *Orchestrator) Run(ctx context.Context, exec scheduler.TaskExecution, ctrl *scheduler.Control) (string, *result.Error) {
	res, rerr := o.resolve(exec.JobProfileId)
	if rerr != nil {
		return "", rerr
	}

	var td teardownStack
	outputPath := outputPathFor(res.job, exec.TaskId)
	var primary *result.Error

	primary = o.runStages(ctx, res, ctrl, &td, outputPath)
	primary = td.runAll(primary)

	if primary != nil {
		markPartial(outputPath)
		return "", primary
	}
	return outputPath, nil
}

func outputPathFor(job *profile.JobProfile, taskId string) string {
	name := fmt.Sprintf("dump-%s-%s.bin", job.Name, taskId)
	return filepath.Join(job.OutputDirectory, name)
}

// markPartial renames a started-but-incomplete dump file so operators never
// mistake it for a clean result, per the open-question resolution in
// SPEC_FULL.md §9 ("keep with .partial suffix, never delete").
func markPartial(outputPath string) {
	if _, err := os.Stat(outputPath); err != nil {
		return
	}
	os.Rename(outputPath, outputPath+partialSuffix)
}

func (o *Orchestrator) runStages(ctx context.Context, res *resolved, ctrl *scheduler.Control, td *teardownStack, outputPath string) *result.Error {
	ctrl.Progress(bandPrepareLo, StagePrepareSerial)
	serialAdapter := device.NewSerialAdapter(o.sttyBin, o.lg)
	if _, rerr := serialAdapter.Apply(ctx, res.serial.Device, res.serial); rerr != nil {
		return rerr
	}
	ctrl.Progress(bandPrepareHi, StagePrepareSerial)
	if rerr := awaitResume(ctx, ctrl); rerr != nil {
		return rerr
	}

	ctrl.Progress(bandBridgeLo, StageStartBridge)
	bridge := device.NewBridge(o.socatBin, o.lg)
	if rerr := bridge.Start(ctx, res.socat, res.serial.Device); rerr != nil {
		return rerr
	}
	td.push(func() error { return asError(bridge.Stop()) })
	ctrl.Progress(bandBridgeHi, StageStartBridge)

	ctrl.Progress(bandPowerLo, StagePowerCycle)
	power := device.NewPowerSupply(res.power.Modbus, o.lg)
	if rerr := o.retries.withRetry(ctx, ClassPowerControl, nil, func() *result.Error {
		return power.PowerCycle(ctx, powerCycleDelay)
	}); rerr != nil {
		return rerr
	}
	td.push(func() error {
		// post-dump configured state: de-energize the device, per the
		// open-question resolution recorded in DESIGN.md.
		return asError(power.SetPower(context.Background(), false))
	})
	ctrl.Progress(bandPowerHi, StagePowerCycle)

	ctrl.Progress(bandConnectLo, StageConnectTCP)
	var t *transport.Transport
	if rerr := o.retries.withRetry(ctx, ClassConnection, nil, func() *result.Error {
		conn, rerr := transport.Connect(ctx, bridgeHost, res.socat.ListenPort, transport.Timeouts{
			Connect: 2 * time.Second, Read: 5 * time.Second, Write: 5 * time.Second,
		})
		if rerr != nil {
			return rerr
		}
		t = conn
		return nil
	}); rerr != nil {
		return rerr
	}
	td.push(func() error { return t.Close() })
	ctrl.Progress(bandConnectHi, StageConnectTCP)

	client := plcclient.New(t, o.lg)

	if rerr := o.retries.withRetry(ctx, ClassHandshake, func(attempt int) {
		ctrl.Progress(bandHandshakeLo, StageHandshake)
	}, func() *result.Error {
		return client.Handshake(ctx)
	}); rerr != nil {
		return rerr
	}
	ctrl.Progress(bandHandshakeHi, StageHandshake)
	if rerr := awaitResume(ctx, ctrl); rerr != nil {
		return rerr
	}

	ctrl.Progress(bandStagerLo, StageInstallStager)
	if rerr := o.retries.withRetry(ctx, ClassPayloadInstallation, nil, func() *result.Error {
		return client.InstallStager(ctx, o.payloads.StagerPayload())
	}); rerr != nil {
		return rerr
	}
	ctrl.Progress(bandStagerHi, StageInstallStager)

	if err := os.MkdirAll(res.job.OutputDirectory, 0o755); err != nil {
		return result.Wrap(result.Internal, err, `failed to create output directory`)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return result.Wrap(result.Internal, err, `failed to create output file`)
	}
	defer out.Close()

	region := res.job.MemoryRegion
	rerr := o.retries.withRetry(ctx, ClassMemoryRead, nil, func() *result.Error {
		out.Truncate(0)
		out.Seek(0, 0)
		return client.DumpMemory(ctx, region.StartAddress, region.Length, o.payloads.DumperPayload(), out, func(read, total uint32) {
			pct := bandDumpLo
			if total > 0 {
				pct = bandDumpLo + int(float64(read)/float64(total)*float64(bandDumpHi-bandDumpLo))
			}
			ctrl.Progress(pct, StageDumpMemory)
		})
	})
	if rerr != nil {
		return rerr
	}
	ctrl.Progress(bandDumpHi, StageDumpMemory)

	ctrl.Progress(bandTeardownLo, StageTeardown)
	return nil
}

func awaitResume(ctx context.Context, ctrl *scheduler.Control) *result.Error {
	if err := ctrl.AwaitResume(ctx); err != nil {
		return result.Wrap(result.Cancelled, err, `cancelled while paused`)
	}
	return nil
}

// asError adapts a *result.Error into a plain error for teardown closures,
// avoiding the classic Go nil-interface pitfall of wrapping a nil pointer.
func asError(rerr *result.Error) error {
	if rerr == nil {
		return nil
	}
	return rerr
}
