/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package engine

import (
	"github.com/s7tools/engine/coordinator"
	"github.com/s7tools/engine/profile"
	"github.com/s7tools/engine/result"
)

// SerialExists, SocatExists, PowerSupplyExists satisfy profile.ProfileResolver,
// used by ValidateJobProfile to check cross-profile references.
func (e *Engine) SerialExists(id int) bool {
	_, ok := e.serial.GetById(id)
	return ok
}

func (e *Engine) SocatExists(id int) bool {
	_, ok := e.socat.GetById(id)
	return ok
}

func (e *Engine) PowerSupplyExists(id int) bool {
	_, ok := e.power.GetById(id)
	return ok
}

// GetJobProfile, GetSerialProfile, GetSocatProfile, GetPowerSupplyProfile
// satisfy orchestrator.ProfileResolver.
func (e *Engine) GetJobProfile(id int) (*profile.JobProfile, bool) { return e.job.GetById(id) }
func (e *Engine) GetSerialProfile(id int) (*profile.SerialPortProfile, bool) {
	return e.serial.GetById(id)
}
func (e *Engine) GetSocatProfile(id int) (*profile.SocatProfile, bool) { return e.socat.GetById(id) }
func (e *Engine) GetPowerSupplyProfile(id int) (*profile.PowerSupplyProfile, bool) {
	return e.power.GetById(id)
}

// Resolve satisfies scheduler.ResourceResolver: it maps a job to the
// physical resources spec.md §1 says a running task holds exclusive locks
// on — a serial device, a TCP listen port, the PLC endpoint behind it, and
// a power-supply coil.
func (e *Engine) Resolve(jobProfileId int) ([]coordinator.ResourceKey, *result.Error) {
	job, ok := e.job.GetById(jobProfileId)
	if !ok {
		return nil, result.Newf(result.NotFound, "job profile %d not found", jobProfileId)
	}
	serial, ok := e.serial.GetById(job.SerialProfileId)
	if !ok {
		return nil, result.Newf(result.NotFound, "serial profile %d not found", job.SerialProfileId)
	}
	socat, ok := e.socat.GetById(job.SocatProfileId)
	if !ok {
		return nil, result.Newf(result.NotFound, "socat profile %d not found", job.SocatProfileId)
	}
	power, ok := e.power.GetById(job.PowerSupplyProfileId)
	if !ok {
		return nil, result.Newf(result.NotFound, "power supply profile %d not found", job.PowerSupplyProfileId)
	}
	if power.Modbus == nil {
		return nil, result.New(result.Validation, `power supply profile has no modbus configuration`)
	}
	return []coordinator.ResourceKey{
		coordinator.SerialDevice(serial.Device),
		coordinator.TcpPort(socat.ListenPort),
		coordinator.PlcHost(bridgeHost, socat.ListenPort),
		coordinator.PowerCoil(power.Modbus.Host, power.Modbus.Port, int(power.Modbus.OnOffCoil)),
	}, nil
}
