/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package engine is the composition root and sole facade exposed to a UI
// (or cmd/s7toolsd), per spec.md §4.10: it wires the profile stores, the
// resource coordinator, the scheduler and the bootloader orchestrator into
// one object and re-exposes only the operations the UI needs.
package engine

import (
	"path/filepath"
	"time"

	"github.com/s7tools/engine/coordinator"
	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/orchestrator"
	"github.com/s7tools/engine/profile"
	"github.com/s7tools/engine/profilestore"
	"github.com/s7tools/engine/result"
	"github.com/s7tools/engine/s7toolsconf"
	"github.com/s7tools/engine/scheduler"
)

const bridgeHost = `127.0.0.1`

// Engine owns every long-lived component of one running instance.
type Engine struct {
	cfg *s7toolsconf.Config
	lg  *logging.Logger

	serial *profilestore.Store[profile.SerialPortProfile, *profile.SerialPortProfile]
	socat  *profilestore.Store[profile.SocatProfile, *profile.SocatProfile]
	power  *profilestore.Store[profile.PowerSupplyProfile, *profile.PowerSupplyProfile]
	job    *profilestore.Store[profile.JobProfile, *profile.JobProfile]

	coord *coordinator.Coordinator
	orch  *orchestrator.Orchestrator
	sched *scheduler.Scheduler
}

// New constructs an Engine from a loaded, verified configuration. It opens
// (creating if absent) all four profile directories, materializes the
// system default profile for each type the first time they're empty, and
// starts the scheduler.
func New(cfg *s7toolsconf.Config, payloads orchestrator.PayloadProvider, retries *orchestrator.RetryConfiguration, lg *logging.Logger) (*Engine, error) {
	base := cfg.Global.Profiles_Base_Path

	serialStore, err := profilestore.New[profile.SerialPortProfile](filepath.Join(base, `SerialPortProfiles`), profile.KindSerial, profile.ValidateSerialPortProfile, lg)
	if err != nil {
		return nil, err
	}
	socatStore, err := profilestore.New[profile.SocatProfile](filepath.Join(base, `SocatProfiles`), profile.KindSocat, profile.ValidateSocatProfile, lg)
	if err != nil {
		return nil, err
	}
	powerStore, err := profilestore.New[profile.PowerSupplyProfile](filepath.Join(base, `PowerSupplyProfiles`), profile.KindPowerSupply, profile.ValidatePowerSupplyProfile, lg)
	if err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg, lg: lg, serial: serialStore, socat: socatStore, power: powerStore}

	jobStore, err := profilestore.New[profile.JobProfile](filepath.Join(base, `JobProfiles`), profile.KindJob, func(p *profile.JobProfile) *profile.ValidationResult {
		return profile.ValidateJobProfile(p, e)
	}, lg)
	if err != nil {
		return nil, err
	}
	e.job = jobStore

	serialDefault, rerr := e.serial.EnsureDefaultExists(defaultSerialProfile)
	if rerr != nil {
		return nil, rerr
	}
	socatDefault, rerr := e.socat.EnsureDefaultExists(defaultSocatProfile)
	if rerr != nil {
		return nil, rerr
	}
	powerDefault, rerr := e.power.EnsureDefaultExists(defaultPowerSupplyProfile)
	if rerr != nil {
		return nil, rerr
	}
	if _, rerr := e.job.EnsureDefaultExists(func() *profile.JobProfile {
		return defaultJobProfile(serialDefault.Id, socatDefault.Id, powerDefault.Id)
	}); rerr != nil {
		return nil, rerr
	}

	e.coord = coordinator.New()
	e.orch = orchestrator.New(e, payloads, retries, cfg.Global.Stty_Binary, cfg.Global.Socat_Binary, lg)
	e.sched = scheduler.New(e.coord, e, e.orch, cfg.Global.Max_Concurrent_Tasks, lg)
	e.sched.Start()
	return e, nil
}

// Stop gracefully shuts the scheduler down, waiting for in-flight teardowns
// to finish before returning.
func (e *Engine) Stop() {
	e.sched.Stop()
}

// --- Task operations (spec.md §4.10) ---------------------------------------

func (e *Engine) CreateTask(jobProfileId int, priority scheduler.Priority) (*scheduler.TaskExecution, *result.Error) {
	job, ok := e.job.GetById(jobProfileId)
	if !ok {
		return nil, result.Newf(result.NotFound, "job profile %d not found", jobProfileId)
	}
	return e.sched.CreateTask(jobProfileId, job.Name, priority), nil
}

func (e *Engine) EnqueueTask(taskId string) *result.Error { return e.sched.EnqueueTask(taskId) }

func (e *Engine) ScheduleTask(taskId string, when time.Time) *result.Error {
	return e.sched.ScheduleTask(taskId, when)
}

func (e *Engine) CancelTask(taskId, reason string) (bool, *result.Error) {
	return e.sched.CancelTask(taskId, reason)
}

func (e *Engine) PauseTask(taskId string) *result.Error  { return e.sched.PauseTask(taskId) }
func (e *Engine) ResumeTask(taskId string) *result.Error { return e.sched.ResumeTask(taskId) }

func (e *Engine) RestartTask(taskId string) (*scheduler.TaskExecution, *result.Error) {
	return e.sched.RestartTask(taskId)
}

func (e *Engine) GetTask(taskId string) (*scheduler.TaskExecution, bool) { return e.sched.GetTask(taskId) }
func (e *Engine) GetAll() []*scheduler.TaskExecution                     { return e.sched.GetAll() }
func (e *Engine) GetByState(s scheduler.State) []*scheduler.TaskExecution { return e.sched.GetByState(s) }
func (e *Engine) GetByPriority(p scheduler.Priority) []*scheduler.TaskExecution {
	return e.sched.GetByPriority(p)
}
func (e *Engine) GetQueued() []*scheduler.TaskExecution  { return e.sched.GetQueued() }
func (e *Engine) GetRunning() []*scheduler.TaskExecution { return e.sched.GetRunning() }
func (e *Engine) GetByJobProfile(jobProfileId int) []*scheduler.TaskExecution {
	return e.sched.GetByJobProfile(jobProfileId)
}

// Subscribe streams TaskStateChanged/TaskProgressUpdated events, per
// spec.md §4.6/§4.10.
func (e *Engine) Subscribe() <-chan scheduler.Event { return e.sched.Subscribe() }

func (e *Engine) SetMaxConcurrentTasks(n int) { e.sched.SetMaxConcurrentTasks(n) }
func (e *Engine) CleanupOldTasks(maxAge time.Duration) int { return e.sched.CleanupOldTasks(maxAge) }
func (e *Engine) GetStatistics() scheduler.Statistics      { return e.sched.GetStatistics() }

// --- Diagnostics, delegated to the orchestrator -----------------------------

func (e *Engine) ValidateResources(jobProfileId int) *result.Error {
	return e.orch.ValidateResources(jobProfileId)
}

// --- Profile store accessors (spec.md §4.10 "profile CRUD per type") -------
//
// Each accessor returns the typed store directly rather than re-exposing
// every CRUD method as a same-named Engine method four times over; Engine
// remains the UI's only import, it simply re-exports the store's already
// complete CRUD/import/export/subscribe surface for that one profile type.

func (e *Engine) SerialProfiles() *profilestore.Store[profile.SerialPortProfile, *profile.SerialPortProfile] {
	return e.serial
}
func (e *Engine) SocatProfiles() *profilestore.Store[profile.SocatProfile, *profile.SocatProfile] {
	return e.socat
}
func (e *Engine) PowerSupplyProfiles() *profilestore.Store[profile.PowerSupplyProfile, *profile.PowerSupplyProfile] {
	return e.power
}
func (e *Engine) JobProfiles() *profilestore.Store[profile.JobProfile, *profile.JobProfile] {
	return e.job
}
