/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package engine

import (
	"testing"

	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/orchestrator"
	"github.com/s7tools/engine/s7toolsconf"
	"github.com/s7tools/engine/scheduler"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := &s7toolsconf.Config{}
	cfg.Global.Profiles_Base_Path = t.TempDir()
	cfg.Global.Stty_Binary = `stty`
	cfg.Global.Socat_Binary = `socat`
	cfg.Global.Max_Concurrent_Tasks = 2

	payloads := orchestrator.StaticPayloadProvider{Stager: []byte("stager"), Dumper: []byte("dumper")}
	e, err := New(cfg, payloads, orchestrator.DefaultRetryConfiguration(), logging.NewDiscard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(e.Stop)
	return e
}

func TestNewBootstrapsDefaultProfilesForEveryType(t *testing.T) {
	e := newTestEngine(t)

	serial, ok := e.SerialProfiles().GetDefault()
	if !ok || !serial.IsDefault {
		t.Fatal("expected a default serial profile")
	}
	socat, ok := e.SocatProfiles().GetDefault()
	if !ok || !socat.IsDefault {
		t.Fatal("expected a default socat profile")
	}
	power, ok := e.PowerSupplyProfiles().GetDefault()
	if !ok || !power.IsDefault {
		t.Fatal("expected a default power supply profile")
	}
	job, ok := e.JobProfiles().GetDefault()
	if !ok || !job.IsDefault {
		t.Fatal("expected a default job profile")
	}
	if job.SerialProfileId != serial.Id || job.SocatProfileId != socat.Id || job.PowerSupplyProfileId != power.Id {
		t.Fatal("expected default job profile to reference the default serial/socat/power profiles")
	}
}

func TestResolverMethodsReflectStoreState(t *testing.T) {
	e := newTestEngine(t)
	serial, _ := e.SerialProfiles().GetDefault()

	if !e.SerialExists(serial.Id) {
		t.Fatal("expected SerialExists to find the bootstrapped default")
	}
	if e.SerialExists(serial.Id + 1000) {
		t.Fatal("expected SerialExists to reject an unknown id")
	}

	job, _ := e.JobProfiles().GetDefault()
	keys, rerr := e.Resolve(job.Id)
	if rerr != nil {
		t.Fatalf("Resolve: %v", rerr)
	}
	if len(keys) != 4 {
		t.Fatalf("expected 4 resource keys (serial, tcp, plc, coil), got %d", len(keys))
	}
}

func TestResolveFailsForUnknownJobProfile(t *testing.T) {
	e := newTestEngine(t)
	if _, rerr := e.Resolve(999999); rerr == nil {
		t.Fatal("expected Resolve to fail for a nonexistent job profile")
	}
}

func TestCreateTaskRejectsUnknownJobProfile(t *testing.T) {
	e := newTestEngine(t)
	if _, rerr := e.CreateTask(999999, scheduler.PriorityNormal); rerr == nil {
		t.Fatal("expected CreateTask to reject an unknown job profile id")
	}
}

func TestCreateTaskUsesJobProfileName(t *testing.T) {
	e := newTestEngine(t)
	job, _ := e.JobProfiles().GetDefault()

	task, rerr := e.CreateTask(job.Id, scheduler.PriorityNormal)
	if rerr != nil {
		t.Fatalf("CreateTask: %v", rerr)
	}
	if task.JobName != job.Name {
		t.Fatalf("expected task JobName %q, got %q", job.Name, task.JobName)
	}
}
