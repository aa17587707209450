/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/s7tools/engine/coordinator"
	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/result"
)

type fakeResolver struct {
	keysFor map[int][]coordinator.ResourceKey
}

func (f *fakeResolver) Resolve(jobProfileId int) ([]coordinator.ResourceKey, *result.Error) {
	return f.keysFor[jobProfileId], nil
}

type scriptedOrchestrator struct {
	delay   time.Duration
	fail    *result.Error
	started chan string
}

func (o *scriptedOrchestrator) Run(ctx context.Context, exec TaskExecution, ctrl *Control) (string, *result.Error) {
	if o.started != nil {
		o.started <- exec.TaskId
	}
	ctrl.Progress(10, `prepare-serial`)
	select {
	case <-time.After(o.delay):
	case <-ctx.Done():
		return "", result.Wrap(result.Cancelled, ctx.Err(), `cancelled`)
	}
	if o.fail != nil {
		return "", o.fail
	}
	ctrl.Progress(100, `teardown`)
	return fmt.Sprintf("/tmp/out-%s.bin", exec.TaskId), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCreateEnqueueCompletes(t *testing.T) {
	resolver := &fakeResolver{keysFor: map[int][]coordinator.ResourceKey{1: {coordinator.SerialDevice(`/dev/ttyUSB0`)}}}
	orch := &scriptedOrchestrator{delay: 10 * time.Millisecond}
	s := New(coordinator.New(), resolver, orch, 2, logging.NewDiscard())
	s.Start()
	defer s.Stop()

	task := s.CreateTask(1, `job-a`, PriorityNormal)
	if rerr := s.EnqueueTask(task.TaskId); rerr != nil {
		t.Fatal(rerr)
	}
	waitFor(t, func() bool {
		got, _ := s.GetTask(task.TaskId)
		return got != nil && got.State == StateCompleted
	})
}

func TestResourceConflictDefersNotFails(t *testing.T) {
	resolver := &fakeResolver{keysFor: map[int][]coordinator.ResourceKey{
		1: {coordinator.SerialDevice(`/dev/ttyUSB0`)},
	}}
	orch := &scriptedOrchestrator{delay: 80 * time.Millisecond}
	s := New(coordinator.New(), resolver, orch, 2, logging.NewDiscard())
	s.Start()
	defer s.Stop()

	t1 := s.CreateTask(1, `job-a`, PriorityNormal)
	t2 := s.CreateTask(1, `job-a`, PriorityNormal)
	s.EnqueueTask(t1.TaskId)
	s.EnqueueTask(t2.TaskId)

	waitFor(t, func() bool {
		g1, _ := s.GetTask(t1.TaskId)
		g2, _ := s.GetTask(t2.TaskId)
		running := (g1.State == StateRunning) != (g2.State == StateRunning)
		queued := (g1.State == StateQueued) != (g2.State == StateQueued)
		return running && queued
	})

	for _, tid := range []string{t1.TaskId, t2.TaskId} {
		got, _ := s.GetTask(tid)
		if got.State == StateFailed {
			t.Fatal("expected no ResourceBusy failure, task was Failed")
		}
	}

	waitFor(t, func() bool {
		g1, _ := s.GetTask(t1.TaskId)
		g2, _ := s.GetTask(t2.TaskId)
		return g1.State == StateCompleted && g2.State == StateCompleted
	})
}

func TestCancelShortCircuitsQueuedTask(t *testing.T) {
	resolver := &fakeResolver{}
	orch := &scriptedOrchestrator{delay: time.Second}
	s := New(coordinator.New(), resolver, orch, 0, logging.NewDiscard())
	s.maxConcurrent = 0 // force every task to stay Queued
	s.Start()
	defer s.Stop()

	task := s.CreateTask(1, `job-a`, PriorityNormal)
	s.EnqueueTask(task.TaskId)
	time.Sleep(20 * time.Millisecond)

	ok, rerr := s.CancelTask(task.TaskId, `operator requested`)
	if rerr != nil || !ok {
		t.Fatalf("expected cancel to succeed, got ok=%v err=%v", ok, rerr)
	}
	got, _ := s.GetTask(task.TaskId)
	if got.State != StateCancelled {
		t.Fatalf("expected Cancelled, got %v", got.State)
	}

	ok2, rerr2 := s.CancelTask(task.TaskId, ``)
	if rerr2 != nil || ok2 {
		t.Fatal("expected cancel of already-terminal task to be a no-op returning false")
	}
}

func TestCancelDuringRunInvokesOrchestratorCancellation(t *testing.T) {
	resolver := &fakeResolver{}
	orch := &scriptedOrchestrator{delay: time.Second}
	s := New(coordinator.New(), resolver, orch, 2, logging.NewDiscard())
	s.Start()
	defer s.Stop()

	task := s.CreateTask(1, `job-a`, PriorityNormal)
	s.EnqueueTask(task.TaskId)
	waitFor(t, func() bool {
		got, _ := s.GetTask(task.TaskId)
		return got.State == StateRunning
	})

	if _, rerr := s.CancelTask(task.TaskId, `operator requested`); rerr != nil {
		t.Fatal(rerr)
	}
	waitFor(t, func() bool {
		got, _ := s.GetTask(task.TaskId)
		return got.State == StateCancelled
	})
}

func TestCleanupOldTasksRemovesOnlyStaleTerminal(t *testing.T) {
	resolver := &fakeResolver{}
	orch := &scriptedOrchestrator{delay: time.Millisecond}
	s := New(coordinator.New(), resolver, orch, 2, logging.NewDiscard())
	s.Start()
	defer s.Stop()

	task := s.CreateTask(1, `job-a`, PriorityNormal)
	s.EnqueueTask(task.TaskId)
	waitFor(t, func() bool {
		got, _ := s.GetTask(task.TaskId)
		return got.State == StateCompleted
	})

	if n := s.CleanupOldTasks(time.Hour); n != 0 {
		t.Fatalf("expected nothing stale yet, removed %d", n)
	}
	if n := s.CleanupOldTasks(0); n != 1 {
		t.Fatalf("expected 1 removed with a zero max age, removed %d", n)
	}
	if _, ok := s.GetTask(task.TaskId); ok {
		t.Fatal("expected task to be gone after cleanup")
	}
}

func TestScheduleTaskInThePastDispatchesImmediately(t *testing.T) {
	resolver := &fakeResolver{}
	orch := &scriptedOrchestrator{delay: 10 * time.Millisecond}
	s := New(coordinator.New(), resolver, orch, 2, logging.NewDiscard())
	s.Start()
	defer s.Stop()

	task := s.CreateTask(1, `job-a`, PriorityNormal)
	if rerr := s.ScheduleTask(task.TaskId, time.Now().Add(-time.Hour)); rerr != nil {
		t.Fatal(rerr)
	}
	waitFor(t, func() bool {
		got, _ := s.GetTask(task.TaskId)
		return got.State == StateCompleted
	})
}

// retryingOrchestrator models what orchestrator.withRetry actually produces:
// the handshake stage reported once per attempt before the pipeline moves
// past it, then the task completes.
type retryingOrchestrator struct {
	handshakeAttempts int
}

func (o *retryingOrchestrator) Run(ctx context.Context, exec TaskExecution, ctrl *Control) (string, *result.Error) {
	ctrl.Progress(0, `prepare-serial`)
	for i := 0; i < o.handshakeAttempts; i++ {
		ctrl.Progress(25, `handshake`)
	}
	ctrl.Progress(100, `teardown`)
	return fmt.Sprintf("/tmp/out-%s.bin", exec.TaskId), nil
}

func TestRetryShowsHandshakeStageMultipleTimesBeforeCompleting(t *testing.T) {
	resolver := &fakeResolver{}
	orch := &retryingOrchestrator{handshakeAttempts: 3}
	s := New(coordinator.New(), resolver, orch, 2, logging.NewDiscard())
	s.Start()
	defer s.Stop()

	events := s.Subscribe()
	task := s.CreateTask(1, `job-a`, PriorityNormal)
	if rerr := s.EnqueueTask(task.TaskId); rerr != nil {
		t.Fatal(rerr)
	}

	handshakeCount := 0
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == TaskProgressUpdated && ev.Operation == `handshake` {
				handshakeCount++
			}
			if ev.Kind == TaskStateChanged && ev.Task != nil && ev.Task.State == StateCompleted {
				if handshakeCount != 3 {
					t.Fatalf("expected handshake stage reported 3 times, got %d", handshakeCount)
				}
				return
			}
		case <-deadline:
			t.Fatal("task did not complete before deadline")
		}
	}
}
