/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/s7tools/engine/coordinator"
	"github.com/s7tools/engine/logging"
	"github.com/s7tools/engine/result"
)

// Control is handed to an Orchestrator's Run so it can report progress and
// observe a pause gate at stage boundaries, without the orchestrator
// touching the scheduler's locks directly.
type Control struct {
	progress    func(percent int, operation string)
	awaitResume func(ctx context.Context) error
}

func (c *Control) Progress(percent int, operation string) { c.progress(percent, operation) }

// AwaitResume blocks while the task is Paused; it returns immediately if the
// task isn't paused, and returns ctx.Err() if ctx is cancelled first.
func (c *Control) AwaitResume(ctx context.Context) error { return c.awaitResume(ctx) }

// Orchestrator runs one TaskExecution's pipeline to completion, returning
// the final output path on success. Cancellation is observed via ctx;
// Orchestrator implementations must treat ctx cancellation as terminal and
// run their own teardown before returning a Cancelled-kind error.
type Orchestrator interface {
	Run(ctx context.Context, exec TaskExecution, ctrl *Control) (outputPath string, rerr *result.Error)
}

// ResourceResolver maps a JobProfile to the set of ResourceKeys its pipeline
// will need to hold exclusively for the duration of one run.
type ResourceResolver interface {
	Resolve(jobProfileId int) ([]coordinator.ResourceKey, *result.Error)
}

type taskHandle struct {
	mu       sync.Mutex
	cancel   context.CancelFunc
	pauseCh  chan struct{}
}

// Statistics are running counters reported by GetStatistics.
type Statistics struct {
	TotalTasks           int
	Successful           int
	Failed               int
	Cancelled            int
	PerState             map[string]int
	AvgExecutionTimeMs   float64
	Uptime               time.Duration
	ResourceUsagePercent float64
}

const emaAlpha = 0.2

// Scheduler owns the task table, the dispatcher loop, and the event bus. It
// never performs the pipeline's I/O itself — that is the injected
// Orchestrator's job — keeping the global mutable state of §5 confined to
// this struct's own mutex.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*TaskExecution
	handles map[string]*taskHandle
	nextSeq int64

	coordinator *coordinator.Coordinator
	resolver    ResourceResolver
	runner      Orchestrator
	lg          *logging.Logger

	maxConcurrent int
	active        int

	subMu sync.Mutex
	subs  []chan Event

	avgExecMs float64
	total, ok, failed, cancelled int

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	wake      chan struct{}
}

func New(coord *coordinator.Coordinator, resolver ResourceResolver, runner Orchestrator, maxConcurrent int, lg *logging.Logger) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		tasks:         make(map[string]*TaskExecution),
		handles:       make(map[string]*taskHandle),
		coordinator:   coord,
		resolver:      resolver,
		runner:        runner,
		lg:            lg,
		maxConcurrent: maxConcurrent,
		wake:          make(chan struct{}, 1),
	}
}

// Start launches the dispatcher loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.startedAt = time.Now()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatchLoop(ctx)
}

// Stop cancels every running task's context, waits for their teardown to
// complete, then stops the dispatcher loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) signalDispatch() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		case <-s.wake:
			s.tick()
		}
	}
}

// tick promotes due Scheduled tasks to Queued, then dispatches as many
// Queued tasks as priority order and free resources allow.
func (s *Scheduler) tick() {
	s.mu.Lock()
	now := time.Now()
	for _, t := range s.tasks {
		if t.State == StateScheduled && t.ScheduledAt != nil && !t.ScheduledAt.After(now) {
			t.State = StateQueued
			s.publishLocked(Event{Kind: TaskStateChanged, Task: t.clone()})
		}
	}

	ready := make([]*TaskExecution, 0)
	for _, t := range s.tasks {
		if t.State == StateQueued {
			ready = append(ready, t)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].seq < ready[j].seq
	})

	var toDispatch []*TaskExecution
	for _, t := range ready {
		if s.active >= s.maxConcurrent {
			break
		}
		keys, rerr := s.resolver.Resolve(t.JobProfileId)
		if rerr != nil {
			t.State = StateFailed
			t.LastError = rerr
			fin := time.Now()
			t.FinishedAt = &fin
			s.failed++
			s.publishLocked(Event{Kind: TaskStateChanged, Task: t.clone()})
			continue
		}
		if !s.coordinator.TryAcquire(t.TaskId, keys) {
			continue // resource busy: stays Queued, per §8 scenario 4
		}
		t.LockedResources = keys
		t.State = StateRunning
		started := time.Now()
		t.StartedAt = &started
		s.active++
		toDispatch = append(toDispatch, t)
		s.publishLocked(Event{Kind: TaskStateChanged, Task: t.clone()})
	}
	s.mu.Unlock()

	for _, t := range toDispatch {
		s.runTask(t)
	}
}

func (s *Scheduler) runTask(t *TaskExecution) {
	taskCtx, cancel := context.WithCancel(s.ctx)
	h := &taskHandle{cancel: cancel}
	s.mu.Lock()
	s.handles[t.TaskId] = h
	s.mu.Unlock()

	ctrl := &Control{
		progress: func(percent int, operation string) {
			s.mu.Lock()
			if cur, ok := s.tasks[t.TaskId]; ok {
				cur.Progress = percent
				cur.Operation = operation
			}
			s.mu.Unlock()
			s.publish(Event{Kind: TaskProgressUpdated, TaskId: t.TaskId, Percent: percent, Operation: operation})
		},
		awaitResume: func(ctx context.Context) error {
			for {
				h.mu.Lock()
				ch := h.pauseCh
				h.mu.Unlock()
				if ch == nil {
					return nil
				}
				select {
				case <-ch:
					continue
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		},
	}

	snapshot := *t
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		outputPath, rerr := s.runner.Run(taskCtx, snapshot, ctrl)
		s.finishTask(t.TaskId, outputPath, rerr)
	}()
}

func (s *Scheduler) finishTask(taskId, outputPath string, rerr *result.Error) {
	s.mu.Lock()
	t, ok := s.tasks[taskId]
	if !ok {
		s.mu.Unlock()
		return
	}
	fin := time.Now()
	t.FinishedAt = &fin
	t.OutputPath = outputPath
	s.coordinator.Release(t.LockedResources)
	s.active--
	s.total++

	switch {
	case rerr == nil:
		t.State = StateCompleted
		s.ok++
	case rerr.Kind == result.Cancelled:
		t.State = StateCancelled
		t.LastError = rerr
		s.cancelled++
	default:
		t.State = StateFailed
		t.LastError = rerr
		s.failed++
	}
	if et, had := t.ExecutionTime(); had {
		ms := float64(et.Milliseconds())
		if s.avgExecMs == 0 {
			s.avgExecMs = ms
		} else {
			s.avgExecMs = emaAlpha*ms + (1-emaAlpha)*s.avgExecMs
		}
	}
	delete(s.handles, taskId)
	snap := t.clone()
	s.mu.Unlock()

	s.publish(Event{Kind: TaskStateChanged, Task: snap})
	s.signalDispatch()
}

// CreateTask records a new TaskExecution in Created state without enqueuing
// it for dispatch.
func (s *Scheduler) CreateTask(jobProfileId int, jobName string, priority Priority) *TaskExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &TaskExecution{
		TaskId:       uuid.NewString(),
		JobProfileId: jobProfileId,
		JobName:      jobName,
		State:        StateCreated,
		Priority:     priority,
		CreatedAt:    time.Now(),
		seq:          s.nextSeq,
	}
	s.nextSeq++
	s.tasks[t.TaskId] = t
	return t.clone()
}

// EnqueueTask transitions a Created task to Queued, immediately eligible
// for dispatch.
func (s *Scheduler) EnqueueTask(taskId string) *result.Error {
	s.mu.Lock()
	t, ok := s.tasks[taskId]
	if !ok {
		s.mu.Unlock()
		return result.New(result.NotFound, `task not found`)
	}
	if t.State != StateCreated {
		s.mu.Unlock()
		return result.New(result.Validation, `task must be Created to enqueue`)
	}
	t.State = StateQueued
	snap := t.clone()
	s.mu.Unlock()
	s.publish(Event{Kind: TaskStateChanged, Task: snap})
	s.signalDispatch()
	return nil
}

// ScheduleTask transitions a Created task to Scheduled for dispatch at or
// after when. A when in the past makes it immediately eligible, per §8.
func (s *Scheduler) ScheduleTask(taskId string, when time.Time) *result.Error {
	s.mu.Lock()
	t, ok := s.tasks[taskId]
	if !ok {
		s.mu.Unlock()
		return result.New(result.NotFound, `task not found`)
	}
	if t.State != StateCreated {
		s.mu.Unlock()
		return result.New(result.Validation, `task must be Created to schedule`)
	}
	t.State = StateScheduled
	t.ScheduledAt = &when
	snap := t.clone()
	s.mu.Unlock()
	s.publish(Event{Kind: TaskStateChanged, Task: snap})
	s.signalDispatch()
	return nil
}

// CancelTask requests cancellation. It is a no-op returning false if the
// task is already terminal, per §8's idempotence property.
func (s *Scheduler) CancelTask(taskId, reason string) (bool, *result.Error) {
	s.mu.Lock()
	t, ok := s.tasks[taskId]
	if !ok {
		s.mu.Unlock()
		return false, result.New(result.NotFound, `task not found`)
	}
	if t.IsTerminal() {
		s.mu.Unlock()
		return false, nil
	}
	if !t.CanCancel() {
		s.mu.Unlock()
		return false, result.New(result.Validation, `task cannot be cancelled from its current state`)
	}

	short := t.State == StateCreated || t.State == StateQueued || t.State == StateScheduled
	if short {
		t.State = StateCancelled
		if reason != `` {
			t.LastError = result.New(result.Cancelled, reason)
		}
		fin := time.Now()
		t.FinishedAt = &fin
		s.cancelled++
		snap := t.clone()
		s.mu.Unlock()
		s.publish(Event{Kind: TaskStateChanged, Task: snap})
		s.signalDispatch()
		return true, nil
	}

	h, hok := s.handles[taskId]
	s.mu.Unlock()
	if hok {
		h.cancel()
	}
	return true, nil
}

// PauseTask is only honored for a Running task, between pipeline stages;
// the orchestrator observes the gate via Control.AwaitResume.
func (s *Scheduler) PauseTask(taskId string) *result.Error {
	s.mu.Lock()
	t, ok := s.tasks[taskId]
	if !ok {
		s.mu.Unlock()
		return result.New(result.NotFound, `task not found`)
	}
	if t.State != StateRunning {
		s.mu.Unlock()
		return result.New(result.Validation, `task is not Running`)
	}
	h := s.handles[taskId]
	t.State = StatePaused
	snap := t.clone()
	s.mu.Unlock()
	if h != nil {
		h.mu.Lock()
		h.pauseCh = make(chan struct{})
		h.mu.Unlock()
	}
	s.publish(Event{Kind: TaskStateChanged, Task: snap})
	return nil
}

func (s *Scheduler) ResumeTask(taskId string) *result.Error {
	s.mu.Lock()
	t, ok := s.tasks[taskId]
	if !ok {
		s.mu.Unlock()
		return result.New(result.NotFound, `task not found`)
	}
	if t.State != StatePaused {
		s.mu.Unlock()
		return result.New(result.Validation, `task is not Paused`)
	}
	h := s.handles[taskId]
	t.State = StateRunning
	snap := t.clone()
	s.mu.Unlock()
	if h != nil {
		h.mu.Lock()
		if h.pauseCh != nil {
			close(h.pauseCh)
			h.pauseCh = nil
		}
		h.mu.Unlock()
	}
	s.publish(Event{Kind: TaskStateChanged, Task: snap})
	return nil
}

// RestartTask creates a fresh TaskExecution in Created state from a
// terminated one's configuration; it does not reuse the old TaskId.
func (s *Scheduler) RestartTask(taskId string) (*TaskExecution, *result.Error) {
	s.mu.Lock()
	t, ok := s.tasks[taskId]
	if !ok {
		s.mu.Unlock()
		return nil, result.New(result.NotFound, `task not found`)
	}
	if !t.CanRestart() {
		s.mu.Unlock()
		return nil, result.New(result.Validation, `task cannot be restarted from its current state`)
	}
	jobProfileId, jobName, priority := t.JobProfileId, t.JobName, t.Priority
	s.mu.Unlock()
	return s.CreateTask(jobProfileId, jobName, priority), nil
}

func (s *Scheduler) publishLocked(ev Event) {
	// called with s.mu held; publish acquires only subMu, which is
	// independent, so this does not deadlock against s.mu.
	s.publish(ev)
}

func (s *Scheduler) GetAll() []*TaskExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*TaskExecution, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.clone())
	}
	return out
}

func (s *Scheduler) GetByState(st State) []*TaskExecution {
	return filter(s.GetAll(), func(t *TaskExecution) bool { return t.State == st })
}

func (s *Scheduler) GetByPriority(p Priority) []*TaskExecution {
	return filter(s.GetAll(), func(t *TaskExecution) bool { return t.Priority == p })
}

func (s *Scheduler) GetQueued() []*TaskExecution { return s.GetByState(StateQueued) }
func (s *Scheduler) GetRunning() []*TaskExecution { return s.GetByState(StateRunning) }

func (s *Scheduler) GetByJobProfile(jobProfileId int) []*TaskExecution {
	return filter(s.GetAll(), func(t *TaskExecution) bool { return t.JobProfileId == jobProfileId })
}

func (s *Scheduler) GetTask(taskId string) (*TaskExecution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskId]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

func filter(in []*TaskExecution, pred func(*TaskExecution) bool) []*TaskExecution {
	out := make([]*TaskExecution, 0, len(in))
	for _, t := range in {
		if pred(t) {
			out = append(out, t)
		}
	}
	return out
}

// SetMaxConcurrentTasks changes the concurrency cap and immediately wakes
// the dispatcher so newly-available slots are used.
func (s *Scheduler) SetMaxConcurrentTasks(n int) {
	if n < 1 {
		n = 1
	}
	s.mu.Lock()
	s.maxConcurrent = n
	s.mu.Unlock()
	s.signalDispatch()
}

// CleanupOldTasks removes terminal tasks whose FinishedAt predates maxAge,
// returning the count removed.
func (s *Scheduler) CleanupOldTasks(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range s.tasks {
		if t.IsTerminal() && t.FinishedAt != nil && t.FinishedAt.Before(cutoff) {
			delete(s.tasks, id)
			delete(s.handles, id)
			removed++
		}
	}
	return removed
}

func (s *Scheduler) GetStatistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	perState := make(map[string]int)
	for _, t := range s.tasks {
		perState[t.State.String()]++
	}
	var uptime time.Duration
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt)
	}
	resourcePct := 0.0
	if s.maxConcurrent > 0 {
		resourcePct = 100 * float64(s.active) / float64(s.maxConcurrent)
	}
	return Statistics{
		TotalTasks:           s.total,
		Successful:           s.ok,
		Failed:               s.failed,
		Cancelled:            s.cancelled,
		PerState:             perState,
		AvgExecutionTimeMs:   s.avgExecMs,
		Uptime:               uptime,
		ResourceUsagePercent: resourcePct,
	}
}
