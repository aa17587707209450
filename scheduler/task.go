/*************************************************************************
 * Copyright 2026 S7Tools Authors.
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package scheduler runs the task finite-state machine: a priority queue
// with FIFO-within-band discipline, a concurrency-capped dispatcher, and
// cooperative cancel/pause/resume. The dispatcher-loop shape (a ticker plus
// an explicit wake channel, context.WithCancel per task, sync.WaitGroup
// shutdown) is grounded on other_examples' MongooseMoo barn task scheduler;
// the bounded event fan-out reuses profilestore's subscriber-channel idiom.
package scheduler

import (
	"time"

	"github.com/s7tools/engine/coordinator"
	"github.com/s7tools/engine/result"
)

// State is a TaskExecution's position in the FSM of §4.6.
type State int

const (
	StateCreated State = iota
	StateQueued
	StateScheduled
	StateRunning
	StatePaused
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return `Created`
	case StateQueued:
		return `Queued`
	case StateScheduled:
		return `Scheduled`
	case StateRunning:
		return `Running`
	case StatePaused:
		return `Paused`
	case StateCompleted:
		return `Completed`
	case StateFailed:
		return `Failed`
	case StateCancelled:
		return `Cancelled`
	default:
		return `Unknown`
	}
}

// Priority governs dispatch order: strict priority, FIFO within a band.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return `Low`
	case PriorityNormal:
		return `Normal`
	case PriorityHigh:
		return `High`
	case PriorityCritical:
		return `Critical`
	default:
		return `Unknown`
	}
}

// TaskExecution is the runtime instance of driving a JobProfile through the
// bootloader pipeline. It is the single mutable record the scheduler owns;
// snapshots handed out to subscribers/queries are shallow copies (the
// LockedResources slice and LastError pointer are not mutated in place once
// published).
type TaskExecution struct {
	TaskId        string
	JobProfileId  int
	JobName       string
	State         State
	Priority      Priority
	CreatedAt     time.Time
	ScheduledAt   *time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Progress      int
	Operation     string
	LockedResources []coordinator.ResourceKey
	LastError     *result.Error
	OutputPath    string

	seq int64 // dispatch-order tiebreak within a priority band, not exported
}

func (t *TaskExecution) CanCancel() bool {
	switch t.State {
	case StateCreated, StateQueued, StateScheduled, StateRunning, StatePaused:
		return true
	}
	return false
}

func (t *TaskExecution) CanRestart() bool {
	return t.State == StateFailed || t.State == StateCancelled
}

func (t *TaskExecution) IsTerminal() bool {
	switch t.State {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

func (t *TaskExecution) ExecutionTime() (time.Duration, bool) {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0, false
	}
	return t.FinishedAt.Sub(*t.StartedAt), true
}

// clone returns a snapshot safe to publish to subscribers/queries: the
// LockedResources slice is copied; the pointer fields (timestamps,
// LastError) are shared with the live record, which the scheduler replaces
// rather than mutates.
func (t *TaskExecution) clone() *TaskExecution {
	cp := *t
	if t.LockedResources != nil {
		cp.LockedResources = append([]coordinator.ResourceKey(nil), t.LockedResources...)
	}
	return &cp
}
