// Package task models work the agent runs on a schedule or when a metric
// crosses a threshold.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

var (
	// ErrNotFound is returned when no task exists for an ID.
	ErrNotFound = errors.New("task not found")
	// ErrInvalidTask is returned when a task definition is incomplete.
	ErrInvalidTask = errors.New("invalid task")
)

// Type tells how a task becomes due.
type Type string

const (
	TypeScheduled Type = "scheduled"
	TypeTriggered Type = "triggered"
	TypeProactive Type = "proactive"
)

// Frequency is the repeat interval of a scheduled task.
type Frequency string

const (
	FrequencyOnce     Frequency = "once"
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyRealtime Frequency = "realtime"
)

// Recurring reports whether tasks with this frequency run more than once.
func (f Frequency) Recurring() bool {
	return f != FrequencyOnce
}

// Operator compares a metric against a trigger threshold.
type Operator string

const (
	OperatorGreater Operator = "gt"
	OperatorLess    Operator = "lt"
	OperatorEqual   Operator = "eq"
)

// Priority orders due tasks; higher runs first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank returns a sortable weight for p.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusPaused    Status = "paused"
)

// Schedule says when a scheduled task runs.
type Schedule struct {
	Frequency Frequency  `json:"frequency" yaml:"frequency"`
	NextRun   time.Time  `json:"next_run" yaml:"next_run"`
	LastRun   *time.Time `json:"last_run,omitempty" yaml:"last_run,omitempty"`
}

// Trigger fires a task when a named metric satisfies Operator against Threshold.
type Trigger struct {
	Metric    string   `json:"metric" yaml:"metric"`
	Operator  Operator `json:"operator" yaml:"operator"`
	Threshold float64  `json:"threshold" yaml:"threshold"`
}

// Fires reports whether value satisfies the trigger.
func (t Trigger) Fires(value float64) bool {
	switch t.Operator {
	case OperatorGreater:
		return value > t.Threshold
	case OperatorLess:
		return value < t.Threshold
	case OperatorEqual:
		return value == t.Threshold
	}
	return false
}

// Task is a unit of recurring or conditional agent work. Action is the
// template proposed to the agent each time the task runs.
type Task struct {
	ID            string       `json:"id"`
	Type          Type         `json:"type"`
	Action        agent.Action `json:"action"`
	Schedule      *Schedule    `json:"schedule,omitempty"`
	Trigger       *Trigger     `json:"trigger,omitempty"`
	Priority      Priority     `json:"priority"`
	Status        Status       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	ExecutedCount int          `json:"executed_count"`
	LastError     string       `json:"last_error,omitempty"`
	// Latched is set while a trigger condition holds so it fires once per crossing.
	Latched bool `json:"latched,omitempty"`
}

// Validate checks that the task can be run.
func (t *Task) Validate() error {
	if err := t.Action.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	switch t.Type {
	case TypeScheduled, TypeProactive:
		if t.Schedule == nil {
			return fmt.Errorf("%w: %s task needs a schedule", ErrInvalidTask, t.Type)
		}
		switch t.Schedule.Frequency {
		case FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyRealtime:
		default:
			return fmt.Errorf("%w: frequency %q", ErrInvalidTask, t.Schedule.Frequency)
		}
	case TypeTriggered:
		if t.Trigger == nil || t.Trigger.Metric == "" {
			return fmt.Errorf("%w: triggered task needs a metric trigger", ErrInvalidTask)
		}
		switch t.Trigger.Operator {
		case OperatorGreater, OperatorLess, OperatorEqual:
		default:
			return fmt.Errorf("%w: operator %q", ErrInvalidTask, t.Trigger.Operator)
		}
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidTask, t.Type)
	}
	switch t.Priority {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
	default:
		return fmt.Errorf("%w: priority %q", ErrInvalidTask, t.Priority)
	}
	return nil
}

// Due reports whether a pending scheduled task should run at now.
func (t *Task) Due(now time.Time) bool {
	return t.Status == StatusPending && t.Schedule != nil && !t.Schedule.NextRun.After(now)
}

// Armed reports whether a pending triggered task fires for value. The
// trigger latches on the first firing and re-arms once the condition clears.
func (t *Task) Armed(value float64) bool {
	if t.Trigger == nil {
		return false
	}
	if !t.Trigger.Fires(value) {
		t.Latched = false
		return false
	}
	if t.Status != StatusPending || t.Latched {
		return false
	}
	t.Latched = true
	return true
}

// NextRun returns the next run time of a task that last ran at from.
// Realtime and once tasks come back as from.
func NextRun(freq Frequency, from time.Time) time.Time {
	switch freq {
	case FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return from.AddDate(0, 1, 0)
	}
	return from
}

// Complete records a run at now. Recurring and triggered tasks go back to
// pending, scheduled ones with a new NextRun; once tasks complete.
func (t *Task) Complete(now time.Time) {
	t.ExecutedCount++
	t.LastError = ""
	if t.Schedule == nil {
		t.Status = StatusPending
		return
	}
	last := now
	t.Schedule.LastRun = &last
	t.Schedule.NextRun = NextRun(t.Schedule.Frequency, now)
	if t.Schedule.Frequency.Recurring() {
		t.Status = StatusPending
		return
	}
	t.Status = StatusCompleted
}

// Fail records a failed run.
func (t *Task) Fail(cause error) {
	t.Status = StatusFailed
	if cause != nil {
		t.LastError = cause.Error()
	}
}

// Pause stops a pending or failed task from running.
func (t *Task) Pause() error {
	switch t.Status {
	case StatusPending, StatusFailed:
		t.Status = StatusPaused
		return nil
	}
	return fmt.Errorf("%w: cannot pause %s task", ErrInvalidTask, t.Status)
}

// Resume makes a paused or failed task pending again.
func (t *Task) Resume() error {
	switch t.Status {
	case StatusPaused, StatusFailed:
		t.Status = StatusPending
		t.LastError = ""
		return nil
	}
	return fmt.Errorf("%w: cannot resume %s task", ErrInvalidTask, t.Status)
}
