// Package approval holds actions that wait for a human decision.
package approval

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dockvault/dockpilot/internal/domain/agent"
)

const (
	// DefaultCapacity is the default maximum number of entries kept by a Queue.
	DefaultCapacity = 100
	// EvictionReason is recorded on entries dropped because the queue was full.
	EvictionReason = "evicted: queue at capacity"
)

var (
	// ErrNotFound is returned when no entry exists for an ID.
	ErrNotFound = errors.New("pending action not found")
	// ErrDuplicateID is returned when an entry with the same action ID is
	// already held by the queue.
	ErrDuplicateID = errors.New("action ID already queued")
	// ErrInvalidTransition is returned when an entry is not in a status that
	// allows the requested change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Status is the lifecycle state of a queued action.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
)

// PendingAction is an action surfaced to a human together with the decision
// that surfaced it.
type PendingAction struct {
	Action      agent.Action   `json:"action"`
	Decision    agent.Decision `json:"decision"`
	Status      Status         `json:"status"`
	Fingerprint string         `json:"fingerprint"`
	Source      string         `json:"source,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	ReviewedAt  *time.Time     `json:"reviewed_at,omitempty"`
	ReviewedBy  string         `json:"reviewed_by,omitempty"`
	// Reason is the rejection reason or the execution error.
	Reason string `json:"reason,omitempty"`
	// Modified is true when the reviewer changed the action's parameters.
	Modified bool `json:"modified,omitempty"`
}

// ID returns the action ID.
func (p *PendingAction) ID() string {
	return p.Action.ID
}

// Queue stores pending actions with bounded capacity.
// It is thread-safe and evicts the oldest entry when capacity is reached.
type Queue struct {
	mu      sync.RWMutex
	entries map[string]*PendingAction
	order   []string
	maxSize int
	now     func() time.Time
}

// NewQueue creates a Queue with the given maximum capacity.
func NewQueue(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = DefaultCapacity
	}
	return &Queue{
		entries: make(map[string]*PendingAction),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Add stores p as pending. If the queue is full the oldest entry is removed
// and returned; an evicted pending entry comes back rejected with EvictionReason.
// An ID that is already held fails with ErrDuplicateID.
func (q *Queue) Add(p PendingAction) (evicted *PendingAction, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.insert(p)
}

// AddIfAbsent stores p unless a pending entry with the same fingerprint
// exists, in which case that entry is returned and added is false. The check
// and the insert happen under one lock.
func (q *Queue) AddIfAbsent(p PendingAction) (existing PendingAction, added bool, evicted *PendingAction, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if p.Fingerprint != "" {
		if found := q.findPending(p.Fingerprint); found != nil {
			return *found, false, nil, nil
		}
	}
	evicted, err = q.insert(p)
	if err != nil {
		return PendingAction{}, false, nil, err
	}
	return PendingAction{}, true, evicted, nil
}

// insert adds p. Callers hold the write lock.
func (q *Queue) insert(p PendingAction) (*PendingAction, error) {
	if _, ok := q.entries[p.ID()]; ok {
		return nil, fmt.Errorf("%s: %w", p.ID(), ErrDuplicateID)
	}

	var evicted *PendingAction
	if len(q.order) >= q.maxSize {
		oldID := q.order[0]
		q.order = q.order[1:]
		if old, ok := q.entries[oldID]; ok {
			if old.Status == StatusPending {
				old.Status = StatusRejected
				old.Reason = EvictionReason
				ts := q.now()
				old.ReviewedAt = &ts
			}
			delete(q.entries, oldID)
			c := *old
			evicted = &c
		}
	}

	p.Status = StatusPending
	if p.CreatedAt.IsZero() {
		p.CreatedAt = q.now()
	}
	q.entries[p.ID()] = &p
	q.order = append(q.order, p.ID())
	return evicted, nil
}

// Get returns a copy of the entry for id.
func (q *Queue) Get(id string) (PendingAction, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	p, ok := q.entries[id]
	if !ok {
		return PendingAction{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return *p, nil
}

// List returns entries with the given status in insertion order, or every
// entry when status is empty.
func (q *Queue) List(status Status) []PendingAction {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []PendingAction
	for _, id := range q.order {
		if p, ok := q.entries[id]; ok && (status == "" || p.Status == status) {
			result = append(result, *p)
		}
	}
	return result
}

// FindPending returns the pending entry with the given fingerprint.
func (q *Queue) FindPending(fingerprint string) (PendingAction, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if p := q.findPending(fingerprint); p != nil {
		return *p, true
	}
	return PendingAction{}, false
}

func (q *Queue) findPending(fingerprint string) *PendingAction {
	for _, id := range q.order {
		if p := q.entries[id]; p != nil && p.Status == StatusPending && p.Fingerprint == fingerprint {
			return p
		}
	}
	return nil
}

// Len returns the number of entries with the given status, or all entries
// when status is empty.
func (q *Queue) Len(status Status) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if status == "" {
		return len(q.order)
	}
	n := 0
	for _, p := range q.entries {
		if p.Status == status {
			n++
		}
	}
	return n
}

// Capacity returns the maximum number of entries kept.
func (q *Queue) Capacity() int {
	return q.maxSize
}

// Approve moves a pending entry to approved. Non-nil params replace the
// action's parameters and mark the entry as modified.
func (q *Queue) Approve(id, reviewer string, params map[string]any) (PendingAction, error) {
	return q.transition(id, StatusPending, StatusApproved, func(p *PendingAction) {
		p.ReviewedBy = reviewer
		ts := q.now()
		p.ReviewedAt = &ts
		if params != nil {
			p.Action.Parameters = params
			p.Modified = true
		}
	})
}

// Reject moves a pending entry to rejected.
func (q *Queue) Reject(id, reviewer, reason string) (PendingAction, error) {
	return q.transition(id, StatusPending, StatusRejected, func(p *PendingAction) {
		p.ReviewedBy = reviewer
		ts := q.now()
		p.ReviewedAt = &ts
		p.Reason = reason
	})
}

// MarkExecuted records that an approved entry ran successfully.
func (q *Queue) MarkExecuted(id string) (PendingAction, error) {
	return q.transition(id, StatusApproved, StatusExecuted, nil)
}

// MarkFailed records that an approved entry failed to run.
func (q *Queue) MarkFailed(id string, cause error) (PendingAction, error) {
	return q.transition(id, StatusApproved, StatusFailed, func(p *PendingAction) {
		if cause != nil {
			p.Reason = cause.Error()
		}
	})
}

func (q *Queue) transition(id string, from, to Status, mutate func(*PendingAction)) (PendingAction, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.entries[id]
	if !ok {
		return PendingAction{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if p.Status != from {
		return PendingAction{}, fmt.Errorf("%s is %s, cannot become %s: %w", id, p.Status, to, ErrInvalidTransition)
	}
	if mutate != nil {
		mutate(p)
	}
	p.Status = to
	return *p, nil
}
