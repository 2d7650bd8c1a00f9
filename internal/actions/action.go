// Package actions implements the action queue: user-submitted units of work
// with a pending → active → terminal lifecycle, driven by a periodic tick
// through per-type process/evaluate/clean handlers.
package actions

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an action. It progresses monotonically
// from pending through active to exactly one terminal state.
type Status uint8

const (
	StatusPending Status = iota
	StatusActive
	StatusCompleted
	StatusStopped
	StatusFailed
)

// String returns the wire status string.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusCompleted:
		return "completed"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusFailed
}

// Result is the outcome a type handler reports from process or evaluate.
type Result uint8

const (
	// ResultSuccess advances a pending action to active, or completes an
	// active one.
	ResultSuccess Result = iota
	// ResultPending advances a pending action to active; an active action
	// stays active.
	ResultPending
	// ResultRetry leaves the action unchanged for the next tick.
	ResultRetry
	// ResultNoChange leaves the action unchanged.
	ResultNoChange
	// ResultFailure fails the action.
	ResultFailure
	// ResultStopped stops the action.
	ResultStopped
)

// Relationship references the collection item an action produced.
type Relationship struct {
	Kind string
	ID   string
}

// Action is one queued unit of work. Mutable state is guarded by its own
// mutex because the collector and commissioner callbacks report into
// actions concurrently with queue ticks.
type Action struct {
	ID         uuid.UUID
	Type       string
	Attributes map[string]any
	CreatedAt  time.Time
	TimeoutAt  time.Time

	mu            sync.Mutex
	status        Status
	relationship  *Relationship
	lastEvaluated time.Time
	markedDelete  bool
}

func newAction(typeName string, attributes map[string]any) *Action {
	a := &Action{
		ID:         uuid.New(),
		Type:       typeName,
		Attributes: attributes,
		CreatedAt:  time.Now(),
	}
	if timeout, ok := numberAttr(attributes, "timeout"); ok {
		a.TimeoutAt = a.CreatedAt.Add(time.Duration(timeout) * time.Second)
	}
	return a
}

// numberAttr reads a numeric attribute from decoded JSON.
func numberAttr(attrs map[string]any, key string) (float64, bool) {
	v, ok := attrs[key].(float64)
	return v, ok
}

func stringAttr(attrs map[string]any, key string) (string, bool) {
	v, ok := attrs[key].(string)
	return v, ok
}

// Status returns the current lifecycle state.
func (a *Action) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// setStatus advances the status. Terminal states are never left again.
func (a *Action) setStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.status.Terminal() {
		return
	}
	a.status = s
}

// Relationship returns the produced item reference, if any.
func (a *Action) Relationship() *Relationship {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.relationship
}

// SetRelationship records the produced collection item.
func (a *Action) SetRelationship(kind, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.relationship = &Relationship{Kind: kind, ID: id}
}

// Finish marks the action completed, or stopped when it finalised from
// partial data. Implements collector.Action.
func (a *Action) Finish(timedOut bool) {
	if timedOut {
		a.setStatus(StatusStopped)
		return
	}
	a.setStatus(StatusCompleted)
}

// MarkDeleted flags the action for removal on the next tick.
func (a *Action) MarkDeleted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.markedDelete = true
}

func (a *Action) deleted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.markedDelete
}

// timedOut reports whether the action deadline has passed.
func (a *Action) timedOut(now time.Time) bool {
	return !a.TimeoutAt.IsZero() && a.TimeoutAt.Before(now)
}

func (a *Action) touchEvaluated() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastEvaluated = time.Now()
}

// render returns the json:api task form of the action.
func (a *Action) render() map[string]any {
	a.mu.Lock()
	status := a.status
	rel := a.relationship
	a.mu.Unlock()

	attrs := make(map[string]any, len(a.Attributes)+1)
	for k, v := range a.Attributes {
		attrs[k] = v
	}
	attrs["status"] = status.String()

	doc := map[string]any{
		"id":         a.ID.String(),
		"type":       a.Type,
		"attributes": attrs,
	}
	if status == StatusCompleted && rel != nil {
		doc["relationships"] = map[string]any{
			"result": map[string]any{
				"data": map[string]any{"type": rel.Kind, "id": rel.ID},
			},
		}
	}
	return doc
}
