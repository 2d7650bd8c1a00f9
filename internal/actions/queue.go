package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/event"
)

// Queue limits.
const (
	DefaultQueueMax     = 100
	DefaultTickInterval = 2 * time.Second
)

// TopicActionStatus is the event-bus topic for action status transitions.
const TopicActionStatus = "actions.status"

// Submission errors.
var (
	ErrInvalidTask = errors.New("invalid task")
	ErrQueueFull   = errors.New("queue full")
	ErrNotFound    = errors.New("action not found")
)

var actionsByOutcome = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "borderd_actions_total",
	Help: "Actions that reached a terminal status.",
}, []string{"type", "status"})

// Handler is the per-type dispatch table entry. Process runs while the
// action is pending and tries to make it active; Evaluate runs while it is
// active and decides completion; Clean releases resources on timeout or
// deletion. Decorate optionally rewrites the rendered attribute map.
type Handler struct {
	Name     string
	Validate func(attrs map[string]any) error
	Process  func(a *Action) Result
	Evaluate func(a *Action) Result
	Clean    func(a *Action)
	Decorate func(a *Action, attrs map[string]any)
}

// Task is one submitted queue entry before validation.
type Task struct {
	Type       string
	Attributes map[string]any
}

// Queue is the FIFO of actions. All mutation happens under its mutex; the
// periodic tick, HTTP submissions and callback kicks serialise here.
type Queue struct {
	logger *zap.Logger
	bus    event.Publisher
	maxLen int

	mu       sync.Mutex
	handlers map[string]Handler
	order    []*Action
	byID     map[uuid.UUID]*Action

	kick chan struct{}
}

// NewQueue creates an empty queue. maxLen <= 0 selects DefaultQueueMax.
func NewQueue(maxLen int, bus event.Publisher, logger *zap.Logger) *Queue {
	if maxLen <= 0 {
		maxLen = DefaultQueueMax
	}
	return &Queue{
		logger:   logger,
		bus:      bus,
		maxLen:   maxLen,
		handlers: make(map[string]Handler),
		byID:     make(map[uuid.UUID]*Action),
		kick:     make(chan struct{}, 1),
	}
}

// Register installs a type handler. Must be called before Run.
func (q *Queue) Register(h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[h.Name] = h
}

// Kick requests an immediate tick. Safe from any goroutine; used as the
// completion callback of the collector and the commissioner.
func (q *Queue) Kick() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

// Run drives the queue until the context is cancelled.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-q.kick:
		}
		q.Tick()
	}
}

// Submit validates and enqueues a batch of tasks. The whole batch is
// rejected when any task fails validation or when the queue cannot make
// room. Accepted actions are returned in submission order.
func (q *Queue) Submit(tasks []Task) ([]*Action, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, t := range tasks {
		h, ok := q.handlers[t.Type]
		if !ok {
			return nil, fmt.Errorf("unknown action type %q: %w", t.Type, ErrInvalidTask)
		}
		if t.Attributes == nil {
			return nil, fmt.Errorf("action %q without attributes: %w", t.Type, ErrInvalidTask)
		}
		if h.Validate != nil {
			if err := h.Validate(t.Attributes); err != nil {
				return nil, fmt.Errorf("%v: %w", err, ErrInvalidTask)
			}
		}
	}

	evictable := 0
	for _, a := range q.order {
		if a.Status().Terminal() {
			evictable++
		}
	}
	if len(q.order)-evictable+len(tasks) > q.maxLen {
		return nil, fmt.Errorf("%d actions queued, %d evictable: %w", len(q.order), evictable, ErrQueueFull)
	}

	accepted := make([]*Action, 0, len(tasks))
	for _, t := range tasks {
		for len(q.order) >= q.maxLen {
			if !q.evictOldestTerminalLocked() {
				return accepted, ErrQueueFull
			}
		}
		a := newAction(t.Type, t.Attributes)
		q.order = append(q.order, a)
		q.byID[a.ID] = a
		accepted = append(accepted, a)
		q.logger.Info("queued action", zap.String("id", a.ID.String()), zap.String("type", a.Type))
	}
	return accepted, nil
}

// evictOldestTerminalLocked removes the oldest terminal action. Returns
// false when nothing is evictable.
func (q *Queue) evictOldestTerminalLocked() bool {
	idx := -1
	for i, a := range q.order {
		if !a.Status().Terminal() {
			continue
		}
		if idx == -1 || a.CreatedAt.Before(q.order[idx].CreatedAt) {
			idx = i
		}
	}
	if idx == -1 {
		return false
	}
	victim := q.order[idx]
	if h, ok := q.handlers[victim.Type]; ok && h.Clean != nil {
		h.Clean(victim)
	}
	q.order = append(q.order[:idx], q.order[idx+1:]...)
	delete(q.byID, victim.ID)
	q.logger.Debug("evicted terminal action", zap.String("id", victim.ID.String()))
	return true
}

// Tick advances every action one step: deletes marked entries, stops timed
// out ones, processes pending ones and evaluates active ones. The tick
// never fails; per-action errors are absorbed into the action status.
func (q *Queue) Tick() {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	keep := q.order[:0]
	for _, a := range q.order {
		h := q.handlers[a.Type]

		if a.deleted() {
			if h.Clean != nil {
				h.Clean(a)
			}
			a.setStatus(StatusStopped)
			delete(q.byID, a.ID)
			q.logger.Info("deleted action", zap.String("id", a.ID.String()))
			continue
		}

		status := a.Status()
		if status == StatusPending || status == StatusActive {
			switch {
			case a.timedOut(now):
				q.logger.Warn("action timed out", zap.String("id", a.ID.String()), zap.String("type", a.Type))
				if h.Clean != nil {
					h.Clean(a)
				}
				q.transitionLocked(a, StatusStopped)

			case status == StatusPending:
				switch h.Process(a) {
				case ResultFailure:
					q.transitionLocked(a, StatusFailed)
				case ResultSuccess, ResultPending:
					q.transitionLocked(a, StatusActive)
				case ResultStopped:
					q.transitionLocked(a, StatusStopped)
				case ResultRetry, ResultNoChange:
				}

			default:
				switch h.Evaluate(a) {
				case ResultFailure:
					q.transitionLocked(a, StatusFailed)
				case ResultSuccess:
					q.transitionLocked(a, StatusCompleted)
				case ResultStopped:
					q.transitionLocked(a, StatusStopped)
				default:
				}
			}
			a.touchEvaluated()
		}
		keep = append(keep, a)
	}
	q.order = keep
}

// transitionLocked applies a status change and publishes it. The collector
// may already have finalised the action; setStatus keeps terminal states.
func (q *Queue) transitionLocked(a *Action, s Status) {
	a.setStatus(s)
	final := a.Status()
	if final.Terminal() {
		actionsByOutcome.WithLabelValues(a.Type, final.String()).Inc()
	}
	if q.bus != nil {
		q.bus.PublishAsync(context.Background(), event.Event{
			Topic:     TopicActionStatus,
			Source:    "actions",
			Timestamp: time.Now(),
			Payload: map[string]any{
				"id":     a.ID.String(),
				"type":   a.Type,
				"status": final.String(),
			},
		})
	}
}

// Get returns an action by id.
func (q *Queue) Get(id uuid.UUID) (*Action, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.byID[id]
	return a, ok
}

// List returns a snapshot of the queue in submission order.
func (q *Queue) List() []*Action {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Action(nil), q.order...)
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// PendingCount returns the number of non-terminal actions.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, a := range q.order {
		if !a.Status().Terminal() {
			count++
		}
	}
	return count
}

// MarkAllDeleted flags every action for removal on the next tick.
func (q *Queue) MarkAllDeleted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range q.order {
		a.MarkDeleted()
	}
}

// MarkDeleted flags one action for removal. Returns ErrNotFound for an
// unknown id.
func (q *Queue) MarkDeleted(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	a, ok := q.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.MarkDeleted()
	return nil
}

// stopByIDLocked stops the action with the given id if it is still
// running. Called from type handlers, which already run under the queue
// mutex, when a newer add-thread-device action supersedes an older one for
// the same joiner.
func (q *Queue) stopByIDLocked(id uuid.UUID) {
	if a, ok := q.byID[id]; ok {
		a.setStatus(StatusStopped)
	}
}

// Render returns the action's json:api form with type decoration applied.
func (q *Queue) Render(a *Action) map[string]any {
	doc := a.render()
	q.mu.Lock()
	h := q.handlers[a.Type]
	q.mu.Unlock()
	if h.Decorate != nil {
		if attrs, ok := doc["attributes"].(map[string]any); ok {
			h.Decorate(a, attrs)
		}
	}
	return doc
}
