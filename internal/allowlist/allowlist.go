// Package allowlist tracks the joiners the commissioner is willing to
// admit. It owns the commissioner lifecycle: it is the sole starter and
// stopper, translates joiner events into entry state transitions, and stops
// the commissioner once no pending joiners remain.
package allowlist

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/pkg/thread"
)

// State is the lifecycle state of one allow-list entry.
type State uint8

const (
	StateNew State = iota
	StatePendingJoiner
	StateJoinAttempted
	StateJoined
	StateJoinFailed
	StateExpired
)

// String returns the wire status string reported in action attributes.
func (s State) String() string {
	switch s {
	case StatePendingJoiner:
		return "pendingJoiner"
	case StateJoinAttempted:
		return "joinAttempted"
	case StateJoined:
		return "joined"
	case StateJoinFailed:
		return "joinFailed"
	case StateExpired:
		return "expired"
	default:
		return "new"
	}
}

// Terminal reports whether the entry has reached a final state.
func (s State) Terminal() bool {
	return s == StateJoined || s == StateJoinFailed || s == StateExpired
}

// Entry is one permitted joiner.
type Entry struct {
	Eui64   thread.ExtAddress
	UUID    uuid.UUID
	Pskd    string
	Timeout time.Duration
	State   State
}

// JoinStatus is the condensed join outcome used by action evaluation.
type JoinStatus uint8

const (
	JoinPending JoinStatus = iota
	JoinSucceeded
	JoinFailed
)

// AllowList is the ordered set of permitted joiners.
type AllowList struct {
	api    threadapi.Client
	logger *zap.Logger

	mu      sync.Mutex
	entries []*Entry

	// onActive is invoked when the commissioner becomes active, to kick the
	// action queue so waiting tasks proceed.
	onActive func()
}

// New creates an empty allow list.
func New(api threadapi.Client, logger *zap.Logger, onActive func()) *AllowList {
	return &AllowList{api: api, logger: logger, onActive: onActive}
}

// find returns the entry for an EUI-64, or nil. Linear scan; the list is
// bounded by the per-network joiner count.
func (a *AllowList) find(eui thread.ExtAddress) *Entry {
	for _, e := range a.entries {
		if e.Eui64 == eui {
			return e
		}
	}
	return nil
}

// Find returns a copy of the entry for an EUI-64.
func (a *AllowList) Find(eui thread.ExtAddress) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e := a.find(eui); e != nil {
		return *e, true
	}
	return Entry{}, false
}

// CommissionerState returns the commissioner role state.
func (a *AllowList) CommissionerState() threadapi.CommissionerState {
	return a.api.CommissionerState()
}

// CommissionerStart petitions for the commissioner role and installs the
// state and joiner callbacks.
func (a *AllowList) CommissionerStart() error {
	return a.api.CommissionerStart(a.handleCommissionerState, a.handleJoinerEvent)
}

func (a *AllowList) handleCommissionerState(state threadapi.CommissionerState) {
	a.logger.Info("commissioner state changed", zap.Stringer("state", state))
	if state == threadapi.CommissionerActive && a.onActive != nil {
		a.onActive()
	}
}

// AddJoiner upserts an allow-list entry and registers the joiner with the
// commissioner. The entry uuid matches the action that created it.
func (a *AllowList) AddJoiner(eui thread.ExtAddress, pskd string, timeout time.Duration, id uuid.UUID) error {
	a.mu.Lock()
	entry := a.find(eui)
	if entry != nil {
		entry.Pskd = pskd
		entry.Timeout = timeout
		entry.UUID = id
	} else {
		entry = &Entry{Eui64: eui, UUID: id, Pskd: pskd, Timeout: timeout, State: StateNew}
		a.entries = append(a.entries, entry)
	}
	a.mu.Unlock()

	addr := &eui
	if eui.IsZero() {
		addr = nil
	}
	if err := a.api.AddJoiner(addr, pskd, timeout); err != nil {
		a.logger.Warn("add joiner failed", zap.String("eui64", eui.String()), zap.Error(err))
		return err
	}
	a.setState(eui, StatePendingJoiner)
	return nil
}

// RemoveJoiner unregisters the joiner from the commissioner. A disabled
// commissioner has nothing to remove.
func (a *AllowList) RemoveJoiner(eui thread.ExtAddress) error {
	if a.api.CommissionerState() == threadapi.CommissionerDisabled {
		return nil
	}
	addr := &eui
	if eui.IsZero() {
		addr = nil
	}
	return a.api.RemoveJoiner(addr)
}

// Erase removes the entry for an EUI-64. Returns threadapi.ErrNotFound when
// absent.
func (a *AllowList) Erase(eui thread.ExtAddress) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, e := range a.entries {
		if e.Eui64 == eui {
			a.entries = append(a.entries[:i], a.entries[i+1:]...)
			return nil
		}
	}
	return threadapi.ErrNotFound
}

// EraseAll drops every entry.
func (a *AllowList) EraseAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = nil
}

// JoinStatus condenses the entry state for action evaluation. A missing
// entry counts as failed.
func (a *AllowList) JoinStatus(eui thread.ExtAddress) JoinStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry := a.find(eui)
	switch {
	case entry == nil, entry.State == StateJoinFailed, entry.State == StateExpired:
		return JoinFailed
	case entry.State == StateJoined:
		return JoinSucceeded
	default:
		return JoinPending
	}
}

// PendingCount returns the number of entries that have not reached a
// terminal state.
func (a *AllowList) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, e := range a.entries {
		if !e.State.Terminal() {
			count++
		}
	}
	return count
}

// Entries returns a snapshot of all entries in insertion order.
func (a *AllowList) Entries() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Entry, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, *e)
	}
	return out
}

func (a *AllowList) setState(eui thread.ExtAddress, state State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if e := a.find(eui); e != nil {
		a.logger.Debug("allow-list entry state",
			zap.String("eui64", e.Eui64.String()),
			zap.Stringer("state", state))
		e.State = state
	}
}

// handleJoinerEvent translates commissioner joiner events into entry state
// transitions. The stack may report joiners that are not ours; those are
// ignored.
func (a *AllowList) handleJoinerEvent(event threadapi.JoinerEvent, eui64 *thread.ExtAddress) {
	a.mu.Lock()
	var entry *Entry
	if eui64 != nil {
		entry = a.find(*eui64)
	}
	if entry == nil {
		a.mu.Unlock()
		a.logger.Warn("joiner event for unknown device")
		return
	}

	stopCommissioner := false
	switch event {
	case threadapi.JoinerStart:
		entry.State = StateJoinAttempted
	case threadapi.JoinerFinalize:
		entry.State = StateJoined
	case threadapi.JoinerRemoved:
		switch entry.State {
		case StatePendingJoiner:
			entry.State = StateExpired
		case StateJoined:
		default:
			entry.State = StateJoinFailed
		}
		pending := 0
		for _, e := range a.entries {
			if !e.State.Terminal() {
				pending++
			}
		}
		if pending == 0 {
			stopCommissioner = true
		} else {
			a.logger.Info("pending joiners remain", zap.Int("count", pending))
		}
	}
	a.mu.Unlock()

	if stopCommissioner {
		if err := a.api.CommissionerStop(); err != nil {
			a.logger.Warn("commissioner stop failed", zap.Error(err))
		}
	}
}
