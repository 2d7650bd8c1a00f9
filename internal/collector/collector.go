// Package collector implements the mesh network-diagnostic collector: a
// multi-phase request/response engine that issues unicast diagnostic-get
// requests (one node, or every known router and REED during discovery),
// follows up with streamed mesh-diag queries,
// retries and ages partial results, and merges everything into the devices
// or diagnostics collection.
package collector

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/pkg/thread"
)

// Collection timing bounds. Requested values are clamped into these ranges.
const (
	DefaultTimeout = 10 * time.Second
	MaxTimeout     = 10 * DefaultTimeout
	DefaultMaxAge  = 30 * time.Second
	MaxMaxAge      = 10 * DefaultMaxAge
	DefaultRetries = 3

	// retryDelayFTD is the delay before re-sending a diagnostic-get to an
	// unresponsive FTD.
	retryDelayFTD = 100 * time.Millisecond
)

var (
	diagRequestsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "borderd_collector_diag_requests_total",
		Help: "Diagnostic-get requests sent.",
	})
	diagResponsesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "borderd_collector_diag_responses_total",
		Help: "Diagnostic-get responses received and merged.",
	})
)

// Phase is the request state of the collector and of each sub-query.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseWaiting
	PhasePending
	PhaseDone
)

// Progress is the outcome of one Continue step.
type Progress uint8

const (
	// ProgressPending means the cycle is still collecting.
	ProgressPending Progress = iota
	// ProgressComplete means the cycle finished with responses from every
	// tracked node.
	ProgressComplete
	// ProgressTimeout means the cycle finalised from partial data after the
	// deadline or exhausted retries.
	ProgressTimeout
)

// Action is the queue entry a collection cycle reports its result into.
type Action interface {
	// SetRelationship attaches the produced collection item reference.
	SetRelationship(kind, id string)
	// Finish marks the action completed, or stopped when the cycle
	// finalised from partial data.
	Finish(timedOut bool)
}

// diagInfo is the accumulated diagnostic-get response of one node.
type diagInfo struct {
	startTime time.Time
	tlvs      []thread.TLV
}

// queryState tracks one streamed mesh-diag sub-query against a router.
type queryState[T any] struct {
	updateTime time.Time
	state      Phase
	entries    []T
}

// Collector drives one collection cycle at a time against the Thread stack.
// All exported methods are safe for concurrent use; thread-api callbacks
// re-enter through the same mutex.
type Collector struct {
	api     threadapi.Client
	devices *collection.Collection
	diags   *collection.Collection
	logger  *zap.Logger

	mu sync.Mutex

	phase      Phase
	queryPhase Phase
	timeoutAt  time.Time
	maxAge     time.Time
	maxRetries int
	retries    int
	lastSend   time.Time
	doneCb     func()

	// gen invalidates in-flight callbacks across cancel/reconfigure.
	gen uint64

	reqTLVs      []uint8
	queryTLVs    []uint8
	dest         netip.Addr
	relationship string
	action       Action

	diagSet         map[uint16]*diagInfo
	childTables     map[uint16]*queryState[thread.ChildEntry]
	childIPs        map[uint16]*queryState[thread.ChildIP6Addrs]
	routerNeighbors map[uint16]*queryState[thread.RouterNeighbor]
}

// New creates a collector writing into the given collections.
func New(api threadapi.Client, devices, diags *collection.Collection, logger *zap.Logger) *Collector {
	return &Collector{
		api:             api,
		devices:         devices,
		diags:           diags,
		logger:          logger,
		diagSet:         make(map[uint16]*diagInfo),
		childTables:     make(map[uint16]*queryState[thread.ChildEntry]),
		childIPs:        make(map[uint16]*queryState[thread.ChildIP6Addrs]),
		routerNeighbors: make(map[uint16]*queryState[thread.RouterNeighbor]),
	}
}

// Clear drops all accumulated diagnostic state.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diagSet = make(map[uint16]*diagInfo)
	c.childTables = make(map[uint16]*queryState[thread.ChildEntry])
	c.childIPs = make(map[uint16]*queryState[thread.ChildIP6Addrs])
	c.routerNeighbors = make(map[uint16]*queryState[thread.RouterNeighbor])
}

// Cancel resets the cycle and drops the completion callback. Late callbacks
// from the cancelled cycle are discarded. Cancelling twice is a no-op.
func (c *Collector) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = PhaseIdle
	c.queryPhase = PhaseIdle
	c.doneCb = nil
	c.action = nil
	c.relationship = ""
	c.gen++
}

// Abort finalises a running cycle immediately from whatever partial data
// has been gathered. A no-op when idle.
func (c *Collector) Abort() {
	c.mu.Lock()
	if c.phase == PhaseIdle {
		c.mu.Unlock()
		return
	}
	c.finaliseLocked(true)
	done := c.doneCb
	c.mu.Unlock()
	if done != nil {
		done()
	}
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	return min(max(v, lo), hi)
}

// Configure arms a collection cycle: deadline, freshness bound, retry
// budget and completion callback. Fails with threadapi.ErrInvalidState
// while a cycle is active.
func (c *Collector) Configure(timeout, maxAge time.Duration, retries int, done func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle {
		return fmt.Errorf("collection cycle active: %w", threadapi.ErrInvalidState)
	}
	now := time.Now()
	c.timeoutAt = now.Add(clampDuration(timeout, DefaultTimeout, MaxTimeout))
	c.maxAge = now.Add(-clampDuration(maxAge, DefaultMaxAge, MaxMaxAge))
	c.maxRetries = retries
	c.retries = 0
	c.doneCb = done
	return nil
}

// setDefaultTLVs seeds the minimal TLV sets required to fill the devices
// collection.
func (c *Collector) setDefaultTLVs() {
	c.reqTLVs = []uint8{thread.TLVExtAddress, thread.TLVRloc16, thread.TLVIP6AddressList}
	c.queryTLVs = []uint8{thread.TLVChild, thread.TLVChildIP6AddrList}
}

// StartDiscovery begins a network discovery cycle that refreshes the
// devices collection. Fails with threadapi.ErrInvalidState unless idle.
func (c *Collector) StartDiscovery(relationshipKind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if relationshipKind != c.devices.Name() || c.phase != PhaseIdle {
		return fmt.Errorf("discovery: %w", threadapi.ErrInvalidState)
	}
	c.phase = PhaseWaiting
	c.relationship = relationshipKind
	c.setDefaultTLVs()
	return c.startDiscoveryLocked()
}

// startDiscoveryLocked enumerates the local router table, refreshes the
// diagnostic and query maps and sends one diagnostic-get per tracked node.
func (c *Collector) startDiscoveryLocked() error {
	if c.queryPhase != PhaseIdle {
		return nil
	}
	c.resetRouterDiag(true)
	c.resetChildDiag(c.maxAge)

	for rloc := range c.diagSet {
		if err := c.sendDiagGetLocked(thread.RlocAddrFor(c.api.RlocAddr(), rloc)); err != nil {
			return err
		}
	}

	resetQueryMap(c.api, c.childTables, true)
	resetQueryMap(c.api, c.childIPs, true)
	resetQueryMap(c.api, c.routerNeighbors, true)

	// The router rloc16s are already known, so responses to the get
	// requests and the first queries can race freely.
	c.queryPhase = PhasePending
	c.logger.Debug("discovery started", zap.Int("routers", len(c.diagSet)))
	return nil
}

// HandleAction begins a unicast diagnostic cycle for an action. destination
// is a device id, a 16-hex ml-eid-iid or a 4-hex rloc16; empty means
// discovery mode. Returns threadapi.ErrInvalidState while another cycle is
// active (callers retry), threadapi.ErrInvalidArgs for a bad destination or
// TLV name.
func (c *Collector) HandleAction(action Action, relationshipKind, destination string, tlvNames []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != PhaseIdle {
		return fmt.Errorf("collection cycle active: %w", threadapi.ErrInvalidState)
	}
	c.phase = PhaseWaiting
	c.relationship = relationshipKind
	c.action = action

	if err := c.extractTLVSet(tlvNames); err != nil {
		c.resetLocked()
		return err
	}

	if destination == "" {
		if err := c.startDiscoveryLocked(); err != nil {
			c.resetLocked()
			return err
		}
		return nil
	}

	// Unicast: drop all previous entries, the rloc16 correlation key is
	// learned from the response.
	c.resetRouterDiag(false)
	c.resetChildDiag(time.Now())
	resetQueryMap(c.api, c.childTables, false)
	resetQueryMap(c.api, c.childIPs, false)
	resetQueryMap(c.api, c.routerNeighbors, false)

	dst, err := c.resolveDestination(destination)
	if err != nil {
		c.resetLocked()
		return err
	}
	c.dest = dst
	c.retries = 0
	c.queryPhase = PhaseWaiting
	if err := c.sendDiagGetLocked(dst); err != nil {
		c.resetLocked()
		return err
	}
	return nil
}

func (c *Collector) resetLocked() {
	c.phase = PhaseIdle
	c.queryPhase = PhaseIdle
	c.relationship = ""
	c.action = nil
}

// extractTLVSet splits the requested TLV names into diagnostic-get types
// and mesh-diag query types. The rloc16 TLV is appended when absent; it is
// the correlation key for responses.
func (c *Collector) extractTLVSet(names []string) error {
	c.reqTLVs = c.reqTLVs[:0]
	c.queryTLVs = c.queryTLVs[:0]
	rlocRequested := false
	for _, name := range names {
		typ, ok := thread.TLVTypeByName(name)
		if !ok {
			return fmt.Errorf("unknown TLV name %q: %w", name, threadapi.ErrInvalidArgs)
		}
		if !thread.IsQueryTLV(typ) {
			if typ == thread.TLVRloc16 {
				rlocRequested = true
			}
			c.reqTLVs = append(c.reqTLVs, typ)
			continue
		}
		switch typ {
		case thread.TLVChild, thread.TLVChildIP6AddrList, thread.TLVRouterNeighbor:
			c.queryTLVs = append(c.queryTLVs, typ)
		default:
			return fmt.Errorf("TLV %q is not queryable: %w", name, threadapi.ErrInvalidArgs)
		}
	}
	if !rlocRequested {
		c.reqTLVs = append(c.reqTLVs, thread.TLVRloc16)
	}
	return nil
}

// resolveDestination maps a destination string to an IPv6 address per the
// rules of the action API: known device id, literal ml-eid-iid, or rloc16.
func (c *Collector) resolveDestination(destination string) (netip.Addr, error) {
	if item, ok := c.devices.Get(destination).(*collection.Device); ok {
		if item.MlEidIid.IsZero() {
			return netip.Addr{}, fmt.Errorf("device %s has no learned ml-eid-iid: %w", destination, threadapi.ErrInvalidArgs)
		}
		return c.api.MeshLocalPrefix().Combine(item.MlEidIid), nil
	}
	switch {
	case len(destination) == 16:
		iid, err := thread.ParseExtAddress(destination)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("%v: %w", err, threadapi.ErrInvalidArgs)
		}
		return c.api.MeshLocalPrefix().Combine(iid), nil
	case len(destination) == 4 || (len(destination) == 6 && destination[:2] == "0x"):
		rloc, err := thread.ParseRloc16(destination)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("%v: %w", err, threadapi.ErrInvalidArgs)
		}
		return thread.RlocAddrFor(c.api.RlocAddr(), rloc), nil
	default:
		return netip.Addr{}, fmt.Errorf("destination %q: %w", destination, threadapi.ErrInvalidArgs)
	}
}

func (c *Collector) sendDiagGetLocked(dst netip.Addr) error {
	gen := c.gen
	err := c.api.SendDiagnosticGet(dst, c.reqTLVs, func(err error, tlvs []thread.TLV) {
		c.onDiagResponse(gen, err, tlvs)
	})
	if err != nil {
		return fmt.Errorf("send diagnostic get: %w", threadapi.ErrTransport)
	}
	c.lastSend = time.Now()
	diagRequestsSent.Inc()
	return nil
}

// Continue advances the cycle. It is invoked on every queue tick and from
// every response callback. The error return reports unrecoverable send
// failures; the cycle is then reset.
func (c *Collector) Continue() (Progress, error) {
	c.mu.Lock()
	progress, finalised, err := c.continueLocked()
	done := c.doneCb
	c.mu.Unlock()
	if finalised && done != nil {
		done()
	}
	return progress, err
}

func (c *Collector) continueLocked() (Progress, bool, error) {
	if c.phase == PhaseIdle {
		return ProgressComplete, false, nil
	}

	complete := true
	timeout := false
	now := time.Now()

	if !c.timeoutAt.After(now) {
		timeout = true
	}

	if !timeout {
		switch c.queryPhase {
		case PhaseIdle:

		case PhaseWaiting:
			// Unicast with unknown rloc16: wait for the first response.
			if c.lastSend.Add(retryDelayFTD).Before(now) {
				if c.retries >= c.maxRetries {
					timeout = true
					break
				}
				c.retries++
				c.logger.Debug("retrying diagnostic get", zap.Int("attempt", c.retries))
				if err := c.sendDiagGetLocked(c.dest); err != nil {
					c.resetLocked()
					return ProgressPending, false, err
				}
			}
			complete = false

		case PhasePending:
			if !c.handleNextQueryLocked() {
				complete = false
				break
			}
			c.queryPhase = PhaseDone
			fallthrough

		case PhaseDone:
			if c.relationship == c.devices.Name() {
				// Seed placeholders for rx-on-when-idle FTD children (REEDs)
				// discovered mid-collection; their stable addresses matter
				// for the devices collection too.
				for _, table := range c.childTables {
					for _, child := range table.entries {
						if !child.Mode.DeviceTypeFTD || !child.Mode.RxOnWhenIdle {
							continue
						}
						if _, tracked := c.diagSet[child.Rloc16]; tracked {
							continue
						}
						c.logger.Debug("tracking REED", zap.Uint16("rloc16", child.Rloc16))
						c.diagSet[child.Rloc16] = &diagInfo{}
						c.retries = 0
						complete = false
					}
				}
			}

			missing := false
			for _, info := range c.diagSet {
				if len(info.tlvs) == 0 {
					missing = true
					break
				}
			}
			if missing && c.lastSend.Add(retryDelayFTD).Before(now) {
				if c.retries >= c.maxRetries {
					timeout = true
					break
				}
				c.retries++
				for rloc, info := range c.diagSet {
					if len(info.tlvs) > 0 {
						continue
					}
					complete = false
					if err := c.sendDiagGetLocked(thread.RlocAddrFor(c.api.RlocAddr(), rloc)); err != nil {
						c.resetLocked()
						return ProgressPending, false, err
					}
				}
			}

			if complete {
				for _, info := range c.diagSet {
					if len(info.tlvs) == 0 {
						complete = false
						break
					}
				}
			}
		}
	}

	if !complete && !timeout {
		return ProgressPending, false, nil
	}
	return c.finaliseLocked(timeout), true, nil
}

// finaliseLocked writes the gathered results (full or partial) into the
// target collection, stamps the action relationship and returns to idle.
func (c *Collector) finaliseLocked(timeout bool) Progress {
	switch c.relationship {
	case c.devices.Name():
		c.fillDevicesLocked()
	case c.diags.Name():
		c.fillDiagnosticsLocked()
	}
	if c.action != nil {
		c.action.Finish(timeout)
	}
	c.relationship = ""
	c.action = nil
	c.phase = PhaseIdle
	c.queryPhase = PhaseIdle
	if timeout {
		c.logger.Info("collection cycle finalised from partial data")
		return ProgressTimeout
	}
	c.logger.Info("collection cycle complete")
	return ProgressComplete
}

// handleNextQueryLocked walks the configured query TLVs and issues the next
// stale sub-query. Returns false while any sub-query is still outstanding.
func (c *Collector) handleNextQueryLocked() bool {
	for _, typ := range c.queryTLVs {
		switch typ {
		case thread.TLVChild:
			for rloc, st := range c.childTables {
				if !c.requestChildTable(rloc, st) {
					return false
				}
			}
		case thread.TLVChildIP6AddrList:
			for rloc, st := range c.childIPs {
				if !c.requestChildIP6(rloc, st) {
					return false
				}
			}
		case thread.TLVRouterNeighbor:
			for rloc, st := range c.routerNeighbors {
				if !c.requestRouterNeighbors(rloc, st) {
					return false
				}
			}
		}
	}
	return true
}

// retryableQueryErr reports whether a mesh-diag send failure should be
// retried on the next tick with the sub-query state unchanged.
func retryableQueryErr(err error) bool {
	return errorsIsAny(err, threadapi.ErrBusy, threadapi.ErrNoBufs, threadapi.ErrInvalidArgs)
}

func (c *Collector) requestChildTable(rloc uint16, st *queryState[thread.ChildEntry]) bool {
	switch st.state {
	case PhaseIdle, PhaseDone:
		if st.updateTime.After(c.maxAge) {
			return true
		}
		st.state = PhaseWaiting
		fallthrough
	case PhaseWaiting:
		gen := c.gen
		err := c.api.QueryChildTable(rloc, func(err error, entry thread.ChildEntry, done bool) {
			c.onChildTable(gen, rloc, err, entry, done)
		})
		switch {
		case err == nil:
			st.state = PhasePending
		case retryableQueryErr(err):
			c.logger.Warn("child table query deferred", zap.Uint16("rloc16", rloc), zap.Error(err))
		default:
			st.state = PhaseDone
			return true
		}
	case PhasePending:
	}
	return false
}

func (c *Collector) requestChildIP6(rloc uint16, st *queryState[thread.ChildIP6Addrs]) bool {
	switch st.state {
	case PhaseIdle, PhaseDone:
		if st.updateTime.After(c.maxAge) {
			return true
		}
		st.state = PhaseWaiting
		fallthrough
	case PhaseWaiting:
		gen := c.gen
		err := c.api.QueryChildIP6Addrs(rloc, func(err error, child thread.ChildIP6Addrs, done bool) {
			c.onChildIP6(gen, rloc, err, child, done)
		})
		switch {
		case err == nil:
			st.state = PhasePending
		case retryableQueryErr(err):
			c.logger.Warn("child ip6 query deferred", zap.Uint16("rloc16", rloc), zap.Error(err))
		default:
			st.state = PhaseDone
			return true
		}
	case PhasePending:
	}
	return false
}

func (c *Collector) requestRouterNeighbors(rloc uint16, st *queryState[thread.RouterNeighbor]) bool {
	switch st.state {
	case PhaseIdle, PhaseDone:
		if st.updateTime.After(c.maxAge) {
			return true
		}
		st.state = PhaseWaiting
		fallthrough
	case PhaseWaiting:
		gen := c.gen
		err := c.api.QueryRouterNeighbors(rloc, func(err error, entry thread.RouterNeighbor, done bool) {
			c.onRouterNeighbors(gen, rloc, err, entry, done)
		})
		switch {
		case err == nil:
			st.state = PhasePending
		case retryableQueryErr(err):
			c.logger.Warn("router neighbor query deferred", zap.Uint16("rloc16", rloc), zap.Error(err))
		default:
			st.state = PhaseDone
			return true
		}
	case PhasePending:
	}
	return false
}
