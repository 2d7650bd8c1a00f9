package collector

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/pkg/thread"
)

func errorsIsAny(err error, targets ...error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// onDiagResponse handles a diagnostic-get response. Responses from a
// cancelled or superseded cycle (stale generation) are dropped.
func (c *Collector) onDiagResponse(gen uint64, err error, tlvs []thread.TLV) {
	c.mu.Lock()
	if gen != c.gen || c.phase == PhaseIdle {
		c.mu.Unlock()
		c.logger.Debug("dropping stale diagnostic response")
		return
	}
	if err != nil {
		c.logger.Warn("diagnostic get failed", zap.Error(err))
	} else if key, ok := findRloc16(tlvs); !ok {
		c.logger.Warn("diagnostic response without rloc16, dropping")
	} else {
		diagResponsesReceived.Inc()
		c.updateDiagLocked(key, tlvs)
		if c.queryPhase == PhaseWaiting {
			c.queryPhase = PhasePending
		}
	}
	c.mu.Unlock()
	c.Continue() //nolint:errcheck // failures surface on the next queue tick
}

func findRloc16(tlvs []thread.TLV) (uint16, bool) {
	for _, tlv := range tlvs {
		if tlv.Type == thread.TLVRloc16 {
			return tlv.Rloc16Value()
		}
	}
	return 0, false
}

// updateDiagLocked merges a response TLV set into the accumulated set for
// key. Per TLV type the later message wins; TLV types absent from the new
// response are retained from the old set.
func (c *Collector) updateDiagLocked(key uint16, incoming []thread.TLV) {
	merged := &diagInfo{startTime: time.Now()}

	existing, known := c.diagSet[key]
	if known && len(existing.tlvs) > 0 {
		remaining := append([]thread.TLV(nil), incoming...)
		for _, old := range existing.tlvs {
			replaced := false
			for i, update := range remaining {
				if old.Type == update.Type {
					merged.tlvs = append(merged.tlvs, update)
					remaining = append(remaining[:i], remaining[i+1:]...)
					replaced = true
					break
				}
			}
			if !replaced {
				merged.tlvs = append(merged.tlvs, old)
			}
		}
		incoming = remaining
	}
	if !known {
		// Unicast to a previously unknown node: prime the query maps so
		// mesh-diag TLVs can be collected for it too.
		c.addSingleRlocLookupLocked(key)
	}
	merged.tlvs = append(merged.tlvs, incoming...)
	c.diagSet[key] = merged
}

// addSingleRlocLookupLocked seeds the query maps for a single router
// destination.
func (c *Collector) addSingleRlocLookupLocked(rloc uint16) {
	if !thread.IsRouterRloc16(rloc) {
		return
	}
	c.childTables[rloc] = &queryState[thread.ChildEntry]{}
	c.childIPs[rloc] = &queryState[thread.ChildIP6Addrs]{}
	c.routerNeighbors[rloc] = &queryState[thread.RouterNeighbor]{}
}

// resetRouterDiag learns or forgets router entries in the diagnostic set
// from the local router table.
func (c *Collector) resetRouterDiag(learn bool) {
	for id := uint8(0); id <= thread.MaxRouterID; id++ {
		rloc := thread.RouterIDToRloc16(id)
		if _, err := c.api.RouterInfo(id); err == nil && learn {
			if _, ok := c.diagSet[rloc]; !ok {
				c.diagSet[rloc] = &diagInfo{}
			}
		} else if _, ok := c.diagSet[rloc]; ok {
			delete(c.diagSet, rloc)
			c.logger.Debug("dropped outdated router diag", zap.Uint16("rloc16", rloc))
		}
	}
}

// resetChildDiag removes child-keyed entries older than the freshness
// bound.
func (c *Collector) resetChildDiag(maxAge time.Time) {
	for rloc, info := range c.diagSet {
		if thread.IsRouterRloc16(rloc) {
			continue
		}
		if info.startTime.Before(maxAge) {
			delete(c.diagSet, rloc)
			c.logger.Debug("dropped outdated child diag", zap.Uint16("rloc16", rloc))
		}
	}
}

// resetQueryMap aligns a mesh-diag query map with the local router table:
// present routers get a (cleared) slot, vanished routers are dropped.
func resetQueryMap[T any](api threadapi.Client, m map[uint16]*queryState[T], learn bool) {
	for id := uint8(0); id <= thread.MaxRouterID; id++ {
		rloc := thread.RouterIDToRloc16(id)
		if _, err := api.RouterInfo(id); err == nil && learn {
			if st, ok := m[rloc]; ok {
				st.entries = nil
			} else {
				m[rloc] = &queryState[T]{}
			}
		} else {
			delete(m, rloc)
		}
	}
}

// onChildTable handles one child-table query callback.
func (c *Collector) onChildTable(gen uint64, rloc uint16, err error, entry thread.ChildEntry, done bool) {
	c.mu.Lock()
	st, ok := c.childTables[rloc]
	if gen != c.gen || !ok || st.state != PhasePending {
		c.mu.Unlock()
		return
	}
	if !done {
		st.entries = append(st.entries, entry)
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Warn("child table query ended", zap.Uint16("rloc16", rloc), zap.Error(err))
	}
	st.updateTime = time.Now()
	st.state = PhaseDone
	c.mu.Unlock()
	c.Continue() //nolint:errcheck
}

// onChildIP6 handles one children-ip6 query callback.
func (c *Collector) onChildIP6(gen uint64, rloc uint16, err error, child thread.ChildIP6Addrs, done bool) {
	c.mu.Lock()
	st, ok := c.childIPs[rloc]
	if gen != c.gen || !ok || st.state != PhasePending {
		c.mu.Unlock()
		return
	}
	if !done {
		if child.Rloc16 != 0xfffe {
			st.entries = append(st.entries, child)
		}
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Warn("child ip6 query ended", zap.Uint16("rloc16", rloc), zap.Error(err))
	}
	st.updateTime = time.Now()
	st.state = PhaseDone
	c.mu.Unlock()
	c.Continue() //nolint:errcheck
}

// onRouterNeighbors handles one router-neighbor query callback.
func (c *Collector) onRouterNeighbors(gen uint64, rloc uint16, err error, entry thread.RouterNeighbor, done bool) {
	c.mu.Lock()
	st, ok := c.routerNeighbors[rloc]
	if gen != c.gen || !ok || st.state != PhasePending {
		c.mu.Unlock()
		return
	}
	if !done {
		st.entries = append(st.entries, entry)
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.logger.Warn("router neighbor query ended", zap.Uint16("rloc16", rloc), zap.Error(err))
	}
	st.updateTime = time.Now()
	st.state = PhaseDone
	c.mu.Unlock()
	c.Continue() //nolint:errcheck
}
