// Package threadapitest provides a scriptable in-memory implementation of
// threadapi.Client for tests. Sends are recorded; tests deliver responses
// explicitly so that callback ordering is under test control.
package threadapitest

import (
	"net/netip"
	"sync"
	"time"

	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/pkg/thread"
)

// Compile-time interface guard.
var _ threadapi.Client = (*Fake)(nil)

// DiagSend records one SendDiagnosticGet call.
type DiagSend struct {
	Dst      netip.Addr
	TLVTypes []uint8
	Cb       threadapi.DiagResponseFunc
}

// ResetSend records one SendDiagnosticReset call.
type ResetSend struct {
	Dst      netip.Addr
	TLVTypes []uint8
}

// Query records one mesh-diag query call.
type Query struct {
	Rloc16    uint16
	ChildCb   threadapi.ChildTableFunc
	IP6Cb     threadapi.ChildIP6Func
	NeighCb   threadapi.RouterNeighborFunc
	QueryKind string
}

// EnergyScanReq records one EnergyScan call.
type EnergyScanReq struct {
	Mask     uint32
	Count    uint8
	Period   uint16
	Duration uint16
	Dst      netip.Addr
	Cb       threadapi.EnergyReportFunc
}

// Fake is a scriptable threadapi.Client.
type Fake struct {
	mu sync.Mutex

	Prefix      thread.Prefix
	Rloc        uint16
	RlocAddress netip.Addr
	ExtAddr     thread.ExtAddress
	EUI         thread.ExtAddress
	Leader      thread.LeaderData
	Name        string
	PanID       []byte
	BaID        []byte
	BaState     string
	Role        string
	Routers     map[uint8]thread.RouterInfo
	Routes      []thread.ExternalRoute
	Hosts       []thread.SrpHost
	BrCounters  thread.BorderRoutingCounters

	// Errs forces the named operation ("diagGet", "diagReset", "childTable",
	// "childIp6", "routerNeighbors", "commissionerStart", "addJoiner",
	// "energyScan") to fail with the given error.
	Errs map[string]error

	DiagSends   []DiagSend
	ResetSends  []ResetSend
	Queries     []Query
	EnergyScans []EnergyScanReq
	Joiners     map[thread.ExtAddress]string

	commState   threadapi.CommissionerState
	commStateCb threadapi.CommissionerStateFunc
	joinerCb    threadapi.JoinerEventFunc
}

// New returns a Fake with a mesh-local prefix of fd11:22::/64, rloc16
// 0x2c00 and a single local router entry for the node itself.
func New() *Fake {
	var prefix thread.Prefix
	copy(prefix[:], []byte{0xfd, 0x11, 0x00, 0x22, 0x00, 0x00, 0x00, 0x00})
	ext := thread.ExtAddress{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe}
	f := &Fake{
		Prefix:  prefix,
		Rloc:    0x2c00,
		ExtAddr: ext,
		EUI:     ext,
		Name:    "borderd-test",
		Role:    "leader",
		BaState: "active",
		BaID:    []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		Routers: map[uint8]thread.RouterInfo{
			11: {RouterID: 11, Rloc16: 0x2c00, ExtAddress: ext},
		},
		Joiners: make(map[thread.ExtAddress]string),
		Errs:    make(map[string]error),
	}
	f.RlocAddress = rlocBase(prefix, f.Rloc)
	return f
}

func rlocBase(prefix thread.Prefix, rloc16 uint16) netip.Addr {
	var iid thread.ExtAddress
	iid[3] = 0xff
	iid[4] = 0xfe
	iid[6] = byte(rloc16 >> 8)
	iid[7] = byte(rloc16)
	return prefix.Combine(iid)
}

func (f *Fake) SendDiagnosticGet(dst netip.Addr, tlvTypes []uint8, cb threadapi.DiagResponseFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["diagGet"]; err != nil {
		return err
	}
	f.DiagSends = append(f.DiagSends, DiagSend{Dst: dst, TLVTypes: append([]uint8(nil), tlvTypes...), Cb: cb})
	return nil
}

func (f *Fake) SendDiagnosticReset(dst netip.Addr, tlvTypes []uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["diagReset"]; err != nil {
		return err
	}
	f.ResetSends = append(f.ResetSends, ResetSend{Dst: dst, TLVTypes: append([]uint8(nil), tlvTypes...)})
	return nil
}

func (f *Fake) QueryChildTable(rloc16 uint16, cb threadapi.ChildTableFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["childTable"]; err != nil {
		return err
	}
	f.Queries = append(f.Queries, Query{Rloc16: rloc16, ChildCb: cb, QueryKind: "childTable"})
	return nil
}

func (f *Fake) QueryChildIP6Addrs(rloc16 uint16, cb threadapi.ChildIP6Func) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["childIp6"]; err != nil {
		return err
	}
	f.Queries = append(f.Queries, Query{Rloc16: rloc16, IP6Cb: cb, QueryKind: "childIp6"})
	return nil
}

func (f *Fake) QueryRouterNeighbors(rloc16 uint16, cb threadapi.RouterNeighborFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["routerNeighbors"]; err != nil {
		return err
	}
	f.Queries = append(f.Queries, Query{Rloc16: rloc16, NeighCb: cb, QueryKind: "routerNeighbors"})
	return nil
}

func (f *Fake) RouterInfo(routerID uint8) (thread.RouterInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.Routers[routerID]
	if !ok {
		return thread.RouterInfo{}, threadapi.ErrNotFound
	}
	return info, nil
}

func (f *Fake) MeshLocalPrefix() thread.Prefix { return f.Prefix }
func (f *Fake) Rloc16() uint16                 { return f.Rloc }
func (f *Fake) RlocAddr() netip.Addr           { return f.RlocAddress }
func (f *Fake) ExtAddress() thread.ExtAddress  { return f.ExtAddr }
func (f *Fake) Eui64() thread.ExtAddress       { return f.EUI }
func (f *Fake) LeaderData() thread.LeaderData  { return f.Leader }
func (f *Fake) NetworkName() string            { return f.Name }
func (f *Fake) ExtPanID() []byte               { return f.PanID }
func (f *Fake) BorderAgentID() []byte          { return f.BaID }
func (f *Fake) BorderAgentState() string       { return f.BaState }
func (f *Fake) DeviceRole() string             { return f.Role }

func (f *Fake) BorderRoutingCounters() thread.BorderRoutingCounters { return f.BrCounters }
func (f *Fake) ExternalRoutes() []thread.ExternalRoute              { return f.Routes }
func (f *Fake) SrpHosts() []thread.SrpHost                          { return f.Hosts }

func (f *Fake) RealmLocalAllThreadNodes() netip.Addr {
	return netip.MustParseAddr("ff33:40:fd11:22::1")
}

func (f *Fake) CommissionerState() threadapi.CommissionerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commState
}

func (f *Fake) CommissionerStart(state threadapi.CommissionerStateFunc, joiner threadapi.JoinerEventFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["commissionerStart"]; err != nil {
		return err
	}
	f.commState = threadapi.CommissionerPetition
	f.commStateCb = state
	f.joinerCb = joiner
	return nil
}

func (f *Fake) CommissionerStop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commState = threadapi.CommissionerDisabled
	return nil
}

func (f *Fake) AddJoiner(eui64 *thread.ExtAddress, pskd string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["addJoiner"]; err != nil {
		return err
	}
	if eui64 != nil {
		f.Joiners[*eui64] = pskd
	}
	return nil
}

func (f *Fake) RemoveJoiner(eui64 *thread.ExtAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if eui64 != nil {
		delete(f.Joiners, *eui64)
	}
	return nil
}

func (f *Fake) EnergyScan(mask uint32, count uint8, period, duration uint16, dst netip.Addr, cb threadapi.EnergyReportFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Errs["energyScan"]; err != nil {
		return err
	}
	f.EnergyScans = append(f.EnergyScans, EnergyScanReq{Mask: mask, Count: count, Period: period, Duration: duration, Dst: dst, Cb: cb})
	return nil
}

// SetCommissionerActive flips the commissioner to active and fires the
// registered state callback.
func (f *Fake) SetCommissionerActive() {
	f.mu.Lock()
	f.commState = threadapi.CommissionerActive
	cb := f.commStateCb
	f.mu.Unlock()
	if cb != nil {
		cb(threadapi.CommissionerActive)
	}
}

// FireJoinerEvent delivers a joiner lifecycle event.
func (f *Fake) FireJoinerEvent(event threadapi.JoinerEvent, eui64 *thread.ExtAddress) {
	f.mu.Lock()
	cb := f.joinerCb
	f.mu.Unlock()
	if cb != nil {
		cb(event, eui64)
	}
}

// RespondDiag delivers a Diagnostic Get response for the i-th recorded send.
func (f *Fake) RespondDiag(i int, err error, tlvs []thread.TLV) {
	f.mu.Lock()
	cb := f.DiagSends[i].Cb
	f.mu.Unlock()
	cb(err, tlvs)
}

// RespondChildTable streams the given entries for the i-th recorded query
// and closes it.
func (f *Fake) RespondChildTable(i int, err error, entries []thread.ChildEntry) {
	f.mu.Lock()
	cb := f.Queries[i].ChildCb
	f.mu.Unlock()
	for _, e := range entries {
		cb(nil, e, false)
	}
	cb(err, thread.ChildEntry{}, true)
}

// RespondChildIP6 streams the given children for the i-th recorded query
// and closes it.
func (f *Fake) RespondChildIP6(i int, err error, children []thread.ChildIP6Addrs) {
	f.mu.Lock()
	cb := f.Queries[i].IP6Cb
	f.mu.Unlock()
	for _, c := range children {
		cb(nil, c, false)
	}
	cb(err, thread.ChildIP6Addrs{}, true)
}

// RespondRouterNeighbors streams the given entries for the i-th recorded
// query and closes it.
func (f *Fake) RespondRouterNeighbors(i int, err error, entries []thread.RouterNeighbor) {
	f.mu.Lock()
	cb := f.Queries[i].NeighCb
	f.mu.Unlock()
	for _, e := range entries {
		cb(nil, e, false)
	}
	cb(err, thread.RouterNeighbor{}, true)
}

// FireEnergyReport delivers an energy-scan result chunk for the i-th scan.
func (f *Fake) FireEnergyReport(i int, mask uint32, energyList []int8) {
	f.mu.Lock()
	cb := f.EnergyScans[i].Cb
	f.mu.Unlock()
	cb(mask, energyList)
}
