// Package threadapi defines the contract between borderd and the Thread
// stack co-processor driver. The concrete driver (NCP/RCP transport, CoAP,
// DTLS) lives outside this repository; borderd consumes it through the
// Client interface and receives responses through registered callbacks.
package threadapi

import (
	"errors"
	"net/netip"
	"time"

	"github.com/threadscope/borderd/pkg/thread"
)

// Error kinds surfaced by Client implementations. Callers match with
// errors.Is.
var (
	ErrInvalidArgs  = errors.New("invalid arguments")
	ErrInvalidState = errors.New("invalid state")
	ErrBusy         = errors.New("resource busy")
	ErrNoBufs       = errors.New("no message buffers")
	ErrNotFound     = errors.New("not found")
	ErrTransport    = errors.New("transport failure")
)

// DiagResponseFunc receives one decoded Diagnostic Get response. err is
// non-nil when the exchange failed; tlvs is the decoded TLV set otherwise.
type DiagResponseFunc func(err error, tlvs []thread.TLV)

// ChildTableFunc streams child-table query results. done is true on the
// final invocation (entry is then invalid); err reports a failed or
// timed-out query.
type ChildTableFunc func(err error, entry thread.ChildEntry, done bool)

// ChildIP6Func streams per-child IPv6 address lists.
type ChildIP6Func func(err error, child thread.ChildIP6Addrs, done bool)

// RouterNeighborFunc streams router-neighbor query results.
type RouterNeighborFunc func(err error, entry thread.RouterNeighbor, done bool)

// EnergyReportFunc receives commissioner energy-scan result chunks. The
// energy list interleaves channels: [chA, chB, ..., chA, chB, ...].
type EnergyReportFunc func(channelMask uint32, energyList []int8)

// CommissionerState is the commissioner role state of the local node.
type CommissionerState uint8

const (
	CommissionerDisabled CommissionerState = iota
	CommissionerPetition
	CommissionerActive
)

// String returns the lowercase state name.
func (s CommissionerState) String() string {
	switch s {
	case CommissionerPetition:
		return "petition"
	case CommissionerActive:
		return "active"
	default:
		return "disabled"
	}
}

// CommissionerStateFunc is invoked on commissioner state transitions.
type CommissionerStateFunc func(state CommissionerState)

// JoinerEvent is a commissioner joiner lifecycle event.
type JoinerEvent uint8

const (
	JoinerStart JoinerEvent = iota
	JoinerConnected
	JoinerFinalize
	JoinerEnd
	JoinerRemoved
)

// JoinerEventFunc is invoked for each joiner lifecycle event. eui64 is nil
// for wildcard joiners.
type JoinerEventFunc func(event JoinerEvent, eui64 *thread.ExtAddress)

// Client is the synchronous facade over the Thread stack. Send and query
// methods return immediately; responses arrive later through the supplied
// callbacks. Implementations must never invoke a callback from inside the
// call that registered it.
type Client interface {
	// SendDiagnosticGet issues a unicast or multicast Diagnostic Get for the
	// given TLV types.
	SendDiagnosticGet(dst netip.Addr, tlvTypes []uint8, cb DiagResponseFunc) error

	// SendDiagnosticReset issues a Diagnostic Reset for the given counter
	// TLV types.
	SendDiagnosticReset(dst netip.Addr, tlvTypes []uint8) error

	// QueryChildTable starts a mesh-diag child-table query against a router.
	QueryChildTable(rloc16 uint16, cb ChildTableFunc) error

	// QueryChildIP6Addrs starts a mesh-diag children IPv6-address query.
	QueryChildIP6Addrs(rloc16 uint16, cb ChildIP6Func) error

	// QueryRouterNeighbors starts a mesh-diag router-neighbor query.
	QueryRouterNeighbors(rloc16 uint16, cb RouterNeighborFunc) error

	// RouterInfo returns the local router-table entry for a router id, or
	// ErrNotFound when the id is unallocated.
	RouterInfo(routerID uint8) (thread.RouterInfo, error)

	// Local node state.
	MeshLocalPrefix() thread.Prefix
	Rloc16() uint16
	RlocAddr() netip.Addr
	ExtAddress() thread.ExtAddress
	Eui64() thread.ExtAddress
	LeaderData() thread.LeaderData
	NetworkName() string
	ExtPanID() []byte
	BorderAgentID() []byte
	BorderAgentState() string
	DeviceRole() string
	BorderRoutingCounters() thread.BorderRoutingCounters

	// ExternalRoutes returns the route entries of the local Network Data.
	ExternalRoutes() []thread.ExternalRoute

	// SrpHosts returns the host records of the local SRP server.
	SrpHosts() []thread.SrpHost

	// RealmLocalAllThreadNodes is the realm-local all-thread-nodes multicast
	// address.
	RealmLocalAllThreadNodes() netip.Addr

	// Commissioner control.
	CommissionerState() CommissionerState
	CommissionerStart(state CommissionerStateFunc, joiner JoinerEventFunc) error
	CommissionerStop() error
	AddJoiner(eui64 *thread.ExtAddress, pskd string, timeout time.Duration) error
	RemoveJoiner(eui64 *thread.ExtAddress) error

	// EnergyScan starts a commissioner energy scan toward dst.
	EnergyScan(channelMask uint32, count uint8, period, scanDuration uint16, dst netip.Addr, cb EnergyReportFunc) error
}
