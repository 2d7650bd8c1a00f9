// Package sim provides a simulated Thread stack driver: a small static
// mesh that answers diagnostic requests with canned data. It backs the
// `--sim` mode of borderd for development and demos without an NCP
// attached.
package sim

import (
	"net/netip"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/pkg/thread"
)

// node is one simulated mesh node.
type node struct {
	rloc16  uint16
	extAddr thread.ExtAddress
	eui64   thread.ExtAddress
	mlIid   thread.ExtAddress
	omr     netip.Addr
	mode    thread.Mode
	parent  uint16
}

// Compile-time interface guard.
var _ threadapi.Client = (*Client)(nil)

// Client simulates a small Thread mesh: this border router plus one more
// router with an attached sleepy child.
type Client struct {
	logger *zap.Logger
	prefix thread.Prefix
	self   node
	nodes  []node

	mu        sync.Mutex
	commState threadapi.CommissionerState
	joinerCb  threadapi.JoinerEventFunc
}

// responseDelay approximates mesh round-trip latency.
const responseDelay = 20 * time.Millisecond

// New builds the simulated mesh.
func New(logger *zap.Logger) *Client {
	var prefix thread.Prefix
	copy(prefix[:], []byte{0xfd, 0x66, 0x00, 0x11, 0x00, 0x00, 0x00, 0x00})

	self := node{
		rloc16:  0x0c00,
		extAddr: thread.ExtAddress{0x1a, 0x2b, 0x3c, 0x4d, 0x5e, 0x6f, 0x70, 0x81},
		eui64:   thread.ExtAddress{0x1a, 0x2b, 0x3c, 0x4d, 0x5e, 0x6f, 0x70, 0x81},
		mlIid:   thread.ExtAddress{0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77},
		omr:     netip.MustParseAddr("fd66:aa::1"),
		mode:    thread.Mode{RxOnWhenIdle: true, DeviceTypeFTD: true, FullNetworkData: true},
	}
	peerRouter := node{
		rloc16:  0x2000,
		extAddr: thread.ExtAddress{0xaa, 0xbb, 0xcc, 0x00, 0x11, 0x22, 0x33, 0x44},
		eui64:   thread.ExtAddress{0xaa, 0xbb, 0xcc, 0x00, 0x11, 0x22, 0x33, 0x44},
		mlIid:   thread.ExtAddress{0x10, 0x21, 0x32, 0x43, 0x54, 0x65, 0x76, 0x87},
		omr:     netip.MustParseAddr("fd66:aa::2"),
		mode:    thread.Mode{RxOnWhenIdle: true, DeviceTypeFTD: true, FullNetworkData: true},
	}
	child := node{
		rloc16:  0x2001,
		extAddr: thread.ExtAddress{0x99, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22},
		eui64:   thread.ExtAddress{0x99, 0x88, 0x77, 0x66, 0x55, 0x44, 0x33, 0x22},
		mlIid:   thread.ExtAddress{0x0f, 0x1e, 0x2d, 0x3c, 0x4b, 0x5a, 0x69, 0x78},
		mode:    thread.Mode{RxOnWhenIdle: false, DeviceTypeFTD: false, FullNetworkData: false},
		parent:  0x2000,
	}

	return &Client{
		logger: logger,
		prefix: prefix,
		self:   self,
		nodes:  []node{self, peerRouter, child},
	}
}

func (c *Client) MeshLocalPrefix() thread.Prefix { return c.prefix }
func (c *Client) Rloc16() uint16                 { return c.self.rloc16 }

func (c *Client) RlocAddr() netip.Addr {
	var iid thread.ExtAddress
	iid[3] = 0xff
	iid[4] = 0xfe
	iid[6] = byte(c.self.rloc16 >> 8)
	iid[7] = byte(c.self.rloc16)
	return c.prefix.Combine(iid)
}

func (c *Client) ExtAddress() thread.ExtAddress { return c.self.extAddr }
func (c *Client) Eui64() thread.ExtAddress      { return c.self.eui64 }
func (c *Client) NetworkName() string           { return "sim-mesh" }
func (c *Client) DeviceRole() string            { return "leader" }
func (c *Client) BorderAgentState() string      { return "active" }

func (c *Client) BorderAgentID() []byte {
	return []byte{0x42, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
}

func (c *Client) ExtPanID() []byte {
	return []byte{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe}
}

func (c *Client) LeaderData() thread.LeaderData {
	return thread.LeaderData{PartitionID: 0x5a5a0001, Weighting: 64, DataVersion: 7, StableDataVersion: 5, LeaderRouterID: 3}
}

func (c *Client) BorderRoutingCounters() thread.BorderRoutingCounters {
	return thread.BorderRoutingCounters{RaRx: 12, RaTxSuccess: 9, RsRx: 4, RsTxSuccess: 4}
}

func (c *Client) ExternalRoutes() []thread.ExternalRoute {
	return []thread.ExternalRoute{{Prefix: netip.MustParsePrefix("fd66:aa::/64"), Rloc16: c.self.rloc16}}
}

func (c *Client) SrpHosts() []thread.SrpHost {
	return []thread.SrpHost{{FullName: "sensor-livingroom.default.service.arpa.", Addrs: []netip.Addr{netip.MustParseAddr("fd66:aa::2")}}}
}

func (c *Client) RealmLocalAllThreadNodes() netip.Addr {
	return netip.MustParseAddr("ff33:40:fd66:11::1")
}

func (c *Client) RouterInfo(routerID uint8) (thread.RouterInfo, error) {
	for _, n := range c.nodes {
		if thread.IsRouterRloc16(n.rloc16) && uint8(n.rloc16>>10) == routerID {
			return thread.RouterInfo{RouterID: routerID, Rloc16: n.rloc16, ExtAddress: n.extAddr}, nil
		}
	}
	return thread.RouterInfo{}, threadapi.ErrNotFound
}

// SendDiagnosticGet answers from the canned mesh after a short delay.
func (c *Client) SendDiagnosticGet(dst netip.Addr, tlvTypes []uint8, cb threadapi.DiagResponseFunc) error {
	target, ok := c.nodeFor(dst)
	if !ok {
		// Nobody answers; the collector retries and finalises partial.
		return nil
	}
	go func() {
		time.Sleep(responseDelay)
		cb(nil, c.diagTLVs(target, tlvTypes))
	}()
	return nil
}

func (c *Client) SendDiagnosticReset(netip.Addr, []uint8) error { return nil }

func (c *Client) QueryChildTable(rloc16 uint16, cb threadapi.ChildTableFunc) error {
	go func() {
		time.Sleep(responseDelay)
		for _, n := range c.nodes {
			if n.parent == rloc16 {
				cb(nil, thread.ChildEntry{Rloc16: n.rloc16, ExtAddress: n.extAddr, Mode: n.mode}, false)
			}
		}
		cb(nil, thread.ChildEntry{}, true)
	}()
	return nil
}

func (c *Client) QueryChildIP6Addrs(rloc16 uint16, cb threadapi.ChildIP6Func) error {
	go func() {
		time.Sleep(responseDelay)
		for _, n := range c.nodes {
			if n.parent == rloc16 {
				addrs := []thread.ChildIP6Addrs{{Rloc16: n.rloc16, Addrs: []netip.Addr{c.prefix.Combine(n.mlIid)}}}
				cb(nil, addrs[0], false)
			}
		}
		cb(nil, thread.ChildIP6Addrs{}, true)
	}()
	return nil
}

func (c *Client) QueryRouterNeighbors(rloc16 uint16, cb threadapi.RouterNeighborFunc) error {
	go func() {
		time.Sleep(responseDelay)
		for _, n := range c.nodes {
			if thread.IsRouterRloc16(n.rloc16) && n.rloc16 != rloc16 {
				cb(nil, thread.RouterNeighbor{Rloc16: n.rloc16, ExtAddress: n.extAddr}, false)
			}
		}
		cb(nil, thread.RouterNeighbor{}, true)
	}()
	return nil
}

// Commissioner operations: the sim accepts everything and reports joiners
// as joined immediately.
func (c *Client) CommissionerState() threadapi.CommissionerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commState
}

func (c *Client) CommissionerStart(state threadapi.CommissionerStateFunc, joiner threadapi.JoinerEventFunc) error {
	c.mu.Lock()
	c.commState = threadapi.CommissionerActive
	c.joinerCb = joiner
	c.mu.Unlock()
	go state(threadapi.CommissionerActive)
	return nil
}

func (c *Client) CommissionerStop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commState = threadapi.CommissionerDisabled
	return nil
}

func (c *Client) AddJoiner(eui64 *thread.ExtAddress, _ string, _ time.Duration) error {
	c.mu.Lock()
	cb := c.joinerCb
	c.mu.Unlock()
	if eui64 == nil || cb == nil {
		return nil
	}
	eui := *eui64
	go func() {
		time.Sleep(responseDelay)
		cb(threadapi.JoinerStart, &eui)
		cb(threadapi.JoinerFinalize, &eui)
	}()
	return nil
}

func (c *Client) RemoveJoiner(*thread.ExtAddress) error { return nil }

func (c *Client) EnergyScan(mask uint32, count uint8, _, _ uint16, _ netip.Addr, cb threadapi.EnergyReportFunc) error {
	go func() {
		time.Sleep(responseDelay)
		channels := 0
		for m := mask; m != 0; m >>= 1 {
			if m&1 == 1 {
				channels++
			}
		}
		samples := make([]int8, channels*int(count))
		for i := range samples {
			samples[i] = int8(-90 + i%25)
		}
		cb(mask, samples)
	}()
	return nil
}

// nodeFor matches a destination address against the simulated nodes by
// rloc16 or ml-eid.
func (c *Client) nodeFor(dst netip.Addr) (node, bool) {
	b := dst.As16()
	if thread.IsRlocLike(dst) {
		rloc := uint16(b[14])<<8 | uint16(b[15])
		for _, n := range c.nodes {
			if n.rloc16 == rloc {
				return n, true
			}
		}
		return node{}, false
	}
	var iid thread.ExtAddress
	copy(iid[:], b[8:])
	for _, n := range c.nodes {
		if n.mlIid == iid {
			return n, true
		}
	}
	return node{}, false
}

// diagTLVs renders the requested TLVs for one node.
func (c *Client) diagTLVs(n node, tlvTypes []uint8) []thread.TLV {
	var tlvs []thread.TLV
	for _, typ := range tlvTypes {
		switch typ {
		case thread.TLVExtAddress:
			tlvs = append(tlvs, thread.TLV{Type: typ, Value: n.extAddr})
		case thread.TLVRloc16:
			tlvs = append(tlvs, thread.TLV{Type: typ, Value: n.rloc16})
		case thread.TLVEui64:
			tlvs = append(tlvs, thread.TLV{Type: typ, Value: n.eui64})
		case thread.TLVIP6AddressList:
			addrs := []netip.Addr{c.prefix.Combine(n.mlIid)}
			if n.omr.IsValid() {
				addrs = append(addrs, n.omr)
			}
			tlvs = append(tlvs, thread.TLV{Type: typ, Value: addrs})
		case thread.TLVMode:
			tlvs = append(tlvs, thread.TLV{Type: typ, Value: n.mode})
		case thread.TLVLeaderData:
			tlvs = append(tlvs, thread.TLV{Type: typ, Value: c.LeaderData()})
		case thread.TLVVersion:
			tlvs = append(tlvs, thread.TLV{Type: typ, Value: uint16(4)})
		}
	}
	return tlvs
}
