// Package thread provides the shared Thread network data types used across
// borderd: extended addresses, network-diagnostic TLVs, mesh-diag query
// results and node-level information.
package thread

import (
	"encoding/hex"
	"fmt"
	"net/netip"
	"strings"
)

// ExtAddress is an 8-byte identifier: a MAC extended address, an EUI-64 or
// a mesh-local interface identifier, depending on context.
type ExtAddress [8]byte

// ParseExtAddress parses 16 hex characters (optionally 0x-prefixed) into an
// ExtAddress.
func ParseExtAddress(s string) (ExtAddress, error) {
	var ea ExtAddress
	s = strings.TrimPrefix(s, "0x")
	if len(s) != 16 {
		return ea, fmt.Errorf("ext address %q: want 16 hex chars, have %d", s, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return ea, fmt.Errorf("ext address %q: %w", s, err)
	}
	copy(ea[:], b)
	return ea, nil
}

// String returns the lowercase hex form, the canonical device item id.
func (ea ExtAddress) String() string {
	return hex.EncodeToString(ea[:])
}

// IsZero reports whether all bytes are zero.
func (ea ExtAddress) IsZero() bool {
	return ea == ExtAddress{}
}

// MarshalText implements encoding.TextMarshaler.
func (ea ExtAddress) MarshalText() ([]byte, error) {
	return []byte(ea.String()), nil
}

// Prefix is the upper 64 bits of a mesh-local or routing-locator IPv6 address.
type Prefix [8]byte

// Combine forms a full IPv6 address from the prefix and an interface
// identifier.
func (p Prefix) Combine(iid ExtAddress) netip.Addr {
	var b [16]byte
	copy(b[:8], p[:])
	copy(b[8:], iid[:])
	return netip.AddrFrom16(b)
}

// Mode holds the Thread device mode flags.
type Mode struct {
	RxOnWhenIdle    bool `json:"rxOnWhenIdle"`
	DeviceTypeFTD   bool `json:"deviceTypeFTD"`
	FullNetworkData bool `json:"fullNetworkData"`
}

// LeaderData mirrors the Thread leader data set.
type LeaderData struct {
	PartitionID       uint32 `json:"partitionId"`
	Weighting         uint8  `json:"weighting"`
	DataVersion       uint8  `json:"dataVersion"`
	StableDataVersion uint8  `json:"stableDataVersion"`
	LeaderRouterID    uint8  `json:"leaderRouterId"`
}

// RouterInfo is one entry of the local router table.
type RouterInfo struct {
	RouterID   uint8
	Rloc16     uint16
	ExtAddress ExtAddress
}

// ChildEntry is one row of a router's child table as reported by a mesh-diag
// child-table query.
type ChildEntry struct {
	Rloc16     uint16     `json:"rloc16"`
	ExtAddress ExtAddress `json:"extAddress"`
	Mode       Mode       `json:"mode"`
	Timeout    uint32     `json:"timeout,omitempty"`
}

// ChildIP6Addrs is the IPv6 address list of one child, keyed by its rloc16.
type ChildIP6Addrs struct {
	Rloc16 uint16       `json:"rloc16"`
	Addrs  []netip.Addr `json:"ip6Addresses"`
}

// RouterNeighbor is one row of a router's neighbor table as reported by a
// mesh-diag router-neighbor query.
type RouterNeighbor struct {
	Rloc16     uint16     `json:"rloc16"`
	ExtAddress ExtAddress `json:"extAddress"`
}

// MacCounters mirrors the MAC Counters TLV payload.
type MacCounters struct {
	IfInUnknownProtos  uint32 `json:"ifInUnknownProtos"`
	IfInErrors         uint32 `json:"ifInErrors"`
	IfOutErrors        uint32 `json:"ifOutErrors"`
	IfInUcastPkts      uint32 `json:"ifInUcastPkts"`
	IfInBroadcastPkts  uint32 `json:"ifInBroadcastPkts"`
	IfInDiscards       uint32 `json:"ifInDiscards"`
	IfOutUcastPkts     uint32 `json:"ifOutUcastPkts"`
	IfOutBroadcastPkts uint32 `json:"ifOutBroadcastPkts"`
	IfOutDiscards      uint32 `json:"ifOutDiscards"`
}

// BorderRoutingCounters holds the local border-routing packet counters
// attached to the own node's diagnostics.
type BorderRoutingCounters struct {
	InboundUnicastPackets    uint64 `json:"inboundUnicastPackets"`
	InboundUnicastBytes      uint64 `json:"inboundUnicastBytes"`
	InboundMulticastPackets  uint64 `json:"inboundMulticastPackets"`
	InboundMulticastBytes    uint64 `json:"inboundMulticastBytes"`
	OutboundUnicastPackets   uint64 `json:"outboundUnicastPackets"`
	OutboundUnicastBytes     uint64 `json:"outboundUnicastBytes"`
	OutboundMulticastPackets uint64 `json:"outboundMulticastPackets"`
	OutboundMulticastBytes   uint64 `json:"outboundMulticastBytes"`
	RaRx                     uint32 `json:"raRx"`
	RaTxSuccess              uint32 `json:"raTxSuccess"`
	RsRx                     uint32 `json:"rsRx"`
	RsTxSuccess              uint32 `json:"rsTxSuccess"`
}

// ExternalRoute is one route entry of the local Thread Network Data.
type ExternalRoute struct {
	Prefix netip.Prefix
	Rloc16 uint16
}

// SrpHost is one host record of the local SRP server.
type SrpHost struct {
	FullName string
	Addrs    []netip.Addr
	Deleted  bool
}

// Hostname returns the host label without the domain suffix.
func (h SrpHost) Hostname() string {
	if i := strings.IndexByte(h.FullName, '.'); i >= 0 {
		return h.FullName[:i]
	}
	return h.FullName
}
