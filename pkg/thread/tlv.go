package thread

import (
	"encoding/hex"
	"encoding/json"
	"net/netip"
)

// Network-diagnostic TLV type codes.
const (
	TLVExtAddress         uint8 = 0
	TLVRloc16             uint8 = 1
	TLVMode               uint8 = 2
	TLVTimeout            uint8 = 3
	TLVConnectivity       uint8 = 4
	TLVRoute              uint8 = 5
	TLVLeaderData         uint8 = 6
	TLVNetworkData        uint8 = 7
	TLVIP6AddressList     uint8 = 8
	TLVMacCounters        uint8 = 9
	TLVBatteryLevel       uint8 = 14
	TLVSupplyVoltage      uint8 = 15
	TLVChildTable         uint8 = 16
	TLVChannelPages       uint8 = 17
	TLVMaxChildTimeout    uint8 = 19
	TLVLDevID             uint8 = 20
	TLVIDevID             uint8 = 21
	TLVEui64              uint8 = 23
	TLVVersion            uint8 = 24
	TLVVendorName         uint8 = 25
	TLVVendorModel        uint8 = 26
	TLVVendorSWVersion    uint8 = 27
	TLVThreadStackVersion uint8 = 28
	TLVChild              uint8 = 29
	TLVChildIP6AddrList   uint8 = 30
	TLVRouterNeighbor     uint8 = 31
	TLVMleCounters        uint8 = 34
)

// tlvNames maps the case-sensitive wire attribute names to TLV type codes.
var tlvNames = map[string]uint8{
	"extAddress":         TLVExtAddress,
	"rloc16":             TLVRloc16,
	"mode":               TLVMode,
	"timeout":            TLVTimeout,
	"connectivity":       TLVConnectivity,
	"route":              TLVRoute,
	"leaderData":         TLVLeaderData,
	"networkData":        TLVNetworkData,
	"ip6AddressList":     TLVIP6AddressList,
	"macCounters":        TLVMacCounters,
	"batteryLevel":       TLVBatteryLevel,
	"supplyVoltage":      TLVSupplyVoltage,
	"childTable":         TLVChildTable,
	"channelPages":       TLVChannelPages,
	"maxChildTimeout":    TLVMaxChildTimeout,
	"ldevid":             TLVLDevID,
	"idev":               TLVIDevID,
	"eui64":              TLVEui64,
	"version":            TLVVersion,
	"vendorName":         TLVVendorName,
	"vendorModel":        TLVVendorModel,
	"vendorSwVersion":    TLVVendorSWVersion,
	"threadStackVersion": TLVThreadStackVersion,
	"children":           TLVChild,
	"childrenIp6":        TLVChildIP6AddrList,
	"neighbors":          TLVRouterNeighbor,
	"mleCounters":        TLVMleCounters,
}

var tlvNamesByType = func() map[uint8]string {
	m := make(map[uint8]string, len(tlvNames))
	for name, typ := range tlvNames {
		m[typ] = name
	}
	return m
}()

// TLVTypeByName resolves a wire attribute name to its TLV type code.
// Names are case-sensitive.
func TLVTypeByName(name string) (uint8, bool) {
	typ, ok := tlvNames[name]
	return typ, ok
}

// TLVName returns the wire attribute name of a TLV type code, or the empty
// string for unknown codes.
func TLVName(typ uint8) string {
	return tlvNamesByType[typ]
}

// IsQueryTLV reports whether the type is collected via a mesh-diag query
// (streamed responses) rather than a single diagnostic-get response.
func IsQueryTLV(typ uint8) bool {
	return typ >= 29 && typ <= 33
}

// TLV is one decoded network-diagnostic value. Value holds the typed
// payload: ExtAddress for address TLVs, uint16 for rloc16/version,
// Mode, LeaderData, MacCounters, []netip.Addr for the address list, string
// for vendor strings, []byte for opaque payloads.
type TLV struct {
	Type  uint8
	Value any
}

// MarshalJSON renders the TLV as a single-key object keyed by its wire name.
func (t TLV) MarshalJSON() ([]byte, error) {
	v := t.Value
	if b, ok := v.([]byte); ok {
		v = hex.EncodeToString(b)
	}
	name := TLVName(t.Type)
	if name == "" {
		name = "unknown"
	}
	return json.Marshal(map[string]any{name: v})
}

// IP6Addrs returns the payload of an ip6AddressList TLV, or nil.
func (t TLV) IP6Addrs() []netip.Addr {
	addrs, _ := t.Value.([]netip.Addr)
	return addrs
}

// Rloc16Value returns the payload of an rloc16 TLV.
func (t TLV) Rloc16Value() (uint16, bool) {
	r, ok := t.Value.(uint16)
	return r, ok
}

// ExtAddressValue returns the payload of an extAddress or eui64 TLV.
func (t TLV) ExtAddressValue() (ExtAddress, bool) {
	ea, ok := t.Value.(ExtAddress)
	return ea, ok
}
