package collection

import (
	"github.com/threadscope/borderd/pkg/thread"
)

// json:api type names of the diagnostics collection.
const (
	DiagnosticsName    = "diagnostics"
	NetworkDiagName    = "networkDiagnostics"
	EnergyScanTypeName = "energyScanReport"
)

// NetworkDiagnostics is one node's network-diagnostic snapshot: the raw
// diagnostic-get TLVs plus, for routers, the streamed mesh-diag query
// results and locally derived extensions.
type NetworkDiagnostics struct {
	Meta
	TLVs         []thread.TLV
	Children     []thread.ChildEntry
	ChildrenIP6  []thread.ChildIP6Addrs
	Neighbors    []thread.RouterNeighbor
	ServiceRoles *thread.ServiceRoleFlags
	BrCounters   *thread.BorderRoutingCounters
}

// NewNetworkDiagnostics returns an empty diagnostic item with a fresh uuid.
func NewNetworkDiagnostics() *NetworkDiagnostics {
	return &NetworkDiagnostics{Meta: NewMeta()}
}

// ID implements Item.
func (d *NetworkDiagnostics) ID() string { return d.UUID.String() }

// TypeName implements Item.
func (d *NetworkDiagnostics) TypeName() string { return NetworkDiagName }

// Attributes implements Item.
func (d *NetworkDiagnostics) Attributes() map[string]any {
	attrs := map[string]any{"tlvs": d.TLVs}
	if len(d.Children) > 0 {
		attrs["children"] = d.Children
	}
	if len(d.ChildrenIP6) > 0 {
		attrs["childrenIp6"] = d.ChildrenIP6
	}
	if len(d.Neighbors) > 0 {
		attrs["neighbors"] = d.Neighbors
	}
	if d.ServiceRoles != nil {
		attrs["serviceRoleFlags"] = d.ServiceRoles
	}
	if d.BrCounters != nil {
		attrs["brCounters"] = d.BrCounters
	}
	return attrs
}

// ChannelReport holds the accumulated RSSI samples of one scanned channel.
type ChannelReport struct {
	Channel uint8  `json:"channel"`
	MaxRssi []int8 `json:"maxRssi"`
}

// EnergyScanReport is the diagnostic item produced by a completed energy
// scan.
type EnergyScanReport struct {
	Meta
	Origin  thread.ExtAddress
	Count   uint8
	Reports []ChannelReport
}

// NewEnergyScanReport prepares a report item for the given origin and
// expected measurement count, with one empty row per scanned channel.
func NewEnergyScanReport(origin thread.ExtAddress, count uint8, channels []uint8) *EnergyScanReport {
	reports := make([]ChannelReport, 0, len(channels))
	for _, ch := range channels {
		reports = append(reports, ChannelReport{Channel: ch})
	}
	return &EnergyScanReport{Meta: NewMeta(), Origin: origin, Count: count, Reports: reports}
}

// ID implements Item.
func (r *EnergyScanReport) ID() string { return r.UUID.String() }

// TypeName implements Item.
func (r *EnergyScanReport) TypeName() string { return EnergyScanTypeName }

// Attributes implements Item.
func (r *EnergyScanReport) Attributes() map[string]any {
	return map[string]any{
		"origin": r.Origin.String(),
		"count":  r.Count,
		"report": r.Reports,
	}
}
