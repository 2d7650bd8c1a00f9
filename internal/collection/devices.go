package collection

import (
	"encoding/hex"
	"net/netip"

	"github.com/threadscope/borderd/pkg/thread"
)

// json:api type names of the devices collection.
const (
	DevicesName      = "devices"
	DeviceTypeName   = "threadDevice"
	DeviceBRTypeName = "threadBorderRouter"
)

// Device is one Thread device learned through mesh diagnostics. Its item id
// is the lowercase-hex MAC extended address.
type Device struct {
	Meta
	ExtAddress  thread.ExtAddress
	Role        string
	MlEidIid    thread.ExtAddress
	EUI64       thread.ExtAddress
	OmrIPv6     netip.Addr
	Hostname    string
	Mode        thread.Mode
	NeedsUpdate bool
}

// NewDevice returns a device item for the given extended address with
// NeedsUpdate set: the stable identifiers still have to be learned.
func NewDevice(extAddr thread.ExtAddress) *Device {
	return &Device{Meta: NewMeta(), ExtAddress: extAddr, NeedsUpdate: true}
}

// ID implements Item.
func (d *Device) ID() string { return d.ExtAddress.String() }

// TypeName implements Item.
func (d *Device) TypeName() string { return DeviceTypeName }

// Complete reports whether all stable identifiers of the device are known.
func (d *Device) Complete() bool {
	return d.Role != "" && !d.MlEidIid.IsZero() && !d.EUI64.IsZero() && d.OmrIPv6.IsValid()
}

// SetEui64 updates the EUI-64 and bumps the updated timestamp.
func (d *Device) SetEui64(eui thread.ExtAddress) {
	d.EUI64 = eui
	d.Touch()
}

// SetMlEidIid updates the mesh-local EID interface identifier.
func (d *Device) SetMlEidIid(iid thread.ExtAddress) {
	d.MlEidIid = iid
	d.Touch()
}

// SetOmrIPv6 updates the off-mesh-routable address.
func (d *Device) SetOmrIPv6(addr netip.Addr) {
	d.OmrIPv6 = addr
	d.Touch()
}

// SetHostname updates the SRP-learned hostname.
func (d *Device) SetHostname(name string) {
	d.Hostname = name
	d.Touch()
}

// SetRole updates the device role.
func (d *Device) SetRole(role string) {
	d.Role = role
	d.Touch()
}

// SetMode updates the mode flags.
func (d *Device) SetMode(mode thread.Mode) {
	d.Mode = mode
	d.Touch()
}

func (d *Device) attributes() map[string]any {
	attrs := map[string]any{
		"extAddress":  d.ExtAddress.String(),
		"role":        d.Role,
		"needsUpdate": d.NeedsUpdate,
		"mode": map[string]any{
			"rxOnWhenIdle":    d.Mode.RxOnWhenIdle,
			"deviceTypeFTD":   d.Mode.DeviceTypeFTD,
			"fullNetworkData": d.Mode.FullNetworkData,
		},
	}
	if !d.MlEidIid.IsZero() {
		attrs["mlEidIid"] = d.MlEidIid.String()
	}
	if !d.EUI64.IsZero() {
		attrs["eui64"] = d.EUI64.String()
	}
	if d.OmrIPv6.IsValid() {
		attrs["omrIpv6"] = d.OmrIPv6.String()
	}
	if d.Hostname != "" {
		attrs["hostname"] = d.Hostname
	}
	return attrs
}

// Attributes implements Item.
func (d *Device) Attributes() map[string]any { return d.attributes() }

// NodeInfo is the node-level state attached to the border router's own
// device item.
type NodeInfo struct {
	BaID        []byte
	BaState     string
	LeaderData  thread.LeaderData
	NetworkName string
	NodeRole    string
	Rloc16      uint16
	RlocAddress netip.Addr
	RouterCount int
	ExtPanID    []byte
}

// ThisDevice is the device item representing this border router; it carries
// NodeInfo in addition to the common device attributes.
type ThisDevice struct {
	Device
	Node NodeInfo
}

// NewThisDevice returns a border-router item for the given extended address.
func NewThisDevice(extAddr thread.ExtAddress) *ThisDevice {
	return &ThisDevice{Device: *NewDevice(extAddr)}
}

// TypeName implements Item.
func (d *ThisDevice) TypeName() string { return DeviceBRTypeName }

// Attributes implements Item.
func (d *ThisDevice) Attributes() map[string]any {
	attrs := d.attributes()
	attrs["baId"] = hex.EncodeToString(d.Node.BaID)
	attrs["baState"] = d.Node.BaState
	attrs["leaderData"] = map[string]any{
		"partitionId":       d.Node.LeaderData.PartitionID,
		"weighting":         d.Node.LeaderData.Weighting,
		"dataVersion":       d.Node.LeaderData.DataVersion,
		"stableDataVersion": d.Node.LeaderData.StableDataVersion,
		"leaderRouterId":    d.Node.LeaderData.LeaderRouterID,
	}
	attrs["networkName"] = d.Node.NetworkName
	attrs["nodeRole"] = d.Node.NodeRole
	attrs["rloc16"] = d.Node.Rloc16
	if d.Node.RlocAddress.IsValid() {
		attrs["rlocAddress"] = d.Node.RlocAddress.String()
	}
	attrs["routerCount"] = d.Node.RouterCount
	if len(d.Node.ExtPanID) > 0 {
		attrs["extPanId"] = hex.EncodeToString(d.Node.ExtPanID)
	}
	return attrs
}
