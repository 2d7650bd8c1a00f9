package collector

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/pkg/thread"
)

// deviceInfo accumulates the attributes extracted for one device during a
// fill pass.
type deviceInfo struct {
	extAddress  thread.ExtAddress
	addrs       thread.DeviceAddrs
	eui64       thread.ExtAddress
	hostname    string
	role        string
	mode        thread.Mode
	needsUpdate bool
}

// fillDevicesLocked turns the accumulated diagnostic set into device items.
func (c *Collector) fillDevicesLocked() {
	for rloc, diag := range c.diagSet {
		if len(diag.tlvs) == 0 {
			c.logger.Warn("no diagnostic response", zap.Uint16("rloc16", rloc))
			continue
		}

		info := deviceInfo{needsUpdate: true}
		for _, tlv := range diag.tlvs {
			switch tlv.Type {
			case thread.TLVExtAddress:
				if ea, ok := tlv.ExtAddressValue(); ok {
					info.extAddress = ea
				}

			case thread.TLVRloc16:
				r, ok := tlv.Rloc16Value()
				if !ok {
					continue
				}
				if !thread.IsRouterRloc16(r) {
					info.role = "child"
					continue
				}
				info.role = "router"
				info.mode = thread.Mode{RxOnWhenIdle: true, DeviceTypeFTD: true, FullNetworkData: true}
				info.needsUpdate = false
				c.fillChildrenLocked(r)

			case thread.TLVEui64:
				if ea, ok := tlv.ExtAddressValue(); ok {
					info.eui64 = ea
				}

			case thread.TLVIP6AddressList:
				for _, addr := range tlv.IP6Addrs() {
					info.addrs.Classify(addr, c.api.MeshLocalPrefix())
				}
				info.hostname = c.lookupHostname(info.addrs.OMR)
			}
		}

		if info.extAddress.IsZero() {
			c.logger.Warn("diagnostic set entry without ext address", zap.Uint16("rloc16", rloc))
			continue
		}
		c.upsertDeviceLocked(info)
	}
}

// fillChildrenLocked emits child device items from the mesh-diag query
// results of one router.
func (c *Collector) fillChildrenLocked(parentRloc uint16) {
	table, ok := c.childTables[parentRloc]
	if !ok {
		return
	}
	var ip6Lists []thread.ChildIP6Addrs
	if ips, ok := c.childIPs[parentRloc]; ok {
		ip6Lists = ips.entries
	}

	for _, child := range table.entries {
		info := deviceInfo{
			extAddress:  child.ExtAddress,
			role:        "child",
			mode:        child.Mode,
			needsUpdate: true,
		}
		for _, list := range ip6Lists {
			if list.Rloc16 != child.Rloc16 {
				continue
			}
			for _, addr := range list.Addrs {
				info.addrs.Classify(addr, c.api.MeshLocalPrefix())
			}
			info.hostname = c.lookupHostname(info.addrs.OMR)
			break
		}
		if info.extAddress.IsZero() {
			c.logger.Warn("child table entry without ext address", zap.Uint16("rloc16", child.Rloc16))
			continue
		}
		c.upsertDeviceLocked(info)
	}
}

// upsertDeviceLocked inserts a device item or refreshes the non-empty
// fields of an existing one. The border router's own entry becomes a
// ThisDevice item carrying node-level state.
func (c *Collector) upsertDeviceLocked(info deviceInfo) {
	id := info.extAddress.String()

	// Existing items are replaced copy-on-write so renders never observe a
	// half-updated item.
	switch dev := c.devices.Get(id).(type) {
	case *collection.ThisDevice:
		updated := *dev
		c.refreshDevice(&updated.Device, info)
		c.devices.Add(&updated)
		return
	case *collection.Device:
		updated := *dev
		c.refreshDevice(&updated, info)
		c.devices.Add(&updated)
		return
	}

	if id == c.api.ExtAddress().String() {
		item := collection.NewThisDevice(info.extAddress)
		c.applyDeviceInfo(&item.Device, info)
		item.Node = c.nodeInfo()
		c.devices.Add(item)
		return
	}
	item := collection.NewDevice(info.extAddress)
	c.applyDeviceInfo(item, info)
	c.devices.Add(item)
}

// refreshDevice updates only the fields the fill pass actually learned.
func (c *Collector) refreshDevice(dev *collection.Device, info deviceInfo) {
	if !info.eui64.IsZero() {
		dev.SetEui64(info.eui64)
	}
	if info.addrs.OMR.IsValid() {
		dev.SetOmrIPv6(info.addrs.OMR)
	}
	if !info.addrs.MlEidIid.IsZero() {
		dev.SetMlEidIid(info.addrs.MlEidIid)
	}
	if info.hostname != "" {
		dev.SetHostname(info.hostname)
	}
	if info.role != "" {
		dev.SetRole(info.role)
	}
	if info.mode != (thread.Mode{}) && dev.Mode != info.mode {
		dev.SetMode(info.mode)
	}
}

func (c *Collector) applyDeviceInfo(dev *collection.Device, info deviceInfo) {
	dev.Role = info.role
	dev.MlEidIid = info.addrs.MlEidIid
	dev.EUI64 = info.eui64
	dev.OmrIPv6 = info.addrs.OMR
	dev.Hostname = info.hostname
	dev.Mode = info.mode
	dev.NeedsUpdate = info.needsUpdate && !dev.Complete()
	if dev.NeedsUpdate {
		c.logger.Debug("device attributes incomplete", zap.String("id", dev.ID()))
	}
}

func (c *Collector) nodeInfo() collection.NodeInfo {
	routerCount := 0
	for id := uint8(0); id <= thread.MaxRouterID; id++ {
		if _, err := c.api.RouterInfo(id); err == nil {
			routerCount++
		}
	}
	return collection.NodeInfo{
		BaID:        c.api.BorderAgentID(),
		BaState:     c.api.BorderAgentState(),
		LeaderData:  c.api.LeaderData(),
		NetworkName: c.api.NetworkName(),
		NodeRole:    c.api.DeviceRole(),
		Rloc16:      c.api.Rloc16(),
		RlocAddress: c.api.RlocAddr(),
		RouterCount: routerCount,
		ExtPanID:    c.api.ExtPanID(),
	}
}

// lookupHostname resolves a device address against the SRP server's host
// records.
func (c *Collector) lookupHostname(addr netip.Addr) string {
	if !addr.IsValid() {
		return ""
	}
	for _, host := range c.api.SrpHosts() {
		if host.Deleted {
			continue
		}
		for _, hostAddr := range host.Addrs {
			if hostAddr == addr {
				return host.Hostname()
			}
		}
	}
	return ""
}

// fillDiagnosticsLocked turns the accumulated diagnostic set into
// network-diagnostic items and stamps the action relationship with the
// created item.
func (c *Collector) fillDiagnosticsLocked() {
	for rloc, diag := range c.diagSet {
		if len(diag.tlvs) == 0 {
			c.logger.Warn("no diagnostic response", zap.Uint16("rloc16", rloc))
			continue
		}

		item := collection.NewNetworkDiagnostics()
		for _, tlv := range diag.tlvs {
			switch tlv.Type {
			case thread.TLVExtAddress:
				if ea, ok := tlv.ExtAddressValue(); ok && ea == c.api.ExtAddress() {
					counters := c.api.BorderRoutingCounters()
					item.BrCounters = &counters
				}

			case thread.TLVRloc16:
				if r, ok := tlv.Rloc16Value(); ok {
					c.attachQueryResults(item, r)
				}

			case thread.TLVIP6AddressList:
				flags := c.serviceRoleFlags(rloc, tlv.IP6Addrs())
				item.ServiceRoles = &flags
			}
			item.TLVs = append(item.TLVs, tlv)
		}

		c.diags.Add(item)
		if c.action != nil {
			c.action.SetRelationship(c.diags.Name(), item.ID())
		}
	}
}

// attachQueryResults copies the mesh-diag query vectors of a router into a
// diagnostic item.
func (c *Collector) attachQueryResults(item *collection.NetworkDiagnostics, rloc uint16) {
	if !thread.IsRouterRloc16(rloc) {
		return
	}
	if table, ok := c.childTables[rloc]; ok {
		item.Children = append([]thread.ChildEntry(nil), table.entries...)
	}
	if ips, ok := c.childIPs[rloc]; ok {
		item.ChildrenIP6 = append([]thread.ChildIP6Addrs(nil), ips.entries...)
	}
	if neigh, ok := c.routerNeighbors[rloc]; ok {
		item.Neighbors = append([]thread.RouterNeighbor(nil), neigh.entries...)
	}
}

// serviceRoleFlags derives the ALOC-based role flags plus the
// border-router flag from the local Network Data.
func (c *Collector) serviceRoleFlags(rloc uint16, addrs []netip.Addr) thread.ServiceRoleFlags {
	var flags thread.ServiceRoleFlags
	flags.ClassifyALOCs(addrs)
	for _, route := range c.api.ExternalRoutes() {
		if route.Rloc16 == rloc {
			flags.IsBorderRouter = true
		}
	}
	return flags
}
