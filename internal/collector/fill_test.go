package collector

import (
	"net/netip"
	"testing"
	"time"

	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/pkg/thread"
)

// respondQueries answers recorded mesh-diag queries until no new ones are
// issued. The 0x0800 router reports one rx-on-when-idle FTD child.
func respondQueries(t *testing.T, f *fixture, childExt thread.ExtAddress) {
	t.Helper()
	answered := 0
	for i := 0; i < 16; i++ {
		if answered >= len(f.fake.Queries) {
			time.Sleep(10 * time.Millisecond)
			if answered >= len(f.fake.Queries) {
				return
			}
		}
		q := f.fake.Queries[answered]
		switch q.QueryKind {
		case "childTable":
			if q.Rloc16 == 0x0800 {
				f.fake.RespondChildTable(answered, nil, []thread.ChildEntry{{
					Rloc16:     0x0801,
					ExtAddress: childExt,
					Mode:       thread.Mode{RxOnWhenIdle: true, DeviceTypeFTD: true},
				}})
			} else {
				f.fake.RespondChildTable(answered, nil, nil)
			}
		case "childIp6":
			if q.Rloc16 == 0x0800 {
				f.fake.RespondChildIP6(answered, nil, []thread.ChildIP6Addrs{{
					Rloc16: 0x0801,
					Addrs:  []netip.Addr{addr(t, "fd11:22::77"), addr(t, "fe80::77")},
				}})
			} else {
				f.fake.RespondChildIP6(answered, nil, nil)
			}
		case "routerNeighbors":
			f.fake.RespondRouterNeighbors(answered, nil, nil)
		}
		answered++
	}
}

func respondInitialSends(t *testing.T, f *fixture, routerExt thread.ExtAddress) {
	t.Helper()
	for i, send := range f.fake.DiagSends {
		switch dstRloc16(send.Dst) {
		case f.fake.Rloc:
			f.fake.RespondDiag(i, nil, []thread.TLV{
				{Type: thread.TLVExtAddress, Value: f.fake.ExtAddr},
				{Type: thread.TLVRloc16, Value: f.fake.Rloc},
				{Type: thread.TLVIP6AddressList, Value: []netip.Addr{
					addr(t, "fd11:22::66"), addr(t, "fd00:db8::66"),
				}},
			})
		case 0x0800:
			f.fake.RespondDiag(i, nil, []thread.TLV{
				{Type: thread.TLVExtAddress, Value: routerExt},
				{Type: thread.TLVRloc16, Value: uint16(0x0800)},
				{Type: thread.TLVIP6AddressList, Value: []netip.Addr{
					addr(t, "fd11:22::88"), addr(t, "fd00:db8::88"),
				}},
			})
		}
	}
}

func TestDiscoveryFillsDevices(t *testing.T) {
	f := newFixture(t)

	routerExt := ea(t, "bbbbbbbbbbbbbbbb")
	childExt := ea(t, "cccccccccccccccc")

	f.fake.Routers[2] = thread.RouterInfo{RouterID: 2, Rloc16: 0x0800, ExtAddress: routerExt}
	f.fake.Hosts = []thread.SrpHost{{
		FullName: "node-88.default.service.arpa.",
		Addrs:    []netip.Addr{addr(t, "fd00:db8::88")},
	}}

	// An item learned in an earlier run stays in the collection.
	aged := collection.NewDevice(ea(t, "aaaaaaaaaaaaaaaa"))
	aged.CreatedAt = time.Now().Add(-time.Minute).UTC()
	aged.UpdatedAt = aged.CreatedAt
	f.devices.Add(aged)

	f.configure(t, 3)
	if err := f.c.StartDiscovery(f.devices.Name()); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	if len(f.fake.DiagSends) != 2 {
		t.Fatalf("initial sends = %d, want one per router", len(f.fake.DiagSends))
	}

	respondInitialSends(t, f, routerExt)
	respondQueries(t, f, childExt)

	// Past the retry delay the FTD child found in the child table gets its
	// own diagnostic-get.
	time.Sleep(120 * time.Millisecond)
	if _, err := f.c.Continue(); err != nil {
		t.Fatalf("Continue: %v", err)
	}

	reedSent := -1
	for i, send := range f.fake.DiagSends {
		if dstRloc16(send.Dst) == 0x0801 {
			reedSent = i
		}
	}
	if reedSent == -1 {
		t.Fatal("expected a diagnostic-get retry to the FTD child")
	}
	f.fake.RespondDiag(reedSent, nil, []thread.TLV{
		{Type: thread.TLVExtAddress, Value: childExt},
		{Type: thread.TLVRloc16, Value: uint16(0x0801)},
		{Type: thread.TLVIP6AddressList, Value: []netip.Addr{
			addr(t, "fd11:22::77"), addr(t, "fe80::77"),
		}},
	})

	select {
	case <-f.done:
	case <-time.After(2 * time.Second):
		t.Fatal("discovery did not complete")
	}

	if f.devices.Len() != 4 {
		t.Fatalf("devices = %d, want 4 (aged, this, router, child)", f.devices.Len())
	}
	if f.devices.Get("aaaaaaaaaaaaaaaa") == nil {
		t.Error("pre-existing device evicted")
	}

	router, ok := f.devices.Get(routerExt.String()).(*collection.Device)
	if !ok {
		t.Fatal("router item missing")
	}
	if router.Role != "router" {
		t.Errorf("router role = %q", router.Role)
	}
	if router.NeedsUpdate {
		t.Error("router item should not need an update")
	}
	if router.Hostname != "node-88" {
		t.Errorf("router hostname = %q, want node-88 from SRP", router.Hostname)
	}
	if router.MlEidIid != ea(t, "0000000000000088") {
		t.Errorf("router ml-eid-iid = %s", router.MlEidIid)
	}
	if router.OmrIPv6 != addr(t, "fd00:db8::88") {
		t.Errorf("router omr = %s", router.OmrIPv6)
	}

	child, ok := f.devices.Get(childExt.String()).(*collection.Device)
	if !ok {
		t.Fatal("child item missing")
	}
	if child.Role != "child" {
		t.Errorf("child role = %q", child.Role)
	}
	if child.MlEidIid != ea(t, "0000000000000077") {
		t.Errorf("child ml-eid-iid = %s", child.MlEidIid)
	}
	if child.OmrIPv6.IsValid() {
		t.Errorf("child omr = %s, want unset (no off-mesh address)", child.OmrIPv6)
	}

	this, ok := f.devices.Get(f.fake.ExtAddr.String()).(*collection.ThisDevice)
	if !ok {
		t.Fatal("this-device item missing")
	}
	if this.TypeName() != collection.DeviceBRTypeName {
		t.Errorf("this-device type = %q", this.TypeName())
	}
	if this.Node.RouterCount != 2 {
		t.Errorf("router count = %d, want 2", this.Node.RouterCount)
	}
	if this.Node.Rloc16 != f.fake.Rloc {
		t.Errorf("node rloc16 = %#x", this.Node.Rloc16)
	}
}

func TestDiscoveryWhileActiveFails(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)
	if err := f.c.StartDiscovery(f.devices.Name()); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	if err := f.c.StartDiscovery(f.devices.Name()); err == nil {
		t.Error("second StartDiscovery should fail while active")
	}
}
