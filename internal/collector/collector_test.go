package collector

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/collection"
	"github.com/threadscope/borderd/internal/threadapi"
	"github.com/threadscope/borderd/internal/threadapi/threadapitest"
	"github.com/threadscope/borderd/pkg/thread"
)

// fakeAction records what the collector reports into it.
type fakeAction struct {
	mu       sync.Mutex
	kind     string
	itemID   string
	finished bool
	timedOut bool
}

func (a *fakeAction) SetRelationship(kind, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kind = kind
	a.itemID = id
}

func (a *fakeAction) Finish(timedOut bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finished = true
	a.timedOut = timedOut
}

func (a *fakeAction) snapshot() (string, string, bool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kind, a.itemID, a.finished, a.timedOut
}

type fixture struct {
	fake    *threadapitest.Fake
	devices *collection.Collection
	diags   *collection.Collection
	c       *Collector
	done    chan struct{}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		fake:    threadapitest.New(),
		devices: collection.New(collection.DevicesName, collection.MaxDevicesItems, logger),
		diags:   collection.New(collection.DiagnosticsName, collection.MaxDiagnosticsItems, logger),
		done:    make(chan struct{}, 8),
	}
	f.c = New(f.fake, f.devices, f.diags, logger)
	return f
}

func (f *fixture) configure(t *testing.T, retries int) {
	t.Helper()
	err := f.c.Configure(DefaultTimeout, DefaultMaxAge, retries, func() {
		select {
		case f.done <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
}

func ea(t *testing.T, s string) thread.ExtAddress {
	t.Helper()
	v, err := thread.ParseExtAddress(s)
	if err != nil {
		t.Fatalf("ParseExtAddress: %v", err)
	}
	return v
}

func addr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	return a
}

func dstRloc16(d netip.Addr) uint16 {
	b := d.As16()
	return binary.BigEndian.Uint16(b[14:])
}

func TestConfigureWhileActiveFails(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)
	if err := f.c.HandleAction(&fakeAction{}, "diagnostics", "0000000000000001", []string{"extAddress"}); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if err := f.c.Configure(DefaultTimeout, DefaultMaxAge, 1, nil); !errors.Is(err, threadapi.ErrInvalidState) {
		t.Errorf("second Configure error = %v, want ErrInvalidState", err)
	}
}

func TestUnicastDiagnostic(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 2)

	action := &fakeAction{}
	err := f.c.HandleAction(action, "diagnostics", "0000000000000001",
		[]string{"extAddress", "rloc16", "ip6AddressList"})
	if err != nil {
		t.Fatalf("HandleAction: %v", err)
	}

	if len(f.fake.DiagSends) != 1 {
		t.Fatalf("sends = %d, want 1", len(f.fake.DiagSends))
	}
	// Destination is mesh-local prefix || iid.
	want := f.fake.Prefix.Combine(ea(t, "0000000000000001"))
	if f.fake.DiagSends[0].Dst != want {
		t.Errorf("dst = %s, want %s", f.fake.DiagSends[0].Dst, want)
	}

	f.fake.RespondDiag(0, nil, []thread.TLV{
		{Type: thread.TLVExtAddress, Value: ea(t, "aaaaaaaaaaaaaaaa")},
		{Type: thread.TLVRloc16, Value: uint16(0x0800)},
		{Type: thread.TLVIP6AddressList, Value: []netip.Addr{
			addr(t, "fd00::1"), addr(t, "fe80::2"), addr(t, "ff02::1"),
		}},
	})

	select {
	case <-f.done:
	case <-time.After(time.Second):
		t.Fatal("collection cycle did not complete")
	}

	kind, itemID, finished, timedOut := action.snapshot()
	if !finished || timedOut {
		t.Fatalf("action finished=%v timedOut=%v", finished, timedOut)
	}
	if kind != "diagnostics" || itemID == "" {
		t.Fatalf("relationship = (%q, %q)", kind, itemID)
	}

	item, ok := f.diags.Get(itemID).(*collection.NetworkDiagnostics)
	if !ok {
		t.Fatal("diagnostic item missing")
	}
	if len(item.TLVs) != 3 {
		t.Errorf("tlvs = %d, want 3", len(item.TLVs))
	}
	seen := map[uint8]bool{}
	for _, tlv := range item.TLVs {
		if seen[tlv.Type] {
			t.Errorf("duplicate TLV type %d", tlv.Type)
		}
		seen[tlv.Type] = true
	}
}

func TestRetryThenTimeout(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 2)

	action := &fakeAction{}
	if err := f.c.HandleAction(action, "diagnostics", "0000000000000001", []string{"extAddress"}); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}

	progress := ProgressPending
	deadline := time.Now().Add(2 * time.Second)
	for progress == ProgressPending && time.Now().Before(deadline) {
		time.Sleep(120 * time.Millisecond)
		var err error
		progress, err = f.c.Continue()
		if err != nil {
			t.Fatalf("Continue: %v", err)
		}
	}

	if progress != ProgressTimeout {
		t.Fatalf("progress = %v, want timeout", progress)
	}
	// The initial send plus at least two retries.
	if len(f.fake.DiagSends) < 3 {
		t.Errorf("sends = %d, want >= 3", len(f.fake.DiagSends))
	}
	if _, _, finished, timedOut := action.snapshot(); !finished || !timedOut {
		t.Error("action should be stopped after exhausted retries")
	}
	if f.diags.Len() != 0 {
		t.Errorf("diagnostics items = %d, want 0", f.diags.Len())
	}
}

func TestMergePrefersLaterTLVs(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 3)

	action := &fakeAction{}
	// Requesting a query TLV keeps the cycle open after the first response:
	// the child-table query is never answered here.
	if err := f.c.HandleAction(action, "diagnostics", "0000000000000001",
		[]string{"extAddress", "rloc16", "children"}); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}

	f.fake.RespondDiag(0, nil, []thread.TLV{
		{Type: thread.TLVRloc16, Value: uint16(0x0800)},
		{Type: thread.TLVExtAddress, Value: ea(t, "aaaaaaaaaaaaaaaa")},
	})
	// A later partial response replaces the ext address and adds the list.
	f.fake.RespondDiag(0, nil, []thread.TLV{
		{Type: thread.TLVRloc16, Value: uint16(0x0800)},
		{Type: thread.TLVExtAddress, Value: ea(t, "bbbbbbbbbbbbbbbb")},
		{Type: thread.TLVIP6AddressList, Value: []netip.Addr{addr(t, "fd00::1")}},
	})

	f.c.Abort()

	kind, itemID, _, _ := action.snapshot()
	if kind != "diagnostics" {
		t.Fatalf("relationship kind = %q", kind)
	}
	item, ok := f.diags.Get(itemID).(*collection.NetworkDiagnostics)
	if !ok {
		t.Fatal("diagnostic item missing")
	}

	counts := map[uint8]int{}
	var gotExt thread.ExtAddress
	for _, tlv := range item.TLVs {
		counts[tlv.Type]++
		if tlv.Type == thread.TLVExtAddress {
			gotExt, _ = tlv.ExtAddressValue()
		}
	}
	for typ, n := range counts {
		if n != 1 {
			t.Errorf("TLV type %d appears %d times", typ, n)
		}
	}
	if gotExt != ea(t, "bbbbbbbbbbbbbbbb") {
		t.Errorf("extAddress = %s, want the later value", gotExt)
	}
}

func TestCancelIsIdempotentAndDropsLateCallbacks(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)

	if err := f.c.HandleAction(&fakeAction{}, "diagnostics", "0000000000000001", []string{"extAddress"}); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}

	f.c.Cancel()
	f.c.Cancel()

	// A response from the cancelled cycle must be discarded.
	f.fake.RespondDiag(0, nil, []thread.TLV{
		{Type: thread.TLVRloc16, Value: uint16(0x0800)},
		{Type: thread.TLVExtAddress, Value: ea(t, "aaaaaaaaaaaaaaaa")},
	})

	if f.diags.Len() != 0 {
		t.Errorf("diagnostics items = %d, want 0 after cancel", f.diags.Len())
	}

	// The collector is reusable after cancel.
	f.configure(t, 1)
	if err := f.c.HandleAction(&fakeAction{}, "diagnostics", "0000000000000001", []string{"extAddress"}); err != nil {
		t.Errorf("HandleAction after cancel: %v", err)
	}
}

func TestHandleActionRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)

	if err := f.c.HandleAction(&fakeAction{}, "diagnostics", "xyz", []string{"extAddress"}); !errors.Is(err, threadapi.ErrInvalidArgs) {
		t.Errorf("bad destination error = %v, want ErrInvalidArgs", err)
	}

	f.configure(t, 1)
	if err := f.c.HandleAction(&fakeAction{}, "diagnostics", "0000000000000001", []string{"noSuchTlv"}); !errors.Is(err, threadapi.ErrInvalidArgs) {
		t.Errorf("bad TLV error = %v, want ErrInvalidArgs", err)
	}
}

func TestSendFailureSurfacesTransportError(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)
	f.fake.Errs["diagGet"] = threadapi.ErrNoBufs

	err := f.c.HandleAction(&fakeAction{}, "diagnostics", "0000000000000001", []string{"extAddress"})
	if !errors.Is(err, threadapi.ErrTransport) {
		t.Fatalf("error = %v, want ErrTransport", err)
	}

	// The cycle must be reusable after the failure.
	delete(f.fake.Errs, "diagGet")
	f.configure(t, 1)
	if err := f.c.HandleAction(&fakeAction{}, "diagnostics", "0000000000000001", []string{"extAddress"}); err != nil {
		t.Errorf("HandleAction after failure: %v", err)
	}
}

func TestRloc16Destination(t *testing.T) {
	f := newFixture(t)
	f.configure(t, 1)

	if err := f.c.HandleAction(&fakeAction{}, "diagnostics", "0800", []string{"extAddress"}); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if got := dstRloc16(f.fake.DiagSends[0].Dst); got != 0x0800 {
		t.Errorf("dst rloc16 = %#x, want 0x0800", got)
	}
}
