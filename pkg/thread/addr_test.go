package thread

import (
	"net/netip"
	"testing"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return a
}

func testPrefix() Prefix {
	var p Prefix
	copy(p[:], []byte{0xfd, 0x11, 0x00, 0x22, 0x00, 0x00, 0x00, 0x00})
	return p
}

func TestParseExtAddress(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"0011223344556677", false},
		{"0x0011223344556677", false},
		{"aabbccddeeff0011", false},
		{"001122334455667", true},   // too short
		{"00112233445566778", true}, // too long
		{"zz11223344556677", true},  // not hex
	}
	for _, tt := range tests {
		_, err := ParseExtAddress(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseExtAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}

func TestExtAddressString_Lowercase(t *testing.T) {
	ea, err := ParseExtAddress("AABBCCDDEEFF0011")
	if err != nil {
		t.Fatalf("ParseExtAddress: %v", err)
	}
	if got := ea.String(); got != "aabbccddeeff0011" {
		t.Errorf("String() = %q, want lowercase hex", got)
	}
}

func TestPrefixCombine(t *testing.T) {
	iid, _ := ParseExtAddress("0000000000000001")
	got := testPrefix().Combine(iid)
	want := mustAddr(t, "fd11:22::1")
	if got != want {
		t.Errorf("Combine = %s, want %s", got, want)
	}
}

func TestParseRloc16(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"0800", 0x0800, false},
		{"0x0800", 0x0800, false},
		{"2c00", 0x2c00, false},
		{"080", 0, true},
		{"08001", 0, true},
		{"zzzz", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRloc16(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRloc16(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("ParseRloc16(%q) = %#x, want %#x", tt.in, got, tt.want)
		}
	}
}

func TestRlocAddrFor(t *testing.T) {
	base := mustAddr(t, "fd11:22::ff:fe00:2c00")
	got := RlocAddrFor(base, 0x0800)
	want := mustAddr(t, "fd11:22::ff:fe00:800")
	if got != want {
		t.Errorf("RlocAddrFor = %s, want %s", got, want)
	}
}

func TestIsRouterRloc16(t *testing.T) {
	if !IsRouterRloc16(0x0800) {
		t.Error("0x0800 should be a router rloc")
	}
	if IsRouterRloc16(0x0801) {
		t.Error("0x0801 should be a child rloc")
	}
	if got := RouterIDToRloc16(2); got != 0x0800 {
		t.Errorf("RouterIDToRloc16(2) = %#x, want 0x0800", got)
	}
}

func TestIsRlocLike(t *testing.T) {
	if !IsRlocLike(mustAddr(t, "fd11:22::ff:fe00:2c00")) {
		t.Error("rloc address not detected")
	}
	if !IsRlocLike(mustAddr(t, "fd11:22::ff:fe00:fc00")) {
		t.Error("aloc address not detected")
	}
	if IsRlocLike(mustAddr(t, "fd11:22::1")) {
		t.Error("mleid misdetected as rloc")
	}
}

func TestDeviceAddrsClassify(t *testing.T) {
	prefix := testPrefix()

	var d DeviceAddrs
	d.Classify(mustAddr(t, "fd11:22::ff:fe00:2c00"), prefix) // rloc, ignored
	d.Classify(mustAddr(t, "fd11:22::77"), prefix)           // mesh-local -> iid
	d.Classify(mustAddr(t, "fe80::1"), prefix)               // link-local, ignored
	d.Classify(mustAddr(t, "ff02::1"), prefix)               // multicast, ignored
	d.Classify(mustAddr(t, "fd00:db8::5"), prefix)           // OMR

	if got := d.MlEidIid.String(); got != "0000000000000077" {
		t.Errorf("MlEidIid = %s, want 0000000000000077", got)
	}
	if got := d.OMR; got != mustAddr(t, "fd00:db8::5") {
		t.Errorf("OMR = %s, want fd00:db8::5", got)
	}
}

func TestDeviceAddrsClassify_LastOmrWins(t *testing.T) {
	prefix := testPrefix()
	var d DeviceAddrs
	d.Classify(mustAddr(t, "fd00:db8::1"), prefix)
	d.Classify(mustAddr(t, "fd00:db8::2"), prefix)
	if d.OMR != mustAddr(t, "fd00:db8::2") {
		t.Errorf("OMR = %s, want the later address", d.OMR)
	}
}

func TestServiceRoleFlags(t *testing.T) {
	var f ServiceRoleFlags
	f.ClassifyALOCs([]netip.Addr{
		mustAddr(t, "fd11:22::ff:fe00:fc00"), // leader aloc
		mustAddr(t, "fd11:22::ff:fe00:fc38"), // primary BBR aloc
		mustAddr(t, "fd11:22::ff:fe00:fc11"), // service aloc
		mustAddr(t, "fd11:22::ff:fe00:2c00"), // plain rloc
	})
	if !f.IsLeader || !f.IsPrimaryBBR || !f.HostsService {
		t.Errorf("flags = %+v, want leader, BBR and service all set", f)
	}
	if f.IsBorderRouter {
		t.Error("IsBorderRouter must come from network data, not ALOCs")
	}
}

func TestIsHexString(t *testing.T) {
	for s, want := range map[string]bool{
		"0800":     true,
		"0x0800":   true,
		"aAbB01":   true,
		"":         false,
		"0x":       false,
		"80g0":     false,
		"00112233": true,
	} {
		if got := IsHexString(s); got != want {
			t.Errorf("IsHexString(%q) = %v, want %v", s, got, want)
		}
	}
}
