package thread

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestTLVTypeByName(t *testing.T) {
	tests := []struct {
		name string
		typ  uint8
		ok   bool
	}{
		{"extAddress", TLVExtAddress, true},
		{"rloc16", TLVRloc16, true},
		{"ip6AddressList", TLVIP6AddressList, true},
		{"mleCounters", TLVMleCounters, true},
		{"children", TLVChild, true},
		{"ExtAddress", 0, false}, // names are case-sensitive
		{"bogus", 0, false},
	}
	for _, tt := range tests {
		typ, ok := TLVTypeByName(tt.name)
		if ok != tt.ok || (ok && typ != tt.typ) {
			t.Errorf("TLVTypeByName(%q) = (%d, %v), want (%d, %v)", tt.name, typ, ok, tt.typ, tt.ok)
		}
	}
}

func TestTLVNameRoundTrip(t *testing.T) {
	for name, typ := range tlvNames {
		if got := TLVName(typ); got != name {
			t.Errorf("TLVName(%d) = %q, want %q", typ, got, name)
		}
	}
}

func TestIsQueryTLV(t *testing.T) {
	for _, typ := range []uint8{TLVChild, TLVChildIP6AddrList, TLVRouterNeighbor} {
		if !IsQueryTLV(typ) {
			t.Errorf("type %d should be a query TLV", typ)
		}
	}
	for _, typ := range []uint8{TLVExtAddress, TLVRloc16, TLVMleCounters} {
		if IsQueryTLV(typ) {
			t.Errorf("type %d should not be a query TLV", typ)
		}
	}
}

func TestTLVMarshalJSON(t *testing.T) {
	ea, _ := ParseExtAddress("aabbccddeeff0011")
	b, err := json.Marshal(TLV{Type: TLVExtAddress, Value: ea})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(b), `"extAddress":"aabbccddeeff0011"`) {
		t.Errorf("marshalled TLV = %s, want extAddress key with hex value", b)
	}

	b, err = json.Marshal(TLV{Type: TLVNetworkData, Value: []byte{0x01, 0x02}})
	if err != nil {
		t.Fatalf("marshal raw: %v", err)
	}
	if !strings.Contains(string(b), `"networkData":"0102"`) {
		t.Errorf("marshalled raw TLV = %s, want hex-encoded payload", b)
	}
}

func TestTLVAccessors(t *testing.T) {
	rloc := TLV{Type: TLVRloc16, Value: uint16(0x0800)}
	if v, ok := rloc.Rloc16Value(); !ok || v != 0x0800 {
		t.Errorf("Rloc16Value = (%#x, %v)", v, ok)
	}
	if _, ok := rloc.ExtAddressValue(); ok {
		t.Error("ExtAddressValue should fail on an rloc16 TLV")
	}
}
