package rpki

import (
	"encoding/asn1"
	"net/netip"
	"testing"
)

func bitStringOf(t *testing.T, p netip.Prefix) asn1.BitString {
	t.Helper()
	addr := p.Addr()
	var raw []byte
	if addr.Is4() {
		b := addr.As4()
		raw = b[:]
	} else {
		b := addr.As16()
		raw = b[:]
	}
	nbytes := (p.Bits() + 7) / 8
	return asn1.BitString{Bytes: raw[:nbytes], BitLength: p.Bits()}
}

func TestDecodeROAContentIPv4(t *testing.T) {
	roa := routeOriginAttestation{
		ASID: 65001,
		IPAddrBlocks: []roaIPAddressFamily{
			{
				AddressFamily: []byte{0, 1},
				Addresses: []roaIPAddress{
					{Address: bitStringOf(t, netip.MustParsePrefix("192.0.2.0/24"))},
					{Address: bitStringOf(t, netip.MustParsePrefix("198.51.100.0/24")), MaxLength: 32},
				},
			},
		},
	}
	der, err := asn1.Marshal(roa)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	asn, prefixes, err := decodeROAContent(der)
	if err != nil {
		t.Fatalf("decodeROAContent() error = %v", err)
	}
	if asn != 65001 {
		t.Fatalf("asn = %d, want 65001", asn)
	}
	if len(prefixes) != 2 {
		t.Fatalf("len(prefixes) = %d, want 2", len(prefixes))
	}
	if prefixes[0].Prefix.String() != "192.0.2.0/24" || prefixes[0].MaxLength != 24 {
		t.Fatalf("prefixes[0] = %+v, want 192.0.2.0/24 maxLength 24 (no maxLength given, defaults to prefix length)", prefixes[0])
	}
	if prefixes[1].Prefix.String() != "198.51.100.0/24" || prefixes[1].MaxLength != 32 {
		t.Fatalf("prefixes[1] = %+v, want 198.51.100.0/24 maxLength 32", prefixes[1])
	}
}

func TestDecodeROAContentIPv6(t *testing.T) {
	roa := routeOriginAttestation{
		ASID: 65002,
		IPAddrBlocks: []roaIPAddressFamily{
			{
				AddressFamily: []byte{0, 2},
				Addresses: []roaIPAddress{
					{Address: bitStringOf(t, netip.MustParsePrefix("2001:db8::/32")), MaxLength: 48},
				},
			},
		},
	}
	der, err := asn1.Marshal(roa)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	asn, prefixes, err := decodeROAContent(der)
	if err != nil {
		t.Fatalf("decodeROAContent() error = %v", err)
	}
	if asn != 65002 {
		t.Fatalf("asn = %d, want 65002", asn)
	}
	if len(prefixes) != 1 || prefixes[0].Prefix.String() != "2001:db8::/32" || prefixes[0].MaxLength != 48 {
		t.Fatalf("prefixes = %+v, want [2001:db8::/32 maxLength 48]", prefixes)
	}
}

func TestBitStringToPrefixUnsupportedFamily(t *testing.T) {
	_, err := bitStringToPrefix([]byte{0, 3}, asn1.BitString{})
	if err == nil {
		t.Fatal("bitStringToPrefix() error = nil, want error for unsupported address family")
	}
}
