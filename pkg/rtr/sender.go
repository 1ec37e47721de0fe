package rtr

import (
	"github.com/rpkid/rpkid/pkg/rpki"
	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// encodeVRP serializes v as the appropriate Payload PDU (IPv4/IPv6
// Prefix for a ROA, Router Key for a router-key VRP) — this is the RTR
// PDU Sender component.
func encodeVRP(version uint8, v rpki.VRP, withdraw bool) ([]byte, error) {
	switch v.Kind {
	case rpki.KindROA:
		if v.Prefix.Addr().Is4() {
			return EncodeIPv4Prefix(version, v.Prefix, v.MaxLength, v.ASN, withdraw)
		}
		return EncodeIPv6Prefix(version, v.Prefix, v.MaxLength, v.ASN, withdraw)
	case rpki.KindRouterKey:
		if version == 0 {
			return nil, rpkierr.Protocolf("rtr.encodeVRP", "router keys require protocol version 1")
		}
		return EncodeRouterKey(version, v.SKI, v.ASN, v.SPKI, withdraw), nil
	default:
		return nil, rpkierr.Internalf("rtr.encodeVRP", "unknown VRP kind %d", v.Kind)
	}
}

// Sender writes a Response's PDUs to conn in order, so the "atomic
// from the router's perspective" ordering guarantee is enforced at a
// single call site rather than by caller discipline.
type Sender struct {
	Write func(p []byte) (int, error)
}

// Send writes every PDU in r.PDUs, in order, stopping at the first
// write error.
func (s *Sender) Send(r Response) error {
	for _, p := range r.PDUs {
		if _, err := s.Write(p); err != nil {
			return rpkierr.Protocolf("rtr.Sender.Send", "%w", err)
		}
	}
	return nil
}
