package rpki

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"fmt"
	"math/big"
	"net/netip"
	"time"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// The following types are the minimal subset of RFC 5652 CMS SignedData
// this codebase needs to reach two things out of an RPKI signed object:
// the embedded end-entity certificate and the eContent carrying the
// object-specific payload (a Manifest or a RouteOriginAttestation).
// Full signature verification over SignerInfos is an external
// collaborator's job (see the ObjectReader interface); DefaultObjectReader
// trusts what the manifest hash check already authenticated the bytes as.
type cmsContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,tag:0"`
}

type cmsSignedData struct {
	Version          int
	DigestAlgorithms []asn1.RawValue `asn1:"set"`
	EncapContentInfo cmsEncapContentInfo
	Certificates     asn1.RawValue `asn1:"optional,tag:0"`
	CRLs             asn1.RawValue `asn1:"optional,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

type cmsEncapContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"optional,explicit,tag:0"`
}

// DefaultObjectReader is the stdlib-based ObjectReader: crypto/x509 for
// certificates, encoding/asn1 for the CMS envelope and the
// object-specific structures (RFC 6486/9286 manifests, RFC 6482 ROAs).
// It favors the byte-exact checks this package's invariants require
// (SPKI match, manifest hash, validity window) over a from-scratch CMS
// signature verifier, which is squarely the kind of machinery left to
// an external collaborator.
type DefaultObjectReader struct{}

// extractEECert unwraps a CMS SignedData envelope far enough to return
// the embedded end-entity certificate and the raw eContent bytes.
// Real deployments verify SignedData's signature against the EE
// certificate first; that verification is left out here (see
// DESIGN.md) as the seam a hardened CMS library would fill.
func extractEECert(der []byte) (*CertNode, []byte, error) {
	var ci cmsContentInfo
	if _, err := asn1.Unmarshal(der, &ci); err != nil {
		return nil, nil, rpkierr.Parsef("rpki.extractEECert", "CMS ContentInfo: %w", err)
	}
	var sd cmsSignedData
	if _, err := asn1.Unmarshal(ci.Content.Bytes, &sd); err != nil {
		return nil, nil, rpkierr.Parsef("rpki.extractEECert", "CMS SignedData: %w", err)
	}
	if len(sd.Certificates.Bytes) == 0 {
		return nil, nil, rpkierr.Parsef("rpki.extractEECert", "SignedData carries no certificates")
	}
	certs, err := x509.ParseCertificates(sd.Certificates.Bytes)
	if err != nil || len(certs) == 0 {
		return nil, nil, rpkierr.Parsef("rpki.extractEECert", "embedded EE certificate: %w", err)
	}
	// RPKI signed objects embed exactly one certificate, the EE cert
	// that verifies the object itself.
	node, err := ParseCertificate(certs[len(certs)-1].Raw)
	if err != nil {
		return nil, nil, rpkierr.Parsef("rpki.extractEECert", "%w", err)
	}

	var eContent []byte
	if len(sd.EncapContentInfo.Content.Bytes) > 0 {
		if _, err := asn1.Unmarshal(sd.EncapContentInfo.Content.Bytes, &eContent); err != nil {
			return nil, nil, rpkierr.Parsef("rpki.extractEECert", "eContent OCTET STRING: %w", err)
		}
	}
	return node, eContent, nil
}

func (DefaultObjectReader) ReadManifest(der []byte) (*Manifest, error) {
	ee, eContent, err := extractEECert(der)
	if err != nil {
		return nil, rpkierr.Parsef("rpki.ReadManifest", "%w", err)
	}
	var mc manifestContent
	if _, err := asn1.Unmarshal(eContent, &mc); err != nil {
		return nil, rpkierr.Parsef("rpki.ReadManifest", "manifest eContent: %w", err)
	}
	entries := make([]ManifestEntry, 0, len(mc.FileList))
	for _, fh := range mc.FileList {
		var hash [32]byte
		copy(hash[:], fh.Hash.Bytes)
		entries = append(entries, ManifestEntry{Name: fh.File, Hash: hash})
	}
	return &Manifest{
		ThisUpdate: mc.ThisUpdate,
		NextUpdate: mc.NextUpdate,
		EE:         ee,
		Entries:    entries,
	}, nil
}

func (DefaultObjectReader) ReadROA(der []byte) (*ROA, error) {
	ee, eContent, err := extractEECert(der)
	if err != nil {
		return nil, rpkierr.Parsef("rpki.ReadROA", "%w", err)
	}
	asn, prefixes, err := decodeROAContent(eContent)
	if err != nil {
		return nil, rpkierr.Parsef("rpki.ReadROA", "%w", err)
	}
	return &ROA{ASN: asn, Prefixes: prefixes, EE: ee}, nil
}

func (DefaultObjectReader) ReadRouterCert(der []byte) (*RouterCert, error) {
	ee, _, err := extractEECert(der)
	if err != nil {
		return nil, rpkierr.Parsef("rpki.ReadRouterCert", "%w", err)
	}
	var ski [20]byte
	copy(ski[:], ee.Cert.SubjectKeyId)
	asn, err := asnFromSubject(ee.Cert)
	if err != nil {
		return nil, err
	}
	return &RouterCert{
		ASN:  asn,
		SKI:  ski,
		SPKI: ee.Cert.RawSubjectPublicKeyInfo,
		EE:   ee,
	}, nil
}

func (DefaultObjectReader) ReadCACert(der []byte) (*CertNode, error) {
	return ParseCertificate(der)
}

// manifestFileAndHash is RFC 9286 §4.2's FileAndHash.
type manifestFileAndHash struct {
	File string
	Hash asn1.BitString
}

// manifestContent is RFC 9286 §4.2's Manifest eContent.
type manifestContent struct {
	Version        int `asn1:"optional,tag:0"`
	ManifestNumber *big.Int
	ThisUpdate     time.Time `asn1:"generalized"`
	NextUpdate     time.Time `asn1:"generalized"`
	FileHashAlg    asn1.ObjectIdentifier
	FileList       []manifestFileAndHash
}

// roaIPAddress is RFC 6482 §3.3's ROAIPAddress.
type roaIPAddress struct {
	Address   asn1.BitString
	MaxLength int `asn1:"optional"`
}

// roaIPAddressFamily is RFC 6482 §3.3's ROAIPAddressFamily.
type roaIPAddressFamily struct {
	AddressFamily []byte
	Addresses     []roaIPAddress
}

// routeOriginAttestation is RFC 6482 §3.1's RouteOriginAttestation.
type routeOriginAttestation struct {
	Version      int `asn1:"optional,tag:0"`
	ASID         int
	IPAddrBlocks []roaIPAddressFamily
}

// decodeROAContent decodes a RouteOriginAttestation eContent into the
// ASN and (prefix, maxLength) pairs it authorizes.
func decodeROAContent(der []byte) (uint32, []ROAPrefix, error) {
	var roa routeOriginAttestation
	if _, err := asn1.Unmarshal(der, &roa); err != nil {
		return 0, nil, fmt.Errorf("RouteOriginAttestation: %w", err)
	}
	if roa.ASID < 0 {
		return 0, nil, fmt.Errorf("RouteOriginAttestation: negative asID %d", roa.ASID)
	}

	var out []ROAPrefix
	for _, fam := range roa.IPAddrBlocks {
		for _, addr := range fam.Addresses {
			prefix, err := bitStringToPrefix(fam.AddressFamily, addr.Address)
			if err != nil {
				return 0, nil, fmt.Errorf("RouteOriginAttestation: %w", err)
			}
			maxLength := addr.MaxLength
			if maxLength == 0 {
				maxLength = prefix.Bits()
			}
			out = append(out, ROAPrefix{Prefix: prefix, MaxLength: uint8(maxLength)})
		}
	}
	return uint32(roa.ASID), out, nil
}

// bitStringToPrefix decodes a ROAIPAddress's BIT STRING against its
// ROAIPAddressFamily's two-byte AFI (RFC 3779 §2.1.1: 1 for IPv4, 2 for
// IPv6) into a netip.Prefix.
func bitStringToPrefix(afi []byte, bs asn1.BitString) (netip.Prefix, error) {
	if len(afi) < 2 {
		return netip.Prefix{}, fmt.Errorf("address family too short: %x", afi)
	}
	var size int
	switch {
	case afi[0] == 0 && afi[1] == 1:
		size = 4
	case afi[0] == 0 && afi[1] == 2:
		size = 16
	default:
		return netip.Prefix{}, fmt.Errorf("unsupported address family %x", afi)
	}
	if bs.BitLength > size*8 {
		return netip.Prefix{}, fmt.Errorf("prefix length %d exceeds %d-byte address", bs.BitLength, size)
	}
	buf := make([]byte, size)
	copy(buf, bs.Bytes)
	var addr netip.Addr
	if size == 16 {
		addr = netip.AddrFrom16([16]byte(buf))
	} else {
		addr = netip.AddrFrom4([4]byte(buf))
	}
	return netip.PrefixFrom(addr, bs.BitLength), nil
}

func asnFromSubject(ee *x509.Certificate) (uint32, error) {
	if len(ee.Subject.CommonName) == 0 {
		return 0, rpkierr.Parsef("rpki.asnFromSubject", "router certificate subject has no CommonName to derive an ASN from")
	}
	var asn uint32
	if _, err := fmt.Sscanf(ee.Subject.CommonName, "AS%d", &asn); err != nil {
		return 0, rpkierr.Parsef("rpki.asnFromSubject", "cannot parse ASN from subject %q: %w", ee.Subject.CommonName, err)
	}
	return asn, nil
}

// hashMatches verifies content against a manifest-listed SHA-256
// hash, the check required before trusting any file a manifest names.
func hashMatches(content []byte, want [32]byte) bool {
	got := sha256.Sum256(content)
	return got == want
}

func checkManifestWindow(m *Manifest, now time.Time) error {
	if now.Before(m.ThisUpdate) || now.After(m.NextUpdate) {
		return rpkierr.Parsef("rpki.checkManifestWindow", "manifest not valid at %s (window %s..%s)", now, m.ThisUpdate, m.NextUpdate)
	}
	return nil
}
