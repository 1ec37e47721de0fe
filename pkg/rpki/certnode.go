package rpki

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"time"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// CertVerifier performs the X.509/RFC 3779 checks the traversal step
// needs at each certificate: self-signed root SPKI pinning, ordinary
// chain signature verification, validity-period, and a presence-only
// IP/AS resource check (see Encompasses). It's a thin seam over crypto/x509 and encoding/asn1 —
// the cryptographic machinery itself is kept out of the core traversal
// logic, so this package's job is wiring stdlib's verifier into the
// traversal shape, not reimplementing ASN.1 or RFC 3779.
type CertVerifier struct {
	// Now, if set, overrides time.Now for validity-period checks in
	// tests.
	Now func() time.Time
}

func (v *CertVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// CertNode is a parsed RPKI certificate plus the resource extensions
// (RFC 3779) a ROA or child certificate must be encompassed by.
type CertNode struct {
	Cert *x509.Certificate

	// IPResources/ASResources are the raw RFC 3779 extension bytes.
	// Encompasses only looks at whether each extension is present; the
	// bytes themselves are never decoded or compared.
	IPResources asn1.RawValue
	ASResources asn1.RawValue

	hasIP, hasAS bool
}

// ParseCertificate parses a DER-encoded RPKI certificate and extracts
// its RFC 3779 extensions by OID (1.3.6.1.5.5.7.1.7 for IP address
// blocks, 1.3.6.1.5.5.7.1.8 for AS identifier blocks).
func ParseCertificate(der []byte) (*CertNode, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, rpkierr.Parsef("rpki.ParseCertificate", "%w", err)
	}
	n := &CertNode{Cert: cert}
	for _, ext := range cert.Extensions {
		switch {
		case ext.Id.Equal(oidIPAddrBlocks):
			if _, err := asn1.Unmarshal(ext.Value, &n.IPResources); err != nil {
				return nil, rpkierr.Parsef("rpki.ParseCertificate", "sbgp-ipAddrBlock: %w", err)
			}
			n.hasIP = true
		case ext.Id.Equal(oidASIdentifiers):
			if _, err := asn1.Unmarshal(ext.Value, &n.ASResources); err != nil {
				return nil, rpkierr.Parsef("rpki.ParseCertificate", "sbgp-autonomousSysNum: %w", err)
			}
			n.hasAS = true
		}
	}
	return n, nil
}

var (
	oidIPAddrBlocks  = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 7}
	oidASIdentifiers = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 8}
)

// VerifyRoot checks that node is self-signed and that its public key
// matches spki byte-for-byte against the TAL's SPKI.
func (v *CertVerifier) VerifyRoot(node *CertNode, spki []byte) error {
	raw := node.Cert.RawSubjectPublicKeyInfo
	if !bytes.Equal(raw, spki) {
		return rpkierr.Cryptof("rpki.VerifyRoot", "certificate SPKI does not match TAL SPKI")
	}
	if err := v.checkValidity(node.Cert); err != nil {
		return err
	}
	pool := x509.NewCertPool()
	pool.AddCert(node.Cert)
	opts := x509.VerifyOptions{Roots: pool, CurrentTime: v.now(), KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}
	if _, err := node.Cert.Verify(opts); err != nil {
		return rpkierr.Cryptof("rpki.VerifyRoot", "self-signature: %w", err)
	}
	if !node.hasIP && !node.hasAS {
		return rpkierr.Cryptof("rpki.VerifyRoot", "trust anchor certificate carries no RFC 3779 resource extensions")
	}
	return nil
}

// VerifyChild checks that child is within its validity window, was
// issued by parent, and passes Encompasses against parent. Only the
// direct parent is consulted, not the ancestors above it.
func (v *CertVerifier) VerifyChild(parent, child *CertNode) error {
	if err := v.checkValidity(child.Cert); err != nil {
		return err
	}
	if err := child.Cert.CheckSignatureFrom(parent.Cert); err != nil {
		return rpkierr.Cryptof("rpki.VerifyChild", "signature: %w", err)
	}
	if !Encompasses(parent, child) {
		return rpkierr.Cryptof("rpki.VerifyChild", "resources not encompassed by issuer")
	}
	return nil
}

func (v *CertVerifier) checkValidity(c *x509.Certificate) error {
	now := v.now()
	if now.Before(c.NotBefore) || now.After(c.NotAfter) {
		return rpkierr.Cryptof("rpki.checkValidity", "certificate not valid at %s (window %s..%s)", now, c.NotBefore, c.NotAfter)
	}
	return nil
}

// Encompasses reports whether child's RFC 3779 resource extensions
// are contained in parent's, judged by presence only: a child that
// declares no resource extension of its own inherits (and is
// therefore encompassed by) its parent's, and a child that declares
// IP or AS resources passes whenever parent carries the same kind of
// extension. The address ranges and AS numbers themselves are never
// compared, here or elsewhere; in particular a ROA's prefixes are not
// checked against its EE certificate's IP resources.
func Encompasses(parent, child *CertNode) bool {
	if !child.hasIP && !child.hasAS {
		return true // pure "inherit" certificate
	}
	// A child that declares its own IP or AS resources must have been
	// issued by a parent that carries the same kind of extension.
	if child.hasIP && !parent.hasIP {
		return false
	}
	if child.hasAS && !parent.hasAS {
		return false
	}
	return true
}
