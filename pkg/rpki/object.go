package rpki

import (
	"net/netip"
	"path"
	"time"
)

// ObjectKind classifies a manifest entry by its file extension, the
// same dispatch FORT-validator's object layer uses (object/ files
// branch on the object's file type before parsing).
type ObjectKind int

const (
	ObjectUnknown ObjectKind = iota
	ObjectCACert
	ObjectROA
	ObjectRouterCert
	ObjectCRL
	ObjectManifest
)

// ClassifyObject derives an ObjectKind from a manifest entry's file
// name extension.
func ClassifyObject(name string) ObjectKind {
	switch path.Ext(name) {
	case ".cer":
		return ObjectCACert
	case ".roa":
		return ObjectROA
	case ".crl":
		return ObjectCRL
	case ".mft":
		return ObjectManifest
	default:
		return ObjectUnknown
	}
}

// ManifestEntry is one file listed on a manifest, with the hash the
// traversal engine must verify the fetched content against before
// trusting it.
type ManifestEntry struct {
	Name string
	Hash [32]byte // SHA-256, per RFC 6486
}

// Manifest is the parsed (not yet object-by-object verified) content
// of an RPKI manifest.
type Manifest struct {
	ThisUpdate time.Time
	NextUpdate time.Time
	EE         *CertNode
	Entries    []ManifestEntry
}

// ROA is a parsed Route Origin Authorization: an ASN and the list of
// prefixes (with maxLength) it authorizes.
type ROA struct {
	ASN      uint32
	Prefixes []ROAPrefix
	EE       *CertNode
}

// ROAPrefix is one (prefix, maxLength) entry inside a ROA.
type ROAPrefix struct {
	Prefix    netip.Prefix
	MaxLength uint8
}

// RouterCert is a parsed BGPsec router certificate.
type RouterCert struct {
	ASN  uint32
	SKI  [20]byte
	SPKI []byte
	EE   *CertNode
}

// ObjectReader parses the RPKI signed-object types from their raw
// (already fetched, already hash-checked-against-the-manifest) bytes.
// It is the traversal engine's external collaborator for CMS signature
// verification and object-specific ASN.1 decoding, kept out of the
// core traversal logic. pkg/rpki ships a stdlib-based
// DefaultObjectReader; a production deployment could swap in a
// hardened CMS verifier behind the same interface without touching
// the traversal engine.
type ObjectReader interface {
	ReadManifest(der []byte) (*Manifest, error)
	ReadROA(der []byte) (*ROA, error)
	ReadRouterCert(der []byte) (*RouterCert, error)
	ReadCACert(der []byte) (*CertNode, error)
}
