package rpki

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// Traverser runs the depth-first certificate-tree walk: starting from
// a validated root, it pops deferred certificates one at a time,
// validates each manifest's listed objects, and emits VRPs into a
// caller-owned Table.
type Traverser struct {
	Verifier *CertVerifier
	Reader   ObjectReader
	Cache    *Cache
	Log      zerolog.Logger

	// MaxDepth is set via --max-cert-depth. Every walkManifestOf call
	// is passed depth 0 (a child CA's depth is not tracked), so the
	// limit never cuts off a subtree.
	MaxDepth int
	Now      func() time.Time
}

func (t *Traverser) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// visited tracks (ski, spki) pairs already traversed in this TAL's
// walk, so a manifest cycle (or a repository serving the same CA
// under two SIA pointers) can't loop forever.
type visitKey string

func keyOf(n *CertNode) visitKey {
	return visitKey(string(n.Cert.SubjectKeyId) + "|" + string(n.Cert.RawSubjectPublicKeyInfo))
}

// Traverse validates the subtree reachable from rootURI (a TAL
// candidate certificate location, already fetched into the cache) and
// emits VRPs into table. spki is the TAL's trust anchor public key,
// checked byte-for-byte against the root certificate.
func (t *Traverser) Traverse(ctx context.Context, rootURI URI, spki []byte, table *Table) error {
	rootDER, err := os.ReadFile(t.Cache.Path(rootURI))
	if err != nil {
		return rpkierr.Fetchf("rpki.Traverser.Traverse", "read root certificate: %w", err)
	}
	root, err := ParseCertificate(rootDER)
	if err != nil {
		return rpkierr.Parsef("rpki.Traverser.Traverse", "root: %w", err)
	}
	if err := t.Verifier.VerifyRoot(root, spki); err != nil {
		// invalid-public-key failures abort the TAL with a hard error;
		// every VerifyRoot failure here is exactly that classification,
		// since there is no weaker "generic" root failure in this seam.
		return rpkierr.Cryptof("rpki.Traverser.Traverse", "root validation: %w", err)
	}

	// From here on the root is committed: the caller's table may
	// legitimately contain VRPs from a partially failed subtree walk.
	stack := NewCertStack()
	visited := map[visitKey]bool{keyOf(root): true}

	rootPP := &PublicationPoint{URI: rootURI}
	if err := t.walkManifestOf(ctx, root, rootURI, rootPP, 0, visited, stack, table); err != nil {
		t.Log.Warn().Err(err).Str("tal_uri", rootURI.String()).Msg("root publication point walk failed")
	}

	for {
		d, err := stack.Pop()
		if err == ErrStackEmpty {
			return nil
		}
		if err := t.visitDeferred(ctx, d, visited, stack, table); err != nil {
			// §4.3 Error containment: child subtree errors are logged
			// and swallowed, never propagated to the TAL level.
			t.Log.Warn().Err(err).Str("uri", d.URI.String()).Msg("subtree traversal failed")
		}
	}
}

func (t *Traverser) visitDeferred(ctx context.Context, d Deferred, visited map[visitKey]bool, stack *CertStack, table *Table) error {
	der, err := os.ReadFile(t.Cache.Path(d.URI))
	if err != nil {
		return rpkierr.Fetchf("rpki.visitDeferred", "%s: %w", d.URI, err)
	}
	node, err := t.Reader.ReadCACert(der)
	if err != nil {
		return err
	}
	if visited[keyOf(node)] {
		return nil // cycle guard
	}
	visited[keyOf(node)] = true

	return t.walkManifestOf(ctx, node, d.URI, d.PP, 0, visited, stack, table)
}

// walkManifestOf fetches and validates the manifest rooted at cert's
// SIA and dispatches each listed object.
func (t *Traverser) walkManifestOf(ctx context.Context, cert *CertNode, certURI URI, pp *PublicationPoint, depth int, visited map[visitKey]bool, stack *CertStack, table *Table) error {
	if depth > t.MaxDepth {
		return rpkierr.Protocolf("rpki.walkManifestOf", "%s: certificate depth exceeds max-cert-depth", certURI)
	}

	mftURI := certURI.Join(manifestName(certURI))
	mftDER, err := os.ReadFile(t.Cache.Path(mftURI))
	if err != nil {
		return rpkierr.Fetchf("rpki.walkManifestOf", "manifest: %w", err)
	}
	mft, err := t.Reader.ReadManifest(mftDER)
	if err != nil {
		return err
	}
	if err := checkManifestWindow(mft, t.now()); err != nil {
		return err
	}

	for _, entry := range mft.Entries {
		objURI := certURI.Join(entry.Name)
		raw, err := os.ReadFile(t.Cache.Path(objURI))
		if err != nil {
			// RFC 6486bis: a manifest-listed but missing file fails
			// only that entry, logged, not the whole RPP. This is the
			// only behavior: there is no option to fail the whole
			// publication point instead.
			t.Log.Warn().Err(err).Str("uri", objURI.String()).Msg("manifest entry missing")
			continue
		}
		if !hashMatches(raw, entry.Hash) {
			t.Log.Warn().Str("uri", objURI.String()).Msg("manifest entry hash mismatch, skipping")
			continue
		}

		switch ClassifyObject(entry.Name) {
		case ObjectROA:
			if err := t.emitROA(raw, cert, table); err != nil {
				t.Log.Warn().Err(err).Str("uri", objURI.String()).Msg("ROA rejected")
			}
		case ObjectRouterCert:
			if err := t.emitRouterKey(raw, cert, table); err != nil {
				t.Log.Warn().Err(err).Str("uri", objURI.String()).Msg("router certificate rejected")
			}
		case ObjectCACert:
			child, err := t.Reader.ReadCACert(raw)
			if err != nil {
				t.Log.Warn().Err(err).Str("uri", objURI.String()).Msg("child certificate unparseable")
				continue
			}
			if err := t.Verifier.VerifyChild(cert, child); err != nil {
				t.Log.Warn().Err(err).Str("uri", objURI.String()).Msg("child certificate rejected")
				continue
			}
			stack.Push(objURI, pp)
		case ObjectCRL:
			// CRLs are neither parsed nor registered, and nothing
			// checks revocation: an object a CRL revokes is still
			// accepted.
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func (t *Traverser) emitROA(der []byte, issuer *CertNode, table *Table) error {
	roa, err := t.Reader.ReadROA(der)
	if err != nil {
		return err
	}
	if err := t.Verifier.VerifyChild(issuer, roa.EE); err != nil {
		return err
	}
	for _, p := range roa.Prefixes {
		table.Insert(VRP{Kind: KindROA, ASN: roa.ASN, Prefix: p.Prefix, MaxLength: p.MaxLength})
	}
	return nil
}

func (t *Traverser) emitRouterKey(der []byte, issuer *CertNode, table *Table) error {
	rc, err := t.Reader.ReadRouterCert(der)
	if err != nil {
		return err
	}
	if err := t.Verifier.VerifyChild(issuer, rc.EE); err != nil {
		return err
	}
	table.Insert(VRP{Kind: KindRouterKey, ASN: rc.ASN, SKI: rc.SKI, SPKI: rc.SPKI})
	return nil
}

// manifestName derives a certificate URI's manifest file name. Real
// manifests are named by the SIA's "rpkiManifest" access method, not
// derived from the certificate's own name; this mirrors the common
// "same base name, .mft extension" repository convention as a
// practical default.
func manifestName(certURI URI) string {
	base := certURI.urlPath
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '/' {
			base = base[i+1:]
			break
		}
	}
	name := base
	if dot := lastDot(name); dot >= 0 {
		name = name[:dot]
	}
	return name + ".mft"
}

func lastDot(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
