package rpki

import (
	"net/url"
	"path"
	"strings"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// URIType distinguishes the two transports the RPKI repository
// ecosystem uses to publish signed objects.
type URIType int

const (
	URIRsync URIType = iota
	URIHTTPS
)

func (t URIType) String() string {
	if t == URIHTTPS {
		return "https"
	}
	return "rsync"
}

// URI is a parsed repository object location, together with the local
// cache path it's mapped to. The mapping is what FORT-validator calls
// the "filename format": by default ("global-url") the URI's host and
// path are mirrored under the cache root so two TALs that reference the
// same rsync module share one on-disk copy.
type URI struct {
	Type URIType
	// Raw is the URI exactly as it appeared in its source document.
	Raw string

	scheme, host, urlPath string
}

// NewURI parses raw into a URI, rejecting anything other than
// rsync:// or https://.
func NewURI(raw string) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, rpkierr.Parsef("rpki.NewURI", "%s: %w", raw, err)
	}
	var t URIType
	switch u.Scheme {
	case "rsync":
		t = URIRsync
	case "https":
		t = URIHTTPS
	default:
		return URI{}, rpkierr.Parsef("rpki.NewURI", "unsupported URI scheme: %s", raw)
	}
	return URI{Type: t, Raw: raw, scheme: u.Scheme, host: u.Host, urlPath: u.Path}, nil
}

// IsCertificate reports whether the URI's extension names an RPKI
// certificate object, the only object type a TAL is allowed to point
// at per RFC 8630.
func (u URI) IsCertificate() bool {
	return strings.HasSuffix(u.urlPath, ".cer")
}

// Parent returns the URI one path segment up (the containing
// publication point), used to resolve manifest- and CRL-relative
// fetches. ok is false at the root.
func (u URI) Parent() (URI, bool) {
	dir := path.Dir(u.urlPath)
	if dir == "." || dir == "/" || dir == u.urlPath {
		return URI{}, false
	}
	p := u
	p.urlPath = dir
	p.Raw = p.scheme + "://" + p.host + dir
	return p, true
}

// Join resolves name (a manifest or CRL fileAndHash entry) relative to
// the URI, which is assumed to name a publication point directory.
func (u URI) Join(name string) URI {
	p := u
	p.urlPath = path.Join(u.urlPath, name)
	p.Raw = p.scheme + "://" + p.host + p.urlPath
	return p
}

// CachePath returns the relative on-disk path a fetcher should write
// this URI's content to, under a cache root. format selects among the
// filename formats exposed via --filename-format.
func (u URI) CachePath(format string) string {
	switch format {
	case "local-path":
		return path.Join(u.Type.String(), u.host, u.urlPath)
	case "rfc6488":
		return path.Join(u.Type.String(), path.Base(u.urlPath))
	default: // "global-url"
		return path.Join(u.Type.String(), u.host, u.urlPath)
	}
}

// Host returns the URI's authority component, used to scope rsync
// module sessions and RRDP repository identity.
func (u URI) Host() string { return u.host }

// String implements fmt.Stringer.
func (u URI) String() string { return u.Raw }
