// Package tal parses Trust Anchor Locator files: the small bootstrap
// documents (RFC 8630) that name a trust anchor certificate's location(s)
// and its subjectPublicKeyInfo, so a relying party can fetch and
// authenticate it without any prior out-of-band trust.
package tal

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// URIScheme is the transport a TAL URI names.
type URIScheme int

const (
	SchemeRsync URIScheme = iota
	SchemeHTTPS
)

func (s URIScheme) String() string {
	if s == SchemeHTTPS {
		return "https"
	}
	return "rsync"
}

// TAL is a parsed Trust Anchor Locator: an ordered list of candidate
// certificate URIs (only the first to validate is used) plus the
// trust anchor's public key, which every fetched certificate is
// checked against before it's trusted.
type TAL struct {
	// FileName is the base name of the .tal file, e.g. "afrinic.tal".
	// It appears in String's output; the cache layout does not use it.
	FileName string
	// URIs is the ordered candidate location list. At least one entry
	// is guaranteed after a successful Parse.
	URIs []URI
	// SPKI is the decoded (not base64) subjectPublicKeyInfo.
	SPKI []byte
}

// URI is one candidate trust anchor certificate location.
type URI struct {
	Scheme URIScheme
	Value  string
}

// ParseFile reads and parses the .tal file at path.
func ParseFile(path string) (*TAL, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rpkierr.Fetchf("tal.ParseFile", "read %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, err
	}
	t.FileName = filepath.Base(path)
	return t, nil
}

// Parse parses TAL content per RFC 8630 §2.1: an optional block of
// '#'-prefixed comment lines, one or more candidate URIs (one per
// line), a blank line, and a base64-encoded subjectPublicKeyInfo
// running to EOF.
func Parse(content []byte) (*TAL, error) {
	sc := bufio.NewScanner(bytes.NewReader(content))
	sc.Buffer(make([]byte, 0, 4096), 1<<20)

	t := &TAL{}
	sawLine := false

	for sc.Scan() {
		sawLine = true
		line := strings.TrimRight(sc.Text(), "\r")

		if len(t.URIs) == 0 && strings.HasPrefix(line, "#") {
			continue // still in the comment section
		}
		if strings.TrimSpace(line) == "" {
			break // blank line ends the URI section
		}

		u, err := parseURI(line)
		if err != nil {
			return nil, err
		}
		t.URIs = append(t.URIs, u)
	}
	if err := sc.Err(); err != nil {
		return nil, rpkierr.Parsef("tal.Parse", "scan: %w", err)
	}
	if !sawLine {
		return nil, rpkierr.Parsef("tal.Parse", "the TAL seems to end prematurely")
	}
	if len(t.URIs) == 0 {
		return nil, rpkierr.Parsef("tal.Parse", "there seems to be an empty/blank line before the end of the URI section")
	}

	var b64 strings.Builder
	for sc.Scan() {
		b64.WriteString(strings.TrimSpace(sc.Text()))
	}
	if err := sc.Err(); err != nil {
		return nil, rpkierr.Parsef("tal.Parse", "scan: %w", err)
	}
	if b64.Len() == 0 {
		return nil, rpkierr.Parsef("tal.Parse", "the TAL seems to be missing the public key")
	}

	spki, err := base64.StdEncoding.DecodeString(b64.String())
	if err != nil {
		return nil, rpkierr.Parsef("tal.Parse", "cannot decode the public key: %w", err)
	}
	t.SPKI = spki

	return t, nil
}

func parseURI(line string) (URI, error) {
	switch {
	case strings.HasPrefix(line, "rsync://"):
		return URI{Scheme: SchemeRsync, Value: line}, nil
	case strings.HasPrefix(line, "https://"):
		return URI{Scheme: SchemeHTTPS, Value: line}, nil
	default:
		return URI{}, rpkierr.Parsef("tal.Parse", "TAL has non-RSYNC/HTTPS URI: %s", line)
	}
}

// Shuffle randomizes the URI try order in place. rnd(n) must return a
// pseudo-random int in [0, n); taking it as a parameter lets tests
// inject a deterministic source.
func (t *TAL) Shuffle(rnd func(n int) int) {
	for i := len(t.URIs) - 1; i > 0; i-- {
		j := rnd(i + 1)
		t.URIs[i], t.URIs[j] = t.URIs[j], t.URIs[i]
	}
}

// String implements fmt.Stringer for logging.
func (t *TAL) String() string {
	return fmt.Sprintf("TAL(%s, %d uris)", t.FileName, len(t.URIs))
}
