package rpki

import (
	"context"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// Fetcher retrieves the content of a single URI into the cache.
// Implementations exist per transport (rsync, RRDP); Fetchers is the
// composite that tries them in priority order.
type Fetcher interface {
	// Supports reports whether this Fetcher handles u's URIType.
	Supports(u URI) bool
	// Fetch retrieves u's content into the cache. For rsync it
	// recursively mirrors the tree at u itself (a directory or a single
	// file, not the enclosing module); for RRDP it fetches the
	// notification at u and the snapshot it names (deltas are not
	// used). Either way, after a successful Fetch the cache holds
	// u's content and everything it's a container for.
	Fetch(ctx context.Context, u URI, cache *Cache) error
}

// Fetchers is a priority-ordered set of Fetcher implementations, one
// registered per transport, ordered by the --rsync-priority/
// --rrdp-priority knobs.
type Fetchers []Fetcher

// Fetch tries f in order and returns the first success, or the last
// error if every Fetcher capable of handling u failed. An empty
// Fetchers (every transport disabled) is reported as Fetch-kind error,
// not a panic.
func (fs Fetchers) Fetch(ctx context.Context, u URI, cache *Cache) error {
	var lastErr error
	tried := false
	for _, f := range fs {
		if !f.Supports(u) {
			continue
		}
		tried = true
		if err := f.Fetch(ctx, u, cache); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if !tried {
		return rpkierr.Fetchf("rpki.Fetchers.Fetch", "no enabled fetcher supports %s", u)
	}
	return lastErr
}

// DownloadAlt fetches each candidate URI in uris, in order, calling
// handle on the first one whose Fetch succeeds AND whose handle
// succeeds. This is the TAL-level "try alternates" loop FORT-validator
// implements as cache_download_alt: a TAL may list several trust
// anchor locations, and only one needs to work.
//
// offline skips fetching entirely and calls handle directly against
// whatever is already cached, for --offline runs.
func DownloadAlt(ctx context.Context, fetchers Fetchers, cache *Cache, uris []URI, offline bool, handle func(URI) error) error {
	var lastErr error
	for _, u := range uris {
		if !offline {
			if err := fetchers.Fetch(ctx, u, cache); err != nil {
				lastErr = err
				continue
			}
		}
		if err := handle(u); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	if lastErr == nil {
		lastErr = rpkierr.Fetchf("rpki.DownloadAlt", "no URIs to try")
	}
	return rpkierr.Fetchf("rpki.DownloadAlt", "none of the URIs yielded a successful traversal: %w", lastErr)
}
