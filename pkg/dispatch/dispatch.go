// Package dispatch implements the TAL dispatcher: spawn one validation
// worker per TAL file, join all of them regardless of individual
// failure, and merge the results only if every worker succeeded.
//
// This is a direct generalization of FORT-validator's
// perform_standalone_validation/do_file_validation pair (one pthread
// per .tal, SLIST-based join) into a goroutine-per-TAL with a
// sync.WaitGroup, the concurrency shape this codebase's ancestor uses
// for background work it owns end to end.
package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rpkid/rpkid/pkg/rpki"
	"github.com/rpkid/rpkid/pkg/rpkierr"
	"github.com/rpkid/rpkid/pkg/tal"
)

// WorkerResult is one TAL's validation outcome.
type WorkerResult struct {
	TALFile string
	Table   *rpki.Table
	Err     error
	Elapsed time.Duration
}

// Dispatcher owns the shared, read-only configuration every worker
// needs: the fetcher chain, the cache, and traversal limits.
type Dispatcher struct {
	Fetchers rpki.Fetchers
	Cache    *rpki.Cache
	Reader   rpki.ObjectReader
	Verifier *rpki.CertVerifier
	Log      zerolog.Logger

	MaxDepth    int
	Offline     bool
	ShuffleURIs bool
	Rand        func(n int) int // only consulted when ShuffleURIs is set
}

// Run validates every .tal file under talDir in parallel and returns
// the merged table. The dispatcher joins all workers regardless of
// individual failure, but if ANY worker failed the entire result is
// discarded — no partial world view is ever
// published.
func (d *Dispatcher) Run(ctx context.Context, talDir string) (*rpki.Table, error) {
	files, err := talFiles(talDir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, rpkierr.Internalf("dispatch.Run", "no .tal files found under %s", talDir)
	}

	results := make([]WorkerResult, len(files))
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, file string) {
			defer wg.Done()
			results[i] = d.runWorker(ctx, file)
		}(i, f)
	}
	wg.Wait()

	merged := rpki.NewTable()
	var firstErr error
	for _, r := range results {
		if r.Err != nil {
			d.Log.Warn().Err(r.Err).Str("tal", r.TALFile).Msg("validation from TAL yielded an error; discarding all validation results")
			if firstErr == nil {
				firstErr = r.Err
			}
			continue
		}
		merged.Join(r.Table)
	}
	if firstErr != nil {
		return nil, rpkierr.Wrap(rpkierr.Internal, "dispatch.Run", firstErr)
	}
	return merged, nil
}

func (d *Dispatcher) runWorker(ctx context.Context, file string) WorkerResult {
	start := time.Now()
	res := WorkerResult{TALFile: file}

	t, err := tal.ParseFile(file)
	if err != nil {
		res.Err = err
		return res
	}
	if d.ShuffleURIs && d.Rand != nil {
		t.Shuffle(d.Rand)
	}

	uris := make([]rpki.URI, 0, len(t.URIs))
	for _, u := range t.URIs {
		ru, err := rpki.NewURI(u.Value)
		if err != nil {
			res.Err = err
			return res
		}
		uris = append(uris, ru)
	}

	table := rpki.NewTable()
	trav := &rpki.Traverser{
		Verifier: d.Verifier,
		Reader:   d.Reader,
		Cache:    d.Cache,
		Log:      d.Log.With().Str("tal", filepath.Base(file)).Logger(),
		MaxDepth: d.MaxDepth,
	}

	err = rpki.DownloadAlt(ctx, d.Fetchers, d.Cache, uris, d.Offline, func(u rpki.URI) error {
		if !u.IsCertificate() {
			return rpkierr.Parsef("dispatch.runWorker", "TAL URI does not point to a certificate: %s", u)
		}
		return trav.Traverse(ctx, u, t.SPKI, table)
	})
	if err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}

	res.Table = table
	res.Elapsed = time.Since(start)
	return res
}

func talFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, rpkierr.Fetchf("dispatch.talFiles", "%s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".tal" {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	return out, nil
}
