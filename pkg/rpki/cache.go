package rpki

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

// Cache is a content-addressed-by-URI local mirror of fetched
// repository objects, rooted at a directory (--cache-dir). Writers go
// through a .tmp-then-rename sequence so a reader never observes a
// partially written file, the same discipline the file-writing stage
// of this codebase's ancestor uses for its output files.
type Cache struct {
	root   string
	format string
}

// NewCache opens (creating if necessary) a cache rooted at dir.
func NewCache(dir, filenameFormat string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rpkierr.Fetchf("rpki.NewCache", "mkdir %s: %w", dir, err)
	}
	return &Cache{root: dir, format: filenameFormat}, nil
}

// Path returns the absolute on-disk path u is (or would be) cached at.
func (c *Cache) Path(u URI) string {
	return filepath.Join(c.root, filepath.FromSlash(u.CachePath(c.format)))
}

// Open opens the cached copy of u for reading, for validators that run
// entirely off what's already on disk (--offline).
func (c *Cache) Open(u URI) (*os.File, error) {
	f, err := os.Open(c.Path(u))
	if err != nil {
		return nil, rpkierr.Fetchf("rpki.Cache.Open", "%s: %w", u, err)
	}
	return f, nil
}

// Writer begins a write of u's content. Callers must call Commit to
// make the write visible, or Abort to discard it; a Writer left
// unresolved leaves a stray .tmp file behind (like the ancestor code's
// writer, cleaned up on next process start by directory convention,
// not automatically).
type Writer struct {
	final string
	tmp   *os.File
}

// Writer opens a new Writer for u.
func (c *Cache) Writer(u URI) (*Writer, error) {
	final := c.Path(u)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return nil, rpkierr.Fetchf("rpki.Cache.Writer", "mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(final), filepath.Base(final)+".*.tmp")
	if err != nil {
		return nil, rpkierr.Fetchf("rpki.Cache.Writer", "create temp: %w", err)
	}
	return &Writer{final: final, tmp: tmp}, nil
}

func (w *Writer) Write(p []byte) (int, error) { return w.tmp.Write(p) }

// ReadFrom lets io.Copy(w, r) avoid an extra buffer; it's also how
// most fetchers will fill a Writer.
func (w *Writer) ReadFrom(r io.Reader) (int64, error) { return io.Copy(w.tmp, r) }

// Commit flushes and atomically publishes the write under its final
// name.
func (w *Writer) Commit() error {
	if err := w.tmp.Sync(); err != nil {
		w.tmp.Close()
		os.Remove(w.tmp.Name())
		return rpkierr.Fetchf("rpki.Writer.Commit", "sync: %w", err)
	}
	tmpName := w.tmp.Name()
	if err := w.tmp.Close(); err != nil {
		os.Remove(tmpName)
		return rpkierr.Fetchf("rpki.Writer.Commit", "close: %w", err)
	}
	if err := os.Rename(tmpName, w.final); err != nil {
		os.Remove(tmpName)
		return rpkierr.Fetchf("rpki.Writer.Commit", "rename: %w", err)
	}
	return nil
}

// Abort discards the write without publishing it.
func (w *Writer) Abort() {
	w.tmp.Close()
	os.Remove(w.tmp.Name())
}
