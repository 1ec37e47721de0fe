package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rpkid/rpkid/pkg/rpki"
)

func TestTalFilesFiltersExtension(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.tal"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "b.tal"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644)

	files, err := talFiles(dir)
	if err != nil {
		t.Fatalf("talFiles() error = %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("len(files) = %d, want 2, got %v", len(files), files)
	}
}

func TestRunRejectsEmptyTalDir(t *testing.T) {
	dir := t.TempDir()
	d := &Dispatcher{Cache: mustCache(t)}
	_, err := d.Run(context.Background(), dir)
	if err == nil {
		t.Fatal("Run() = nil error, want error for empty TAL dir")
	}
}

func mustCache(t *testing.T) *rpki.Cache {
	t.Helper()
	c, err := rpki.NewCache(t.TempDir(), "global-url")
	if err != nil {
		t.Fatalf("NewCache() error = %v", err)
	}
	return c
}
