package tal

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/rpkid/rpkid/pkg/rpkierr"
)

func validTAL() string {
	spki := base64.StdEncoding.EncodeToString([]byte("fake-spki-bytes"))
	return "# comment line\n" +
		"# another comment\n" +
		"rsync://rpki.example.net/repo/ta.cer\n" +
		"https://rpki.example.net/repo/ta.cer\n" +
		"\n" +
		spki + "\n"
}

func TestParseValid(t *testing.T) {
	tl, err := Parse([]byte(validTAL()))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(tl.URIs) != 2 {
		t.Fatalf("len(URIs) = %d, want 2", len(tl.URIs))
	}
	if tl.URIs[0].Scheme != SchemeRsync || tl.URIs[1].Scheme != SchemeHTTPS {
		t.Fatalf("unexpected schemes: %+v", tl.URIs)
	}
	if string(tl.SPKI) != "fake-spki-bytes" {
		t.Fatalf("SPKI = %q, want %q", tl.SPKI, "fake-spki-bytes")
	}
}

func TestParseRejectsBadScheme(t *testing.T) {
	content := "ftp://rpki.example.net/repo/ta.cer\n\nYmFzZTY0\n"
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("Parse() = nil error, want non-RSYNC/HTTPS rejection")
	}
	if kind, ok := rpkierr.Of(err); !ok || kind != rpkierr.Parse {
		t.Fatalf("Of(err) = (%v, %v), want (Parse, true)", kind, ok)
	}
	if !strings.Contains(err.Error(), "non-RSYNC/HTTPS") {
		t.Fatalf("err = %v, want mention of non-RSYNC/HTTPS", err)
	}
}

func TestParseRejectsEmptyURISection(t *testing.T) {
	content := "\nYmFzZTY0\n"
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("Parse() = nil error, want empty-URI-section rejection")
	}
}

func TestParseRejectsMissingKey(t *testing.T) {
	content := "rsync://rpki.example.net/repo/ta.cer\n\n"
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("Parse() = nil error, want missing-public-key rejection")
	}
	if !strings.Contains(err.Error(), "missing the public key") {
		t.Fatalf("err = %v, want mention of missing public key", err)
	}
}

func TestParseRejectsPrematureEOF(t *testing.T) {
	_, err := Parse([]byte(""))
	if err == nil {
		t.Fatal("Parse() = nil error, want premature-EOF rejection")
	}
}

func TestParseRejectsBadBase64(t *testing.T) {
	content := "rsync://rpki.example.net/repo/ta.cer\n\nnot-valid-base64!!!\n"
	_, err := Parse([]byte(content))
	if err == nil {
		t.Fatal("Parse() = nil error, want base64 decode failure")
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	tl := &TAL{URIs: []URI{
		{Value: "a"}, {Value: "b"}, {Value: "c"}, {Value: "d"},
	}}
	seen := map[string]bool{}
	// deterministic "random": always swap with the last unshuffled slot
	tl.Shuffle(func(n int) int { return n - 1 })
	for _, u := range tl.URIs {
		seen[u.Value] = true
	}
	if len(seen) != 4 {
		t.Fatalf("Shuffle lost elements: %+v", tl.URIs)
	}
}
