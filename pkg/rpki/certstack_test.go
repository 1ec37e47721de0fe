package rpki

import "testing"

func TestCertStackLIFOOrder(t *testing.T) {
	s := NewCertStack()
	pp := &PublicationPoint{}
	a, _ := NewURI("rsync://example.net/repo/a.cer")
	b, _ := NewURI("rsync://example.net/repo/b.cer")

	s.Push(a, pp)
	s.Push(b, pp)

	first, err := s.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if first.URI.Raw != b.Raw {
		t.Fatalf("first pop = %s, want %s (LIFO)", first.URI.Raw, b.Raw)
	}

	second, err := s.Pop()
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	if second.URI.Raw != a.Raw {
		t.Fatalf("second pop = %s, want %s", second.URI.Raw, a.Raw)
	}
}

func TestCertStackPopEmptyReturnsSentinel(t *testing.T) {
	s := NewCertStack()
	_, err := s.Pop()
	if err != ErrStackEmpty {
		t.Fatalf("Pop() on empty stack = %v, want ErrStackEmpty", err)
	}
}

func TestCertStackRefcounting(t *testing.T) {
	pp := &PublicationPoint{}
	u, _ := NewURI("rsync://example.net/repo/a.cer")
	s := NewCertStack()
	s.Push(u, pp)
	s.Push(u, pp)
	if pp.refs != 2 {
		t.Fatalf("pp.refs = %d, want 2", pp.refs)
	}
	s.Pop()
	if pp.refs != 1 {
		t.Fatalf("pp.refs after one Pop = %d, want 1", pp.refs)
	}
}
