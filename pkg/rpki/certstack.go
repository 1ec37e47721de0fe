package rpki

import "errors"

// ErrStackEmpty is returned by CertStack.Pop once every deferred
// certificate has been drained; FORT-validator signals the same
// condition with a bare -ENOENT from deferstack_pop. Callers treat it
// as "traversal of this TAL is done", never as a traversal failure.
var ErrStackEmpty = errors.New("certificate stack empty")

// Deferred is one manifest entry whose traversal was postponed while
// its containing publication point was walked, so siblings finish
// before we recurse into a child CA.
type Deferred struct {
	URI URI
	// PP is the publication point (repository) this certificate's
	// children, if any, should resolve manifest-relative URIs
	// against.
	PP *PublicationPoint
}

// PublicationPoint groups the manifest + CRL + signed objects fetched
// under one CA certificate's repository URI. It's refcounted because
// more than one deferred certificate can share the same PP entry (a
// manifest may list more than one sub-CA certificate).
type PublicationPoint struct {
	URI  URI
	refs int
}

func (pp *PublicationPoint) ref()   { pp.refs++ }
func (pp *PublicationPoint) unref() { pp.refs-- }

// CertStack is a LIFO of certificates discovered but not yet
// traversed, the direct analogue of FORT-validator's cert_stack: a
// depth-first walk pushes every child CA certificate it finds in a
// manifest, finishes the current publication point, then pops the
// stack to continue into the next undiscovered subtree.
type CertStack struct {
	items []Deferred
}

// NewCertStack returns an empty stack.
func NewCertStack() *CertStack { return &CertStack{} }

// Push defers uri (backed by pp) for later traversal.
func (s *CertStack) Push(uri URI, pp *PublicationPoint) {
	pp.ref()
	s.items = append(s.items, Deferred{URI: uri, PP: pp})
}

// Pop removes and returns the most recently pushed Deferred. It
// returns ErrStackEmpty, not a traversal error, once the stack is
// drained — the signal that this TAL's walk is complete.
func (s *CertStack) Pop() (Deferred, error) {
	if len(s.items) == 0 {
		return Deferred{}, ErrStackEmpty
	}
	n := len(s.items) - 1
	d := s.items[n]
	s.items = s.items[:n]
	d.PP.unref()
	return d, nil
}

// Len reports how many certificates remain deferred.
func (s *CertStack) Len() int { return len(s.items) }
