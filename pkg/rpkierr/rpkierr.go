// Package rpkierr unifies rpkid's error taxonomy under one tagged type,
// classifying each error by the pipeline stage that produced it rather
// than by errno value or ad-hoc sentinel constant.
package rpkierr

import "fmt"

// Kind classifies an Error by the stage of the pipeline that produced it.
type Kind int

const (
	// Internal marks an invariant violation: a programmer error, not a
	// data error. Callers that can only get Internal errors from trusted
	// code should treat them as fatal.
	Internal Kind = iota
	// Parse marks a malformed TAL, manifest, or ASN.1 structure.
	Parse
	// Fetch marks a failure to retrieve a URI's content.
	Fetch
	// Crypto marks a cryptographic failure: bad signature, hash
	// mismatch, or resources not encompassed.
	Crypto
	// Protocol marks an RTR protocol violation (unexpected PDU
	// direction, session-id mismatch, and the like).
	Protocol
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "parse"
	case Fetch:
		return "fetch"
	case Crypto:
		return "crypto"
	case Protocol:
		return "protocol"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a tagged error: a Kind, the operation that failed, and
// (usually) a wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, &rpkierr.Error{Kind: rpkierr.Fetch}) match any
// *Error of that Kind: a target with an empty Op matches every Op, and
// the target's Err is ignored. A small convenience for tests that just
// want to assert the classification.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Op == "" || t.Op == e.Op)
}

func newf(kind Kind, op, format string, a ...any) *Error {
	var err error
	if len(a) > 0 {
		err = fmt.Errorf(format, a...)
	} else if format != "" {
		err = fmt.Errorf("%s", format)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Parsef builds a Parse-kind error scoped to op.
func Parsef(op, format string, a ...any) *Error { return newf(Parse, op, format, a...) }

// Fetchf builds a Fetch-kind error scoped to op.
func Fetchf(op, format string, a ...any) *Error { return newf(Fetch, op, format, a...) }

// Cryptof builds a Crypto-kind error scoped to op.
func Cryptof(op, format string, a ...any) *Error { return newf(Crypto, op, format, a...) }

// Protocolf builds a Protocol-kind error scoped to op.
func Protocolf(op, format string, a ...any) *Error { return newf(Protocol, op, format, a...) }

// Internalf builds an Internal-kind error scoped to op.
func Internalf(op, format string, a ...any) *Error { return newf(Internal, op, format, a...) }

// Wrap tags an existing error with a Kind and operation, without losing
// it (Unwrap still reaches the original error).
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Of reports the Kind of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (kind Kind, ok bool) {
	var e *Error
	for err != nil {
		if er, is := err.(*Error); is {
			e = er
			break
		}
		u, is := err.(interface{ Unwrap() error })
		if !is {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Kind, true
}
