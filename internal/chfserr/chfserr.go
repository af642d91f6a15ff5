// Package chfserr defines the closed set of error kinds that every layer of
// the storage engine returns, and the sentinel values the RPC boundary
// flattens them to.
package chfserr

import "golang.org/x/xerrors"

// Kind is one of the error kinds a core operation can fail with. The RPC
// boundary (dataserver, metaserver) translates every Kind to a sentinel
// value; everything below that boundary propagates a Kind unchanged.
type Kind int

const (
	// Done is not a failure; it is returned by helpers that report success
	// through the same Kind type other call sites use for errors.
	Done Kind = iota
	Invalid
	InvalidArg
	NotEmpty
	NotExist
	AlreadyExist
	OutOfResource
	BadResponse
	IoError
)

func (k Kind) String() string {
	switch k {
	case Done:
		return "done"
	case Invalid:
		return "invalid"
	case InvalidArg:
		return "invalid argument"
	case NotEmpty:
		return "not empty"
	case NotExist:
		return "does not exist"
	case AlreadyExist:
		return "already exists"
	case OutOfResource:
		return "out of resources"
	case BadResponse:
		return "bad response"
	case IoError:
		return "I/O error"
	default:
		return "unknown error"
	}
}

// Error wraps a Kind so it satisfies the error interface while still being
// comparable with Is.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.Msg
}

// Is lets xerrors.Is(err, chfserr.New(Kind)) match any Error with the same Kind,
// regardless of Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs an *Error carrying kind with no extra context.
func New(kind Kind) *Error {
	return &Error{Kind: kind}
}

// Wrap attaches context to kind, formatted like every other error in this
// module (xerrors.Errorf("%s: %v", ...)).
func Wrap(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: xerrors.Errorf(format, args...).Error()}
}

// KindOf extracts the Kind carried by err, defaulting to IoError for any
// error that didn't originate in this package (e.g. an os.PathError bubbling
// out of a block manager's backing file).
func KindOf(err error) Kind {
	if err == nil {
		return Done
	}
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}
	return IoError
}
