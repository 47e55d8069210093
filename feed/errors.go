package feed

import (
	"errors"
	"fmt"
)

// Kind classifies a failure in the archiving pipeline. The set is closed:
// the recorder retries connect and transport failures through its reconnect
// path, while config, not-found, not-live, and I/O failures are fatal to the
// caller that hits them.
type Kind int

const (
	// KindUnknown is the zero value for errors that carry no kind.
	KindUnknown Kind = iota
	// KindConnect indicates session establishment failed. Retried.
	KindConnect
	// KindTransport indicates a mid-stream or API call failure. Retried.
	KindTransport
	// KindNotFound indicates the requested video does not exist.
	KindNotFound
	// KindNotLive indicates the video exists but has no active live chat.
	KindNotLive
	// KindConfig indicates an invalid bootstrap configuration, such as
	// resume requested against an empty log.
	KindConfig
	// KindIO indicates the resume log failed to read or write. Never
	// papered over: a durability failure terminates the process.
	KindIO
)

// String returns a stable short name used in logs and error text.
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	case KindNotLive:
		return "not_live"
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error attaches a Kind and the failing operation to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a kinded error from a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from anywhere in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
