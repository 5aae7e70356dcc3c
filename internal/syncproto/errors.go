package syncproto

import "errors"

// Sentinel error kinds for this package. Send and receive failures are
// logged where they happen; callers may inspect them but need not act.
var (
	ErrUnreachable = errors.New("peer unreachable")
	ErrSendFailed  = errors.New("transport send failed")
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownKind = errors.New("unknown message kind")
)
