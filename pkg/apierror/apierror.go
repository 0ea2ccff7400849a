package apierror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is one of the daemon's error categories. It carries no
// HTTP knowledge itself - httpapi owns the kind-to-status mapping - so this
// package stays usable by any manager regardless of transport.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindInvalid
	KindNotPermitted
	KindTransient
)

// Error pairs a Kind with a human-readable, Docker-CLI-shaped message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound, Conflict, Invalid, NotPermitted, and Transient build a typed
// Error of the matching kind with a formatted message.
func NotFound(format string, args ...any) error    { return newf(KindNotFound, format, args...) }
func Conflict(format string, args ...any) error    { return newf(KindConflict, format, args...) }
func Invalid(format string, args ...any) error     { return newf(KindInvalid, format, args...) }
func NotPermitted(format string, args ...any) error { return newf(KindNotPermitted, format, args...) }
func Transient(format string, args ...any) error   { return newf(KindTransient, format, args...) }
func Internal(format string, args ...any) error    { return newf(KindInternal, format, args...) }

// Wrap annotates err with a Kind without discarding the original error for
// %w-style unwrapping.
func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf classifies err. A typed *Error reports its own Kind. A plain error
// from a manager package that doesn't construct apierror.Error values
// directly (network, volume, portmap) is classified by
// matching against the small set of phrases those packages are known to
// produce; anything unrecognized is treated as internal, the safe
// default for a broken invariant.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such"):
		return KindNotFound
	case strings.Contains(msg, "already exists"),
		strings.Contains(msg, "already published"),
		strings.Contains(msg, "is in use"),
		strings.Contains(msg, "already running"),
		strings.Contains(msg, "already started"),
		strings.Contains(msg, "not an active"),
		strings.Contains(msg, "already allocated"),
		strings.Contains(msg, "overlaps"),
		strings.Contains(msg, "name-in-use"):
		return KindConflict
	case strings.Contains(msg, "invalid"),
		strings.Contains(msg, "bad "),
		strings.Contains(msg, "is reserved"),
		strings.Contains(msg, "outside subnet"):
		return KindInvalid
	case strings.Contains(msg, "cannot be removed"),
		strings.Contains(msg, "not permitted"),
		strings.Contains(msg, "builtin"):
		return KindNotPermitted
	case strings.Contains(msg, "exhausted"),
		strings.Contains(msg, "no free addresses"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "timeout"):
		return KindTransient
	default:
		return KindInternal
	}
}
