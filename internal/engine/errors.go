package engine

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures for callers
type Kind int

const (
	// KindUnknown is never produced by the engine itself
	KindUnknown Kind = iota
	// KindInvalidPayload: unparseable payload or missing identifier. The scan
	// session continues.
	KindInvalidPayload
	// KindBusinessNotFound: no business matches the payload. Terminal for
	// this scan.
	KindBusinessNotFound
	// KindDependencyUnavailable: a store read or write failed
	KindDependencyUnavailable
	// KindCaptureUnavailable: no capture tier produced a payload
	KindCaptureUnavailable
	// KindDuplicateSubmission: a decode arrived while another was resolving.
	// Dropped without user feedback.
	KindDuplicateSubmission
	// KindCooldownActive: the identity scanned too recently
	KindCooldownActive
	// KindMembershipNotFound: no membership with the given id
	KindMembershipNotFound
	// KindRewardNotReady: redeem requested below the card size
	KindRewardNotReady
)

var kindNames = map[Kind]string{
	KindUnknown:               "Unknown",
	KindInvalidPayload:        "InvalidPayload",
	KindBusinessNotFound:      "BusinessNotFound",
	KindDependencyUnavailable: "DependencyUnavailable",
	KindCaptureUnavailable:    "CaptureUnavailable",
	KindDuplicateSubmission:   "DuplicateSubmission",
	KindCooldownActive:        "CooldownActive",
	KindMembershipNotFound:    "MembershipNotFound",
	KindRewardNotReady:        "RewardNotReady",
}

// String implements fmt.Stringer
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the error type returned by engine operations
type Error struct {
	Kind Kind
	// RemainingSeconds is set for KindCooldownActive
	RemainingSeconds int
	Err              error
}

// Error implements error
func (e *Error) Error() string {
	if e.Kind == KindCooldownActive {
		return fmt.Sprintf("please wait %d seconds before scanning again", e.RemainingSeconds)
	}
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches engine errors by kind, so errors.Is(err, ErrBusinessNotFound) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is
var (
	ErrInvalidPayload        = &Error{Kind: KindInvalidPayload}
	ErrBusinessNotFound      = &Error{Kind: KindBusinessNotFound}
	ErrDependencyUnavailable = &Error{Kind: KindDependencyUnavailable}
	ErrCaptureUnavailable    = &Error{Kind: KindCaptureUnavailable}
	ErrDuplicateSubmission   = &Error{Kind: KindDuplicateSubmission}
	ErrCooldownActive        = &Error{Kind: KindCooldownActive}
	ErrMembershipNotFound    = &Error{Kind: KindMembershipNotFound}
	ErrRewardNotReady        = &Error{Kind: KindRewardNotReady}
)

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func cooldownError(remaining int) *Error {
	return &Error{Kind: KindCooldownActive, RemainingSeconds: remaining}
}

// KindOf extracts the kind of an engine error, KindUnknown otherwise
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RemainingSeconds extracts the cooldown wait from an error, 0 otherwise
func RemainingSeconds(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindCooldownActive {
		return e.RemainingSeconds
	}
	return 0
}
