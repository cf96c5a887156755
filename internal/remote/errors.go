package remote

import (
	"errors"
	"fmt"
)

// Kind classifies remote failures so the orchestrator can route them:
// transient failures fall back to the cache, auth failures surface
// immediately, and not-found is treated as success by the delete flush path.
type Kind int

const (
	// KindTransient covers transport errors and 5xx responses. Retried.
	KindTransient Kind = iota
	// KindAuth covers 401/403. Retrying without re-authentication cannot
	// succeed, so these are never retried or queued.
	KindAuth
	// KindNotFound covers 404.
	KindNotFound
	// KindInvalid covers all other 4xx (validation and similar).
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not found"
	case KindInvalid:
		return "invalid request"
	default:
		return "transient"
	}
}

// Error is a classified remote calendar API failure.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 for transport failures
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("remote %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	if e.err != nil {
		return fmt.Sprintf("remote %s: %v", e.Kind, e.err)
	}
	return fmt.Sprintf("remote %s (status %d)", e.Kind, e.Status)
}

func (e *Error) Unwrap() error { return e.err }

// kindOf extracts the failure kind from an error chain. Unclassified errors
// count as transient.
func kindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// IsNotFound reports whether err is a remote 404.
func IsNotFound(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindNotFound
}

// IsAuth reports whether err is a remote auth failure.
func IsAuth(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindAuth
}
