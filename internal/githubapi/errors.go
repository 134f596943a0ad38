package githubapi

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies fetch failures at the external API boundary.
type FetchErrorKind string

const (
	// FetchErrorAuth means the credential was rejected.
	FetchErrorAuth FetchErrorKind = "auth"
	// FetchErrorTransport means the request could not complete.
	FetchErrorTransport FetchErrorKind = "transport"
	// FetchErrorDecode means the response body could not be decoded.
	FetchErrorDecode FetchErrorKind = "decode"
)

// FetchError is a typed failure from the external API. It is fatal to the
// current fetch call and never carries partially-consumed side effects.
type FetchError struct {
	Kind FetchErrorKind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func newFetchError(kind FetchErrorKind, op string, err error) *FetchError {
	return &FetchError{Kind: kind, Op: op, Err: err}
}

// IsAuthError reports whether err is a credential rejection.
func IsAuthError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr) && fetchErr.Kind == FetchErrorAuth
}
