package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies automaton and pipeline failures
type ErrorKind string

const (
	KindConfiguration      ErrorKind = "configuration_error"
	KindElementNotFound    ErrorKind = "element_not_found"
	KindChallengeTimeout   ErrorKind = "challenge_timeout"
	KindExportTimeout      ErrorKind = "export_timeout"
	KindCodeUnavailable    ErrorKind = "code_unavailable"
	KindInputNotFound      ErrorKind = "input_not_found"
	KindValidationRejected ErrorKind = "validation_rejected"
	KindDelivery           ErrorKind = "delivery_error"
	KindBrowser            ErrorKind = "browser_error"
)

// Sentinels for errors.Is matching by kind.
var (
	ErrConfiguration      = &AutomationError{Kind: KindConfiguration}
	ErrElementNotFound    = &AutomationError{Kind: KindElementNotFound}
	ErrChallengeTimeout   = &AutomationError{Kind: KindChallengeTimeout}
	ErrExportTimeout      = &AutomationError{Kind: KindExportTimeout}
	ErrCodeUnavailable    = &AutomationError{Kind: KindCodeUnavailable}
	ErrInputNotFound      = &AutomationError{Kind: KindInputNotFound}
	ErrValidationRejected = &AutomationError{Kind: KindValidationRejected}
	ErrDelivery           = &AutomationError{Kind: KindDelivery}
	ErrBrowser            = &AutomationError{Kind: KindBrowser}
)

// ErrNoMatch is returned by a Page when no element matched a locator in time.
// It is an ordinary outcome, turned into NotFound by the selector probe.
var ErrNoMatch = errors.New("no element matched")

// ErrDownloadTimeout is returned by a Page when the download event did not complete in time
var ErrDownloadTimeout = errors.New("download did not complete in time")

// AutomationError is a typed failure surfaced by the automatons and the export pipeline
type AutomationError struct {
	Kind   ErrorKind
	State  string
	Detail string
	Err    error
}

func (e *AutomationError) Error() string {
	msg := string(e.Kind)
	if e.State != "" {
		msg += " in " + e.State
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AutomationError) Unwrap() error {
	return e.Err
}

// Is matches any AutomationError of the same kind
func (e *AutomationError) Is(target error) bool {
	t, ok := target.(*AutomationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// newError builds an AutomationError
func newError(kind ErrorKind, state fmt.Stringer, detail string, err error) *AutomationError {
	e := &AutomationError{Kind: kind, Detail: detail, Err: err}
	if state != nil {
		e.State = state.String()
	}
	return e
}

// KindOf returns the kind of a typed error, or "" for untyped errors
func KindOf(err error) ErrorKind {
	var ae *AutomationError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsTimeout reports whether err is one of the bounded-wait failures
func IsTimeout(err error) bool {
	return errors.Is(err, ErrChallengeTimeout) || errors.Is(err, ErrExportTimeout)
}

// IsLoginFailure reports whether err means the portal refused or never completed the login
func IsLoginFailure(err error) bool {
	switch KindOf(err) {
	case KindCodeUnavailable, KindValidationRejected, KindInputNotFound, KindElementNotFound:
		return true
	}
	return false
}
