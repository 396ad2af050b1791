package flume

import (
	"errors"
	"fmt"
)

// Failure kinds. Match them with errors.Is; use errors.As with the stage
// error types to find out which stage failed.
var (
	ErrTransport        = errors.New("transport failure")
	ErrMalformedReply   = errors.New("malformed reply")
	ErrEmptyTokenList   = errors.New("empty token list")
	ErrProviderRejected = errors.New("provider rejected request")

	ErrMalformedToken = errors.New("malformed token")
	ErrDecodeFailure  = errors.New("claims decode failure")
	ErrInvalidJSON    = errors.New("claims are not valid json")
	ErrMissingClaim   = errors.New("missing claim")

	ErrNoReaderDevice  = errors.New("no reader device")
	ErrAmbiguousDevice = errors.New("ambiguous reader device")

	ErrInvalidWindow   = errors.New("invalid time window")
	ErrEmptyResult     = errors.New("empty result")
	ErrMalformedSample = errors.New("malformed sample")
)

// AuthError is returned by the token manager
type AuthError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *AuthError) Error() string { return formatStageError("auth", e.Kind, e.Detail, e.Err) }

func (e *AuthError) Unwrap() []error { return unwrapStageError(e.Kind, e.Err) }

// ClaimError is returned by the identity resolver
type ClaimError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *ClaimError) Error() string { return formatStageError("claims", e.Kind, e.Detail, e.Err) }

func (e *ClaimError) Unwrap() []error { return unwrapStageError(e.Kind, e.Err) }

// DeviceError is returned by the device resolver
type DeviceError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *DeviceError) Error() string { return formatStageError("device", e.Kind, e.Detail, e.Err) }

func (e *DeviceError) Unwrap() []error { return unwrapStageError(e.Kind, e.Err) }

// QueryError is returned by the usage query engine
type QueryError struct {
	Kind   error
	Detail string
	Err    error
}

func (e *QueryError) Error() string { return formatStageError("query", e.Kind, e.Detail, e.Err) }

func (e *QueryError) Unwrap() []error { return unwrapStageError(e.Kind, e.Err) }

// StatusError is a non-2xx HTTP reply
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.StatusCode, e.Body)
}

func formatStageError(stage string, kind error, detail string, err error) string {
	msg := stage + ": " + kind.Error()
	if detail != "" {
		msg += ": " + detail
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	return msg
}

func unwrapStageError(kind, err error) []error {
	if err == nil {
		return []error{kind}
	}
	return []error{kind, err}
}
