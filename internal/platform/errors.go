package platform

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	// KindTransient covers timeouts, connection errors and platform 5xx.
	KindTransient ErrorKind = "transient"
	// KindRateLimited is a platform 429; retried like transient but worth
	// distinguishing in logs and metrics.
	KindRateLimited ErrorKind = "rate_limited"
	// KindContentRejected is a permanent content failure: invalid media,
	// policy rejection. Never retried.
	KindContentRejected ErrorKind = "content_rejected"
	// KindAuthRequired means the stored credentials cannot work without user
	// action. Never retried.
	KindAuthRequired ErrorKind = "auth_required"
	// KindNotFound means the referenced post no longer exists on the platform.
	KindNotFound ErrorKind = "not_found"
)

type PlatformError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

func (e *PlatformError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}

func NewError(kind ErrorKind, message string) *PlatformError {
	return &PlatformError{Kind: kind, Message: message}
}

func WrapError(kind ErrorKind, message string, err error) *PlatformError {
	return &PlatformError{Kind: kind, Message: message, Err: err}
}

// Classify guarantees every external-call failure lands in the taxonomy.
// Anything not already classified is treated as transient: network-level
// errors are retryable by default, and permanent failures must be claimed
// explicitly by the adapter that recognizes them.
func Classify(err error) *PlatformError {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe
	}
	return &PlatformError{Kind: KindTransient, Message: "unclassified platform failure", Err: err}
}

// kindForStatus maps an HTTP response code from a platform API to an error
// kind. Adapters override this for platform-specific rejection payloads.
func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuthRequired
	case code == http.StatusNotFound:
		return KindNotFound
	case code >= 500:
		return KindTransient
	case code >= 400:
		return KindContentRejected
	default:
		return KindTransient
	}
}
