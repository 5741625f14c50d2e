package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a retrieval failed. The kind decides whether a retry is worthwhile.
type Kind int

const (
	// KindNetwork covers unreachable hosts, resets and timeouts. Transient.
	KindNetwork Kind = iota
	// KindClient is a 4xx answer from the service. Surfaced immediately.
	KindClient
	// KindServer is a 5xx answer from the service. Transient.
	KindServer
	// KindValidation is a response whose shape could not be decoded or failed validation.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindClient:
		return "client"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Failure is the error returned by every Fetcher operation.
type Failure struct {
	Kind     Kind
	Endpoint string
	// Status is the HTTP status code, zero when no response was received.
	Status int
	// Attempts is the number of requests issued before giving up.
	Attempts int
	Err      error
}

func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("%s failure on %s (status %d, %d attempts): %v", f.Kind, f.Endpoint, f.Status, f.Attempts, f.Err)
	}
	return fmt.Sprintf("%s failure on %s (%d attempts): %v", f.Kind, f.Endpoint, f.Attempts, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Transient reports whether the failure may succeed on a later attempt.
func (f *Failure) Transient() bool {
	return f.Kind == KindNetwork || f.Kind == KindServer
}

// IsTransient reports whether err carries a transient Failure.
func IsTransient(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Transient()
}

// KindOf returns the Kind of the Failure wrapped by err.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

// kindForStatus maps a non-2xx status code onto a failure Kind.
func kindForStatus(status int) Kind {
	if status >= http.StatusInternalServerError {
		return KindServer
	}
	return KindClient
}

// NewValidationFailure wraps err as a KindValidation failure for endpoint.
func NewValidationFailure(endpoint string, err error) *Failure {
	return &Failure{Kind: KindValidation, Endpoint: endpoint, Err: err}
}
