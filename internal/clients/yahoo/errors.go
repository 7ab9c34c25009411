package yahoo

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a fetch failure for retry and cache decisions.
type ErrorKind int

const (
	// KindTransient covers network I/O errors and timeouts. Retryable.
	KindTransient ErrorKind = iota
	// KindRateLimited is HTTP 429. Retryable after a longer delay.
	KindRateLimited
	// KindServerError is HTTP 5xx. Retryable.
	KindServerError
	// KindBadRequest is a non-429 HTTP 4xx. Terminal.
	KindBadRequest
	// KindDelisted is the upstream "may be delisted" signal. Terminal;
	// the caller must mark the symbol in the cache.
	KindDelisted
	// KindNoData means the window produced zero bars. Terminal for the window.
	KindNoData
	// KindMalformed is a JSON parse failure or shape mismatch. Terminal.
	KindMalformed
	// KindTimeout marks a symbol whose wall-clock budget expired.
	KindTimeout
	// KindStorage is a local persistence failure (CSV write, full disk).
	// Terminal for the symbol; nothing upstream can fix it.
	KindStorage
)

// String returns the report label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "Transient"
	case KindRateLimited:
		return "RateLimited"
	case KindServerError:
		return "ServerError"
	case KindBadRequest:
		return "BadRequest"
	case KindDelisted:
		return "Delisted"
	case KindNoData:
		return "NoData"
	case KindMalformed:
		return "MalformedResponse"
	case KindTimeout:
		return "Timeout"
	case KindStorage:
		return "StorageError"
	default:
		return "Unknown"
	}
}

// FetchError is the typed failure carried from the client through the retry
// controller to the orchestrator.
type FetchError struct {
	Kind       ErrorKind
	Symbol     string
	Message    string
	StatusCode int           // HTTP status, when one was received
	RetryAfter time.Duration // server Retry-After hint on 429, if any
	Sample     string        // short body excerpt for malformed responses
	cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.cause
}

// Retryable reports whether the normal retry regime applies.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// Classify returns err as a *FetchError, wrapping unexpected error types as
// transient so a stray transport error never aborts a symbol prematurely.
func Classify(err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return &FetchError{Kind: KindTransient, Message: err.Error(), cause: err}
}

// KindOf is a convenience for callers that only branch on the kind.
func KindOf(err error) ErrorKind {
	return Classify(err).Kind
}
