package apperr

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput is returned when a provided lookup key, subject domain or
// option fails validation.
// Use errors.Is(err, apperr.ErrInvalidInput) to detect validation failures
// uniformly across all packages.
var ErrInvalidInput = errors.New("invalid input")

// ErrEndOfResults is returned by a provider client when the provider reports
// that no further pages exist for the query. It marks normal termination of a
// harvest, not a failure.
var ErrEndOfResults = errors.New("end of results")

// ErrPageLimit is returned by a page-capped provider client when the requested
// page lies beyond the provider's maximum. The request is never sent over the
// wire; a harvest hitting this limit completes with the data gathered so far.
var ErrPageLimit = errors.New("provider page limit reached")

// ErrRateLimited is the target for rate-limit responses (HTTP 429).
// Use errors.Is(err, apperr.ErrRateLimited) to detect them and
// errors.As with *RateLimitError to read the provider's Retry-After hint.
var ErrRateLimited = errors.New("rate limited")

// ErrUnauthorized is returned when a provider rejects the API key (HTTP 401 or
// 403). It is fatal to the session; retrying cannot help.
var ErrUnauthorized = errors.New("unauthorized")

// ErrTransient is returned for request failures that are worth retrying:
// network errors, timeouts and server-side 5xx responses.
var ErrTransient = errors.New("transient request failure")

// ErrExportFailed is returned when an export aborts before writing the full
// result set. Callers must not publish the partial artifact.
var ErrExportFailed = errors.New("export failed")

// ErrSessionActive is returned when a harvest is requested while another
// session for the same lookup key, kind and provider is already running.
var ErrSessionActive = errors.New("session already active")

// ErrInvalidState is returned when a session operation does not apply to the
// session's current state, such as resuming a completed session.
var ErrInvalidState = errors.New("invalid session state")

// ErrNotFound is returned when a requested record or session does not exist.
var ErrNotFound = errors.New("not found")

// RateLimitError carries the wait the provider asked for alongside the
// ErrRateLimited sentinel.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }
