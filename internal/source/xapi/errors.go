package xapi

import (
	"fmt"
	"time"
)

// ThrottleError signals the backend rejected a request for quota reasons.
// ResetAt is the quota window end when the response carried it; the zero
// time means the caller should fall back to a fixed sleep.
type ThrottleError struct {
	Backend string
	ResetAt time.Time
}

func (e *ThrottleError) Error() string {
	if e.ResetAt.IsZero() {
		return fmt.Sprintf("%s: throttled, no reset metadata", e.Backend)
	}
	return fmt.Sprintf("%s: throttled until %s", e.Backend, e.ResetAt.UTC().Format(time.RFC3339))
}

// AuthError signals a hard authentication or authorization failure. It is
// never retried.
type AuthError struct {
	Backend string
	Status  int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed, status %d", e.Backend, e.Status)
}

// statusError covers remaining non-2xx responses.
type statusError struct {
	Backend string
	Status  int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Backend, e.Status)
}
