package jules

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for session outcomes.
var (
	// ErrSessionFailed means the agent reported a terminal failure.
	ErrSessionFailed = errors.New("agent session failed")

	// ErrTimeout means the session did not finish within the wait budget.
	// The session may still be running remotely and can be waited on again.
	ErrTimeout = errors.New("timed out waiting for agent session")

	// ErrNoSource means no repository source is connected to the agent.
	ErrNoSource = errors.New("no agent sources found")

	// ErrMissingAPIKey means the client was built without credentials.
	ErrMissingAPIKey = errors.New("JULES_API_KEY is not set")
)

// APIError is a non-2xx response or transport failure.
type APIError struct {
	StatusCode int
	Message    string
	Retryable  bool
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("jules api: %s", e.Message)
	}
	return fmt.Sprintf("jules api (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient API error.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable
}

func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
