package external

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// StatusError is a non-2xx HTTP response from an external endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Status, body)
}

// IsRetryable reports whether an error is worth retrying: rate limits,
// server-side failures and network timeouts.
func IsRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status == http.StatusTooManyRequests || statusErr.Status >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
