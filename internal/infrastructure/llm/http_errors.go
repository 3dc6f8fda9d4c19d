package llm

import (
	"fmt"
	"net/http"

	"github.com/saorsa-labs/fae/pkg/errors"
)

// ClassifyHTTPStatus maps a provider HTTP response onto the adapter
// error taxonomy: 401/403 never retry, 429/5xx are provider-side and
// retryable, everything else is a plain request failure (also
// retryable, since transient proxy/network hiccups dominate that
// bucket in practice).
func ClassifyHTTPStatus(status int, body string) error {
	msg := fmt.Sprintf("provider returned HTTP %d: %s", status, truncate(body, 300))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errors.New(errors.CodeAuthFailed, msg)
	case status == http.StatusTooManyRequests || status >= 500:
		return errors.New(errors.CodeProviderError, msg)
	default:
		return errors.New(errors.CodeRequestFailed, msg)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
