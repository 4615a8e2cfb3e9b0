package inference

import (
	"context"
	"errors"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// ErrNoStructuredOutput reports a completion that carried no tool call even
// though one was forced. The model output cannot be decoded, so the call is
// not worth retrying.
var ErrNoStructuredOutput = errors.New("inference: model returned no structured output")

// IsCredentialExpired reports whether the provider rejected our credentials.
// The gateway reacts by refreshing them and rebuilding the client once.
func IsCredentialExpired(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden
	}
	return false
}

// IsRetryable reports whether the failure is transient from the caller's
// point of view. Throttling, provider 5xx responses, transport failures and
// deadline hits qualify. Decode failures and client mistakes do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNoStructuredOutput) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
