package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/leonardotrapani/sttbench/internal/apperr"
)

// FatalError marks an error as non-recoverable for the provider: restarting
// the connection cannot fix it.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	if e == nil || e.Err == nil {
		return "fatal transcription error"
	}
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func NewFatalError(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

var errHandshakeAborted = errors.New("handshake aborted by stop")

func notReady(providerID string, s State) error {
	return apperr.New(apperr.CodeNotReady, "submit", fmt.Sprintf("connection is %s", s)).ForProvider(providerID)
}

func missingKey(providerID, env string) error {
	msg := "api key not configured"
	if env != "" {
		msg = fmt.Sprintf("api key not configured, set %s or providers.%s.api_key", env, providerID)
	}
	return NewFatalError(apperr.New(apperr.CodeAPIKeyNotConfigured, "start", msg).ForProvider(providerID))
}

func configError(providerID, msg string) error {
	return NewFatalError(apperr.New(apperr.CodeTranscriptionFailed, "start", msg).ForProvider(providerID))
}

// statusError classifies a non-2xx vendor response.
func statusError(op string, status int, body []byte) error {
	msg := fmt.Sprintf("status %d: %s", status, truncate(string(body), 200))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewFatalError(apperr.New(apperr.CodeAPIKeyNotConfigured, op, msg))
	case status == http.StatusTooManyRequests:
		return apperr.New(apperr.CodeRateLimitExceeded, op, msg)
	case status >= 500:
		return apperr.New(apperr.CodeServerUnavailable, op, msg)
	default:
		return apperr.New(apperr.CodeTranscriptionFailed, op, msg)
	}
}

// requestError classifies a failed request, unwrapping go-openai's error types.
func requestError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return statusError(op, apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return statusError(op, reqErr.HTTPStatusCode, reqErr.Body)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.CodeServerUnavailable, op, "request timed out", err)
	}
	return apperr.Wrap(apperr.CodeNetworkError, op, "request failed", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
