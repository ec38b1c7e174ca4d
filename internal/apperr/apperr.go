// Package apperr defines the stable, machine-readable error vocabulary shared by
// connections, chunk sources, the rate limiter and the HTTP API.
package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeAPIKeyNotConfigured Code = "API_KEY_NOT_CONFIGURED"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeTranscriptionFailed Code = "TRANSCRIPTION_FAILED"
	CodeServerUnavailable   Code = "SERVER_UNAVAILABLE"
	CodeNetworkError        Code = "NETWORK_ERROR"
	CodeDeviceUnavailable   Code = "DEVICE_UNAVAILABLE"
	CodeFileDecodeError     Code = "FILE_DECODE_ERROR"
	CodeNotReady            Code = "NOT_READY"
)

// Error is a coded error. ProviderID is empty for session-scoped errors.
type Error struct {
	Code       Code
	Op         string
	ProviderID string
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.ProviderID != "" {
		prefix = fmt.Sprintf("%s:%s", e.Code, e.ProviderID)
	}
	if e.Op != "" {
		prefix = fmt.Sprintf("%s:%s", prefix, e.Op)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

// Wrap attaches a code to err. An err that already carries a code is returned as is.
func Wrap(code Code, op, message string, err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   err,
	}
}

// ForProvider returns a copy of e tagged with the provider id.
func (e *Error) ForProvider(providerID string) *Error {
	if e == nil {
		return nil
	}
	cp := *e
	cp.ProviderID = providerID
	return &cp
}

// CodeOf returns the code of the first coded error in the chain, or
// TRANSCRIPTION_FAILED when the chain carries none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Code
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return CodeRateLimitExceeded
	}
	return CodeTranscriptionFailed
}

// IsCode checks whether any error in the chain matches the provided code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// RateLimitError is returned on admission denial and carries back-off data.
type RateLimitError struct {
	Limit     int
	Remaining int
	ResetAtMs int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("[%s] rate limit of %d exceeded, resets at %d", CodeRateLimitExceeded, e.Limit, e.ResetAtMs)
}

// Notice is the externally visible shape of a provider-scoped error.
type Notice struct {
	ProviderID string `json:"providerId"`
	Code       Code   `json:"errorCode"`
	Message    string `json:"message"`
}

// NoticeOf converts err into a Notice for providerID.
func NoticeOf(providerID string, err error) Notice {
	n := Notice{ProviderID: providerID, Code: CodeOf(err)}
	var typed *Error
	if errors.As(err, &typed) {
		n.Message = typed.Message
		if typed.Cause != nil {
			n.Message = fmt.Sprintf("%s: %v", typed.Message, typed.Cause)
		}
		return n
	}
	if err != nil {
		n.Message = err.Error()
	}
	return n
}
