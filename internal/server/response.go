package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/leonardotrapani/sttbench/internal/apperr"
	"github.com/leonardotrapani/sttbench/internal/ratelimit"
)

const (
	headerLimit     = "X-RateLimit-Limit"
	headerRemaining = "X-RateLimit-Remaining"
	headerReset     = "X-RateLimit-Reset"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
}

// RateLimitResponse adds back-off data to a 429 body.
type RateLimitResponse struct {
	ErrorResponse
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	ResetAtMs int64 `json:"resetAtMs"`
}

func statusFor(code apperr.Code) int {
	switch code {
	case apperr.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case apperr.CodeFileDecodeError, apperr.CodeAPIKeyNotConfigured:
		return http.StatusBadRequest
	case apperr.CodeNotReady:
		return http.StatusConflict
	case apperr.CodeServerUnavailable, apperr.CodeDeviceUnavailable:
		return http.StatusServiceUnavailable
	case apperr.CodeNetworkError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with the status its code maps to.
func respondError(c *gin.Context, err error) {
	var rl *apperr.RateLimitError
	if errors.As(err, &rl) {
		respondRateLimited(c, rl)
		return
	}
	_ = c.Error(err)
	code := apperr.CodeOf(err)
	c.AbortWithStatusJSON(statusFor(code), ErrorResponse{Code: code, Message: messageOf(err)})
}

// respondBadRequest rejects malformed input with NOT_READY.
func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: apperr.CodeNotReady, Message: message})
}

func respondRateLimited(c *gin.Context, rl *apperr.RateLimitError) {
	setRateLimitHeaders(c, ratelimit.Result{Limit: rl.Limit, Remaining: rl.Remaining, ResetAtMs: rl.ResetAtMs})
	c.AbortWithStatusJSON(http.StatusTooManyRequests, RateLimitResponse{
		ErrorResponse: ErrorResponse{Code: apperr.CodeRateLimitExceeded, Message: "rate limit exceeded, retry after reset"},
		Limit:         rl.Limit,
		Remaining:     rl.Remaining,
		ResetAtMs:     rl.ResetAtMs,
	})
}

func setRateLimitHeaders(c *gin.Context, res ratelimit.Result) {
	c.Header(headerLimit, strconv.Itoa(res.Limit))
	c.Header(headerRemaining, strconv.Itoa(res.Remaining))
	c.Header(headerReset, strconv.FormatInt(res.ResetAtMs, 10))
}

func messageOf(err error) string {
	var typed *apperr.Error
	if errors.As(err, &typed) {
		return typed.Message
	}
	return err.Error()
}
