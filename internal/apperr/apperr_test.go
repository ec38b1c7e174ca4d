package apperr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestWrapKeepsExistingCode(t *testing.T) {
	inner := New(CodeDeviceUnavailable, "recording.start", "pw-record missing")
	wrapped := Wrap(CodeTranscriptionFailed, "other", "ignored", fmt.Errorf("ctx: %w", inner))
	if wrapped.Code != CodeDeviceUnavailable {
		t.Fatalf("expected DEVICE_UNAVAILABLE, got %s", wrapped.Code)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(CodeNetworkError, "op", "msg", nil) != nil {
		t.Fatal("expected nil for nil cause")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), CodeTranscriptionFailed},
		{"coded", New(CodeNotReady, "submit", "not ready"), CodeNotReady},
		{"nested", fmt.Errorf("outer: %w", New(CodeNetworkError, "dial", "refused")), CodeNetworkError},
		{"rate limit", &RateLimitError{Limit: 2}, CodeRateLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(CodeServerUnavailable, "upload", "vendor returned 503", errors.New("status 503")).ForProvider("deepgram-batch")
	s := err.Error()
	for _, want := range []string{"SERVER_UNAVAILABLE", "deepgram-batch", "upload", "status 503"} {
		if !strings.Contains(s, want) {
			t.Errorf("error string %q missing %q", s, want)
		}
	}
	if !IsCode(err, CodeServerUnavailable) {
		t.Error("IsCode should match")
	}
}

func TestNoticeOf(t *testing.T) {
	n := NoticeOf("openai-whisper", New(CodeAPIKeyNotConfigured, "start", "OPENAI_API_KEY not set"))
	if n.ProviderID != "openai-whisper" || n.Code != CodeAPIKeyNotConfigured {
		t.Fatalf("unexpected notice: %+v", n)
	}
	if n.Message != "OPENAI_API_KEY not set" {
		t.Fatalf("unexpected message: %q", n.Message)
	}
}
