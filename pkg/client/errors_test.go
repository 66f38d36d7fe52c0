package client

import (
	"errors"
	"strings"
	"testing"
)

func TestProviderError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ProviderError
		contains []string
	}{
		{
			name:     "with name",
			err:      &ProviderError{StatusCode: 422, ErrorClass: ErrorClassClient, Name: "validation_error", Message: "invalid to"},
			contains: []string{"client", "422", "validation_error: invalid to"},
		},
		{
			name:     "with wrapped error",
			err:      &ProviderError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: errors.New("connection refused")},
			contains: []string{"network", "request failed", "connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.contains {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, missing %q", msg, want)
				}
			}
		})
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &ProviderError{ErrorClass: ErrorClassNetwork, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped error")
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassClient, false},
		{ErrorClassServer, true},
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClass("unknown"), false},
	}
	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}
