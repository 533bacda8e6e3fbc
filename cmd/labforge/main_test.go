package main

import (
	"testing"

	"github.com/rs/zerolog"
)

// TestLogLevel tests the LOG_LEVEL mapping
func TestLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"trace", zerolog.TraceLevel},
		{"loud", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := logLevel(tt.in); got != tt.want {
			t.Errorf("logLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
