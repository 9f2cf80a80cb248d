package utils

import (
	"strings"
	"testing"
	"time"
)

func TestFormatElapsed(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 min 0 sec"},
		{59 * time.Second, "0 min 59 sec"},
		{65*time.Second + 400*time.Millisecond, "1 min 5 sec"},
		{61 * time.Minute, "61 min 0 sec"},
		{-time.Second, "0 min 0 sec"},
	}

	for _, tt := range tests {
		if got := FormatElapsed(tt.in); got != tt.want {
			t.Errorf("FormatElapsed(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeCommandCapturesStderr(t *testing.T) {
	cmd := NewSafeCommand("sh", "-c", "echo boom 1>&2")
	if err := cmd.Run(); err != nil {
		t.Skipf("sh not available: %v", err)
	}
	if !strings.Contains(cmd.Logs(), "boom") {
		t.Errorf("Expected stderr to be captured, got %q", cmd.Logs())
	}

	var nilCmd *SafeCommand
	if nilCmd.Logs() != "" {
		t.Error("nil SafeCommand should have no logs")
	}
}
