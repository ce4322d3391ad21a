package platform

import (
	"runtime"
	"strings"
	"testing"
)

func TestHost(t *testing.T) {
	tests := []struct {
		name      string
		supported []string
		want      bool
	}{
		{"empty accepts all", nil, true},
		{"current os listed", []string{"plan9", runtime.GOOS}, true},
		{"current os missing", []string{"plan9"}, runtime.GOOS == "plan9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewHost(tt.supported).IsSupported(); got != tt.want {
				t.Errorf("IsSupported() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessage(t *testing.T) {
	h := &Host{supported: []string{"darwin"}, goos: "linux", goarch: "arm64"}
	msg := Message(h)
	if !strings.Contains(msg, "darwin") || !strings.Contains(msg, "linux/arm64") {
		t.Errorf("Message() = %q", msg)
	}
}
