// Package platform reports whether the host can run the language model
// engine at all. The broker consults the gate before every engine call.
package platform

import (
	"fmt"
	"runtime"
	"slices"
	"strings"
)

// Gate reports host platform support.
type Gate interface {
	// IsSupported reports whether the engine can run on this host.
	IsSupported() bool

	// Version describes the host platform for availability reports.
	Version() string

	// Requirement describes the supported platforms, for error messages.
	Requirement() string
}

// Host gates on the operating system the broker was built for.
type Host struct {
	supported []string
	goos      string
	goarch    string
}

// NewHost returns a gate accepting the given GOOS values. An empty list
// accepts every platform.
func NewHost(supported []string) *Host {
	return &Host{supported: supported, goos: runtime.GOOS, goarch: runtime.GOARCH}
}

func (h *Host) IsSupported() bool {
	return len(h.supported) == 0 || slices.Contains(h.supported, h.goos)
}

func (h *Host) Version() string {
	return h.goos + "/" + h.goarch
}

func (h *Host) Requirement() string {
	if len(h.supported) == 0 {
		return "any platform"
	}
	return strings.Join(h.supported, ", ")
}

// Message returns the explanation reported when g is unsupported.
func Message(g Gate) string {
	return fmt.Sprintf("Local language models require %s. Current platform: %s", g.Requirement(), g.Version())
}
