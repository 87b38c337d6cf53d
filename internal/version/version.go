// Package version reports the taskweave release.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var embedded string

// Override replaces the embedded version when set at link time:
//
//	go build -ldflags "-X github.com/ShayCichocki/taskweave/internal/version.Override=1.2.3"
var Override string

// Get returns the release version with surrounding whitespace trimmed.
func Get() string {
	if v := strings.TrimSpace(Override); v != "" {
		return v
	}
	return strings.TrimSpace(embedded)
}
