// Package version reports the queenflow release.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var embedded string

// Override replaces the embedded version when set at build time:
//
//	go build -ldflags "-X github.com/ShayCichocki/queenflow/internal/version.Override=v1.2.3"
var Override string

// Get returns the current version without a leading "v".
func Get() string {
	if v := strings.TrimSpace(Override); v != "" {
		return strings.TrimPrefix(v, "v")
	}
	return strings.TrimSpace(embedded)
}

// UserAgent is the User-Agent header sent by the API client.
func UserAgent() string {
	return "queenflow/" + Get()
}
