// Package buildinfo exposes the version stamped into the binary with
//
//	-ldflags "-X github.com/stewardhq/steward/internal/buildinfo.Version=..."
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Uptime is the time since the process started, to the second.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// Info is served on /v1/version and printed by "steward -o json version".
func Info() map[string]string {
	return map[string]string{
		"version":    Version,
		"git_commit": GitCommit,
		"build_time": BuildTime,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"uptime":     Uptime().String(),
	}
}

func String() string {
	return fmt.Sprintf("steward %s (%s) built %s", Version, GitCommit, BuildTime)
}

// UserAgent is sent on every outbound HTTP request.
func UserAgent() string {
	return "steward/" + Version + " (+" + runtime.GOOS + "/" + runtime.GOARCH + ")"
}
