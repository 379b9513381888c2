// Package buildinfo carries version metadata stamped at link time.
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

// Set via -ldflags at release build time; the defaults identify a
// from-source development build.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var started = time.Now()

// Uptime reports how long this process has been running, truncated to
// whole seconds.
func Uptime() time.Duration {
	return time.Since(started).Truncate(time.Second)
}

// Fields returns the build and runtime metadata as a flat map, the
// shape the version subcommand and the health endpoint both render.
func Fields() map[string]string {
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

// String is the one-line banner logged at startup.
func String() string {
	return fmt.Sprintf("codewright %s (%s, %s)", Version, GitCommit, runtime.Version())
}
