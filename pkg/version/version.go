// Package version carries the build metadata reported by the info endpoint,
// the daemon startup log and relayctl.
package version

import (
	"fmt"
	"runtime"
	"time"
)

// ServiceName identifies the relay in user agents and audit events.
const ServiceName = "smtp-relay"

var (
	// Version is the semantic version, injected at build time via -ldflags
	Version = "dev"
	// GitCommit is the git commit hash, injected at build time
	GitCommit = "unknown"
	// BuildDate is the build timestamp, injected at build time
	BuildDate = "unknown"
	// GoVersion is the Go compiler version
	GoVersion = runtime.Version()
	// Platform is the OS/Arch
	Platform = runtime.GOOS + "/" + runtime.GOARCH
)

// BuildInfo contains metadata about the build
type BuildInfo struct {
	Service   string    `json:"service" yaml:"service"`
	Version   string    `json:"version" yaml:"version"`
	GitCommit string    `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string    `json:"buildDate" yaml:"buildDate"`
	GoVersion string    `json:"goVersion" yaml:"goVersion"`
	Platform  string    `json:"platform" yaml:"platform"`
	BuildTime time.Time `json:"buildTime,omitempty" yaml:"buildTime,omitempty"`
}

// GetBuildInfo returns build metadata
func GetBuildInfo() BuildInfo {
	info := BuildInfo{
		Service:   ServiceName,
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: GoVersion,
		Platform:  Platform,
	}

	if t, err := time.Parse(time.RFC3339, BuildDate); err == nil {
		info.BuildTime = t
	}

	return info
}

// UserAgent is sent by the relay's outbound HTTP clients (webhook audit sink,
// relayctl).
func UserAgent(component string) string {
	if component == "" {
		return fmt.Sprintf("%s/%s (%s)", ServiceName, Version, Platform)
	}
	return fmt.Sprintf("%s-%s/%s (%s)", ServiceName, component, Version, Platform)
}

// LogFields returns key/value pairs for structured startup logs.
func LogFields() []interface{} {
	return []interface{}{"version", Version, "commit", GitCommit, "buildDate", BuildDate, "go", GoVersion}
}
