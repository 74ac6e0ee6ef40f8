package utils

import (
	"fmt"
	"runtime"
)

// Build metadata, set with -ldflags "-X" at release time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// BuildInfo describes the running objkit binary.
type BuildInfo struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	Date      string `json:"date" yaml:"date"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	Platform  string `json:"platform" yaml:"platform"`
}

// GetBuildInfo snapshots the build metadata and the runtime it runs on.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// GetVersionString is the one-line form printed by --version.
func GetVersionString() string {
	info := GetBuildInfo()
	return fmt.Sprintf("%s (commit: %s, built: %s, %s %s)", info.Version, info.Commit, info.Date, info.GoVersion, info.Platform)
}
