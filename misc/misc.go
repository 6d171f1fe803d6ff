// Package misc keeps program identification helpers in one place.
package misc

import (
	"runtime/debug"
	"strings"
)

const appName = "folio"

// GetAppName returns short program name used in logs, temp files and reports.
func GetAppName() string {
	return appName
}

// GetVersion returns module version recorded by the build system.
func GetVersion() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok || bi.Main.Version == "" || bi.Main.Version == "(devel)" {
		return "development"
	}
	return strings.TrimPrefix(bi.Main.Version, "v")
}

// GetGitHash returns VCS revision recorded by the build system.
func GetGitHash() string {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}
