package version

import "runtime/debug"

var version = "dev"

// Get returns the build version, falling back to module build info.
func Get() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return version
}
