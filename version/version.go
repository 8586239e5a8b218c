// Package version reports the relay build version.
package version

import "runtime/debug"

// Version is set at build time:
//
//	go build -ldflags "-X github.com/onnwee/irc-relay/version.Version=1.2.3"
var Version = ""

// Fallback is reported when no version information is available.
const Fallback = "0.0.0.0"

// String returns Version, else the main module version from build info, else Fallback.
func String() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if v := info.Main.Version; v != "" && v != "(devel)" {
			return v
		}
	}
	return Fallback
}
