// Package version resolves the build identity the CLI reports: an explicit
// version injected at build time, falling back to the VCS revision recorded
// in the module build info.
package version

import "runtime/debug"

// Version is set at build time:
//
//	go build -ldflags "-X github.com/fxcircus/tapefour/version.Version=$(git describe --dirty)"
var Version string

// Hash is the short VCS revision of the build, suffixed with -dirty when the
// working tree had uncommitted changes. Empty when built outside a checkout.
var Hash = func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var revision string
	var modified bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if revision == "" {
		return ""
	}
	if len(revision) > 7 {
		revision = revision[:7]
	}
	if modified {
		return revision + "-dirty"
	}
	return revision
}()

// VersionOrHash prefers the injected Version and falls back to Hash.
var VersionOrHash = func() string {
	if Version != "" {
		return Version
	}
	return Hash
}()
