// Package version reports the build identity of the running binary.
package version

import (
	"runtime/debug"
	"sync"
)

// AppName is used in version strings, user agents, and chat messages.
const AppName = "spacwatch"

// commit may be injected at build time for container images without .git:
//
//	-ldflags "-X github.com/spacwatch/spacwatch/pkg/version.commit=<sha>"
var commit string

var resolveCommit = sync.OnceValue(func() string {
	rev := commit
	if rev == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					rev = s.Value
				}
			}
		}
	}
	if rev == "" {
		return "dev"
	}
	if len(rev) > 8 {
		rev = rev[:8]
	}
	return rev
})

// Commit returns the short revision of this build, or "dev" when no VCS
// metadata is available (go test, non-git builds).
func Commit() string { return resolveCommit() }

// Full returns "spacwatch/<commit>".
func Full() string { return AppName + "/" + Commit() }
