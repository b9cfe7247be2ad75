package build

import "runtime"

// Set through -ldflags at release time.
var (
	ReleaseVersion = "dev"
	GitCommit      = "unknown"
	BuildTime      = "unknown"
	GoVersion      = runtime.Version()
)
