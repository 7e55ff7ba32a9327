// Package version holds build metadata injected with -ldflags -X.
package version

var (
	Version   = "v0.0.0-dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Info formats the build metadata for `kotoba version` and /status.
func Info() string {
	return Version + " (" + GitCommit + ", built " + BuildTime + ")"
}
