// Package version holds the build version of capsched.
package version

// Version is set at link time with -ldflags "-X github.com/determined-ai/capsched/version.Version=...".
var Version = "dev"
