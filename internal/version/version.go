package version

// Version is the semantic version of the build. Overridden at link time
// via -ldflags "-X .../internal/version.Version=x.y.z".
var Version = "0.4.0-dev"
