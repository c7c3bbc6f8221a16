package hydra

// Version information for the Hydra orchestration layer.
const (
	// Version is the current Hydra version.
	Version = "development"

	// APIVersion is the current HTTP API version served by serve-api.
	APIVersion = "v1alpha1"

	// BuildDate is set during build time via -ldflags.
	BuildDate = "development"

	// GitCommit is set during build time via -ldflags.
	GitCommit = "unknown"
)
