package core

import "time"

// Environment Variables
const (
	EnvRedisURL  = "REDIS_URL"  // Redis connection URL for the shared node registry
	EnvNamespace = "NAMESPACE"  // Namespace for node registry key isolation
	EnvPort      = "PORT"       // HTTP server port
	EnvDevMode   = "DEV_MODE"   // Development mode flag
)

// Redis Registry Defaults
const (
	// DefaultRedisPrefix is the default key prefix for node registry entries in Redis.
	// Format: <prefix><namespace>:<node-id>
	DefaultRedisPrefix = "hydra:nodes:"

	// DefaultNodeTTL bounds how long a node's registration survives without a
	// refreshing health probe before the shared registry expires it.
	DefaultNodeTTL = 90 * time.Second
)
