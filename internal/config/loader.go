package config

import "context"

// Loader provides configuration loading capabilities. It abstracts the
// source of configuration so deployments can swap files, environment
// variables, or a remote configuration service without touching callers.
type Loader interface {
	// Load retrieves, parses and validates the configuration from the
	// underlying source.
	Load(ctx context.Context) (*Config, error)
}
