package config

import "context"

// Loader is the interface for a format-specific configuration loader.
type Loader interface {
	// Load reads every description found under paths (files or
	// directories) and merges them into one Model. Nodes keep the order in
	// which they were declared, files being visited in lexical order.
	Load(ctx context.Context, paths ...string) (*Model, error)
}
