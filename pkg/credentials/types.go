package credentials

import "time"

// File is the on-disk layout of credentials.toml.
type File struct {
	Version   int                   `toml:"version"`
	Providers map[string]Credential `toml:"providers"`
}

// Credential is what quarry keeps for one embedding provider.
type Credential struct {
	APIKey string `toml:"api_key"`

	// Target overrides embedding.target for this provider, for proxies and
	// OpenAI-compatible gateways. Empty keeps the configured target.
	Target string `toml:"target,omitempty"`

	UpdatedAt time.Time `toml:"updated_at"`
}

// Source reports where a resolved key came from.
type Source string

const (
	SourceNone Source = ""
	SourceEnv  Source = "env"
	SourceFile Source = "file"
)
