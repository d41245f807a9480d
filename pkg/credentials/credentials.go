// Package credentials stores embedding provider API keys in
// credentials.toml inside the .quarry/ directory.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/quarry/pkg/dotdir"
)

const (
	credentialsFile = "credentials.toml"

	currentVersion = 1
)

// keyedProviders maps each provider that takes an API key to the
// environment variable that overrides the stored one.
var keyedProviders = map[string]string{
	"openai": "OPENAI_API_KEY",
}

// Manager reads and writes credentials.toml.
type Manager struct {
	path string
	now  func() time.Time
}

// NewManager resolves credentials.toml under override, or under the
// standard .quarry/ directory when override is empty.
func NewManager(override string) (*Manager, error) {
	path, err := dotdir.NewManager().Path(override, credentialsFile)
	if err != nil {
		return nil, err
	}
	return &Manager{path: path, now: time.Now}, nil
}

// Path is the resolved location of credentials.toml.
func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) load() (*File, error) {
	f := &File{Version: currentVersion}

	data, err := os.ReadFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading credentials: %w", err)
	default:
		if err := toml.Unmarshal(data, f); err != nil {
			return nil, fmt.Errorf("parsing credentials %s: %w", m.path, err)
		}
	}

	if f.Providers == nil {
		f.Providers = map[string]Credential{}
	}
	return f, nil
}

// update applies fn to the current file contents and writes the result
// back with 0600 permissions.
func (m *Manager) update(fn func(*File)) error {
	f, err := m.load()
	if err != nil {
		return err
	}
	fn(f)
	f.Version = currentVersion

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(f); err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	if err := os.WriteFile(m.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return nil
}

// Store saves cred for provider, replacing any previous entry.
func (m *Manager) Store(provider string, cred Credential) error {
	if strings.TrimSpace(cred.APIKey) == "" {
		return errors.New("API key cannot be empty")
	}
	cred.UpdatedAt = m.now().UTC().Truncate(time.Second)
	return m.update(func(f *File) {
		f.Providers[provider] = cred
	})
}

// Remove deletes the stored entry for provider. Removing a provider with
// nothing stored is not an error.
func (m *Manager) Remove(provider string) error {
	return m.update(func(f *File) {
		delete(f.Providers, provider)
	})
}

// Stored returns the file entry for provider and whether one exists.
func (m *Manager) Stored(provider string) (Credential, bool, error) {
	f, err := m.load()
	if err != nil {
		return Credential{}, false, err
	}
	cred, ok := f.Providers[provider]
	return cred, ok, nil
}

// Lookup resolves the credential serve should use for provider. The
// provider's environment variable replaces a stored key but keeps the
// stored target.
func (m *Manager) Lookup(provider string) (Credential, Source, error) {
	cred, ok, err := m.Stored(provider)
	if err != nil {
		return Credential{}, SourceNone, err
	}

	if env := EnvVar(provider); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			cred.APIKey = v
			return cred, SourceEnv, nil
		}
	}

	if !ok || cred.APIKey == "" {
		return Credential{}, SourceNone, nil
	}
	return cred, SourceFile, nil
}

// Providers lists providers with a stored entry, sorted by name.
func (m *Manager) Providers() ([]string, error) {
	f, err := m.load()
	if err != nil {
		return nil, err
	}
	return slices.Sorted(maps.Keys(f.Providers)), nil
}

// EnvVar names the environment variable that overrides provider's key, or
// returns "" for keyless and unknown providers.
func EnvVar(provider string) string {
	return keyedProviders[provider]
}

// SupportedProviders lists the embedding providers that take API keys.
func SupportedProviders() []string {
	return slices.Sorted(maps.Keys(keyedProviders))
}

// IsSupportedProvider reports whether provider takes an API key.
func IsSupportedProvider(provider string) bool {
	_, ok := keyedProviders[provider]
	return ok
}

// Mask shortens key for display, keeping only its last four characters.
func Mask(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return "…" + key[len(key)-4:]
}
