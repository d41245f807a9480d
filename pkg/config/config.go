package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/quarry/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

// Configer reads and writes config.toml in the resolved .quarry/ directory.
type Configer struct {
	path string
}

func NewConfiger(override string) (*Configer, error) {
	path, err := dotdir.NewManager().Path(override, configFile)
	if err != nil {
		return nil, err
	}
	return &Configer{path: path}, nil
}

// Path is the location of config.toml. The file may not exist yet.
func (c *Configer) Path() string {
	return c.path
}

// Exists reports whether config.toml has been written.
func (c *Configer) Exists() bool {
	_, err := os.Stat(c.path)
	return err == nil
}

// ValidConfigKeys returns the list of all supported configuration key names
// in the order they appear in config.toml.
func ValidConfigKeys() []string {
	ordered := []string{
		"storage.sqlite_path",
		"storage.postgres_dsn",
		"api.listen",
		"client.api_target",
		"vector_store.provider",
		"vector_store.target",
		"vector_store.collection",
		"embedding.provider",
		"embedding.target",
		"embedding.model",
		"embedding.dimensions",
		"embedding.api_key",
		"embedding.timeout",
		"embedding.max_concurrent",
		"embedding.requests_per_second",
		"embedding.max_retries",
		"chunking.max_chunk_size",
		"chunking.overlap",
		"vectorize.workers",
		"vectorize.queue_size",
		"retrieval.default_limit",
		"retrieval.default_threshold",
		"events.provider",
		"events.topic",
	}

	result := make([]string, 0, len(configKeys))
	seen := make(map[string]bool, len(configKeys))
	for _, k := range ordered {
		if _, ok := configKeys[k]; ok {
			result = append(result, k)
			seen[k] = true
		}
	}

	// Keys missing from the ordered list are appended sorted.
	var rest []string
	for k := range configKeys {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)

	return append(result, rest...)
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

// LoadConfig loads the configuration from config.toml in the target .quarry/ directory.
// If the file does not exist, returns NewDefaultConfig() so callers always receive
// a fully-populated Config with sane defaults. Fields explicitly set in the file
// override the defaults.
func (c *Configer) LoadConfig() (*Config, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewDefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg, err := ParseConfigTOML(data)
	if err != nil {
		return nil, err
	}

	// Merge in defaults: fill in any zero-value fields from the loaded config
	applyDefaults(cfg)

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	d := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = d.Version
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = d.API.Listen
	}
	if cfg.Client.APITarget == "" {
		cfg.Client.APITarget = d.Client.APITarget
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = d.VectorStore.Provider
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = d.VectorStore.Collection
	}

	e := &cfg.Embedding
	if e.Provider == "" {
		e.Provider = d.Embedding.Provider
	}
	if e.Target == "" {
		e.Target = d.Embedding.Target
	}
	if e.Model == "" {
		e.Model = d.Embedding.Model
	}
	if e.Dimensions == 0 {
		e.Dimensions = d.Embedding.Dimensions
	}
	if e.Timeout == "" {
		e.Timeout = d.Embedding.Timeout
	}
	if e.MaxConcurrent == 0 {
		e.MaxConcurrent = d.Embedding.MaxConcurrent
	}
	if e.RequestsPerSecond == 0 {
		e.RequestsPerSecond = d.Embedding.RequestsPerSecond
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = d.Embedding.MaxRetries
	}

	// Overlap may legitimately be zero, so it is only defaulted together
	// with the chunk size.
	if cfg.Chunking.MaxChunkSize == 0 {
		cfg.Chunking = d.Chunking
	}

	if cfg.Vectorize.Workers == 0 {
		cfg.Vectorize.Workers = d.Vectorize.Workers
	}
	if cfg.Vectorize.QueueSize == 0 {
		cfg.Vectorize.QueueSize = d.Vectorize.QueueSize
	}

	if cfg.Retrieval.DefaultLimit == 0 {
		cfg.Retrieval.DefaultLimit = d.Retrieval.DefaultLimit
	}
	if cfg.Retrieval.DefaultThreshold == 0 {
		cfg.Retrieval.DefaultThreshold = d.Retrieval.DefaultThreshold
	}

	if cfg.Events.Provider == "" {
		cfg.Events.Provider = d.Events.Provider
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = d.Events.Topic
	}
}

// SaveConfig persists the configuration to config.toml in the target .quarry/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// UnsetConfigValue restores key to its default and saves the file.
func (c *Configer) UnsetConfigValue(key string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, info.get(NewDefaultConfig())); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// PresetConfig returns a Config with sane defaults for the named embedding
// provider preset. Supported presets: "ollama", "openai".
// Returns an error if the preset name is not recognized.
func PresetConfig(name string) (*Config, error) {
	cfg := NewDefaultConfig()

	switch strings.ToLower(name) {
	case "ollama":
		return cfg, nil

	case "openai":
		cfg.Embedding.Provider = "openai"
		cfg.Embedding.Target = "https://api.openai.com"
		cfg.Embedding.Model = "text-embedding-3-small"
		cfg.Embedding.Dimensions = 1536
		return cfg, nil

	default:
		return nil, fmt.Errorf("unknown preset: %q (available: %s)", name, strings.Join(ValidPresetNames(), ", "))
	}
}

// ValidPresetNames returns the list of recognized preset names.
func ValidPresetNames() []string {
	return []string{"ollama", "openai"}
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
