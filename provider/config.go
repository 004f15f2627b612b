package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration: the provider set, the startup batch
// plan, and process-level settings. It is loaded once at startup and treated
// as immutable afterwards.
type Config struct {
	// Listen is the HTTP listen address (e.g. ":8080").
	Listen string `toml:"listen" yaml:"listen"`

	// StorageBase is the directory under which each provider gets its
	// isolated session-storage subdirectory.
	StorageBase string `toml:"storage_base" yaml:"storage_base"`

	// AutomatorCmd is the external automation command (argv) launched per
	// provider session. Empty means the operator must supply one via flags.
	AutomatorCmd []string `toml:"automator_cmd" yaml:"automator_cmd"`

	// Cooldown is the delay applied between startup batches.
	Cooldown Duration `toml:"cooldown" yaml:"cooldown"`

	// Providers lists the configured automation targets.
	Providers []ProviderConfig `toml:"providers" yaml:"providers"`

	// Batches groups provider IDs for staged startup. Providers in the
	// same batch are probed concurrently; batches run in sequence. If
	// empty, all providers form a single batch.
	Batches [][]string `toml:"batches" yaml:"batches"`
}

// ProviderConfig declares one provider in the config file.
type ProviderConfig struct {
	ID       string `toml:"id" yaml:"id"`
	Email    string `toml:"email" yaml:"email"`
	Password string `toml:"password" yaml:"password"`
}

// Duration wraps time.Duration so config files can use "30s" / "2m" forms
// in both TOML and YAML.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns a Config with sensible defaults. Providers must
// still be declared before use.
func DefaultConfig() Config {
	return Config{
		Listen:      ":8080",
		StorageBase: "sessions",
		Cooldown:    Duration(5 * time.Second),
	}
}

// Load reads a config file. The format is chosen by extension: .toml, or
// .yaml/.yml.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}

	return &cfg, nil
}

// LoadFromEnv overlays environment variables onto the config. Process-level
// variables use the PROMPTRELAY_ prefix; per-provider credentials use
// PROMPTRELAY_<ID>_EMAIL and PROMPTRELAY_<ID>_PASSWORD, with the ID
// uppercased and non-alphanumeric runes mapped to underscores. Environment
// values take precedence over file values.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("PROMPTRELAY_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PROMPTRELAY_STORAGE_BASE"); v != "" {
		c.StorageBase = v
	}
	if v := os.Getenv("PROMPTRELAY_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cooldown = Duration(d)
		}
	}

	for i := range c.Providers {
		key := envKey(c.Providers[i].ID)
		if v := os.Getenv("PROMPTRELAY_" + key + "_EMAIL"); v != "" {
			c.Providers[i].Email = v
		}
		if v := os.Getenv("PROMPTRELAY_" + key + "_PASSWORD"); v != "" {
			c.Providers[i].Password = v
		}
	}
}

// envKey maps a provider ID to its environment variable segment.
func envKey(id string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
	return strings.ToUpper(mapped)
}

// Validate checks the configuration for structural problems: missing or
// duplicate provider IDs, missing credentials, and batch members that do not
// reference a configured provider.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return ErrNoProviders
	}

	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.ID == "" {
			return fmt.Errorf("provider with empty id")
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateProvider, p.ID)
		}
		seen[p.ID] = true
		if p.Email == "" || p.Password == "" {
			return fmt.Errorf("provider %s: missing credentials", p.ID)
		}
	}

	batched := make(map[string]bool)
	for i, batch := range c.Batches {
		for _, id := range batch {
			if !seen[id] {
				return fmt.Errorf("batch %d: %w: %s", i, ErrUnknownProvider, id)
			}
			if batched[id] {
				return fmt.Errorf("batch %d: provider %s appears in more than one batch", i, id)
			}
			batched[id] = true
		}
	}

	if c.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0, got %v", c.Cooldown.Std())
	}

	return nil
}

// ProviderList materializes the immutable Provider set, assigning each its
// storage directory under StorageBase.
func (c *Config) ProviderList() []Provider {
	providers := make([]Provider, 0, len(c.Providers))
	for _, p := range c.Providers {
		providers = append(providers, Provider{
			ID: p.ID,
			Credentials: Credentials{
				Email:    p.Email,
				Password: p.Password,
			},
			StorageDir: filepath.Join(c.StorageBase, p.ID),
		})
	}
	return providers
}

// StartupBatches returns the configured batch plan. Providers not named in
// any batch are appended as a final batch so every provider is probed; if no
// batches are configured at all, every provider lands in one batch.
func (c *Config) StartupBatches() [][]string {
	batched := make(map[string]bool)
	var batches [][]string
	for _, batch := range c.Batches {
		batches = append(batches, append([]string(nil), batch...))
		for _, id := range batch {
			batched[id] = true
		}
	}

	var rest []string
	for _, p := range c.Providers {
		if !batched[p.ID] {
			rest = append(rest, p.ID)
		}
	}
	if len(rest) > 0 {
		batches = append(batches, rest)
	}
	return batches
}
