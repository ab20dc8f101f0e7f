// Package config provides configuration loading for factord.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/factord/internal/evidence"
	"github.com/fyrsmithlabs/factord/internal/match"
	"github.com/fyrsmithlabs/factord/internal/relationship"
)

// Config is the complete factord configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
	Storage StorageConfig `koanf:"storage"`
	Engine  EngineConfig  `koanf:"engine"`
	Events  EventsConfig  `koanf:"events"`
	Catalog CatalogConfig `koanf:"catalog"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8585".
	Addr string `koanf:"addr"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `koanf:"read_timeout"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`

	// OutputPaths are zap output sinks.
	OutputPaths []string `koanf:"output_paths"`
}

// StorageConfig configures the instance store and scope registry.
type StorageConfig struct {
	// Backend is "badger" or "memory".
	Backend string `koanf:"backend"`

	// DataDir is the Badger database directory.
	DataDir string `koanf:"data_dir"`

	// SyncWrites forces fsync on every Badger commit.
	SyncWrites bool `koanf:"sync_writes"`

	// RegistryPath is the scope registry JSON file. Empty keeps the
	// registry in memory only.
	RegistryPath string `koanf:"registry_path"`
}

// EngineConfig holds the resolution and synthesis parameters.
type EngineConfig struct {
	// PriorMean is the value sparse evidence is shrunk toward.
	PriorMean float64 `koanf:"prior_mean"`

	// Pseudocount is the prior's strength in tier-1-weight units.
	Pseudocount float64 `koanf:"pseudocount"`

	// ConfidenceCap bounds confidence absent explicit confirmation.
	ConfidenceCap float64 `koanf:"confidence_cap"`

	// ContestedHigh and ContestedLow bound the tier-qualified
	// disagreement spread that marks an instance contested.
	ContestedHigh float64 `koanf:"contested_high"`
	ContestedLow  float64 `koanf:"contested_low"`

	// Dampening is the generic-match share in (0, 1).
	Dampening float64 `koanf:"dampening"`

	// MinSiblings is the sibling count that triggers synthesis.
	MinSiblings int `koanf:"min_siblings"`

	// DivergenceThreshold is the value gap past which an organic parent
	// is folded into synthesis.
	DivergenceThreshold float64 `koanf:"divergence_threshold"`

	// Debounce is the deferred synthesis coalescing window.
	Debounce time.Duration `koanf:"debounce"`

	// Synchronous runs synthesis inline with each append instead of on
	// the background debounced scheduler. Deferred synthesis is the
	// default; the flag is an opt-out so omitting it cannot silently
	// disable the scheduler.
	Synchronous bool `koanf:"synchronous"`

	// DecayEnabled is reserved. Time-based evidence decay is not
	// implemented; setting it fails validation rather than silently
	// doing nothing.
	DecayEnabled bool `koanf:"decay_enabled"`
}

// EventsConfig configures event publication.
type EventsConfig struct {
	// Enabled turns on NATS publication.
	Enabled bool `koanf:"enabled"`

	// URL is the NATS server URL.
	URL string `koanf:"url"`
}

// CatalogConfig locates the factor catalog.
type CatalogConfig struct {
	// Path is the catalog YAML file.
	Path string `koanf:"path"`
}

// applyDefaults fills zero values with documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8585"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if len(cfg.Logging.OutputPaths) == 0 {
		cfg.Logging.OutputPaths = []string{"stdout"}
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "badger"
	}

	if cfg.Engine.PriorMean == 0 {
		cfg.Engine.PriorMean = evidence.DefaultPriorMean
	}
	if cfg.Engine.Pseudocount == 0 {
		cfg.Engine.Pseudocount = evidence.DefaultPseudocount
	}
	if cfg.Engine.ConfidenceCap == 0 {
		cfg.Engine.ConfidenceCap = evidence.DefaultConfidenceCap
	}
	if cfg.Engine.ContestedHigh == 0 {
		cfg.Engine.ContestedHigh = evidence.DefaultContestedHigh
	}
	if cfg.Engine.ContestedLow == 0 {
		cfg.Engine.ContestedLow = evidence.DefaultContestedLow
	}
	if cfg.Engine.Dampening == 0 {
		cfg.Engine.Dampening = match.DefaultDampening
	}
	if cfg.Engine.MinSiblings == 0 {
		cfg.Engine.MinSiblings = relationship.DefaultMinSiblings
	}
	if cfg.Engine.DivergenceThreshold == 0 {
		cfg.Engine.DivergenceThreshold = relationship.DefaultDivergenceThreshold
	}
	if cfg.Engine.Debounce == 0 {
		cfg.Engine.Debounce = relationship.DefaultDebounce
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = "nats://127.0.0.1:4222"
	}
}

// Validate checks the configuration for problems.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	switch c.Storage.Backend {
	case "memory":
	case "badger":
		if c.Storage.DataDir == "" {
			return fmt.Errorf("storage.data_dir is required for the badger backend")
		}
	default:
		return fmt.Errorf("storage.backend must be badger or memory, got %q", c.Storage.Backend)
	}

	if c.Engine.DecayEnabled {
		return fmt.Errorf("engine.decay_enabled is reserved and cannot be set")
	}
	if err := c.EvidenceConfig().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Engine.Dampening <= 0 || c.Engine.Dampening >= 1 {
		return fmt.Errorf("engine.dampening must be in (0, 1), got %v", c.Engine.Dampening)
	}
	if err := c.RelationshipConfig().Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}
	return nil
}

// EvidenceConfig returns the aggregation parameters.
func (c *Config) EvidenceConfig() evidence.Config {
	return evidence.Config{
		PriorMean:     c.Engine.PriorMean,
		Pseudocount:   c.Engine.Pseudocount,
		ConfidenceCap: c.Engine.ConfidenceCap,
		ContestedHigh: c.Engine.ContestedHigh,
		ContestedLow:  c.Engine.ContestedLow,
	}
}

// RelationshipConfig returns the synthesis parameters.
func (c *Config) RelationshipConfig() relationship.Config {
	return relationship.Config{
		MinSiblings:         c.Engine.MinSiblings,
		DivergenceThreshold: c.Engine.DivergenceThreshold,
		Debounce:            c.Engine.Debounce,
	}
}
