package session

import (
	"log/slog"
	"time"
)

// ManagerOption configures a Manager.
type ManagerOption func(*managerConfig)

// managerConfig holds manager configuration.
type managerConfig struct {
	// Delay between startup batches.
	cooldown time.Duration

	// Logger shared by the manager and its workers.
	logger *slog.Logger
}

// defaultManagerConfig returns the default manager configuration.
func defaultManagerConfig() managerConfig {
	return managerConfig{
		cooldown: 5 * time.Second,
		logger:   slog.Default(),
	}
}

// WithCooldown sets the delay applied between startup batches.
func WithCooldown(d time.Duration) ManagerOption {
	return func(c *managerConfig) { c.cooldown = d }
}

// WithLogger sets the logger used by the manager and its workers.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(c *managerConfig) { c.logger = logger }
}
