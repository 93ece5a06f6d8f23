package config

import (
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"

	"github.com/haorendashu/catindex/src/index"
	"github.com/haorendashu/catindex/src/logging"
)

// ValidateConfig validates a configuration and returns an error if invalid.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	if cfg.StoreConfig.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if len(cfg.IndexConfig.Enabled) == 0 {
		return fmt.Errorf("index.enabled must list at least one index")
	}
	known := index.Names()
	for _, name := range cfg.IndexConfig.Enabled {
		if !slices.Contains(known, name) {
			return fmt.Errorf("index.enabled contains unknown index %s", name)
		}
	}
	if cfg.IndexConfig.CheckpointEvery < 0 {
		return fmt.Errorf("index.checkpoint_every must be >= 0")
	}

	if cfg.ImportConfig.TreeFile == "" {
		return fmt.Errorf("import.tree_file is required")
	}
	if _, err := cron.ParseStandard(cfg.ImportConfig.RefreshCron); err != nil {
		return fmt.Errorf("import.refresh_cron is invalid: %w", err)
	}
	if cfg.ImportConfig.RecurrenceWindowDays <= 0 {
		return fmt.Errorf("import.recurrence_window_days must be > 0")
	}
	if cfg.ImportConfig.MaxOccurrences <= 0 {
		return fmt.Errorf("import.max_occurrences must be > 0")
	}
	if cfg.ImportConfig.MaxOccurrences > 100000 {
		return fmt.Errorf("import.max_occurrences must be <= 100000 (memory constraint)")
	}

	if _, err := logging.ParseLevel(cfg.LogConfig.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if cfg.MetricsConfig.Port < 0 || cfg.MetricsConfig.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 0 and 65535")
	}

	return nil
}
