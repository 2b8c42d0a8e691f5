package boltstore

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config defines settings for the bolt span store.
type Config struct {
	// Path is the bolt database file to open or create.
	Path string

	// SnapshotsEnabled turns on persistence of in-progress span snapshots.
	// Snapshots upsert by span identity, so repeated snapshots of the same
	// span overwrite each other and the completed record wins.
	SnapshotsEnabled bool

	// Retention bounds how long records are kept. Zero keeps them forever.
	Retention time.Duration

	// PruneSchedule is a cron expression for retention pruning, e.g.
	// "*/10 * * * *". Empty disables the background job; Prune can still be
	// called directly.
	PruneSchedule string
}

// Validate checks if the store configuration is usable.
func (cfg *Config) Validate() error {
	if cfg.Path == "" {
		return fmt.Errorf("path must be specified")
	}
	if cfg.Retention < 0 {
		return fmt.Errorf("retention must not be negative, got %s", cfg.Retention)
	}
	if cfg.PruneSchedule != "" {
		if cfg.Retention == 0 {
			return fmt.Errorf("prune_schedule requires a positive retention")
		}
		if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
			return fmt.Errorf("invalid prune_schedule: %w", err)
		}
	}
	return nil
}
