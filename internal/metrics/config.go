package metrics

import (
	"path/filepath"
	"time"

	"codeberg.org/mutker/itrack/internal/config"
	"codeberg.org/mutker/itrack/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm = 0o755
	backupSubdir   = "backups"

	// Batches kept across failed transactions before the oldest are dropped.
	maxPendingBatches = 1024
)

type Config struct {
	DBPath       string
	BackupDir    string
	BatchSize    int
	BatchTimeout time.Duration
	Enabled      bool
}

func DefaultConfig() Config {
	return Config{
		DBPath:       config.DefaultDBPath,
		BatchSize:    config.DefaultBatchSize,
		BatchTimeout: config.DefaultBatchTimeout,
		Enabled:      false, // Disabled by default
	}
}

// FromConfig maps the storage section of the application configuration.
func FromConfig(cfg config.StorageConfig) Config {
	return Config{
		DBPath:       cfg.DBPath,
		BackupDir:    cfg.BackupDir,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Enabled:      cfg.Enabled,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate storage settings if metrics is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch size must be positive")
	}
	if c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch timeout must not be negative")
	}
	return nil
}

func (c Config) backupDir() string {
	if c.BackupDir != "" {
		return c.BackupDir
	}
	return filepath.Join(filepath.Dir(c.DBPath), backupSubdir)
}
