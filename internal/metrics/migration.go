package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/logger"
)

const (
	backupPattern   = "metrics_v*_*.db"
	backupTimestamp = "20060102T150405Z"
	maxBackups      = 5
)

// schemaStep is attached to schema errors to say which step failed.
type schemaStep struct {
	Step   string `json:"step"`
	Target string `json:"target,omitempty"`
	Cause  string `json:"cause"`
}

func stepFailed(code errors.ErrorCode, step, target string, err error) error {
	return errors.New().WithData(code, schemaStep{Step: step, Target: target, Cause: err.Error()})
}

// EnsureSchema brings the database to SchemaVersion. An empty database is
// initialised. A database at any other version is copied into backupDir,
// emptied and initialised again: stored batches are not carried across
// schema versions.
func EnsureSchema(db *sql.DB, backupDir string, log logger.Logger) error {
	found, err := GetSchemaVersion(db)
	if err != nil {
		return errors.New().Wrap(ErrSchemaValidationFailed, err)
	}

	switch found {
	case SchemaVersion:
		log.Debug().Int("version", found).Msg("Metrics schema is current")
		return nil
	case 0:
		log.Debug().Msg("Metrics database is empty")
	default:
		log.Warn().
			Int("found", found).
			Int("expected", SchemaVersion).
			Msg("Metrics schema version mismatch, recreating")
		if err := snapshot(db, backupDir, found, log); err != nil {
			return err
		}
	}

	if err := dropSchema(db); err != nil {
		return err
	}
	return InitSchema(db, log)
}

// snapshot copies the live database to backupDir with VACUUM INTO and keeps
// only the newest maxBackups copies.
func snapshot(db *sql.DB, backupDir string, version int, log logger.Logger) error {
	if err := os.MkdirAll(backupDir, defaultDirPerm); err != nil {
		return stepFailed(ErrSchemaMigrationFailed, "backup_dir", backupDir, err)
	}

	name := fmt.Sprintf("metrics_v%d_%s.db", version, time.Now().UTC().Format(backupTimestamp))
	path := filepath.Join(backupDir, name)
	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		return stepFailed(ErrSchemaMigrationFailed, "backup", path, err)
	}
	log.Info().Str("path", path).Int("version", version).Msg("Metrics database backed up")

	pruneBackups(backupDir, log)
	return nil
}

// pruneBackups removes the oldest backups beyond maxBackups. Failures only
// leave extra files behind, so they are logged and ignored.
func pruneBackups(backupDir string, log logger.Logger) {
	paths, err := filepath.Glob(filepath.Join(backupDir, backupPattern))
	if err != nil || len(paths) <= maxBackups {
		return
	}

	type backup struct {
		path    string
		modTime time.Time
	}
	backups := make([]backup, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		backups = append(backups, backup{path: p, modTime: info.ModTime()})
	}
	sort.Slice(backups, func(i, j int) bool {
		if !backups[i].modTime.Equal(backups[j].modTime) {
			return backups[i].modTime.After(backups[j].modTime)
		}
		return backups[i].path > backups[j].path
	})

	for _, b := range backups[min(maxBackups, len(backups)):] {
		if err := os.Remove(b.path); err != nil {
			log.Warn().Err(err).Str("path", b.path).Msg("Failed to remove old metrics backup")
			continue
		}
		log.Debug().Str("path", b.path).Msg("Removed old metrics backup")
	}
}

// dropSchema removes every table the schema owns, children first.
func dropSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return stepFailed(ErrSchemaMigrationFailed, "begin", "", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range schemaTables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return stepFailed(ErrSchemaMigrationFailed, "drop_table", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return stepFailed(ErrSchemaMigrationFailed, "commit", "", err)
	}
	return nil
}
