package metrics

import (
	"database/sql"

	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/logger"
)

const (
	SchemaVersion = 1

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS batches (
	       id              INTEGER PRIMARY KEY AUTOINCREMENT,
	       session_id      TEXT NOT NULL,
	       received_at     INTEGER NOT NULL,
	       start_time      REAL NOT NULL,
	       movements       INTEGER NOT NULL CHECK (movements >= 0),
	       interactions    INTEGER NOT NULL CHECK (interactions >= 0),
	       keyboard_events INTEGER NOT NULL CHECK (keyboard_events >= 0),
	       payload         TEXT NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_batches_session ON batches (session_id);
	   CREATE TABLE IF NOT EXISTS metrics (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       batch_id     INTEGER NOT NULL REFERENCES batches (id) ON DELETE CASCADE,
	       session_id   TEXT NOT NULL,
	       question_id  TEXT NOT NULL,
	       metric_key   TEXT NOT NULL,
	       metric_value REAL NOT NULL,
	       sample_size  INTEGER NOT NULL CHECK (sample_size >= 0),
	       created_at   INTEGER NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_metrics_session ON metrics (session_id, question_id);`

	insertBatchSQL = `
    INSERT INTO batches (
        session_id, received_at, start_time,
        movements, interactions, keyboard_events,
        payload
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertMetricSQL = `
    INSERT INTO metrics (
        batch_id, session_id, question_id,
        metric_key, metric_value, sample_size,
        created_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectMetricsSQL = `
    SELECT session_id, question_id, metric_key, metric_value, sample_size, created_at
    FROM metrics
    WHERE session_id = ?
    ORDER BY id`
)

var schemaTables = []string{"metrics", "batches", "schema_versions"}

// InitSchema creates a new database schema with the current version
func InitSchema(db *sql.DB, log logger.Logger) error {
	errFactory := errors.New()

	log.Debug().Msg("Creating database...")

	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				log.Debug().Err(err).Msg("Failed to rollback transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "create_tables",
		})
	}

	if _, err := tx.Exec(`
        INSERT INTO schema_versions (version, applied_at)
        VALUES (?, datetime('now'))
    `, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Error string
			Phase string
		}{
			Error: err.Error(),
			Phase: "record_version",
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	log.Info().
		Int("version", SchemaVersion).
		Msg("Schema initialized successfully")

	return nil
}

// GetSchemaVersion returns the current schema version, or 0 for an empty
// database.
func GetSchemaVersion(db *sql.DB) (int, error) {
	errFactory := errors.New()

	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(`
        SELECT version
        FROM schema_versions
        ORDER BY version DESC
        LIMIT 1
    `).Scan(&version)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Error string
		}{
			Phase: "get_version",
			Error: err.Error(),
		})
	}

	return version, nil
}

// TableExists checks if a table exists
func TableExists(db *sql.DB, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRow(`
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
