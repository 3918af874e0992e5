package metrics

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/logger"
	"codeberg.org/mutker/itrack/internal/telemetry"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db            *sql.DB
	logger        logger.Logger
	cfg           Config
	mu            sync.Mutex
	buffer        []*Batch
	closed        bool
	flushTicker   *time.Ticker
	shutdownChan  chan struct{}
	flushDoneChan chan struct{}
}

func NewRepository(cfg Config, log logger.Logger) (Repository, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_auto_vacuum=2&_busy_timeout=5000&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}

	if err := EnsureSchema(db, cfg.backupDir(), log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("Metrics repository initialized")

	repo := &repository{
		db:            db,
		logger:        log,
		cfg:           cfg,
		buffer:        make([]*Batch, 0, cfg.BatchSize),
		shutdownChan:  make(chan struct{}),
		flushDoneChan: make(chan struct{}),
	}

	if cfg.BatchTimeout > 0 {
		repo.flushTicker = time.NewTicker(cfg.BatchTimeout)
		go repo.flusher()
	} else {
		close(repo.flushDoneChan)
	}

	return repo, nil
}

func (r *repository) Record(batch *Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return errors.New().WithMessage(ErrStoreFailed, "repository is closed")
	}

	r.buffer = append(r.buffer, batch)
	r.trimBuffer()

	if len(r.buffer) < r.cfg.BatchSize {
		return nil
	}

	rejected, err := r.flush()
	if err != nil {
		return err
	}
	for _, b := range rejected {
		if b == batch {
			return errors.New().WithMessage(ErrStoreFailed, "batch rejected by database")
		}
	}
	return nil
}

// trimBuffer drops the oldest batches once failed transactions have left
// more than maxPendingBatches waiting. Callers hold r.mu.
func (r *repository) trimBuffer() {
	excess := len(r.buffer) - maxPendingBatches
	if excess <= 0 {
		return
	}
	r.logger.Warn().
		Int("dropped", excess).
		Int("pending", maxPendingBatches).
		Msg("Metrics buffer full, dropping oldest batches")
	r.buffer = append(r.buffer[:0], r.buffer[excess:]...)
}

// Query returns the metrics stored for a session in insertion order.
// Buffered batches are written first so reads observe every accepted
// upload.
func (r *repository) Query(ctx context.Context, sessionID string) ([]StoredMetric, error) {
	errFactory := errors.New()

	r.mu.Lock()
	if !r.closed {
		if _, err := r.flush(); err != nil {
			r.mu.Unlock()
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
	}
	r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, selectMetricsSQL, sessionID)
	if err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}
	defer rows.Close()

	var out []StoredMetric
	for rows.Next() {
		var (
			m       StoredMetric
			created int64
		)
		if err := rows.Scan(&m.SessionID, &m.QuestionID, &m.Key, &m.Value, &m.SampleSize, &created); err != nil {
			return nil, errFactory.Wrap(ErrQueryFailed, err)
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQueryFailed, err)
	}

	return out, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// Signal the flusher goroutine to stop and wait for its final flush
	close(r.shutdownChan)
	<-r.flushDoneChan

	if r.flushTicker == nil {
		r.mu.Lock()
		if _, err := r.flush(); err != nil {
			r.logger.Error().Err(err).Msg("Final flush failed")
		}
		r.mu.Unlock()
	}

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("Metrics repository closed gracefully")

	return nil
}

func (r *repository) flusher() {
	defer close(r.flushDoneChan)
	defer r.flushTicker.Stop()

	for {
		select {
		case <-r.flushTicker.C:
			r.mu.Lock()
			_, _ = r.flush()
			r.mu.Unlock()
		case <-r.shutdownChan:
			r.mu.Lock()
			if _, err := r.flush(); err != nil {
				r.logger.Error().Err(err).Msg("Final flush failed")
			}
			r.mu.Unlock()
			return
		}
	}
}

// flush writes all buffered batches in one transaction. Each batch runs
// under its own savepoint: a batch the database refuses is rolled back,
// dropped and returned, and the others are still committed. When the
// transaction itself fails the buffer is kept for the next attempt.
// Callers hold r.mu.
func (r *repository) flush() ([]*Batch, error) {
	if len(r.buffer) == 0 {
		return nil, nil
	}

	errFactory := errors.New()

	tx, err := r.db.Begin()
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to begin transaction")
		return nil, errFactory.Wrap(ErrTransactionFailed, err)
	}

	rollback := func() {
		if err := tx.Rollback(); err != nil {
			r.logger.Error().Err(err).Msg("Failed to roll back transaction")
		}
	}

	batchStmt, err := tx.Prepare(insertBatchSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		rollback()
		return nil, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer batchStmt.Close()

	metricStmt, err := tx.Prepare(insertMetricSQL)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to prepare statement")
		rollback()
		return nil, errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer metricStmt.Close()

	var (
		rejected []*Batch
		written  int
		metrics  int
	)
	for _, batch := range r.buffer {
		if _, err := tx.Exec("SAVEPOINT batch"); err != nil {
			rollback()
			return nil, errFactory.Wrap(ErrTransactionFailed, err)
		}

		if err := insertBatch(batchStmt, metricStmt, batch); err != nil {
			r.logger.Warn().
				Err(err).
				Str("session_id", batch.SessionID).
				Int("metrics", len(batch.Metrics)).
				Msg("Dropping batch rejected by database")
			if _, err := tx.Exec("ROLLBACK TO batch"); err != nil {
				rollback()
				return nil, errFactory.Wrap(ErrTransactionFailed, err)
			}
			rejected = append(rejected, batch)
		} else {
			written++
			metrics += len(batch.Metrics)
		}

		if _, err := tx.Exec("RELEASE batch"); err != nil {
			rollback()
			return nil, errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to commit transaction")
		return nil, errFactory.Wrap(ErrTransactionFailed, err)
	}

	r.logger.Debug().
		Int("batches", written).
		Int("rejected", len(rejected)).
		Int("metrics", metrics).
		Msg("Flushed metrics to database")
	r.buffer = r.buffer[:0]

	return rejected, nil
}

func insertBatch(batchStmt, metricStmt *sql.Stmt, batch *Batch) error {
	payload, err := telemetry.Encode(batch.Payload)
	if err != nil {
		return err
	}

	received := batch.ReceivedAt.UnixMilli()
	res, err := batchStmt.Exec(
		batch.SessionID,
		received,
		batch.Payload.StartTime,
		len(batch.Payload.Movements),
		len(batch.Payload.Interactions),
		len(batch.Payload.KeyboardEvents),
		string(payload),
	)
	if err != nil {
		return err
	}
	batchID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, m := range batch.Metrics {
		if _, err := metricStmt.Exec(
			batchID,
			batch.SessionID,
			m.QuestionID,
			m.Key,
			m.Value,
			m.SampleSize,
			received,
		); err != nil {
			return err
		}
	}
	return nil
}
