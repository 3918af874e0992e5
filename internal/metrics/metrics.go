// Package metrics stores received telemetry batches and the interaction
// metrics derived from them in SQLite.
package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopStore struct{}

func NewService(cfg Config, log logger.Logger) (Store, error) {
	errFactory := errors.New()

	if log == nil {
		log = logger.Nop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If storage is disabled, return a no-op store
	if !cfg.Enabled {
		log.Debug().Msg("Metrics storage disabled, using no-op store")
		return &noopStore{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create metrics repository")
		return nil, err
	}

	log.Debug().
		Str("db_path", cfg.DBPath).
		Bool("enabled", cfg.Enabled).
		Msg("Metrics service initialized successfully")

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) Record(ctx context.Context, batch *Batch) error {
	errFactory := errors.New()

	if batch == nil || batch.SessionID == "" {
		return errFactory.New(ErrInvalidBatch)
	}
	if batch.ReceivedAt.IsZero() {
		batch.ReceivedAt = time.Now()
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Record(batch); err != nil {
			return errFactory.Wrap(ErrStoreFailed, err)
		}
	}

	return nil
}

func (s *service) Query(ctx context.Context, sessionID string) ([]StoredMetric, error) {
	return s.repo.Query(ctx, sessionID)
}

func (s *service) Close() error {
	errFactory := errors.New()

	if err := s.repo.Close(); err != nil {
		return errFactory.Wrap(ErrServiceShutdown, err)
	}
	return nil
}

func (*service) Enabled() bool {
	return true
}

// No-op implementation
func (*noopStore) Record(_ context.Context, _ *Batch) error {
	return nil
}

func (*noopStore) Query(_ context.Context, _ string) ([]StoredMetric, error) {
	return nil, nil
}

func (*noopStore) Close() error {
	return nil
}

func (*noopStore) Enabled() bool {
	return false
}
