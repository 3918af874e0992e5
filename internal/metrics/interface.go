package metrics

import (
	"context"
	"time"

	"codeberg.org/mutker/itrack/internal/analysis"
	"codeberg.org/mutker/itrack/internal/telemetry"
)

// Store persists received telemetry batches and their derived metrics.
type Store interface {
	Record(ctx context.Context, batch *Batch) error
	Query(ctx context.Context, sessionID string) ([]StoredMetric, error)
	Close() error
	Enabled() bool
}

// Repository defines the interface for metrics data storage
type Repository interface {
	Record(batch *Batch) error
	Query(ctx context.Context, sessionID string) ([]StoredMetric, error)
	Close() error
}

// Batch is one accepted upload.
type Batch struct {
	SessionID  string
	ReceivedAt time.Time
	Payload    telemetry.Payload
	Metrics    []analysis.Metric
}

// StoredMetric is a metric row as read back from storage.
type StoredMetric struct {
	SessionID  string    `json:"sessionId"`
	QuestionID string    `json:"questionId"`
	Key        string    `json:"key"`
	Value      float64   `json:"value"`
	SampleSize int       `json:"sampleSize"`
	CreatedAt  time.Time `json:"createdAt"`
}
