package transport

import (
	"context"
	"net/http"
	"sync"

	"codeberg.org/mutker/itrack/internal/errors"
	"codeberg.org/mutker/itrack/internal/logger"
)

// Queue is a bounded background sender. Payloads are queued and posted in
// order by a single worker; when the queue is full the payload is dropped.
type Queue struct {
	endpoint string
	client   *http.Client
	log      logger.Logger

	mu      sync.Mutex
	closed  bool
	pending chan []byte
	done    chan struct{}
	cancel  context.CancelFunc
	dropped int
}

func NewQueue(endpoint string, size int, client *http.Client, log logger.Logger) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		endpoint: endpoint,
		client:   client,
		log:      log,
		pending:  make(chan []byte, size),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	go q.worker(ctx)
	return q
}

func (q *Queue) Send(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.dropped++
		return
	}

	select {
	case q.pending <- payload:
	default:
		q.dropped++
		q.log.Debug().Int("dropped", q.dropped).Msg("Telemetry queue full, payload dropped")
	}
}

// Dropped returns how many payloads were discarded.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dropped
}

// Close stops accepting payloads and drains the queue until ctx is done.
// Requests still running at the deadline are aborted.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.pending)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}
}

func (q *Queue) worker(ctx context.Context) {
	defer close(q.done)

	for payload := range q.pending {
		if ctx.Err() != nil {
			continue
		}
		post(ctx, q.client, q.endpoint, payload, q.log)
	}
}
