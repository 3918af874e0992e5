package transport

import (
	"context"
	"net/http"
	"sync"

	"codeberg.org/mutker/itrack/internal/logger"
)

// Async posts each payload on its own goroutine. Requests are detached
// from any caller context and may outlive the collector that sent them.
type Async struct {
	endpoint string
	client   *http.Client
	log      logger.Logger
	inflight sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	dropped int
}

func NewAsync(endpoint string, client *http.Client, log logger.Logger) *Async {
	return &Async{endpoint: endpoint, client: client, log: log}
}

// Send starts a request for payload. Payloads sent after Close are dropped.
func (a *Async) Send(payload []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		a.dropped++
		return
	}

	a.inflight.Add(1)
	go func() {
		defer a.inflight.Done()
		post(context.Background(), a.client, a.endpoint, payload, a.log)
	}()
}

// Dropped returns how many payloads arrived after Close.
func (a *Async) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.dropped
}

// Close stops accepting payloads and waits for in-flight requests until
// ctx is done.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
