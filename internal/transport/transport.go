// Package transport delivers encoded telemetry payloads to the collection
// endpoint. Delivery is best effort: senders never block the caller,
// never retry, and report nothing back.
package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"codeberg.org/mutker/itrack/internal/config"
	"codeberg.org/mutker/itrack/internal/logger"
)

const contentType = "application/json"

// Sender hands a payload off for delivery and returns immediately.
type Sender interface {
	Send(payload []byte)
}

// Closer is implemented by senders that own background resources.
type Closer interface {
	Close(ctx context.Context) error
}

// New picks the most durable sender the configuration allows: the queued
// sender when enabled, otherwise a fire-and-forget async sender. The client
// keeps cookies, so a session cookie issued by the endpoint is sent back
// with later uploads.
func New(cfg config.TransportConfig, log logger.Logger) Sender {
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Timeout: cfg.Timeout, Jar: jar}
	if cfg.Queue {
		return NewQueue(cfg.Endpoint, cfg.QueueSize, client, log)
	}
	return NewAsync(cfg.Endpoint, client, log)
}

func post(ctx context.Context, client *http.Client, endpoint string, payload []byte, log logger.Logger) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("Failed to build telemetry request")
		return
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("Telemetry upload dropped")
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	log.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(payload)).
		Dur("elapsed", time.Since(start)).
		Msg("Telemetry uploaded")
}
